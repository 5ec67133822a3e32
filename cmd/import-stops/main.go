package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/passbi/busrace/internal/catalog"
	"github.com/passbi/busrace/internal/db"
	"github.com/passbi/busrace/internal/gtfs"
	"github.com/passbi/busrace/internal/logger"
	"github.com/passbi/busrace/internal/models"
)

func main() {
	// Command-line flags
	filePath := flag.String("file", "", "Path to the stop catalog CSV file")
	gtfsPath := flag.String("gtfs", "", "Path to a GTFS ZIP file; stops.txt is imported")
	createTable := flag.Bool("create-table", true, "Create the stop table if it does not exist")
	logLevel := flag.String("log-level", "info", "Log level")

	flag.Parse()

	log := logger.New(logger.Config{Level: *logLevel})

	// Validate required flags
	if (*filePath == "") == (*gtfsPath == "") {
		fmt.Println("Usage: import-stops (--file=<stops.csv> | --gtfs=<feed.zip>) [--create-table=true]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	input := *filePath
	parse := catalog.ParseStopsFile
	if *gtfsPath != "" {
		input = *gtfsPath
		parse = func(p string) ([]models.Stop, error) { return gtfs.ParseStopsZip(p, log) }
	}

	// Validate file exists
	if _, err := os.Stat(input); os.IsNotExist(err) {
		log.Fatal("Stop file not found", "file", input)
	}

	_ = godotenv.Load()

	log.Info("Starting stop import...", "file", input)

	ctx := context.Background()

	pool, err := db.NewPool(ctx, db.LoadConfigFromEnv())
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}
	defer pool.Close()

	n, err := runImport(ctx, pool, input, parse, *createTable, log)
	if err != nil {
		pool.Close()
		log.Fatal("Import failed", "error", err)
	}

	log.Info("Import completed successfully!", "stops", n)
}

func runImport(ctx context.Context, pool *pgxpool.Pool, filePath string, parse func(string) ([]models.Stop, error), createTable bool, log logger.Logger) (int, error) {
	startTime := time.Now()

	log.Info("Step 1/3: Parsing stop file...")
	stops, err := parse(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to parse stops: %w", err)
	}
	log.Info("Parsed stops", "count", len(stops))

	// Begin transaction
	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if createTable {
		log.Info("Step 2/3: Ensuring stop table exists...")
		if err := catalog.EnsureSchema(ctx, tx); err != nil {
			return 0, err
		}
	} else {
		log.Info("Step 2/3: Skipping table creation")
	}

	log.Info("Step 3/3: Upserting stops...")
	if err := catalog.UpsertStops(ctx, tx, stops); err != nil {
		return 0, fmt.Errorf("failed to import stops: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info("Import finished", "duration", time.Since(startTime).String())
	return len(stops), nil
}
