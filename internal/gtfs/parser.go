package gtfs

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/passbi/busrace/internal/logger"
	"github.com/passbi/busrace/internal/models"
)

// StopsFile is the GTFS member holding stops
const StopsFile = "stops.txt"

// ParseStopsZip reads stops.txt from a GTFS ZIP file
func ParseStopsZip(zipPath string, log logger.Logger) ([]models.Stop, error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open zip: %w", err)
	}
	defer reader.Close()

	for _, file := range reader.File {
		if file.FileInfo().IsDir() || path.Base(file.Name) != StopsFile {
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()

		return ParseStops(rc, log)
	}

	return nil, fmt.Errorf("failed to parse stops (required): %s not found in %s", StopsFile, zipPath)
}

// ParseStops parses a GTFS stops.txt. Columns are located by header name,
// so extra or reordered columns are fine.
func ParseStops(reader io.Reader, log logger.Logger) ([]models.Stop, error) {
	if log == nil {
		log = logger.Nop()
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	header, err := csvReader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colMap := makeColumnMap(header)
	var stops []models.Stop

	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn("Skipping malformed stop row", "error", err)
			continue
		}

		stopID := getField(record, colMap, "stop_id")
		stopName := getField(record, colMap, "stop_name")
		latStr := getField(record, colMap, "stop_lat")
		lonStr := getField(record, colMap, "stop_lon")

		// Skip stops without required fields
		if stopID == "" || latStr == "" || lonStr == "" {
			log.Debug("Skipping stop with missing required fields", "stop_id", stopID)
			continue
		}

		lat, err := strconv.ParseFloat(latStr, 64)
		if err != nil {
			log.Warn("Invalid latitude", "stop_id", stopID, "error", err)
			continue
		}

		lon, err := strconv.ParseFloat(lonStr, 64)
		if err != nil {
			log.Warn("Invalid longitude", "stop_id", stopID, "error", err)
			continue
		}

		stops = append(stops, models.Stop{
			ID:        stopID,
			Name:      stopName,
			Latitude:  lat,
			Longitude: lon,
		})
	}

	return ValidateAndCleanStops(stops, log), nil
}

// ValidateAndCleanStops removes stops with out-of-range or null island
// coordinates
func ValidateAndCleanStops(stops []models.Stop, log logger.Logger) []models.Stop {
	if log == nil {
		log = logger.Nop()
	}
	cleaned := []models.Stop{}

	for _, stop := range stops {
		if stop.Latitude < -90 || stop.Latitude > 90 {
			log.Debug("Invalid latitude", "stop_id", stop.ID, "lat", stop.Latitude)
			continue
		}
		if stop.Longitude < -180 || stop.Longitude > 180 {
			log.Debug("Invalid longitude", "stop_id", stop.ID, "lon", stop.Longitude)
			continue
		}
		if stop.Latitude == 0 && stop.Longitude == 0 {
			log.Debug("Stop has null island coordinates, skipping", "stop_id", stop.ID)
			continue
		}

		cleaned = append(cleaned, stop)
	}

	if len(cleaned) < len(stops) {
		log.Info("Cleaned stops", "removed", len(stops)-len(cleaned))
	}

	return cleaned
}

// Helper functions

func makeColumnMap(header []string) map[string]int {
	colMap := make(map[string]int)
	for i, col := range header {
		// stops.txt is often written with a UTF-8 BOM
		colMap[strings.TrimPrefix(strings.TrimSpace(col), "\ufeff")] = i
	}
	return colMap
}

func getField(record []string, colMap map[string]int, fieldName string) string {
	if idx, ok := colMap[fieldName]; ok && idx < len(record) {
		return strings.TrimSpace(record[idx])
	}
	return ""
}
