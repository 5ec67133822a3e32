package catalog

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/passbi/busrace/internal/models"
)

// Delimiter separates the fields of a stop catalog row
const Delimiter = ','

// ParseStopsFile parses a stop catalog file (id,name,lat,lon with a header row)
func ParseStopsFile(filePath string) ([]models.Stop, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open stop catalog: %w", err)
	}
	defer file.Close()

	return ParseStops(file)
}

// ParseStops reads stop rows from r. The first line is a header and is
// skipped. Rows with fewer than four fields or a non-finite coordinate are
// dropped; only a read failure of the underlying stream is an error.
func ParseStops(r io.Reader) ([]models.Stop, error) {
	csvReader := csv.NewReader(r)
	csvReader.Comma = Delimiter
	csvReader.FieldsPerRecord = -1
	csvReader.LazyQuotes = true
	csvReader.TrimLeadingSpace = true

	if _, err := csvReader.Read(); err != nil {
		if err == io.EOF {
			return []models.Stop{}, nil
		}
		if _, ok := err.(*csv.ParseError); !ok {
			return nil, fmt.Errorf("failed to read header: %w", err)
		}
	}

	stops := []models.Stop{}
	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			if _, ok := err.(*csv.ParseError); ok {
				continue
			}
			return nil, fmt.Errorf("failed to read stop catalog: %w", err)
		}

		stop, ok := parseStopRecord(record)
		if !ok {
			continue
		}
		stops = append(stops, stop)
	}

	return stops, nil
}

func parseStopRecord(record []string) (models.Stop, bool) {
	if len(record) < 4 {
		return models.Stop{}, false
	}

	lat, ok := parseCoordinate(record[2])
	if !ok {
		return models.Stop{}, false
	}
	lon, ok := parseCoordinate(record[3])
	if !ok {
		return models.Stop{}, false
	}

	return models.Stop{
		ID:        strings.TrimSpace(record[0]),
		Name:      strings.TrimSpace(record[1]),
		Latitude:  lat,
		Longitude: lon,
	}, true
}

func parseCoordinate(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
