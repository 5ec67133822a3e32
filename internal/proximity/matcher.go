package proximity

import (
	"math"
	"strings"

	"github.com/passbi/busrace/internal/models"
)

const (
	// EarthRadiusMeters is the mean radius used by Distance
	EarthRadiusMeters = 6371000
	// DefaultRadiusMeters bounds the nearby stop search
	DefaultRadiusMeters = 1000.0

	unknownDestination = "unknown destination"
)

// Distance returns the great-circle distance in meters (haversine)
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// Matcher attaches nearby stops and a destination stop to vehicles
type Matcher struct {
	RadiusMeters float64
}

// NewMatcher creates a matcher; a non-positive radius uses the default
func NewMatcher(radiusMeters float64) Matcher {
	if radiusMeters <= 0 {
		radiusMeters = DefaultRadiusMeters
	}
	return Matcher{RadiusMeters: radiusMeters}
}

// Enrich uses the default radius
func Enrich(vehicle models.Vehicle, allStops []models.Stop) models.EnrichedVehicle {
	return NewMatcher(DefaultRadiusMeters).Enrich(vehicle, allStops)
}

// EnrichAll enriches every vehicle, preserving order
func (m Matcher) EnrichAll(vehicles []models.Vehicle, allStops []models.Stop) []models.EnrichedVehicle {
	enriched := make([]models.EnrichedVehicle, 0, len(vehicles))
	for _, v := range vehicles {
		enriched = append(enriched, m.Enrich(v, allStops))
	}
	return enriched
}

// Enrich computes the stops within the radius of the vehicle and flags at
// most one of them as the destination. The destination is resolved by stop
// id, then by case-insensitive name, each searched among nearby stops
// before the full catalog; failing both, the first nearby stop is used.
// A destination outside the radius is appended to the nearby list.
func (m Matcher) Enrich(vehicle models.Vehicle, allStops []models.Stop) models.EnrichedVehicle {
	enriched := models.EnrichedVehicle{Vehicle: vehicle, NearbyStops: []models.NearbyStop{}}
	if !vehicle.HasPosition() {
		return enriched
	}

	lat, lon := *vehicle.Latitude, *vehicle.Longitude

	var nearby []models.Stop
	for _, stop := range allStops {
		if Distance(lat, lon, stop.Latitude, stop.Longitude) <= m.RadiusMeters {
			nearby = append(nearby, stop)
		}
	}

	destination, found := resolveDestination(vehicle, nearby, allStops)
	if found && !containsStop(nearby, destination.ID) {
		nearby = append(nearby, destination)
	}

	flagged := false
	for _, stop := range nearby {
		isDestination := found && !flagged && stop.ID == destination.ID
		if isDestination {
			flagged = true
		}
		enriched.NearbyStops = append(enriched.NearbyStops, models.NearbyStop{
			Stop:          stop,
			IsDestination: isDestination,
		})
	}
	return enriched
}

func resolveDestination(vehicle models.Vehicle, nearby, allStops []models.Stop) (models.Stop, bool) {
	if id := vehicle.DestinationStopID; id != "" {
		if s, ok := findByID(nearby, id); ok {
			return s, true
		}
		if s, ok := findByID(allStops, id); ok {
			return s, true
		}
	}

	name := strings.ToLower(vehicle.DestinationName)
	if name != "" && name != unknownDestination {
		if s, ok := findByName(nearby, name); ok {
			return s, true
		}
		if s, ok := findByName(allStops, name); ok {
			return s, true
		}
	}

	// Positional fallback: the first stop in catalog order, not the closest.
	if len(nearby) > 0 {
		return nearby[0], true
	}
	return models.Stop{}, false
}

func findByID(stops []models.Stop, id string) (models.Stop, bool) {
	for _, s := range stops {
		if s.ID == id {
			return s, true
		}
	}
	return models.Stop{}, false
}

func findByName(stops []models.Stop, lowerName string) (models.Stop, bool) {
	for _, s := range stops {
		if strings.ToLower(s.Name) == lowerName {
			return s, true
		}
	}
	return models.Stop{}, false
}

func containsStop(stops []models.Stop, id string) bool {
	_, ok := findByID(stops, id)
	return ok
}
