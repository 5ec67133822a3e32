package feed

import (
	"fmt"
	"strings"

	"github.com/passbi/busrace/internal/models"
)

const (
	UnknownLine        = "Unknown line"
	UnknownDestination = "Unknown destination"
	UnknownStop        = "Unknown stop"
)

// deliveryPaths are tried in order; the most wrapped envelope wins
var deliveryPaths = [][]string{
	{"Siri", "ServiceDelivery", "VehicleMonitoringDelivery"},
	{"ServiceDelivery", "VehicleMonitoringDelivery"},
	{"VehicleMonitoringDelivery"},
}

// ExtractBuses flattens a vehicle-monitoring delivery into bus records.
// Activities without a journey or with a non-bus mode are skipped. Output
// order follows the activity order in the payload.
func ExtractBuses(payload any) []models.Vehicle {
	deliveries := FirstNonEmptyPath(payload, deliveryPaths...)

	var activities []any
	for _, delivery := range deliveries {
		obj, ok := delivery.(map[string]any)
		if !ok {
			continue
		}
		activities = append(activities, AsList(Field(obj, "VehicleActivity"))...)
	}

	buses := make([]models.Vehicle, 0, len(activities))
	for index, activity := range activities {
		if bus, ok := extractVehicle(activity, index); ok {
			buses = append(buses, bus)
		}
	}
	return buses
}

func extractVehicle(raw any, index int) (models.Vehicle, bool) {
	activity := AsObject(raw)
	journey := AsObject(Field(activity, "MonitoredVehicleJourney"))
	if journey == nil {
		return models.Vehicle{}, false
	}

	mode := strings.ToLower(Text(Field(journey, "VehicleMode", "VehicleCategory")))
	if mode != "" && !strings.Contains(mode, "bus") {
		return models.Vehicle{}, false
	}

	vehicle := models.Vehicle{}

	location := AsObject(Field(journey, "VehicleLocation"))
	if lat, ok := Number(Field(location, "Latitude")); ok {
		vehicle.Latitude = &lat
	}
	if lon, ok := Number(Field(location, "Longitude")); ok {
		vehicle.Longitude = &lon
	}

	vehicle.LineName = orDefault(
		FirstText(journey, "LineName", "PublishedLineName", "LineRef", "VehicleRef"),
		UnknownLine,
	)

	vehicle.DestinationStopID = Text(Field(journey, "DestinationRef"))
	vehicle.DestinationName = orDefault(
		FirstText(journey, "DestinationName", "DestinationRef"),
		UnknownDestination,
	)

	call := AsObject(Field(journey, "MonitoredCall"))
	vehicle.CurrentStopName = orDefault(
		FirstText(call, "StopPointName", "StopPointRef"),
		UnknownStop,
	)

	vehicle.ID = Text(Field(journey, "VehicleRef"))
	if vehicle.ID == "" {
		vehicle.ID = Text(Field(activity, "ItemIdentifier"))
	}
	if vehicle.ID == "" {
		vehicle.ID = fmt.Sprintf("%s-%d", vehicle.LineName, index)
	}

	return vehicle, true
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
