package models

import (
	"encoding/json"
	"time"
)

// Stop represents a physical stop from the stop catalog
type Stop struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NearbyStop is a catalog stop attached to a vehicle, flagged when it is
// the vehicle's resolved destination
type NearbyStop struct {
	Stop
	IsDestination bool `json:"isDestination"`
}

// Vehicle is one bus extracted from the upstream vehicle-monitoring feed.
// Latitude and Longitude are nil when the feed carries no usable position.
type Vehicle struct {
	ID                string   `json:"id"`
	LineName          string   `json:"name"`
	CurrentStopName   string   `json:"currentStop"`
	DestinationName   string   `json:"destination"`
	DestinationStopID string   `json:"destinationStopId,omitempty"`
	Latitude          *float64 `json:"latitude"`
	Longitude         *float64 `json:"longitude"`
}

// HasPosition reports whether both coordinates are known
func (v Vehicle) HasPosition() bool {
	return v.Latitude != nil && v.Longitude != nil
}

// EnrichedVehicle is a Vehicle with the stops around its current position
type EnrichedVehicle struct {
	Vehicle
	NearbyStops []NearbyStop `json:"nearbyStops"`
}

// Destination returns the stop flagged as destination, if any
func (e EnrichedVehicle) Destination() (NearbyStop, bool) {
	for _, s := range e.NearbyStops {
		if s.IsDestination {
			return s, true
		}
	}
	return NearbyStop{}, false
}

// Snapshot is the latest enriched result for one operator
type Snapshot struct {
	Operator       string            `json:"operator"`
	AvailableBuses []EnrichedVehicle `json:"availableBuses"`
	FetchedAt      time.Time         `json:"fetchedAt"`
}

// BusesResponse is the one-shot /buses payload
type BusesResponse struct {
	Operator       string            `json:"operator"`
	AvailableBuses []EnrichedVehicle `json:"availableBuses"`
	UpdatedAt      time.Time         `json:"updatedAt"`
	Refreshing     bool              `json:"refreshing"`
	Source         string            `json:"source"`
}

// UpdateEvent is one push to a streaming subscriber. A non-empty Error
// means the refresh failed and the other fields are not encoded.
type UpdateEvent struct {
	Operator       string
	AvailableBuses []EnrichedVehicle
	UpdatedAt      time.Time
	Error          string
}

// IsError reports whether the event carries a failure
func (e UpdateEvent) IsError() bool {
	return e.Error != ""
}

func (e UpdateEvent) MarshalJSON() ([]byte, error) {
	if e.IsError() {
		return json.Marshal(struct {
			Error string `json:"error"`
		}{e.Error})
	}
	buses := e.AvailableBuses
	if buses == nil {
		buses = []EnrichedVehicle{}
	}
	return json.Marshal(struct {
		Operator       string            `json:"operator"`
		AvailableBuses []EnrichedVehicle `json:"availableBuses"`
		UpdatedAt      time.Time         `json:"updatedAt"`
	}{e.Operator, buses, e.UpdatedAt})
}
