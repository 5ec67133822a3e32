package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateEventJSON(t *testing.T) {
	at := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		ev   UpdateEvent
		want string
	}{
		{
			name: "error only",
			ev:   UpdateEvent{Operator: "AKT", Error: "Entur request failed."},
			want: `{"error":"Entur request failed."}`,
		},
		{
			name: "no buses is an empty list",
			ev:   UpdateEvent{Operator: "AKT", UpdatedAt: at},
			want: `{"operator":"AKT","availableBuses":[],"updatedAt":"2026-10-17T12:00:00Z"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := json.Marshal(tt.ev)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(out))
		})
	}
}

func TestEnrichedVehicleJSON(t *testing.T) {
	lat, lon := 59.91, 10.75
	v := EnrichedVehicle{
		Vehicle: Vehicle{ID: "AKT:Vehicle:1", LineName: "M1", CurrentStopName: "Unknown stop", DestinationName: "Main St", Latitude: &lat, Longitude: &lon},
		NearbyStops: []NearbyStop{
			{Stop: Stop{ID: "NSR:Quay:123", Name: "Main St", Latitude: 59.91, Longitude: 10.75}, IsDestination: true},
		},
	}

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "AKT:Vehicle:1",
		"name": "M1",
		"currentStop": "Unknown stop",
		"destination": "Main St",
		"latitude": 59.91,
		"longitude": 10.75,
		"nearbyStops": [{"id": "NSR:Quay:123", "name": "Main St", "latitude": 59.91, "longitude": 10.75, "isDestination": true}]
	}`, string(out))

	dest, ok := v.Destination()
	require.True(t, ok)
	assert.Equal(t, "NSR:Quay:123", dest.ID)
	assert.True(t, v.HasPosition())

	v.Latitude = nil
	assert.False(t, v.HasPosition())
	out, err = json.Marshal(v.Vehicle)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"latitude":null`)
}
