package feed

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsList(t *testing.T) {
	assert.Nil(t, AsList(nil))
	assert.Equal(t, []any{"a"}, AsList("a"))
	assert.Equal(t, []any{"a", "b"}, AsList([]any{"a", "b"}))

	obj := map[string]any{"k": "v"}
	assert.Equal(t, []any{obj}, AsList(obj))
}

func TestAsObject(t *testing.T) {
	obj := map[string]any{"k": "v"}
	assert.Equal(t, obj, AsObject(obj))
	assert.Equal(t, obj, AsObject([]any{obj, map[string]any{}}))
	assert.Nil(t, AsObject([]any{}))
	assert.Nil(t, AsObject("text"))
	assert.Nil(t, AsObject(nil))
}

func TestText(t *testing.T) {
	tests := []struct {
		name     string
		in       any
		expected string
	}{
		{"plain string", "31", "31"},
		{"nil", nil, ""},
		{"list takes first", []any{"first", "second"}, "first"},
		{"empty list", []any{}, ""},
		{"value wrapper", map[string]any{"value": "Sentrum"}, "Sentrum"},
		{"text wrapper", map[string]any{"text": "Sentrum"}, "Sentrum"},
		{"value preferred over text", map[string]any{"text": "no", "value": "yes"}, "yes"},
		{"nested wrapping", []any{map[string]any{"value": []any{map[string]any{"text": "deep"}}}}, "deep"},
		{"wrapper without value or text", map[string]any{"lang": "no"}, ""},
		{"json number", json.Number("42"), "42"},
		{"float", 1.5, "1.5"},
		{"bool", true, "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Text(tt.in))
		})
	}
}

func TestNumber(t *testing.T) {
	tests := []struct {
		name     string
		in       any
		expected float64
		ok       bool
	}{
		{"json number", json.Number("59.91"), 59.91, true},
		{"float", 10.75, 10.75, true},
		{"numeric string", " 59.5 ", 59.5, true},
		{"wrapped", map[string]any{"value": "10.1"}, 10.1, true},
		{"list", []any{json.Number("3")}, 3, true},
		{"nil", nil, 0, false},
		{"empty string", "", 0, false},
		{"garbage", "north", 0, false},
		{"nan", "NaN", 0, false},
		{"infinity", "Inf", 0, false},
		{"bool", true, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := Number(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.expected, f, 1e-9)
		})
	}
}

func TestField(t *testing.T) {
	obj := map[string]any{
		"latitude":        1.0,
		"VehicleMode":     nil,
		"VehicleCategory": "bus",
	}

	assert.Equal(t, 1.0, Field(obj, "Latitude"), "case-insensitive fallback")
	assert.Equal(t, "bus", Field(obj, "VehicleMode", "VehicleCategory"), "nil values are skipped")
	assert.Nil(t, Field(obj, "Missing"))
	assert.Nil(t, Field(nil, "Latitude"))

	ambiguous := map[string]any{"latitude": 2.0, "LATITUDE": 1.0, "lAtItUdE": 3.0}
	for i := 0; i < 50; i++ {
		require.Equal(t, 1.0, Field(ambiguous, "Latitude"), "case-insensitive ties resolve the same way every time")
	}
	assert.Equal(t, 2.0, Field(ambiguous, "latitude"), "exact key wins")
}

func TestPath(t *testing.T) {
	root := map[string]any{
		"ServiceDelivery": []any{
			map[string]any{"VehicleMonitoringDelivery": map[string]any{"id": "a"}},
			map[string]any{"VehicleMonitoringDelivery": []any{map[string]any{"id": "b"}, map[string]any{"id": "c"}}},
		},
	}

	values := Path(root, "ServiceDelivery", "VehicleMonitoringDelivery")
	assert.Len(t, values, 3)
	assert.Nil(t, Path(root, "Siri", "ServiceDelivery"))
}

func TestFirstNonEmptyPath(t *testing.T) {
	root := map[string]any{
		"Siri":                      map[string]any{"ServiceDelivery": map[string]any{}},
		"VehicleMonitoringDelivery": map[string]any{"id": "bare"},
	}

	values := FirstNonEmptyPath(root,
		[]string{"Siri", "ServiceDelivery", "VehicleMonitoringDelivery"},
		[]string{"VehicleMonitoringDelivery"},
	)
	assert.Equal(t, []any{map[string]any{"id": "bare"}}, values)

	assert.Nil(t, FirstNonEmptyPath(root, []string{"Nope"}))
}
