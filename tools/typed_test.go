package tools_test

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/reagent/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type weatherRequest struct {
	Location string `json:"location" validate:"required" jsonschema:"description=City name"`
	Unit     string `json:"unit,omitempty" jsonschema:"description=Unit of measurement,enum=celsius,enum=fahrenheit"`
}

type weatherResponse struct {
	Location    string  `json:"location"`
	Temperature float64 `json:"temperature"`
	Unit        string  `json:"unit"`
}

func getWeather(_ context.Context, in *weatherRequest) (*weatherResponse, error) {
	if in.Location == "Atlantis" {
		return nil, errors.New("location is under water")
	}
	unit := in.Unit
	if unit == "" {
		unit = "celsius"
	}
	return &weatherResponse{Location: in.Location, Temperature: 21.5, Unit: unit}, nil
}

func TestTyped(t *testing.T) {
	t.Parallel()

	reg := tools.NewRegistry()
	require.NoError(t, tools.RegisterTyped(reg, "weather", "current weather", getWeather))

	desc, h, ok := reg.Lookup("weather")
	require.True(t, ok)
	assert.Equal(t, tools.Local, h.Kind())
	assert.Equal(t, []tools.Parameter{
		{Name: "location", Type: tools.TypeString, Description: "City name", Required: true},
		{Name: "unit", Type: tools.TypeString, Description: "Unit of measurement", Enum: []any{"celsius", "fahrenheit"}},
	}, desc.Parameters)

	inv := tools.NewInvoker()
	ctx := context.Background()

	res := inv.Call(ctx, reg, tools.Call{Name: "weather", Arguments: map[string]any{"location": "Paris"}})
	require.True(t, res.OK, res.ErrorMessage)
	assert.Equal(t, &weatherResponse{Location: "Paris", Temperature: 21.5, Unit: "celsius"}, res.Value)
	assert.Equal(t, `{"location":"Paris","temperature":21.5,"unit":"celsius"}`, res.Observation())

	res = inv.Call(ctx, reg, tools.Call{Name: "weather", Arguments: map[string]any{"location": "Paris", "unit": "kelvin"}})
	assert.Equal(t, tools.ErrorKindInvalidArgument, res.ErrorKind)

	res = inv.Call(ctx, reg, tools.Call{Name: "weather", Arguments: map[string]any{"location": "Atlantis"}})
	assert.Equal(t, tools.ErrorKindToolFailure, res.ErrorKind)
	assert.Equal(t, "location is under water", res.ErrorMessage)

	// struct validation runs after decoding
	res = inv.Invoke(ctx, tools.Descriptor{Name: "weather"}, h, map[string]any{"location": ""})
	assert.Equal(t, tools.ErrorKindInvalidArgument, res.ErrorKind)

	err := tools.RegisterTyped(reg, "weather", "again", getWeather)
	assert.True(t, errors.Is(err, tools.ErrDuplicateTool))
}

func TestTypedNotStruct(t *testing.T) {
	t.Parallel()

	_, _, err := tools.NewTyped("bad", "input is not a struct", func(_ context.Context, in *string) (*string, error) {
		return in, nil
	})
	assert.Error(t, err)
}
