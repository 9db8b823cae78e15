package tools_test

import (
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/reagent/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var calcDescriptor = tools.Descriptor{
	Name:        "calculator",
	Description: "basic arithmetic",
	Parameters: []tools.Parameter{
		{Name: "a", Type: tools.TypeNumber, Required: true},
		{Name: "b", Type: tools.TypeNumber, Required: true},
		{Name: "op", Type: tools.TypeString, Enum: []any{"add", "sub", "mul", "div"}, Default: "add"},
	},
}

func TestValidateArguments(t *testing.T) {
	t.Parallel()

	desc := tools.Descriptor{
		Name: "typed",
		Parameters: []tools.Parameter{
			{Name: "s", Type: tools.TypeString},
			{Name: "n", Type: tools.TypeNumber},
			{Name: "i", Type: tools.TypeInteger},
			{Name: "b", Type: tools.TypeBoolean},
			{Name: "o", Type: tools.TypeObject},
			{Name: "a", Type: tools.TypeArray},
			{Name: "x", Type: tools.TypeAny},
			{Name: "level", Type: tools.TypeInteger, Enum: []any{1, 2, 3}},
		},
	}

	tcases := []struct {
		name string
		args map[string]any
		err  string
	}{
		{name: "empty", args: nil},
		{name: "string", args: map[string]any{"s": "v"}},
		{name: "string bad", args: map[string]any{"s": 1}, err: `argument "s" must be string, got number`},
		{name: "number float", args: map[string]any{"n": 1.5}},
		{name: "number int", args: map[string]any{"n": 2}},
		{name: "number json", args: map[string]any{"n": json.Number("2.5")}},
		{name: "number bad", args: map[string]any{"n": "2"}, err: `argument "n" must be number, got string`},
		{name: "integer float", args: map[string]any{"i": float64(3)}},
		{name: "integer fraction", args: map[string]any{"i": 3.2}, err: `argument "i" must be integer`},
		{name: "integer json", args: map[string]any{"i": json.Number("7")}},
		{name: "integer json fraction", args: map[string]any{"i": json.Number("7.5")}, err: `argument "i" must be integer`},
		{name: "bool", args: map[string]any{"b": false}},
		{name: "bool bad", args: map[string]any{"b": "false"}, err: `argument "b" must be boolean, got string`},
		{name: "object", args: map[string]any{"o": map[string]any{"k": 1}}},
		{name: "object struct", args: map[string]any{"o": struct{ K int }{1}}},
		{name: "object bad", args: map[string]any{"o": []any{1}}, err: `argument "o" must be object, got array`},
		{name: "array", args: map[string]any{"a": []any{1, "2"}}},
		{name: "array typed", args: map[string]any{"a": []string{"x"}}},
		{name: "array bad", args: map[string]any{"a": map[string]any{}}, err: `argument "a" must be array, got object`},
		{name: "any", args: map[string]any{"x": []any{map[string]any{}}}},
		{name: "null optional", args: map[string]any{"s": nil}},
		{name: "enum", args: map[string]any{"level": float64(2)}},
		{name: "enum bad", args: map[string]any{"level": 4}, err: `argument "level" must be one of [1 2 3], got 4`},
		{name: "undeclared", args: map[string]any{"extra": true}},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			err := tools.ValidateArguments(desc, tc.args)
			if tc.err == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, tools.ErrInvalidArgument))
			assert.Contains(t, err.Error(), tc.err)
		})
	}
}

func TestValidateArgumentsRequired(t *testing.T) {
	t.Parallel()

	err := tools.ValidateArguments(calcDescriptor, map[string]any{"a": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing required argument "b"`)

	err = tools.ValidateArguments(calcDescriptor, map[string]any{"a": 1, "b": nil})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `argument "b" must not be null`)

	err = tools.ValidateArguments(calcDescriptor, map[string]any{"a": 1, "b": 2, "op": "pow"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `argument "op" must be one of [add sub mul div], got pow`)
}

func TestPrepareArguments(t *testing.T) {
	t.Parallel()

	args := map[string]any{"a": 5, "b": 3}
	got, err := tools.PrepareArguments(calcDescriptor, args)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 5, "b": 3, "op": "add"}, got)
	// input is not modified
	assert.Equal(t, map[string]any{"a": 5, "b": 3}, args)

	got, err = tools.PrepareArguments(calcDescriptor, map[string]any{"a": 5, "b": 3, "op": "mul"})
	require.NoError(t, err)
	assert.Equal(t, "mul", got["op"])

	_, err = tools.PrepareArguments(calcDescriptor, map[string]any{"a": "5"})
	assert.True(t, errors.Is(err, tools.ErrInvalidArgument))
}

func TestInputSchema(t *testing.T) {
	t.Parallel()

	sc := calcDescriptor.InputSchema()
	assert.Equal(t, "object", sc.Type)
	assert.Equal(t, []string{"a", "b"}, sc.Required)

	params := tools.ParametersFromSchema(sc)
	assert.Equal(t, calcDescriptor.Parameters, params)

	js, err := json.Marshal(sc)
	require.NoError(t, err)
	assert.Equal(t,
		`{"properties":{"a":{"type":"number"},"b":{"type":"number"},"op":{"type":"string","enum":["add","sub","mul","div"],"default":"add"}},"type":"object","required":["a","b"]}`,
		string(js))
}
