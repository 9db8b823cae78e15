package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	"github.com/cockroachdb/errors"
)

// PrepareArguments returns a copy of args with defaults applied,
// or ErrInvalidArgument if args do not satisfy the descriptor.
// The input map is never modified.
func PrepareArguments(desc Descriptor, args map[string]any) (map[string]any, error) {
	res := make(map[string]any, len(args)+len(desc.Parameters))
	for k, v := range args {
		res[k] = v
	}
	for _, p := range desc.Parameters {
		if _, ok := res[p.Name]; !ok && p.Default != nil {
			res[p.Name] = p.Default
		}
	}
	if err := ValidateArguments(desc, res); err != nil {
		return nil, err
	}
	return res, nil
}

// ValidateArguments checks required presence, declared types and enums.
// Arguments not declared by the descriptor are accepted.
func ValidateArguments(desc Descriptor, args map[string]any) error {
	for _, p := range desc.Parameters {
		v, ok := args[p.Name]
		if !ok {
			if p.Required {
				return errors.Wrapf(ErrInvalidArgument, "missing required argument %q", p.Name)
			}
			continue
		}
		if err := checkValue(p, v); err != nil {
			return errors.Wrap(ErrInvalidArgument, err.Error())
		}
	}
	return nil
}

func checkValue(p Parameter, v any) error {
	if v == nil {
		if p.Required {
			return errors.Newf("argument %q must not be null", p.Name)
		}
		return nil
	}
	if !matchesType(p.Type, v) {
		return errors.Newf("argument %q must be %s, got %s", p.Name, p.Type, typeName(v))
	}
	if len(p.Enum) > 0 && !inEnum(p.Enum, v) {
		return errors.Newf("argument %q must be one of %v, got %v", p.Name, p.Enum, v)
	}
	return nil
}

func matchesType(t ParamType, v any) bool {
	switch t {
	case TypeAny, "":
		return true
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeNumber:
		_, ok := toFloat(v)
		return ok
	case TypeInteger:
		if n, ok := v.(json.Number); ok {
			_, err := n.Int64()
			return err == nil
		}
		f, ok := toFloat(v)
		return ok && !math.IsInf(f, 0) && f == math.Trunc(f)
	case TypeObject:
		k := reflect.ValueOf(v).Kind()
		return k == reflect.Map || k == reflect.Struct ||
			(k == reflect.Pointer && reflect.ValueOf(v).Elem().Kind() == reflect.Struct)
	case TypeArray:
		k := reflect.ValueOf(v).Kind()
		return k == reflect.Slice || k == reflect.Array
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func inEnum(enum []any, v any) bool {
	vf, vIsNum := toFloat(v)
	for _, e := range enum {
		if vIsNum {
			if ef, ok := toFloat(e); ok && ef == vf {
				return true
			}
			continue
		}
		if reflect.DeepEqual(e, v) {
			return true
		}
	}
	return false
}

func typeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	if _, ok := toFloat(v); ok {
		return "number"
	}
	return fmt.Sprintf("%T", v)
}
