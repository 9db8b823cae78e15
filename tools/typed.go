package tools

import (
	"context"
	"encoding/json"
	"reflect"

	"github.com/bububa/ljson"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/reagent/pkg/schema"
)

// TypedFunc is a tool implemented with typed input and output
type TypedFunc[I any, O any] func(ctx context.Context, in *I) (*O, error)

// NewTyped returns descriptor and handle for a typed function,
// the parameters are reflected from the input struct.
func NewTyped[I any, O any](name, description string, fn TypedFunc[I, O]) (Descriptor, Handle, error) {
	sc, err := schema.New(reflect.TypeFor[I]())
	if err != nil {
		return Descriptor{}, nil, errors.WithMessagef(err, "tool %q", name)
	}
	desc := Descriptor{
		Name:        name,
		Description: description,
		Parameters:  ParametersFromSchema(sc.Parameters),
	}

	h := NewLocalHandle(func(ctx context.Context, args map[string]any) (any, error) {
		js, err := json.Marshal(args)
		if err != nil {
			return nil, errors.Wrap(ErrFailedUnmarshalInput, err.Error())
		}
		in := new(I)
		if err := ljson.Unmarshal(js, in); err != nil {
			return nil, errors.Wrap(ErrFailedUnmarshalInput, err.Error())
		}
		if err := validate.Struct(in); err != nil {
			return nil, errors.Wrap(ErrInvalidArgument, err.Error())
		}
		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		return out, nil
	})
	return desc, h, nil
}

// RegisterTyped adds a typed function to the registry
func RegisterTyped[I any, O any](r *Registry, name, description string, fn TypedFunc[I, O]) error {
	desc, h, err := NewTyped(name, description, fn)
	if err != nil {
		return err
	}
	return r.Register(desc, h)
}
