package tools

import (
	"github.com/effective-security/reagent/pkg/schema"
	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// InputSchema returns the JSON schema of the tool arguments
func (d *Descriptor) InputSchema() *jsonschema.Schema {
	props := orderedmap.New[string, *jsonschema.Schema]()
	var required []string
	for _, p := range d.Parameters {
		ps := &jsonschema.Schema{
			Description: p.Description,
			Enum:        p.Enum,
			Default:     p.Default,
		}
		if p.Type != TypeAny {
			ps.Type = string(p.Type)
		}
		props.Set(p.Name, ps)
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

// ParametersFromSchema returns parameters for the top level properties of the object schema
func ParametersFromSchema(s *jsonschema.Schema) []Parameter {
	var list []Parameter
	for _, prop := range schema.Properties(s) {
		list = append(list, Parameter{
			Name:        prop.Name,
			Type:        paramType(prop.Schema),
			Description: prop.Schema.Description,
			Required:    prop.Required,
			Enum:        prop.Schema.Enum,
			Default:     prop.Schema.Default,
		})
	}
	return list
}

func paramType(s *jsonschema.Schema) ParamType {
	switch t := ParamType(s.Type); t {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeObject, TypeArray:
		return t
	}
	return TypeAny
}
