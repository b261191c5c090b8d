package app

import (
	"reflect"

	"commodity-desk/internal/core"

	"github.com/invopop/jsonschema"
	"github.com/shopspring/decimal"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const decimalPattern = `^[0-9]+(\.[0-9]+)?$`

var decimalType = reflect.TypeOf(decimal.Decimal{})

func decimalSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		AnyOf: []*jsonschema.Schema{
			{Type: "string", Pattern: decimalPattern},
			{Type: "number", Minimum: "0"},
		},
	}
}

// OverrideRequestSchema describes the override request body. The overrides object
// lists exactly the fields an operator may replace.
func OverrideRequestSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == decimalType {
				return decimalSchema()
			}
			return nil
		},
	}
	schema := reflector.Reflect(&OverrideRequest{})

	if overrides, ok := schema.Properties.Get("overrides"); ok {
		props := orderedmap.New[string, *jsonschema.Schema]()
		for _, name := range core.OverridableFields() {
			props.Set(name, decimalSchema())
		}
		overrides.Type = "object"
		overrides.Properties = props
		overrides.PatternProperties = nil
		overrides.AdditionalProperties = jsonschema.FalseSchema
	}
	return schema
}
