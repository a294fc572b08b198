package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mitchellh/mapstructure"
)

// GenerateSchema derives an object input schema from the json and
// jsonschema tags of T. Fields without omitempty are required.
func GenerateSchema[T any]() mcp.ToolInputSchema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)

	// Round-trip through JSON to land in the mcp shape
	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("marshal schema for %T: %v", v, err))
	}
	var out mcp.ToolInputSchema
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("unmarshal schema for %T: %v", v, err))
	}
	if out.Type == "" {
		out.Type = "object"
	}
	if out.Properties == nil {
		out.Properties = map[string]interface{}{}
	}
	return out
}

// NewTool builds a Tool whose schema comes from In and whose handler
// receives the arguments decoded into In
func NewTool[In any](name, description string, fn func(ctx context.Context, in In) (interface{}, error)) Tool {
	return Tool{
		Spec: mcp.Tool{
			Name:        name,
			Description: description,
			InputSchema: GenerateSchema[In](),
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			var in In
			if err := DecodeArguments(args, &in); err != nil {
				return nil, err
			}
			return fn(ctx, in)
		},
	}
}

// DecodeArguments maps a validated argument object onto a typed struct
// using its json tags
func DecodeArguments(args map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		Result:      out,
		ErrorUnused: true,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(args); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return nil
}
