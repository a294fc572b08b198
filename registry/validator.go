package registry

import (
	"fmt"
	"math"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
)

// validateArguments checks args against a tool's input schema: every required
// key present, no unknown keys, and primitive types and enums respected
func validateArguments(args map[string]interface{}, schema mcp.ToolInputSchema) error {
	for _, required := range schema.Required {
		if _, ok := args[required]; !ok {
			return fmt.Errorf("missing required field: %s", required)
		}
	}

	// Sorted so the first reported problem is deterministic
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		raw, ok := schema.Properties[name]
		if !ok {
			return fmt.Errorf("unknown property: %s", name)
		}

		propSchema, ok := raw.(map[string]interface{})
		if !ok {
			return fmt.Errorf("invalid property schema for %s", name)
		}

		value := args[name]
		if propType, ok := propSchema["type"].(string); ok {
			if err := validateType(value, propType); err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
		}

		if enum, ok := propSchema["enum"].([]interface{}); ok {
			if !inEnum(value, enum) {
				return fmt.Errorf("invalid value for %s: %v is not one of %v", name, value, enum)
			}
		}
	}

	return nil
}

// validateType validates a value against a JSON Schema type
func validateType(value interface{}, expectedType string) error {
	switch expectedType {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
	case "number":
		switch value.(type) {
		case float64, float32, int, int64, int32:
		default:
			return fmt.Errorf("expected number, got %T", value)
		}
	case "integer":
		switch v := value.(type) {
		case int, int64, int32:
		case float64:
			if v != math.Trunc(v) {
				return fmt.Errorf("expected integer, got %v", v)
			}
		default:
			return fmt.Errorf("expected integer, got %T", value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", value)
		}
	case "object":
		if _, ok := value.(map[string]interface{}); !ok {
			return fmt.Errorf("expected object, got %T", value)
		}
	case "array":
		if _, ok := value.([]interface{}); !ok {
			return fmt.Errorf("expected array, got %T", value)
		}
	}

	// Other types (null, remote extensions) are not checked
	return nil
}

func inEnum(value interface{}, enum []interface{}) bool {
	for _, allowed := range enum {
		if fmt.Sprint(allowed) == fmt.Sprint(value) {
			return true
		}
	}
	return false
}
