// tools/add.go
package tools

import (
	"context"

	"github.com/sammcj/toolloop/registry"
)

// AddInput holds the two operands of the add tool
type AddInput struct {
	A float64 `json:"a" jsonschema_description:"First operand"`
	B float64 `json:"b" jsonschema_description:"Second operand"`
}

// AddTool returns the add tool
func AddTool() registry.Tool {
	return registry.NewTool("add", "Add two numbers.", Add)
}

// Add returns {"sum": a + b}
func Add(ctx context.Context, in AddInput) (interface{}, error) {
	return map[string]interface{}{"sum": in.A + in.B}, nil
}
