package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sammcj/toolloop/types"
)

// Dispatcher resolves invocation requests to tool executions and classifies
// every failure as ToolNotFoundError or ToolExecutionError
type Dispatcher struct {
	registry *Registry
	logger   *log.Logger
}

// NewDispatcher creates a dispatcher over r
func NewDispatcher(r *Registry, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{registry: r, logger: logger}
}

// Registry returns the underlying registry
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// GetToolSchema returns the descriptor of every registered tool
func (d *Dispatcher) GetToolSchema() []mcp.Tool {
	return d.registry.Specs()
}

// CallTool calls a registered tool by name with keyword arguments
func (d *Dispatcher) CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	d.logger.Printf("Calling tool: %s with args: %v", name, args)
	return d.callTool(ctx, name, args)
}

func (d *Dispatcher) callTool(ctx context.Context, name string, args map[string]interface{}) (result interface{}, err error) {
	tool, ok := d.registry.Lookup(name)
	if !ok {
		d.logger.Printf("Tool '%s' not found.", name)
		return nil, &types.ToolNotFoundError{Tool: name}
	}

	if args == nil {
		args = map[string]interface{}{}
	}

	if err := validateArguments(args, tool.Spec.InputSchema); err != nil {
		d.logger.Printf("Error executing tool '%s': %v", name, err)
		return nil, &types.ToolExecutionError{
			Tool: name,
			Err:  fmt.Errorf("%w: %v", types.ErrInvalidArguments, err),
		}
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Printf("Error executing tool '%s': panic: %v", name, r)
			result = nil
			err = &types.ToolExecutionError{Tool: name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	result, err = tool.Handler(ctx, args)
	if err != nil {
		d.logger.Printf("Error executing tool '%s': %v", name, err)
		return nil, &types.ToolExecutionError{Tool: name, Err: err}
	}

	d.logger.Printf("Tool '%s' completed successfully", name)
	return result, nil
}

// Invoke dispatches a model-emitted tool call whose arguments are a JSON
// encoded object. Malformed arguments are reported as a ToolExecutionError.
func (d *Dispatcher) Invoke(ctx context.Context, call types.ToolCall) (interface{}, error) {
	name := call.Function.Name
	d.logger.Printf("Calling tool: %s with args: %s", name, call.Function.Arguments)

	if _, ok := d.registry.Lookup(name); !ok {
		d.logger.Printf("Tool '%s' not found.", name)
		return nil, &types.ToolNotFoundError{Tool: name}
	}

	args, err := ParseArguments(call.Function.Arguments)
	if err != nil {
		d.logger.Printf("Error executing tool '%s': %v", name, err)
		return nil, &types.ToolExecutionError{Tool: name, Err: err}
	}

	return d.callTool(ctx, name, args)
}

// ParseArguments decodes a JSON argument string; empty means no arguments
func ParseArguments(raw string) (map[string]interface{}, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]interface{}{}, nil
	}

	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("%w: malformed JSON arguments: %v", types.ErrInvalidArguments, err)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return args, nil
}
