// tools/time.go

package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/sammcj/toolloop/registry"
)

// TimeInput selects a time operation
type TimeInput struct {
	Operation string `json:"operation" jsonschema:"enum=now,enum=parse,enum=format,enum=compare"`
	Timestamp string `json:"timestamp,omitempty" jsonschema_description:"RFC3339 timestamp, or a value in the given format for parse"`
	Format    string `json:"format,omitempty" jsonschema_description:"Go reference layout; defaults to RFC3339"`
}

// TimeTool provides time-related operations
type TimeTool struct {
	now func() time.Time
}

// NewTimeTool creates a time tool using the wall clock
func NewTimeTool() *TimeTool {
	return &TimeTool{now: time.Now}
}

// Tool returns the registry entry for the time tool
func (t *TimeTool) Tool() registry.Tool {
	return registry.NewTool("time", "Perform time-related operations", t.Execute)
}

// Execute handles time operations
func (t *TimeTool) Execute(ctx context.Context, in TimeInput) (interface{}, error) {
	format := in.Format
	if format == "" {
		format = time.RFC3339
	}

	switch in.Operation {
	case "now":
		return t.now().Format(format), nil

	case "parse":
		parsed, err := time.Parse(format, in.Timestamp)
		if err != nil {
			return nil, err
		}
		return parsed.Format(time.RFC3339), nil

	case "format":
		ts, err := time.Parse(time.RFC3339, in.Timestamp)
		if err != nil {
			return nil, err
		}
		return ts.Format(format), nil

	case "compare":
		t1, err := time.Parse(time.RFC3339, in.Timestamp)
		if err != nil {
			return nil, err
		}
		t2 := t.now()
		return map[string]interface{}{
			"before":     t1.Before(t2),
			"after":      t1.After(t2),
			"equal":      t1.Equal(t2),
			"difference": t2.Sub(t1).String(),
		}, nil

	default:
		return nil, fmt.Errorf("unknown operation: %s", in.Operation)
	}
}
