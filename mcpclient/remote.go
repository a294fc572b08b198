package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sammcj/toolloop/registry"
)

// RemoteTools is the subset of Client used to proxy tools
type RemoteTools interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*ToolResult, error)
}

var invalidToolChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SanitizeToolName turns a server and tool name into a valid function name
func SanitizeToolName(server, tool string) string {
	name := invalidToolChars.ReplaceAllString(server+"_"+tool, "_")
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

// RegisterRemoteTools registers a proxy for every tool the server lists,
// named <prefix>_<tool>. It returns the number of tools registered.
func RegisterRemoteTools(ctx context.Context, r *registry.Registry, prefix string, client RemoteTools, logger *log.Logger) (int, error) {
	remote, err := client.ListTools(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list tools from %s: %w", prefix, err)
	}

	for _, spec := range remote {
		remoteName := spec.Name
		local := spec
		local.Name = SanitizeToolName(prefix, remoteName)
		if local.InputSchema.Type == "" {
			local.InputSchema.Type = "object"
		}
		if local.InputSchema.Properties == nil {
			local.InputSchema.Properties = map[string]interface{}{}
		}

		err := r.Register(registry.Tool{
			Spec:    local,
			Handler: proxyHandler(client, remoteName),
		})
		if err != nil {
			return 0, err
		}
		logger.Printf("Registered remote tool %s -> %s", local.Name, remoteName)
	}

	return len(remote), nil
}

func proxyHandler(client RemoteTools, remoteName string) registry.Handler {
	return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		result, err := client.CallTool(ctx, remoteName, args)
		if err != nil {
			return nil, err
		}

		text := strings.Join(result.Text, "\n")
		if result.IsError {
			return nil, errors.New(text)
		}

		// Structured results come back as JSON text
		var decoded interface{}
		if err := json.Unmarshal([]byte(text), &decoded); err == nil {
			return decoded, nil
		}
		return text, nil
	}
}
