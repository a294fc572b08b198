package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sammcj/toolloop/registry"
)

// MCPServer exposes every registered tool over MCP stdio
type MCPServer struct {
	server     *server.MCPServer
	dispatcher *registry.Dispatcher
	logger     *log.Logger
}

// NewMCPServer registers the dispatcher's tools with a new MCP server
func NewMCPServer(name, version string, dispatcher *registry.Dispatcher, logger *log.Logger) *MCPServer {
	s := &MCPServer{
		server: server.NewMCPServer(
			name,
			version,
			server.WithToolCapabilities(true),
			server.WithLogging(),
		),
		dispatcher: dispatcher,
		logger:     logger,
	}

	specs := dispatcher.GetToolSchema()
	for _, spec := range specs {
		s.server.AddTool(spec, s.toolHandler(spec.Name))
	}

	// Add notification handler
	s.server.AddNotificationHandler(s.handleNotification)

	logger.Printf("MCP server created with %d tools", len(specs))
	return s
}

// toolHandler dispatches one tool and encodes its result as JSON text
func (s *MCPServer) toolHandler(name string) func(arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	return func(arguments map[string]interface{}) (*mcp.CallToolResult, error) {
		var text string
		result, err := s.dispatcher.CallTool(context.Background(), name, arguments)
		if err != nil {
			data, _ := json.Marshal(map[string]string{"error": err.Error()})
			text = string(data)
		} else {
			data, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				s.logger.Printf("Failed to marshal result of %s: %v", name, err)
				return nil, fmt.Errorf("failed to marshal result: %w", err)
			}
			text = string(data)
		}

		return &mcp.CallToolResult{
			Content: []interface{}{
				mcp.TextContent{
					Type: "text",
					Text: text,
				},
			},
		}, nil
	}
}

func (s *MCPServer) handleNotification(notification mcp.JSONRPCNotification) {
	s.logger.Printf("Received notification: %s", notification.Method)
}

// Serve blocks serving stdin/stdout until the client disconnects
func (s *MCPServer) Serve() error {
	s.logger.Println("Starting MCP server...")
	if err := server.ServeStdio(s.server); err != nil {
		s.logger.Printf("Server error: %v", err)
		return fmt.Errorf("server error: %w", err)
	}
	s.logger.Println("MCP server stopped")
	return nil
}
