// Package mcpclient connects to MCP servers running as child processes
// and proxies their tools into a registry.
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sammcj/toolloop/config"
)

// ToolResult is the text content returned by a remote tool
type ToolResult struct {
	Text    []string
	IsError bool
}

// Client is an initialized session with one MCP server
type Client struct {
	name    string
	session *mcpsdk.ClientSession
	logger  *log.Logger
}

// isDevelopmentModeWarning checks if a message is a development mode warning
func isDevelopmentModeWarning(msg string) bool {
	return strings.Contains(msg, "Running in development mode")
}

// Start launches the configured server and performs the initialize handshake
func Start(ctx context.Context, cfg config.MCPServerConfig, logger *log.Logger) (*Client, error) {
	logger.Printf("Creating new MCP client %s with command: %s %v", cfg.Name, cfg.Command, cfg.Arguments)

	cmd := exec.Command(cfg.Command, cfg.Arguments...)
	cmd.Stderr = &stderrLogger{name: cfg.Name, logger: logger}

	env := append(os.Environ(), "PYTHONUNBUFFERED=1")
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	client, err := Connect(ctx, cfg.Name, &mcpsdk.CommandTransport{Command: cmd}, logger)
	if err != nil {
		return nil, err
	}
	if cmd.Process != nil {
		logger.Printf("MCP server process started with PID: %d", cmd.Process.Pid)
	}
	return client, nil
}

// Connect opens a session over any MCP transport
func Connect(ctx context.Context, name string, transport mcpsdk.Transport, logger *log.Logger) (*Client, error) {
	impl := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "toolloop", Version: "0.1.0"}, nil)
	session, err := impl.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s: %w", name, err)
	}
	return &Client{name: name, session: session, logger: logger}, nil
}

// Name is the configured server name
func (c *Client) Name() string {
	return c.name
}

// ListTools returns the tools advertised by the server, following pagination
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if c.session == nil {
		return nil, fmt.Errorf("connection to %s closed", c.name)
	}

	var tools []mcp.Tool
	for tool, err := range c.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("tools/list failed: %w", err)
		}
		converted, convErr := convertTool(tool)
		if convErr != nil {
			return nil, convErr
		}
		tools = append(tools, converted)
	}
	return tools, nil
}

// convertTool maps a wire tool onto the descriptor the registry uses
func convertTool(tool *mcpsdk.Tool) (mcp.Tool, error) {
	out := mcp.Tool{Name: tool.Name, Description: tool.Description}
	if tool.InputSchema == nil {
		return out, nil
	}
	data, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return out, fmt.Errorf("failed to encode schema for %s: %w", tool.Name, err)
	}
	if err := json.Unmarshal(data, &out.InputSchema); err != nil {
		return out, fmt.Errorf("failed to decode schema for %s: %w", tool.Name, err)
	}
	return out, nil
}

// CallTool runs a tool on the server and returns its text content
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (*ToolResult, error) {
	if c.session == nil {
		return nil, fmt.Errorf("connection to %s closed", c.name)
	}

	res, err := c.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("tools/call %s failed: %w", name, err)
	}

	result := &ToolResult{IsError: res.IsError}
	for _, item := range res.Content {
		if text, ok := item.(*mcpsdk.TextContent); ok {
			result.Text = append(result.Text, text.Text)
		}
	}
	return result, nil
}

// Close ends the session and stops the server process
func (c *Client) Close() error {
	if c.session == nil {
		return nil
	}
	c.logger.Printf("Closing MCP client %s...", c.name)

	err := c.session.Close()
	c.session = nil
	if err != nil {
		return fmt.Errorf("failed to close %s: %w", c.name, err)
	}

	c.logger.Printf("MCP client %s closed", c.name)
	return nil
}

// stderrLogger forwards server stderr lines to the logger
type stderrLogger struct {
	name   string
	logger *log.Logger
}

func (s *stderrLogger) Write(p []byte) (int, error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" && !isDevelopmentModeWarning(msg) {
		s.logger.Printf("MCP server %s stderr: %s", s.name, msg)
	}
	return len(p), nil
}
