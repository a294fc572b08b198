package mcpclient_test

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sammcj/toolloop/mcpclient"
	"github.com/sammcj/toolloop/registry"
	"github.com/sammcj/toolloop/types"
	"github.com/stretchr/testify/require"
)

type fakeRemote struct {
	tools   []mcp.Tool
	listErr error
	calls   []string
	reply   *mcpclient.ToolResult
}

func (f *fakeRemote) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return f.tools, f.listErr
}

func (f *fakeRemote) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcpclient.ToolResult, error) {
	f.calls = append(f.calls, name)
	return f.reply, nil
}

func lookupTool() mcp.Tool {
	return mcp.Tool{
		Name:        "lookup.user",
		Description: "Find a user",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"id": map[string]interface{}{"type": "integer"}},
			Required:   []string{"id"},
		},
	}
}

func TestSanitizeToolName(t *testing.T) {
	require.Equal(t, "db_lookup_user", mcpclient.SanitizeToolName("db", "lookup.user"))
	require.Len(t, mcpclient.SanitizeToolName("s", string(make([]byte, 100))), 64)
}

func TestRegisterRemoteTools_ProxiesCalls(t *testing.T) {
	remote := &fakeRemote{
		tools: []mcp.Tool{lookupTool()},
		reply: &mcpclient.ToolResult{Text: []string{`{"name":"Alice"}`}},
	}
	r := registry.New(registry.RejectDuplicates)

	n, err := mcpclient.RegisterRemoteTools(context.Background(), r, "db", remote, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	d := registry.NewDispatcher(r, log.New(io.Discard, "", 0))
	got, err := d.CallTool(context.Background(), "db_lookup_user", map[string]interface{}{"id": 1.0})
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{"name": "Alice"}, got)
	require.Equal(t, []string{"lookup.user"}, remote.calls)
}

func TestRegisterRemoteTools_PlainTextAndErrors(t *testing.T) {
	remote := &fakeRemote{
		tools: []mcp.Tool{lookupTool()},
		reply: &mcpclient.ToolResult{Text: []string{"not found"}, IsError: true},
	}
	r := registry.New(registry.RejectDuplicates)
	_, err := mcpclient.RegisterRemoteTools(context.Background(), r, "db", remote, log.New(io.Discard, "", 0))
	require.NoError(t, err)

	d := registry.NewDispatcher(r, log.New(io.Discard, "", 0))
	_, err = d.CallTool(context.Background(), "db_lookup_user", map[string]interface{}{"id": 7.0})
	require.ErrorIs(t, err, types.ErrToolExecution)
	require.ErrorContains(t, err, "not found")

	remote.reply = &mcpclient.ToolResult{Text: []string{"plain"}}
	got, err := d.CallTool(context.Background(), "db_lookup_user", map[string]interface{}{"id": 7.0})
	require.NoError(t, err)
	require.Equal(t, "plain", got)
}

func TestRegisterRemoteTools_ListError(t *testing.T) {
	remote := &fakeRemote{listErr: errors.New("offline")}
	_, err := mcpclient.RegisterRemoteTools(context.Background(), registry.New(registry.RejectDuplicates), "db", remote, log.New(io.Discard, "", 0))
	require.ErrorContains(t, err, "offline")
}
