// tools/http.go
package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sammcj/toolloop/registry"
)

// HTTPInput describes one outbound request
type HTTPInput struct {
	Method  string            `json:"method" jsonschema:"enum=GET,enum=POST,enum=PUT,enum=DELETE"`
	URL     string            `json:"url" jsonschema_description:"URL to request"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// HTTPTool provides HTTP request capabilities
type HTTPTool struct {
	client    *http.Client
	allowList []string
}

// NewHTTPTool creates a new HTTP tool with domain allowlist
func NewHTTPTool(allowList []string, timeout time.Duration) *HTTPTool {
	return &HTTPTool{
		client: &http.Client{
			Timeout: timeout,
		},
		allowList: allowList,
	}
}

// Tool returns the registry entry for the http_request tool
func (t *HTTPTool) Tool() registry.Tool {
	return registry.NewTool("http_request", "Make HTTP requests to allowed domains", t.Execute)
}

// Execute handles HTTP requests
func (t *HTTPTool) Execute(ctx context.Context, in HTTPInput) (interface{}, error) {
	if !t.allowed(in.URL) {
		return nil, fmt.Errorf("domain not in allowlist")
	}

	req, err := http.NewRequestWithContext(ctx, in.Method, in.URL, strings.NewReader(in.Body))
	if err != nil {
		return nil, err
	}
	for k, v := range in.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"status":  resp.StatusCode,
		"headers": resp.Header,
		"body":    string(respBody),
	}, nil
}

// allowed matches the request against allowlist entries by scheme and host.
// An entry path restricts requests to that path and below. Entries without a
// scheme match both http and https.
func (t *HTTPTool) allowed(raw string) bool {
	target, err := url.Parse(raw)
	if err != nil || target.Host == "" {
		return false
	}
	scheme := strings.ToLower(target.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}

	for _, entry := range t.allowList {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "://") {
			entry = scheme + "://" + entry
		}
		allow, err := url.Parse(entry)
		if err != nil || allow.Host == "" {
			continue
		}
		if !strings.EqualFold(allow.Scheme, scheme) || !strings.EqualFold(allow.Host, target.Host) {
			continue
		}
		prefix := strings.TrimSuffix(allow.Path, "/")
		if prefix == "" || target.Path == prefix || strings.HasPrefix(target.Path, prefix+"/") {
			return true
		}
	}
	return false
}
