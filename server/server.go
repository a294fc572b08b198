// server/server.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sammcj/toolloop/bridge"
	"github.com/sammcj/toolloop/config"
	"github.com/sammcj/toolloop/types"
)

// Server represents the HTTP server for the bridge
type Server struct {
	cfg    *config.Config
	bridge *bridge.Bridge
	srv    *http.Server
	logger *log.Logger
}

// MessageRequest represents an incoming chat request. Message is appended
// to the user bucket.
type MessageRequest struct {
	Message   string   `json:"message,omitempty"`
	System    []string `json:"system,omitempty"`
	Developer []string `json:"developer,omitempty"`
	User      []string `json:"user,omitempty"`
	MaxRounds *int     `json:"max_rounds,omitempty"`
	UseTools  *bool    `json:"use_tools,omitempty"`
}

// MessageResponse represents the response to a message
type MessageResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// ToolsResponse lists the advertised tool descriptors
type ToolsResponse struct {
	Tools []mcp.Tool `json:"tools"`
}

// New creates a new server instance
func New(cfg *config.Config, b *bridge.Bridge, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		cfg:    cfg,
		bridge: b,
		logger: logger,
	}
	s.srv = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: s.Handler(),
	}
	return s
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/api/tools", s.handleTools)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// HTTPServer exposes the underlying server for shutdown handling
func (s *Server) HTTPServer() *http.Server {
	return s.srv
}

// Start listens until the server is shut down
func (s *Server) Start() error {
	s.logger.Printf("Starting server on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	return nil
}

// handleChat processes chat messages
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user := req.User
	if req.Message != "" {
		user = append(user, req.Message)
	}
	if len(user) == 0 {
		writeJSON(w, http.StatusBadRequest, MessageResponse{Error: "no user message"})
		return
	}

	opts := bridge.ChatOptions(s.cfg)
	if req.MaxRounds != nil {
		opts = append(opts, bridge.WithMaxRounds(*req.MaxRounds))
	}
	if req.UseTools != nil {
		opts = append(opts, bridge.WithToolUse(*req.UseTools))
	}

	response, err := s.bridge.ChatCompletion(r.Context(), req.System, req.Developer, user, opts...)
	if err != nil {
		s.logger.Printf("Chat failed: %v", err)
		writeJSON(w, statusFor(err), MessageResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Response: response})
}

// handleTools lists the tools advertised to the model
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, ToolsResponse{Tools: s.bridge.Tools()})
}

// handleHealth provides a health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps orchestration failures onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrRoundTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, types.ErrLLMResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
