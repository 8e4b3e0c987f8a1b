// Package server exposes the agent registry over HTTP (REST, SSE, the
// dashboard UI) and as MCP tools over HTTP Streamable and stdio transports.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sevir/vigia/internal/config"
	"github.com/sevir/vigia/internal/registry"
)

const (
	jsonRPCVersion = "2.0"
	mcpVersion     = "2024-11-05"
)

// Server is the dashboard HTTP server and MCP endpoint.
type Server struct {
	registry   *registry.Registry
	addr       string
	version    string
	commit     string
	httpServer *http.Server
	sessions   map[string]*Session
	sessionMu  sync.RWMutex
	tools      map[string]ToolHandler
	useStdio   bool
	config     *config.Config

	uiOnce   sync.Once
	uiTpl    *template.Template
	uiTplErr error
}

// Session represents an MCP session.
type Session struct {
	ID        string
	CreatedAt time.Time
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      interface{}   `json:"id,omitempty"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error.
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ToolHandler handles a tool call.
type ToolHandler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Config holds server configuration.
type Config struct {
	Addr      string
	Registry  *registry.Registry
	Version   string
	Commit    string
	UseStdio  bool
	AppConfig *config.Config
}

// New creates a new server.
func New(cfg Config) *Server {
	if cfg.AppConfig == nil {
		cfg.AppConfig = config.DefaultConfig()
	}

	s := &Server{
		registry: cfg.Registry,
		addr:     cfg.Addr,
		version:  cfg.Version,
		commit:   cfg.Commit,
		sessions: make(map[string]*Session),
		tools:    make(map[string]ToolHandler),
		useStdio: cfg.UseStdio,
		config:   cfg.AppConfig,
	}

	s.registerTools()

	// Only set up HTTP server if not using stdio
	if !cfg.UseStdio {
		mux := http.NewServeMux()
		mux.HandleFunc("/mcp", s.handleMCP)
		mux.HandleFunc("/health", s.handleHealth)

		// Dashboard, REST API and the snapshot stream are handled by Gin.
		mux.Handle("/", s.newGinEngine())

		s.httpServer = &http.Server{
			Addr:         cfg.Addr,
			Handler:      s.corsMiddleware(mux),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0, // No timeout for SSE
		}
	}

	return s
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Mcp-Session-Id")
		w.Header().Set("Access-Control-Expose-Headers", "Mcp-Session-Id")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start starts the HTTP server or stdio loop. It returns nil once the HTTP
// server has been shut down.
func (s *Server) Start(ctx context.Context) error {
	if s.useStdio {
		return s.serveStdio(ctx, os.Stdin, os.Stdout)
	}
	log.Printf("server_event=listening addr=%s", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.useStdio {
		// Unblocks the stdio loop's pending read.
		return os.Stdin.Close()
	}
	return s.httpServer.Shutdown(ctx)
}

// serveStdio answers one JSON-RPC request per input line.
func (s *Server) serveStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	encoder := json.NewEncoder(out)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req JSONRPCRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeStdioError(encoder, nil, -32700, "Parse error", err.Error())
			continue
		}

		// Notifications get no reply.
		if req.ID == nil && req.Method == "notifications/initialized" {
			continue
		}

		response := s.handleRequest(ctx, &req)
		if err := encoder.Encode(response); err != nil {
			log.Printf("server_event=stdio_encode_error error=%q", err.Error())
			return err
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("error reading from stdin: %w", err)
	}

	return nil
}

// writeStdioError writes an error response in stdio mode.
func (s *Server) writeStdioError(encoder *json.Encoder, id interface{}, code int, message, data string) {
	encoder.Encode(&JSONRPCResponse{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.registry.GetStats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "healthy",
		"stats":  stats,
	})
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Get or create session
	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	s.sessionMu.Lock()
	if _, exists := s.sessions[sessionID]; !exists {
		s.sessions[sessionID] = &Session{
			ID:        sessionID,
			CreatedAt: time.Now(),
		}
	}
	s.sessionMu.Unlock()

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, nil, -32700, "Parse error", err.Error())
		return
	}

	w.Header().Set("Mcp-Session-Id", sessionID)
	w.Header().Set("Content-Type", "application/json")

	response := s.handleRequest(r.Context(), &req)
	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleRequest(ctx context.Context, req *JSONRPCRequest) *JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "initialized", "notifications/initialized", "ping":
		return &JSONRPCResponse{
			JSONRPC: jsonRPCVersion,
			ID:      req.ID,
			Result:  map[string]interface{}{},
		}
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return &JSONRPCResponse{
			JSONRPC: jsonRPCVersion,
			ID:      req.ID,
			Error: &JSONRPCError{
				Code:    -32601,
				Message: "Method not found",
			},
		}
	}
}

func (s *Server) handleInitialize(req *JSONRPCRequest) *JSONRPCResponse {
	version := s.version
	if version == "" {
		version = "dev"
	}
	return &JSONRPCResponse{
		JSONRPC: jsonRPCVersion,
		ID:      req.ID,
		Result: map[string]interface{}{
			"protocolVersion": mcpVersion,
			"serverInfo": map[string]string{
				"name":    "vigia",
				"version": version,
			},
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
		},
	}
}

func (s *Server) handleToolsList(req *JSONRPCRequest) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: jsonRPCVersion,
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": s.getToolDefinitions(),
		},
	}
}

func (s *Server) handleToolsCall(ctx context.Context, req *JSONRPCRequest) *JSONRPCResponse {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}

	if err := json.Unmarshal(req.Params, &params); err != nil {
		return &JSONRPCResponse{
			JSONRPC: jsonRPCVersion,
			ID:      req.ID,
			Error: &JSONRPCError{
				Code:    -32602,
				Message: "Invalid params",
				Data:    err.Error(),
			},
		}
	}

	handler, exists := s.tools[params.Name]
	if !exists {
		return &JSONRPCResponse{
			JSONRPC: jsonRPCVersion,
			ID:      req.ID,
			Error: &JSONRPCError{
				Code:    -32602,
				Message: fmt.Sprintf("Unknown tool: %s", params.Name),
			},
		}
	}

	if len(params.Arguments) == 0 {
		params.Arguments = json.RawMessage(`{}`)
	}

	result, err := handler(ctx, params.Arguments)
	if err != nil {
		return &JSONRPCResponse{
			JSONRPC: jsonRPCVersion,
			ID:      req.ID,
			Result: map[string]interface{}{
				"content": []map[string]interface{}{
					{
						"type": "text",
						"text": fmt.Sprintf("Error: %s", err.Error()),
					},
				},
				"isError": true,
			},
		}
	}

	// Format result as MCP tool result
	text, _ := json.MarshalIndent(result, "", "  ")
	return &JSONRPCResponse{
		JSONRPC: jsonRPCVersion,
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": string(text),
				},
			},
		},
	}
}

func (s *Server) writeError(w http.ResponseWriter, id interface{}, code int, message, data string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(&JSONRPCResponse{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}
