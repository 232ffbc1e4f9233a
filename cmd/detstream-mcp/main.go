// Command detstream-mcp exposes the detection and selection primitives as
// MCP tools over stdio, so an assistant can drive them without going through
// the HTTP server. It runs standalone: stdout carries the protocol, all logs
// go to stderr.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"DetStreamServer/engine"
	iface "DetStreamServer/interface"
	"DetStreamServer/logger"
	"DetStreamServer/selection"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	defaultConf = 0.25
	defaultIou  = 0.4
)

// Server wires one local detector and a set of named selection boards into
// an MCP tool surface.
type Server struct {
	mcp      *server.MCPServer
	detector *engine.Detector

	// mu guards boards and serializes detector calls; the detector rejects
	// overlapping Detect calls with a busy error instead of queueing them.
	mu     sync.Mutex
	boards map[string]*selection.Board
}

func newServer() (*Server, error) {
	if err := engine.LoadEngine(engine.ContourBackend); err != nil {
		return nil, err
	}
	det := &engine.Detector{}
	det.New()
	ok, err := det.LoadModel("", iface.NamesConf{Data: []string{"region"}}, defaultConf, defaultIou, false)
	if err != nil {
		return nil, fmt.Errorf("load engine: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("load engine: backend rejected configuration")
	}

	s := &Server{
		detector: det,
		boards:   make(map[string]*selection.Board),
	}
	s.mcp = server.NewMCPServer(
		"detstream-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	s.registerTools()
	return s, nil
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	logger.S().Info("Starting stdio server")
	return server.ServeStdio(s.mcp)
}

// board returns the named board, creating it on first use and resizing it
// when the caller asks for different dimensions. Caller holds mu.
func (s *Server) board(name string, width, height int) (*selection.Board, error) {
	if b, ok := s.boards[name]; ok {
		if w, h := b.Size(); w != width || h != height {
			if err := b.Resize(width, height); err != nil {
				return nil, err
			}
		}
		return b, nil
	}
	b, err := selection.NewBoard(width, height, "#1e90ff")
	if err != nil {
		return nil, err
	}
	s.boards[name] = b
	return b, nil
}

// textResult creates a simple text tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

// jsonResult serializes a value and wraps it as a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return textResult(string(data)), nil
}

func main() {
	if err := logger.InitProduction(); err != nil {
		fmt.Fprintln(os.Stderr, "logger init failed:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	s, err := newServer()
	if err != nil {
		logger.S().Fatalf("detstream-mcp start failed: %v", err)
	}
	if err := s.ServeStdio(); err != nil {
		logger.S().Fatalf("detstream-mcp stopped: %v", err)
	}
}
