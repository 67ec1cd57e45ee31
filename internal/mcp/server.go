/*
Package mcp implements the stdio JSON-RPC server that exposes the engine as tools.

Each request is one line of JSON on stdin and each response one line on stdout.
The server answers initialize, tools/list and tools/call; notifications get no
response. Tool results are JSON documents wrapped in a text content block.
*/
package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/khanglvm/personalize/internal/engine"
	"github.com/khanglvm/personalize/internal/logging"
	"github.com/khanglvm/personalize/internal/version"
)

// ProtocolVersion is the MCP protocol revision the server speaks.
const ProtocolVersion = "2024-11-05"

// maxLineSize bounds a single request line.
const maxLineSize = 1 << 20

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeToolError      = -32000
)

// Server is the stdio MCP server.
type Server struct {
	ops   engine.Operations
	tools map[string]tool
	in    io.Reader
	out   io.Writer
	outMu sync.Mutex
	log   zerolog.Logger
}

// NewServer creates a server reading stdin and writing stdout.
func NewServer(ops engine.Operations) *Server {
	s := &Server{
		ops: ops,
		in:  os.Stdin,
		out: os.Stdout,
		log: logging.Component("mcp"),
	}
	s.tools = s.registerTools()
	return s
}

// SetIO replaces the transport streams.
func (s *Server) SetIO(in io.Reader, out io.Writer) {
	s.in = in
	s.out = out
}

// Run serves requests until the input closes or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil
		}

		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		response, err := s.handleRequest(ctx, line)
		if err != nil {
			s.sendError(err)
			continue
		}
		if response != nil {
			s.sendResponse(response)
		}
	}

	return scanner.Err()
}

// MCPRequest represents an incoming MCP JSON-RPC request.
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// MCPResponse represents an outgoing MCP JSON-RPC response.
type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

// MCPError represents an MCP error.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func errorResponse(id interface{}, code int, msg string) *MCPResponse {
	return &MCPResponse{JSONRPC: "2.0", ID: id, Error: &MCPError{Code: code, Message: msg}}
}

// handleRequest processes an incoming MCP request. A nil response means none is sent.
func (s *Server) handleRequest(ctx context.Context, data []byte) (*MCPResponse, error) {
	var req MCPRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("invalid JSON-RPC request: %w", err)
	}

	if strings.HasPrefix(req.Method, "notifications/") {
		return nil, nil
	}

	switch req.Method {
	case "initialize":
		return s.handleInitialize(&req), nil
	case "ping":
		return &MCPResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]interface{}{}}, nil
	case "tools/list":
		return s.handleToolsList(&req), nil
	case "tools/call":
		return s.handleToolsCall(ctx, &req), nil
	default:
		return errorResponse(req.ID, codeMethodNotFound, "Method not found"), nil
	}
}

// handleInitialize handles the MCP initialize request.
func (s *Server) handleInitialize(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"protocolVersion": ProtocolVersion,
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    "personalize",
				"version": version.Version,
			},
		},
	}
}

// handleToolsList returns every tool in registration order.
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	defs := make([]map[string]interface{}, 0, len(toolOrder))
	for _, name := range toolOrder {
		t := s.tools[name]
		defs = append(defs, map[string]interface{}{
			"name":        name,
			"description": t.description,
			"inputSchema": t.schema(),
		})
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  map[string]interface{}{"tools": defs},
	}
}

// handleToolsCall dispatches a tools/call request.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, codeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}

	t, ok := s.tools[params.Name]
	if !ok {
		return errorResponse(req.ID, codeInvalidParams, fmt.Sprintf("Unknown tool: %s", params.Name))
	}

	args := arguments(params.Arguments)
	if missing := args.missing(t.required); missing != "" {
		return errorResponse(req.ID, codeInvalidParams, fmt.Sprintf("%s: missing required argument %q", params.Name, missing))
	}

	result, err := t.handler(ctx, args)
	if err != nil {
		s.log.Debug().Err(err).Str("tool", params.Name).Msg("tool call failed")
		return errorResponse(req.ID, codeToolError, err.Error())
	}

	text, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return errorResponse(req.ID, codeToolError, fmt.Sprintf("failed to encode result: %v", err))
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{"type": "text", "text": string(text)},
			},
		},
	}
}

// sendResponse writes a JSON-RPC response line.
func (s *Server) sendResponse(resp *MCPResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode response")
		return
	}

	s.outMu.Lock()
	defer s.outMu.Unlock()
	s.out.Write(append(data, '\n'))
}

// sendError writes a parse error response.
func (s *Server) sendError(err error) {
	s.sendResponse(errorResponse(nil, codeParseError, err.Error()))
}
