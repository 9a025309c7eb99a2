// Package mcpproto implements the Model Context Protocol's JSON-RPC
// 2.0 envelope, a minimal client session exposing CallTool, and a
// transport abstraction so the MCP provider patcher can redirect a
// connection to the AI Defense Gateway without touching the session
// above it.
package mcpproto

import (
	"context"
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the MCP protocol version this client speaks.
const ProtocolVersion = "2024-11-05"

// Message is one MCP JSON-RPC 2.0 envelope: either a request
// (Method+Params set), a response (Result set) or an error response
// (Error set).
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string { return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message) }

// Standard JSON-RPC 2.0 error codes.
const (
	ErrorCodeParseError     = -32700
	ErrorCodeInvalidRequest = -32600
	ErrorCodeMethodNotFound = -32601
	ErrorCodeInvalidParams  = -32602
	ErrorCodeInternalError  = -32603
)

// ToolCallParams is the params shape of a tools/call request.
type ToolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ContentBlock is one entry in a tools/call result's content array.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolCallResult is the result shape of a tools/call response.
type ToolCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// NewRequest builds a request envelope.
func NewRequest(id any, method string, params any) (*Message, error) {
	encoded, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return &Message{JSONRPC: "2.0", ID: id, Method: method, Params: encoded}, nil
}

// NewResponse builds a result envelope.
func NewResponse(id any, result any) (*Message, error) {
	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Message{JSONRPC: "2.0", ID: id, Result: encoded}, nil
}

// MarshalJSON pins jsonrpc to "2.0" regardless of the zero value of
// the struct field, so a hand-constructed Message never leaves the
// version off the wire.
func (m *Message) MarshalJSON() ([]byte, error) {
	type alias Message
	m.JSONRPC = "2.0"
	return json.Marshal((*alias)(m))
}

// ToolDefinition describes one tool a server exposes.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Transport is the MCP wire-level abstraction: send one message,
// receive one message, close. Implementations: HTTPTransport
// (streamable HTTP, the common case and the one the gateway redirects)
// and WebSocketTransport.
type Transport interface {
	Send(ctx context.Context, msg *Message) error
	Receive(ctx context.Context) (*Message, error)
	Close() error
}
