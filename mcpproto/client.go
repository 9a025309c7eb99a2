package mcpproto

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
)

// ClientSession is a minimal MCP client: connect, list tools, call a
// tool. It is transport-agnostic; the provider patcher swaps in a
// gateway-pointed Transport at connection time without the session
// itself knowing a redirect happened.
type ClientSession struct {
	transport Transport

	mu     sync.Mutex
	nextID atomic.Int64
}

// NewClientSession wraps an already-constructed Transport.
func NewClientSession(transport Transport) *ClientSession {
	return &ClientSession{transport: transport}
}

func (s *ClientSession) id() int64 { return s.nextID.Add(1) }

func (s *ClientSession) roundTrip(ctx context.Context, method string, params any) (*Message, error) {
	req, err := NewRequest(s.id(), method, params)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.transport.Send(ctx, req); err != nil {
		return nil, fmt.Errorf("mcp send: %w", err)
	}
	resp, err := s.transport.Receive(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp receive: %w", err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp, nil
}

// ListTools calls the tools/list method.
func (s *ClientSession) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	resp, err := s.roundTrip(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, err
	}
	var shaped struct {
		Tools []ToolDefinition `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &shaped); err != nil {
		return nil, fmt.Errorf("unmarshal tools/list result: %w", err)
	}
	return shaped.Tools, nil
}

// CallTool invokes a tool by name with the given arguments and
// returns the text of the result's content blocks concatenated into
// one string; non-text content is not returned.
func (s *ClientSession) CallTool(ctx context.Context, name string, arguments map[string]any) (any, error) {
	resp, err := s.roundTrip(ctx, "tools/call", ToolCallParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, err
	}

	var result ToolCallResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("unmarshal tools/call result: %w", err)
	}
	if result.IsError {
		return nil, fmt.Errorf("tool %q returned an error result", name)
	}
	return flattenContent(result.Content), nil
}

func flattenContent(blocks []ContentBlock) string {
	var out string
	for _, b := range blocks {
		out += b.Text
	}
	return out
}

// Close closes the underlying transport.
func (s *ClientSession) Close() error { return s.transport.Close() }
