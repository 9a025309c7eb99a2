package mcpproto

import (
	"context"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// WebSocketTransport implements Transport over a persistent
// WebSocket connection, for MCP servers that expose a duplex channel
// rather than streamable HTTP.
type WebSocketTransport struct {
	url     string
	headers map[string]string
	logger  *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewWebSocketTransport builds a transport that dials url on first
// Send/Receive, carrying headers in the handshake.
func NewWebSocketTransport(url string, headers map[string]string, logger *zap.Logger) *WebSocketTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketTransport{url: url, headers: headers, logger: logger}
}

func (t *WebSocketTransport) ensureConn(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("mcp websocket: transport is closed")
	}
	if t.conn != nil {
		return nil
	}

	httpHeader := make(map[string][]string, len(t.headers))
	for k, v := range t.headers {
		httpHeader[k] = []string{v}
	}

	conn, _, err := websocket.Dial(ctx, t.url, &websocket.DialOptions{
		Subprotocols: []string{"mcp"},
		HTTPHeader:   httpHeader,
	})
	if err != nil {
		return fmt.Errorf("mcp websocket dial: %w", err)
	}
	t.conn = conn
	return nil
}

// Send writes msg as a single JSON text frame.
func (t *WebSocketTransport) Send(ctx context.Context, msg *Message) error {
	if err := t.ensureConn(ctx); err != nil {
		return err
	}
	return wsjson.Write(ctx, t.conn, msg)
}

// Receive reads the next JSON text frame as a Message.
func (t *WebSocketTransport) Receive(ctx context.Context) (*Message, error) {
	if err := t.ensureConn(ctx); err != nil {
		return nil, err
	}
	var msg Message
	if err := wsjson.Read(ctx, t.conn, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Close closes the underlying connection, if one was ever opened.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.conn == nil {
		return nil
	}
	return t.conn.Close(websocket.StatusNormalClosure, "")
}
