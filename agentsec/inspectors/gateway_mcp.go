package inspectors

import "sync"

// MCPGateway exposes the redirect URL and headers the MCP-client
// patcher uses to rewrite an outbound MCP transport connection to the
// gateway instead of the real MCP server. No per-call inspection
// logic runs client-side once the transport is redirected; the
// gateway relays to the real server after inspecting.
type MCPGateway struct {
	URL           string
	APIKey        string
	TenantHeaders map[string]string

	logOnce sync.Once
}

// GetRedirectURL returns the gateway URL the MCP transport should
// connect to instead of the configured server URL.
func (g *MCPGateway) GetRedirectURL() string { return g.URL }

// GetHeaders returns the headers the MCP transport must merge into
// its connection handshake: Authorization plus any tenant headers.
func (g *MCPGateway) GetHeaders() map[string]string {
	headers := map[string]string{"Authorization": "Bearer " + g.APIKey}
	for k, v := range g.TenantHeaders {
		headers[k] = v
	}
	return headers
}

// LogRedirectOnce invokes log exactly once per MCPGateway instance,
// so the redirect is recorded once rather than on every connection.
func (g *MCPGateway) LogRedirectOnce(log func()) {
	g.logOnce.Do(log)
}
