package patchers

import (
	"context"

	"github.com/cisco-ai-defense/agentsec-go/agentsec"
	"github.com/cisco-ai-defense/agentsec-go/mcpproto"
)

// ToolCaller is the subset of mcpproto.ClientSession's surface this
// patcher wraps.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, arguments map[string]any) (any, error)
}

// MCPSession wraps a ToolCaller with pre/post-call inspection.
type MCPSession struct {
	inner ToolCaller
	rt    *agentsec.Runtime
}

// WrapMCPSession returns an MCPSession decorating session.
func WrapMCPSession(rt *agentsec.Runtime, session ToolCaller) *MCPSession {
	rt = runtimeOrDefault(rt)
	if rt != nil {
		rt.Registry.MarkPatched(ProviderMCP)
	}
	return &MCPSession{inner: session, rt: rt}
}

// CallTool intercepts ClientSession.CallTool: pre-inspect, delegate,
// post-inspect, enforcing a block decision by returning
// SecurityPolicyError instead of delegating (API mode) or by trusting
// the gateway's own enforcement (Gateway mode, where no per-call
// inspection logic runs client-side).
func (s *MCPSession) CallTool(ctx context.Context, name string, arguments map[string]any) (any, error) {
	ctx = agentsec.WithCallContext(ctx)

	if shouldUseMCPGateway(ctx, s.rt) {
		return s.inner.CallTool(ctx, name, arguments)
	}

	if !shouldInspectMCP(ctx, s.rt) {
		return s.inner.CallTool(ctx, name, arguments)
	}

	metadata := agentsec.Metadata(ctx)
	inspector := mcpInspectors.get(s.rt)

	decision, err := inspector.InspectRequest(ctx, name, arguments, metadata)
	if sperr, ok := err.(*agentsec.SecurityPolicyError); ok {
		return nil, sperr
	}
	agentsec.SetDecision(ctx, decision)
	if err := enforceMCP(s.rt, decision); err != nil {
		return nil, err
	}

	result, err := s.inner.CallTool(ctx, name, arguments)
	if err != nil {
		return result, err
	}

	decision, err = inspector.InspectResponse(ctx, name, arguments, result, metadata)
	if sperr, ok := err.(*agentsec.SecurityPolicyError); ok {
		return nil, sperr
	}
	agentsec.SetDecision(ctx, decision)
	if err := enforceMCP(s.rt, decision); err != nil {
		return nil, err
	}
	return result, nil
}

// RedirectMCPTransport returns the URL and headers an MCP transport
// under construction should use instead of its configured target, and
// whether a redirect applies at all, when Gateway mode is active. The
// caller builds the transport (mcpproto.NewHTTPTransport or similar)
// with whichever URL/headers this returns. onRedirect is invoked at
// most once per Runtime, so the redirect is logged once rather than
// on every reconnect.
func RedirectMCPTransport(rt *agentsec.Runtime, originalURL string, originalHeaders map[string]string, onRedirect func(original, redirect string)) (url string, headers map[string]string, redirected bool) {
	rt = runtimeOrDefault(rt)
	if rt == nil || rt.State.MCPIntegrationMode() != agentsec.IntegrationGateway || rt.State.MCPGatewayMode() == "off" {
		return originalURL, originalHeaders, false
	}
	gw := mcpGateways.get(rt)
	redirectURL := gw.GetRedirectURL()
	if redirectURL == "" {
		return originalURL, originalHeaders, false
	}

	merged := make(map[string]string, len(originalHeaders)+2)
	for k, v := range originalHeaders {
		merged[k] = v
	}
	for k, v := range gw.GetHeaders() {
		merged[k] = v
	}

	if onRedirect != nil {
		gw.LogRedirectOnce(func() { onRedirect(originalURL, redirectURL) })
	}
	return redirectURL, merged, true
}

// WrapTransportForGateway is a convenience wrapper around
// mcpproto.NewHTTPTransport that applies RedirectMCPTransport before
// constructing the transport, so callers that don't need the
// lower-level hooks above can redirect in one call.
func WrapTransportForGateway(rt *agentsec.Runtime, logger func(original, redirect string), url string, headers map[string]string) *mcpproto.HTTPTransport {
	finalURL, finalHeaders, _ := RedirectMCPTransport(rt, url, headers, logger)
	return mcpproto.NewHTTPTransport(finalURL, finalHeaders)
}
