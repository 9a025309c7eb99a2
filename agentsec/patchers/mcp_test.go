package patchers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cisco-ai-defense/agentsec-go/agentsec"
	"github.com/cisco-ai-defense/agentsec-go/agentsec/httpclient"
)

type fakeToolCaller struct {
	called  bool
	lastArg map[string]any
	result  any
	err     error
}

func (f *fakeToolCaller) CallTool(ctx context.Context, name string, arguments map[string]any) (any, error) {
	f.called = true
	f.lastArg = arguments
	return f.result, f.err
}

func newTestRuntimeForMCP(t *testing.T, mode agentsec.EnforcementMode) *agentsec.Runtime {
	t.Helper()
	state := agentsec.NewRuntimeState()
	state.Resolve(agentsec.Overrides{
		MCPMode:            mode,
		MCPIntegrationMode: agentsec.IntegrationAPI,
	})
	return &agentsec.Runtime{
		State:      state,
		Registry:   agentsec.NewRegistry(),
		HTTPClient: httpclient.New(httpclient.Config{Timeout: time.Second}),
	}
}

func TestMCPSessionSkipsWhenModeOff(t *testing.T) {
	rt := newTestRuntimeForMCP(t, agentsec.ModeOff)
	inner := &fakeToolCaller{result: "ok"}
	session := WrapMCPSession(rt, inner)

	result, err := session.CallTool(context.Background(), "list_files", map[string]any{"dir": "."})
	require.NoError(t, err)
	assert.True(t, inner.called)
	assert.Equal(t, "ok", result)
}

func TestMCPSessionSkipGuardBypassesInspection(t *testing.T) {
	rt := newTestRuntimeForMCP(t, agentsec.ModeOnEnforce)
	inner := &fakeToolCaller{result: "ok"}
	session := WrapMCPSession(rt, inner)

	ctx := agentsec.WithCallContext(context.Background())
	agentsec.SkipMCPGuard(ctx, func() {
		result, err := session.CallTool(ctx, "list_files", nil)
		require.NoError(t, err)
		assert.Equal(t, "ok", result)
	})
	assert.True(t, inner.called)
}

func TestMCPSessionBlocksToolCallOnEnforce(t *testing.T) {
	inspection := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"result":{"action":"Block","is_safe":false,"rules":[{"rule_name":"Command Injection","classification":"SECURITY_VIOLATION"}]}}`))
	}))
	t.Cleanup(inspection.Close)

	state := agentsec.NewRuntimeState()
	state.Resolve(agentsec.Overrides{
		MCPMode:            agentsec.ModeOnEnforce,
		MCPIntegrationMode: agentsec.IntegrationAPI,
		APIModeMCPEndpoint: inspection.URL,
		APIModeMCPAPIKey:   "k",
	})
	rt := &agentsec.Runtime{
		State:      state,
		Registry:   agentsec.NewRegistry(),
		HTTPClient: httpclient.New(httpclient.Config{Timeout: time.Second}),
	}

	inner := &fakeToolCaller{result: "should never run"}
	session := WrapMCPSession(rt, inner)

	_, err := session.CallTool(context.Background(), "exec", map[string]any{"cmd": "rm -rf /"})
	require.Error(t, err)
	assert.False(t, inner.called, "a blocked tool must not execute")
	var sperr *agentsec.SecurityPolicyError
	require.ErrorAs(t, err, &sperr)
	assert.True(t, sperr.Decision.IsBlocked())
	assert.Equal(t, []string{"Command Injection: SECURITY_VIOLATION"}, sperr.Decision.Reasons())
}

func TestRedirectMCPTransportNoopWhenAPIMode(t *testing.T) {
	rt := newTestRuntimeForMCP(t, agentsec.ModeMonitor)
	url, headers, redirected := RedirectMCPTransport(rt, "https://upstream/mcp", map[string]string{"X-A": "1"}, nil)
	assert.False(t, redirected)
	assert.Equal(t, "https://upstream/mcp", url)
	assert.Equal(t, map[string]string{"X-A": "1"}, headers)
}

func TestRedirectMCPTransportLogsOnlyOnce(t *testing.T) {
	t.Setenv("AGENTSEC_MCP_GATEWAY_URL", "https://gateway/mcp")
	t.Setenv("AGENTSEC_MCP_GATEWAY_API_KEY", "gwkey")
	t.Setenv("AGENTSEC_MCP_GATEWAY_MODE", "on")

	state := agentsec.NewRuntimeState()
	state.Resolve(agentsec.Overrides{MCPIntegrationMode: agentsec.IntegrationGateway})
	rt := &agentsec.Runtime{State: state, Registry: agentsec.NewRegistry(), HTTPClient: httpclient.New(httpclient.Config{})}

	calls := 0
	for i := 0; i < 3; i++ {
		url, headers, redirected := RedirectMCPTransport(rt, "https://upstream/mcp", nil, func(string, string) { calls++ })
		require.True(t, redirected)
		assert.Equal(t, "https://gateway/mcp", url)
		assert.Equal(t, "Bearer gwkey", headers["Authorization"])
	}
	assert.Equal(t, 1, calls)
}
