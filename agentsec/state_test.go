package agentsec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntimeStateDefaults(t *testing.T) {
	s := NewRuntimeState()
	s.Resolve(Overrides{})

	assert.Equal(t, ModeMonitor, s.LLMMode())
	assert.Equal(t, ModeMonitor, s.MCPMode())
	assert.Equal(t, IntegrationAPI, s.LLMIntegrationMode())
	assert.True(t, s.FailOpenLLM())
	assert.True(t, s.FailOpenMCP())
	assert.True(t, s.Initialized())
}

func TestRuntimeStateExplicitOverrideWinsOverEnv(t *testing.T) {
	t.Setenv("AGENTSEC_API_MODE_LLM", "on_enforce")
	s := NewRuntimeState()
	s.Resolve(Overrides{LLMMode: ModeOff})

	assert.Equal(t, ModeOff, s.LLMMode())
}

func TestRuntimeStateProcessSetterWinsOverEnv(t *testing.T) {
	t.Setenv("AGENTSEC_API_MODE_LLM", "monitor")
	SetProcessDefaults(Overrides{LLMMode: ModeOnEnforce})
	t.Cleanup(ClearProcessDefaults)

	s := NewRuntimeState()
	s.Resolve(Overrides{})

	assert.Equal(t, ModeOnEnforce, s.LLMMode())
}

func TestRuntimeStateExplicitWinsOverProcessSetter(t *testing.T) {
	SetProcessDefaults(Overrides{LLMMode: ModeOnEnforce, Region: "eu"})
	t.Cleanup(ClearProcessDefaults)

	s := NewRuntimeState()
	s.Resolve(Overrides{LLMMode: ModeOff})

	assert.Equal(t, ModeOff, s.LLMMode())
	assert.Equal(t, DefaultRegionEndpoints["eu"], s.APIModeLLMEndpoint(), "setter fields the argument leaves unset still apply")
}

func TestRuntimeStateExplicitProviderWinsOverEnv(t *testing.T) {
	t.Setenv("AGENTSEC_BEDROCK_GATEWAY_URL", "https://env.example.com")

	s := NewRuntimeState()
	s.Resolve(Overrides{Providers: map[string]GatewayConfig{
		"bedrock": {URL: "https://explicit.example.com", APIKey: "k"},
	}})

	cfg, ok := s.Provider("bedrock")
	require.True(t, ok)
	assert.Equal(t, "https://explicit.example.com", cfg.URL)
}

func TestRuntimeStateEnvWinsOverDefault(t *testing.T) {
	t.Setenv("AGENTSEC_API_MODE_LLM", "on_enforce")
	s := NewRuntimeState()
	s.Resolve(Overrides{})

	assert.Equal(t, ModeOnEnforce, s.LLMMode())
}

func TestRuntimeStateMCPEndpointFallsBackToLLM(t *testing.T) {
	s := NewRuntimeState()
	s.Resolve(Overrides{
		APIModeLLMEndpoint: "https://llm.example.com",
		APIModeLLMAPIKey:   "llm-key",
	})

	assert.Equal(t, "https://llm.example.com", s.APIModeMCPEndpoint())
	assert.Equal(t, "llm-key", s.APIModeMCPAPIKey())
}

func TestRuntimeStateRegionDefaultEndpointIsLowestPriority(t *testing.T) {
	s := NewRuntimeState()
	s.Resolve(Overrides{Region: "us"})
	assert.Equal(t, DefaultRegionEndpoints["us"], s.APIModeLLMEndpoint())

	s2 := NewRuntimeState()
	s2.Resolve(Overrides{Region: "us", APIModeLLMEndpoint: "https://explicit.example.com"})
	assert.Equal(t, "https://explicit.example.com", s2.APIModeLLMEndpoint())
}

func TestRuntimeStateFrozenAfterResolve(t *testing.T) {
	s := NewRuntimeState()
	s.Resolve(Overrides{LLMMode: ModeOnEnforce})
	s.Resolve(Overrides{LLMMode: ModeOff})

	assert.Equal(t, ModeOnEnforce, s.LLMMode(), "second Resolve call must be a no-op once initialized")
}

func TestRuntimeStateProviderGatewayFromEnv(t *testing.T) {
	t.Setenv("AGENTSEC_BEDROCK_GATEWAY_URL", "https://gw.example.com/bedrock")
	t.Setenv("AGENTSEC_BEDROCK_GATEWAY_API_KEY", "gw-key")

	s := NewRuntimeState()
	s.Resolve(Overrides{})

	cfg, ok := s.Provider("bedrock")
	require.True(t, ok)
	assert.Equal(t, "https://gw.example.com/bedrock", cfg.URL)
	assert.Equal(t, "gw-key", cfg.APIKey)
}

func TestRuntimeStateConfigFileIsLowerPriorityThanEnvAndExplicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentsec.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm_mode: on_enforce
mcp_mode: on_enforce
api_mode_llm_endpoint: https://file.example.com
fail_open_llm: false
`), 0o644))

	// File alone: it wins over the hardcoded default.
	s := NewRuntimeState()
	require.NoError(t, s.Resolve(Overrides{ConfigFile: path}))
	assert.Equal(t, ModeOnEnforce, s.LLMMode())
	assert.Equal(t, ModeOnEnforce, s.MCPMode())
	assert.Equal(t, "https://file.example.com", s.APIModeLLMEndpoint())
	assert.False(t, s.FailOpenLLM())

	// Env wins over the file.
	t.Setenv("AGENTSEC_API_MODE_LLM", "off")
	s2 := NewRuntimeState()
	require.NoError(t, s2.Resolve(Overrides{ConfigFile: path}))
	assert.Equal(t, ModeOff, s2.LLMMode())
	assert.Equal(t, "https://file.example.com", s2.APIModeLLMEndpoint(), "file value still applies where env is silent")

	// Explicit override wins over both.
	s3 := NewRuntimeState()
	require.NoError(t, s3.Resolve(Overrides{ConfigFile: path, LLMMode: ModeMonitor}))
	assert.Equal(t, ModeMonitor, s3.LLMMode())
}

func TestRuntimeStateConfigFileMissingIsAnError(t *testing.T) {
	s := NewRuntimeState()
	err := s.Resolve(Overrides{ConfigFile: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
	assert.False(t, s.Initialized(), "a failed Resolve must not freeze the state")
}

func TestRuntimeStateConfigFileMalformedIsAnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm_mode: [not a scalar"), 0o644))

	s := NewRuntimeState()
	err := s.Resolve(Overrides{ConfigFile: path})
	assert.Error(t, err)
}
