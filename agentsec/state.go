package agentsec

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// IntegrationMode selects whether a provider's traffic is inspected
// out-of-band (API mode) or routed through the AI Defense Gateway
// (Gateway mode).
type IntegrationMode string

const (
	IntegrationAPI     IntegrationMode = "api"
	IntegrationGateway IntegrationMode = "gateway"
)

// EnforcementMode selects whether block decisions are enforced,
// merely recorded, or inspection is skipped entirely.
type EnforcementMode string

const (
	ModeOff       EnforcementMode = "off"
	ModeMonitor   EnforcementMode = "monitor"
	ModeOnEnforce EnforcementMode = "on_enforce"
)

// GatewayConfig is the per-provider routing entry for Gateway mode.
type GatewayConfig struct {
	URL    string
	APIKey string
}

// DefaultRegionEndpoints maps an AI Defense region name to its default
// API endpoint, consulted only when a region is configured and no
// explicit endpoint is given.
var DefaultRegionEndpoints = map[string]string{
	"us":  "https://us.api.inspect.aidefense.security.cisco.com",
	"eu":  "https://eu.api.inspect.aidefense.security.cisco.com",
	"apj": "https://apj.api.inspect.aidefense.security.cisco.com",
}

// RuleSpec is a minimal default-rule reference threaded into an
// inspection payload when no per-call rules are supplied. The full
// Rule shape (with entity types and classification) lives in the
// inspect package; RuntimeState only needs the name here.
type RuleSpec struct {
	RuleName string
}

// RuntimeState is the process-wide, thread-safe configuration
// singleton. It is created once at bootstrap (Protect); all fields
// are written only while the bootstrap lock is held and before
// Initialized() flips true. After that, readers need no coordination.
type RuntimeState struct {
	mu sync.RWMutex

	llmMode            EnforcementMode
	mcpMode            EnforcementMode
	llmIntegrationMode IntegrationMode
	mcpIntegrationMode IntegrationMode
	apiModeLLMEndpoint string
	apiModeLLMAPIKey   string
	apiModeMCPEndpoint string
	apiModeMCPAPIKey   string
	apiModeFailOpenLLM bool
	apiModeFailOpenMCP bool
	gatewayFailOpenLLM bool
	gatewayFailOpenMCP bool
	mcpGatewayURL      string
	mcpGatewayAPIKey   string
	mcpGatewayMode     string
	providers          map[string]GatewayConfig
	llmRules           []RuleSpec
	region             string
	initialized        bool
}

// NewRuntimeState returns a RuntimeState populated with the built-in
// defaults; Resolve then layers the remaining sources on top per the
// priority chain explicit argument > process-wide setter (see
// SetProcessDefaults) > environment variable > config file > default.
func NewRuntimeState() *RuntimeState {
	return &RuntimeState{
		llmMode:            ModeMonitor,
		mcpMode:            ModeMonitor,
		llmIntegrationMode: IntegrationAPI,
		mcpIntegrationMode: IntegrationAPI,
		apiModeFailOpenLLM: true,
		apiModeFailOpenMCP: true,
		gatewayFailOpenLLM: true,
		gatewayFailOpenMCP: true,
		providers:          make(map[string]GatewayConfig),
	}
}

// Overrides carries configuration values for one resolution tier;
// zero values mean "not set here, fall through to the next tier".
// The same shape serves both the explicit-argument tier (passed to
// Resolve) and the process-wide-setter tier (passed to
// SetProcessDefaults).
type Overrides struct {
	LLMMode            EnforcementMode
	MCPMode            EnforcementMode
	LLMIntegrationMode IntegrationMode
	MCPIntegrationMode IntegrationMode
	APIModeLLMEndpoint string
	APIModeLLMAPIKey   string
	APIModeMCPEndpoint string
	APIModeMCPAPIKey   string
	Region             string
	Providers          map[string]GatewayConfig
	LLMRules           []RuleSpec

	// ConfigFile, if set, names a YAML file read as a lower-priority
	// default layer beneath the environment variables. It is honored
	// only on the Overrides passed to Resolve, never on the
	// process-wide-setter tier.
	ConfigFile string
}

var (
	processMu       sync.Mutex
	processDefaults Overrides
)

// SetProcessDefaults installs process-wide default values consulted by
// every subsequent Resolve, ranked above environment variables and
// below an explicit Resolve argument. Zero-value fields leave the
// corresponding setting untouched; calling it again replaces the
// stored set wholesale. ConfigFile is ignored here.
func SetProcessDefaults(o Overrides) {
	o.ConfigFile = ""
	processMu.Lock()
	defer processMu.Unlock()
	processDefaults = o
}

// ClearProcessDefaults removes all values installed by
// SetProcessDefaults. Mostly useful in tests.
func ClearProcessDefaults() {
	processMu.Lock()
	defer processMu.Unlock()
	processDefaults = Overrides{}
}

func currentProcessDefaults() Overrides {
	processMu.Lock()
	defer processMu.Unlock()
	return processDefaults
}

// fileConfig is the subset of RuntimeState fields a YAML override file
// may set. Unset (zero-value) fields never overwrite the hardcoded
// default; every field here maps 1:1 to a RuntimeState field.
type fileConfig struct {
	LLMMode            string                   `yaml:"llm_mode"`
	MCPMode            string                   `yaml:"mcp_mode"`
	LLMIntegrationMode string                   `yaml:"llm_integration_mode"`
	MCPIntegrationMode string                   `yaml:"mcp_integration_mode"`
	Region             string                   `yaml:"region"`
	APIModeLLMEndpoint string                   `yaml:"api_mode_llm_endpoint"`
	APIModeLLMAPIKey   string                   `yaml:"api_mode_llm_api_key"`
	APIModeMCPEndpoint string                   `yaml:"api_mode_mcp_endpoint"`
	APIModeMCPAPIKey   string                   `yaml:"api_mode_mcp_api_key"`
	FailOpenLLM        *bool                    `yaml:"fail_open_llm"`
	FailOpenMCP        *bool                    `yaml:"fail_open_mcp"`
	GatewayFailOpenLLM *bool                    `yaml:"gateway_fail_open_llm"`
	GatewayFailOpenMCP *bool                    `yaml:"gateway_fail_open_mcp"`
	MCPGatewayURL      string                   `yaml:"mcp_gateway_url"`
	MCPGatewayAPIKey   string                   `yaml:"mcp_gateway_api_key"`
	MCPGatewayMode     string                   `yaml:"mcp_gateway_mode"`
	Providers          map[string]GatewayConfig `yaml:"providers"`
}

// loadConfigFile reads and parses a YAML override file. A missing path
// is the caller's error to surface, not silently ignored, since a
// ConfigFile set on Overrides is an explicit request to read one.
func loadConfigFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agentsec: reading config file %q: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("agentsec: parsing config file %q: %w", path, err)
	}
	return &fc, nil
}

// applyFileConfig layers fc onto s as defaults, i.e. only into fields
// still at their hardcoded NewRuntimeState() value; env/explicit layers
// applied afterward in Resolve always win.
func (s *RuntimeState) applyFileConfig(fc *fileConfig) {
	if fc.LLMMode != "" {
		s.llmMode = EnforcementMode(fc.LLMMode)
	}
	if fc.MCPMode != "" {
		s.mcpMode = EnforcementMode(fc.MCPMode)
	}
	if fc.LLMIntegrationMode != "" {
		s.llmIntegrationMode = IntegrationMode(fc.LLMIntegrationMode)
	}
	if fc.MCPIntegrationMode != "" {
		s.mcpIntegrationMode = IntegrationMode(fc.MCPIntegrationMode)
	}
	if fc.Region != "" {
		s.region = fc.Region
	}
	if fc.APIModeLLMEndpoint != "" {
		s.apiModeLLMEndpoint = fc.APIModeLLMEndpoint
	}
	if fc.APIModeLLMAPIKey != "" {
		s.apiModeLLMAPIKey = fc.APIModeLLMAPIKey
	}
	if fc.APIModeMCPEndpoint != "" {
		s.apiModeMCPEndpoint = fc.APIModeMCPEndpoint
	}
	if fc.APIModeMCPAPIKey != "" {
		s.apiModeMCPAPIKey = fc.APIModeMCPAPIKey
	}
	if fc.FailOpenLLM != nil {
		s.apiModeFailOpenLLM = *fc.FailOpenLLM
	}
	if fc.FailOpenMCP != nil {
		s.apiModeFailOpenMCP = *fc.FailOpenMCP
	}
	if fc.GatewayFailOpenLLM != nil {
		s.gatewayFailOpenLLM = *fc.GatewayFailOpenLLM
	}
	if fc.GatewayFailOpenMCP != nil {
		s.gatewayFailOpenMCP = *fc.GatewayFailOpenMCP
	}
	if fc.MCPGatewayURL != "" {
		s.mcpGatewayURL = fc.MCPGatewayURL
	}
	if fc.MCPGatewayAPIKey != "" {
		s.mcpGatewayAPIKey = fc.MCPGatewayAPIKey
	}
	if fc.MCPGatewayMode != "" {
		s.mcpGatewayMode = fc.MCPGatewayMode
	}
	for name, cfg := range fc.Providers {
		s.providers[name] = cfg
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// Resolve layers the configuration sources in ascending priority —
// YAML config file (if named), then env-prefixed (AGENTSEC_*,
// AI_DEFENSE_*) settings, then the process-wide setters, then the
// explicit overrides on top — and freezes the state. Resolve must be
// called under the bootstrap lock exactly once; calling it again is a
// no-op if already initialized. It returns an error only if
// o.ConfigFile is set and unreadable/malformed.
func (s *RuntimeState) Resolve(o Overrides) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}

	if o.ConfigFile != "" {
		fc, err := loadConfigFile(o.ConfigFile)
		if err != nil {
			return err
		}
		s.applyFileConfig(fc)
	}

	s.llmMode = EnforcementMode(envOr("AGENTSEC_API_MODE_LLM", string(s.llmMode)))
	s.mcpMode = EnforcementMode(envOr("AGENTSEC_API_MODE_MCP", string(s.mcpMode)))
	s.llmIntegrationMode = IntegrationMode(envOr("AGENTSEC_LLM_INTEGRATION_MODE", string(s.llmIntegrationMode)))
	s.mcpIntegrationMode = IntegrationMode(envOr("AGENTSEC_MCP_INTEGRATION_MODE", string(s.mcpIntegrationMode)))
	s.apiModeLLMEndpoint = envOr("AI_DEFENSE_API_MODE_LLM_ENDPOINT", s.apiModeLLMEndpoint)
	s.apiModeLLMAPIKey = envOr("AI_DEFENSE_API_MODE_LLM_API_KEY", s.apiModeLLMAPIKey)
	// MCP endpoint/key fall back to the LLM values per the external
	// interface contract.
	s.apiModeMCPEndpoint = envOr("AI_DEFENSE_API_MODE_MCP_ENDPOINT", envOr("AI_DEFENSE_API_MODE_LLM_ENDPOINT", s.apiModeLLMEndpoint))
	s.apiModeMCPAPIKey = envOr("AI_DEFENSE_API_MODE_MCP_API_KEY", envOr("AI_DEFENSE_API_MODE_LLM_API_KEY", s.apiModeLLMAPIKey))
	s.apiModeFailOpenLLM = envBoolOr("AGENTSEC_FAIL_OPEN_LLM", s.apiModeFailOpenLLM)
	s.apiModeFailOpenMCP = envBoolOr("AGENTSEC_FAIL_OPEN_MCP", s.apiModeFailOpenMCP)
	s.gatewayFailOpenLLM = envBoolOr("AGENTSEC_GATEWAY_FAIL_OPEN_LLM", s.gatewayFailOpenLLM)
	s.gatewayFailOpenMCP = envBoolOr("AGENTSEC_GATEWAY_FAIL_OPEN_MCP", s.gatewayFailOpenMCP)
	s.region = envOr("AGENTSEC_REGION", s.region)

	// Per-provider gateway env vars: AGENTSEC_<PROVIDER>_GATEWAY_URL /
	// _GATEWAY_API_KEY for the well-known provider set, so env-only
	// configuration works without a code-side provider list. Still part
	// of the env tier: the setter and explicit tiers below override
	// these like any other field.
	for _, name := range []string{"openai", "bedrock", "vertexai", "azure"} {
		cfg := s.providers[name]
		upper := strings.ToUpper(name)
		cfg.URL = envOr("AGENTSEC_"+upper+"_GATEWAY_URL", cfg.URL)
		cfg.APIKey = envOr("AGENTSEC_"+upper+"_GATEWAY_API_KEY", cfg.APIKey)
		if cfg.URL != "" || cfg.APIKey != "" {
			s.providers[name] = cfg
		}
	}

	s.mcpGatewayURL = envOr("AGENTSEC_MCP_GATEWAY_URL", s.mcpGatewayURL)
	s.mcpGatewayAPIKey = envOr("AGENTSEC_MCP_GATEWAY_API_KEY", s.mcpGatewayAPIKey)
	s.mcpGatewayMode = envOr("AGENTSEC_MCP_GATEWAY_MODE", s.mcpGatewayMode)

	// Process-wide setters rank above env, the explicit argument above
	// both.
	s.applyOverrides(currentProcessDefaults())
	s.applyOverrides(o)

	// Region table is a lower-priority default than an explicit
	// endpoint: only fill in an endpoint still unset after everything
	// else.
	if s.apiModeLLMEndpoint == "" && s.region != "" {
		if ep, ok := DefaultRegionEndpoints[strings.ToLower(s.region)]; ok {
			s.apiModeLLMEndpoint = ep
			if s.apiModeMCPEndpoint == "" {
				s.apiModeMCPEndpoint = ep
			}
		}
	}

	// MCP endpoint/key still unset after every tier fall back to the
	// resolved LLM values.
	if s.apiModeMCPEndpoint == "" {
		s.apiModeMCPEndpoint = s.apiModeLLMEndpoint
	}
	if s.apiModeMCPAPIKey == "" {
		s.apiModeMCPAPIKey = s.apiModeLLMAPIKey
	}

	s.initialized = true
	return nil
}

// applyOverrides copies every set (non-zero) field of o onto s. Called
// once per upper resolution tier, in ascending priority order, under
// s.mu.
func (s *RuntimeState) applyOverrides(o Overrides) {
	if o.LLMMode != "" {
		s.llmMode = o.LLMMode
	}
	if o.MCPMode != "" {
		s.mcpMode = o.MCPMode
	}
	if o.LLMIntegrationMode != "" {
		s.llmIntegrationMode = o.LLMIntegrationMode
	}
	if o.MCPIntegrationMode != "" {
		s.mcpIntegrationMode = o.MCPIntegrationMode
	}
	if o.APIModeLLMEndpoint != "" {
		s.apiModeLLMEndpoint = o.APIModeLLMEndpoint
	}
	if o.APIModeLLMAPIKey != "" {
		s.apiModeLLMAPIKey = o.APIModeLLMAPIKey
	}
	if o.APIModeMCPEndpoint != "" {
		s.apiModeMCPEndpoint = o.APIModeMCPEndpoint
	}
	if o.APIModeMCPAPIKey != "" {
		s.apiModeMCPAPIKey = o.APIModeMCPAPIKey
	}
	if o.Region != "" {
		s.region = o.Region
	}
	for name, cfg := range o.Providers {
		existing := s.providers[name]
		if cfg.URL != "" {
			existing.URL = cfg.URL
		}
		if cfg.APIKey != "" {
			existing.APIKey = cfg.APIKey
		}
		s.providers[name] = existing
	}
	if len(o.LLMRules) > 0 {
		s.llmRules = o.LLMRules
	}
}

func (s *RuntimeState) LLMMode() EnforcementMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.llmMode
}

func (s *RuntimeState) MCPMode() EnforcementMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mcpMode
}

func (s *RuntimeState) LLMIntegrationMode() IntegrationMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.llmIntegrationMode
}

func (s *RuntimeState) MCPIntegrationMode() IntegrationMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mcpIntegrationMode
}

func (s *RuntimeState) APIModeLLMEndpoint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apiModeLLMEndpoint
}

func (s *RuntimeState) APIModeLLMAPIKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apiModeLLMAPIKey
}

func (s *RuntimeState) APIModeMCPEndpoint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apiModeMCPEndpoint
}

func (s *RuntimeState) APIModeMCPAPIKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apiModeMCPAPIKey
}

func (s *RuntimeState) FailOpenLLM() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apiModeFailOpenLLM
}

func (s *RuntimeState) FailOpenMCP() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apiModeFailOpenMCP
}

func (s *RuntimeState) GatewayFailOpenLLM() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gatewayFailOpenLLM
}

func (s *RuntimeState) GatewayFailOpenMCP() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gatewayFailOpenMCP
}

func (s *RuntimeState) MCPGatewayURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mcpGatewayURL
}

func (s *RuntimeState) MCPGatewayAPIKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mcpGatewayAPIKey
}

func (s *RuntimeState) MCPGatewayMode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mcpGatewayMode
}

// Provider returns the gateway config for name and whether one was
// configured.
func (s *RuntimeState) Provider(name string) (GatewayConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.providers[name]
	return cfg, ok
}

func (s *RuntimeState) LLMRules() []RuleSpec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RuleSpec, len(s.llmRules))
	copy(out, s.llmRules)
	return out
}

// Initialized reports whether Resolve has run; configuration is
// frozen once true.
func (s *RuntimeState) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}
