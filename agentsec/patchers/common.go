package patchers

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/cisco-ai-defense/agentsec-go/agentsec"
	"github.com/cisco-ai-defense/agentsec-go/agentsec/inspectors"
	"github.com/cisco-ai-defense/agentsec-go/agentsec/obslog"
)

// Provider names used as registry keys and gateway config lookups.
const (
	ProviderOpenAI   = "openai"
	ProviderBedrock  = "bedrock"
	ProviderMCP      = "mcp"
	ProviderVertexAI = "vertexai"
)

// llmInspectorCache lazily builds one LLMInspector per Runtime. The
// singleflight.Group collapses concurrent first-callers for the same
// Runtime onto one construction; once an entry exists the read path
// only takes the RLock.
type llmInspectorCache struct {
	mu    sync.RWMutex
	byRT  map[*agentsec.Runtime]*inspectors.LLMInspector
	group singleflight.Group
}

var llmInspectors = llmInspectorCache{byRT: make(map[*agentsec.Runtime]*inspectors.LLMInspector)}

func (c *llmInspectorCache) get(rt *agentsec.Runtime) *inspectors.LLMInspector {
	c.mu.RLock()
	if ins, ok := c.byRT[rt]; ok {
		c.mu.RUnlock()
		return ins
	}
	c.mu.RUnlock()

	v, _, _ := c.group.Do(fmt.Sprintf("%p", rt), func() (any, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if ins, ok := c.byRT[rt]; ok {
			return ins, nil
		}
		ins := &inspectors.LLMInspector{
			Client:        rt.HTTPClient,
			Endpoint:      rt.State.APIModeLLMEndpoint(),
			APIKey:        rt.State.APIModeLLMAPIKey(),
			FailOpen:      rt.State.FailOpenLLM(),
			RetryAttempts: 1,
			DefaultRules:  rt.State.LLMRules(),
			Logger:        obslog.For("patchers.llm"),
		}
		c.byRT[rt] = ins
		return ins, nil
	})
	return v.(*inspectors.LLMInspector)
}

type mcpInspectorCache struct {
	mu    sync.RWMutex
	byRT  map[*agentsec.Runtime]*inspectors.MCPInspector
	group singleflight.Group
}

var mcpInspectors = mcpInspectorCache{byRT: make(map[*agentsec.Runtime]*inspectors.MCPInspector)}

func (c *mcpInspectorCache) get(rt *agentsec.Runtime) *inspectors.MCPInspector {
	c.mu.RLock()
	if ins, ok := c.byRT[rt]; ok {
		c.mu.RUnlock()
		return ins
	}
	c.mu.RUnlock()

	v, _, _ := c.group.Do(fmt.Sprintf("%p", rt), func() (any, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if ins, ok := c.byRT[rt]; ok {
			return ins, nil
		}
		ins := &inspectors.MCPInspector{
			Client:        rt.HTTPClient,
			Endpoint:      rt.State.APIModeMCPEndpoint(),
			APIKey:        rt.State.APIModeMCPAPIKey(),
			FailOpen:      rt.State.FailOpenMCP(),
			RetryAttempts: 1,
			Logger:        obslog.For("patchers.mcp"),
		}
		c.byRT[rt] = ins
		return ins, nil
	})
	return v.(*inspectors.MCPInspector)
}

type mcpGatewayCache struct {
	mu    sync.RWMutex
	byRT  map[*agentsec.Runtime]*inspectors.MCPGateway
	group singleflight.Group
}

var mcpGateways = mcpGatewayCache{byRT: make(map[*agentsec.Runtime]*inspectors.MCPGateway)}

func (c *mcpGatewayCache) get(rt *agentsec.Runtime) *inspectors.MCPGateway {
	c.mu.RLock()
	if gw, ok := c.byRT[rt]; ok {
		c.mu.RUnlock()
		return gw
	}
	c.mu.RUnlock()

	v, _, _ := c.group.Do(fmt.Sprintf("%p", rt), func() (any, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gw, ok := c.byRT[rt]; ok {
			return gw, nil
		}
		gw := &inspectors.MCPGateway{
			URL:    rt.State.MCPGatewayURL(),
			APIKey: rt.State.MCPGatewayAPIKey(),
		}
		c.byRT[rt] = gw
		return gw, nil
	})
	return v.(*inspectors.MCPGateway)
}

func llmGatewayFor(rt *agentsec.Runtime, provider, operation string) (*inspectors.LLMGateway, bool) {
	cfg, ok := rt.State.Provider(provider)
	if !ok || cfg.URL == "" || cfg.APIKey == "" {
		return nil, false
	}
	return &inspectors.LLMGateway{
		Client:        rt.HTTPClient,
		GatewayURL:    cfg.URL,
		GatewayAPIKey: cfg.APIKey,
		Provider:      provider,
		Operation:     operation,
		FailOpen:      rt.State.GatewayFailOpenLLM(),
		Logger:        obslog.For("patchers." + provider + ".gateway"),
	}, true
}

func logger(component string) *zap.Logger { return obslog.For(component) }

// shouldInspectLLM reports whether pre/post LLM inspection should run
// for ctx: not skipped, mode != off, and no terminal decision yet for
// this logical call.
func shouldInspectLLM(ctx context.Context, rt *agentsec.Runtime) bool {
	if agentsec.SkipLLM(ctx) {
		return false
	}
	if rt.State.LLMMode() == agentsec.ModeOff {
		return false
	}
	return !agentsec.Done(ctx)
}

func shouldUseLLMGateway(ctx context.Context, rt *agentsec.Runtime, provider string) bool {
	if agentsec.SkipLLM(ctx) {
		return false
	}
	if rt.State.LLMIntegrationMode() != agentsec.IntegrationGateway {
		return false
	}
	_, ok := llmGatewayFor(rt, provider, "")
	return ok
}

func shouldInspectMCP(ctx context.Context, rt *agentsec.Runtime) bool {
	if agentsec.SkipMCP(ctx) {
		return false
	}
	if rt.State.MCPMode() == agentsec.ModeOff {
		return false
	}
	return !agentsec.Done(ctx)
}

func shouldUseMCPGateway(ctx context.Context, rt *agentsec.Runtime) bool {
	if agentsec.SkipMCP(ctx) {
		return false
	}
	if rt.State.MCPIntegrationMode() != agentsec.IntegrationGateway {
		return false
	}
	if rt.State.MCPGatewayMode() == "off" {
		return false
	}
	gw := mcpGateways.get(rt)
	return gw.GetRedirectURL() != ""
}

// enforceLLM returns a SecurityPolicyError when mode is on_enforce and
// decision is a block; under monitor the decision is only recorded.
func enforceLLM(rt *agentsec.Runtime, decision agentsec.Decision) error {
	if rt.State.LLMMode() == agentsec.ModeOnEnforce && decision.IsBlocked() {
		return agentsec.NewSecurityPolicyError("LLM call blocked by inspection policy", decision)
	}
	return nil
}

func enforceMCP(rt *agentsec.Runtime, decision agentsec.Decision) error {
	if rt.State.MCPMode() == agentsec.ModeOnEnforce && decision.IsBlocked() {
		return agentsec.NewSecurityPolicyError("MCP tool call blocked by inspection policy", decision)
	}
	return nil
}

// runtimeOrDefault returns rt if non-nil, else the process-default
// Runtime installed by the most recent Protect call.
func runtimeOrDefault(rt *agentsec.Runtime) *agentsec.Runtime {
	if rt != nil {
		return rt
	}
	return agentsec.Default()
}
