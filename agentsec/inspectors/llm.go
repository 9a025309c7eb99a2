// Package inspectors implements the API-mode and Gateway-mode LLM/MCP
// inspectors: they build canonical inspection payloads, call AI
// Defense, and parse the responses into agentsec.Decision values.
package inspectors

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cisco-ai-defense/agentsec-go/agentsec"
	"github.com/cisco-ai-defense/agentsec-go/agentsec/httpclient"
	"github.com/cisco-ai-defense/agentsec-go/agentsec/obslog"
	"github.com/cisco-ai-defense/agentsec-go/agentsec/retry"
)

const (
	chatInspectPath = "/v1/inspect/chat"
	apiKeyHeader    = "X-Cisco-AI-Defense-API-Key"
)

var noneClassifications = map[string]bool{
	"":               true,
	"NONE_VIOLATION": true,
	"NONE_SEVERITY":  true,
}

// ruleResponse is the wire shape of one entry in the response's
// rules/processed_rules arrays.
type ruleResponse struct {
	RuleName       string `json:"rule_name"`
	Classification string `json:"classification"`
}

type chatInspectResponse struct {
	Action           string         `json:"action"`
	IsSafe           *bool          `json:"is_safe"`
	Reasons          []string       `json:"reasons"`
	Rules            []ruleResponse `json:"rules"`
	ProcessedRules   []ruleResponse `json:"processed_rules"`
	SanitizedContent string         `json:"sanitized_content"`
}

// LLMInspector is the API-mode LLM inspector: it POSTs canonical
// message lists to AI Defense's chat inspection endpoint and parses
// the verdict into a Decision.
type LLMInspector struct {
	Client        *httpclient.Client
	Endpoint      string
	APIKey        string
	FailOpen      bool
	RetryAttempts int
	DefaultRules  []agentsec.RuleSpec
	Logger        *zap.Logger
}

func (i *LLMInspector) logger() *zap.Logger {
	if i.Logger != nil {
		return i.Logger
	}
	return obslog.For("inspectors.llm")
}

func (i *LLMInspector) retryPolicy() *retry.Policy {
	total := i.RetryAttempts
	if total < 1 {
		total = 1
	}
	return &retry.Policy{Total: total, BackoffFactor: 0.5, MaxDelay: 0}
}

type chatInspectRequest struct {
	Messages []agentsec.Message `json:"messages"`
	Metadata map[string]any     `json:"metadata,omitempty"`
	Rules    []ruleRef          `json:"rules,omitempty"`
}

type ruleRef struct {
	RuleName string `json:"rule_name"`
}

// Inspect runs the pre- or post-call inspection for one canonical
// message list and returns a Decision. On exhausted retries it honors
// FailOpen: allow with a recorded reason, or a SecurityPolicyError
// carrying a block Decision.
func (i *LLMInspector) Inspect(ctx context.Context, messages []agentsec.Message, metadata map[string]any) (agentsec.Decision, error) {
	start := time.Now()
	defer func() { agentsec.ObserveInspectionLatency("llm", time.Since(start).Seconds()) }()

	payload := chatInspectRequest{Messages: messages, Metadata: metadata}
	if len(i.DefaultRules) > 0 {
		for _, r := range i.DefaultRules {
			payload.Rules = append(payload.Rules, ruleRef{RuleName: r.RuleName})
		}
	}

	var resp *httpclient.Response
	lastErr := retry.Do(ctx, i.retryPolicy(), i.logger(), func() error {
		r, err := i.Client.Do(ctx, httpclient.Request{
			Method:      http.MethodPost,
			URL:         strings.TrimRight(i.Endpoint, "/") + chatInspectPath,
			Headers:     map[string]string{apiKeyHeader: i.APIKey},
			JSON:        payload,
			RetryPolicy: &retry.Policy{Total: 1},
		})
		if err != nil {
			return err
		}
		resp = r
		return nil
	})

	if lastErr != nil {
		return i.failureDecision(lastErr)
	}

	var parsed chatInspectResponse
	if err := resp.JSON(&parsed); err != nil {
		return i.failureDecision(err)
	}
	decision := decisionFromChatResponse(parsed)
	agentsec.RecordInspection("llm", decision.Action())
	return decision, nil
}

// InspectResult is the value delivered by the async inspector
// variants: the Decision and the error Inspect would have returned.
type InspectResult struct {
	Decision agentsec.Decision
	Err      error
}

// InspectAsync runs Inspect on its own goroutine and returns a channel
// that receives exactly one InspectResult. Each call drives its own
// request over the shared connection pool, so concurrent inspections
// from any mix of goroutines are safe.
func (i *LLMInspector) InspectAsync(ctx context.Context, messages []agentsec.Message, metadata map[string]any) <-chan InspectResult {
	out := make(chan InspectResult, 1)
	go func() {
		d, err := i.Inspect(ctx, messages, metadata)
		out <- InspectResult{Decision: d, Err: err}
		close(out)
	}()
	return out
}

func (i *LLMInspector) failureDecision(err error) (agentsec.Decision, error) {
	if i.FailOpen {
		i.logger().Warn("LLM inspection failed, failing open", zap.Error(err))
		return agentsec.Allow([]string{fmt.Sprintf("API error (%T), fail_open=True", err)}, nil), nil
	}
	d := agentsec.Block([]string{fmt.Sprintf("API error: %v", err)}, nil)
	return d, agentsec.NewSecurityPolicyError("LLM inspection failed and fail_open is disabled", d)
}

func decisionFromChatResponse(parsed chatInspectResponse) agentsec.Decision {
	reasons := reasonsFromChatResponse(parsed)
	action := strings.ToLower(parsed.Action)
	switch action {
	case "block":
		return agentsec.Block(reasons, parsed)
	case "sanitize":
		return agentsec.Sanitize(reasons, parsed.SanitizedContent, parsed)
	case "monitor_only":
		return agentsec.MonitorOnly(reasons, parsed)
	default:
		return agentsec.Allow(reasons, parsed)
	}
}

func reasonsFromChatResponse(parsed chatInspectResponse) []string {
	if len(parsed.Reasons) > 0 {
		return parsed.Reasons
	}
	if r := reasonsFromRules(parsed.Rules); len(r) > 0 {
		return r
	}
	return reasonsFromRules(parsed.ProcessedRules)
}

func reasonsFromRules(rules []ruleResponse) []string {
	var out []string
	for _, r := range rules {
		if noneClassifications[strings.ToUpper(r.Classification)] {
			continue
		}
		out = append(out, fmt.Sprintf("%s: %s", r.RuleName, r.Classification))
	}
	return out
}
