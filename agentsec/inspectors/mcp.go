package inspectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cisco-ai-defense/agentsec-go/agentsec"
	"github.com/cisco-ai-defense/agentsec-go/agentsec/httpclient"
	"github.com/cisco-ai-defense/agentsec-go/agentsec/obslog"
	"github.com/cisco-ai-defense/agentsec-go/agentsec/retry"
)

const mcpInspectPath = "/api/v1/inspect/mcp"

// mcpEnvelope is the JSON-RPC 2.0 shape the MCP inspector sends and
// receives; only the fields this component reads/writes are modeled.
type mcpEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	ID      int64           `json:"id"`
}

type mcpToolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type mcpContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type mcpToolResult struct {
	Content []mcpContentBlock `json:"content"`
}

type mcpInspectResponse struct {
	Action          string         `json:"action"`
	IsSafe          *bool          `json:"is_safe"`
	Severity        string         `json:"severity"`
	Rules           []ruleResponse `json:"rules"`
	Explanation     string         `json:"explanation"`
	AttackTechnique string         `json:"attack_technique"`
	// Some deployments nest the decision under "result" per the
	// JSON-RPC response envelope.
	Result *mcpInspectResponse `json:"result"`
}

// MCPInspector is the API-mode MCP inspector: it wraps tool calls and
// tool results in JSON-RPC 2.0 envelopes and POSTs them to AI
// Defense's MCP inspection endpoint.
type MCPInspector struct {
	Client        *httpclient.Client
	Endpoint      string
	APIKey        string
	FailOpen      bool
	RetryAttempts int
	Logger        *zap.Logger

	nextID atomic.Int64
}

func (i *MCPInspector) logger() *zap.Logger {
	if i.Logger != nil {
		return i.Logger
	}
	return obslog.For("inspectors.mcp")
}

// NormalizeEndpoint strips a trailing /api or /api/v1/inspect/mcp
// suffix from a user-supplied endpoint to derive the base, then
// appends /api/v1/inspect/mcp.
func NormalizeEndpoint(endpoint string) string {
	base := strings.TrimRight(endpoint, "/")
	base = strings.TrimSuffix(base, mcpInspectPath)
	base = strings.TrimSuffix(base, "/api")
	return base + mcpInspectPath
}

func (i *MCPInspector) nextJSONRPCID() int64 {
	return i.nextID.Add(1)
}

// InspectRequest builds and sends the pre-call JSON-RPC envelope for
// a tools/call invocation.
func (i *MCPInspector) InspectRequest(ctx context.Context, toolName string, arguments map[string]any, metadata map[string]any) (agentsec.Decision, error) {
	params, err := json.Marshal(mcpToolCallParams{Name: toolName, Arguments: arguments})
	if err != nil {
		return agentsec.Decision{}, httpclient.NewValidationError(fmt.Sprintf("failed to encode tool arguments: %v", err))
	}
	env := mcpEnvelope{JSONRPC: "2.0", Method: "tools/call", Params: params, ID: i.nextJSONRPCID()}
	return i.send(ctx, env)
}

// InspectResponse builds and sends the post-call JSON-RPC envelope
// carrying the tool's result.
func (i *MCPInspector) InspectResponse(ctx context.Context, toolName string, arguments map[string]any, result any, metadata map[string]any) (agentsec.Decision, error) {
	text := serializeToolResult(result)
	resultJSON, err := json.Marshal(mcpToolResult{Content: []mcpContentBlock{{Type: "text", Text: text}}})
	if err != nil {
		return agentsec.Decision{}, httpclient.NewValidationError(fmt.Sprintf("failed to encode tool result: %v", err))
	}
	env := mcpEnvelope{JSONRPC: "2.0", Result: resultJSON, ID: i.nextJSONRPCID()}
	return i.send(ctx, env)
}

func serializeToolResult(result any) string {
	switch v := result.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}

// InspectRequestAsync is the channel-based variant of InspectRequest;
// it delivers exactly one InspectResult.
func (i *MCPInspector) InspectRequestAsync(ctx context.Context, toolName string, arguments map[string]any, metadata map[string]any) <-chan InspectResult {
	out := make(chan InspectResult, 1)
	go func() {
		d, err := i.InspectRequest(ctx, toolName, arguments, metadata)
		out <- InspectResult{Decision: d, Err: err}
		close(out)
	}()
	return out
}

// InspectResponseAsync is the channel-based variant of InspectResponse;
// it delivers exactly one InspectResult.
func (i *MCPInspector) InspectResponseAsync(ctx context.Context, toolName string, arguments map[string]any, result any, metadata map[string]any) <-chan InspectResult {
	out := make(chan InspectResult, 1)
	go func() {
		d, err := i.InspectResponse(ctx, toolName, arguments, result, metadata)
		out <- InspectResult{Decision: d, Err: err}
		close(out)
	}()
	return out
}

func (i *MCPInspector) retryPolicy() *retry.Policy {
	total := i.RetryAttempts
	if total < 1 {
		total = 1
	}
	return &retry.Policy{Total: total, BackoffFactor: 0.5}
}

func (i *MCPInspector) send(ctx context.Context, env mcpEnvelope) (agentsec.Decision, error) {
	start := time.Now()
	defer func() { agentsec.ObserveInspectionLatency("mcp", time.Since(start).Seconds()) }()

	var resp *httpclient.Response
	lastErr := retry.Do(ctx, i.retryPolicy(), i.logger(), func() error {
		r, err := i.Client.Do(ctx, httpclient.Request{
			Method:      http.MethodPost,
			URL:         NormalizeEndpoint(i.Endpoint),
			Headers:     map[string]string{apiKeyHeader: i.APIKey},
			JSON:        env,
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

	var parsed mcpInspectResponse
	if err := resp.JSON(&parsed); err != nil {
		return i.failureDecision(err)
	}
	if parsed.Result != nil {
		parsed = *parsed.Result
	}
	decision := decisionFromMCPResponse(parsed)
	agentsec.RecordInspection("mcp", decision.Action())
	return decision, nil
}

func (i *MCPInspector) failureDecision(err error) (agentsec.Decision, error) {
	if i.FailOpen {
		i.logger().Warn("MCP inspection failed, failing open", zap.Error(err))
		return agentsec.Allow([]string{fmt.Sprintf("API error (%T), fail_open=True", err)}, nil), nil
	}
	d := agentsec.Block([]string{fmt.Sprintf("API error: %v", err)}, nil)
	return d, agentsec.NewSecurityPolicyError("MCP inspection failed and fail_open is disabled", d)
}

func decisionFromMCPResponse(parsed mcpInspectResponse) agentsec.Decision {
	unsafe := strings.EqualFold(parsed.Action, "Block") || (parsed.IsSafe != nil && !*parsed.IsSafe)
	if unsafe {
		return agentsec.Block(mcpReasons(parsed), parsed)
	}
	// The "Unsafe content detected" fallback chain only applies to
	// unsafe verdicts; a clean allow keeps whatever the rules said.
	return agentsec.Allow(reasonsFromRules(parsed.Rules), parsed)
}

func mcpReasons(parsed mcpInspectResponse) []string {
	if r := reasonsFromRules(parsed.Rules); len(r) > 0 {
		return r
	}
	if parsed.Explanation != "" {
		return []string{parsed.Explanation}
	}
	if parsed.AttackTechnique != "" && !strings.EqualFold(parsed.AttackTechnique, "NONE_ATTACK_TECHNIQUE") {
		return []string{parsed.AttackTechnique}
	}
	return []string{fmt.Sprintf("Unsafe content detected (severity: %s)", parsed.Severity)}
}
