package patchers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"go.uber.org/zap"

	"github.com/cisco-ai-defense/agentsec-go/agentsec"
)

// BedrockRuntimeAPI is the subset of *bedrockruntime.Client's method
// surface this patcher intercepts: the four model-invocation
// operations. aws-sdk-go-v2 exposes one method per operation, so one
// Wrap call covers all four; non-model operations on the real client
// are untouched.
type BedrockRuntimeAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
	InvokeModelWithResponseStream(ctx context.Context, params *bedrockruntime.InvokeModelWithResponseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error)
}

// BedrockClient wraps a BedrockRuntimeAPI so that Converse,
// ConverseStream, InvokeModel and InvokeModelWithResponseStream all
// run the five-step inspection flow before and after delegating to
// the wrapped client.
type BedrockClient struct {
	inner BedrockRuntimeAPI
	rt    *agentsec.Runtime
	log   *zap.Logger

	streamMu   sync.Mutex
	lastStream *BedrockEventStream
}

// WrapBedrock returns a BedrockClient decorating client. Calling
// WrapBedrock more than once (even against a nil rt, which resolves
// to the process default) is safe: the registry mark is idempotent.
func WrapBedrock(rt *agentsec.Runtime, client BedrockRuntimeAPI) *BedrockClient {
	rt = runtimeOrDefault(rt)
	if rt != nil {
		rt.Registry.MarkPatched(ProviderBedrock)
	}
	return &BedrockClient{inner: client, rt: rt, log: logger("patchers.bedrock")}
}

const bedrockToolResultTruncateLen = 100

// Converse intercepts bedrockruntime.Client.Converse.
func (c *BedrockClient) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	ctx = agentsec.WithCallContext(ctx)
	if !shouldInspectLLM(ctx, c.rt) {
		return c.inner.Converse(ctx, params, optFns...)
	}

	modelID := ""
	if params.ModelId != nil {
		modelID = *params.ModelId
	}
	messages := normalizeConverseMessages(params.System, params.Messages)
	metadata := agentsec.Metadata(ctx)
	metadata["model_id"] = modelID

	if shouldUseLLMGateway(ctx, c.rt, ProviderBedrock) {
		return c.converseViaGateway(ctx, params, "Converse")
	}

	if len(messages) > 0 {
		decision, err := c.inspectorLLM().Inspect(ctx, messages, metadata)
		if sperr, ok := err.(*agentsec.SecurityPolicyError); ok {
			return nil, sperr
		}
		agentsec.SetDecision(ctx, decision)
		if err := enforceLLM(c.rt, decision); err != nil {
			return nil, err
		}
	}

	resp, err := c.inner.Converse(ctx, params, optFns...)
	if err != nil {
		return resp, err
	}

	if assistant := converseResponseText(resp); assistant != "" && len(messages) > 0 {
		withResponse := append(append([]agentsec.Message{}, messages...), agentsec.Message{Role: agentsec.RoleAssistant, Content: assistant})
		decision, err := c.inspectorLLM().Inspect(ctx, withResponse, metadata)
		if sperr, ok := err.(*agentsec.SecurityPolicyError); ok {
			return nil, sperr
		}
		agentsec.SetDecision(ctx, decision)
		if enfErr := enforceLLM(c.rt, decision); enfErr != nil {
			return nil, enfErr
		}
	}
	return resp, nil
}

// ConverseStream intercepts bedrockruntime.Client.ConverseStream. In
// API mode pre-inspection runs as usual; there is no post-inspection
// of the live event stream. In Gateway mode the call is answered by a
// single non-streaming gateway round trip whose response is
// reconstructed into the expected event sequence.
func (c *BedrockClient) ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	ctx = agentsec.WithCallContext(ctx)
	if !shouldInspectLLM(ctx, c.rt) {
		return c.inner.ConverseStream(ctx, params, optFns...)
	}

	if shouldUseLLMGateway(ctx, c.rt, ProviderBedrock) {
		converseParams := &bedrockruntime.ConverseInput{
			ModelId:         params.ModelId,
			Messages:        params.Messages,
			System:          params.System,
			InferenceConfig: params.InferenceConfig,
			ToolConfig:      params.ToolConfig,
		}
		_, err := c.converseViaGateway(ctx, converseParams, "ConverseStream")
		if err != nil {
			return nil, err
		}
		// converseViaGateway stored the synthesized stream on the client;
		// ConverseStreamOutput's real event-reader type cannot be
		// constructed outside the SDK, so gateway-mode callers use
		// BedrockClient.LastSynthesizedStream instead of the zero-value
		// output returned here.
		return &bedrockruntime.ConverseStreamOutput{}, nil
	}

	modelID := ""
	if params.ModelId != nil {
		modelID = *params.ModelId
	}
	messages := normalizeConverseMessages(params.System, params.Messages)
	metadata := agentsec.Metadata(ctx)
	metadata["model_id"] = modelID

	if len(messages) > 0 {
		decision, err := c.inspectorLLM().Inspect(ctx, messages, metadata)
		if sperr, ok := err.(*agentsec.SecurityPolicyError); ok {
			return nil, sperr
		}
		agentsec.SetDecision(ctx, decision)
		if err := enforceLLM(c.rt, decision); err != nil {
			return nil, err
		}
	}
	return c.inner.ConverseStream(ctx, params, optFns...)
}

// converseViaGateway forwards a Converse request to the Bedrock gateway
// and parses the Converse-shaped response. For a streaming operation it
// also synthesizes the fake event stream and stores it as the client's
// single most recent stream (read through LastSynthesizedStream; each
// call replaces the previous one), because a typed ConverseStreamOutput
// cannot be constructed outside the AWS SDK itself (its event reader is
// unexported).
func (c *BedrockClient) converseViaGateway(ctx context.Context, params *bedrockruntime.ConverseInput, operation string) (*bedrockruntime.ConverseOutput, error) {
	gw, ok := llmGatewayFor(c.rt, ProviderBedrock, operation)
	if !ok {
		d := agentsec.Block([]string{"Bedrock gateway not configured"}, nil)
		return nil, agentsec.NewSecurityPolicyError("gateway mode enabled but Bedrock gateway is not configured", d)
	}

	native := map[string]any{"modelId": params.ModelId, "messages": params.Messages}
	if params.System != nil {
		native["system"] = params.System
	}
	if params.InferenceConfig != nil {
		native["inferenceConfig"] = params.InferenceConfig
	}
	if params.ToolConfig != nil {
		native["toolConfig"] = params.ToolConfig
	}

	body, decision, err := gw.Forward(ctx, native)
	agentsec.SetDecision(ctx, decision)
	if err != nil {
		return nil, err
	}

	var parsed BedrockConverseResponse
	if jsonErr := json.Unmarshal(body, &parsed); jsonErr != nil {
		d := agentsec.Block([]string{fmt.Sprintf("malformed gateway response: %v", jsonErr)}, nil)
		return nil, agentsec.NewSecurityPolicyError("bedrock gateway returned an unparsable response", d)
	}

	if strings.HasSuffix(operation, "Stream") {
		stream := SynthesizeBedrockStream(parsed)
		c.setLastStream(stream)
		c.log.Debug("synthesized streaming response from gateway",
			zap.String("operation", operation), zap.Int("events", stream.Len()))
	}

	out := &bedrockruntime.ConverseOutput{StopReason: types.StopReason(parsed.StopReason)}
	return out, nil
}

// LastSynthesizedStream returns the fake event stream built by the
// most recent Gateway-mode ConverseStream/InvokeModelWithResponseStream
// call, or nil if none has run yet.
func (c *BedrockClient) LastSynthesizedStream() *BedrockEventStream {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	return c.lastStream
}

func (c *BedrockClient) setLastStream(s *BedrockEventStream) {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	c.lastStream = s
}

// InvokeModel intercepts bedrockruntime.Client.InvokeModel.
func (c *BedrockClient) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	ctx = agentsec.WithCallContext(ctx)
	if !shouldInspectLLM(ctx, c.rt) {
		return c.inner.InvokeModel(ctx, params, optFns...)
	}

	modelID := ""
	if params.ModelId != nil {
		modelID = *params.ModelId
	}

	if shouldUseLLMGateway(ctx, c.rt, ProviderBedrock) {
		return c.invokeModelViaGateway(ctx, params, "InvokeModel")
	}

	var body map[string]any
	_ = json.Unmarshal(params.Body, &body)
	messages := normalizeInvokeModelMessages(body)
	metadata := agentsec.Metadata(ctx)
	metadata["model_id"] = modelID

	if len(messages) > 0 {
		decision, err := c.inspectorLLM().Inspect(ctx, messages, metadata)
		if sperr, ok := err.(*agentsec.SecurityPolicyError); ok {
			return nil, sperr
		}
		agentsec.SetDecision(ctx, decision)
		if err := enforceLLM(c.rt, decision); err != nil {
			return nil, err
		}
	}

	resp, err := c.inner.InvokeModel(ctx, params, optFns...)
	if err != nil {
		return resp, err
	}

	var respBody map[string]any
	_ = json.Unmarshal(resp.Body, &respBody)
	if assistant := invokeModelResponseText(respBody); assistant != "" && len(messages) > 0 {
		withResponse := append(append([]agentsec.Message{}, messages...), agentsec.Message{Role: agentsec.RoleAssistant, Content: assistant})
		decision, err := c.inspectorLLM().Inspect(ctx, withResponse, metadata)
		if sperr, ok := err.(*agentsec.SecurityPolicyError); ok {
			return nil, sperr
		}
		agentsec.SetDecision(ctx, decision)
		if enfErr := enforceLLM(c.rt, decision); enfErr != nil {
			return nil, enfErr
		}
	}
	return resp, nil
}

// InvokeModelWithResponseStream intercepts the streaming InvokeModel
// variant; see ConverseStream's doc comment for the deferred
// post-inspection / Gateway synthesis rationale.
func (c *BedrockClient) InvokeModelWithResponseStream(ctx context.Context, params *bedrockruntime.InvokeModelWithResponseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error) {
	ctx = agentsec.WithCallContext(ctx)
	if !shouldInspectLLM(ctx, c.rt) {
		return c.inner.InvokeModelWithResponseStream(ctx, params, optFns...)
	}

	if shouldUseLLMGateway(ctx, c.rt, ProviderBedrock) {
		invokeParams := &bedrockruntime.InvokeModelInput{ModelId: params.ModelId, Body: params.Body, ContentType: params.ContentType}
		if _, err := c.invokeModelViaGateway(ctx, invokeParams, "InvokeModelWithResponseStream"); err != nil {
			return nil, err
		}
		return &bedrockruntime.InvokeModelWithResponseStreamOutput{}, nil
	}

	var body map[string]any
	_ = json.Unmarshal(params.Body, &body)
	messages := normalizeInvokeModelMessages(body)
	metadata := agentsec.Metadata(ctx)
	if params.ModelId != nil {
		metadata["model_id"] = *params.ModelId
	}

	if len(messages) > 0 {
		decision, err := c.inspectorLLM().Inspect(ctx, messages, metadata)
		if sperr, ok := err.(*agentsec.SecurityPolicyError); ok {
			return nil, sperr
		}
		agentsec.SetDecision(ctx, decision)
		if err := enforceLLM(c.rt, decision); err != nil {
			return nil, err
		}
	}
	return c.inner.InvokeModelWithResponseStream(ctx, params, optFns...)
}

func (c *BedrockClient) invokeModelViaGateway(ctx context.Context, params *bedrockruntime.InvokeModelInput, operation string) (*bedrockruntime.InvokeModelOutput, error) {
	gw, ok := llmGatewayFor(c.rt, ProviderBedrock, operation)
	if !ok {
		d := agentsec.Block([]string{"Bedrock gateway not configured"}, nil)
		return nil, agentsec.NewSecurityPolicyError("gateway mode enabled but Bedrock gateway is not configured", d)
	}

	var native map[string]any
	_ = json.Unmarshal(params.Body, &native)
	if native == nil {
		native = map[string]any{}
	}
	if params.ModelId != nil {
		native["modelId"] = *params.ModelId
	}

	body, decision, err := gw.Forward(ctx, native)
	agentsec.SetDecision(ctx, decision)
	if err != nil {
		return nil, err
	}

	if strings.HasSuffix(operation, "Stream") {
		var parsed BedrockConverseResponse
		_ = json.Unmarshal(body, &parsed)
		stream := SynthesizeBedrockStream(parsed)
		c.setLastStream(stream)
		c.log.Debug("synthesized streaming response from gateway",
			zap.String("operation", operation), zap.Int("events", stream.Len()))
	}

	return &bedrockruntime.InvokeModelOutput{Body: body}, nil
}

func (c *BedrockClient) inspectorLLM() *inspectorLLMRef { return &inspectorLLMRef{c.rt} }

// inspectorLLMRef is a tiny indirection so BedrockClient (and the
// other provider patchers) share one lazily-built LLMInspector per
// Runtime via llmInspectors.get, without importing inspectors types
// into every call site.
type inspectorLLMRef struct{ rt *agentsec.Runtime }

func (r *inspectorLLMRef) Inspect(ctx context.Context, messages []agentsec.Message, metadata map[string]any) (agentsec.Decision, error) {
	return llmInspectors.get(r.rt).Inspect(ctx, messages, metadata)
}

// --- normalization helpers ---

func normalizeConverseMessages(system []types.SystemContentBlock, messages []types.Message) []agentsec.Message {
	var out []agentsec.Message
	if text := flattenSystemBlocks(system); text != "" {
		out = append(out, agentsec.Message{Role: agentsec.RoleSystem, Content: text})
	}
	for _, msg := range messages {
		text := flattenContentBlocks(msg.Content)
		if text == "" {
			continue
		}
		out = append(out, agentsec.Message{Role: converseRole(msg.Role), Content: text})
	}
	return out
}

func converseRole(role types.ConversationRole) agentsec.Role {
	if role == types.ConversationRoleAssistant {
		return agentsec.RoleAssistant
	}
	return agentsec.RoleUser
}

func flattenSystemBlocks(blocks []types.SystemContentBlock) string {
	var parts []string
	for _, b := range blocks {
		if m, ok := b.(*types.SystemContentBlockMemberText); ok {
			parts = append(parts, m.Value)
		}
	}
	return strings.Join(parts, " ")
}

func flattenContentBlocks(blocks []types.ContentBlock) string {
	var parts []string
	for _, block := range blocks {
		switch b := block.(type) {
		case *types.ContentBlockMemberText:
			parts = append(parts, b.Value)
		case *types.ContentBlockMemberToolUse:
			parts = append(parts, fmt.Sprintf("[Tool call: %s]", aws.ToString(b.Value.Name)))
		case *types.ContentBlockMemberToolResult:
			parts = append(parts, flattenToolResult(b.Value))
		}
	}
	return strings.Join(parts, " ")
}

func flattenToolResult(result types.ToolResultBlock) string {
	var text string
	for _, c := range result.Content {
		if m, ok := c.(*types.ToolResultContentBlockMemberText); ok {
			text = m.Value
			break
		}
	}
	if text == "" {
		return ""
	}
	if len(text) > bedrockToolResultTruncateLen {
		return fmt.Sprintf("[Tool result: %s...]", text[:bedrockToolResultTruncateLen])
	}
	return fmt.Sprintf("[Tool result: %s]", text)
}

func converseResponseText(resp *bedrockruntime.ConverseOutput) string {
	if resp == nil {
		return ""
	}
	m, ok := resp.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	return flattenContentBlocks(m.Value.Content)
}

// normalizeInvokeModelMessages handles the per-family InvokeModel
// body shapes: Claude has "messages" (+ optional "system"), Titan has
// "inputText", a generic shape has "prompt".
func normalizeInvokeModelMessages(data map[string]any) []agentsec.Message {
	if data == nil {
		return nil
	}
	var out []agentsec.Message

	if rawMessages, ok := data["messages"].([]any); ok {
		for _, raw := range rawMessages {
			msg, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			role, _ := msg["role"].(string)
			content := flattenClaudeContent(msg["content"])
			if content != "" {
				out = append(out, agentsec.Message{Role: agentsec.Role(role), Content: content})
			}
		}
		if system, ok := data["system"].(string); ok && system != "" {
			out = append([]agentsec.Message{{Role: agentsec.RoleSystem, Content: system}}, out...)
		}
		return out
	}

	if text, ok := data["inputText"].(string); ok {
		return []agentsec.Message{{Role: agentsec.RoleUser, Content: text}}
	}

	if prompt, ok := data["prompt"].(string); ok {
		return []agentsec.Message{{Role: agentsec.RoleUser, Content: prompt}}
	}

	return nil
}

func flattenClaudeContent(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var parts []string
		for _, raw := range v {
			block, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			switch block["type"] {
			case "text":
				if t, ok := block["text"].(string); ok {
					parts = append(parts, t)
				}
			case "tool_use":
				name, _ := block["name"].(string)
				parts = append(parts, fmt.Sprintf("[Tool call: %s]", name))
			case "tool_result":
				parts = append(parts, flattenClaudeToolResult(block["content"]))
			}
		}
		return strings.Join(parts, " ")
	default:
		return ""
	}
}

func flattenClaudeToolResult(content any) string {
	text, _ := content.(string)
	if text == "" {
		return ""
	}
	if len(text) > bedrockToolResultTruncateLen {
		return fmt.Sprintf("[Tool result: %s...]", text[:bedrockToolResultTruncateLen])
	}
	return fmt.Sprintf("[Tool result: %s]", text)
}

// invokeModelResponseText extracts the assistant text from an
// InvokeModel response body: Claude has "content", Titan has
// "results", else "completion" or "generation" returned as-is.
func invokeModelResponseText(data map[string]any) string {
	if data == nil {
		return ""
	}
	if content, ok := data["content"]; ok {
		switch v := content.(type) {
		case []any:
			var parts []string
			for _, raw := range v {
				block, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				if block["type"] == "text" {
					if t, ok := block["text"].(string); ok {
						parts = append(parts, t)
					}
				}
			}
			return strings.Join(parts, " ")
		case string:
			return v
		}
	}
	if results, ok := data["results"].([]any); ok {
		var parts []string
		for _, raw := range results {
			r, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if t, ok := r["outputText"].(string); ok {
				parts = append(parts, t)
			}
		}
		return strings.Join(parts, " ")
	}
	if completion, ok := data["completion"].(string); ok {
		return completion
	}
	if generation, ok := data["generation"].(string); ok {
		return generation
	}
	return ""
}
