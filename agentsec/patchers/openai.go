package patchers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/cisco-ai-defense/agentsec-go/agentsec"
)

// ChatCompletionsAPI is the subset of the OpenAI SDK's
// client.Chat.Completions service this patcher intercepts — the
// OpenAI request shape already matches the canonical message list, so
// normalization here is limited to flattening the message union into
// agentsec.Message and reading back the first choice's content.
type ChatCompletionsAPI interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIClient wraps a ChatCompletionsAPI with the five-step
// inspection flow.
type OpenAIClient struct {
	inner ChatCompletionsAPI
	rt    *agentsec.Runtime
}

// WrapOpenAI returns an OpenAIClient decorating completions (normally
// client.Chat.Completions from an *openai.Client).
func WrapOpenAI(rt *agentsec.Runtime, completions ChatCompletionsAPI) *OpenAIClient {
	rt = runtimeOrDefault(rt)
	if rt != nil {
		rt.Registry.MarkPatched(ProviderOpenAI)
	}
	return &OpenAIClient{inner: completions, rt: rt}
}

// New intercepts Chat.Completions.New.
func (c *OpenAIClient) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	ctx = agentsec.WithCallContext(ctx)
	if !shouldInspectLLM(ctx, c.rt) {
		return c.inner.New(ctx, params, opts...)
	}

	messages := normalizeOpenAIMessages(params.Messages)
	metadata := agentsec.Metadata(ctx)
	metadata["model"] = string(params.Model)

	if shouldUseLLMGateway(ctx, c.rt, ProviderOpenAI) {
		return c.viaGateway(ctx, params)
	}

	if len(messages) > 0 {
		decision, err := (&inspectorLLMRef{c.rt}).Inspect(ctx, messages, metadata)
		if sperr, ok := err.(*agentsec.SecurityPolicyError); ok {
			return nil, sperr
		}
		agentsec.SetDecision(ctx, decision)
		if err := enforceLLM(c.rt, decision); err != nil {
			return nil, err
		}
	}

	resp, err := c.inner.New(ctx, params, opts...)
	if err != nil {
		return resp, err
	}

	if assistant := openaiResponseText(resp); assistant != "" && len(messages) > 0 {
		withResponse := append(append([]agentsec.Message{}, messages...), agentsec.Message{Role: agentsec.RoleAssistant, Content: assistant})
		decision, err := (&inspectorLLMRef{c.rt}).Inspect(ctx, withResponse, metadata)
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

func (c *OpenAIClient) viaGateway(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	gw, ok := llmGatewayFor(c.rt, ProviderOpenAI, "ChatCompletions")
	if !ok {
		d := agentsec.Block([]string{"OpenAI gateway not configured"}, nil)
		return nil, agentsec.NewSecurityPolicyError("gateway mode enabled but the OpenAI gateway is not configured", d)
	}
	body, decision, err := gw.Forward(ctx, params)
	agentsec.SetDecision(ctx, decision)
	if err != nil {
		return nil, err
	}
	var resp openai.ChatCompletion
	if jsonErr := json.Unmarshal(body, &resp); jsonErr != nil {
		d := agentsec.Block([]string{"malformed gateway response"}, nil)
		return nil, agentsec.NewSecurityPolicyError("openai gateway returned an unparsable response", d)
	}
	return &resp, nil
}

func normalizeOpenAIMessages(messages []openai.ChatCompletionMessageParamUnion) []agentsec.Message {
	var out []agentsec.Message
	for _, m := range messages {
		role, text := openaiMessageText(m)
		if text == "" {
			continue
		}
		out = append(out, agentsec.Message{Role: role, Content: text})
	}
	return out
}

// openaiMessageText reads the role and flattened text content out of
// one union message param. The SDK represents ChatCompletionMessageParamUnion
// as a set of optional Of* members, one non-nil per concrete message
// type; content itself is either a plain string or an array of text
// parts depending on the message kind.
func openaiMessageText(m openai.ChatCompletionMessageParamUnion) (agentsec.Role, string) {
	switch {
	case m.OfSystem != nil:
		return agentsec.RoleSystem, stringifyOpenAIContent(&m.OfSystem.Content)
	case m.OfDeveloper != nil:
		return agentsec.RoleSystem, stringifyOpenAIContent(&m.OfDeveloper.Content)
	case m.OfUser != nil:
		return agentsec.RoleUser, stringifyOpenAIContent(&m.OfUser.Content)
	case m.OfAssistant != nil:
		return agentsec.RoleAssistant, stringifyOpenAIContent(&m.OfAssistant.Content)
	default:
		return agentsec.RoleUser, ""
	}
}

// stringifyOpenAIContent extracts plain text from a content union
// that may hold a simple string or an array of content parts. Rather
// than assume the union's internal Of*/pointer shape, it round-trips
// through the same JSON encoding the SDK itself sends on the wire,
// which every content union implements regardless of its Go-side
// representation.
func stringifyOpenAIContent(content json.Marshaler) string {
	if content == nil {
		return ""
	}
	encoded, err := content.MarshalJSON()
	if err != nil {
		return ""
	}

	var asString string
	if json.Unmarshal(encoded, &asString) == nil {
		return asString
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if json.Unmarshal(encoded, &parts) == nil {
		var out []string
		for _, p := range parts {
			if p.Type == "text" && p.Text != "" {
				out = append(out, p.Text)
			}
		}
		return strings.Join(out, " ")
	}
	return ""
}

func openaiResponseText(resp *openai.ChatCompletion) string {
	if resp == nil || len(resp.Choices) == 0 {
		return ""
	}
	return resp.Choices[0].Message.Content
}
