package patchers

import (
	"context"
	"encoding/json"

	"google.golang.org/genai"

	"github.com/cisco-ai-defense/agentsec-go/agentsec"
)

// ContentGenerator is the subset of genai.Models this patcher
// intercepts. The flow is the same as the OpenAI patcher's; only the
// normalization step differs since VertexAI's content shape uses
// Parts rather than a flat string/array union.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// VertexAIClient wraps a ContentGenerator with the five-step
// inspection flow.
type VertexAIClient struct {
	inner ContentGenerator
	rt    *agentsec.Runtime
}

// WrapVertexAI returns a VertexAIClient decorating models (normally
// client.Models from a *genai.Client).
func WrapVertexAI(rt *agentsec.Runtime, models ContentGenerator) *VertexAIClient {
	rt = runtimeOrDefault(rt)
	if rt != nil {
		rt.Registry.MarkPatched(ProviderVertexAI)
	}
	return &VertexAIClient{inner: models, rt: rt}
}

// GenerateContent intercepts Models.GenerateContent.
func (c *VertexAIClient) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	ctx = agentsec.WithCallContext(ctx)
	if !shouldInspectLLM(ctx, c.rt) {
		return c.inner.GenerateContent(ctx, model, contents, config)
	}

	messages := normalizeVertexAIContents(contents)
	metadata := agentsec.Metadata(ctx)
	metadata["model"] = model

	if shouldUseLLMGateway(ctx, c.rt, ProviderVertexAI) {
		return c.viaGateway(ctx, model, contents, config)
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

	resp, err := c.inner.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return resp, err
	}

	if assistant := vertexAIResponseText(resp); assistant != "" && len(messages) > 0 {
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

func (c *VertexAIClient) viaGateway(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	gw, ok := llmGatewayFor(c.rt, ProviderVertexAI, "GenerateContent")
	if !ok {
		d := agentsec.Block([]string{"VertexAI gateway not configured"}, nil)
		return nil, agentsec.NewSecurityPolicyError("gateway mode enabled but the VertexAI gateway is not configured", d)
	}
	body, decision, err := gw.Forward(ctx, struct {
		Model    string                       `json:"model"`
		Contents []*genai.Content             `json:"contents"`
		Config   *genai.GenerateContentConfig `json:"generationConfig,omitempty"`
	}{model, contents, config})
	agentsec.SetDecision(ctx, decision)
	if err != nil {
		return nil, err
	}
	var resp genai.GenerateContentResponse
	if jsonErr := json.Unmarshal(body, &resp); jsonErr != nil {
		d := agentsec.Block([]string{"malformed gateway response"}, nil)
		return nil, agentsec.NewSecurityPolicyError("vertexai gateway returned an unparsable response", d)
	}
	return &resp, nil
}

// normalizeVertexAIContents flattens genai.Content's Parts (text,
// inline data, function calls/responses) into plain-text messages;
// non-text parts are skipped since the inspection API only reasons
// over text.
func normalizeVertexAIContents(contents []*genai.Content) []agentsec.Message {
	var out []agentsec.Message
	for _, content := range contents {
		if content == nil {
			continue
		}
		role := vertexAIRole(content.Role)
		var text string
		for _, part := range content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				if text != "" {
					text += " "
				}
				text += part.Text
			}
		}
		if text == "" {
			continue
		}
		out = append(out, agentsec.Message{Role: role, Content: text})
	}
	return out
}

func vertexAIRole(role string) agentsec.Role {
	switch role {
	case "model":
		return agentsec.RoleAssistant
	case "system":
		return agentsec.RoleSystem
	default:
		return agentsec.RoleUser
	}
}

func vertexAIResponseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Text == "" {
			continue
		}
		if text != "" {
			text += " "
		}
		text += part.Text
	}
	return text
}
