package inspect

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/cisco-ai-defense/agentsec-go/agentsec"
	"github.com/cisco-ai-defense/agentsec-go/agentsec/httpclient"
	"github.com/cisco-ai-defense/agentsec-go/agentsec/obslog"
)

const chatInspectPath = "/v1/inspect/chat"

// ChatClient is the direct-use chat inspection client, for
// applications that call AI Defense themselves rather than through a
// wrapped provider client.
type ChatClient struct {
	Client   *httpclient.Client
	Endpoint string // base URL; chatInspectPath is appended
	APIKey   string
	Logger   *zap.Logger
}

func (c *ChatClient) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return obslog.For("inspect.chat")
}

// InspectPrompt inspects a single user prompt.
func (c *ChatClient) InspectPrompt(ctx context.Context, prompt string, metadata Metadata, config *InspectionConfig) (*InspectResponse, error) {
	return c.inspect(ctx, []agentsec.Message{{Role: agentsec.RoleUser, Content: prompt}}, metadata, config)
}

// InspectResponseText inspects a single assistant response. Named
// InspectResponseText (not InspectResponse) to avoid colliding with
// the InspectResponse result type.
func (c *ChatClient) InspectResponseText(ctx context.Context, response string, metadata Metadata, config *InspectionConfig) (*InspectResponse, error) {
	return c.inspect(ctx, []agentsec.Message{{Role: agentsec.RoleAssistant, Content: response}}, metadata, config)
}

// InspectConversation inspects a full multi-turn conversation.
// Beyond per-message validation, a conversation may not open on an
// assistant turn with no preceding user message.
func (c *ChatClient) InspectConversation(ctx context.Context, messages []agentsec.Message, metadata Metadata, config *InspectionConfig) (*InspectResponse, error) {
	if err := validateConversationOpening(messages); err != nil {
		return nil, err
	}
	return c.inspect(ctx, messages, metadata, config)
}

func validateConversationOpening(messages []agentsec.Message) error {
	sawUser := false
	for _, m := range messages {
		if m.Role == agentsec.RoleUser {
			sawUser = true
		}
		if m.Role == agentsec.RoleAssistant && !sawUser {
			return httpclient.NewValidationError("a conversation cannot open on an assistant message with no prior user turn")
		}
	}
	return nil
}

func (c *ChatClient) inspect(ctx context.Context, messages []agentsec.Message, metadata Metadata, config *InspectionConfig) (*InspectResponse, error) {
	if err := validateMessages(messages); err != nil {
		return nil, err
	}

	payload := map[string]any{"messages": chatWireMessages(messages)}
	if metadata != nil {
		payload["metadata"] = metadata
	}
	if config != nil && len(config.Rules) > 0 {
		payload["rules"] = config.Rules
	}

	if ce := c.logger().Check(zap.DebugLevel, "dispatching chat inspection request"); ce != nil {
		model, _ := metadata["model"].(string)
		ce.Write(zap.Int("message_count", len(messages)), zap.String("last_message_preview", truncateForLogging(model, messages[len(messages)-1].Content)))
	}

	resp, err := c.Client.Do(ctx, httpclient.Request{
		Method:  http.MethodPost,
		URL:     strings.TrimRight(c.Endpoint, "/") + chatInspectPath,
		Headers: map[string]string{"X-Cisco-AI-Defense-API-Key": c.APIKey},
		JSON:    payload,
	})
	if err != nil {
		c.logger().Warn("chat inspection request failed", zap.Error(err))
		return nil, err
	}

	var parsed InspectResponse
	if err := resp.JSON(&parsed); err != nil {
		return nil, err
	}
	parsed.Decision = decisionFromInspectResponse(parsed)
	return &parsed, nil
}

// validateMessages checks the canonical request shape: non-empty
// list, valid roles, non-empty string content, at least one
// user-or-assistant message with non-blank content.
func validateMessages(messages []agentsec.Message) error {
	if len(messages) == 0 {
		return httpclient.NewValidationError("'messages' must be a non-empty list")
	}
	hasPrompt, hasCompletion := false, false
	for _, m := range messages {
		if strings.TrimSpace(m.Content) == "" {
			return httpclient.NewValidationError("each message must have non-empty string content")
		}
		switch m.Role {
		case agentsec.RoleUser:
			hasPrompt = true
		case agentsec.RoleAssistant:
			hasCompletion = true
		case agentsec.RoleSystem:
		default:
			return httpclient.NewValidationError("message role must be one of: user, assistant, system")
		}
	}
	if !hasPrompt && !hasCompletion {
		return httpclient.NewValidationError("at least one message must be a prompt (role=user) or completion (role=assistant) with non-empty content")
	}
	return nil
}

func chatWireMessages(messages []agentsec.Message) []map[string]string {
	wire := make([]map[string]string, len(messages))
	for i, m := range messages {
		wire[i] = map[string]string{"role": string(m.Role), "content": m.Content}
	}
	return wire
}

// decisionFromInspectResponse maps a parsed InspectResponse onto a
// Decision: non-empty sanitized_content gives sanitize, otherwise
// is_safe=false gives block and is_safe=true gives allow.
func decisionFromInspectResponse(r InspectResponse) agentsec.Decision {
	reasons := reasonsFromRulesAndClassifications(r)
	switch {
	case r.SanitizedContent != "":
		return agentsec.Sanitize(reasons, r.SanitizedContent, r)
	case !r.IsSafe:
		return agentsec.Block(reasons, r)
	default:
		return agentsec.Allow(reasons, r)
	}
}

func reasonsFromRulesAndClassifications(r InspectResponse) []string {
	var reasons []string
	for _, rule := range r.Rules {
		if rule.Classification == "" || strings.EqualFold(rule.Classification, "NONE_VIOLATION") || strings.EqualFold(rule.Classification, "NONE_SEVERITY") {
			continue
		}
		reasons = append(reasons, string(rule.RuleName)+": "+rule.Classification)
	}
	if len(reasons) > 0 {
		return reasons
	}
	if r.Explanation != "" {
		return []string{r.Explanation}
	}
	return nil
}
