package inspectors

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/cisco-ai-defense/agentsec-go/agentsec"
	"github.com/cisco-ai-defense/agentsec-go/agentsec/httpclient"
	"github.com/cisco-ai-defense/agentsec-go/agentsec/obslog"
)

// LLMGateway forwards a provider-native request through the AI
// Defense Gateway instead of calling the upstream provider directly.
// The response body is the provider's native structure, returned as
// if it came from the upstream SDK.
type LLMGateway struct {
	Client        *httpclient.Client
	GatewayURL    string
	GatewayAPIKey string
	Provider      string // provider-identifying header value, e.g. "Bedrock"
	Operation     string // e.g. "Converse"
	FailOpen      bool
	Logger        *zap.Logger
}

func (g *LLMGateway) logger() *zap.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return obslog.For("inspectors.gateway_llm")
}

// Forward POSTs nativeRequest verbatim to the gateway and returns the
// raw provider-native response body on success.
//
// On failure: if FailOpen, the returned Decision is an allow
// recording the gateway error, but the original I/O error is also
// returned so the caller observes a transport failure exactly as it
// would calling the upstream provider directly. If not FailOpen, the
// returned error is a *agentsec.SecurityPolicyError wrapping a block
// Decision, and no I/O error is returned.
func (g *LLMGateway) Forward(ctx context.Context, nativeRequest any) ([]byte, agentsec.Decision, error) {
	resp, err := g.Client.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		URL:    g.GatewayURL,
		Headers: map[string]string{
			"Authorization":                   "Bearer " + g.GatewayAPIKey,
			"X-" + g.Provider + "-Operation": g.Operation,
		},
		JSON: nativeRequest,
	})
	if err != nil {
		return g.failure(err)
	}
	return resp.Body, agentsec.Allow(nil, nil), nil
}

func (g *LLMGateway) failure(err error) ([]byte, agentsec.Decision, error) {
	if g.FailOpen {
		g.logger().Warn("gateway call failed, failing open", zap.Error(err))
		d := agentsec.Allow([]string{"Gateway error, fail_open=True"}, nil)
		return nil, d, err
	}
	d := agentsec.Block([]string{fmt.Sprintf("Gateway error: %v", err)}, nil)
	return nil, d, agentsec.NewSecurityPolicyError("gateway call failed and fail_open is disabled", d)
}
