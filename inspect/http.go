package inspect

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/cisco-ai-defense/agentsec-go/agentsec/httpclient"
	"github.com/cisco-ai-defense/agentsec-go/agentsec/obslog"
)

const httpInspectPath = "/api/v1/inspect/http"

var validHTTPMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodPatch: true, http.MethodDelete: true, http.MethodHead: true,
	http.MethodOptions: true,
}

// HeaderKV is one entry of a canonical header key/value list — the
// wire shape uses an ordered list rather than a map so repeated header
// names round-trip.
type HeaderKV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// HttpReqObject is the canonical request shape on the wire.
type HttpReqObject struct {
	Method  string     `json:"method"`
	Headers []HeaderKV `json:"headers,omitempty"`
	Body    string     `json:"body"`
}

// HttpResObject is the canonical response shape on the wire.
type HttpResObject struct {
	StatusCode int        `json:"statusCode"`
	Headers    []HeaderKV `json:"headers,omitempty"`
	Body       string     `json:"body"`
}

// HttpMetaObject carries the URL context for an inspected exchange.
type HttpMetaObject struct {
	URL string `json:"url"`
}

// HTTPClient is the direct-use HTTP inspection client: it inspects a
// request, a response, or a paired exchange against AI Defense.
type HTTPClient struct {
	Client   *httpclient.Client
	Endpoint string
	APIKey   string
	Logger   *zap.Logger
}

func (c *HTTPClient) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return obslog.For("inspect.http")
}

// HeadersFromMap builds an ordered HeaderKV list from a map; iteration
// order is not meaningful to the inspection API, only presence.
func HeadersFromMap(headers map[string]string) []HeaderKV {
	out := make([]HeaderKV, 0, len(headers))
	for k, v := range headers {
		out = append(out, HeaderKV{Key: k, Value: v})
	}
	return out
}

// EncodeBody base64-encodes a body for the wire: strings should be
// UTF-8-encoded to bytes by the caller first, and nil/empty becomes "".
// An empty result is only acceptable when the headers carry
// Content-Length: 0 (see buildReqObject/buildResObject).
func EncodeBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(body)
}

func isExplicitlyEmpty(headers map[string]string) bool {
	for k, v := range headers {
		if strings.EqualFold(k, "Content-Length") && strings.TrimSpace(v) == "0" {
			return true
		}
	}
	return false
}

// InspectRequest inspects a standalone HTTP request.
func (c *HTTPClient) InspectRequest(ctx context.Context, method, url string, headers map[string]string, body []byte, metadata Metadata, config *InspectionConfig) (*InspectResponse, error) {
	req, err := buildReqObject(method, headers, body)
	if err != nil {
		return nil, err
	}
	return c.inspect(ctx, &req, nil, HttpMetaObject{URL: url}, metadata, config)
}

// InspectResponse inspects a standalone HTTP response.
func (c *HTTPClient) InspectResponse(ctx context.Context, statusCode int, url string, headers map[string]string, body []byte, metadata Metadata, config *InspectionConfig) (*InspectResponse, error) {
	res, err := buildResObject(statusCode, headers, body)
	if err != nil {
		return nil, err
	}
	return c.inspect(ctx, nil, &res, HttpMetaObject{URL: url}, metadata, config)
}

// InspectPair inspects a request/response pair together.
func (c *HTTPClient) InspectPair(ctx context.Context, reqMethod string, reqHeaders map[string]string, reqBody []byte, statusCode int, resHeaders map[string]string, resBody []byte, url string, metadata Metadata, config *InspectionConfig) (*InspectResponse, error) {
	req, err := buildReqObject(reqMethod, reqHeaders, reqBody)
	if err != nil {
		return nil, err
	}
	res, err := buildResObject(statusCode, resHeaders, resBody)
	if err != nil {
		return nil, err
	}
	return c.inspect(ctx, &req, &res, HttpMetaObject{URL: url}, metadata, config)
}

func buildReqObject(method string, headers map[string]string, body []byte) (HttpReqObject, error) {
	if !validHTTPMethods[strings.ToUpper(method)] {
		return HttpReqObject{}, httpclient.NewValidationError("http request method must be one of the supported HTTP verbs")
	}
	encoded := EncodeBody(body)
	if encoded == "" && !isExplicitlyEmpty(headers) {
		return HttpReqObject{}, httpclient.NewValidationError("the canonical request object requires a non-empty body")
	}
	return HttpReqObject{Method: strings.ToUpper(method), Headers: HeadersFromMap(headers), Body: encoded}, nil
}

func buildResObject(statusCode int, headers map[string]string, body []byte) (HttpResObject, error) {
	if statusCode == 0 {
		return HttpResObject{}, httpclient.NewValidationError("the canonical response object requires a statusCode")
	}
	encoded := EncodeBody(body)
	if encoded == "" && !isExplicitlyEmpty(headers) {
		return HttpResObject{}, httpclient.NewValidationError("the canonical response object requires a non-empty body")
	}
	return HttpResObject{StatusCode: statusCode, Headers: HeadersFromMap(headers), Body: encoded}, nil
}

func (c *HTTPClient) inspect(ctx context.Context, req *HttpReqObject, res *HttpResObject, meta HttpMetaObject, metadata Metadata, config *InspectionConfig) (*InspectResponse, error) {
	payload := map[string]any{"http_meta": meta}
	if req != nil {
		payload["http_req"] = req
	}
	if res != nil {
		payload["http_res"] = res
	}
	if metadata != nil {
		payload["metadata"] = metadata
	}
	if config != nil && len(config.Rules) > 0 {
		payload["config"] = config
	}

	httpResp, err := c.Client.Do(ctx, httpclient.Request{
		Method:  http.MethodPost,
		URL:     strings.TrimRight(c.Endpoint, "/") + httpInspectPath,
		Headers: map[string]string{"X-Cisco-AI-Defense-API-Key": c.APIKey},
		JSON:    payload,
	})
	if err != nil {
		c.logger().Warn("http inspection request failed", zap.Error(err))
		return nil, err
	}

	var parsed InspectResponse
	if err := httpResp.JSON(&parsed); err != nil {
		return nil, err
	}
	parsed.Decision = decisionFromInspectResponse(parsed)
	return &parsed, nil
}
