// Package httpclient is the pooled HTTP client abstraction shared by
// the API-mode inspectors, the gateway-mode inspectors and the direct
// inspection façade: retries, timeouts, the x-aidefense-request-id
// header and structured error-kind mapping all live here once.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cisco-ai-defense/agentsec-go/agentsec/retry"
)

const userAgentPrefix = "Cisco-AI-Defense-Go-SDK"

// SDKVersion is embedded in the User-Agent header of every outbound
// inspection/gateway request.
const SDKVersion = "0.1.0"

var validMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodPatch: true, http.MethodDelete: true, http.MethodHead: true,
}

var tracer = otel.Tracer("agentsec/httpclient")

// requestDuration is created against the global delegating meter, so
// it starts exporting once Protect installs a real MeterProvider and
// stays a no-op otherwise.
var requestDuration, _ = otel.Meter("agentsec/httpclient").Float64Histogram(
	"aidefense.client.request.duration",
	metric.WithUnit("s"),
	metric.WithDescription("Duration of outbound inspection/gateway requests, retries included."),
)

// Config configures a Client. A single Config is normally shared by
// every inspector and façade in a process so they share one
// connection pool.
type Config struct {
	Timeout     time.Duration
	RetryPolicy *retry.Policy
	RateLimit   rate.Limit // 0 disables rate limiting
	RateBurst   int
	Logger      *zap.Logger
}

// Client is the synchronous HTTP client abstraction. It is safe for
// concurrent use; the underlying *http.Client and connection pool are
// constructed lazily on first use under a double-checked guard so
// that concurrent first-callers share one pool. Do is itself the
// suspension point for callers driving it from a goroutine;
// RequestAsync below gives the channel-based variant.
type Client struct {
	cfg Config

	once       sync.Once
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New builds a Client. The connection pool is not created until the
// first request.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	if cfg.RetryPolicy == nil {
		cfg.RetryPolicy = retry.DefaultPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Client{cfg: cfg}
}

func (c *Client) ensurePool() {
	c.once.Do(func() {
		c.httpClient = &http.Client{
			Timeout: c.cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		}
		if c.cfg.RateLimit > 0 {
			burst := c.cfg.RateBurst
			if burst <= 0 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(c.cfg.RateLimit, burst)
		}
	})
}

// Request is the common shape for an outbound call.
type Request struct {
	Method    string
	URL       string
	Headers   map[string]string
	JSON      any
	RequestID string // auto-generated UUID if empty

	// RetryPolicy, if set, overrides the Client's configured policy for
	// this call only. Inspectors use this to honor a per-call
	// retry_attempts setting distinct from the shared pool's policy.
	RetryPolicy *retry.Policy
}

// Response is the common shape for an inbound result.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) error {
	if len(r.Body) == 0 {
		return NewValidationError("empty response body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return NewValidationError(fmt.Sprintf("malformed JSON response: %v", err))
	}
	return nil
}

// Do executes req, applying the retry policy and mapping failures to
// the error-kind taxonomy. It blocks until the final attempt
// completes or ctx is canceled.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	c.ensurePool()

	if !validMethods[req.Method] {
		return nil, NewValidationError(fmt.Sprintf("invalid HTTP method %q", req.Method))
	}
	parsed, err := url.ParseRequestURI(req.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, NewValidationError(fmt.Sprintf("malformed URL %q", req.URL))
	}

	ctx, span := tracer.Start(ctx, "agentsec.httpclient.Do", trace.WithAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("http.url", req.URL),
	))
	defer span.End()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	start := time.Now()
	var resp *Response
	var policy retry.Policy
	if req.RetryPolicy != nil {
		policy = *req.RetryPolicy
	} else {
		policy = *c.cfg.RetryPolicy
	}
	policy.Classify = classify
	retryErr := retry.Do(ctx, &policy, c.cfg.Logger, func() error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		r, doErr := c.doOnce(ctx, req, requestID)
		if doErr != nil {
			return doErr
		}
		resp = r
		return responseToError(r)
	})

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if requestDuration != nil {
		requestDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.Int("http.status_code", status),
		))
	}

	if retryErr != nil {
		span.SetStatus(codes.Error, retryErr.Error())
		span.RecordError(retryErr)
		mapped := mapToKindError(retryErr, resp)
		if kind, code, _, ok := KindErrorFrom(mapped); ok && kind == KindAuthentication {
			c.cfg.Logger.Error("request rejected: authentication failed", zap.Int("http.status_code", code))
		}
		return resp, mapped
	}
	return resp, nil
}

// Result is the value delivered on the channel returned by
// RequestAsync.
type Result struct {
	Response *Response
	Err      error
}

// RequestAsync is the asynchronous variant of Do: it returns
// immediately with a channel that receives exactly one Result once the
// (possibly retried) round-trip completes. The call itself runs on its
// own goroutine, giving callers driving an event-loop-style scheduler
// a suspension point without blocking the caller's goroutine.
func (c *Client) RequestAsync(ctx context.Context, req Request) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		resp, err := c.Do(ctx, req)
		out <- Result{Response: resp, Err: err}
		close(out)
	}()
	return out
}

func (c *Client) doOnce(ctx context.Context, req Request, requestID string) (*Response, error) {
	var body io.Reader
	if req.JSON != nil {
		encoded, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, NewValidationError(fmt.Sprintf("failed to encode request body: %v", err))
		}
		body = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, NewValidationError(fmt.Sprintf("failed to build request: %v", err))
	}

	// Defaults first, then user-supplied headers override them.
	httpReq.Header.Set("User-Agent", userAgentPrefix+"/"+SDKVersion)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("x-aidefense-request-id", requestID)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       respBody,
	}, nil
}

// classify maps a raw transport/HTTP-status error produced by doOnce
// into a retry.Classification.
func classify(err error) retry.Classification {
	if ke, ok := err.(*kindError); ok {
		if ke.kind == KindValidation || ke.kind == KindAuthentication {
			return retry.Classification{Retryable: false, StatusCode: ke.statusCode}
		}
		// API errors carry their status; the policy's forcelist decides
		// which of them (429, 500, 502, 503, 504 by default) actually retry.
		return retry.Classification{Retryable: true, StatusCode: ke.statusCode, RetryAfter: ke.retryAfter}
	}
	// Network/timeout failures: retryable, no status code to gate on.
	return retry.Classification{Retryable: true}
}

// responseToError converts a successful transport round-trip whose
// status code indicates failure into the error-kind taxonomy; a 2xx
// response returns nil.
func responseToError(r *Response) error {
	if r.StatusCode >= 200 && r.StatusCode < 300 {
		return nil
	}
	msg := extractErrorMessage(r.Body)
	switch {
	case r.StatusCode == http.StatusUnauthorized:
		return &kindError{kind: KindAuthentication, statusCode: r.StatusCode, message: msg}
	case r.StatusCode == http.StatusBadRequest:
		return &kindError{kind: KindValidation, statusCode: r.StatusCode, message: msg}
	default:
		return &kindError{kind: KindAPI, statusCode: r.StatusCode, message: msg, retryAfter: retryAfterFrom(r.Headers)}
	}
}

func retryAfterFrom(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := time.ParseDuration(v + "s"); err == nil {
		return secs
	}
	return 0
}

func extractErrorMessage(body []byte) string {
	var shaped struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &shaped); err == nil && shaped.Message != "" {
		return shaped.Message
	}
	return string(body)
}
