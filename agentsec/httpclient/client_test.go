package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cisco-ai-defense/agentsec-go/agentsec/retry"
)

func TestDoSuccessAttachesDefaultHeaders(t *testing.T) {
	var gotUA, gotRequestID, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotRequestID = r.Header.Get("x-aidefense-request-id")
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(Config{Timeout: time.Second})
	resp, err := c.Do(context.Background(), Request{Method: http.MethodPost, URL: srv.URL, JSON: map[string]any{"a": 1}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, gotUA, userAgentPrefix)
	assert.NotEmpty(t, gotRequestID)
	assert.Equal(t, "application/json", gotContentType)
}

func TestDoUserHeaderOverridesDefault(t *testing.T) {
	var gotRequestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRequestID = r.Header.Get("x-aidefense-request-id")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{Timeout: time.Second})
	_, err := c.Do(context.Background(), Request{
		Method:    http.MethodGet,
		URL:       srv.URL,
		RequestID: "fixed-id",
		Headers:   map[string]string{"X-Cisco-AI-Defense-API-Key": "k"},
	})
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", gotRequestID)
}

func TestDoInvalidMethodIsValidationNotRetried(t *testing.T) {
	c := New(Config{Timeout: time.Second})
	_, err := c.Do(context.Background(), Request{Method: "FROB", URL: "https://example.com"})
	require.Error(t, err)
	kind, _, _, ok := KindErrorFrom(err)
	require.True(t, ok)
	assert.Equal(t, KindValidation, kind)
}

func TestDoMalformedURLIsValidation(t *testing.T) {
	c := New(Config{Timeout: time.Second})
	_, err := c.Do(context.Background(), Request{Method: http.MethodGet, URL: "not-a-url"})
	require.Error(t, err)
	kind, _, _, ok := KindErrorFrom(err)
	require.True(t, ok)
	assert.Equal(t, KindValidation, kind)
}

func TestDo401IsAuthenticationNeverRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"bad key"}`))
	}))
	defer srv.Close()

	c := New(Config{Timeout: time.Second, RetryPolicy: &retry.Policy{Total: 3, BackoffFactor: 0.001}})
	_, err := c.Do(context.Background(), Request{Method: http.MethodPost, URL: srv.URL})
	require.Error(t, err)
	kind, status, msg, ok := KindErrorFrom(err)
	require.True(t, ok)
	assert.Equal(t, KindAuthentication, kind)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "bad key", msg)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestDo503RetriesThenSucceeds(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(Config{Timeout: time.Second, RetryPolicy: &retry.Policy{Total: 5, BackoffFactor: 0.001, StatusForcelist: retry.DefaultStatusForcelist}})
	resp, err := c.Do(context.Background(), Request{Method: http.MethodPost, URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
}

func TestDoOther4xxIsFatalNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(Config{Timeout: time.Second, RetryPolicy: &retry.Policy{Total: 3, BackoffFactor: 0.001, StatusForcelist: retry.DefaultStatusForcelist}})
	_, err := c.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)
	kind, status, _, ok := KindErrorFrom(err)
	require.True(t, ok)
	assert.Equal(t, KindAPI, kind)
	assert.Equal(t, http.StatusForbidden, status)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestRequestAsyncDeliversResultOnChannel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{Timeout: time.Second})
	ch := c.RequestAsync(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	select {
	case res := <-ch:
		require.NoError(t, res.Err)
		assert.Equal(t, http.StatusOK, res.Response.StatusCode)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for async result")
	}
}

func TestResponseJSONUnmarshal(t *testing.T) {
	r := &Response{Body: []byte(`{"a":1}`)}
	var v map[string]int
	require.NoError(t, r.JSON(&v))
	assert.Equal(t, 1, v["a"])
}
