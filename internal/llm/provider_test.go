package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studylab/internal/config"
)

func TestOpenAIClient_Complete(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4o",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"A\":{\"classification\":\"yes\",\"confidence\":0.8}}"}}]
		}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL+"/", "sk-test", 256, time.Second)
	content, err := c.Complete(context.Background(), Request{Model: "gpt-4o", System: "sys", User: "usr", Temperature: 0.2})
	require.NoError(t, err)

	assert.JSONEq(t, `{"A":{"classification":"yes","confidence":0.8}}`, content)
	assert.Equal(t, "gpt-4o", got["model"])
	assert.Equal(t, 0.2, got["temperature"])
	assert.Equal(t, float64(256), got["max_tokens"])
	assert.Equal(t, map[string]interface{}{"type": "json_object"}, got["response_format"])
	assert.Equal(t, []interface{}{
		map[string]interface{}{"role": "system", "content": "sys"},
		map[string]interface{}{"role": "user", "content": "usr"},
	}, got["messages"])
}

func TestOpenAIClient_OmitsMaxTokensWhenUnset(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-2","object":"chat.completion","created":1,"model":"m","choices":[]}`))
	}))
	defer srv.Close()

	content, err := NewOpenAIClient(srv.URL, "k", 0, time.Second).Complete(context.Background(), Request{Model: "m"})
	require.NoError(t, err)
	assert.Empty(t, content)
	assert.NotContains(t, got, "max_tokens")
}

func TestOpenAIClient_ErrorStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests"}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "k", 0, time.Second)
	_, err := c.Complete(context.Background(), Request{Model: "m"})
	require.Error(t, err)

	var apiErr *openai.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "Rate limit reached")
	// 不重试
	assert.EqualValues(t, 1, calls.Load())
}

func TestOpenAIClient_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewOpenAIClient(srv.URL, "k", 0, time.Second).Complete(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnthropicClient_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "ak-test", r.Header.Get("X-Api-Key"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-test", body["model"])
		assert.Equal(t, 0.5, body["temperature"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":"` + "```json\\n{\\\"A\\\":{\\\"classification\\\":\\\"yes\\\",\\\"confidence\\\":1}}\\n```" + `"}],
			"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":5}
		}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient(srv.URL, "ak-test", 128, time.Second)
	content, err := c.Complete(context.Background(), Request{Model: "claude-test", System: "sys", User: "usr", Temperature: 0.5})
	require.NoError(t, err)
	assert.JSONEq(t, `{"A":{"classification":"yes","confidence":1}}`, content)
}

func TestAnthropicClient_ErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer srv.Close()

	_, err := NewAnthropicClient(srv.URL, "bad", 0, time.Second).Complete(context.Background(), Request{Model: "m"})
	assert.Error(t, err)
}

func TestNewProvider(t *testing.T) {
	cfg := config.ProviderConfig{
		Default: "openai",
		OpenAI:  config.ProviderCredentials{BaseURL: "https://api.openai.com/v1", APIKey: "sk"},
	}

	p, err := NewProvider(cfg, "")
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, p)

	_, err = NewProvider(cfg, "anthropic")
	assert.ErrorIs(t, err, ErrMissingCredential)

	_, err = NewProvider(cfg, "mistral")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	cfg.Anthropic.APIKey = "ak"
	p, err = NewProvider(cfg, "anthropic")
	require.NoError(t, err)
	assert.IsType(t, &AnthropicClient{}, p)
}
