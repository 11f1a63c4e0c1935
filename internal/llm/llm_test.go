package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGemini_GenerateText(t *testing.T) {
	var got geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-test:generateContent", r.URL.Path)
		assert.Equal(t, "secret-key", r.Header.Get("x-goog-api-key"))
		assert.Empty(t, r.URL.RawQuery)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Build "},{"text":"a todo app"}]}}]}`))
	}))
	defer srv.Close()

	g, err := NewGemini("secret-key", "models/gemini-test")
	require.NoError(t, err)
	g.baseURL = srv.URL

	text, err := g.GenerateText(context.Background(), "be helpful", "todo app")
	require.NoError(t, err)
	assert.Equal(t, "Build a todo app", text)

	require.NotNil(t, got.SystemInstruction)
	assert.Equal(t, "be helpful", got.SystemInstruction.Parts[0].Text)
	assert.Equal(t, "todo app", got.Contents[0].Parts[0].Text)
}

func TestGemini_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
	}))
	defer srv.Close()

	g, err := NewGemini("k", "")
	require.NoError(t, err)
	g.baseURL = srv.URL

	_, err = g.GenerateText(context.Background(), "", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestGemini_EmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	g, _ := NewGemini("k", "")
	g.baseURL = srv.URL

	_, err := g.GenerateText(context.Background(), "", "hi")
	assert.ErrorContains(t, err, "empty response")
}

func TestGemini_DeadlineDoesNotLeakKey(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()
	// Runs before srv.Close so the stalled handler returns.
	defer close(release)

	g, _ := NewGemini("super-secret", "")
	g.baseURL = srv.URL

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := g.GenerateText(ctx, "", "hi")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.NotContains(t, err.Error(), "super-secret")
}

func TestNewGemini_RequiresKey(t *testing.T) {
	_, err := NewGemini("  ", "")
	assert.Error(t, err)
}

func TestOpenAICompat_StaticKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req oaiChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  optimized  "}}]}`))
	}))
	defer srv.Close()

	c, err := NewOpenAICompat(context.Background(), OpenAICompatConfig{
		BaseURL: srv.URL + "/v1/",
		APIKey:  "sk-test",
		Model:   "gpt-test",
	})
	require.NoError(t, err)

	text, err := c.GenerateText(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "optimized", text)
}

func TestOpenAICompat_ClientCredentials(t *testing.T) {
	var tokenCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			tokenCalls++
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"gw-token","token_type":"Bearer","expires_in":3600}`))
		case "/v1/chat/completions":
			assert.Equal(t, "Bearer gw-token", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := NewOpenAICompat(context.Background(), OpenAICompatConfig{
		BaseURL:           srv.URL + "/v1",
		Model:             "m",
		APIKey:            "ignored-when-oauth",
		OAuthTokenURL:     srv.URL + "/oauth/token",
		OAuthClientID:     "id",
		OAuthClientSecret: "secret",
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		text, err := c.GenerateText(context.Background(), "", "hi")
		require.NoError(t, err)
		assert.Equal(t, "ok", text)
	}
	assert.Equal(t, 1, tokenCalls, "token is cached between calls")
}

func TestOpenAICompat_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("Authorization"), "bad") {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"invalid api key","type":"auth"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	bad, _ := NewOpenAICompat(context.Background(), OpenAICompatConfig{BaseURL: srv.URL, APIKey: "bad", Model: "m"})
	_, err := bad.GenerateText(context.Background(), "", "hi")
	assert.ErrorContains(t, err, "invalid api key")

	empty, _ := NewOpenAICompat(context.Background(), OpenAICompatConfig{BaseURL: srv.URL, Model: "m"})
	_, err = empty.GenerateText(context.Background(), "", "hi")
	assert.ErrorContains(t, err, "empty response")
}

func TestNew_SelectsProvider(t *testing.T) {
	g, err := New(context.Background(), Config{Provider: "Gemini", GeminiAPIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &Gemini{}, g)

	o, err := New(context.Background(), Config{Provider: "openai", BaseURL: "http://localhost:1/v1", Model: "m"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAICompat{}, o)

	_, err = New(context.Background(), Config{Provider: "bard"})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Provider: "openai"})
	assert.Error(t, err, "base URL is required")
}
