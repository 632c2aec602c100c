package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"pizzeria-bot/internal/domain"
)

// fakeGetter is a minimal paramstore.Getter stub for use within this package.
type fakeGetter struct {
	val    string
	err    error
	onCall func()
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	if f.onCall != nil {
		f.onCall()
	}
	return f.val, f.err
}

func TestChatURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.groq.com/openai/v1", "https://api.groq.com/openai/v1/chat/completions"},
		{"https://api.groq.com/openai/v1/", "https://api.groq.com/openai/v1/chat/completions"},
		{"http://localhost:8080", "http://localhost:8080/v1/chat/completions"},
		{"", "https://api.groq.com/openai/v1/chat/completions"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, chatURL(tc.base), "base=%q", tc.base)
	}
}

func TestNewClient_NilGetter(t *testing.T) {
	_, err := NewClient(nil, "/pizzeria")
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")
}

func TestNewClient_EmptyPrefix(t *testing.T) {
	_, err := NewClient(&fakeGetter{}, "  /  ")
	require.Error(t, err)
}

func TestResolveAPIKey_FetchedOnceFromSSM(t *testing.T) {
	calls := 0
	g := &fakeGetter{val: `{"token":"gsk-from-ssm"}`}
	g.onCall = func() { calls++ }
	c, err := NewClient(g, "/pizzeria")
	require.NoError(t, err)

	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "gsk-from-ssm", key)

	_, _ = c.resolveAPIKey(context.Background())
	_, _ = c.resolveAPIKey(context.Background())
	require.Equal(t, 1, calls, "SSM must only be hit once per process lifetime")
}

func TestResolveAPIKey_StaticKeySkipsSSM(t *testing.T) {
	calls := 0
	g := &fakeGetter{val: `{"token":"unused"}`, onCall: func() { calls++ }}
	c, err := NewClient(g, "/pizzeria", WithStaticAPIKey("gsk-local"))
	require.NoError(t, err)

	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "gsk-local", key)
	require.Zero(t, calls)
}

func TestFetchAPIKey_Malformed(t *testing.T) {
	_, err := fetchAPIKeyFromParamStore(context.Background(), &fakeGetter{val: `{"broken`}, "/pizzeria/groq-api-token")
	require.Error(t, err)

	_, err = fetchAPIKeyFromParamStore(context.Background(), &fakeGetter{val: `{"other":"x"}`}, "/pizzeria/groq-api-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "API token is empty")

	_, err = fetchAPIKeyFromParamStore(context.Background(), &fakeGetter{err: errors.New("ssm unavailable")}, "/pizzeria/groq-api-token")
	require.Error(t, err)
}

func TestChat_HappyPath(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"Olá!"}}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(&fakeGetter{}, "/pizzeria", WithBaseURL(srv.URL+"/v1"), WithStaticAPIKey("gsk-test"))
	require.NoError(t, err)

	messages := []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "prompt"},
		{Role: domain.RoleUser, Content: "oi"},
	}
	reply, err := c.Chat(context.Background(), "llama-3.1-8b-instant", 0.5, messages)
	require.NoError(t, err)
	require.Equal(t, "Olá!", reply)

	require.Equal(t, "Bearer gsk-test", gotAuth)
	require.Equal(t, "llama-3.1-8b-instant", gotReq.Model)
	require.NotNil(t, gotReq.Temperature)
	require.Equal(t, 0.5, *gotReq.Temperature)
	require.Equal(t, messages, gotReq.Messages)
}

func TestChat_EmptyModel(t *testing.T) {
	c, err := NewClient(&fakeGetter{}, "/pizzeria", WithStaticAPIKey("gsk"))
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), "", 0.5, nil)
	require.Error(t, err)
}

func TestChat_UpstreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewClient(&fakeGetter{}, "/pizzeria", WithBaseURL(srv.URL+"/v1"), WithStaticAPIKey("gsk"))
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), "m", 0.5, nil)
	require.Error(t, err)

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
}

func TestChat_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c, err := NewClient(&fakeGetter{}, "/pizzeria", WithBaseURL(srv.URL+"/v1"), WithStaticAPIKey("gsk"))
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), "m", 0.5, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no choices")
}
