// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aisle Contributors

package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aisle-dev/aisle/internal/agent"
	"github.com/aisle-dev/aisle/internal/cart"
	"github.com/aisle-dev/aisle/internal/catalog"
	"github.com/aisle-dev/aisle/internal/history"
	"github.com/aisle-dev/aisle/internal/provider"
	"github.com/aisle-dev/aisle/internal/tools"
)

// scriptedProvider replays canned model turns, one per Chat call.
type scriptedProvider struct {
	turns [][]provider.ChatEvent
	call  int
}

func (s *scriptedProvider) Name() string { return "scripted" }
func (s *scriptedProvider) Close() error { return nil }

func (s *scriptedProvider) Chat(_ context.Context, _ provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	turn := s.turns[len(s.turns)-1]
	if s.call < len(s.turns) {
		turn = s.turns[s.call]
	}
	s.call++

	ch := make(chan provider.ChatEvent, len(turn)+1)
	for _, ev := range turn {
		ch <- ev
	}
	ch <- provider.ChatEvent{Type: provider.EventTypeDone}
	close(ch)
	return ch, nil
}

type axisEmbedder struct{}

func (axisEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := []float32{0.1, 0.1}
		if strings.Contains(strings.ToLower(t), "electronics") {
			vec[0] = 1
		} else {
			vec[1] = 1
		}
		out[i] = vec
	}
	return out, nil
}

func (e axisEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

const serverCatalog = `[
	{"id":1,"title":"USB Hub","price":35.0,"description":"electronics accessory","category":"electronics","image":"","rating":{"rate":4.2,"count":150}},
	{"id":2,"title":"Rain Jacket","price":60.0,"description":"outdoor wear","category":"men's clothing","image":"","rating":{"rate":3.8,"count":90}}
]`

type testEnv struct {
	server  *Server
	catalog *catalog.Store
}

func newTestEnv(t *testing.T, scripted *scriptedProvider, initialize bool) testEnv {
	t.Helper()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(serverCatalog))
	}))
	t.Cleanup(upstream.Close)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	store := catalog.NewStore(catalog.NewClient(upstream.URL), axisEmbedder{}, t.TempDir(), logger)
	if initialize {
		require.NoError(t, store.Initialize(context.Background()))
	}

	carts, err := cart.Open(filepath.Join(t.TempDir(), "cart.db"))
	require.NoError(t, err)
	t.Cleanup(func() { carts.Close() })

	hist, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { hist.Close() })

	providers := provider.NewRegistry()
	providers.Register("scripted", scripted)

	registry := tools.NewShoppingRegistry(store, carts, tools.DefaultLimits(), time.Second)
	loop := agent.New(providers, registry, hist, agent.Config{Model: "scripted/test-model"}, logger)

	srv, err := New(Config{ListenAddr: "127.0.0.1:0"}, Deps{
		Loop:    loop,
		Catalog: store,
		Logger:  logger,
	})
	require.NoError(t, err)

	return testEnv{server: srv, catalog: store}
}

// sseLines splits an SSE body into its data payloads.
func sseLines(t *testing.T, body string) []string {
	t.Helper()

	var payloads []string
	for _, frame := range strings.Split(body, "\n\n") {
		frame = strings.TrimSpace(frame)
		if frame == "" {
			continue
		}
		require.True(t, strings.HasPrefix(frame, "data: "), "unexpected SSE frame: %q", frame)
		payloads = append(payloads, strings.TrimPrefix(frame, "data: "))
	}
	return payloads
}

func postChat(t *testing.T, env testEnv, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{turns: [][]provider.ChatEvent{{}}}, true)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
}

func TestReadyReflectsCatalogState(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{turns: [][]provider.ChatEvent{{}}}, false)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	require.NoError(t, env.catalog.Initialize(context.Background()))

	w = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"products":2`)
}

func TestChatStreamsTokensAndSentinel(t *testing.T) {
	scripted := &scriptedProvider{turns: [][]provider.ChatEvent{{
		{Type: provider.EventTypeTextDelta, Text: "Hello"},
		{Type: provider.EventTypeTextDelta, Text: " there"},
	}}}
	env := newTestEnv(t, scripted, true)

	w := postChat(t, env, `{"message":"hi"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Conversation-ID"))

	payloads := sseLines(t, w.Body.String())
	require.Len(t, payloads, 3)

	var first agent.Event
	require.NoError(t, json.Unmarshal([]byte(payloads[0]), &first))
	assert.Equal(t, agent.EventToken, first.Type)
	assert.Equal(t, "Hello", first.Content)

	// The sentinel is the last frame and is not JSON.
	assert.Equal(t, "[DONE]", payloads[len(payloads)-1])
}

func TestChatToolEventOrdering(t *testing.T) {
	scripted := &scriptedProvider{turns: [][]provider.ChatEvent{
		{{Type: provider.EventTypeToolCall, ToolCall: &provider.ToolCall{
			ID: "call-1", Name: "search_products", Arguments: `{"query":"electronics"}`,
		}}},
		{{Type: provider.EventTypeTextDelta, Text: "Found a USB hub."}},
	}}
	env := newTestEnv(t, scripted, true)

	w := postChat(t, env, `{"message":"find me electronics"}`, nil)
	payloads := sseLines(t, w.Body.String())
	require.GreaterOrEqual(t, len(payloads), 4)

	var types []agent.EventType
	for _, p := range payloads[:len(payloads)-1] {
		var ev agent.Event
		require.NoError(t, json.Unmarshal([]byte(p), &ev))
		types = append(types, ev.Type)
	}
	assert.Equal(t, []agent.EventType{
		agent.EventToolStart, agent.EventProducts, agent.EventToken,
	}, types)
}

func TestChatValidation(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{turns: [][]provider.ChatEvent{{}}}, true)

	w := postChat(t, env, `{"message":""}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = postChat(t, env, `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatBeforeCatalogReady(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{turns: [][]provider.ChatEvent{{}}}, false)

	w := postChat(t, env, `{"message":"hi"}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestChatKeepsConversationID(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{turns: [][]provider.ChatEvent{{
		{Type: provider.EventTypeTextDelta, Text: "ok"},
	}}}, true)

	w := postChat(t, env, `{"message":"hi","conversation_id":"conv-42"}`, nil)
	assert.Equal(t, "conv-42", w.Header().Get("X-Conversation-ID"))
}

func TestChatUserCartSpansConversations(t *testing.T) {
	scripted := &scriptedProvider{turns: [][]provider.ChatEvent{
		{{Type: provider.EventTypeToolCall, ToolCall: &provider.ToolCall{
			ID: "call-1", Name: "add_to_cart", Arguments: `{"product_id":1,"quantity":2}`,
		}}},
		{{Type: provider.EventTypeTextDelta, Text: "Added."}},
		{{Type: provider.EventTypeToolCall, ToolCall: &provider.ToolCall{
			ID: "call-2", Name: "get_cart", Arguments: `{}`,
		}}},
		{{Type: provider.EventTypeTextDelta, Text: "Here is your cart."}},
	}}
	env := newTestEnv(t, scripted, true)
	headers := map[string]string{"X-User-ID": "alice"}

	w := postChat(t, env, `{"message":"add the usb hub","conversation_id":"conv-a"}`, headers)
	require.Equal(t, http.StatusOK, w.Code)

	// Same user, different conversation: the cart carries over.
	w = postChat(t, env, `{"message":"what is in my cart?","conversation_id":"conv-b"}`, headers)
	payloads := sseLines(t, w.Body.String())

	var cartEvent *agent.Event
	for _, p := range payloads[:len(payloads)-1] {
		var ev agent.Event
		require.NoError(t, json.Unmarshal([]byte(p), &ev))
		if ev.Type == agent.EventCart {
			cartEvent = &ev
			break
		}
	}
	require.NotNil(t, cartEvent, "expected a cart event")

	data, err := json.Marshal(cartEvent.Data)
	require.NoError(t, err)
	var payload tools.CartPayload
	require.NoError(t, json.Unmarshal(data, &payload))
	require.Len(t, payload.Cart.Items, 1)
	assert.Equal(t, int64(1), payload.Cart.Items[0].ProductID)
	assert.Equal(t, 2, payload.Cart.ItemCount)
}

func TestCatalogRefreshEndpoint(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{turns: [][]provider.ChatEvent{{}}}, true)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/catalog/refresh", nil)
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"products":2`)
}
