// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aisle Contributors

package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/aisle-dev/aisle/internal/agent"
	aisleerr "github.com/aisle-dev/aisle/pkg/errors"
)

// ChatRequest is the request body for the chat endpoint.
type ChatRequest struct {
	Message        string `json:"message" minLength:"1" doc:"The shopper's message"`
	ConversationID string `json:"conversation_id,omitempty" doc:"Conversation to continue; omit to start a new one"`
}

func (s *Server) registerChatRoute() {
	s.router.Post("/api/v1/chat", s.handleChat)

	// The chat handler needs raw http.ResponseWriter access for SSE, so it
	// cannot use Huma's standard handler signature. The chi route above
	// handles requests; this OpenAPI entry documents it.
	minMessageLen := 1
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "chat",
		Method:      http.MethodPost,
		Path:        "/api/v1/chat",
		Summary:     "Chat with the shopping assistant",
		Description: "Send a message and receive an ordered stream of events: assistant text tokens, tool activity, product and cart payloads, terminated by a [DONE] sentinel. Identity comes from the X-User-ID header; anonymous requests get a per-conversation cart.",
		Tags:        []string{"chat"},
		Parameters: []*huma.Param{
			{
				Name:        "X-User-ID",
				In:          "header",
				Description: "Stable user identity; keeps one cart across conversations",
				Schema:      &huma.Schema{Type: "string"},
			},
		},
		RequestBody: &huma.RequestBody{
			Required: true,
			Content: map[string]*huma.MediaType{
				"application/json": {
					Schema: &huma.Schema{
						Type:     "object",
						Required: []string{"message"},
						Properties: map[string]*huma.Schema{
							"message": {
								Type:        "string",
								MinLength:   &minMessageLen,
								Description: "The shopper's message",
							},
							"conversation_id": {
								Type:        "string",
								Description: "Conversation to continue; omit to start a new one",
							},
						},
					},
				},
			},
		},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Server-sent event stream, one JSON event per data line, ending with [DONE]",
				Content: map[string]*huma.MediaType{
					"text/event-stream": {
						Schema: &huma.Schema{
							Type:        "string",
							Description: "Server-sent event stream",
						},
					},
				},
			},
			"400": {Description: "Malformed request body"},
			"422": {Description: "Validation error (missing message)"},
			"503": {Description: "Catalog not loaded yet"},
		},
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, `{"error":"message is required"}`, http.StatusUnprocessableEntity)
		return
	}
	if !s.deps.Catalog.Ready() {
		http.Error(w, `{"error":"catalog not loaded yet"}`, http.StatusServiceUnavailable)
		return
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Conversation-ID", conversationID)

	emitter := newSSEEmitter(w)
	defer emitter.Close() //nolint:errcheck

	err := s.deps.Loop.Run(r.Context(), agent.Request{
		ConversationID: conversationID,
		UserID:         r.Header.Get("X-User-ID"),
		Message:        req.Message,
	}, emitter)
	if err != nil {
		s.deps.Logger.Error("chat turn failed", "conversation_id", conversationID, "error", err)
		// The loop emits its own error events for failures it observed;
		// cover the ones it could not (history, resolution).
		if !emitter.wrote {
			_ = emitter.Emit(agent.ErrorEvent(err))
		}
	}
}

// sseEmitter writes agent events as SSE data lines and terminates the stream
// with a [DONE] sentinel exactly once.
type sseEmitter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	wrote   bool
	closed  bool
}

func newSSEEmitter(w http.ResponseWriter) *sseEmitter {
	// httptest.ResponseRecorder doesn't implement Flusher; events are
	// still written.
	flusher, _ := w.(http.Flusher)
	return &sseEmitter{w: w, flusher: flusher}
}

func (e *sseEmitter) Emit(ev agent.Event) error {
	if e.closed {
		return aisleerr.New(aisleerr.CodeServerInternalFailure, "emit on closed stream")
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return aisleerr.Wrap(err, aisleerr.CodeServerInternalFailure, "encoding stream event")
	}
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", data); err != nil {
		return aisleerr.Wrap(err, aisleerr.CodeServerInternalFailure, "writing stream event")
	}
	e.wrote = true

	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

func (e *sseEmitter) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	if _, err := fmt.Fprint(e.w, "data: [DONE]\n\n"); err != nil {
		return aisleerr.Wrap(err, aisleerr.CodeServerInternalFailure, "writing stream sentinel")
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}
