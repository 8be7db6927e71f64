// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aisle Contributors

// Package agent runs the tool-calling conversation loop and defines the
// stream events it emits to the client.
package agent

import (
	"github.com/aisle-dev/aisle/internal/tools"
	aisleerr "github.com/aisle-dev/aisle/pkg/errors"
)

// EventType discriminates stream events on the wire.
type EventType string

const (
	// EventToken carries one chunk of assistant text.
	EventToken EventType = "token"
	// EventToolStart announces a tool execution, before it runs.
	EventToolStart EventType = "tool_start"
	// EventProducts carries search results.
	EventProducts EventType = "products"
	// EventProductDetail carries one product's full details.
	EventProductDetail EventType = "product_detail"
	// EventCategories carries the category list.
	EventCategories EventType = "categories"
	// EventCart carries a cart snapshot after a cart operation.
	EventCart EventType = "cart"
	// EventError reports a terminal failure. Nothing follows it but the
	// stream sentinel.
	EventError EventType = "error"
)

// Event is one JSON stream event. Exactly one of the optional fields is
// populated, according to Type.
type Event struct {
	Type    EventType `json:"type"`
	Content string    `json:"content,omitempty"`
	Tool    string    `json:"tool,omitempty"`
	Data    any       `json:"data,omitempty"`
	Code    string    `json:"code,omitempty"`
}

// Emitter receives stream events in order. Emit is called synchronously from
// the loop goroutine; Close marks the end of the stream and must be
// idempotent.
type Emitter interface {
	Emit(Event) error
	Close() error
}

// tokenEvent wraps one chunk of assistant text.
func tokenEvent(text string) Event {
	return Event{Type: EventToken, Content: text}
}

// toolStartEvent announces a tool call by name.
func toolStartEvent(name string) Event {
	return Event{Type: EventToolStart, Tool: name}
}

// ErrorEvent converts a loop failure into its wire form.
func ErrorEvent(err error) Event {
	return Event{
		Type:    EventError,
		Content: err.Error(),
		Code:    string(aisleerr.CodeOf(err)),
	}
}

// outcomeEvent maps a tool outcome onto its stream event.
func outcomeEvent(out tools.Outcome) Event {
	var typ EventType
	switch out.Kind {
	case tools.KindProducts:
		typ = EventProducts
	case tools.KindProductDetail:
		typ = EventProductDetail
	case tools.KindCategories:
		typ = EventCategories
	case tools.KindCart:
		typ = EventCart
	default:
		typ = EventType(out.Kind)
	}
	return Event{Type: typ, Data: out.Payload}
}
