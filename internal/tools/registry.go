// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aisle Contributors

// Package tools defines the fixed set of shopping tools the agent can call
// and the registry that dispatches model tool calls onto them.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/aisle-dev/aisle/internal/provider"
	aisleerr "github.com/aisle-dev/aisle/pkg/errors"
)

// Call carries one model-issued tool invocation plus the request scope it
// runs under.
type Call struct {
	Scope          string
	ConversationID string
	Args           json.RawMessage
}

// Outcome is a tool's structured result. Payload is serialized as the tool
// message fed back to the model and reused verbatim for the matching stream
// event; Kind tells the event layer which event that is.
type Outcome struct {
	Kind    Kind
	Payload any
}

// Kind classifies a tool outcome for the streaming layer.
type Kind string

const (
	KindProducts      Kind = "products"
	KindProductDetail Kind = "product_detail"
	KindCategories    Kind = "categories"
	KindCart          Kind = "cart"
)

// Handler executes one tool call. Argument validation happens inside the
// handler before any side effect.
type Handler func(ctx context.Context, call Call) (Outcome, error)

// Tool pairs a model-facing definition with its handler.
type Tool struct {
	Definition provider.ToolDefinition
	Handler    Handler
}

// Registry is the fixed tool set exposed to the model. It is assembled once
// at startup and read-only afterwards, so no locking.
type Registry struct {
	order   []string
	tools   map[string]Tool
	timeout time.Duration
}

// NewRegistry creates an empty registry. timeout bounds each tool execution;
// zero means no bound.
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		timeout: timeout,
	}
}

// Register adds a tool. Registering the same name twice replaces the handler
// but keeps the original position.
func (r *Registry) Register(t Tool) {
	name := t.Definition.Name
	if _, ok := r.tools[name]; !ok {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Definitions returns the tool definitions in registration order, for the
// model request.
func (r *Registry) Definitions() []provider.ToolDefinition {
	defs := make([]provider.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition)
	}
	return defs
}

// Execute runs the named tool under the registry's per-call timeout.
func (r *Registry) Execute(ctx context.Context, name string, call Call) (Outcome, error) {
	t, ok := r.tools[name]
	if !ok {
		return Outcome{}, aisleerr.New(aisleerr.CodeToolNotFound, "unknown tool",
			aisleerr.FieldTool(name))
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	out, err := t.Handler(ctx, call)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Outcome{}, aisleerr.Wrap(err, aisleerr.CodeToolTimeout, "tool timed out",
				aisleerr.FieldTool(name))
		}
		return Outcome{}, err
	}
	return out, nil
}

// decodeArgs strictly unmarshals a tool's JSON arguments. Unknown fields and
// type mismatches are rejected before the handler runs.
func decodeArgs(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return aisleerr.Wrap(err, aisleerr.CodeToolArgsInvalid, "invalid tool arguments")
	}
	return nil
}
