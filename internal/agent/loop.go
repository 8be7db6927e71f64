// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aisle Contributors

package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/cenkalti/backoff/v5"

	"github.com/aisle-dev/aisle/internal/cart"
	"github.com/aisle-dev/aisle/internal/history"
	"github.com/aisle-dev/aisle/internal/provider"
	"github.com/aisle-dev/aisle/internal/tools"
	aisleerr "github.com/aisle-dev/aisle/pkg/errors"
)

const defaultSystemPrompt = `You are a helpful shopping assistant for an online store.
Use the available tools to search the catalog, look up product details, list categories, and manage the shopper's cart.
Ground every product claim in tool results; never invent products, prices, or ids.
Keep answers short and concrete, and mention prices when recommending products.`

const (
	defaultMaxIterations = 8
	defaultHistoryWindow = 20
	modelCallMaxTries    = 3
)

// Config tunes one agent loop instance.
type Config struct {
	// Model is a provider-qualified reference, e.g. "openai/gpt-4o-mini".
	Model         string
	SystemPrompt  string
	MaxIterations int
	HistoryWindow int
	Temperature   float32
	MaxTokens     int
}

func (c Config) withDefaults() Config {
	if c.SystemPrompt == "" {
		c.SystemPrompt = defaultSystemPrompt
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = defaultMaxIterations
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = defaultHistoryWindow
	}
	return c
}

// Request is one user turn.
type Request struct {
	ConversationID string
	UserID         string
	Message        string
}

// Loop drives the model/tool conversation: ask the model, run the tools it
// requests, feed results back, repeat until the model answers in plain text
// or the iteration ceiling trips.
type Loop struct {
	providers *provider.Registry
	tools     *tools.Registry
	history   *history.Store
	logger    *slog.Logger
	cfg       Config
}

// New creates an agent loop.
func New(providers *provider.Registry, reg *tools.Registry, hist *history.Store, cfg Config, logger *slog.Logger) *Loop {
	return &Loop{
		providers: providers,
		tools:     reg,
		history:   hist,
		logger:    logger,
		cfg:       cfg.withDefaults(),
	}
}

// Run processes one user turn, emitting stream events in order. The emitter
// is not closed here; the transport owns the stream sentinel. Errors that
// occur after streaming started are also emitted as an error event so the
// client sees them.
func (l *Loop) Run(ctx context.Context, req Request, emit Emitter) error {
	if strings.TrimSpace(req.Message) == "" {
		return aisleerr.New(aisleerr.CodeAgentLoopInvalidInput, "message is required")
	}
	if req.ConversationID == "" {
		return aisleerr.New(aisleerr.CodeAgentLoopInvalidInput, "conversation id is required")
	}

	prov, model, err := l.providers.Resolve(l.cfg.Model)
	if err != nil {
		return err
	}

	scope := cart.ScopeKey(req.UserID, req.ConversationID)
	logger := l.logger.With("conversation_id", req.ConversationID, "scope", scope)

	messages, err := l.history.Recent(ctx, req.ConversationID, l.cfg.HistoryWindow)
	if err != nil {
		return err
	}

	userMsg := provider.Message{Role: provider.MessageRoleUser, Content: req.Message}
	if err := l.history.Append(ctx, req.ConversationID, userMsg); err != nil {
		return err
	}
	messages = append(messages, userMsg)

	for iteration := 0; iteration < l.cfg.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return aisleerr.Wrap(err, aisleerr.CodeAgentLoopFailure, "request cancelled")
		}

		assistant, streamErr := l.modelTurn(ctx, prov, model, messages, emit)
		if streamErr != nil {
			failure := aisleerr.Wrap(streamErr, aisleerr.CodeProviderUpstreamFailure, "model call failed",
				aisleerr.FieldProvider(prov.Name()))
			_ = emit.Emit(ErrorEvent(failure))
			return failure
		}

		if err := l.history.Append(ctx, req.ConversationID, assistant); err != nil {
			return err
		}
		messages = append(messages, assistant)

		if len(assistant.ToolCalls) == 0 {
			logger.Debug("turn complete", "iterations", iteration+1)
			return nil
		}

		// Tools run sequentially: cart tools mutate shared state and the
		// transcript must interleave results in call order.
		for _, call := range assistant.ToolCalls {
			if err := emit.Emit(toolStartEvent(call.Name)); err != nil {
				return err
			}

			result := l.runTool(ctx, scope, req.ConversationID, call, emit, logger)
			if err := l.history.Append(ctx, req.ConversationID, result); err != nil {
				return err
			}
			messages = append(messages, result)
		}
	}

	// Out of rounds. The client gets a readable degraded answer as the
	// final assistant text, then the error event terminates the stream.
	degraded := provider.Message{
		Role:    provider.MessageRoleAssistant,
		Content: "I was unable to complete this request: it needed too many tool steps. Please try a more specific question.",
	}
	_ = emit.Emit(tokenEvent(degraded.Content))
	if err := l.history.Append(ctx, req.ConversationID, degraded); err != nil {
		logger.Warn("recording degraded reply", "error", err)
	}

	ceiling := aisleerr.New(aisleerr.CodeAgentLoopCeiling, "unable to complete the request: too many tool rounds",
		aisleerr.Field("max_iterations", l.cfg.MaxIterations))
	_ = emit.Emit(ErrorEvent(ceiling))
	return ceiling
}

// modelTurn makes one model call and consumes its stream, emitting token
// events as text arrives. It returns the full assistant message including any
// tool calls. The SDK streams open lazily, so a transient upstream failure
// usually surfaces as an error event rather than a Chat error; retrying must
// cover stream consumption too. Retries stop the moment a token has reached
// the client, because a retry after that would duplicate output.
func (l *Loop) modelTurn(ctx context.Context, prov provider.Provider, model string, messages []provider.Message, emit Emitter) (provider.Message, error) {
	req := provider.ChatRequest{
		Model:        model,
		Messages:     messages,
		Tools:        l.tools.Definitions(),
		SystemPrompt: l.cfg.SystemPrompt,
		Options: provider.ChatOptions{
			Temperature: l.cfg.Temperature,
			MaxTokens:   l.cfg.MaxTokens,
			Stream:      true,
		},
	}

	streamed := false
	return backoff.Retry(ctx, func() (provider.Message, error) {
		events, err := prov.Chat(ctx, req)
		if err != nil {
			if streamed {
				return provider.Message{}, backoff.Permanent(err)
			}
			return provider.Message{}, err
		}

		var text strings.Builder
		var calls []provider.ToolCall

		for ev := range events {
			switch ev.Type {
			case provider.EventTypeTextDelta:
				text.WriteString(ev.Text)
				if err := emit.Emit(tokenEvent(ev.Text)); err != nil {
					return provider.Message{}, backoff.Permanent(err)
				}
				streamed = true
			case provider.EventTypeToolCall:
				if ev.ToolCall != nil {
					calls = append(calls, *ev.ToolCall)
				}
			case provider.EventTypeUsage:
				if ev.Usage != nil {
					l.logger.Debug("model usage",
						"input_tokens", ev.Usage.InputTokens,
						"output_tokens", ev.Usage.OutputTokens)
				}
			case provider.EventTypeError:
				uerr := aisleerr.New(aisleerr.CodeProviderUpstreamFailure, ev.Error)
				if streamed {
					return provider.Message{}, backoff.Permanent(uerr)
				}
				return provider.Message{}, uerr
			case provider.EventTypeDone:
			}
		}

		return provider.Message{
			Role:      provider.MessageRoleAssistant,
			Content:   text.String(),
			ToolCalls: calls,
		}, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(modelCallMaxTries),
	)
}

// runTool executes one tool call and returns the tool result message for the
// transcript. Tool failures do not abort the turn: the error is fed back to
// the model, which can recover or explain.
func (l *Loop) runTool(ctx context.Context, scope, conversationID string, call provider.ToolCall, emit Emitter, logger *slog.Logger) provider.Message {
	out, err := l.tools.Execute(ctx, call.Name, tools.Call{
		Scope:          scope,
		ConversationID: conversationID,
		Args:           json.RawMessage(call.Arguments),
	})

	var content string
	if err != nil {
		logger.Warn("tool failed", "tool", call.Name, "error", err)
		content = toolErrorContent(err)
	} else {
		payload, merr := json.Marshal(out.Payload)
		if merr != nil {
			logger.Error("encoding tool payload", "tool", call.Name, "error", merr)
			content = toolErrorContent(aisleerr.Wrap(merr, aisleerr.CodeToolFailure, "encoding tool result"))
		} else {
			content = string(payload)
			_ = emit.Emit(outcomeEvent(out))
		}
	}

	return provider.Message{
		Role:       provider.MessageRoleTool,
		Content:    content,
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}
}

// toolErrorContent is the JSON shape a failed tool feeds back to the model.
func toolErrorContent(err error) string {
	b, merr := json.Marshal(map[string]string{
		"error": err.Error(),
		"code":  string(aisleerr.CodeOf(err)),
	})
	if merr != nil {
		return `{"error":"tool execution failed"}`
	}
	return string(b)
}
