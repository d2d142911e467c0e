// Package tools implements the model-initiated tool-call sub-protocol:
// a registry of named tools with JSON-schema parameters, typed argument
// decoding, and the result/follow-up exchange back over the wire.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/splashworks/go-fin/pkg/realtime"
)

// Call is one complete tool invocation from the model.
type Call struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// Result is what a tool hands back to the exchange.
type Result struct {
	// Output is sent as the function result payload.
	Output string

	// FollowUp, when set, is sent as a user-role message after the
	// result so the model continues with extra context.
	FollowUp string
}

// Responder sends protocol items during a tool exchange.
type Responder interface {
	SendFunctionResult(callID, output string) error
	SendUserMessage(text string) error
}

// SessionControl is the narrow session surface tools may touch.
type SessionControl interface {
	// SetFollowUp records the model's declared follow-up intent for
	// the end-of-turn decision.
	SetFollowUp(expected bool, prompt string)

	// EndSession asks the session to wind down after this turn.
	EndSession()

	// PausePlayback discards queued assistant audio so a tool can take
	// over the speaker.
	PausePlayback()
}

// Env carries the collaborators a tool runs against.
type Env struct {
	Responder Responder
	Control   SessionControl
	Logger    *slog.Logger
}

// Tool is a registered tool.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any

	// Run executes the call with its raw JSON arguments. Implementations
	// decode into their own typed argument struct and validate it.
	Run func(ctx context.Context, args json.RawMessage, env Env) (Result, error)
}

// Dispatcher routes complete tool calls to their handlers.
type Dispatcher struct {
	logger *slog.Logger
	settle time.Duration

	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSettleDelay overrides the wait between the function result and the
// follow-up user message (default 100ms).
func WithSettleDelay(d time.Duration) Option {
	return func(dp *Dispatcher) { dp.settle = d }
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		logger: logger,
		settle: 100 * time.Millisecond,
		tools:  make(map[string]Tool),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds a tool. Re-registering a name replaces it.
func (d *Dispatcher) Register(t Tool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.tools[t.Name]; !exists {
		d.order = append(d.order, t.Name)
	}
	d.tools[t.Name] = t
}

// Schemas returns the tool definitions for session setup, in
// registration order.
func (d *Dispatcher) Schemas() []realtime.ToolSchema {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]realtime.ToolSchema, 0, len(d.order))
	for _, name := range d.order {
		t := d.tools[name]
		out = append(out, realtime.ToolSchema{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return out
}

// Dispatch runs one complete call. Unknown names are logged and ignored;
// no protocol traffic results. Handler errors produce an error-shaped
// function result so the model knows the call failed.
//
// The exchange never issues a response.create: after the function result
// (and optional follow-up message) the remote continues on its own.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call, env Env) {
	d.mu.RLock()
	tool, ok := d.tools[call.Name]
	d.mu.RUnlock()

	logger := env.Logger
	if logger == nil {
		logger = d.logger
	}

	if !ok {
		logger.Warn("unknown tool call ignored", "name", call.Name, "call_id", call.ID)
		return
	}

	logger.Info("tool call", "name", call.Name, "call_id", call.ID)

	result, err := tool.Run(ctx, json.RawMessage(call.Arguments), env)
	if err != nil {
		logger.Warn("tool failed", "name", call.Name, "error", err)
		result = Result{Output: errorOutput(err)}
	}

	if result.Output == "" {
		result.Output = `{"ok":true}`
	}
	if err := env.Responder.SendFunctionResult(call.ID, result.Output); err != nil {
		logger.Warn("function result send failed", "name", call.Name, "error", err)
		return
	}

	if result.FollowUp != "" {
		// give the remote a beat to ingest the result first
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.settle):
		}
		if err := env.Responder.SendUserMessage(result.FollowUp); err != nil {
			logger.Warn("follow-up message send failed", "name", call.Name, "error", err)
		}
	}
}

func errorOutput(err error) string {
	data, merr := json.Marshal(map[string]string{"error": err.Error()})
	if merr != nil {
		return `{"error":"tool failed"}`
	}
	return string(data)
}

// decodeArgs unmarshals raw arguments into a typed struct.
func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("tools: empty arguments")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("tools: malformed arguments: %w", err)
	}
	return nil
}
