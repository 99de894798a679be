// Package toolkit implements the Tool Registry: tool definitions keyed
// by id, with start/complete/error callback subscriptions and a
// validating dispatcher. A tool is a plain id/schema/executor record
// with no coupling to any LLM framework.
package toolkit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/agentcore/internal/adapter"
	"github.com/opencode-ai/agentcore/internal/corerr"
)

// PermissionFacade is the permission-prompt surface a tool's executor
// can consult, satisfied by internal/agentsvc in production and by a
// stub in tests.
type PermissionFacade interface {
	// Granted blocks until the pending permission request for
	// executionID resolves, or the abort channel closes.
	Granted(ctx context.Context, executionID string) (bool, error)
}

// ExecContext carries everything an executor needs besides its own
// arguments.
type ExecContext struct {
	SessionID   string
	ExecutionID string
	Logger      *zerolog.Logger
	Adapter     adapter.Adapter
	Permission  PermissionFacade
	AbortCh     <-chan struct{}
	Registry    *Registry
}

// Aborted reports whether the abort channel has already closed.
func (c *ExecContext) Aborted() bool {
	select {
	case <-c.AbortCh:
		return true
	default:
		return false
	}
}

// Result is a tool's successful output.
type Result struct {
	Output       string
	Metadata     map[string]any
	PreviewBrief string
	PreviewFull  string
}

// Definition is a registered tool.
type Definition struct {
	ID                       string
	Name                     string
	Description              string
	Parameters               json.RawMessage
	RequiredParameters       []string
	Validate                 func(args json.RawMessage) error
	Execute                  func(ctx context.Context, args json.RawMessage, ec *ExecContext) (*Result, error)
	RequiresPermission       bool
	AlwaysRequiresPermission bool
}

// Unsubscribe removes a previously registered callback.
type Unsubscribe func()

type startHandler func(id string, args json.RawMessage, ec *ExecContext)
type completeHandler func(id string, args json.RawMessage, result *Result, durationMs int64)
type errorHandler func(id string, args json.RawMessage, err error)

// Registry stores tool definitions and three callback kinds (start,
// complete, error), dispatching through Execute.
type Registry struct {
	mu    sync.RWMutex
	defs  map[string]*Definition
	order []string

	subMu      sync.RWMutex
	onStart    map[uint64]startHandler
	onComplete map[uint64]completeHandler
	onError    map[uint64]errorHandler
	nextSub    uint64
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		defs:       make(map[string]*Definition),
		onStart:    make(map[uint64]startHandler),
		onComplete: make(map[uint64]completeHandler),
		onError:    make(map[uint64]errorHandler),
	}
}

// Register adds or replaces a tool definition.
func (r *Registry) Register(def *Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.ID]; !exists {
		r.order = append(r.order, def.ID)
	}
	r.defs[def.ID] = def
}

// Get retrieves a tool definition by id.
func (r *Registry) Get(id string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[id]
	return def, ok
}

// List returns all registered definitions in registration order.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.defs[id])
	}
	return out
}

// IDs returns all registered tool ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// OnStart subscribes to tool-start notifications.
func (r *Registry) OnStart(h func(id string, args json.RawMessage, ec *ExecContext)) Unsubscribe {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	id := r.nextSub
	r.nextSub++
	r.onStart[id] = h
	return func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		delete(r.onStart, id)
	}
}

// OnComplete subscribes to tool-completion notifications.
func (r *Registry) OnComplete(h func(id string, args json.RawMessage, result *Result, durationMs int64)) Unsubscribe {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	id := r.nextSub
	r.nextSub++
	r.onComplete[id] = h
	return func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		delete(r.onComplete, id)
	}
}

// OnError subscribes to tool-error notifications.
func (r *Registry) OnError(h func(id string, args json.RawMessage, err error)) Unsubscribe {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	id := r.nextSub
	r.nextSub++
	r.onError[id] = h
	return func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		delete(r.onError, id)
	}
}

// Execute validates args, runs the start/complete/error callback
// protocol, and dispatches to the tool's executor.
func (r *Registry) Execute(ctx context.Context, id string, args json.RawMessage, ec *ExecContext) (*Result, error) {
	def, ok := r.Get(id)
	if !ok {
		return nil, corerr.New(corerr.KindToolValidation, "unknown tool: "+id)
	}

	if err := validateRequired(def, args); err != nil {
		return nil, err
	}
	if def.Validate != nil {
		if err := def.Validate(args); err != nil {
			return nil, corerr.Wrap(corerr.KindToolValidation, "tool validation failed", err)
		}
	}

	r.fireStart(id, args, ec)

	start := time.Now()
	result, err := def.Execute(ctx, args, ec)
	if err != nil {
		r.fireError(id, args, err)
		return nil, err
	}

	r.fireComplete(id, args, result, time.Since(start).Milliseconds())
	return result, nil
}

func validateRequired(def *Definition, args json.RawMessage) error {
	if len(def.RequiredParameters) == 0 {
		return nil
	}
	var parsed map[string]json.RawMessage
	if err := json.Unmarshal(args, &parsed); err != nil {
		return corerr.Wrap(corerr.KindToolValidation, "tool arguments must be a JSON object", err)
	}
	for _, name := range def.RequiredParameters {
		if _, ok := parsed[name]; !ok {
			return corerr.New(corerr.KindToolValidation, "missing required argument: "+name)
		}
	}
	return nil
}

func (r *Registry) fireStart(id string, args json.RawMessage, ec *ExecContext) {
	r.subMu.RLock()
	defer r.subMu.RUnlock()
	for _, h := range r.onStart {
		h(id, args, ec)
	}
}

func (r *Registry) fireComplete(id string, args json.RawMessage, result *Result, durationMs int64) {
	r.subMu.RLock()
	defer r.subMu.RUnlock()
	for _, h := range r.onComplete {
		h(id, args, result, durationMs)
	}
}

func (r *Registry) fireError(id string, args json.RawMessage, err error) {
	r.subMu.RLock()
	defer r.subMu.RUnlock()
	for _, h := range r.onError {
		h(id, args, err)
	}
}
