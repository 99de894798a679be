package adapter

import "sync"

// StatusEmitter is the shared coalescing helper every backend composes
// instead of inheriting from a common base. It enforces:
//   - a status equal to the last-emitted one is suppressed
//   - `initializing` is suppressed unless the previous state was
//     disconnected, error, or unset (the zero value)
type StatusEmitter struct {
	kind Kind
	mu   sync.Mutex
	last Status
	ch   chan StatusEvent
}

// NewStatusEmitter creates a coalescing emitter for the given adapter kind.
// bufferSize controls how many pending events the channel can hold before
// Emit blocks; callers that don't read promptly should size it generously.
func NewStatusEmitter(kind Kind, bufferSize int) *StatusEmitter {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &StatusEmitter{kind: kind, ch: make(chan StatusEvent, bufferSize)}
}

// Events exposes the read side of the emitter's channel.
func (e *StatusEmitter) Events() <-chan StatusEvent {
	return e.ch
}

// Emit sends a StatusEvent unless it is a duplicate or a disallowed
// `initializing` re-entry, per the coalescing rule above.
func (e *StatusEmitter) Emit(status Status, isReady bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if status == e.last {
		return
	}
	if status == StatusInitializing && e.last != "" && e.last != StatusDisconnected && e.last != StatusError {
		return
	}

	e.last = status
	e.ch <- StatusEvent{
		EnvironmentType: e.kind,
		Status:          status,
		IsReady:         isReady,
		Err:             err,
	}
}

// Close closes the underlying channel. Safe to call once, after no more
// Emit calls will occur.
func (e *StatusEmitter) Close() {
	close(e.ch)
}
