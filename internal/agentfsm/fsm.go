// Package agentfsm implements the agent turn's state machine as a pure
// state-transition function over agent states and events. It holds no
// state of its own and performs no I/O; internal/runner drives it.
package agentfsm

import "github.com/opencode-ai/agentcore/internal/corerr"

// State is one of the agent turn's possible states.
type State string

const (
	Idle                 State = "idle"
	WaitingForModel      State = "waiting_for_model"
	WaitingForToolResult State = "waiting_for_tool_result"
	WaitingForModelFinal State = "waiting_for_model_final"
	Complete             State = "complete"
	Aborted              State = "aborted"
)

// IsTerminal reports whether s admits no further transitions.
func (s State) IsTerminal() bool {
	return s == Complete || s == Aborted
}

// EventKind is one of the events the runner feeds into the FSM.
type EventKind string

const (
	UserMessage  EventKind = "user_message"
	ModelToolCall EventKind = "model_tool_call"
	ToolFinished EventKind = "tool_finished"
	ModelFinal   EventKind = "model_final"
	AbortRequested EventKind = "abort_requested"
)

// Event is a single input to Transition. ToolUseID is only meaningful
// for ModelToolCall.
type Event struct {
	Kind      EventKind
	ToolUseID string
}

// legalEdges enumerates every legal (state, eventKind) pair, mapped to
// the resulting state. ABORT_REQUESTED from any
// non-terminal state is handled separately in Transition since it
// applies uniformly rather than per-state.
var legalEdges = map[State]map[EventKind]State{
	Idle: {
		UserMessage: WaitingForModel,
	},
	WaitingForModel: {
		ModelToolCall: WaitingForToolResult,
		ModelFinal:    Complete,
	},
	WaitingForToolResult: {
		ToolFinished: WaitingForModelFinal,
	},
	WaitingForModelFinal: {
		ModelToolCall: WaitingForToolResult,
		ModelFinal:    Complete,
	},
}

// Transition applies event to state and returns the resulting state.
// Any (state, event) pair not in the edge list fails with
// corerr.KindInvalidTransition — including any attempt to transition
// out of a terminal state other than by re-aborting, which is also
// rejected since Complete/Aborted are terminal.
func Transition(state State, event Event) (State, error) {
	if event.Kind == AbortRequested {
		if state.IsTerminal() {
			return state, invalidErr(state, event)
		}
		return Aborted, nil
	}

	if state.IsTerminal() {
		return state, invalidErr(state, event)
	}

	edges, ok := legalEdges[state]
	if !ok {
		return state, invalidErr(state, event)
	}
	next, ok := edges[event.Kind]
	if !ok {
		return state, invalidErr(state, event)
	}
	return next, nil
}

func invalidErr(state State, event Event) error {
	return corerr.New(corerr.KindInvalidTransition, "illegal transition: state="+string(state)+" event="+string(event.Kind))
}
