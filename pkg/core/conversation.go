package core

import "encoding/json"

// Role identifies who authored a ConversationEntry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationEntry is one role-tagged turn in a session's history,
// made up of typed Parts.
type ConversationEntry struct {
	Role  Role
	Parts []Part
}

// Part is a typed piece of conversation content. The three concrete
// kinds are TextPart, ToolUsePart and ToolResultPart; ToolUsePart and
// ToolResultPart are linked by PairingID.
type Part interface {
	PartKind() string
}

// TextPart carries plain assistant or user text.
type TextPart struct {
	Text string `json:"text"`
}

func (TextPart) PartKind() string { return "text" }

// ToolUsePart is emitted by the model requesting a tool invocation.
type ToolUsePart struct {
	PairingID string         `json:"pairingId"`
	ToolName  string         `json:"toolName"`
	Args      map[string]any `json:"args"`
}

func (ToolUsePart) PartKind() string { return "tool-use" }

// ToolResultPart pairs with a prior ToolUsePart by PairingID. Exactly one
// of Value/Error is meaningful unless Aborted is set, in which case both
// are typically empty.
type ToolResultPart struct {
	PairingID string `json:"pairingId"`
	Value     any    `json:"value,omitempty"`
	Error     string `json:"error,omitempty"`
	Aborted   bool   `json:"aborted,omitempty"`
}

func (ToolResultPart) PartKind() string { return "tool-result" }

// rawPart is the wire shape used to recover the concrete Part type on load.
type rawPart struct {
	Kind string `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// MarshalConversationEntry renders an entry to its persisted wire form.
func MarshalConversationEntry(e ConversationEntry) ([]byte, error) {
	type wire struct {
		Role  Role      `json:"role"`
		Parts []rawPart `json:"parts"`
	}
	w := wire{Role: e.Role}
	for _, p := range e.Parts {
		body, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		w.Parts = append(w.Parts, rawPart{Kind: p.PartKind(), Body: body})
	}
	return json.Marshal(w)
}

// UnmarshalConversationEntry recovers an entry from its persisted wire form.
func UnmarshalConversationEntry(data []byte) (ConversationEntry, error) {
	type wire struct {
		Role  Role      `json:"role"`
		Parts []rawPart `json:"parts"`
	}
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return ConversationEntry{}, err
	}
	entry := ConversationEntry{Role: w.Role}
	for _, rp := range w.Parts {
		part, err := unmarshalPart(rp)
		if err != nil {
			return ConversationEntry{}, err
		}
		entry.Parts = append(entry.Parts, part)
	}
	return entry, nil
}

func unmarshalPart(rp rawPart) (Part, error) {
	switch rp.Kind {
	case "text":
		var p TextPart
		if err := json.Unmarshal(rp.Body, &p); err != nil {
			return nil, err
		}
		return p, nil
	case "tool-use":
		var p ToolUsePart
		if err := json.Unmarshal(rp.Body, &p); err != nil {
			return nil, err
		}
		return p, nil
	case "tool-result":
		var p ToolResultPart
		if err := json.Unmarshal(rp.Body, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		var p TextPart
		if err := json.Unmarshal(rp.Body, &p); err != nil {
			return nil, err
		}
		return p, nil
	}
}

// PendingToolUseIDs returns the pairing ids of every ToolUsePart in entry
// that does not yet have a matching ToolResultPart anywhere in the whole
// conversation supplied. Used by the runner to synthesize aborted results
// on unwind.
func PendingToolUseIDs(conversation []ConversationEntry) []string {
	paired := make(map[string]bool)
	var pending []string
	for _, entry := range conversation {
		for _, part := range entry.Parts {
			switch p := part.(type) {
			case ToolResultPart:
				paired[p.PairingID] = true
			case ToolUsePart:
				pending = append(pending, p.PairingID)
			}
		}
	}
	var unpaired []string
	for _, id := range pending {
		if !paired[id] {
			unpaired = append(unpaired, id)
		}
	}
	return unpaired
}
