package runner

import (
	"context"

	"github.com/opencode-ai/agentcore/internal/llm"
	"github.com/opencode-ai/agentcore/pkg/core"
)

// CompactionConfig controls when and how the runner summarizes older
// turns to free context. The trigger is a character-count proxy rather
// than token usage, since the provider contract reports usage only
// after a call completes, not before one is made.
type CompactionConfig struct {
	MinEntriesToKeep int
	CharThreshold    int
}

// DefaultCompactionConfig keeps the most recent entries intact and
// only kicks in once a conversation is large enough that summarizing
// pays for the extra model call.
var DefaultCompactionConfig = CompactionConfig{
	MinEntriesToKeep: 8,
	CharThreshold:    60000,
}

// maybeCompact summarizes the oldest entries of sess.Conversation into a
// single assistant note when the conversation has grown past
// CharThreshold, keeping the most recent MinEntriesToKeep entries intact
// so in-flight tool-use/tool-result pairing is never split across the
// summary boundary.
func (r *Runner) maybeCompact(ctx context.Context, sess *core.Session) {
	cfg := DefaultCompactionConfig
	if len(sess.Conversation) <= cfg.MinEntriesToKeep {
		return
	}
	if conversationChars(sess.Conversation) < cfg.CharThreshold {
		return
	}

	splitAt := len(sess.Conversation) - cfg.MinEntriesToKeep
	splitAt = safeSplitPoint(sess.Conversation, splitAt)
	if splitAt <= 0 {
		return
	}

	older := sess.Conversation[:splitAt]
	recent := sess.Conversation[splitAt:]

	summary, err := r.provider.CallModel(ctx, llm.Request{
		Messages: append(older, core.ConversationEntry{
			Role:  core.RoleUser,
			Parts: []core.Part{core.TextPart{Text: "Summarize the conversation above in a few sentences, preserving any decisions, file paths, and open tasks."}},
		}),
		Model: sess.Config.Model,
	})
	if err != nil || summary.FinalText == "" {
		return
	}

	summaryEntry := core.ConversationEntry{
		Role:  core.RoleAssistant,
		Parts: []core.Part{core.TextPart{Text: "[compacted summary of earlier turns]\n" + summary.FinalText}},
	}
	sess.Conversation = append([]core.ConversationEntry{summaryEntry}, recent...)
}

func conversationChars(entries []core.ConversationEntry) int {
	total := 0
	for _, e := range entries {
		for _, p := range e.Parts {
			switch part := p.(type) {
			case core.TextPart:
				total += len(part.Text)
			case core.ToolUsePart:
				total += len(part.ToolName) + 32
			case core.ToolResultPart:
				if s, ok := part.Value.(string); ok {
					total += len(s)
				}
			}
		}
	}
	return total
}

// safeSplitPoint nudges splitAt earlier until it does not fall between a
// tool-use part and its matching tool-result part, so the summarized
// prefix and the kept suffix never split a tool-use/tool-result pair.
func safeSplitPoint(entries []core.ConversationEntry, splitAt int) int {
	pendingAt := func(idx int) bool {
		paired := make(map[string]bool)
		var used []string
		for i := 0; i < idx; i++ {
			for _, p := range entries[i].Parts {
				switch part := p.(type) {
				case core.ToolResultPart:
					paired[part.PairingID] = true
				case core.ToolUsePart:
					used = append(used, part.PairingID)
				}
			}
		}
		for _, id := range used {
			if !paired[id] {
				return true
			}
		}
		return false
	}
	for splitAt > 0 && pendingAt(splitAt) {
		splitAt--
	}
	return splitAt
}
