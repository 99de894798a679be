package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opencode-ai/agentcore/pkg/core"
)

func textEntry(role core.Role, text string) core.ConversationEntry {
	return core.ConversationEntry{Role: role, Parts: []core.Part{core.TextPart{Text: text}}}
}

func TestSafeSplitPointLeavesPairedConversationAlone(t *testing.T) {
	conv := []core.ConversationEntry{
		textEntry(core.RoleUser, "q"),
		{Role: core.RoleAssistant, Parts: []core.Part{core.ToolUsePart{PairingID: "u1", ToolName: "read"}}},
		{Role: core.RoleAssistant, Parts: []core.Part{core.ToolResultPart{PairingID: "u1", Value: "x"}}},
		textEntry(core.RoleAssistant, "answer"),
	}
	assert.Equal(t, 3, safeSplitPoint(conv, 3))
}

func TestSafeSplitPointNudgesEarlierAcrossUnpairedUse(t *testing.T) {
	conv := []core.ConversationEntry{
		textEntry(core.RoleUser, "q"),
		{Role: core.RoleAssistant, Parts: []core.Part{core.ToolUsePart{PairingID: "u1", ToolName: "read"}}},
		{Role: core.RoleAssistant, Parts: []core.Part{core.ToolResultPart{PairingID: "u1", Value: "x"}}},
	}
	// Splitting at 2 would separate u1's use from its result; the split
	// must move back to before the use.
	assert.Equal(t, 1, safeSplitPoint(conv, 2))
}

func TestSafeSplitPointBottomsOutAtZero(t *testing.T) {
	conv := []core.ConversationEntry{
		{Role: core.RoleAssistant, Parts: []core.Part{core.ToolUsePart{PairingID: "u1", ToolName: "read"}}},
		{Role: core.RoleAssistant, Parts: []core.Part{core.ToolResultPart{PairingID: "u1", Value: "x"}}},
	}
	assert.Equal(t, 0, safeSplitPoint(conv, 1))
}

func TestConversationCharsCountsTextAndResults(t *testing.T) {
	conv := []core.ConversationEntry{
		textEntry(core.RoleUser, "hello"), // 5
		{Role: core.RoleAssistant, Parts: []core.Part{core.ToolResultPart{PairingID: "u1", Value: "abc"}}}, // 3
	}
	assert.Equal(t, 8, conversationChars(conv))
}
