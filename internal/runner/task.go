package runner

import (
	"context"
	"encoding/json"

	"github.com/opencode-ai/agentcore/internal/corerr"
	"github.com/opencode-ai/agentcore/internal/toolkit"
)

// SpawnFunc runs prompt to completion in a fresh child session and
// returns its final text. internal/agentsvc supplies the real
// implementation (create a child session via internal/sessionmgr, run
// it through this same Runner, then delete it); tests can supply a stub.
type SpawnFunc func(ctx context.Context, description, prompt string) (string, error)

type taskArgs struct {
	Description string `json:"description"`
	Prompt      string `json:"prompt"`
}

// BuildTaskDefinition returns the `task` tool: it spawns a child
// session driven by the same Runner/Tool Registry and returns the
// child's final response. Reusing the parent's own Runner keeps a
// subagent turn subject to the same abort, permission, and event
// machinery as any other turn.
func BuildTaskDefinition(spawn SpawnFunc) *toolkit.Definition {
	return &toolkit.Definition{
		ID:          "task",
		Name:        "Task",
		Description: "Spawns a subagent to independently complete a described task and returns its final result.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"description": {"type": "string", "description": "A short label for the subagent task"},
				"prompt": {"type": "string", "description": "The full instructions for the subagent"}
			},
			"required": ["prompt"]
		}`),
		RequiredParameters: []string{"prompt"},
		Execute: func(ctx context.Context, args json.RawMessage, ec *toolkit.ExecContext) (*toolkit.Result, error) {
			var in taskArgs
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, corerr.Wrap(corerr.KindToolValidation, "invalid arguments", err)
			}
			text, err := spawn(ctx, in.Description, in.Prompt)
			if err != nil {
				return nil, corerr.Wrap(corerr.KindToolExecution, "subagent task failed", err)
			}
			return &toolkit.Result{Output: text}, nil
		},
	}
}
