package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/opencode-ai/agentcore/internal/adapter"
	"github.com/opencode-ai/agentcore/internal/corerr"
	"github.com/opencode-ai/agentcore/internal/preview"
)

// BuildDefaultDefinitions returns the core filesystem/shell tool
// definitions, each dispatching through the ExecContext's adapter
// rather than the OS directly, so the same tool definitions run
// against the local, container, or remote backend.
func BuildDefaultDefinitions() []*Definition {
	return []*Definition{
		readDefinition(),
		writeDefinition(),
		editDefinition(),
		bashDefinition(),
		listDefinition(),
		globDefinition(),
	}
}

type readArgs struct {
	FilePath string `json:"filePath"`
	Offset   int    `json:"offset,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

func readDefinition() *Definition {
	return &Definition{
		ID:          "read",
		Name:        "Read",
		Description: "Reads a file from the execution environment, optionally paginated by line offset and limit.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"filePath": {"type": "string", "description": "The path to the file to read"},
				"offset": {"type": "integer", "description": "Line number to start reading from"},
				"limit": {"type": "integer", "description": "Number of lines to read (default 2000)"}
			},
			"required": ["filePath"]
		}`),
		RequiredParameters: []string{"filePath"},
		Execute: func(ctx context.Context, args json.RawMessage, ec *ExecContext) (*Result, error) {
			var in readArgs
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, corerr.Wrap(corerr.KindToolValidation, "invalid arguments", err)
			}
			res, err := ec.Adapter.ReadFile(ctx, in.FilePath, 0, in.Offset, in.Limit, "")
			if err != nil {
				return nil, corerr.Wrap(corerr.KindToolExecution, "read failed", err)
			}

			var sb strings.Builder
			fmt.Fprintf(&sb, "<file>\n%s", res.Content)
			if res.Pagination != nil && res.Pagination.HasMore {
				fmt.Fprintf(&sb, "\n\n(File has more lines. Use 'offset' to read beyond line %d)", in.Offset+res.Pagination.LineCount)
			} else if res.Pagination != nil {
				fmt.Fprintf(&sb, "\n\n(End of file - total %d lines)", res.Pagination.TotalLines)
			}
			sb.WriteString("\n</file>")

			return &Result{
				Output: sb.String(),
				Metadata: map[string]any{
					"file": res.DisplayPath,
					"size": res.Size,
				},
			}, nil
		},
	}
}

type writeArgs struct {
	FilePath string `json:"filePath"`
	Content  string `json:"content"`
}

func writeDefinition() *Definition {
	return &Definition{
		ID:                 "write",
		Name:               "Write",
		Description:        "Writes content to a file, creating parent directories as needed.",
		RequiresPermission: true,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"filePath": {"type": "string", "description": "The path to write"},
				"content": {"type": "string", "description": "The content to write"}
			},
			"required": ["filePath", "content"]
		}`),
		RequiredParameters: []string{"filePath", "content"},
		Execute: func(ctx context.Context, args json.RawMessage, ec *ExecContext) (*Result, error) {
			var in writeArgs
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, corerr.Wrap(corerr.KindToolValidation, "invalid arguments", err)
			}
			if err := ec.Adapter.WriteFile(ctx, in.FilePath, []byte(in.Content)); err != nil {
				return nil, corerr.Wrap(corerr.KindToolExecution, "write failed", err)
			}
			return &Result{
				Output:       fmt.Sprintf("Wrote %d bytes to %s", len(in.Content), in.FilePath),
				PreviewBrief: fmt.Sprintf("write %s", filepath.Base(in.FilePath)),
				PreviewFull:  in.Content,
				Metadata:     map[string]any{"file": in.FilePath, "bytes": len(in.Content)},
			}, nil
		},
	}
}

type editArgs struct {
	FilePath    string `json:"filePath"`
	SearchCode  string `json:"searchCode"`
	ReplaceCode string `json:"replaceCode"`
}

func editDefinition() *Definition {
	return &Definition{
		ID:                 "edit",
		Name:               "Edit",
		Description:        "Replaces an exact, unique occurrence of searchCode with replaceCode in a file.",
		RequiresPermission: true,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"filePath": {"type": "string", "description": "The path to edit"},
				"searchCode": {"type": "string", "description": "The exact text to find, must match exactly once"},
				"replaceCode": {"type": "string", "description": "The replacement text"}
			},
			"required": ["filePath", "searchCode", "replaceCode"]
		}`),
		RequiredParameters: []string{"filePath", "searchCode", "replaceCode"},
		Execute: func(ctx context.Context, args json.RawMessage, ec *ExecContext) (*Result, error) {
			var in editArgs
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, corerr.Wrap(corerr.KindToolValidation, "invalid arguments", err)
			}
			res, err := ec.Adapter.EditFile(ctx, in.FilePath, in.SearchCode, in.ReplaceCode, "")
			if err != nil {
				return nil, err
			}
			_, full := preview.EditDiff(res.OriginalContent, res.NewContent)
			return &Result{
				Output:       fmt.Sprintf("Edited %s", res.DisplayPath),
				PreviewBrief: fmt.Sprintf("edit %s", filepath.Base(res.DisplayPath)),
				PreviewFull:  full,
				Metadata:     map[string]any{"file": res.DisplayPath},
			}, nil
		},
	}
}

type bashArgs struct {
	Command string `json:"command"`
	Cwd     string `json:"cwd,omitempty"`
}

func bashDefinition() *Definition {
	return &Definition{
		ID:                 "bash",
		Name:               "Bash",
		Description:        "Executes a shell command in the session's execution environment.",
		RequiresPermission: true,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command": {"type": "string", "description": "The shell command to run"},
				"cwd": {"type": "string", "description": "Working directory, defaults to the session root"}
			},
			"required": ["command"]
		}`),
		RequiredParameters: []string{"command"},
		Execute: func(ctx context.Context, args json.RawMessage, ec *ExecContext) (*Result, error) {
			var in bashArgs
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, corerr.Wrap(corerr.KindToolValidation, "invalid arguments", err)
			}
			res, err := ec.Adapter.ExecuteCommand(ctx, in.Command, in.Cwd)
			if err != nil {
				return nil, err
			}

			output := res.Stdout
			if res.Stderr != "" {
				output += "\n" + res.Stderr
			}
			if res.ExitCode != 0 {
				return nil, corerr.New(corerr.KindToolExecution, fmt.Sprintf("command exited with status %d: %s", res.ExitCode, output))
			}
			return &Result{
				Output:   output,
				Metadata: map[string]any{"exitCode": res.ExitCode},
			}, nil
		},
	}
}

type listArgs struct {
	Path       string `json:"path,omitempty"`
	ShowHidden bool   `json:"showHidden,omitempty"`
}

func listDefinition() *Definition {
	return &Definition{
		ID:          "list",
		Name:        "List",
		Description: "Lists files and directories at a path.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "The directory to list"},
				"showHidden": {"type": "boolean", "description": "Include dotfiles"}
			}
		}`),
		Execute: func(ctx context.Context, args json.RawMessage, ec *ExecContext) (*Result, error) {
			var in listArgs
			if len(args) > 0 {
				if err := json.Unmarshal(args, &in); err != nil {
					return nil, corerr.Wrap(corerr.KindToolValidation, "invalid arguments", err)
				}
			}
			res, err := ec.Adapter.ListDirectory(ctx, in.Path, in.ShowHidden, true)
			if err != nil {
				return nil, corerr.Wrap(corerr.KindToolExecution, "list failed", err)
			}

			var sb strings.Builder
			for _, e := range res.Entries {
				typeStr := "file"
				if e.IsDir {
					typeStr = "dir "
				}
				fmt.Fprintf(&sb, "[%s] %s", typeStr, e.Name)
				if !e.IsDir {
					fmt.Fprintf(&sb, " (%d bytes)", e.Size)
				}
				sb.WriteString("\n")
			}

			return &Result{
				Output:   sb.String(),
				Metadata: map[string]any{"path": res.Path, "count": res.Count},
			}, nil
		},
	}
}

type globArgs struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
}

func globDefinition() *Definition {
	return &Definition{
		ID:                 "glob",
		Name:               "Glob",
		Description:        "Finds files matching a glob pattern (supports ** for recursive matching).",
		Parameters:         json.RawMessage(`{
			"type": "object",
			"properties": {
				"pattern": {"type": "string", "description": "The glob pattern, e.g. **/*.go"},
				"path": {"type": "string", "description": "Base directory to search from"}
			},
			"required": ["pattern"]
		}`),
		RequiredParameters: []string{"pattern"},
		Execute: func(ctx context.Context, args json.RawMessage, ec *ExecContext) (*Result, error) {
			var in globArgs
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, corerr.Wrap(corerr.KindToolValidation, "invalid arguments", err)
			}
			matches, err := ec.Adapter.GlobFiles(ctx, in.Pattern, adapter.GlobOptions{BaseDir: in.Path})
			if err != nil {
				return nil, err
			}
			return &Result{
				Output:   strings.Join(matches, "\n"),
				Metadata: map[string]any{"count": len(matches)},
			}, nil
		},
	}
}
