// Package adapter defines the Execution Adapter contract: the uniform
// filesystem/shell surface that makes local, container and
// remote-sandbox backends interchangeable at session creation time.
//
// No shared base class exists between backends; each implementation in
// internal/adapter/{local,container,remote} composes the same small
// helpers (path safety, status coalescing, edit strategies) rather
// than inheriting from one another.
package adapter

import "context"

// Kind mirrors core.AdapterKind to avoid an import cycle between
// pkg/core and internal/adapter; session code is responsible for keeping
// the two in sync (see internal/sessionmgr).
type Kind string

const (
	KindLocal     Kind = "local"
	KindContainer Kind = "container"
	KindRemote    Kind = "remote"
)

// CommandResult is the outcome of executeCommand.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Pagination describes a partial-file read window.
type Pagination struct {
	LineOffset int
	LineCount  int
	HasMore    bool
	TotalLines int
}

// ReadResult is the success shape of readFile.
type ReadResult struct {
	Path        string
	DisplayPath string
	Content     string
	Size        int64
	Encoding    string
	Pagination  *Pagination
}

// EditResult is the success shape of editFile.
type EditResult struct {
	Path            string
	DisplayPath     string
	OriginalContent string
	NewContent      string
}

// DirEntry is one row of a listDirectory result.
type DirEntry struct {
	Name    string
	IsDir   bool
	Size    int64
	ModTime int64
}

// ListResult is the success shape of listDirectory.
type ListResult struct {
	Path    string
	Entries []DirEntry
	Count   int
}

// RepositoryInfo is the success shape of getRepositoryInfo.
type RepositoryInfo struct {
	Branch        string
	DefaultBranch string
	Status        string
	RecentCommits []string
}

// Status is the lifecycle state of an adapter's backing environment.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// StatusEvent is emitted on construction and on relevant transitions.
type StatusEvent struct {
	EnvironmentType Kind
	Status          Status
	IsReady         bool
	Err             error
}

// GlobOptions configures globFiles.
type GlobOptions struct {
	BaseDir string
	Limit   int
}

// Adapter is the capability interface every backend implements.
// Implementations must never panic on expected errors — every
// operation returns a structured error through Go's normal error
// return instead.
type Adapter interface {
	ExecuteCommand(ctx context.Context, command string, workingDir string) (CommandResult, error)
	ReadFile(ctx context.Context, path string, maxSize int64, lineOffset, lineCount int, encoding string) (ReadResult, error)
	WriteFile(ctx context.Context, path string, content []byte) error
	EditFile(ctx context.Context, path, searchCode, replaceCode, encoding string) (EditResult, error)
	ListDirectory(ctx context.Context, path string, showHidden, details bool) (ListResult, error)
	GlobFiles(ctx context.Context, pattern string, opts GlobOptions) ([]string, error)
	GenerateDirectoryMap(ctx context.Context, rootPath string, maxDepth int) (string, error)
	GetRepositoryInfo(ctx context.Context) (*RepositoryInfo, error)

	// Status returns a channel of StatusEvents, coalesced: a status
	// equal to the last-emitted one is suppressed, and `initializing`
	// is suppressed unless the previous state was disconnected, error,
	// or absent.
	Status() <-chan StatusEvent

	// Close releases any background resources (watchers, connections).
	Close() error
}
