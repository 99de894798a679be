// Package container implements the Execution Adapter contract against
// a managed Docker container. Unlike the local backend it has a real
// connection-readiness phase and a restart-on-failure path; shell
// commands are issued through the Docker Engine exec API instead of
// os/exec.
package container

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog/log"

	"github.com/opencode-ai/agentcore/internal/adapter"
	"github.com/opencode-ai/agentcore/internal/corerr"
)

var _ adapter.Adapter = (*Adapter)(nil)

// healthCheckInterval governs the background goroutine that notices a
// container has gone away even between tool calls.
const healthCheckInterval = 15 * time.Second

// Adapter is the container-backed Execution Adapter. It owns a Docker
// client and drives a single container's lifecycle; it never creates or
// removes the container, only starts it again after a transient loss.
type Adapter struct {
	cli         *client.Client
	containerID string
	workDir     string
	emitter     *adapter.StatusEmitter

	mu         sync.Mutex
	restarting bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a container adapter bound to an already-running
// containerID, rooted at workDir inside that container. Construction
// always succeeds immediately and kicks off an eager background
// readiness check; readiness is reported asynchronously through
// Status().
func New(cli *client.Client, containerID, workDir string) *Adapter {
	a := &Adapter{
		cli:         cli,
		containerID: containerID,
		workDir:     workDir,
		emitter:     adapter.NewStatusEmitter(adapter.KindContainer, 8),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	a.emitter.Emit(adapter.StatusInitializing, false, nil)
	go a.run()
	return a
}

func (a *Adapter) run() {
	defer close(a.doneCh)

	if err := a.ping(); err != nil {
		a.emitter.Emit(adapter.StatusError, false, err)
	} else {
		a.emitter.Emit(adapter.StatusConnected, true, nil)
	}

	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			if err := a.ping(); err != nil {
				a.handleContainerGone(err)
			}
		}
	}
}

func (a *Adapter) ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	info, err := a.cli.ContainerInspect(ctx, a.containerID)
	if err != nil {
		return fmt.Errorf("inspect container %s: %w", a.containerID, err)
	}
	if !info.State.Running {
		return fmt.Errorf("container %s is not running (state=%s)", a.containerID, info.State.Status)
	}
	return nil
}

// handleContainerGone implements the restart policy: emit
// disconnected, attempt exactly one restart, then resume (connected)
// or give up (error).
func (a *Adapter) handleContainerGone(cause error) {
	a.mu.Lock()
	if a.restarting {
		a.mu.Unlock()
		return
	}
	a.restarting = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.restarting = false
		a.mu.Unlock()
	}()

	a.emitter.Emit(adapter.StatusDisconnected, false, cause)
	log.Warn().Err(cause).Str("container", a.containerID).Msg("container adapter lost connection, attempting restart")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.cli.ContainerStart(ctx, a.containerID, container.StartOptions{}); err != nil {
		a.emitter.Emit(adapter.StatusError, false, fmt.Errorf("restart failed: %w", err))
		return
	}
	if err := a.ping(); err != nil {
		a.emitter.Emit(adapter.StatusError, false, err)
		return
	}
	a.emitter.Emit(adapter.StatusConnected, true, nil)
}

// Status implements adapter.Adapter.
func (a *Adapter) Status() <-chan adapter.StatusEvent { return a.emitter.Events() }

// Close implements adapter.Adapter.
func (a *Adapter) Close() error {
	select {
	case <-a.stopCh:
	default:
		close(a.stopCh)
	}
	<-a.doneCh
	return nil
}

// execShell runs command through a shell inside the container, on a
// single restart-and-retry attempt if the container has gone away.
func (a *Adapter) execShell(ctx context.Context, command string) (adapter.CommandResult, error) {
	result, err := a.execOnce(ctx, command)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return adapter.CommandResult{}, corerr.Wrap(corerr.KindAbort, "command execution aborted", ctx.Err())
	}

	a.handleContainerGone(err)
	result, retryErr := a.execOnce(ctx, command)
	if retryErr != nil {
		return adapter.CommandResult{}, corerr.Wrap(corerr.KindAdapterUnavailable, "container unreachable", retryErr)
	}
	return result, nil
}

func (a *Adapter) execOnce(ctx context.Context, command string) (adapter.CommandResult, error) {
	execConfig := container.ExecOptions{
		Cmd:          []string{"sh", "-c", command},
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   a.workDir,
	}

	created, err := a.cli.ContainerExecCreate(ctx, a.containerID, execConfig)
	if err != nil {
		return adapter.CommandResult{}, fmt.Errorf("exec create: %w", err)
	}

	attached, err := a.cli.ContainerExecAttach(ctx, created.ID, container.ExecStartOptions{})
	if err != nil {
		return adapter.CommandResult{}, fmt.Errorf("exec attach: %w", err)
	}
	defer attached.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attached.Reader); err != nil {
		return adapter.CommandResult{}, fmt.Errorf("exec stream: %w", err)
	}

	inspect, err := a.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return adapter.CommandResult{}, fmt.Errorf("exec inspect: %w", err)
	}

	return adapter.CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
	}, nil
}

// ExecuteCommand implements adapter.Adapter.
func (a *Adapter) ExecuteCommand(ctx context.Context, command, workingDir string) (adapter.CommandResult, error) {
	dir := workingDir
	if dir == "" {
		dir = a.workDir
	}
	wrapped := fmt.Sprintf("cd %s && %s", shellQuote(dir), command)
	return a.execShell(ctx, wrapped)
}

// ReadFile implements adapter.Adapter. Content crosses the exec
// boundary base64-encoded so arbitrary binary content survives the
// shell transport intact.
func (a *Adapter) ReadFile(ctx context.Context, path string, maxSize int64, lineOffset, lineCount int, encoding string) (adapter.ReadResult, error) {
	resolved, display, err := adapter.ResolveWithin(a.workDir, path)
	if err != nil {
		return adapter.ReadResult{}, corerr.New(corerr.KindInvalidArgument, err.Error())
	}

	sizeCmd := fmt.Sprintf("stat -c%%s %s 2>/dev/null || echo -1", shellQuote(resolved))
	sizeRes, err := a.execShell(ctx, sizeCmd)
	if err != nil {
		return adapter.ReadResult{}, err
	}
	size, _ := strconv.ParseInt(strings.TrimSpace(sizeRes.Stdout), 10, 64)
	if size < 0 {
		return adapter.ReadResult{}, corerr.New(corerr.KindNotFound, fmt.Sprintf("file not found: %s", display))
	}
	if maxSize > 0 && size > maxSize {
		return adapter.ReadResult{}, corerr.New(corerr.KindInvalidArgument, fmt.Sprintf("file %s exceeds maxSize %d bytes", display, maxSize))
	}

	catCmd := fmt.Sprintf("base64 -w0 %s", shellQuote(resolved))
	res, err := a.execShell(ctx, catCmd)
	if err != nil {
		return adapter.ReadResult{}, err
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(res.Stdout))
	if err != nil {
		return adapter.ReadResult{}, corerr.Wrap(corerr.KindToolExecution, "failed to decode remote file content", err)
	}

	lines := strings.Split(string(raw), "\n")
	total := len(lines)
	if lineOffset > total {
		lineOffset = total
	}
	end := lineOffset + lineCount
	if lineCount <= 0 || end > total {
		end = total
	}
	selected := lines[lineOffset:end]

	return adapter.ReadResult{
		Path:        resolved,
		DisplayPath: display,
		Content:     strings.Join(selected, "\n"),
		Size:        size,
		Encoding:    orDefault(encoding, "utf-8"),
		Pagination: &adapter.Pagination{
			LineOffset: lineOffset,
			LineCount:  len(selected),
			HasMore:    end < total,
			TotalLines: total,
		},
	}, nil
}

// WriteFile implements adapter.Adapter.
func (a *Adapter) WriteFile(ctx context.Context, path string, content []byte) error {
	resolved, display, err := adapter.ResolveWithin(a.workDir, path)
	if err != nil {
		return corerr.New(corerr.KindInvalidArgument, err.Error())
	}

	encoded := base64.StdEncoding.EncodeToString(content)
	cmd := fmt.Sprintf("mkdir -p %s && printf '%%s' %s | base64 -d > %s",
		shellQuote(parentDir(resolved)), shellQuote(encoded), shellQuote(resolved))
	if _, err := a.execShell(ctx, cmd); err != nil {
		return err
	}

	sizeRes, err := a.execShell(ctx, fmt.Sprintf("stat -c%%s %s", shellQuote(resolved)))
	if err != nil {
		return err
	}
	size, _ := strconv.ParseInt(strings.TrimSpace(sizeRes.Stdout), 10, 64)
	if size != int64(len(content)) {
		return corerr.New(corerr.KindPersistence, fmt.Sprintf("on-disk size %d for %s does not match written size %d", size, display, len(content)))
	}
	return nil
}

// EditFile implements adapter.Adapter using the binary-safe hex-scan
// strategy, since content round-trips through a shell here.
func (a *Adapter) EditFile(ctx context.Context, path, searchCode, replaceCode, encoding string) (adapter.EditResult, error) {
	read, err := a.ReadFile(ctx, path, 0, 0, 0, encoding)
	if err != nil {
		return adapter.EditResult{}, err
	}

	newContent, err := adapter.ApplyHexScanEdit(read.Content, searchCode, replaceCode)
	if err != nil {
		return adapter.EditResult{}, err
	}

	if err := a.WriteFile(ctx, path, []byte(newContent)); err != nil {
		return adapter.EditResult{}, err
	}

	return adapter.EditResult{
		Path:            read.Path,
		DisplayPath:     read.DisplayPath,
		OriginalContent: read.Content,
		NewContent:      newContent,
	}, nil
}

// ListDirectory implements adapter.Adapter.
func (a *Adapter) ListDirectory(ctx context.Context, path string, showHidden, details bool) (adapter.ListResult, error) {
	resolved, _, err := adapter.ResolveWithin(a.workDir, path)
	if err != nil {
		return adapter.ListResult{}, corerr.New(corerr.KindInvalidArgument, err.Error())
	}

	cmd := fmt.Sprintf("find %s -mindepth 1 -maxdepth 1 -printf '%%f\\t%%y\\t%%s\\t%%T@\\n'", shellQuote(resolved))
	res, err := a.execShell(ctx, cmd)
	if err != nil {
		return adapter.ListResult{}, err
	}

	var entries []adapter.DirEntry
	for _, line := range strings.Split(strings.TrimRight(res.Stdout, "\n"), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 4 {
			continue
		}
		name := fields[0]
		if !showHidden && strings.HasPrefix(name, ".") {
			continue
		}
		entry := adapter.DirEntry{Name: name, IsDir: fields[1] == "d"}
		if details {
			size, _ := strconv.ParseInt(fields[2], 10, 64)
			mtime, _ := strconv.ParseFloat(fields[3], 64)
			entry.Size = size
			entry.ModTime = int64(mtime * 1000)
		}
		entries = append(entries, entry)
	}

	return adapter.ListResult{Path: resolved, Entries: entries, Count: len(entries)}, nil
}

// GlobFiles implements adapter.Adapter: a flat `find` listing is matched
// in-process with doublestar so the `**` matching logic stays identical
// across every backend.
func (a *Adapter) GlobFiles(ctx context.Context, pattern string, opts adapter.GlobOptions) ([]string, error) {
	base := opts.BaseDir
	if base == "" {
		base = a.workDir
	}
	resolvedBase, _, err := adapter.ResolveWithin(a.workDir, base)
	if err != nil {
		return nil, corerr.New(corerr.KindInvalidArgument, err.Error())
	}

	res, err := a.execShell(ctx, fmt.Sprintf("find %s -type f", shellQuote(resolvedBase)))
	if err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	var matches []string
	for _, line := range strings.Split(strings.TrimRight(res.Stdout, "\n"), "\n") {
		if line == "" {
			continue
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(line, resolvedBase), "/")
		ok, err := doublestar.Match(pattern, rel)
		if err == nil && ok {
			matches = append(matches, rel)
		}
		if len(matches) >= limit {
			break
		}
	}
	return matches, nil
}

// GenerateDirectoryMap implements adapter.Adapter.
func (a *Adapter) GenerateDirectoryMap(ctx context.Context, rootPath string, maxDepth int) (string, error) {
	resolved, _, err := adapter.ResolveWithin(a.workDir, rootPath)
	if err != nil {
		return "", corerr.New(corerr.KindInvalidArgument, err.Error())
	}
	if maxDepth <= 0 {
		maxDepth = 10
	}

	res, err := a.execShell(ctx, fmt.Sprintf("find %s -maxdepth %d | sort", shellQuote(resolved), maxDepth))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, line := range strings.Split(strings.TrimRight(res.Stdout, "\n"), "\n") {
		if line == "" || line == resolved {
			continue
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(line, resolved), "/")
		if hasHiddenComponent(rel) {
			continue
		}
		sb.WriteString(rel)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// GetRepositoryInfo implements adapter.Adapter.
func (a *Adapter) GetRepositoryInfo(ctx context.Context) (*adapter.RepositoryInfo, error) {
	branchRes, err := a.execShell(ctx, "git rev-parse --abbrev-ref HEAD 2>/dev/null")
	if err != nil || branchRes.ExitCode != 0 {
		return nil, nil
	}

	defaultRes, _ := a.execShell(ctx, "git symbolic-ref refs/remotes/origin/HEAD 2>/dev/null")
	defaultBranch := strings.TrimPrefix(strings.TrimSpace(defaultRes.Stdout), "refs/remotes/origin/")
	if defaultBranch == "" {
		defaultBranch = "main"
	}

	statusRes, _ := a.execShell(ctx, "git status --porcelain")
	logRes, _ := a.execShell(ctx, "git log --oneline -n 10")

	var commits []string
	for _, line := range strings.Split(strings.TrimSpace(logRes.Stdout), "\n") {
		if line != "" {
			commits = append(commits, line)
		}
	}

	return &adapter.RepositoryInfo{
		Branch:        strings.TrimSpace(branchRes.Stdout),
		DefaultBranch: defaultBranch,
		Status:        strings.TrimSpace(statusRes.Stdout),
		RecentCommits: commits,
	}, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func parentDir(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

func hasHiddenComponent(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
