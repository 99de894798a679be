// Package local implements the Execution Adapter contract directly
// against the host filesystem and shell, with a filesystem watch on
// the repository's .git directory for branch awareness.
package local

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/opencode-ai/agentcore/internal/adapter"
	"github.com/opencode-ai/agentcore/internal/corerr"
)

// DefaultReadLimit is the page size used when no line count is given.
const DefaultReadLimit = 2000

var _ adapter.Adapter = (*Adapter)(nil)

// Adapter is the local, in-process Execution Adapter.
type Adapter struct {
	workDir string
	emitter *adapter.StatusEmitter

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// New creates a local adapter rooted at workDir and starts its
// background git-branch watcher. Construction always succeeds;
// readiness is reported asynchronously through Status().
func New(workDir string) *Adapter {
	a := &Adapter{
		workDir: workDir,
		emitter: adapter.NewStatusEmitter(adapter.KindLocal, 8),
	}
	a.emitter.Emit(adapter.StatusInitializing, false, nil)
	go a.initialize()
	return a
}

func (a *Adapter) initialize() {
	gitDir := findGitDir(a.workDir)
	if gitDir == "" {
		// Not a git repo: the adapter is still fully usable, it simply
		// has no repository info or branch watcher.
		a.emitter.Emit(adapter.StatusConnected, true, nil)
		return
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		a.emitter.Emit(adapter.StatusError, false, err)
		return
	}
	if err := w.Add(gitDir); err != nil {
		w.Close()
		a.emitter.Emit(adapter.StatusError, false, err)
		return
	}

	a.watchMu.Lock()
	a.watcher = w
	a.stopCh = make(chan struct{})
	stop := a.stopCh
	a.watchMu.Unlock()

	go func() {
		for {
			select {
			case <-stop:
				return
			case _, ok := <-w.Events:
				if !ok {
					return
				}
				// Something under .git changed; nothing is cached, and
				// GetRepositoryInfo re-reads repository state on demand.
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	a.emitter.Emit(adapter.StatusConnected, true, nil)
}

// Status implements adapter.Adapter.
func (a *Adapter) Status() <-chan adapter.StatusEvent { return a.emitter.Events() }

// Close implements adapter.Adapter.
func (a *Adapter) Close() error {
	a.watchMu.Lock()
	defer a.watchMu.Unlock()
	if a.stopCh != nil {
		close(a.stopCh)
		a.stopCh = nil
	}
	if a.watcher != nil {
		err := a.watcher.Close()
		a.watcher = nil
		return err
	}
	return nil
}

// ExecuteCommand implements adapter.Adapter.
func (a *Adapter) ExecuteCommand(ctx context.Context, command, workingDir string) (adapter.CommandResult, error) {
	dir := workingDir
	if dir == "" {
		dir = a.workDir
	}

	shell := detectShell()
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, shell, "/c", command)
	} else {
		cmd = exec.CommandContext(ctx, shell, "-c", command)
	}
	cmd.Dir = dir
	cmd.Env = os.Environ()
	if runtime.GOOS != "windows" {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else if ctx.Err() != nil {
			return adapter.CommandResult{}, corerr.Wrap(corerr.KindAbort, "command execution aborted", ctx.Err())
		} else {
			return adapter.CommandResult{}, corerr.Wrap(corerr.KindToolExecution, "failed to run command", err)
		}
	}

	return adapter.CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}, nil
}

func detectShell() string {
	if s := os.Getenv("SHELL"); s != "" && s != "/bin/fish" && s != "/bin/nu" {
		return s
	}
	if runtime.GOOS == "windows" {
		if comspec := os.Getenv("COMSPEC"); comspec != "" {
			return comspec
		}
		return "cmd.exe"
	}
	if bash, err := exec.LookPath("bash"); err == nil {
		return bash
	}
	return "/bin/sh"
}

// ReadFile implements adapter.Adapter.
func (a *Adapter) ReadFile(ctx context.Context, path string, maxSize int64, lineOffset, lineCount int, encoding string) (adapter.ReadResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return adapter.ReadResult{}, corerr.Wrap(corerr.KindNotFound, fmt.Sprintf("file not found: %s", path), err)
	}
	if info.IsDir() {
		return adapter.ReadResult{}, corerr.New(corerr.KindInvalidArgument, fmt.Sprintf("path is a directory, not a file: %s", path))
	}
	if maxSize > 0 && info.Size() > maxSize {
		return adapter.ReadResult{}, corerr.New(corerr.KindInvalidArgument, fmt.Sprintf("file %s exceeds maxSize %d bytes", path, maxSize))
	}

	if lineCount <= 0 {
		lineCount = DefaultReadLimit
	}

	file, err := os.Open(path)
	if err != nil {
		return adapter.ReadResult{}, corerr.Wrap(corerr.KindPersistence, "failed to open file", err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if lineOffset > 0 && lineNum <= lineOffset {
			continue
		}
		if len(lines) >= lineCount {
			continue // keep scanning to learn the true total line count
		}
		lines = append(lines, scanner.Text())
	}

	lastRead := lineOffset + len(lines)
	display := displayPath(a.workDir, path)

	return adapter.ReadResult{
		Path:        path,
		DisplayPath: display,
		Content:     strings.Join(lines, "\n"),
		Size:        info.Size(),
		Encoding:    orDefault(encoding, "utf-8"),
		Pagination: &adapter.Pagination{
			LineOffset: lineOffset,
			LineCount:  len(lines),
			HasMore:    lineNum > lastRead,
			TotalLines: lineNum,
		},
	}, nil
}

// WriteFile implements adapter.Adapter.
func (a *Adapter) WriteFile(ctx context.Context, path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return corerr.Wrap(corerr.KindPersistence, "failed to create parent directories", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return corerr.Wrap(corerr.KindPersistence, "failed to write file", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return corerr.Wrap(corerr.KindPersistence, "failed to verify written file", err)
	}
	if info.Size() != int64(len(content)) {
		return corerr.New(corerr.KindPersistence, fmt.Sprintf("on-disk size %d does not match written size %d", info.Size(), len(content)))
	}
	return nil
}

// EditFile implements adapter.Adapter.
func (a *Adapter) EditFile(ctx context.Context, path, searchCode, replaceCode, encoding string) (adapter.EditResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return adapter.EditResult{}, corerr.Wrap(corerr.KindNotFound, fmt.Sprintf("file not found: %s", path), err)
	}
	original := string(raw)

	newContent, err := adapter.ApplyInProcessEdit(original, searchCode, replaceCode)
	if err != nil {
		if corerr.Is(err, corerr.KindNotFound) {
			if hint := nearestLineHint(original, searchCode); hint != "" {
				return adapter.EditResult{}, corerr.New(corerr.KindNotFound, fmt.Sprintf("search text not found in file; closest line: %q", hint))
			}
		}
		return adapter.EditResult{}, err
	}

	if err := os.WriteFile(path, []byte(newContent), 0o644); err != nil {
		return adapter.EditResult{}, corerr.Wrap(corerr.KindPersistence, "failed to write file", err)
	}

	return adapter.EditResult{
		Path:            path,
		DisplayPath:     displayPath(a.workDir, path),
		OriginalContent: original,
		NewContent:      newContent,
	}, nil
}

// nearestLineHint finds the line in content most similar to search
// using Levenshtein distance, for a richer "not found" diagnostic. It
// never changes the edit's error kind, only the message.
func nearestLineHint(content, search string) string {
	if strings.Contains(search, "\n") {
		return ""
	}
	best := ""
	bestDist := -1
	for _, line := range strings.Split(content, "\n") {
		d := levenshtein.ComputeDistance(line, search)
		if bestDist == -1 || d < bestDist {
			bestDist = d
			best = line
		}
	}
	if bestDist < 0 || bestDist > len(search) {
		return ""
	}
	return best
}

// ListDirectory implements adapter.Adapter.
func (a *Adapter) ListDirectory(ctx context.Context, path string, showHidden, details bool) (adapter.ListResult, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return adapter.ListResult{}, corerr.Wrap(corerr.KindNotFound, fmt.Sprintf("cannot list %s", path), err)
	}

	var result []adapter.DirEntry
	for _, e := range entries {
		if !showHidden && strings.HasPrefix(e.Name(), ".") {
			continue
		}
		entry := adapter.DirEntry{Name: e.Name(), IsDir: e.IsDir()}
		if details {
			if info, err := e.Info(); err == nil {
				entry.Size = info.Size()
				entry.ModTime = info.ModTime().UnixMilli()
			}
		}
		result = append(result, entry)
	}

	return adapter.ListResult{Path: path, Entries: result, Count: len(result)}, nil
}

// GlobFiles implements adapter.Adapter using doublestar for `**`-aware
// pattern matching, in-process so no external search binary needs to
// be on PATH.
func (a *Adapter) GlobFiles(ctx context.Context, pattern string, opts adapter.GlobOptions) ([]string, error) {
	base := opts.BaseDir
	if base == "" {
		base = a.workDir
	}

	fsys := os.DirFS(base)
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindInvalidArgument, "invalid glob pattern", err)
	}

	type fileWithTime struct {
		path string
		mod  time.Time
	}
	var withTime []fileWithTime
	for _, m := range matches {
		info, err := os.Stat(filepath.Join(base, m))
		if err != nil || info.IsDir() {
			continue
		}
		withTime = append(withTime, fileWithTime{path: m, mod: info.ModTime()})
	}
	sort.Slice(withTime, func(i, j int) bool { return withTime[i].mod.After(withTime[j].mod) })

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(withTime) > limit {
		withTime = withTime[:limit]
	}

	result := make([]string, len(withTime))
	for i, f := range withTime {
		result[i] = f.path
	}
	return result, nil
}

// GenerateDirectoryMap implements adapter.Adapter.
func (a *Adapter) GenerateDirectoryMap(ctx context.Context, rootPath string, maxDepth int) (string, error) {
	if maxDepth <= 0 {
		maxDepth = 10
	}
	var sb strings.Builder
	err := walkDirTree(rootPath, "", 0, maxDepth, &sb)
	if err != nil {
		return "", corerr.Wrap(corerr.KindNotFound, "failed to walk directory", err)
	}
	return sb.String(), nil
}

func walkDirTree(path, prefix string, depth, maxDepth int, sb *strings.Builder) error {
	if depth > maxDepth {
		return nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		sb.WriteString(prefix)
		sb.WriteString(e.Name())
		if e.IsDir() {
			sb.WriteString("/")
		}
		sb.WriteString("\n")
		if e.IsDir() {
			if err := walkDirTree(filepath.Join(path, e.Name()), prefix+"  ", depth+1, maxDepth, sb); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetRepositoryInfo implements adapter.Adapter.
func (a *Adapter) GetRepositoryInfo(ctx context.Context) (*adapter.RepositoryInfo, error) {
	if findGitDir(a.workDir) == "" {
		return nil, nil
	}

	branch := getCurrentBranch(a.workDir)
	defaultBranch := runGit(a.workDir, "symbolic-ref", "refs/remotes/origin/HEAD")
	defaultBranch = strings.TrimPrefix(strings.TrimSpace(defaultBranch), "refs/remotes/origin/")
	if defaultBranch == "" {
		defaultBranch = "main"
	}

	status := runGit(a.workDir, "status", "--porcelain")
	logOut := runGit(a.workDir, "log", "--oneline", "-n", "10")
	var commits []string
	for _, line := range strings.Split(strings.TrimSpace(logOut), "\n") {
		if line != "" {
			commits = append(commits, line)
		}
	}

	return &adapter.RepositoryInfo{
		Branch:        branch,
		DefaultBranch: defaultBranch,
		Status:        strings.TrimSpace(status),
		RecentCommits: commits,
	}, nil
}

func runGit(workDir string, args ...string) string {
	cmd := exec.Command("git", args...)
	cmd.Dir = workDir
	out, _ := cmd.Output()
	return string(out)
}

func findGitDir(workDir string) string {
	dir := workDir
	for {
		gitPath := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitPath); err == nil {
			if info.IsDir() {
				return gitPath
			}
			return dir // worktree-style .git file
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func getCurrentBranch(workDir string) string {
	out := runGit(workDir, "rev-parse", "--abbrev-ref", "HEAD")
	return strings.TrimSpace(out)
}

func displayPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
