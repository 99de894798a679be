// Package remote implements the Execution Adapter contract against a
// remote Daytona sandbox reached over HTTP: a small API client
// resolves a proxy URL for a sandbox, then a second "toolbox" client
// talks to that sandbox's file/process API. No bespoke wire protocol
// is invented here — all transport goes through the generated API
// clients.
package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	apiclient "github.com/daytonaio/daytona/libs/api-client-go"
	toolbox "github.com/daytonaio/daytona/libs/toolbox-api-client-go"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/opencode-ai/agentcore/internal/adapter"
	"github.com/opencode-ai/agentcore/internal/corerr"
)

var _ adapter.Adapter = (*Adapter)(nil)

// Config identifies the sandbox this adapter drives. It is the
// per-session counterpart of core.Session's sandbox id.
type Config struct {
	APIKey         string
	OrganizationID string
	APIURL         string
	SandboxID      string
	WorkDir        string
}

// Adapter is the remote-sandbox-backed Execution Adapter.
type Adapter struct {
	cfg     Config
	emitter *adapter.StatusEmitter

	mu       sync.RWMutex
	api      *apiclient.APIClient
	toolbox  *toolbox.APIClient
	proxyURL string

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs the adapter and starts resolving the sandbox's toolbox
// proxy in the background; construction itself never blocks. Readiness
// is reported asynchronously through Status().
func New(cfg Config) *Adapter {
	a := &Adapter{
		cfg:     cfg,
		emitter: adapter.NewStatusEmitter(adapter.KindRemote, 8),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	a.emitter.Emit(adapter.StatusInitializing, false, nil)
	go a.connect()
	return a
}

func (a *Adapter) connect() {
	defer close(a.doneCh)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	scheme, host, basePath, err := parseBaseURL(a.cfg.APIURL)
	if err != nil {
		a.emitter.Emit(adapter.StatusError, false, err)
		return
	}

	apiCfg := apiclient.NewConfiguration()
	apiCfg.Host = host
	apiCfg.Scheme = scheme
	apiCfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	apiCfg.Servers = apiclient.ServerConfigurations{{URL: fmt.Sprintf("%s://%s%s", scheme, host, basePath)}}
	api := apiclient.NewAPIClient(apiCfg)

	authCtx := context.WithValue(ctx, apiclient.ContextAccessToken, a.cfg.APIKey)
	result, httpResp, err := api.SandboxAPI.GetToolboxProxyUrl(authCtx, a.cfg.SandboxID).Execute()
	if err != nil {
		a.emitter.Emit(adapter.StatusError, false, fmt.Errorf("resolve sandbox proxy: %w", formatError(err, httpResp)))
		return
	}

	toolboxURL := fmt.Sprintf("%s/%s", strings.TrimRight(result.GetUrl(), "/"), a.cfg.SandboxID)
	tScheme, tHost, tBasePath, err := parseBaseURL(toolboxURL)
	if err != nil {
		a.emitter.Emit(adapter.StatusError, false, err)
		return
	}

	tCfg := toolbox.NewConfiguration()
	tCfg.Host = tHost
	tCfg.Scheme = tScheme
	tCfg.HTTPClient = apiCfg.HTTPClient
	tCfg.AddDefaultHeader("Authorization", "Bearer "+a.cfg.APIKey)
	tCfg.Servers = toolbox.ServerConfigurations{{URL: fmt.Sprintf("%s://%s%s", tScheme, tHost, tBasePath)}}

	a.mu.Lock()
	a.api = api
	a.toolbox = toolbox.NewAPIClient(tCfg)
	a.proxyURL = toolboxURL
	a.mu.Unlock()

	a.emitter.Emit(adapter.StatusConnected, true, nil)
}

func (a *Adapter) client() (*toolbox.APIClient, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.toolbox == nil {
		return nil, corerr.New(corerr.KindAdapterUnavailable, "remote sandbox is not connected yet")
	}
	return a.toolbox, nil
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

// ExecuteCommand implements adapter.Adapter.
func (a *Adapter) ExecuteCommand(ctx context.Context, command, workingDir string) (adapter.CommandResult, error) {
	tc, err := a.client()
	if err != nil {
		return adapter.CommandResult{}, err
	}
	dir := workingDir
	if dir == "" {
		dir = a.cfg.WorkDir
	}

	req := toolbox.NewExecuteRequest(command)
	req.SetCwd(dir)

	resp, httpResp, err := tc.ProcessAPI.ExecuteCommand(ctx).Request(*req).Execute()
	if err != nil {
		if ctx.Err() != nil {
			return adapter.CommandResult{}, corerr.Wrap(corerr.KindAbort, "command execution aborted", ctx.Err())
		}
		return adapter.CommandResult{}, corerr.Wrap(corerr.KindAdapterUnavailable, "remote command failed", formatError(err, httpResp))
	}

	exitCode := 0
	if resp.ExitCode != nil {
		exitCode = int(*resp.ExitCode)
	}
	return adapter.CommandResult{Stdout: resp.Result, ExitCode: exitCode}, nil
}

// ReadFile implements adapter.Adapter.
func (a *Adapter) ReadFile(ctx context.Context, path string, maxSize int64, lineOffset, lineCount int, encoding string) (adapter.ReadResult, error) {
	tc, err := a.client()
	if err != nil {
		return adapter.ReadResult{}, err
	}
	resolved, display, err := adapter.ResolveWithin(a.cfg.WorkDir, path)
	if err != nil {
		return adapter.ReadResult{}, corerr.New(corerr.KindInvalidArgument, err.Error())
	}

	body, httpResp, err := tc.FileSystemAPI.DownloadFile(ctx).Path(resolved).Execute()
	if err != nil {
		return adapter.ReadResult{}, corerr.Wrap(corerr.KindNotFound, fmt.Sprintf("file not found: %s", display), formatError(err, httpResp))
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return adapter.ReadResult{}, corerr.Wrap(corerr.KindToolExecution, "failed to read remote file body", err)
	}
	content := string(data)
	size := int64(len(content))
	if maxSize > 0 && size > maxSize {
		return adapter.ReadResult{}, corerr.New(corerr.KindInvalidArgument, fmt.Sprintf("file %s exceeds maxSize %d bytes", display, maxSize))
	}

	lines := strings.Split(content, "\n")
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
	tc, err := a.client()
	if err != nil {
		return err
	}
	resolved, display, err := adapter.ResolveWithin(a.cfg.WorkDir, path)
	if err != nil {
		return corerr.New(corerr.KindInvalidArgument, err.Error())
	}

	if httpResp, err := tc.FileSystemAPI.CreateFolder(ctx).Path(parentDir(resolved)).Mode("0755").Execute(); err != nil {
		if httpResp == nil || httpResp.StatusCode != http.StatusConflict {
			return corerr.Wrap(corerr.KindPersistence, "failed to create parent directory", formatError(err, httpResp))
		}
	}

	tmpFile, err := os.CreateTemp("", "agentcore-upload-*")
	if err != nil {
		return corerr.Wrap(corerr.KindPersistence, "failed to stage upload", err)
	}
	defer os.Remove(tmpFile.Name())
	defer tmpFile.Close()
	if _, err := tmpFile.Write(content); err != nil {
		return corerr.Wrap(corerr.KindPersistence, "failed to stage upload", err)
	}
	if _, err := tmpFile.Seek(0, 0); err != nil {
		return corerr.Wrap(corerr.KindPersistence, "failed to stage upload", err)
	}

	_, httpResp, err := tc.FileSystemAPI.UploadFile(ctx).Path(resolved).File(tmpFile).Execute()
	if err != nil {
		return corerr.Wrap(corerr.KindPersistence, "failed to upload file", formatError(err, httpResp))
	}

	info, httpResp, err := tc.FileSystemAPI.GetFileInfo(ctx).Path(resolved).Execute()
	if err != nil {
		return corerr.Wrap(corerr.KindPersistence, "failed to verify written file", formatError(err, httpResp))
	}
	if int64(info.GetSize()) != int64(len(content)) {
		return corerr.New(corerr.KindPersistence, fmt.Sprintf("on-disk size %d for %s does not match written size %d", info.GetSize(), display, len(content)))
	}
	return nil
}

// EditFile implements adapter.Adapter using the binary-safe hex-scan
// strategy, since content round-trips through an HTTP transport here.
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
	tc, err := a.client()
	if err != nil {
		return adapter.ListResult{}, err
	}
	resolved, _, err := adapter.ResolveWithin(a.cfg.WorkDir, path)
	if err != nil {
		return adapter.ListResult{}, corerr.New(corerr.KindInvalidArgument, err.Error())
	}

	files, httpResp, err := tc.FileSystemAPI.ListFiles(ctx).Path(resolved).Execute()
	if err != nil {
		return adapter.ListResult{}, corerr.Wrap(corerr.KindNotFound, fmt.Sprintf("cannot list %s", resolved), formatError(err, httpResp))
	}

	var entries []adapter.DirEntry
	for _, f := range files {
		name := f.GetName()
		if !showHidden && strings.HasPrefix(name, ".") {
			continue
		}
		entry := adapter.DirEntry{Name: name, IsDir: f.GetIsDir()}
		if details {
			entry.Size = int64(f.GetSize())
			entry.ModTime = parseRemoteModTime(f.GetModTime())
		}
		entries = append(entries, entry)
	}

	return adapter.ListResult{Path: resolved, Entries: entries, Count: len(entries)}, nil
}

// GlobFiles implements adapter.Adapter by walking the remote tree with
// ListFiles and matching names in-process with doublestar, so the glob
// semantics stay identical to the local and container backends.
func (a *Adapter) GlobFiles(ctx context.Context, pattern string, opts adapter.GlobOptions) ([]string, error) {
	tc, err := a.client()
	if err != nil {
		return nil, err
	}
	base := opts.BaseDir
	if base == "" {
		base = a.cfg.WorkDir
	}
	resolvedBase, _, err := adapter.ResolveWithin(a.cfg.WorkDir, base)
	if err != nil {
		return nil, corerr.New(corerr.KindInvalidArgument, err.Error())
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	var matches []string
	var walk func(dir string) error
	walk = func(dir string) error {
		if len(matches) >= limit {
			return nil
		}
		files, httpResp, err := tc.FileSystemAPI.ListFiles(ctx).Path(dir).Execute()
		if err != nil {
			return formatError(err, httpResp)
		}
		for _, f := range files {
			if len(matches) >= limit {
				return nil
			}
			full := dir + "/" + f.GetName()
			if f.GetIsDir() {
				if err := walk(full); err != nil {
					return err
				}
				continue
			}
			rel := strings.TrimPrefix(strings.TrimPrefix(full, resolvedBase), "/")
			if ok, _ := doublestar.Match(pattern, rel); ok {
				matches = append(matches, rel)
			}
		}
		return nil
	}

	if err := walk(resolvedBase); err != nil {
		return nil, corerr.Wrap(corerr.KindToolExecution, "glob failed", err)
	}
	return matches, nil
}

// GenerateDirectoryMap implements adapter.Adapter.
func (a *Adapter) GenerateDirectoryMap(ctx context.Context, rootPath string, maxDepth int) (string, error) {
	tc, err := a.client()
	if err != nil {
		return "", err
	}
	resolved, _, err := adapter.ResolveWithin(a.cfg.WorkDir, rootPath)
	if err != nil {
		return "", corerr.New(corerr.KindInvalidArgument, err.Error())
	}
	if maxDepth <= 0 {
		maxDepth = 10
	}

	var sb strings.Builder
	var walk func(dir, prefix string, depth int) error
	walk = func(dir, prefix string, depth int) error {
		if depth > maxDepth {
			return nil
		}
		files, httpResp, err := tc.FileSystemAPI.ListFiles(ctx).Path(dir).Execute()
		if err != nil {
			return formatError(err, httpResp)
		}
		for _, f := range files {
			name := f.GetName()
			if strings.HasPrefix(name, ".") {
				continue
			}
			sb.WriteString(prefix)
			sb.WriteString(name)
			if f.GetIsDir() {
				sb.WriteString("/\n")
				if err := walk(dir+"/"+name, prefix+"  ", depth+1); err != nil {
					return err
				}
			} else {
				sb.WriteString("\n")
			}
		}
		return nil
	}

	if err := walk(resolved, "", 0); err != nil {
		return "", corerr.Wrap(corerr.KindToolExecution, "failed to walk remote directory", err)
	}
	return sb.String(), nil
}

// GetRepositoryInfo implements adapter.Adapter via the same remote shell
// execution path used for command tools, keeping git semantics
// consistent with the container backend instead of depending on a
// separate, speculative git API surface.
func (a *Adapter) GetRepositoryInfo(ctx context.Context) (*adapter.RepositoryInfo, error) {
	branchRes, err := a.ExecuteCommand(ctx, "git rev-parse --abbrev-ref HEAD 2>/dev/null", a.cfg.WorkDir)
	if err != nil || branchRes.ExitCode != 0 {
		return nil, nil
	}

	defaultRes, _ := a.ExecuteCommand(ctx, "git symbolic-ref refs/remotes/origin/HEAD 2>/dev/null", a.cfg.WorkDir)
	defaultBranch := strings.TrimPrefix(strings.TrimSpace(defaultRes.Stdout), "refs/remotes/origin/")
	if defaultBranch == "" {
		defaultBranch = "main"
	}

	statusRes, _ := a.ExecuteCommand(ctx, "git status --porcelain", a.cfg.WorkDir)
	logRes, _ := a.ExecuteCommand(ctx, "git log --oneline -n 10", a.cfg.WorkDir)

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

func parentDir(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

func parseRemoteModTime(s string) int64 {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		if unix, err2 := strconv.ParseInt(s, 10, 64); err2 == nil {
			return unix
		}
		return 0
	}
	return t.UnixMilli()
}

func parseBaseURL(raw string) (scheme, host, basePath string, err error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		return "", "", "", fmt.Errorf("empty remote sandbox url")
	}
	if !strings.Contains(normalized, "://") {
		normalized = "https://" + normalized
	}
	parsed, err := url.Parse(normalized)
	if err != nil {
		return "", "", "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", "", "", fmt.Errorf("invalid remote sandbox url: %s", raw)
	}
	return parsed.Scheme, parsed.Host, strings.TrimRight(parsed.Path, "/"), nil
}

func formatError(err error, resp *http.Response) error {
	if resp == nil {
		return err
	}
	return fmt.Errorf("%s (status %s)", err.Error(), resp.Status)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
