package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/agentcore/internal/adapter"
	"github.com/opencode-ai/agentcore/internal/corerr"
)

func waitConnected(t *testing.T, a *Adapter) {
	t.Helper()
	select {
	case ev := <-a.Status():
		for ev.Status != "connected" && ev.Status != "error" {
			ev = <-a.Status()
		}
		require.Equal(t, "connected", string(ev.Status))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for adapter to connect")
	}
}

func TestReadFileBasic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")
	require.NoError(t, os.WriteFile(path, []byte("line 1\nline 2\nline 3\n"), 0o644))

	a := New(dir)
	defer a.Close()
	waitConnected(t, a)

	res, err := a.ReadFile(context.Background(), path, 0, 0, 0, "")
	require.NoError(t, err)
	require.Contains(t, res.Content, "line 1")
	require.Contains(t, res.Content, "line 2")
	require.Equal(t, 3, res.Pagination.TotalLines)
}

func TestReadFileNotFound(t *testing.T) {
	dir := t.TempDir()
	a := New(dir)
	defer a.Close()
	waitConnected(t, a)

	_, err := a.ReadFile(context.Background(), filepath.Join(dir, "missing.txt"), 0, 0, 0, "")
	require.Error(t, err)
	require.True(t, corerr.Is(err, corerr.KindNotFound))
}

func TestReadFileDirectoryRejected(t *testing.T) {
	dir := t.TempDir()
	a := New(dir)
	defer a.Close()
	waitConnected(t, a)

	_, err := a.ReadFile(context.Background(), dir, 0, 0, 0, "")
	require.Error(t, err)
	require.True(t, corerr.Is(err, corerr.KindInvalidArgument))
}

func TestReadFilePagination(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lines.txt")
	content := ""
	for i := 1; i <= 10; i++ {
		content += "line\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	a := New(dir)
	defer a.Close()
	waitConnected(t, a)

	res, err := a.ReadFile(context.Background(), path, 0, 3, 2, "")
	require.NoError(t, err)
	require.Equal(t, 2, res.Pagination.LineCount)
	require.True(t, res.Pagination.HasMore)
}

func TestWriteFileCreatesParentsAndVerifiesSize(t *testing.T) {
	dir := t.TempDir()
	a := New(dir)
	defer a.Close()
	waitConnected(t, a)

	path := filepath.Join(dir, "nested", "dir", "out.txt")
	err := a.WriteFile(context.Background(), path, []byte("hello world"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
}

func TestEditFileExactlyOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "edit.txt")
	require.NoError(t, os.WriteFile(path, []byte("foo\nbar\nbaz\n"), 0o644))

	a := New(dir)
	defer a.Close()
	waitConnected(t, a)

	res, err := a.EditFile(context.Background(), path, "bar", "BAR", "")
	require.NoError(t, err)
	require.Equal(t, "foo\nBAR\nbaz\n", res.NewContent)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "foo\nBAR\nbaz\n", string(data))
}

func TestEditFileNotFoundIncludesHint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "edit.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello\nworld\n"), 0o644))

	a := New(dir)
	defer a.Close()
	waitConnected(t, a)

	_, err := a.EditFile(context.Background(), path, "helo", "HELLO", "")
	require.Error(t, err)
	require.True(t, corerr.Is(err, corerr.KindNotFound))
}

func TestListDirectoryHidesDotfilesByDefault(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "visible.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o644))

	a := New(dir)
	defer a.Close()
	waitConnected(t, a)

	res, err := a.ListDirectory(context.Background(), dir, false, false)
	require.NoError(t, err)
	require.Equal(t, 1, res.Count)
	require.Equal(t, "visible.txt", res.Entries[0].Name)

	res, err = a.ListDirectory(context.Background(), dir, true, false)
	require.NoError(t, err)
	require.Equal(t, 2, res.Count)
}

func TestGlobFilesMatchesNestedPattern(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a", "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a", "b", "target.go"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644))

	a := New(dir)
	defer a.Close()
	waitConnected(t, a)

	matches, err := a.GlobFiles(context.Background(), "**/*.go", adapter.GlobOptions{BaseDir: dir})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Contains(t, matches[0], "target.go")
}

func TestExecuteCommandCapturesOutput(t *testing.T) {
	dir := t.TempDir()
	a := New(dir)
	defer a.Close()
	waitConnected(t, a)

	res, err := a.ExecuteCommand(context.Background(), "echo hello", "")
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.Contains(t, res.Stdout, "hello")
}

func TestExecuteCommandNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	a := New(dir)
	defer a.Close()
	waitConnected(t, a)

	res, err := a.ExecuteCommand(context.Background(), "exit 3", "")
	require.NoError(t, err)
	require.Equal(t, 3, res.ExitCode)
}

func TestGenerateDirectoryMapSkipsDotfiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "visible.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o644))

	a := New(dir)
	defer a.Close()
	waitConnected(t, a)

	m, err := a.GenerateDirectoryMap(context.Background(), dir, 0)
	require.NoError(t, err)
	require.Contains(t, m, "visible.txt")
	require.NotContains(t, m, ".hidden")
}
