package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/agentcore/pkg/core"
)

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	oldHome := os.Getenv("HOME")
	os.Setenv("HOME", tmpDir)
	defer os.Setenv("HOME", oldHome)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.MaxSessions)
	assert.Equal(t, "local", cfg.DefaultAdapter)
	assert.Equal(t, "interactive", cfg.PermissionMode)
}

func TestLoadProjectConfig(t *testing.T) {
	tmpDir := t.TempDir()
	oldHome := os.Getenv("HOME")
	os.Setenv("HOME", tmpDir)
	defer os.Setenv("HOME", oldHome)

	raw := `{
		"model": "anthropic/claude-sonnet-4",
		"max_sessions": 25,
		"default_adapter": "container",
		"permission": {
			"edit": "allow",
			"bash": {"rm": "deny"}
		}
	}`
	configPath := filepath.Join(tmpDir, ".agentcore", "agentcore.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0o755))
	require.NoError(t, os.WriteFile(configPath, []byte(raw), 0o644))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "anthropic/claude-sonnet-4", cfg.Model)
	assert.Equal(t, 25, cfg.MaxSessions)
	assert.Equal(t, "container", cfg.DefaultAdapter)
	require.NotNil(t, cfg.Permission)
	assert.Equal(t, "allow", cfg.Permission.Edit)
	bashPerm, ok := cfg.Permission.Bash.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "deny", bashPerm["rm"])
}

func TestLoadJSONCComments(t *testing.T) {
	tmpDir := t.TempDir()
	oldHome := os.Getenv("HOME")
	os.Setenv("HOME", tmpDir)
	defer os.Setenv("HOME", oldHome)

	raw := `{
		// model used for ordinary turns
		"model": "anthropic/claude-sonnet-4",
		/* small model is used
		   for compaction summaries */
		"small_model": "anthropic/claude-3-5-haiku"
	}`
	configPath := filepath.Join(tmpDir, ".agentcore", "agentcore.jsonc")
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0o755))
	require.NoError(t, os.WriteFile(configPath, []byte(raw), 0o644))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "anthropic/claude-sonnet-4", cfg.Model)
	assert.Equal(t, "anthropic/claude-3-5-haiku", cfg.SmallModel)
}

func TestLoadYAMLConfig(t *testing.T) {
	tmpDir := t.TempDir()
	oldHome := os.Getenv("HOME")
	os.Setenv("HOME", tmpDir)
	defer os.Setenv("HOME", oldHome)

	raw := "model: anthropic/claude-sonnet-4\n" +
		"max_sessions: 7\n" +
		"default_adapter: remote\n" +
		"permission:\n" +
		"  edit: allow\n" +
		"  bash:\n" +
		"    rm: deny\n"
	configPath := filepath.Join(tmpDir, ".agentcore", "agentcore.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0o755))
	require.NoError(t, os.WriteFile(configPath, []byte(raw), 0o644))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "anthropic/claude-sonnet-4", cfg.Model)
	assert.Equal(t, 7, cfg.MaxSessions)
	assert.Equal(t, "remote", cfg.DefaultAdapter)
	require.NotNil(t, cfg.Permission)
	assert.Equal(t, "allow", cfg.Permission.Edit)
}

func TestConfigMergePrecedence(t *testing.T) {
	tmpHome := t.TempDir()
	tmpProject := t.TempDir()
	oldHome := os.Getenv("HOME")
	os.Setenv("HOME", tmpHome)
	defer os.Setenv("HOME", oldHome)

	global := `{"model": "anthropic/claude-sonnet-4", "max_sessions": 5}`
	globalDir := filepath.Join(tmpHome, ".config", "agentcore")
	require.NoError(t, os.MkdirAll(globalDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(globalDir, "agentcore.json"), []byte(global), 0o644))

	project := `{"model": "openai/gpt-4o"}`
	projectDir := filepath.Join(tmpProject, ".agentcore")
	require.NoError(t, os.MkdirAll(projectDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "agentcore.json"), []byte(project), 0o644))

	cfg, err := Load(tmpProject)
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4o", cfg.Model, "project config overrides global")
	assert.Equal(t, 5, cfg.MaxSessions, "global-only field is preserved")
}

func TestEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	oldHome := os.Getenv("HOME")
	os.Setenv("HOME", tmpDir)
	defer os.Setenv("HOME", oldHome)

	os.Setenv("AGENTCORE_MODEL", "env-model")
	defer os.Unsetenv("AGENTCORE_MODEL")

	configPath := filepath.Join(tmpDir, ".agentcore", "agentcore.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0o755))
	require.NoError(t, os.WriteFile(configPath, []byte(`{"model": "file-model"}`), 0o644))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "env-model", cfg.Model)
}

func TestEnvInterpolation(t *testing.T) {
	os.Setenv("AGENTCORE_TEST_VALUE", "interpolated")
	defer os.Unsetenv("AGENTCORE_TEST_VALUE")

	result := interpolate([]byte(`{"username": "{env:AGENTCORE_TEST_VALUE}"}`), "")
	assert.Equal(t, `{"username": "interpolated"}`, string(result))
}

func TestFileInterpolation(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "note.txt"), []byte("hello"), 0o644))

	result := interpolate([]byte(`{"instructions": ["{file:note.txt}"]}`), tmpDir)
	assert.Equal(t, `{"instructions": ["hello"]}`, string(result))
}

func TestMergeConfigKeepsUnsetFields(t *testing.T) {
	target := &Config{Model: "kept-model"}
	source := &Config{SmallModel: "new-small-model"}
	mergeConfig(target, source)
	assert.Equal(t, "kept-model", target.Model)
	assert.Equal(t, "new-small-model", target.SmallModel)
}

func TestSessionConfigFromConfig(t *testing.T) {
	cfg := &Config{
		Model:           "anthropic/claude-sonnet-4",
		CachingEnabled:  true,
		PermissionMode:  "interactive",
		PreAllowedTools: []string{"read", "list"},
		Permission: &PermissionConfig{
			Bash: map[string]any{"git *": "allow", "rm *": "deny"},
		},
	}

	sc := cfg.SessionConfig()
	assert.Equal(t, "anthropic/claude-sonnet-4", sc.Model)
	assert.True(t, sc.CachingEnabled)
	assert.Equal(t, core.PermissionInteractive, sc.PermissionMode)
	assert.Equal(t, []string{"read", "list"}, sc.PreAllowedTools)
	assert.Equal(t, map[string]string{"git *": "allow", "rm *": "deny"}, sc.BashPermissions)
}

func TestSessionConfigBashStringAppliesGlobally(t *testing.T) {
	cfg := &Config{Permission: &PermissionConfig{Bash: "deny"}}
	sc := cfg.SessionConfig()
	assert.Equal(t, map[string]string{"*": "deny"}, sc.BashPermissions)
}

func TestSaveWritesIndentedJSON(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "agentcore.json")
	cfg := &Config{Model: "anthropic/claude-sonnet-4", MaxSessions: 42}
	require.NoError(t, Save(cfg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "anthropic/claude-sonnet-4")
}
