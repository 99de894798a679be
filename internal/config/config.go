package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/opencode-ai/agentcore/pkg/core"
)

// Config is agentcore's on-disk configuration surface: model selection,
// the Session Manager's bounds, the default Execution Adapter, and the
// Agent Runner's permission/iteration knobs. One flat struct, merged
// from several sources by Load.
type Config struct {
	Model      string `json:"model,omitempty" yaml:"model,omitempty"`
	SmallModel string `json:"small_model,omitempty" yaml:"small_model,omitempty"`
	Username   string `json:"username,omitempty" yaml:"username,omitempty"`

	MaxSessions            int  `json:"max_sessions,omitempty" yaml:"max_sessions,omitempty"`
	SessionTimeoutMinutes  int  `json:"session_timeout_minutes,omitempty" yaml:"session_timeout_minutes,omitempty"`
	CleanupIntervalMinutes int  `json:"cleanup_interval_minutes,omitempty" yaml:"cleanup_interval_minutes,omitempty"`
	CleanupEnabled         bool `json:"cleanup_enabled,omitempty" yaml:"cleanup_enabled,omitempty"`

	DefaultAdapter  string   `json:"default_adapter,omitempty" yaml:"default_adapter,omitempty"` // local|container|remote
	PermissionMode  string   `json:"permission_mode,omitempty" yaml:"permission_mode,omitempty"` // auto|interactive
	PreAllowedTools []string `json:"pre_allowed_tools,omitempty" yaml:"pre_allowed_tools,omitempty"`
	CachingEnabled  bool     `json:"caching_enabled,omitempty" yaml:"caching_enabled,omitempty"`
	IterationCap    int      `json:"iteration_cap,omitempty" yaml:"iteration_cap,omitempty"`

	Instructions []string          `json:"instructions,omitempty" yaml:"instructions,omitempty"`
	Permission   *PermissionConfig `json:"permission,omitempty" yaml:"permission,omitempty"`
}

// PermissionConfig is the on-disk per-tool permission section. Its Bash
// entry (a pattern->action map, or a single action string) seeds
// core.SessionConfig.BashPermissions for newly created sessions; the
// remaining entries are advisory defaults a transport layer can apply
// when building session configs.
type PermissionConfig struct {
	Edit        string      `json:"edit,omitempty" yaml:"edit,omitempty"`
	Bash        interface{} `json:"bash,omitempty" yaml:"bash,omitempty"` // string or map[string]string
	WebFetch    string      `json:"webfetch,omitempty" yaml:"webfetch,omitempty"`
	ExternalDir string      `json:"external_directory,omitempty" yaml:"external_directory,omitempty"`
	DoomLoop    string      `json:"doom_loop,omitempty" yaml:"doom_loop,omitempty"`
}

// Defaults returns the built-in fallback configuration, applied before
// any file or environment override. Mirrors sessionmgr's and runner's
// own Default* constants so a zero-value Config and an absent config
// file produce identical behavior.
func Defaults() *Config {
	return &Config{
		MaxSessions:            10,
		SessionTimeoutMinutes:  30,
		CleanupIntervalMinutes: 5,
		CleanupEnabled:         true,
		DefaultAdapter:         "local",
		PermissionMode:         "interactive",
		IterationCap:           10,
	}
}

// Load loads configuration from multiple sources, lowest to highest
// precedence:
//  1. Built-in defaults
//  2. Global config (~/.config/agentcore/agentcore.jsonc)
//  3. Project config (<directory>/.agentcore/agentcore.jsonc)
//  4. Environment variable overrides
func Load(directory string) (*Config, error) {
	cfg := Defaults()

	globalPath := GetPaths().Config
	_ = loadConfigFile(filepath.Join(globalPath, "agentcore.json"), "", cfg)
	_ = loadConfigFile(filepath.Join(globalPath, "agentcore.jsonc"), "", cfg)
	_ = loadConfigFile(filepath.Join(globalPath, "agentcore.yaml"), "", cfg)
	_ = loadConfigFile(filepath.Join(globalPath, "agentcore.yml"), "", cfg)

	if directory != "" {
		_ = loadConfigFile(filepath.Join(directory, ".agentcore", "agentcore.json"), directory, cfg)
		_ = loadConfigFile(filepath.Join(directory, ".agentcore", "agentcore.jsonc"), directory, cfg)
		_ = loadConfigFile(filepath.Join(directory, ".agentcore", "agentcore.yaml"), directory, cfg)
		_ = loadConfigFile(filepath.Join(directory, ".agentcore", "agentcore.yml"), directory, cfg)
	}

	if custom := os.Getenv("AGENTCORE_CONFIG"); custom != "" {
		_ = loadConfigFile(custom, filepath.Dir(custom), cfg)
	}
	if inline := os.Getenv("AGENTCORE_CONFIG_CONTENT"); inline != "" {
		var fileConfig Config
		if err := json.Unmarshal(interpolate([]byte(inline), directory), &fileConfig); err == nil {
			mergeConfig(cfg, &fileConfig)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// loadConfigFile reads, de-comments (if .jsonc), interpolates, and
// merges a single config file into cfg. A missing file is not an error.
func loadConfigFile(path, baseDir string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if strings.HasSuffix(path, ".jsonc") {
		data = jsonc.ToJSON(data)
	}
	data = interpolate(data, baseDir)

	var fileConfig Config
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		if err := yaml.Unmarshal(data, &fileConfig); err != nil {
			return err
		}
	} else if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}
	mergeConfig(cfg, &fileConfig)
	return nil
}

var envPattern = regexp.MustCompile(`\{env:([A-Za-z_][A-Za-z0-9_]*)\}`)
var filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)

// interpolate expands {env:VAR} and {file:path} placeholders. A
// missing env var expands to empty string; a missing file
// leaves the placeholder untouched so the error is visible in the
// loaded config rather than silently swallowed.
func interpolate(data []byte, baseDir string) []byte {
	data = envPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		name := envPattern.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
	data = filePattern.ReplaceAllFunc(data, func(m []byte) []byte {
		path := string(filePattern.FindSubmatch(m)[1])
		if !filepath.IsAbs(path) && baseDir != "" {
			path = filepath.Join(baseDir, path)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return m
		}
		escaped, _ := json.Marshal(string(content))
		return escaped[1 : len(escaped)-1]
	})
	return data
}

// mergeConfig merges source into target: source's non-zero scalars win,
// slices are replaced wholesale, and Permission is replaced only where
// source sets it.
func mergeConfig(target, source *Config) {
	if source.Model != "" {
		target.Model = source.Model
	}
	if source.SmallModel != "" {
		target.SmallModel = source.SmallModel
	}
	if source.Username != "" {
		target.Username = source.Username
	}
	if source.MaxSessions != 0 {
		target.MaxSessions = source.MaxSessions
	}
	if source.SessionTimeoutMinutes != 0 {
		target.SessionTimeoutMinutes = source.SessionTimeoutMinutes
	}
	if source.CleanupIntervalMinutes != 0 {
		target.CleanupIntervalMinutes = source.CleanupIntervalMinutes
	}
	target.CleanupEnabled = source.CleanupEnabled || target.CleanupEnabled
	if source.DefaultAdapter != "" {
		target.DefaultAdapter = source.DefaultAdapter
	}
	if source.PermissionMode != "" {
		target.PermissionMode = source.PermissionMode
	}
	if len(source.PreAllowedTools) > 0 {
		target.PreAllowedTools = source.PreAllowedTools
	}
	target.CachingEnabled = source.CachingEnabled || target.CachingEnabled
	if source.IterationCap != 0 {
		target.IterationCap = source.IterationCap
	}
	if len(source.Instructions) > 0 {
		target.Instructions = append(target.Instructions, source.Instructions...)
	}
	if source.Permission != nil {
		target.Permission = source.Permission
	}
}

// applyEnvOverrides applies the highest-precedence overrides from
// AGENTCORE_* environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTCORE_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("AGENTCORE_SMALL_MODEL"); v != "" {
		cfg.SmallModel = v
	}
	if v := os.Getenv("AGENTCORE_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxSessions = n
		}
	}
	if v := os.Getenv("AGENTCORE_DEFAULT_ADAPTER"); v != "" {
		cfg.DefaultAdapter = v
	}
	if v := os.Getenv("AGENTCORE_PERMISSION_MODE"); v != "" {
		cfg.PermissionMode = v
	}
	if v := os.Getenv("AGENTCORE_PERMISSION"); v != "" {
		var perm PermissionConfig
		if err := json.Unmarshal([]byte(v), &perm); err == nil {
			cfg.Permission = &perm
		}
	}
}

// SessionConfig builds the per-session configuration a caller passes to
// the Agent Service when starting a session from this process-wide
// config: model, caching, permission mode, pre-allowed tools, and the
// bash wildcard patterns from the Permission section.
func (c *Config) SessionConfig() core.SessionConfig {
	sc := core.SessionConfig{
		Model:           c.Model,
		CachingEnabled:  c.CachingEnabled,
		PermissionMode:  core.PermissionMode(c.PermissionMode),
		PreAllowedTools: append([]string(nil), c.PreAllowedTools...),
	}
	if c.Permission != nil {
		switch bash := c.Permission.Bash.(type) {
		case string:
			sc.BashPermissions = map[string]string{"*": bash}
		case map[string]any:
			sc.BashPermissions = make(map[string]string, len(bash))
			for pattern, action := range bash {
				if s, ok := action.(string); ok {
					sc.BashPermissions[pattern] = s
				}
			}
		}
	}
	return sc
}

// Save writes cfg as indented JSON to path, creating parent directories
// as needed.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
