// Package config provides configuration loading, merging, and path
// management for agentcore's core runtime.
//
// # Configuration Loading
//
// Load implements a four-tier precedence (lowest to highest):
//
//  1. Built-in defaults (Defaults)
//  2. Global config (~/.config/agentcore/agentcore.{json[c],yaml,yml})
//  3. Project config (<directory>/.agentcore/agentcore.{json[c],yaml,yml})
//  4. Environment variable overrides (AGENTCORE_MODEL, AGENTCORE_MAX_SESSIONS, ...)
//
// # Supported Formats
//
// Plain JSON, JSONC (JSON with comments), and YAML are all accepted;
// .jsonc files are de-commented with github.com/tidwall/jsonc and .yaml/
// .yml files are parsed with gopkg.in/yaml.v3 before merging.
//
// # Variable Interpolation
//
//   - {env:VAR_NAME} expands to an environment variable's value.
//   - {file:path} expands to a file's contents. A relative path is
//     resolved against the project directory for project config files
//     and AGENTCORE_CONFIG_CONTENT, against the file's own directory for
//     AGENTCORE_CONFIG, and against the process's working directory for
//     global config files.
//
// # Path Management
//
// Paths follows the XDG Base Directory layout (~/.config/agentcore,
// ~/.local/share/agentcore, ~/.cache/agentcore, ~/.local/state/agentcore),
// adapted to APPDATA on Windows.
package config
