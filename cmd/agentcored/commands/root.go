// Package commands provides the agentcored CLI: serve (keep the core
// resident), gc (one-shot idle-session cleanup), and config (print the
// merged configuration).
package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/opencode-ai/agentcore/internal/config"
	"github.com/opencode-ai/agentcore/internal/logging"
	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

// rootFlags are the persistent flags shared by every subcommand.
type rootFlags struct {
	logLevel string
	verbose  bool
	logFile  bool
	model    string
}

var flags rootFlags

var rootCmd = &cobra.Command{
	Use:   "agentcored",
	Short: "Session, agent-turn, and tool-execution core for an interactive coding agent",
	Long: `agentcored hosts session lifecycle, agent turn execution, tool
dispatch with permission gating, and the pluggable execution
environments (local, container, remote sandbox) behind them.

It exposes no transport of its own: a process embedding the core as a
library owns the client-facing API. Run 'agentcored serve' to keep the
core resident, 'agentcored gc' to sweep idle persisted sessions once,
or 'agentcored config' to inspect the merged configuration.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := logging.ParseLevel(flags.logLevel)
		if !flags.verbose && !flags.logFile {
			// A quiet daemon: nothing asked for log output, so only
			// fatal events reach stderr.
			level = logging.FatalLevel
		}
		logging.Init(logging.Config{
			Level:     level,
			Output:    os.Stderr,
			Pretty:    flags.verbose,
			LogToFile: flags.logFile,
		})
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the merged configuration as JSON",
	Long: `Resolves the full configuration the core would run with from the
current directory — built-in defaults, then the global and project
config files, then AGENTCORE_* environment overrides — and prints it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := os.Getwd()
		if err != nil {
			return err
		}
		cfg, err := config.Load(dir)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "Log human-readable output to stderr")
	pf.BoolVar(&flags.logFile, "log-file", false, "Also write logs to a timestamped agentcore-*.log file")
	pf.StringVarP(&flags.model, "model", "m", "", "Model override (provider/model format)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("agentcored %s (built %s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(configCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetWorkDir returns dir when set, the current directory otherwise.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}

// GetGlobalModel returns the --model override, if any.
func GetGlobalModel() string {
	return flags.model
}
