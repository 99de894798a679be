package commands

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opencode-ai/agentcore/internal/abort"
	"github.com/opencode-ai/agentcore/internal/agentsvc"
	"github.com/opencode-ai/agentcore/internal/config"
	"github.com/opencode-ai/agentcore/internal/eventbus"
	"github.com/opencode-ai/agentcore/internal/llm"
	"github.com/opencode-ai/agentcore/internal/logging"
	"github.com/opencode-ai/agentcore/internal/persistence"
	"github.com/opencode-ai/agentcore/internal/preview"
	"github.com/opencode-ai/agentcore/internal/runner"
	"github.com/opencode-ai/agentcore/internal/sessionmgr"
	"github.com/opencode-ai/agentcore/internal/toolexec"
	"github.com/opencode-ai/agentcore/internal/toolkit"
	"github.com/spf13/cobra"
)

var serveDir string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent core as a long-lived process",
	Long: `Wires up the Session Manager, Agent Runner, Tool Execution
Manager, and Execution Adapters, then blocks until interrupted.

This does not expose an HTTP or WebSocket API — that transport layer is
left to whatever process embeds this core.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Working directory")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	logging.Info().Str("version", Version).Msg("starting agentcored")
	logging.Info().Str("directory", workDir).Msg("working directory")

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}
	if model := GetGlobalModel(); model != "" {
		appConfig.Model = model
	}

	logger := logging.Logger

	bus := eventbus.New()
	defer bus.Close()

	abortR := abort.New(bus)
	gateway := persistence.New(paths.StoragePath(), logger)

	tools := toolkit.NewRegistry()
	for _, def := range toolkit.BuildDefaultDefinitions() {
		tools.Register(def)
	}

	execs := toolexec.New(bus, gateway)
	previews := preview.New(gateway)

	sessions := sessionmgr.New(sessionmgr.Config{
		MaxSessions:     appConfig.MaxSessions,
		SessionTimeout:  time.Duration(appConfig.SessionTimeoutMinutes) * time.Minute,
		CleanupInterval: time.Duration(appConfig.CleanupIntervalMinutes) * time.Minute,
		CleanupEnabled:  appConfig.CleanupEnabled,
	}, abortR, gateway, bus, logger)
	defer sessions.Stop()

	var provider llm.Provider = llm.Stub{}
	run := runner.New(abortR, tools, execs, previews, gateway, bus, provider, logger, runner.Config{
		IterationCap: appConfig.IterationCap,
	})

	// Constructing the Service registers the `task` subagent tool on the
	// shared registry. Nothing in this binary calls ProcessQuery itself —
	// agentcored has no transport layer of its own; whatever embeds this
	// core does so as a library, holding its own reference to the Service
	// returned here.
	agentsvc.New(agentsvc.Config{
		Sessions: sessions,
		Execs:    execs,
		Previews: previews,
		Gateway:  gateway,
		Runner:   run,
		AbortReg: abortR,
		Bus:      bus,
		Adapters: &dockerFactory{},
		Logger:   logger,
		WorkDir:  workDir,
	}, tools)

	logging.Info().Msg("agentcored ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("agentcored stopped")
	return nil
}
