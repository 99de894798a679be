package commands

import (
	"context"
	"time"

	"github.com/opencode-ai/agentcore/internal/config"
	"github.com/opencode-ai/agentcore/internal/logging"
	"github.com/opencode-ai/agentcore/internal/persistence"
	"github.com/spf13/cobra"
)

var gcTimeoutMinutes int

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Sweep idle persisted sessions once and exit",
	Long: `Deletes every durably-stored session whose last activity is older
than the configured (or --timeout-minutes) session timeout, then exits.

Unlike the Session Manager's background sweeper (internal/sessionmgr),
this runs as a one-shot pass over persistence.Gateway's durable store,
so it also reclaims sessions that were evicted from the in-memory cache
by the LRU bound before ever idling out.`,
	RunE: runGC,
}

func init() {
	gcCmd.Flags().IntVar(&gcTimeoutMinutes, "timeout-minutes", 0, "Idle threshold in minutes (0 uses the configured session timeout)")
	gcCmd.Flags().StringVar(&serveDir, "directory", "", "Working directory")
}

func runGC(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}

	timeout := time.Duration(appConfig.SessionTimeoutMinutes) * time.Minute
	if gcTimeoutMinutes > 0 {
		timeout = time.Duration(gcTimeoutMinutes) * time.Minute
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}

	gateway := persistence.New(paths.StoragePath(), logging.Logger)

	ctx := context.Background()
	summaries, err := gateway.ListSessions(ctx)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-timeout).UnixMilli()
	removed := 0
	for _, s := range summaries {
		if s.LastActiveAt >= cutoff {
			continue
		}
		if err := gateway.DeleteSession(ctx, s.ID); err != nil {
			logging.Warn().Err(err).Str("sessionId", s.ID).Msg("gc: failed to remove session")
			continue
		}
		removed++
	}

	logging.Info().Int("removed", removed).Int("total", len(summaries)).Msg("gc complete")
	return nil
}
