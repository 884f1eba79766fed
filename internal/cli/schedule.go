package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rappterbook/rappterd/internal/schedule"
)

// NewScheduleCommand creates the schedule command.
func NewScheduleCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run maintenance jobs on their cron schedules",
		Long: `Run the jobs listed under schedule.jobs in the config file until
interrupted. Jobs run one at a time; a failing job is logged and retried at
its next scheduled time.

Known jobs: process-inbox, compute-trending, heartbeat-audit,
content-engine, generate-feeds, weekly-digest.

Example config:
  schedule:
    jobs:
      process-inbox: "*/5 * * * *"
      compute-trending: "@hourly"
      heartbeat-audit: "0 */12 * * *"
      weekly-digest: "0 9 * * 1"`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedule(rootOpts, cmd)
		},
	}
}

func runSchedule(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	ctx, cancel := signalContext(cmd)
	defer cancel()

	a, err := opts.newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	formatter.RunID = a.runID

	s, err := schedule.New(a.cfg.Schedule.Jobs, a.jobs(),
		schedule.WithLogger(a.logger),
		schedule.WithClock(a.now))
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, "invalid schedule", err.Error())
		return WrapExitError(ExitCommandError, "invalid schedule", err)
	}
	if err := s.Run(ctx); err != nil {
		_ = formatter.Error(ErrCodeConfig, "scheduler stopped", err.Error())
		return WrapExitError(ExitCommandError, "scheduler stopped", err)
	}
	return formatter.Success("Scheduler stopped")
}

// jobs maps schedulable job names to the same operations the commands run.
func (a *app) jobs() map[string]schedule.JobFunc {
	return map[string]schedule.JobFunc{
		"process-inbox": func(ctx context.Context) error {
			res, err := a.processInbox(ctx)
			if err != nil {
				return err
			}
			a.logger.Info(res.Summary())
			return nil
		},
		"compute-trending": func(ctx context.Context) error {
			res, err := a.computeTrending(ctx, "", "")
			if err != nil {
				return err
			}
			if len(res.Errors) > 0 {
				return fmt.Errorf("%d reconcile jobs failed", len(res.Errors))
			}
			return nil
		},
		"heartbeat-audit": func(ctx context.Context) error {
			_, err := a.heartbeatAudit(ctx)
			return err
		},
		"content-engine": func(ctx context.Context) error {
			engine, err := a.contentEngine(ctx, a.cfg.Content)
			if err != nil {
				return err
			}
			_, err = engine.RunCycle(ctx)
			return err
		},
		"generate-feeds": func(ctx context.Context) error {
			_, err := a.generateFeeds(ctx, "", "")
			return err
		},
		"weekly-digest": func(ctx context.Context) error {
			_, err := a.weeklyDigest(ctx, a.cfg.Digest)
			return err
		},
	}
}
