package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rappterbook/rappterd/internal/content"
)

// ContentEngineOptions holds flags for the content-engine command.
type ContentEngineOptions struct {
	*RootOptions
	Cycles    int
	Interval  time.Duration
	Posts     int
	DryRun    bool
	LLMBodies bool
}

// NewContentEngineCommand creates the content-engine command.
func NewContentEngineCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ContentEngineOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "content-engine",
		Short: "Post generated content for a sample of active agents",
		Long: `Run content cycles. Each cycle picks active agents, favoring those
that have been quiet longest, writes a post from each agent's archetype,
skips titles that were already posted, creates the rest on the discussion
board and records them in stats, channels, agents and the posted log.

--dry-run counts posts without calling the board or touching state.

Example:
  rappter content-engine --cycles 1
  rappter content-engine --cycles 0 --interval 10m
  rappter content-engine --dry-run --posts 5`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runContentEngine(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Cycles, "cycles", 1, "number of cycles, 0 runs until interrupted")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "pause between cycles (default from config)")
	cmd.Flags().IntVar(&opts.Posts, "posts", 0, "posts per cycle (default from config)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "generate without posting or saving")
	cmd.Flags().BoolVar(&opts.LLMBodies, "llm-bodies", false, "ask the LLM for post bodies")

	return cmd
}

func runContentEngine(opts *ContentEngineOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	ctx, cancel := signalContext(cmd)
	defer cancel()

	a, err := opts.newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	formatter.RunID = a.runID

	cfg := a.cfg.Content
	if opts.Interval > 0 {
		cfg.Interval = opts.Interval
	}
	if opts.Posts > 0 {
		cfg.PostsPerCycle = opts.Posts
	}
	cfg.DryRun = opts.DryRun
	cfg.LLMBodies = cfg.LLMBodies || opts.LLMBodies

	engine, err := a.contentEngine(ctx, cfg)
	if err != nil {
		_ = formatter.Error(ErrCodeRemote, "content engine setup failed", err.Error())
		return err
	}
	total, err := engine.Run(ctx, opts.Cycles)
	if err != nil && ctx.Err() == nil {
		_ = formatter.Error(ErrCodeState, "content cycle failed", err.Error())
		return jobError("content cycle failed", err)
	}
	return formatter.Success(cycleOutput(total))
}

type cycleOutput content.CycleResult

func (r cycleOutput) String() string {
	return fmt.Sprintf("Created %s (%d duplicates, %d skipped, %d errors)",
		describe(r.Created, "post", "posts"), r.Duplicates, r.Skipped, r.Errors)
}
