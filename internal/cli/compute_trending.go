package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rappterbook/rappterd/internal/reconcile"
)

// ComputeTrendingOptions holds flags for the compute-trending command.
type ComputeTrendingOptions struct {
	*RootOptions
	DataFile string
	SaveFile string
}

// NewComputeTrendingCommand creates the compute-trending command.
func NewComputeTrendingCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ComputeTrendingOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compute-trending",
		Short: "Recompute trending and counters from live discussions",
		Long: `Fetch every live discussion and overwrite the derived state with it:
the trending list, platform totals, per-channel and per-agent post counts,
and the upvote and comment counts in the posted log.

When no discussions come back the existing state is preserved. When the
listing is cut short by an API error only trending and the posted log are
updated from the discussions fetched so far. A failing
job does not stop the others; the command exits 1 if any job failed.

Example:
  rappter compute-trending
  rappter compute-trending --save discussions.json
  rappter compute-trending --data-file discussions.json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runComputeTrending(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DataFile, "data-file", "", "read discussions from a saved snapshot instead of the API")
	cmd.Flags().StringVar(&opts.SaveFile, "save", "", "write the fetched discussions to this snapshot file")

	return cmd
}

func runComputeTrending(opts *ComputeTrendingOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	ctx, cancel := signalContext(cmd)
	defer cancel()

	a, err := opts.newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	formatter.RunID = a.runID

	res, err := a.computeTrending(ctx, opts.DataFile, opts.SaveFile)
	if err != nil {
		_ = formatter.Error(ErrCodeRemote, "compute-trending failed", err.Error())
		return jobError("compute-trending failed", err)
	}
	if err := formatter.Success(trendingOutput(res)); err != nil {
		return err
	}
	if len(res.Errors) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d job(s) failed: %s", len(res.Errors), strings.Join(res.Errors, "; ")))
	}
	return nil
}

type trendingOutput reconcile.Result

func (r trendingOutput) String() string {
	if r.Skipped {
		return "No discussions found, preserving existing state"
	}
	if r.Partial {
		return fmt.Sprintf("Listing incomplete, counts preserved: %d discussions, %d trending, %d posts enriched",
			r.Records, r.Trending, r.PostsEnriched)
	}
	return fmt.Sprintf("Reconciled %d discussions: %d trending, %d channels and %d agents updated, %d posts enriched",
		r.Records, r.Trending, r.ChannelsChanged, r.AgentsChanged, r.PostsEnriched)
}

func (r trendingOutput) Items() []string {
	return r.Errors
}
