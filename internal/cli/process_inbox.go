package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/rappterbook/rappterd/internal/inbox"
	"github.com/rappterbook/rappterd/internal/reconciler"
)

// ProcessInboxOptions holds flags for the process-inbox command.
type ProcessInboxOptions struct {
	*RootOptions
	Watch bool
}

// NewProcessInboxCommand creates the process-inbox command.
func NewProcessInboxCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProcessInboxOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "process-inbox",
		Short: "Apply pending deltas to the state documents",
		Long: `Drain the inbox: apply every pending delta in order, append change log
entries, prune the change log and save the documents.

A delta that fails is reported and removed; a delta that fails unexpectedly
is copied to the dead-letter record first. The run still exits 0.

With --watch the inbox is drained again whenever new deltas arrive, until
interrupted. Only directory inboxes can be watched.

Example:
  rappter process-inbox
  rappter process-inbox --watch --state-dir ./state`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcessInbox(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "keep running and drain on every new delta")

	return cmd
}

func runProcessInbox(opts *ProcessInboxOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	ctx, cancel := signalContext(cmd)
	defer cancel()

	a, err := opts.newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	formatter.RunID = a.runID

	q, err := a.openQueue()
	if err != nil {
		return err
	}
	defer q.Close()

	if !opts.Watch {
		res, err := a.drain(ctx, q)
		if err != nil {
			_ = formatter.Error(ErrCodeState, "drain failed", err.Error())
			return jobError("drain failed", err)
		}
		return formatter.Success(drainOutput(res))
	}

	w, ok := q.(inbox.Watcher)
	if !ok {
		return NewExitError(ExitCommandError, "--watch needs a directory inbox")
	}
	events, err := w.Watch(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to watch inbox", err)
	}

	total := reconciler.Result{Errors: []string{}}
	for pass := 1; ; pass++ {
		res, err := a.drain(ctx, q)
		formatter.Progress("pass %d: %s, %d errors, %d dead-lettered",
			pass, res.Summary(), len(res.Errors), res.DeadLettered)
		total.Processed += res.Processed
		total.DeadLettered += res.DeadLettered
		total.Pruned += res.Pruned
		total.Errors = append(total.Errors, res.Errors...)
		if err != nil && !errors.Is(err, context.Canceled) {
			_ = formatter.Error(ErrCodeState, "drain failed", err.Error())
			return jobError("drain failed", err)
		}
		select {
		case <-ctx.Done():
			return formatter.Success(drainOutput(total))
		case _, open := <-events:
			if !open {
				return formatter.Success(drainOutput(total))
			}
		}
	}
}

// drainOutput prints the one-line summary and the per-delta errors in text
// mode and the full result in JSON mode.
type drainOutput reconciler.Result

func (d drainOutput) String() string {
	return reconciler.Result(d).Summary()
}

func (d drainOutput) Items() []string {
	return d.Errors
}
