package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rappterbook/rappterd/internal/intake"
)

// ProcessIssueOptions holds flags for the process-issue command.
type ProcessIssueOptions struct {
	*RootOptions
	EventPath string
}

// IssueResult is the process-issue success payload.
type IssueResult struct {
	ID      string `json:"id"`
	Action  string `json:"action"`
	AgentID string `json:"agent_id"`
}

func (r IssueResult) String() string {
	return fmt.Sprintf("Delta written: %s (%s by %s)", r.ID, r.Action, r.AgentID)
}

// NewProcessIssueCommand creates the process-issue command.
func NewProcessIssueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProcessIssueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "process-issue",
		Short: "Validate an inbound event and enqueue its delta",
		Long: `Validate an issue event and write one delta to the inbox.

The event is the webhook payload of an opened issue. Its body must carry a
JSON object {"action": ..., "payload": {...}}, either in a fenced code block
or as the whole body. The issue author becomes the delta's agent id.

Rejected events write nothing and exit 1.

Example:
  rappter process-issue --event "$GITHUB_EVENT_PATH"
  cat event.json | rappter process-issue`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcessIssue(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.EventPath, "event", "", "path to the event JSON (default stdin)")

	return cmd
}

func runProcessIssue(opts *ProcessIssueOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	var in io.Reader = cmd.InOrStdin()
	if opts.EventPath != "" {
		f, err := os.Open(opts.EventPath)
		if err != nil {
			_ = formatter.Error(ErrCodeNotFound, "event file not found", opts.EventPath)
			return WrapExitError(ExitFailure, "failed to open event", err)
		}
		defer f.Close()
		in = f
	}

	a, err := opts.newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()
	formatter.RunID = a.runID

	event, err := intake.ReadEvent(in)
	if err != nil {
		return reject(formatter, err)
	}

	v, err := intake.NewValidator(a.now)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build validator", err)
	}
	q, err := a.openQueue()
	if err != nil {
		return err
	}
	defer q.Close()

	id, d, err := v.Accept(cmd.Context(), q, event.Issue.Body, event.Identity())
	if err != nil {
		return reject(formatter, err)
	}
	a.logger.Info("delta accepted", "file", id, "action", d.Action, "agent_id", d.AgentID, "issue", event.Issue.Number)
	return formatter.Success(IssueResult{ID: id, Action: string(d.Action), AgentID: d.AgentID})
}

func reject(formatter *OutputFormatter, err error) error {
	if re, ok := intake.AsRejection(err); ok {
		_ = formatter.Error(ErrCodeRejected, re.Message, map[string]string{"code": string(re.Code), "field": re.Field})
		return WrapExitError(ExitFailure, string(re.Code), err)
	}
	_ = formatter.Error(ErrCodeWriteFailed, "failed to enqueue delta", err.Error())
	return WrapExitError(ExitFailure, "failed to enqueue delta", err)
}
