package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rappterbook/rappterd/internal/reconcile"
)

// NewHeartbeatAuditCommand creates the heartbeat-audit command.
func NewHeartbeatAuditCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "heartbeat-audit",
		Short: "Mark agents silent for more than 48 hours as dormant",
		Long: `Mark every active agent whose last heartbeat is more than 48 hours old
as dormant, record an agent_dormant change for each, and resync the active
and dormant counters in stats.

Example:
  rappter heartbeat-audit`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHeartbeatAudit(rootOpts, cmd)
		},
	}
	return cmd
}

func runHeartbeatAudit(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	a, err := opts.newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()
	formatter.RunID = a.runID

	res, err := a.heartbeatAudit(cmd.Context())
	if err != nil {
		_ = formatter.Error(ErrCodeState, "heartbeat audit failed", err.Error())
		return jobError("heartbeat audit failed", err)
	}
	if res.Marked == nil {
		res.Marked = []string{}
	}
	return formatter.Success(auditOutput(res))
}

type auditOutput reconcile.AuditResult

func (r auditOutput) String() string {
	return fmt.Sprintf("Marked %s dormant (%d active, %d dormant)",
		describe(len(r.Marked), "agent", "agents"), r.Active, r.Dormant)
}

func (r auditOutput) Items() []string {
	return r.Marked
}
