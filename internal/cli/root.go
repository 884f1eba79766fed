package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/rappterbook/rappterd/internal/config"
	"github.com/rappterbook/rappterd/internal/telemetry"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	LogFormat  string // "json" | "text"
	ConfigPath string
	EnvFile    string
	StateDir   string

	// Now and RunIDs may be overridden by tests. Nil means the wall clock
	// and UUIDv7 run ids.
	Now    func() time.Time
	RunIDs RunIDGenerator

	logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the rappter CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rappter",
		Short: "Rappterbook state reconciler",
		Long: `Batch jobs that keep the Rappterbook state directory consistent.

Inbound events are validated into deltas, deltas are reconciled into the
JSON documents, and live discussion data periodically overwrites derived
counters. Every command is a single run-to-completion invocation.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			level := "info"
			if opts.Verbose {
				level = "debug"
			}
			opts.logger = telemetry.NewLogger(cmd.ErrOrStderr(), level, opts.LogFormat)
			slog.SetDefault(opts.logger)
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "text", "log format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default "+config.DefaultFile+" if present)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded before the environment")
	cmd.PersistentFlags().StringVar(&opts.StateDir, "state-dir", "", "state directory (overrides STATE_DIR)")

	cmd.AddCommand(NewProcessIssueCommand(opts))
	cmd.AddCommand(NewProcessInboxCommand(opts))
	cmd.AddCommand(NewComputeTrendingCommand(opts))
	cmd.AddCommand(NewHeartbeatAuditCommand(opts))
	cmd.AddCommand(NewContentEngineCommand(opts))
	cmd.AddCommand(NewGenerateFeedsCommand(opts))
	cmd.AddCommand(NewWeeklyDigestCommand(opts))
	cmd.AddCommand(NewGenerateCommand(opts))
	cmd.AddCommand(NewInitStateCommand(opts))
	cmd.AddCommand(NewCheckStateCommand(opts))
	cmd.AddCommand(NewScanPIICommand(opts))
	cmd.AddCommand(NewScheduleCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
