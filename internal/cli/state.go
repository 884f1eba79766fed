package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rappterbook/rappterd/internal/pii"
	"github.com/rappterbook/rappterd/internal/state"
)

// InitResult is the init-state success payload.
type InitResult struct {
	Dir     string   `json:"dir"`
	Created []string `json:"created"`
}

func (r InitResult) String() string {
	if len(r.Created) == 0 {
		return fmt.Sprintf("State directory %s already initialized", r.Dir)
	}
	return fmt.Sprintf("Initialized %s: %s", r.Dir, strings.Join(r.Created, ", "))
}

// NewInitStateCommand creates the init-state command.
func NewInitStateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init-state",
		Short: "Create missing state documents with their default shape",
		Long: `Write the default, empty shape of every state document that does not
exist yet, and create the inbox. Existing documents are never overwritten.

Example:
  rappter init-state --state-dir ./state`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInitState(rootOpts, cmd)
		},
	}
}

func runInitState(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	a, err := opts.newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()
	formatter.RunID = a.runID

	names, err := a.store.Init(a.now())
	if err != nil {
		_ = formatter.Error(ErrCodeWriteFailed, "init failed", err.Error())
		return WrapExitError(ExitFailure, "init failed", err)
	}
	q, err := a.openQueue()
	if err != nil {
		return err
	}
	_ = q.Close()

	created := make([]string, 0, len(names))
	for _, n := range names {
		created = append(created, n.File())
	}
	return formatter.Success(InitResult{Dir: a.store.Dir(), Created: created})
}

// ViolationsResult lists schema failures or PII findings.
type ViolationsResult struct {
	Count int      `json:"count"`
	Items []string `json:"items"`
}

// NewCheckStateCommand creates the check-state command.
func NewCheckStateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-state",
		Short: "Validate state documents against the schema",
		Long: `Check every present state document against its schema, including
that _meta.count matches the number of entries. Exits 1 on any violation.

Example:
  rappter check-state`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckState(rootOpts, cmd)
		},
	}
}

func runCheckState(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	a, err := opts.newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()
	formatter.RunID = a.runID

	checker, err := state.NewChecker()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compile schema", err)
	}
	violations, err := a.store.Check(checker)
	if err != nil {
		_ = formatter.Error(ErrCodeState, "check failed", err.Error())
		return WrapExitError(ExitFailure, "check failed", err)
	}
	if len(violations) > 0 {
		items := make([]string, 0, len(violations))
		for _, v := range violations {
			items = append(items, v.String())
		}
		_ = formatter.Error(ErrCodeViolations, fmt.Sprintf("%d schema violations", len(items)), ViolationsResult{Count: len(items), Items: items})
		return NewExitError(ExitFailure, fmt.Sprintf("%d schema violations", len(items)))
	}
	return formatter.Success("✓ State documents valid")
}

// NewScanPIICommand creates the scan-pii command.
func NewScanPIICommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scan-pii",
		Short: "Scan state files for personal data and secrets",
		Long: `Scan every .json and .md file under the state directory for email
addresses, API keys, AWS keys, private keys, bearer tokens and GitHub
tokens. Known-safe values such as example.com addresses and ed25519 public
keys are ignored. Exits 1 on any finding.

Example:
  rappter scan-pii --state-dir ./state`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScanPII(rootOpts, cmd)
		},
	}
}

func runScanPII(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	a, err := opts.newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()
	formatter.RunID = a.runID

	findings, err := pii.ScanDir(a.store.Dir())
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, "scan failed", err.Error())
		return WrapExitError(ExitFailure, "scan failed", err)
	}
	if len(findings) > 0 {
		items := make([]string, 0, len(findings))
		for _, f := range findings {
			rel, relErr := filepath.Rel(a.store.Dir(), f.File)
			if relErr == nil {
				f.File = rel
			}
			items = append(items, f.String())
		}
		msg := fmt.Sprintf("Found %d PII/secret matches", len(items))
		_ = formatter.Error(ErrCodeViolations, msg, ViolationsResult{Count: len(items), Items: items})
		return NewExitError(ExitFailure, msg)
	}
	return formatter.Success("No PII/secrets detected")
}
