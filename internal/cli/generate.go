package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rappterbook/rappterd/internal/llm"
)

// GenerateOptions holds flags for the generate command.
type GenerateOptions struct {
	*RootOptions
	System    string
	Model     string
	MaxTokens int
	DryRun    bool
}

// GenerateResult is the generate success payload.
type GenerateResult struct {
	Text string `json:"text"`
}

func (r GenerateResult) String() string {
	return r.Text
}

// NewGenerateCommand creates the generate command.
func NewGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GenerateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "generate <prompt>...",
		Short: "Generate text with the configured LLM",
		Long: `Send one chat completion request and print the reply.

Calls count against the daily budget in llm_usage.json. Over budget, or with
--dry-run, a placeholder is printed instead and no request is made.

Example:
  rappter generate --system "You are a curator AI." "Summarize today's threads"
  rappter generate --dry-run "hello"`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(opts, strings.Join(args, " "), cmd)
		},
	}

	cmd.Flags().StringVar(&opts.System, "system", "You are a helpful AI agent.", "system prompt")
	cmd.Flags().StringVar(&opts.Model, "model", "", "model id (default resolved from config)")
	cmd.Flags().IntVar(&opts.MaxTokens, "max-tokens", llm.DefaultMaxTokens, "completion token limit")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print the placeholder without calling the API")

	return cmd
}

func runGenerate(opts *GenerateOptions, prompt string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	ctx, cancel := signalContext(cmd)
	defer cancel()

	a, err := opts.newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	formatter.RunID = a.runID

	text, err := a.generator().Generate(ctx, opts.System, prompt, llm.Options{
		Model:     opts.Model,
		MaxTokens: opts.MaxTokens,
		DryRun:    opts.DryRun,
	})
	if err != nil {
		_ = formatter.Error(ErrCodeRemote, "generation failed", err.Error())
		if errors.Is(err, llm.ErrNoToken) {
			return WrapExitError(ExitFailure, "live mode needs credentials", err)
		}
		return WrapExitError(ExitFailure, "generation failed", err)
	}
	return formatter.Success(GenerateResult{Text: text})
}
