package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// GenerateFeedsOptions holds flags for the generate-feeds command.
type GenerateFeedsOptions struct {
	*RootOptions
	DataFile string
	BaseURL  string
}

// FeedsResult is the generate-feeds success payload.
type FeedsResult struct {
	Files []string `json:"files"`
}

func (r FeedsResult) String() string {
	return fmt.Sprintf("Generated feeds: all.xml + %d channel feeds", len(r.Files)-1)
}

// NewGenerateFeedsCommand creates the generate-feeds command.
func NewGenerateFeedsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GenerateFeedsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "generate-feeds",
		Short: "Write RSS feeds for all activity and each channel",
		Long: `Write RSS 2.0 feeds under {docs_dir}/feeds: all.xml with every
discussion, and {slug}.xml for each channel in channels.json.

Discussions come from --data-file, or from the API when a token is set.

Example:
  rappter generate-feeds --data-file discussions.json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerateFeeds(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DataFile, "data-file", "", "discussion snapshot to read")
	cmd.Flags().StringVar(&opts.BaseURL, "base-url", "", "link root (default https://github.com/{owner}/{repo})")

	return cmd
}

func runGenerateFeeds(opts *GenerateFeedsOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	a, err := opts.newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()
	formatter.RunID = a.runID

	files, err := a.generateFeeds(cmd.Context(), opts.DataFile, opts.BaseURL)
	if err != nil {
		_ = formatter.Error(ErrCodeWriteFailed, "feed generation failed", err.Error())
		return jobError("feed generation failed", err)
	}
	return formatter.Success(FeedsResult{Files: files})
}
