package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/replica/internal/fracindex"
)

// IndexOptions holds flags for the index command.
type IndexOptions struct {
	*RootOptions
	After  string
	Before string
	Count  int
}

// NewIndexCommand creates the index command.
func NewIndexCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IndexOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Compute fractional index keys",
		Long: `Compute fractional index keys that sort between two siblings.

An empty --after places the keys first, an empty --before places them
last.

Example:
  replica index
  replica index --after a0 --before a1 --count 3`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.After, "after", "", "key the results sort after")
	cmd.Flags().StringVar(&opts.Before, "before", "", "key the results sort before")
	cmd.Flags().IntVarP(&opts.Count, "count", "n", 1, "number of keys")

	return cmd
}

func runIndex(opts *IndexOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	if opts.Count < 1 {
		return NewExitError(ExitCommandError, "--count must be at least 1")
	}

	keys, err := fracindex.NBetween(opts.After, opts.Before, opts.Count)
	if err != nil {
		_ = out.Error(ErrCodeInvalidInput, err.Error(), map[string]string{
			"after":  opts.After,
			"before": opts.Before,
		})
		return WrapExitError(ExitCommandError, "invalid bounds", err)
	}
	return out.Success(lines(keys))
}
