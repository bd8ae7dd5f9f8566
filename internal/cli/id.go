package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/replica/internal/idgen"
)

// IDOptions holds flags for the id command.
type IDOptions struct {
	*RootOptions
	Count int
}

// lines prints one value per line.
type lines []string

func (l lines) RenderText(w io.Writer) error {
	for _, id := range l {
		if _, err := fmt.Fprintln(w, id); err != nil {
			return err
		}
	}
	return nil
}

// NewIDCommand creates the id command.
func NewIDCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IDOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "id <tag>",
		Short: "Generate typed identifiers",
		Long: fmt.Sprintf(`Generate sortable identifiers carrying a type tag.

Tags: %s

Example:
  replica id pg
  replica id ms --count 3`, joinTypes(idgen.Types())),
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runID(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Count, "count", "n", 1, "number of identifiers")

	return cmd
}

func runID(opts *IDOptions, tag string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	t, err := idgen.ParseType(tag)
	if err != nil {
		_ = out.Error(ErrCodeInvalidInput, err.Error(), map[string]string{"tag": tag})
		return WrapExitError(ExitCommandError, "invalid tag", err)
	}
	if opts.Count < 1 {
		return NewExitError(ExitCommandError, "--count must be at least 1")
	}

	ids := make(lines, opts.Count)
	for i := range ids {
		ids[i] = idgen.Generate(t)
	}
	return out.Success(ids)
}
