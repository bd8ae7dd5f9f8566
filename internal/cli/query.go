package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/replica/internal/query"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Input string
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <type>",
		Short: "Run a query against the local replica",
		Long: fmt.Sprintf(`Run a query against the local replica and print the result.

Query types: %s

Example:
  replica query node.get --input '{"nodeId":"01J...pg"}'
  replica query document.get --input '{"documentId":"01J...pg"}' --format json`, joinTypes(query.Types())),
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, query.Type(args[0]), cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Input, "input", "{}", "query input as JSON")

	return cmd
}

func runQuery(opts *QueryOptions, t query.Type, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	input, err := query.DecodeInput(t, []byte(opts.Input))
	if err != nil {
		_ = out.Error(ErrCodeInvalidInput, err.Error(), map[string]string{"type": string(t)})
		return WrapExitError(ExitCommandError, "invalid query", err)
	}

	s, err := openSession(cmd.Context(), opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	s.logger.Debug("executing query", "type", t)
	result, err := s.mediator.ExecuteQuery(cmd.Context(), input)
	if err != nil {
		_ = out.Error(ErrCodeQueryFailed, err.Error(), map[string]string{
			"type": string(t),
			"code": string(query.CodeOf(err)),
		})
		return WrapExitError(ExitFailure, "query failed", err)
	}

	return out.Success(opts.present(result))
}

// present adapts a handler result to the output format.
func (o *RootOptions) present(result any) any {
	if o.Format == "text" {
		return textResult(result)
	}
	return result
}

func joinTypes[T fmt.Stringer](types []T) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return strings.Join(names, ", ")
}
