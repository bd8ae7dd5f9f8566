package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/replica/internal/crdt"
	"github.com/roach88/replica/internal/mutation"
)

// MutateOptions holds flags for the mutate command.
type MutateOptions struct {
	*RootOptions
	Input string
	Attrs []string // key=value string attributes
	Texts []string // key=value collaborative text attributes
}

// NewMutateCommand creates the mutate command.
func NewMutateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MutateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "mutate <type>",
		Short: "Apply a mutation to the local replica",
		Long: fmt.Sprintf(`Apply a mutation to the local replica and queue it for the server.

The change is visible to queries immediately. The run command pushes it.

Mutation types: %s

Example:
  replica mutate node.create --input '{"nodeType":"space"}' --attr name=Team
  replica mutate node.update --input '{"nodeId":"01J...pg"}' --text title="Roadmap"
  replica mutate reaction.create --input '{"nodeId":"01J...ms","reaction":"+1"}'`, joinTypes(mutation.Types())),
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMutate(opts, mutation.Type(args[0]), cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Input, "input", "{}", "mutation input as JSON")
	cmd.Flags().StringArrayVar(&opts.Attrs, "attr", nil, "string attribute as key=value (node.create, node.update)")
	cmd.Flags().StringArrayVar(&opts.Texts, "text", nil, "text attribute as key=value (node.create, node.update)")

	return cmd
}

func runMutate(opts *MutateOptions, t mutation.Type, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	input, err := mutationInput(opts, t)
	if err != nil {
		_ = out.Error(ErrCodeInvalidInput, err.Error(), map[string]string{"type": string(t)})
		return WrapExitError(ExitCommandError, "invalid mutation", err)
	}

	s, err := openSession(cmd.Context(), opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	s.logger.Debug("executing mutation", "type", t)
	res := s.mediator.ExecuteMutation(cmd.Context(), input)
	if !res.Success {
		_ = out.Error(ErrCodeMutationFailed, res.Err().Error(), map[string]string{
			"type": string(t),
			"code": string(res.Error.Code),
		})
		return WrapExitError(ExitFailure, "mutation failed", res.Err())
	}

	data := opts.present(res.Output)
	if data == nil && opts.Format == "text" {
		data = "OK"
	}
	return out.Success(data)
}

// mutationInput decodes --input and applies the attribute flags.
func mutationInput(opts *MutateOptions, t mutation.Type) (mutation.Input, error) {
	input, err := mutation.DecodeInput(t, []byte(opts.Input))
	if err != nil {
		return nil, err
	}

	attrs, err := parseAttributes(opts.Attrs, opts.Texts)
	if err != nil {
		return nil, err
	}
	if len(attrs) == 0 {
		return input, nil
	}

	switch in := input.(type) {
	case mutation.NodeCreate:
		in.Attributes = attrs
		return in, nil
	case mutation.NodeUpdate:
		in.Attributes = attrs
		return in, nil
	default:
		return nil, mutation.NewError(mutation.ErrCodeInvalidInput, "%s does not take attributes", t)
	}
}

func parseAttributes(strs, texts []string) (map[string]crdt.FieldValue, error) {
	attrs := make(map[string]crdt.FieldValue, len(strs)+len(texts))
	add := func(kv string, value func(string) crdt.FieldValue) error {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return mutation.NewError(mutation.ErrCodeInvalidInput, "attribute %q must be key=value", kv)
		}
		if _, dup := attrs[k]; dup {
			return mutation.NewError(mutation.ErrCodeInvalidInput, "attribute %q given twice", k)
		}
		attrs[k] = value(v)
		return nil
	}
	for _, kv := range strs {
		if err := add(kv, func(v string) crdt.FieldValue { return crdt.String(v) }); err != nil {
			return nil, err
		}
	}
	for _, kv := range texts {
		// The handler rebinds text to the session replica.
		if err := add(kv, func(v string) crdt.FieldValue { return crdt.NewTextFrom("cli", v) }); err != nil {
			return nil, err
		}
	}
	return attrs, nil
}
