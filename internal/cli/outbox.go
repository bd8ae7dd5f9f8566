package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/replica/internal/query"
)

// OutboxOptions holds flags for the outbox command.
type OutboxOptions struct {
	*RootOptions
	Failed bool
	Limit  int
}

// PendingView is one outbox entry as printed by the outbox command.
type PendingView struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"createdAt"`
}

// OutboxView is the outbox command result.
type OutboxView struct {
	Total   int           `json:"total"`
	Pending []PendingView `json:"pending"`
}

// RenderText implements TextRenderer.
func (v OutboxView) RenderText(w io.Writer) error {
	if v.Total == 0 {
		_, err := fmt.Fprintln(w, "Outbox empty")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tATTEMPTS\tCREATED AT")
	for _, p := range v.Pending {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", p.ID, p.Type, p.Attempts, p.CreatedAt.Format(time.RFC3339))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(v.Pending) < v.Total {
		_, err := fmt.Fprintf(w, "... %d more\n", v.Total-len(v.Pending))
		return err
	}
	return nil
}

// NewOutboxCommand creates the outbox command.
func NewOutboxCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OutboxOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Show mutations waiting for the server",
		Long: `Show the mutations queued for the server, oldest first.

With --failed, show the mutations the server rejected instead, newest
first.

Example:
  replica outbox
  replica outbox --failed --limit 10`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOutbox(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Failed, "failed", false, "list rejected mutations")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum entries to list (0 for all)")

	return cmd
}

func runOutbox(opts *OutboxOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	if opts.Limit < 0 {
		return NewExitError(ExitCommandError, "--limit must not be negative")
	}

	s, err := openSession(cmd.Context(), opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	if opts.Failed {
		result, err := s.mediator.ExecuteQuery(ctx, query.MutationFailedList{Limit: opts.Limit})
		if err != nil {
			_ = out.Error(ErrCodeQueryFailed, err.Error(), nil)
			return WrapExitError(ExitFailure, "list failed mutations", err)
		}
		return out.Success(opts.present(result))
	}

	total, err := s.store.CountPendingMutations(ctx)
	if err != nil {
		_ = out.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitFailure, "count outbox", err)
	}
	pending, err := s.store.ListPendingMutations(ctx, opts.Limit)
	if err != nil {
		_ = out.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitFailure, "list outbox", err)
	}

	view := OutboxView{Total: total, Pending: make([]PendingView, len(pending))}
	for i, p := range pending {
		view.Pending[i] = PendingView{
			ID:        p.ID,
			Type:      string(p.Type),
			Attempts:  p.Attempts,
			CreatedAt: p.CreatedAt,
		}
	}
	return out.Success(view)
}
