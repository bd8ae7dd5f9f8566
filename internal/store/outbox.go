package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/replica/internal/mutation"
)

// PendingMutation is an outbox entry.
type PendingMutation struct {
	mutation.Mutation
	Attempts int
}

// FailedMutation is a mutation the server rejected.
type FailedMutation struct {
	mutation.Mutation
	Status   int
	FailedAt time.Time
}

// EnqueueMutation appends m to the outbox.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are silently ignored.
func (o ops) EnqueueMutation(ctx context.Context, m mutation.Mutation) error {
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO mutations
		(id, type, data, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		m.ID,
		string(m.Type),
		string(m.Data),
		formatTime(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("enqueue mutation %s: %w", m.ID, err)
	}
	return nil
}

// ListPendingMutations returns up to limit outbox entries in creation
// order. limit <= 0 returns all of them.
func (o ops) ListPendingMutations(ctx context.Context, limit int) ([]PendingMutation, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := o.q.QueryContext(ctx, `
		SELECT id, type, data, created_at, attempts
		FROM mutations
		ORDER BY seq ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending mutations: %w", err)
	}
	defer rows.Close()

	pending := []PendingMutation{}
	for rows.Next() {
		var (
			p              PendingMutation
			typ, data, cat string
		)
		if err := rows.Scan(&p.ID, &typ, &data, &cat, &p.Attempts); err != nil {
			return nil, fmt.Errorf("list pending mutations: %w", err)
		}
		p.Type = mutation.Type(typ)
		p.Data = json.RawMessage(data)
		if p.CreatedAt, err = parseTime(cat); err != nil {
			return nil, fmt.Errorf("list pending mutations: %w", err)
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending mutations: iterate: %w", err)
	}
	return pending, nil
}

// CountPendingMutations returns the outbox depth.
func (o ops) CountPendingMutations(ctx context.Context) (int, error) {
	var n int
	if err := o.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM mutations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending mutations: %w", err)
	}
	return n, nil
}

// DeleteMutations removes outbox entries and returns how many existed.
func (o ops) DeleteMutations(ctx context.Context, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := o.q.ExecContext(ctx,
		`DELETE FROM mutations WHERE id IN (`+placeholders(len(ids))+`)`,
		stringArgs(ids)...,
	)
	if err != nil {
		return 0, fmt.Errorf("delete mutations: %w", err)
	}
	return res.RowsAffected()
}

// IncrementAttempts bumps the attempt counter of outbox entries.
func (o ops) IncrementAttempts(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := o.q.ExecContext(ctx,
		`UPDATE mutations SET attempts = attempts + 1 WHERE id IN (`+placeholders(len(ids))+`)`,
		stringArgs(ids)...,
	)
	if err != nil {
		return fmt.Errorf("increment attempts: %w", err)
	}
	return nil
}

// RecordFailure stores m as rejected with status.
// Uses ON CONFLICT(id) DO NOTHING: the first recorded status wins.
func (o ops) RecordFailure(ctx context.Context, m mutation.Mutation, status int, failedAt time.Time) error {
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO mutation_failures
		(id, type, data, created_at, status, failed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		m.ID,
		string(m.Type),
		string(m.Data),
		formatTime(m.CreatedAt),
		status,
		formatTime(failedAt),
	)
	if err != nil {
		return fmt.Errorf("record failure %s: %w", m.ID, err)
	}
	return nil
}

// RejectMutation moves m from the outbox to the failure log atomically.
func (s *Store) RejectMutation(ctx context.Context, m mutation.Mutation, status int, failedAt time.Time) error {
	return s.InTx(ctx, func(tx *Tx) error {
		if err := tx.RecordFailure(ctx, m, status, failedAt); err != nil {
			return err
		}
		_, err := tx.DeleteMutations(ctx, m.ID)
		return err
	})
}

// ListFailedMutations returns up to limit rejected mutations, newest first.
// limit <= 0 returns all of them.
func (o ops) ListFailedMutations(ctx context.Context, limit int) ([]FailedMutation, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := o.q.QueryContext(ctx, `
		SELECT id, type, data, created_at, status, failed_at
		FROM mutation_failures
		ORDER BY seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed mutations: %w", err)
	}
	defer rows.Close()

	failed := []FailedMutation{}
	for rows.Next() {
		var (
			f                       FailedMutation
			typ, data, cat, failAt string
		)
		if err := rows.Scan(&f.ID, &typ, &data, &cat, &f.Status, &failAt); err != nil {
			return nil, fmt.Errorf("list failed mutations: %w", err)
		}
		f.Type = mutation.Type(typ)
		f.Data = json.RawMessage(data)
		if f.CreatedAt, err = parseTime(cat); err != nil {
			return nil, fmt.Errorf("list failed mutations: %w", err)
		}
		if f.FailedAt, err = parseTime(failAt); err != nil {
			return nil, fmt.Errorf("list failed mutations: %w", err)
		}
		failed = append(failed, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list failed mutations: iterate: %w", err)
	}
	return failed, nil
}

func placeholders(n int) string {
	return "?" + strings.Repeat(", ?", n-1)
}

func stringArgs(ss []string) []any {
	args := make([]any, len(ss))
	for i, s := range ss {
		args[i] = s
	}
	return args
}
