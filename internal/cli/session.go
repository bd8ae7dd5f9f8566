package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/roach88/replica/internal/config"
	"github.com/roach88/replica/internal/event"
	"github.com/roach88/replica/internal/handlers"
	"github.com/roach88/replica/internal/mediator"
	"github.com/roach88/replica/internal/metrics"
	"github.com/roach88/replica/internal/store"
)

// session is the local core a command works against: the replica, the
// bus, and a started mediator with every handler registered.
type session struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	bus      *event.Bus
	mediator *mediator.Mediator
	handlers *handlers.Handlers
	metrics  *metrics.Metrics
	registry *prometheus.Registry
}

// openSession loads config, opens the replica and starts the mediator.
// Diagnostics go to cmd's error stream.
func openSession(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (*session, error) {
	logger := opts.logger(cmd.ErrOrStderr())

	cfg, err := opts.loadConfig(logger)
	if err != nil {
		return nil, err
	}

	logger.Debug("opening database", "path", cfg.Store.Path)
	st, err := store.Open(cfg.Store.Path, store.WithLogger(logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mt := metrics.New(registry)

	bus := event.NewBus()
	hopts := []handlers.Option{
		handlers.WithLogger(logger),
		handlers.WithUserID(cfg.Session.UserID),
	}
	if cfg.Session.ReplicaID != "" {
		hopts = append(hopts, handlers.WithReplicaID(cfg.Session.ReplicaID))
	}
	h := handlers.New(st, bus, hopts...)

	m := mediator.New(bus,
		mediator.WithLogger(logger),
		mediator.WithMetrics(mt),
	)
	if err := h.Register(m); err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to register handlers", err)
	}
	if err := m.Start(ctx); err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to start mediator", err)
	}

	return &session{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		bus:      bus,
		mediator: m,
		handlers: h,
		metrics:  mt,
		registry: registry,
	}, nil
}

// Close stops the mediator and closes the replica.
func (s *session) Close() error {
	s.mediator.Stop()
	s.bus.Close()
	if err := s.store.Close(); err != nil {
		s.logger.Error("error closing database", "error", err)
		return fmt.Errorf("close replica: %w", err)
	}
	return nil
}
