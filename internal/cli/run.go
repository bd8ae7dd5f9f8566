package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/replica/internal/config"
	"github.com/roach88/replica/internal/protocol"
	"github.com/roach88/replica/internal/syncer"
)

// shutdownGrace bounds the metrics server shutdown.
const shutdownGrace = 5 * time.Second

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Keep the replica in sync with the server",
		Long: `Open the replica and keep it in sync until interrupted.

The pusher drains the outbox to server.url, the puller streams the
configured synchronizers from server.websocket_url, and metrics.addr
serves Prometheus metrics. Each part is skipped when its address is
empty.

Example:
  replica run --config ./replica.yaml
  replica run --db /tmp/replica.db --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplica(rootOpts, cmd)
		},
	}
	return cmd
}

func runReplica(opts *RootOptions, cmd *cobra.Command) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	inputs, err := s.cfg.SynchronizerInputs()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid synchronizers", err)
	}

	// Listen before any loop starts so a bad address leaves nothing running.
	var ln net.Listener
	if s.cfg.Metrics.Addr != "" {
		ln, err = net.Listen("tcp", s.cfg.Metrics.Addr)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to listen for metrics", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if s.cfg.Server.URL != "" {
		pusher := newPusher(s)
		g.Go(func() error { return pusher.Run(gctx) })
	} else {
		s.logger.Info("push disabled: no server.url")
	}

	if s.cfg.Server.WebSocketURL != "" {
		g.Go(func() error { return pullLoop(gctx, s, inputs) })
	} else {
		s.logger.Info("pull disabled: no server.websocket_url")
	}

	if ln != nil {
		g.Go(func() error { return serveMetrics(gctx, s, ln) })
		fmt.Fprintf(cmd.OutOrStdout(), "Metrics on http://%s/metrics\n", ln.Addr())
	}

	// The group context only ends on cancellation or a failed loop.
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	s.logger.Info("replica running",
		"db", s.cfg.Store.Path,
		"server", s.cfg.Server.URL,
		"synchronizers", len(inputs),
	)
	fmt.Fprintln(cmd.OutOrStdout(), "Replica running. Press Ctrl-C to stop.")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "sync stopped", err)
	}

	s.logger.Info("replica stopped gracefully")
	return nil
}

// retryPolicy builds the shared push/pull back-off from config.
func retryPolicy(cfg config.SyncConfig) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = cfg.InitialBackoff
		b.MaxInterval = cfg.MaxBackoff
		b.MaxElapsedTime = 0
		b.Reset()
		return b
	}
}

func newPusher(s *session) *syncer.Pusher {
	transport := syncer.NewHTTPTransport(s.cfg.Server.URL, s.cfg.Server.Token,
		syncer.WithHTTPClient(&http.Client{Timeout: s.cfg.Server.Timeout}),
	)
	return syncer.NewPusher(s.store, transport, s.bus,
		syncer.WithBatchSize(s.cfg.Sync.BatchSize),
		syncer.WithBackOff(retryPolicy(s.cfg.Sync)),
		syncer.WithPusherLogger(s.logger),
		syncer.WithPusherMetrics(s.metrics),
	)
}

// pullLoop keeps one puller connected, redialling with back-off when the
// connection drops.
func pullLoop(ctx context.Context, s *session, inputs []protocol.Synchronizer) error {
	url, token := s.cfg.Server.WebSocketURL, s.cfg.Server.Token

	connect := func() error {
		conn, err := syncer.DialWS(ctx, url, token)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if syncer.IsUnauthorized(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		defer conn.Close()

		s.logger.Info("pull connected", "url", url)
		puller := syncer.NewPuller(conn, s.store, s.handlers, s.bus,
			syncer.WithPullerUserID(s.cfg.Session.UserID),
			syncer.WithPullerLogger(s.logger),
			syncer.WithPullerMetrics(s.metrics),
		)
		for _, in := range inputs {
			if err := puller.Register(ctx, in); err != nil {
				return err
			}
		}
		err = puller.Run(ctx)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		s.logger.Warn("pull connection lost, reconnecting", "error", err, "delay", delay)
	}
	return backoff.RetryNotify(connect, backoff.WithContext(retryPolicy(s.cfg.Sync)(), ctx), notify)
}

// serveMetrics serves /metrics on ln until ctx ends.
func serveMetrics(ctx context.Context, s *session, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("metrics shutdown", "error", err)
		}
	}()

	s.logger.Info("metrics listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve metrics: %w", err)
	}
	return nil
}
