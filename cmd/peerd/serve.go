package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/example/peer-scheduler/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(c *cli) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Migrate the database and serve the HTTP API and change feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if addr == "" {
				addr = c.cfg.Addr()
			}
			listener, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			return c.serve(ctx, listener)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default :PEER_HTTP_PORT)")
	return cmd
}

// serve runs the API on listener and the lobby reaper until ctx is done,
// then drains in-flight requests.
func (c *cli) serve(ctx context.Context, listener net.Listener) error {
	logger := c.logger
	defer listener.Close()

	storage, err := openStorage(ctx, c.cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := storage.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	app, err := buildServer(c.cfg, storage, metrics.New(), logger)
	if err != nil {
		return err
	}
	defer app.Close()

	srv := newHTTPServer(listener.Addr().String(), app.handler)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("peer scheduler listening", "addr", listener.Addr().String())
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		app.matches.RunReaper(gctx, c.cfg.ReapInterval)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		// Feed connections are hijacked, so Shutdown does not wait for them;
		// closing the broker ends their write loops.
		app.broker.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server", "error", err)
			return err
		}
		logger.Info("server stopped")
		return nil
	})

	return g.Wait()
}
