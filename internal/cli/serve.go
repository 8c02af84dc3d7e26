package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dd-jfranjic/devlauncher-sub001/internal/app"
)

const shutdownTimeout = 10 * time.Second

type serveFlags struct {
	addr string
}

// NewServeCommand creates the "serve" command.
func NewServeCommand() *cobra.Command {
	flags := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP bridge for a local UI",
		Long: `Serve the engine over HTTP: JSON endpoints for projects and tasks,
websocket streams for change events and task logs, /healthz and
/metrics. Runs until interrupted; tasks still running at shutdown are
marked interrupted.

Examples:
  devlauncher serve
  devlauncher serve --addr 127.0.0.1:8080`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			addr := flags.addr
			if addr == "" {
				addr = e.Config.HTTP.Addr
			}
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), e, ln)
		},
	}

	cmd.Flags().StringVar(&flags.addr, "addr", "", "Listen address (default: http.addr from config)")

	return cmd
}

// serve runs the HTTP bridge on ln until ctx ends, then shuts it down
// gracefully.
func serve(ctx context.Context, e *app.Engine, ln net.Listener) error {
	srv := &http.Server{
		Handler:           e.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		// Cancelling ctx ends open log and event streams.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e.Logger.Info("http bridge listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			e.Logger.Error("graceful shutdown failed", "error", err)
			return err
		}
		e.Logger.Info("http bridge stopped")
		return nil
	})
	return g.Wait()
}
