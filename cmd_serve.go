package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"leveler/core"
	"leveler/httpapi"
	"leveler/llamaruntime"
	"leveler/shutdown"
)

func newServeCommand(c *cli) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the simplify and OpenAI-compatible HTTP API on localhost",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.serve(cmd.Context(), serveOptions{addr: addr, signals: true})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides "+core.EnvHTTPAddr+")")
	return cmd
}

type serveOptions struct {
	addr string
	// signals installs SIGINT/SIGTERM handling. The OS service wrapper
	// stops the server through the context instead.
	signals bool
	// ready, if set, receives the bound address once the listener is open.
	ready func(addr string)
}

// serve runs the HTTP API until ctx is cancelled or a signal arrives. The
// model loads in the background; /readyz reports 503 until it is ready.
func (c *cli) serve(ctx context.Context, opts serveOptions) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, c.appOptions(false))
	if err != nil {
		return err
	}
	addr := a.cfg.HTTPAddr
	if opts.addr != "" {
		addr = opts.addr
	}

	// A missing or malformed model is a startup error; the slow load is not.
	if err := core.ValidateModel(a.cfg.ModelPath); err != nil {
		a.close()
		return err
	}

	mgr := shutdown.NewManager(a.logger,
		shutdown.WithTimeout(a.cfg.ShutdownTimeout),
		shutdown.WithParent(ctx),
	)
	a.register(mgr)

	api := httpapi.NewServer(a.session, httpapi.Config{
		Logger:       a.logger,
		Guard:        a.guard,
		Metrics:      a.store,
		Diagnostics:  a.diag,
		Registerer:   a.registry,
		Gatherer:     a.registry,
		BaseContext:  mgr.Context(),
		QueueTimeout: a.cfg.QueueTimeout,
		CORSOrigins:  a.cfg.CORSOrigins,
		Version:      core.Version,
	})
	srv := &http.Server{
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(a.logger.Named("http").Zap()),
	}
	mgr.Register("http server", shutdown.PriorityHTTPServer, shutdown.HTTPServer(srv))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		_ = mgr.Shutdown()
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if opts.signals {
		mgr.Start()
	}

	a.logger.Info("Leveler listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("model", llamaruntime.ExtractModelName(a.cfg.ModelPath)),
		zap.String("version", core.GetVersionInfo()),
	)
	if opts.ready != nil {
		opts.ready(ln.Addr().String())
	}

	g, gctx := errgroup.WithContext(mgr.Context())
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if gctx.Err() != nil {
			return nil
		}
		// A failed load leaves the server up and unready, with the error
		// on /api/status.
		if err := a.loadModel(nil); err != nil {
			a.logger.Error("Model load failed", zap.Error(err))
		}
		return nil
	})

	<-gctx.Done()
	a.logger.Info("Shutting down")
	shutdownErr := mgr.Shutdown()
	if err := g.Wait(); err != nil {
		return err
	}
	if shutdownErr != nil {
		return shutdownErr
	}
	if code := mgr.ExitCode(); code != core.ExitCodeSuccess {
		return &core.ExitError{Code: code}
	}
	return nil
}
