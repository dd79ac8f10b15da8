package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mohammad-safakhou/autostrat/config"
	"github.com/mohammad-safakhou/autostrat/internal/server"
	"github.com/mohammad-safakhou/autostrat/internal/worker"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCMD(cfgPath *string) *cobra.Command {
	var addr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Address = addr
				cfg.Server = cfg.Server.Normalize()
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runServe(ctx, cfg)
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.address)")
	return serve
}

func runServe(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()
	logger := newLogger(cfg, "[HTTP] ")

	g, gctx := errgroup.WithContext(ctx)

	var dispatcher worker.Dispatcher
	runLocal := cfg.Queue.Backend == config.QueueLocal || cfg.Queue.EmbeddedWorker
	var exec *worker.Executor
	if runLocal {
		exec, err = a.newExecutor()
		if err != nil {
			return err
		}
		g.Go(func() error { return exec.Run(gctx) })
	}
	switch cfg.Queue.Backend {
	case config.QueueRedis:
		dispatcher = a.newStreamDispatcher()
		if exec != nil {
			proc := a.newProcessor(exec)
			g.Go(func() error { return proc.Start(gctx) })
		}
	default:
		dispatcher = exec
	}

	opts := server.Options{
		Config:     cfg.Server,
		Logger:     logger,
		Store:      a.store,
		Dispatcher: dispatcher,
		Metrics:    a.metrics,
	}
	if cfg.Telemetry.MetricsEnabled {
		opts.MetricsPath = cfg.Telemetry.MetricsPath
	}
	// reports are only archived where tasks run
	if exec != nil {
		opts.Archive = a.archive
	}
	srv := server.New(opts)

	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Printf("shutting down")
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
