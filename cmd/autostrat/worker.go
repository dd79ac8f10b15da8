package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/mohammad-safakhou/autostrat/config"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func workerCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume submitted tasks from the redis stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if cfg.Queue.Backend != config.QueueRedis {
				return errors.New("worker needs queue.backend redis")
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()
			exec, err := a.newExecutor()
			if err != nil {
				return err
			}
			proc := a.newProcessor(exec)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return exec.Run(gctx) })
			g.Go(func() error { return proc.Start(gctx) })
			return g.Wait()
		},
	}
}
