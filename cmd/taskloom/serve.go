package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/taskloom/taskloom/loom/agent"
	"github.com/taskloom/taskloom/loom/config"
	loomdb "github.com/taskloom/taskloom/loom/db"
	"github.com/taskloom/taskloom/loom/httpapi"
	"github.com/taskloom/taskloom/loom/scheduler"
	"github.com/taskloom/taskloom/loom/tasks"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the TaskLoom HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
}

func runServe(cfg *config.Config) error {
	handle, err := loomdb.Connect(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer closeQuietly(handle)

	store := tasks.NewStore(handle)

	runtime, err := agent.NewFactory(cfg, handle, store, log.Logger).CreateRuntime()
	if err != nil {
		return fmt.Errorf("wire agent runtime: %w", err)
	}

	stopWatch, err := config.Watch()
	if err != nil {
		log.Warn().Err(err).Msg("config hot reload unavailable")
		stopWatch = func() error { return nil }
	}
	defer stopWatch()

	var sweeper *scheduler.Sweeper
	if cfg.Scheduler.Enabled {
		sweeper, err = scheduler.New(cfg.Scheduler.RecurrenceSpec, store, log.Logger)
		if err != nil {
			return err
		}
		sweeper.Start()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := httpapi.NewServer(cfg, runtime, store, handle, log.Logger)
	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	log.Info().Msg("shutting down")
	if sweeper != nil {
		sweeper.Stop()
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Agent.DrainTimeout)
	defer cancel()
	if err := runtime.Shutdown(drainCtx); err != nil {
		log.Warn().Err(err).Msg("in-flight dispatches not fully drained")
	}
	return nil
}
