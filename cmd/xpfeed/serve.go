// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomtom215/xpfeed/internal/api"
	"github.com/tomtom215/xpfeed/internal/logging"
	"github.com/tomtom215/xpfeed/internal/supervisor"
	"github.com/tomtom215/xpfeed/internal/supervisor/services"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, channel listeners and HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			now, _ := cmd.Flags().GetBool("now")

			logging.Info().Str("version", version).Msg("Starting XPFeed")

			a, err := newApp(cfg, true)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					logging.Error().Err(err).Msg("Shutdown cleanup failed")
				}
			}()

			tree, err := supervisor.NewSupervisorTree(slog.New(logging.NewSlogHandler()), supervisor.DefaultTreeConfig())
			if err != nil {
				return fmt.Errorf("create supervisor tree: %w", err)
			}

			tree.AddStoreService(services.NewStoreGCService(a.store, cfg.Store.GCInterval))
			tree.AddMessagingService(services.NewEventBusService(a.bus))
			for _, ch := range a.fanout.Channels() {
				tree.AddMessagingService(services.NewListenerService(ch, a.bus))
			}
			tree.AddDiscoveryService(services.NewSchedulerService(a.pipeline.Run, services.SchedulerConfig{
				Interval:   cfg.Scheduler.Interval,
				RunOnStart: cfg.Scheduler.RunOnStart || now,
				RunTimeout: cfg.Scheduler.RunTimeout,
			}))

			if cfg.Server.Enabled {
				addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
				server := api.NewServer(a.apiHandler(), cfg.Server, addr)
				tree.AddAPIService(services.NewHTTPServerService(server, addr, cfg.Server.Timeout))
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigChan
				logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
				cancel()
			}()

			errCh := tree.ServeBackground(ctx)
			logging.Info().
				Bool("api", cfg.Server.Enabled).
				Int("channels", len(a.fanout.Channels())).
				Dur("interval", cfg.Scheduler.Interval).
				Msg("Supervisor tree started")

			if err := <-errCh; err != nil && ctx.Err() == nil {
				logging.Error().Err(err).Msg("Supervisor tree stopped unexpectedly")
				return fmt.Errorf("supervisor: %w", err)
			}

			if unstopped, err := tree.UnstoppedServiceReport(); err == nil && len(unstopped) > 0 {
				for _, svc := range unstopped {
					logging.Warn().Str("service", svc.Name).Msg("Service did not stop cleanly")
				}
			}
			logging.Info().Msg("XPFeed stopped")
			return nil
		},
	}
	cmd.Flags().Bool("now", false, "run discovery immediately on start")
	return cmd
}
