// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/xpfeed/internal/logging"
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	return tctx, func() {
		cancel()
		stop()
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute one discovery run and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext(cfg.Scheduler.RunTimeout)
			defer cancel()

			report, err := a.pipeline.Run(logging.ContextWithNewCorrelationID(ctx))
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.Text())
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print per-strategy statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			days, _ := cmd.Flags().GetInt("days")
			if days < 1 || days > 365 {
				return fmt.Errorf("--days must be between 1 and 365, got %d", days)
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.pipeline.Stats(time.Duration(days) * 24 * time.Hour)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.Text())
			return nil
		},
	}
	cmd.Flags().Int("days", 7, "window in days")
	return cmd
}

func newResetProfileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-profile",
		Short: "Discard learned taste state; the next run rebuilds it from bookmarks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext(0)
			defer cancel()
			if err := a.store.ResetProfile(ctx); err != nil {
				return fmt.Errorf("reset profile: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Profile reset.")
			return nil
		},
	}
}

func newSyncTagsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-tags",
		Short: "Refresh the copyright (IP) tag set from Danbooru",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext(0)
			defer cancel()
			n, err := a.pipeline.SyncIPTags(ctx)
			if err != nil {
				return fmt.Errorf("sync tags: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Synced %d IP tags.\n", n)
			return nil
		},
	}
}
