// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

// Command xpfeed learns a taste profile from bookmarks and delivers fresh
// artwork matching it.
//
// Usage:
//
//	xpfeed serve [--now]          run the scheduler, listeners and HTTP API
//	xpfeed run                    execute one discovery run and exit
//	xpfeed stats [--days N]       print strategy statistics
//	xpfeed reset-profile          discard the learned profile
//	xpfeed sync-tags              refresh the copyright tag set
//	xpfeed blocks list|confirm|dismiss
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tomtom215/xpfeed/internal/api"
	"github.com/tomtom215/xpfeed/internal/config"
	"github.com/tomtom215/xpfeed/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "xpfeed",
		Short:         "Taste-profile driven artwork discovery",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "", "path to config file (default: XPFEED_CONFIG or ./config.yaml)")

	rootCmd.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newStatsCmd(),
		newResetProfileCmd(),
		newSyncTagsCmd(),
		newBlocksCmd(),
	)
	return rootCmd
}

// loadConfig reads configuration and initializes logging from it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.LoadWithKoanf()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	api.Version = version
	return cfg, nil
}
