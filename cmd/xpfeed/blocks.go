// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tomtom215/xpfeed/internal/models"
)

func newBlocksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blocks",
		Short: "Review soft blocks awaiting confirmation",
	}
	cmd.AddCommand(newBlocksListCmd(), newBlockDecisionCmd(true), newBlockDecisionCmd(false))
	return cmd
}

func newBlocksListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List block entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, _ := cmd.Flags().GetString("state")
			state, err := parseBlockState(raw)
			if err != nil {
				return err
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

			entries, err := a.processor.Blocks(state)
			if err != nil {
				return fmt.Errorf("list blocks: %w", err)
			}
			return printBlocks(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().String("state", string(models.BlockPendingConfirmation),
		"active, pending_confirmation, blocked, or all")
	return cmd
}

func newBlockDecisionCmd(confirm bool) *cobra.Command {
	use, short := "dismiss", "Reject a pending block and reset its score"
	if confirm {
		use, short = "confirm", "Confirm a pending block"
	}
	return &cobra.Command{
		Use:   use + " <tag|artist> <subject>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := models.SubjectKind(strings.ToLower(args[0]))
			if !kind.Valid() {
				return fmt.Errorf("unknown subject kind %q (want tag or artist)", args[0])
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

			ctx, cancel := signalContext(0)
			defer cancel()
			entry, err := a.processor.Apply(ctx, models.BlockCommand{
				Kind:    kind,
				Subject: args[1],
				Confirm: confirm,
				Channel: "cli",
			})
			if err != nil {
				return fmt.Errorf("%s %s: %w", use, kind, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", entry.Key(), entry.State)
			return nil
		},
	}
}

func parseBlockState(raw string) (models.BlockState, error) {
	switch s := models.BlockState(strings.ToLower(raw)); s {
	case "all":
		return "", nil
	case models.BlockActive, models.BlockPendingConfirmation, models.BlockBlocked:
		return s, nil
	default:
		return "", fmt.Errorf("unknown block state %q", raw)
	}
}

func printBlocks(w io.Writer, entries []models.BlockEntry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No entries.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tSUBJECT\tSCORE\tSTATE\tUPDATED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t%s\n",
			e.Kind, e.Subject, e.Score, e.State, e.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}
