package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"epubopt/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var clearRuns bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent runs and cumulative savings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !cfg.History.Enabled {
				fmt.Fprintln(out, "Run history is disabled (history.enabled = false).")
				return nil
			}

			store, err := history.Open(cmd.Context(), cfg.History.Path)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer store.Close()

			if clearRuns {
				removed, err := store.Clear(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Removed %d run(s) from %s\n", removed, store.Path())
				return nil
			}

			entries, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No runs recorded yet.")
				return nil
			}

			color := shouldColorize(out)
			rows := make([][]string, 0, len(entries))
			for _, entry := range entries {
				rows = append(rows, []string{
					entry.FinishedAt.Local().Format(time.DateTime),
					entry.ArchivePath,
					colorize(string(entry.Status), statusColor(entry.Status), color),
					formatHistorySaved(entry),
					strings.Join(entry.FailedClasses, ", "),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Finished", "Archive", "Status", "Saved", "Failed classes"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))

			totals, err := store.Totals(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%d run(s), %d partial, %d failed, %s saved in total\n",
				totals.Runs, totals.Partial, totals.Failed, formatBytes(totals.BytesSaved))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show (0 for all)")
	cmd.Flags().BoolVar(&clearRuns, "clear", false, "Delete every recorded run")
	return cmd
}

func formatHistorySaved(entry history.Entry) string {
	if entry.Status == history.StatusFailed {
		return "-"
	}
	return formatDelta(entry.BytesSaved)
}

func statusColor(status history.Status) string {
	switch status {
	case history.StatusOK:
		return ansiGreen
	case history.StatusPartial:
		return ansiYellow
	case history.StatusFailed:
		return ansiRed
	default:
		return ""
	}
}
