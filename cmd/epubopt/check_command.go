package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"epubopt/internal/deps"
	"epubopt/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report which external optimizers are installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			color := shouldColorize(out)

			statuses := deps.CheckBinaries(deps.OptimizerRequirements(cfg))
			rows := make([][]string, 0, len(statuses))
			missing := 0
			for _, status := range statuses {
				label := colorize("OK", ansiGreen, color)
				detail := status.Path
				classes := strings.Join(status.Classes, ", ")
				if disabledAll(cfg.ClassDisabled, status.Classes) {
					label = colorize("DISABLED", ansiYellow, color)
				} else if !status.Available {
					missing++
					label = colorize("MISSING", ansiRed, color)
					detail = status.Detail
				}
				rows = append(rows, []string{status.Name, status.Command, classes, label, detail})
			}

			fmt.Fprintln(out, renderTable(
				[]string{"Optimizer", "Command", "Classes", "Status", "Detail"},
				rows,
				nil,
			))
			if missing > 0 {
				fmt.Fprintf(out, "%d optimizer(s) missing; their classes will be reported as failed and left unoptimized.\n", missing)
			}

			checks := preflight.RunAll(cmd.Context(), cfg)
			envRows := make([][]string, 0, len(checks))
			for _, check := range checks {
				label := colorize("OK", ansiGreen, color)
				if !check.Passed {
					label = colorize("FAIL", ansiRed, color)
				}
				envRows = append(envRows, []string{check.Name, label, check.Detail})
			}
			fmt.Fprintln(out, renderTable([]string{"Check", "Status", "Detail"}, envRows, nil))
			if failed := preflight.Failed(checks); len(failed) > 0 {
				return fmt.Errorf("%d environment check(s) failed", len(failed))
			}
			return nil
		},
	}
}

func disabledAll(disabled func(string) bool, classes []string) bool {
	if len(classes) == 0 {
		return false
	}
	for _, class := range classes {
		if !disabled(class) {
			return false
		}
	}
	return true
}
