package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/docket/internal/runs"
)

var runsListLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect finished runs",
}

var runsLatestCmd = &cobra.Command{
	Use:   "latest <job>",
	Short: "Show where the latest usable output of a job is",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := loadApp()
		if err != nil {
			return err
		}
		loc, closeFn, err := openLocator(cmd, a)
		if err != nil {
			return err
		}
		defer closeFn()

		h, err := loc.Latest(ctx, args[0])
		if err != nil {
			return err
		}
		return printer.Print(h)
	},
}

var runsListCmd = &cobra.Command{
	Use:   "list [job]",
	Short: "List recorded runs, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := loadApp()
		if err != nil {
			return err
		}
		idx, err := runs.OpenIndex(ctx, indexPath(a))
		if err != nil {
			return err
		}
		defer idx.Close()

		var job string
		if len(args) == 1 {
			job = args[0]
		}
		recs, err := idx.List(ctx, job, runsListLimit)
		if err != nil {
			return err
		}
		if recs == nil {
			recs = []runs.Record{}
		}
		return printer.Print(recs)
	},
}

// openLocator prefers the run index and falls back to scanning the output
// directories.
func openLocator(cmd *cobra.Command, a *app) (runs.Locator, func(), error) {
	dir := runs.NewDirLocator(a.home)
	if a.cfg.RunsIndexDisabled() {
		return dir, func() {}, nil
	}
	idx, err := runs.OpenIndex(cmd.Context(), indexPath(a))
	if err != nil {
		return nil, nil, err
	}
	return runs.FirstOf(idx, dir), func() { idx.Close() }, nil
}

func indexPath(a *app) string {
	if a.cfg.Runs.Index != "" && !a.cfg.RunsIndexDisabled() {
		return a.cfg.Runs.Index
	}
	return a.home.RunsIndexPath()
}

func init() {
	runsListCmd.Flags().IntVar(&runsListLimit, "limit", 20, "maximum number of runs to show")

	runsCmd.AddCommand(runsLatestCmd)
	runsCmd.AddCommand(runsListCmd)
	rootCmd.AddCommand(runsCmd)
}
