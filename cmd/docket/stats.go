package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/docket/internal/jobs"
	"github.com/jackzampolin/docket/internal/report"
)

var (
	statsDir   string
	statsField string
	statsTop   int
	statsXLSX  string
)

var statsCmd = &cobra.Command{
	Use:   "stats [job]",
	Short: "Rank decisions by the number of cited provisions",
	Long: `Count the entries of a list field (default citedProvisions) in every
record of a job's latest run, or of a directory of record files, and print
the top decisions with totals and the average.

Examples:
  docket stats                                 # latest extract-provisions run
  docket stats --dir ./full-data/extract-provisions/jsons --top 25
  docket stats --xlsx provisions.xlsx`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		opts := report.Options{Field: statsField, Top: statsTop}

		var (
			st  report.Stats
			err error
		)
		if statsDir != "" {
			st, err = report.ForDir(ctx, statsDir, opts)
		} else {
			job := jobs.ExtractProvisionsID
			if len(args) == 1 {
				job = args[0]
			}
			a, lerr := loadApp()
			if lerr != nil {
				return lerr
			}
			loc, closeFn, lerr := openLocator(cmd, a)
			if lerr != nil {
				return lerr
			}
			defer closeFn()
			st, err = report.ForJob(ctx, loc, job, opts)
		}
		if err != nil {
			return err
		}

		if statsXLSX != "" {
			if err := report.WriteXLSX(statsXLSX, st); err != nil {
				return err
			}
		}
		return printer.Print(st)
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsDir, "dir", "", "read record files from this directory instead of a run")
	statsCmd.Flags().StringVar(&statsField, "field", report.DefaultListField, "list field to count")
	statsCmd.Flags().IntVar(&statsTop, "top", report.DefaultTop, "number of decisions to rank")
	statsCmd.Flags().StringVar(&statsXLSX, "xlsx", "", "also write the statistics to this Excel file")

	rootCmd.AddCommand(statsCmd)
}
