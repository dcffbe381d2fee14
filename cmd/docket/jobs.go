package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/docket/internal/jobs"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List the built-in jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := jobs.New(jobs.Options{})
		if err != nil {
			return err
		}
		return printer.Print(catalog.List())
	},
}

var jobsSchemaCmd = &cobra.Command{
	Use:   "schema <job>",
	Short: "Print a job's output schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		schema, err := jobs.Schema(args[0])
		if err != nil {
			return err
		}
		return printer.Print(schema)
	},
}

func init() {
	jobsCmd.AddCommand(jobsSchemaCmd)
	rootCmd.AddCommand(jobsCmd)
}
