package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docket/internal/llmcall"
)

var (
	callsLimit    int
	callsProvider string
	callsFailed   bool
)

var callsCmd = &cobra.Command{
	Use:   "calls [job]",
	Short: "List recorded LLM calls, newest first",
	Long: `List the completion attempts recorded by docket run.

Every attempt is logged, including rate-limited ones that were retried.

Examples:
  docket calls
  docket calls extract-provisions --failed
  docket calls totals extract-provisions`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeFn, err := openCallLog(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		filter := llmcall.QueryFilter{Provider: callsProvider, Limit: callsLimit}
		if len(args) == 1 {
			filter.JobID = args[0]
		}
		if callsFailed {
			ok := false
			filter.Success = &ok
		}
		calls, err := store.List(cmd.Context(), filter)
		if err != nil {
			return err
		}
		if calls == nil {
			calls = []llmcall.Call{}
		}
		return printer.Print(calls)
	},
}

var callsTotalsCmd = &cobra.Command{
	Use:   "totals [job]",
	Short: "Sum recorded calls and tokens",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeFn, err := openCallLog(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		var job string
		if len(args) == 1 {
			job = args[0]
		}
		t, err := store.Totals(cmd.Context(), job)
		if err != nil {
			return err
		}
		return printer.Print(t)
	},
}

func openCallLog(cmd *cobra.Command) (*llmcall.Store, func(), error) {
	a, err := loadApp()
	if err != nil {
		return nil, nil, err
	}
	if a.cfg.CallLogDisabled() {
		return nil, nil, fmt.Errorf("call log is disabled (runs.calls: off)")
	}
	store, err := llmcall.OpenStore(cmd.Context(), callLogPath(a))
	if err != nil {
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}

func callLogPath(a *app) string {
	if a.cfg.Runs.Calls != "" && !a.cfg.CallLogDisabled() {
		return a.cfg.Runs.Calls
	}
	return a.home.CallLogPath()
}

func init() {
	callsCmd.Flags().IntVar(&callsLimit, "limit", 50, "maximum number of calls to show")
	callsCmd.Flags().StringVar(&callsProvider, "provider", "", "only show calls to this provider")
	callsCmd.Flags().BoolVar(&callsFailed, "failed", false, "only show failed calls")

	callsCmd.AddCommand(callsTotalsCmd)
	rootCmd.AddCommand(callsCmd)
}
