package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docket/internal/config"
	"github.com/jackzampolin/docket/internal/engine"
	"github.com/jackzampolin/docket/internal/jobs"
	"github.com/jackzampolin/docket/internal/llmcall"
	"github.com/jackzampolin/docket/internal/providers"
	"github.com/jackzampolin/docket/internal/runs"
	"github.com/jackzampolin/docket/internal/source"
)

var (
	runResume      bool
	runLimit       int
	runProvider    string
	runMode        string
	runConcurrency int
	runTimeout     time.Duration
	runMaxRetries  int
	runTable       string
	runWatch       bool
)

var runCmd = &cobra.Command{
	Use:   "run <job>",
	Short: "Run an extraction job",
	Long: `Run one job from the catalogue over the source database.

Rows are dispatched in batches of --concurrency with a pause between
batches. Every row yields a result; failures are listed in failures.json
and never stop the run. Ctrl+C stops dispatching new batches and still
writes the summary for the work already done.

Examples:
  docket run extract-provisions
  docket run extract-provisions --resume          # skip decisions already written
  docket run interpret-provisions --limit 100
  docket run extract-cited-decisions --provider openrouter -o json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := loadApp()
		if err != nil {
			return err
		}
		if err := a.home.EnsureExists(); err != nil {
			return err
		}

		catalog, err := jobs.New(jobs.Options{Table: runTable, Logger: a.logger})
		if err != nil {
			return err
		}
		spec, err := catalog.Get(args[0])
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("mode") {
			spec.Mode = runs.Mode(runMode)
		}
		if runConcurrency > 0 {
			spec.Concurrency = runConcurrency
		}
		if runTimeout > 0 {
			spec.Timeout = runTimeout
		}
		if cmd.Flags().Changed("max-retries") {
			n := runMaxRetries
			spec.MaxRetries = &n
		}

		providerName := runProvider
		if providerName == "" {
			providerName = spec.Provider
		}
		if providerName == "" {
			providerName = a.cfg.Provider
		}
		provCfg, ok := a.cfg.ToProviderRegistryConfig()[providerName]
		if !ok {
			return fmt.Errorf("provider %q is not configured", providerName)
		}
		var wrap []providers.Middleware
		if !a.cfg.CallLogDisabled() {
			store, err := llmcall.OpenStore(ctx, callLogPath(a))
			if err != nil {
				return err
			}
			defer store.Close()
			rec := llmcall.NewRecorder(llmcall.RecorderConfig{Writer: store, Logger: a.logger})
			rec.Start(ctx)
			defer rec.Stop()
			wrap = append(wrap, llmcall.Middleware(rec, llmcall.Options{JobID: spec.ID}))
		}
		registry, err := providers.NewRegistry(ctx, map[string]providers.Config{providerName: provCfg}, a.cfg.RetryPolicy(), a.logger, wrap...)
		if err != nil {
			return err
		}
		client, err := registry.Get(providerName)
		if err != nil {
			return err
		}

		src, err := source.Open(ctx, a.cfg.Source, a.logger)
		if err != nil {
			return err
		}
		defer src.Close()

		var recorder runs.Recorder
		locator := runs.Locator(runs.NewDirLocator(a.home))
		if !a.cfg.RunsIndexDisabled() {
			path := a.cfg.Runs.Index
			if path == "" {
				path = a.home.RunsIndexPath()
			}
			idx, err := runs.OpenIndex(ctx, path)
			if err != nil {
				return err
			}
			defer idx.Close()
			recorder = idx
			locator = runs.FirstOf(idx, locator)
		}

		eng, err := engine.New(engine.Config{
			Client:        client,
			Source:        src,
			Home:          a.home,
			Locator:       locator,
			Recorder:      recorder,
			Model:         registry.Model(providerName),
			Concurrency:   a.cfg.Engine.Concurrency,
			Timeout:       a.cfg.Engine.TaskTimeout,
			BatchDelay:    a.cfg.Engine.BatchDelay,
			ProgressEvery: a.cfg.Engine.ProgressEvery,
			Logger:        a.logger,
		})
		if err != nil {
			return err
		}

		if runWatch && a.cm.ConfigFileUsed() != "" {
			a.cm.OnChange(func(c *config.Config) {
				a.level.Set(parseLevel(c.Log.Level))
				a.logger.Info("config reloaded", "log_level", c.Log.Level)
			})
			a.cm.WatchConfig()
		}

		report, err := eng.Run(ctx, spec, engine.RunOptions{
			SkipExisting: runResume,
			Limit:        runLimit,
			Progress: func(p engine.Progress) {
				a.logger.Info("progress",
					"job", p.JobID,
					"completed", p.Completed,
					"total", p.Total,
					"succeeded", p.Succeeded,
					"failed", p.Failed,
				)
			},
		})
		if err != nil {
			return err
		}
		if report.Interrupted {
			a.logger.Warn("run interrupted; rerun with --resume to continue", "job", spec.ID)
		}
		return printer.Print(report.Summary)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runResume, "resume", false, "skip rows whose streaming output already exists")
	runCmd.Flags().IntVar(&runLimit, "limit", 0, "process at most this many source rows (0 = all)")
	runCmd.Flags().StringVar(&runProvider, "provider", "", "configured provider to use (default: config provider)")
	runCmd.Flags().StringVar(&runMode, "mode", "", "override output mode: aggregate or streaming")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "batch size (default: job or config value)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "per-task timeout (default: job or config value)")
	runCmd.Flags().IntVar(&runMaxRetries, "max-retries", 0, "rate-limit retries per call for this run")
	runCmd.Flags().StringVar(&runTable, "table", "", "source table (default: decisions)")
	runCmd.Flags().BoolVar(&runWatch, "watch-config", false, "reload the log level when the config file changes")

	rootCmd.AddCommand(runCmd)
}
