package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docket/internal/config"
	"github.com/jackzampolin/docket/internal/home"
	"github.com/jackzampolin/docket/internal/output"
	"github.com/jackzampolin/docket/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string

	printer *output.Printer
)

var rootCmd = &cobra.Command{
	Use:   "docket",
	Short: "LLM extraction jobs over Belgian court decisions",
	Long: `Docket runs extraction jobs over a corpus of court decisions.

Each job reads decisions from the source database, sends them to a
completion provider in paced batches, validates the answers against the
job's schema and writes the results under the home directory:
  - aggregate jobs write one set of result files per run
  - streaming jobs write one file per decision as soon as it completes
  - later jobs can join on the output of earlier ones`,
	Version:      version.GitRelease,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.docket/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "docket home directory (default: ~/.docket)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(outputFormat)
		if err != nil {
			return err
		}
		printer = output.New(cmd.OutOrStdout(), format)
		return nil
	}

	rootCmd.AddCommand(versionCmd)
}

// app is the configuration every command that touches the home dir needs.
type app struct {
	cm     *config.Manager
	cfg    *config.Config
	home   *home.Dir
	logger *slog.Logger
	level  *slog.LevelVar
}

// loadApp resolves the home dir, loads config and builds the logger.
// Without --config, {home}/config.yaml is used when it exists.
func loadApp() (*app, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}

	path := cfgFile
	if path == "" && h.ConfigExists() {
		path = h.ConfigPath()
	}
	cm, err := config.NewManager(path)
	if err != nil {
		return nil, err
	}
	cfg := cm.Get()

	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Log.Level))
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	return &app{
		cm:     cm,
		cfg:    cfg,
		home:   h.WithOutputDirs(cfg.Output.ResultsDir, cfg.Output.FullDataDir),
		logger: logger,
		level:  level,
	}, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
