package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docket/internal/output"
	"github.com/jackzampolin/docket/internal/regions"
)

var snippetsCmd = &cobra.Command{
	Use:   "snippets [file]",
	Short: "Extract provision snippets from a decision",
	Long: `Read {"decision_id", "markdown_text", "language"} as JSON and print the
text around every article keyword as {"decisionId", "language", "text_rows"}.

Output is JSON unless -o is given explicitly, so the command can sit in a
pipeline:
  jq -c '{decision_id, markdown_text, language}' row.json | docket snippets`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var path string
		if len(args) == 1 {
			path = args[0]
		}
		raw, err := readInput(path)
		if err != nil {
			return err
		}
		var req regions.SnippetRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return fmt.Errorf("decode snippet request: %w", err)
		}

		p := printer
		if !cmd.Flags().Changed("output") {
			p = output.New(cmd.OutOrStdout(), output.FormatJSON)
		}
		return p.Print(regions.ExtractSnippets(req))
	},
}

func init() {
	rootCmd.AddCommand(snippetsCmd)
}
