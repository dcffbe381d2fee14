package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/docket/internal/regions"
	"github.com/jackzampolin/docket/internal/textprep"
)

var (
	regionsECLI   string
	regionsWindow int
	regionsGap    int
)

var regionsCmd = &cobra.Command{
	Use:   "regions [file]",
	Short: "Show the citation regions detected in a decision",
	Long: `Scan a decision (Markdown, plain text or HTML) for citation triggers and
print the regions that would be sent to extract-cited-decisions.

Regions are a cost filter, not a guarantee: citations with none of the
trigger patterns nearby are not covered.

Examples:
  docket regions decision.md --ecli ECLI:BE:CASS:2020:ARR.20200101.1
  cat decision.html | docket regions -o json`,
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
		text, err := textprep.New().Normalize(string(raw))
		if err != nil {
			return err
		}
		d := regions.NewDetector(regions.Config{Window: regionsWindow, ClusterGap: regionsGap})
		found := d.Detect(text, regionsECLI)
		if found == nil {
			found = []regions.Region{}
		}
		return printer.Print(found)
	},
}

func init() {
	regionsCmd.Flags().StringVar(&regionsECLI, "ecli", "", "the decision's own ECLI, excluded from triggers")
	regionsCmd.Flags().IntVar(&regionsWindow, "window", 0, "region window in characters (default 1200)")
	regionsCmd.Flags().IntVar(&regionsGap, "gap", 0, "max distance between clustered triggers (default 500)")

	rootCmd.AddCommand(regionsCmd)
}
