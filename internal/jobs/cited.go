package jobs

import (
	"context"
	"errors"

	"github.com/jackzampolin/docket/internal/engine"
	"github.com/jackzampolin/docket/internal/extraction"
	"github.com/jackzampolin/docket/internal/providers"
	"github.com/jackzampolin/docket/internal/regions"
	"github.com/jackzampolin/docket/internal/runs"
)

// ExtractCitedDecisionsID names the cited-decision extraction job.
const ExtractCitedDecisionsID = "extract-cited-decisions"

const derivedRegions = "regions"

// extractCitedDecisions sends only the detector's citation regions to the
// model. Decisions with no region are skipped; regions can miss citations
// that carry none of the trigger patterns.
func extractCitedDecisions(o Options) engine.JobSpec {
	return engine.JobSpec{
		ID:          ExtractCitedDecisionsID,
		Description: "Extract the court decisions each decision cites, from detected citation regions only",
		Source:      sourceQuery(o.Table),
		Mode:        runs.ModeAggregate,
		Schema:      mustSchema(ExtractCitedDecisionsID),

		Preprocess: func(ctx context.Context, item extraction.WorkItem) (extraction.WorkItem, bool, error) {
			d, err := o.loadDecision(item)
			if err != nil {
				return item, false, err
			}
			found := o.Detector.Detect(d.Text, d.ECLI)
			if len(found) == 0 {
				return item, false, nil
			}
			if item.Derived == nil {
				item.Derived = make(map[string]any)
			}
			item.Derived[derivedRegions] = found
			item.Derived[derivedDecision] = d
			return item, true, nil
		},

		Prompt: func(item extraction.WorkItem) ([]providers.Message, error) {
			d, _ := item.Derived[derivedDecision].(decision)
			found, _ := item.Derived[derivedRegions].([]regions.Region)
			if len(found) == 0 {
				return nil, errors.New("no citation regions")
			}
			system, err := render("cited_system.tmpl", d)
			if err != nil {
				return nil, err
			}
			user, err := render("cited_user.tmpl", struct {
				DecisionID string
				Language   string
				Regions    []regions.Region
			}{d.DecisionID, d.Language, found})
			if err != nil {
				return nil, err
			}
			return []providers.Message{
				{Role: providers.RoleSystem, Content: system},
				{Role: providers.RoleUser, Content: user},
			}, nil
		},

		Metadata: func(item extraction.WorkItem) map[string]any {
			meta := decisionMetadata(item)
			found, _ := item.Derived[derivedRegions].([]regions.Region)
			meta["region_count"] = len(found)
			meta["region_confidence"] = string(topConfidence(found))
			return meta
		},
	}
}

// topConfidence returns the best confidence among regions.
func topConfidence(found []regions.Region) regions.Confidence {
	best := regions.ConfidenceLow
	for _, r := range found {
		switch r.Confidence {
		case regions.ConfidenceHigh:
			return regions.ConfidenceHigh
		case regions.ConfidenceMedium:
			best = regions.ConfidenceMedium
		}
	}
	return best
}
