package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackzampolin/docket/internal/deps"
	"github.com/jackzampolin/docket/internal/engine"
	"github.com/jackzampolin/docket/internal/extraction"
	"github.com/jackzampolin/docket/internal/providers"
	"github.com/jackzampolin/docket/internal/regions"
	"github.com/jackzampolin/docket/internal/runs"
)

// InterpretProvisionsID names the provision interpretation job.
const InterpretProvisionsID = "interpret-provisions"

const provisionsAlias = "provisions"

// provisionRef is the part of an extracted provision the prompt needs.
type provisionRef struct {
	ID     string
	Number string
	Act    string
}

// interpretProvisions runs after extract-provisions and only for decisions
// it produced provisions for.
func interpretProvisions(o Options) engine.JobSpec {
	return engine.JobSpec{
		ID:          InterpretProvisionsID,
		Description: "Explain how each decision interprets the provisions extracted by extract-provisions",
		Source:      sourceQuery(o.Table),
		Mode:        runs.ModeStreaming,
		Schema:      mustSchema(InterpretProvisionsID),
		Metadata:    decisionMetadata,

		Dependencies: []deps.Declaration{{
			JobID:    ExtractProvisionsID,
			Alias:    provisionsAlias,
			Required: true,
			MatchKeys: []deps.KeyPair{
				{Local: FieldDecisionID, Upstream: FieldDecisionID},
				{Local: FieldLanguage, Upstream: FieldLanguage},
			},
			Transform: provisionRefs,
		}},

		Preprocess: func(ctx context.Context, item extraction.WorkItem) (extraction.WorkItem, bool, error) {
			refs, _ := item.Deps[provisionsAlias].([]provisionRef)
			if len(refs) == 0 {
				return item, false, nil
			}
			d, err := o.loadDecision(item)
			if err != nil {
				return item, false, err
			}
			if item.Derived == nil {
				item.Derived = make(map[string]any)
			}
			item.Derived[derivedDecision] = d
			item.Derived[derivedSnippets] = regions.ProvisionSnippets(d.Text)
			return item, true, nil
		},

		Prompt: func(item extraction.WorkItem) ([]providers.Message, error) {
			d, _ := item.Derived[derivedDecision].(decision)
			refs, _ := item.Deps[provisionsAlias].([]provisionRef)
			snippets, _ := item.Derived[derivedSnippets].([]string)

			system, err := render("interpret_system.tmpl", d)
			if err != nil {
				return nil, err
			}
			user, err := render("interpret_user.tmpl", struct {
				DecisionID string
				Provisions []provisionRef
				Snippets   []string
			}{d.DecisionID, refs, snippets})
			if err != nil {
				return nil, err
			}
			return []providers.Message{
				{Role: providers.RoleSystem, Content: system},
				{Role: providers.RoleUser, Content: user},
			}, nil
		},
	}
}

// provisionRefs reduces an extract-provisions record to its provision list.
// A record without provisions fails, which drops the item.
func provisionRefs(record map[string]any) (any, error) {
	list, ok := deps.UpstreamField(record, "citedProvisions").([]any)
	if !ok {
		return nil, errors.New("record has no citedProvisions")
	}
	refs := make([]provisionRef, 0, len(list))
	for _, entry := range list {
		p, ok := entry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("unexpected provision entry %T", entry)
		}
		id := extraction.Stringify(p["internalProvisionId"])
		if id == "" {
			continue
		}
		refs = append(refs, provisionRef{
			ID:     id,
			Number: extraction.Stringify(p["provisionNumber"]),
			Act:    extraction.Stringify(p["parentActName"]),
		})
	}
	if len(refs) == 0 {
		return nil, errors.New("record has no identified provisions")
	}
	return refs, nil
}
