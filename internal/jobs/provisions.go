package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackzampolin/docket/internal/engine"
	"github.com/jackzampolin/docket/internal/extraction"
	"github.com/jackzampolin/docket/internal/providers"
	"github.com/jackzampolin/docket/internal/regions"
	"github.com/jackzampolin/docket/internal/runs"
)

// ExtractProvisionsID names the cited-provision extraction job.
const ExtractProvisionsID = "extract-provisions"

// Derived fields set by provision preprocessing.
const (
	derivedSnippets = "snippets"
	derivedDecision = "decision"
)

var errNoCandidates = errors.New("narrowing returned no provisions")

// extractProvisions is a two-stage job. Preprocessing keeps only the text
// around article keywords; the first call condenses those snippets into a
// plain list of provisions and the second turns the list into the schema.
func extractProvisions(o Options) engine.JobSpec {
	schema := mustSchema(ExtractProvisionsID)
	format := providers.JSONSchemaFormat("cited_provisions", schema)

	return engine.JobSpec{
		ID:          ExtractProvisionsID,
		Description: "Extract the legal provisions each decision cites (snippet narrowing, then structured extraction)",
		Source:      sourceQuery(o.Table),
		Mode:        runs.ModeStreaming,
		Schema:      schema,
		Metadata:    decisionMetadata,
		Postprocess: assignProvisionIDs,

		Preprocess: func(ctx context.Context, item extraction.WorkItem) (extraction.WorkItem, bool, error) {
			d, err := o.loadDecision(item)
			if err != nil {
				return item, false, err
			}
			snippets := regions.ProvisionSnippets(d.Text)
			if len(snippets) == 0 {
				return item, false, nil
			}
			if item.Derived == nil {
				item.Derived = make(map[string]any)
			}
			item.Derived[derivedSnippets] = snippets
			item.Derived[derivedDecision] = d
			return item, true, nil
		},

		Execute: func(ctx context.Context, client providers.CompletionClient, item extraction.WorkItem) (map[string]any, error) {
			d, _ := item.Derived[derivedDecision].(decision)
			snippets, _ := item.Derived[derivedSnippets].([]string)

			system, err := render("provisions_system.tmpl", d)
			if err != nil {
				return nil, err
			}
			narrow, err := render("provisions_narrow.tmpl", struct {
				DecisionID string
				Snippets   []string
			}{d.DecisionID, snippets})
			if err != nil {
				return nil, err
			}
			first, err := client.Complete(ctx, []providers.Message{
				{Role: providers.RoleSystem, Content: system},
				{Role: providers.RoleUser, Content: narrow},
			}, providers.TextFormat(), providers.Settings{})
			if err != nil {
				return nil, fmt.Errorf("narrowing call: %w", err)
			}

			candidates := strings.TrimSpace(first.Content)
			if candidates == "" {
				return nil, errNoCandidates
			}
			extract, err := render("provisions_extract.tmpl", struct {
				DecisionID   string
				LanguageName string
				Candidates   string
			}{d.DecisionID, d.LanguageName, candidates})
			if err != nil {
				return nil, err
			}
			second, err := client.Complete(ctx, []providers.Message{
				{Role: providers.RoleSystem, Content: system},
				{Role: providers.RoleUser, Content: extract},
			}, format, providers.Settings{})
			if err != nil {
				return nil, fmt.Errorf("extraction call: %w", err)
			}
			return providers.ParseStructured(second.Content)
		},
	}
}

// assignProvisionIDs numbers provisions in order of appearance as
// ART-<decision>-<language>-NNN and drops exact repeats.
func assignProvisionIDs(payload map[string]any) (map[string]any, error) {
	list, ok := payload["citedProvisions"].([]any)
	if !ok {
		return nil, errors.New("citedProvisions is not a list")
	}
	prefix := fmt.Sprintf("ART-%s-%s", extraction.Stringify(payload[FieldDecisionID]), extraction.Stringify(payload[FieldLanguage]))

	seen := make(map[string]bool, len(list))
	out := make([]any, 0, len(list))
	for _, entry := range list {
		p, ok := entry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("unexpected provision entry %T", entry)
		}
		key := extraction.Stringify(p["provisionNumberKey"]) + "|" + strings.ToLower(extraction.Stringify(p["parentActName"]))
		if seen[key] {
			continue
		}
		seen[key] = true
		numbered := make(map[string]any, len(p)+1)
		for k, v := range p {
			numbered[k] = v
		}
		numbered["internalProvisionId"] = fmt.Sprintf("%s-%03d", prefix, len(out)+1)
		out = append(out, numbered)
	}
	result := make(map[string]any, len(payload))
	for k, v := range payload {
		result[k] = v
	}
	result["citedProvisions"] = out
	return result, nil
}
