package jobs

import (
	"errors"
	"strings"

	"github.com/jackzampolin/docket/internal/extraction"
)

var errEmptyText = errors.New("decision has no text")

// decision is the view of a source row the prompts work with.
type decision struct {
	DecisionID   string
	Language     string
	LanguageName string
	ECLI         string
	Text         string
}

// loadDecision reads the decision fields of an item and normalises its text.
func (o Options) loadDecision(item extraction.WorkItem) (decision, error) {
	d := decision{
		DecisionID: item.String(FieldDecisionID),
		Language:   strings.ToUpper(item.String(FieldLanguage)),
		ECLI:       item.String(FieldECLI),
	}
	if d.DecisionID == "" {
		d.DecisionID = item.ID
	}
	if d.Language == "" {
		d.Language = "FR"
	}
	d.LanguageName = LanguageName(d.Language)

	text, err := o.Normalizer.Normalize(item.String(FieldText))
	if err != nil {
		return d, err
	}
	if text == "" {
		return d, errEmptyText
	}
	d.Text = text
	return d, nil
}

// decisionMetadata is merged into every payload. It carries the fields the
// file naming rule and downstream joins rely on.
func decisionMetadata(item extraction.WorkItem) map[string]any {
	lang := strings.ToUpper(item.String(FieldLanguage))
	if lang == "" {
		lang = "FR"
	}
	id := item.String(FieldDecisionID)
	if id == "" {
		id = item.ID
	}
	return map[string]any{
		FieldDecisionID: id,
		FieldLanguage:   lang,
	}
}
