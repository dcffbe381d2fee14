// Package jobs is the catalogue of built-in extraction jobs.
//
// Every job reads decisions from the same source table and differs only in
// its hooks, schema and output mode. Prompts and schemas are embedded.
package jobs

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"

	"github.com/jackzampolin/docket/internal/engine"
	"github.com/jackzampolin/docket/internal/regions"
	"github.com/jackzampolin/docket/internal/runs"
	"github.com/jackzampolin/docket/internal/textprep"
)

// DefaultTable is the source table holding decisions.
const DefaultTable = "decisions"

// Source columns every job reads.
const (
	FieldID         = "id"
	FieldDecisionID = "decision_id"
	FieldLanguage   = "language"
	FieldECLI       = "ecli"
	FieldText       = "full_text"
)

// ErrUnknownJob is returned by Catalog.Get for an unregistered id.
var ErrUnknownJob = errors.New("unknown job")

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Options are shared by every job builder. Zero values select defaults.
type Options struct {
	Table      string
	Detector   *regions.Detector
	Normalizer *textprep.Normalizer
	Logger     *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Table == "" {
		o.Table = DefaultTable
	}
	if o.Detector == nil {
		o.Detector = regions.NewDetector(regions.Config{})
	}
	if o.Normalizer == nil {
		o.Normalizer = textprep.New()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Builder produces a job spec from the shared options.
type Builder func(Options) engine.JobSpec

// Info describes a registered job.
type Info struct {
	ID           string    `json:"id"`
	Description  string    `json:"description"`
	Mode         runs.Mode `json:"mode"`
	Custom       bool      `json:"custom"`
	Dependencies []string  `json:"dependencies,omitempty"`
}

// Catalog holds job builders by id.
type Catalog struct {
	opts     Options
	builders map[string]Builder
}

// New returns a catalogue with the built-in jobs registered.
func New(opts Options) (*Catalog, error) {
	opts = opts.withDefaults()
	if !identPattern.MatchString(opts.Table) {
		return nil, fmt.Errorf("invalid source table name %q", opts.Table)
	}
	c := &Catalog{opts: opts, builders: make(map[string]Builder)}
	c.Register(ExtractProvisionsID, extractProvisions)
	c.Register(ExtractCitedDecisionsID, extractCitedDecisions)
	c.Register(InterpretProvisionsID, interpretProvisions)
	return c, nil
}

// Register adds or replaces a builder.
func (c *Catalog) Register(id string, b Builder) {
	c.builders[id] = b
}

// Get builds the job with the given id.
func (c *Catalog) Get(id string) (engine.JobSpec, error) {
	b, ok := c.builders[id]
	if !ok {
		return engine.JobSpec{}, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	spec := b(c.opts)
	if spec.ID != id {
		return engine.JobSpec{}, fmt.Errorf("job %s: builder returned id %q", id, spec.ID)
	}
	return spec, nil
}

// IDs returns every registered job id, sorted.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.builders))
	for id := range c.builders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List describes every registered job, sorted by id.
func (c *Catalog) List() []Info {
	ids := c.IDs()
	out := make([]Info, 0, len(ids))
	for _, id := range ids {
		spec := c.builders[id](c.opts)
		info := Info{
			ID:          spec.ID,
			Description: spec.Description,
			Mode:        spec.Mode,
			Custom:      spec.Execute != nil,
		}
		if info.Mode == "" {
			info.Mode = runs.ModeAggregate
		}
		for _, d := range spec.Dependencies {
			info.Dependencies = append(info.Dependencies, d.JobID)
		}
		out = append(out, info)
	}
	return out
}

func sourceQuery(table string) engine.Query {
	return engine.Query{
		SQL: fmt.Sprintf("SELECT %s, %s, UPPER(%s) AS %s, %s, %s FROM %s ORDER BY %s",
			FieldID, FieldDecisionID, FieldLanguage, FieldLanguage, FieldECLI, FieldText, table, FieldID),
	}
}
