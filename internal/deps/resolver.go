// Package deps joins work items to the persisted output of upstream jobs.
//
// Upstream output is loaded once per run and indexed by composite key, so
// enriching a row is a map lookup per declaration. The indexes are read-only
// after Preload and need no locking.
package deps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackzampolin/docket/internal/extraction"
	"github.com/jackzampolin/docket/internal/runs"
)

// ErrDependencyNotSatisfied is returned when a required dependency has no
// usable upstream record for an item. The item must not be dispatched.
var ErrDependencyNotSatisfied = errors.New("dependency not satisfied")

// keySep joins composite key parts. It cannot appear in decoded field values
// that matter for joins.
const keySep = "\x1f"

// KeyPair maps a local source field to an upstream record field.
type KeyPair struct {
	Local    string `json:"local"`
	Upstream string `json:"upstream"`
}

// Transform shapes an upstream record before it is attached to an item. It
// must be pure: no shared state, no mutation of record.
type Transform func(record map[string]any) (any, error)

// Declaration names an upstream job and how to join it.
type Declaration struct {
	JobID     string    `json:"job_id"`
	Alias     string    `json:"alias"`
	Required  bool      `json:"required"`
	MatchKeys []KeyPair `json:"match_keys"`
	Transform Transform `json:"-"`
}

// Validate checks the declaration is usable.
func (d Declaration) Validate() error {
	if d.JobID == "" {
		return errors.New("dependency job id is required")
	}
	if d.Alias == "" {
		return fmt.Errorf("dependency on %s: alias is required", d.JobID)
	}
	if len(d.MatchKeys) == 0 {
		return fmt.Errorf("dependency %s: at least one match key is required", d.Alias)
	}
	for _, k := range d.MatchKeys {
		if k.Local == "" || k.Upstream == "" {
			return fmt.Errorf("dependency %s: match keys need both local and upstream fields", d.Alias)
		}
	}
	return nil
}

// Resolver loads upstream outputs and enriches items with them.
type Resolver struct {
	locator runs.Locator
	decls   []Declaration
	logger  *slog.Logger

	indexes []map[string]map[string]any
	handles []runs.Handle
}

// NewResolver creates a resolver. Call Preload before Enrich.
func NewResolver(locator runs.Locator, decls []Declaration, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		locator: locator,
		decls:   decls,
		logger:  logger,
	}
}

// Declarations returns the declarations the resolver joins.
func (r *Resolver) Declarations() []Declaration {
	return r.decls
}

// Handles returns the upstream runs loaded by Preload, one per declaration.
func (r *Resolver) Handles() []runs.Handle {
	return r.handles
}

// Preload locates and indexes the latest run of every upstream job. It fails
// if a declaration is invalid, an upstream run cannot be read, or two
// upstream records share a composite key.
func (r *Resolver) Preload(ctx context.Context) error {
	if len(r.decls) == 0 {
		return nil
	}
	if r.locator == nil {
		return errors.New("dependencies declared but no run locator configured")
	}

	r.indexes = make([]map[string]map[string]any, len(r.decls))
	r.handles = make([]runs.Handle, len(r.decls))
	for i, d := range r.decls {
		if err := d.Validate(); err != nil {
			return err
		}

		handle, err := r.locator.Latest(ctx, d.JobID)
		if err != nil {
			return fmt.Errorf("dependency %s: %w", d.Alias, err)
		}
		records, err := runs.Load(ctx, handle)
		if err != nil {
			return fmt.Errorf("dependency %s: %w", d.Alias, err)
		}

		index, skipped, err := buildIndex(d, records)
		if err != nil {
			return err
		}
		if skipped > 0 {
			r.logger.Warn("upstream records missing match keys",
				"alias", d.Alias,
				"job", d.JobID,
				"skipped", skipped,
			)
		}
		r.indexes[i] = index
		r.handles[i] = handle
		r.logger.Info("dependency loaded",
			"alias", d.Alias,
			"job", d.JobID,
			"mode", handle.Mode,
			"run_id", handle.RunID,
			"records", len(index),
		)
	}
	return nil
}

func buildIndex(d Declaration, records []map[string]any) (map[string]map[string]any, int, error) {
	index := make(map[string]map[string]any, len(records))
	skipped := 0
	for _, rec := range records {
		key, ok := compositeKey(d.MatchKeys, func(k KeyPair) any { return UpstreamField(rec, k.Upstream) })
		if !ok {
			skipped++
			continue
		}
		if _, dup := index[key]; dup {
			return nil, 0, fmt.Errorf("dependency %s: duplicate upstream key %s in job %s",
				d.Alias, strings.ReplaceAll(key, keySep, "|"), d.JobID)
		}
		index[key] = rec
	}
	return index, skipped, nil
}

// Resolve attaches every dependency to a copy of item. It returns an error
// wrapping ErrDependencyNotSatisfied when a required dependency has no
// match or its transform fails.
func (r *Resolver) Resolve(item extraction.WorkItem) (extraction.WorkItem, error) {
	if len(r.decls) == 0 {
		return item, nil
	}
	out := item.Clone()
	if out.Deps == nil {
		out.Deps = make(map[string]any, len(r.decls))
	}

	for i, d := range r.decls {
		var index map[string]map[string]any
		if i < len(r.indexes) {
			index = r.indexes[i]
		}

		var rec map[string]any
		if key, ok := compositeKey(d.MatchKeys, func(k KeyPair) any { return item.Field(k.Local) }); ok {
			rec = index[key]
		}
		if rec == nil {
			if d.Required {
				return item, fmt.Errorf("%w: %s has no match", ErrDependencyNotSatisfied, d.Alias)
			}
			continue
		}

		value, err := applyTransform(d.Transform, rec)
		if err != nil {
			if d.Required {
				return item, fmt.Errorf("%w: %s transform: %v", ErrDependencyNotSatisfied, d.Alias, err)
			}
			r.logger.Debug("optional dependency transform failed", "alias", d.Alias, "correlation_id", item.ID, "error", err)
			value = map[string]any{}
		}
		out.Deps[d.Alias] = value
	}
	return out, nil
}

// Enrich is Resolve reduced to keep/drop. It returns false when the item
// must be dropped.
func (r *Resolver) Enrich(item extraction.WorkItem) (extraction.WorkItem, bool) {
	out, err := r.Resolve(item)
	if err != nil {
		return item, false
	}
	return out, true
}

func applyTransform(t Transform, rec map[string]any) (v any, err error) {
	if t == nil {
		return rec, nil
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("transform panicked: %v", p)
		}
	}()
	return t(rec)
}

// compositeKey renders the ordered key values. Missing or empty values make
// the key unusable.
func compositeKey(keys []KeyPair, value func(KeyPair) any) (string, bool) {
	parts := make([]string, len(keys))
	for i, k := range keys {
		s := extraction.Stringify(value(k))
		if s == "" {
			return "", false
		}
		parts[i] = s
	}
	return strings.Join(parts, keySep), true
}

// UpstreamField looks a field up at the top level of a record, then inside
// its payload or data object.
func UpstreamField(rec map[string]any, field string) any {
	if v, ok := rec[field]; ok && v != nil {
		return v
	}
	for _, nested := range []string{"payload", "data"} {
		if m, ok := rec[nested].(map[string]any); ok {
			if v, ok := m[field]; ok && v != nil {
				return v
			}
		}
	}
	return nil
}
