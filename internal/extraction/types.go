// Package extraction holds the value types that flow between the dependency
// resolver, the job engine and the persister.
package extraction

import (
	"fmt"
	"strconv"

	"github.com/jackzampolin/docket/internal/providers"
)

// WorkItem is one unit of work derived from a source row.
type WorkItem struct {
	// ID is the correlation id carried through to the result.
	ID string `json:"id"`
	// Index is the row's position in the source; results are ordered by it.
	Index int `json:"index"`
	// Fields are the source row columns.
	Fields map[string]any `json:"fields"`
	// Deps maps a dependency alias to the matched (and transformed) upstream payload.
	Deps map[string]any `json:"deps,omitempty"`
	// Derived holds whatever preprocessing computed for the prompt.
	Derived map[string]any `json:"derived,omitempty"`
}

// Field returns a source field, or nil.
func (w WorkItem) Field(name string) any {
	if w.Fields == nil {
		return nil
	}
	return w.Fields[name]
}

// String returns a source field rendered as a string ("" when absent).
func (w WorkItem) String(name string) string {
	return Stringify(w.Field(name))
}

// Clone returns a copy with fresh top-level maps so hooks can modify it
// without touching the caller's item.
func (w WorkItem) Clone() WorkItem {
	out := w
	out.Fields = cloneMap(w.Fields)
	out.Deps = cloneMap(w.Deps)
	out.Derived = cloneMap(w.Derived)
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Failure categories, checked in this order when a result is processed.
const (
	CategoryRequest     = "Request Error"
	CategorySchema      = "Schema Validation"
	CategoryPostprocess = "Post-Processing Error"
	CategoryWrite       = "Write Error"
)

// Result is the outcome of one work item. Exactly one is produced per
// dispatched item, whether the call succeeded or not.
type Result struct {
	ID       string          `json:"correlation_id"`
	Index    int             `json:"index"`
	Success  bool            `json:"success"`
	Payload  map[string]any  `json:"payload,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`
	Err      string          `json:"error,omitempty"`
	Category string          `json:"category,omitempty"`
	Usage    providers.Usage `json:"usage"`
	Model    string          `json:"model,omitempty"`
}

// Failed builds an unsuccessful result for item.
func Failed(item WorkItem, category string, err error) Result {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Result{
		ID:       item.ID,
		Index:    item.Index,
		Category: category,
		Err:      msg,
	}
}

// Stringify renders scalar JSON-ish values the way they appear in keys and
// filenames: integral floats lose their fraction, nil becomes "".
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return Stringify(float64(t))
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
