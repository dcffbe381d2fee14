package persist

import (
	"regexp"
	"strconv"

	"github.com/jackzampolin/docket/internal/extraction"
)

const (
	// MaxFileNameLength bounds the sanitized name, extension excluded.
	MaxFileNameLength = 200
	truncatedPrefix   = 190
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Naming names the record fields used to derive per-record file names and
// to attribute failures to a document.
type Naming struct {
	// LinkField is the cross-job linking identifier. Checked first.
	LinkField string `json:"link_field,omitempty"`
	// SecondaryField is checked when the link field is empty.
	SecondaryField string `json:"secondary_field,omitempty"`
	// DocumentField and LocaleField form the "<document>_<locale>" fallback.
	DocumentField string `json:"document_field,omitempty"`
	LocaleField   string `json:"locale_field,omitempty"`
}

// DefaultNaming matches the decision tables: row id, then ECLI, then
// decision id and language.
func DefaultNaming() Naming {
	return Naming{
		LinkField:      "id",
		SecondaryField: "ecli",
		DocumentField:  "decision_id",
		LocaleField:    "language",
	}
}

func (n Naming) withDefaults() Naming {
	d := DefaultNaming()
	if n.LinkField == "" {
		n.LinkField = d.LinkField
	}
	if n.SecondaryField == "" {
		n.SecondaryField = d.SecondaryField
	}
	if n.DocumentField == "" {
		n.DocumentField = d.DocumentField
	}
	if n.LocaleField == "" {
		n.LocaleField = d.LocaleField
	}
	return n
}

// Identifier picks the first available identifier from the given records,
// which are searched in order for each field.
func (n Naming) Identifier(correlationID string, records ...map[string]any) string {
	n = n.withDefaults()
	if v := lookup(n.LinkField, records); v != "" {
		return v
	}
	if v := lookup(n.SecondaryField, records); v != "" {
		return v
	}
	doc, loc := lookup(n.DocumentField, records), lookup(n.LocaleField, records)
	if doc != "" && loc != "" {
		return doc + "_" + loc
	}
	return correlationID
}

// FileName returns the deterministic per-record file name (with .json).
func (n Naming) FileName(correlationID string, records ...map[string]any) string {
	return FileName(n.Identifier(correlationID, records...))
}

// FileName sanitizes an identifier into a file name. Names longer than
// MaxFileNameLength are cut to 190 characters plus "_" and the hex hash of
// the full sanitized name, so distinct long names stay distinct.
func FileName(identifier string) string {
	name := unsafeFileChars.ReplaceAllString(identifier, "_")
	if len(name) > MaxFileNameLength {
		name = name[:truncatedPrefix] + "_" + strconv.FormatUint(uint64(rollingHash(name)), 16)
	}
	return name + ".json"
}

// rollingHash is h = 31*h + c over the name, wrapping at 32 bits. The input
// is already ASCII after sanitizing.
func rollingHash(s string) uint32 {
	var h uint32
	for i := 0; i < len(s); i++ {
		h = 31*h + uint32(s[i])
	}
	return h
}

func lookup(field string, records []map[string]any) string {
	if field == "" {
		return ""
	}
	for _, rec := range records {
		if rec == nil {
			continue
		}
		if v, ok := rec[field]; ok {
			if s := extraction.Stringify(v); s != "" {
				return s
			}
		}
	}
	return ""
}
