// Package regions locates the parts of a decision that are likely to contain
// citations to other decisions, so that only those windows are sent to the
// model instead of the full text.
//
// Detection is a precision/cost trade-off. A citation written without any of
// the trigger forms will not produce a region, so the output is not a
// completeness guarantee.
//
// All offsets are byte offsets into the input string. Region bounds always
// fall on UTF-8 rune boundaries.
package regions

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	DefaultClusterGap = 500
	DefaultWindow     = 1200
)

// Confidence grades how likely a region contains a real citation.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// Trigger is one pattern hit.
type Trigger struct {
	Kind   Kind   `json:"kind"`
	Text   string `json:"text"`
	Offset int    `json:"offset"`
}

// End returns the offset just past the trigger text.
func (t Trigger) End() int {
	return t.Offset + len(t.Text)
}

// Region is a window of the source text likely to hold citations. Start is
// inclusive, End exclusive.
type Region struct {
	ID           string     `json:"id"`
	Text         string     `json:"text"`
	Start        int        `json:"start"`
	End          int        `json:"end"`
	Triggers     []Trigger  `json:"triggers"`
	Confidence   Confidence `json:"confidence"`
	Jurisdiction string     `json:"jurisdiction"`
}

// Config tunes a Detector. Zero values select the defaults.
type Config struct {
	Patterns   []Pattern
	ClusterGap int
	Window     int
}

// Detector scans text for citation triggers and turns them into regions.
type Detector struct {
	patterns   []Pattern
	clusterGap int
	window     int
}

// NewDetector creates a detector.
func NewDetector(cfg Config) *Detector {
	if cfg.Patterns == nil {
		cfg.Patterns = DefaultPatterns
	}
	if cfg.ClusterGap <= 0 {
		cfg.ClusterGap = DefaultClusterGap
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &Detector{
		patterns:   cfg.Patterns,
		clusterGap: cfg.ClusterGap,
		window:     cfg.Window,
	}
}

var defaultDetector = NewDetector(Config{})

// Detect runs the default detector. selfID is the ECLI of the document being
// scanned; mentions of it are not treated as citations.
func Detect(text, selfID string) []Region {
	return defaultDetector.Detect(text, selfID)
}

// Scan returns every trigger in text, sorted by offset. It applies pattern
// exclusions but no self-reference filtering.
func (d *Detector) Scan(text string) []Trigger {
	var triggers []Trigger
	for _, p := range d.patterns {
		for _, loc := range p.Expr.FindAllStringIndex(text, -1) {
			start, end := loc[0], loc[1]
			if p.ExcludeBefore != nil {
				from := start - excludeLookback
				if from < 0 {
					from = 0
				}
				for from > 0 && !utf8.RuneStart(text[from]) {
					from--
				}
				if p.ExcludeBefore.MatchString(text[from:start]) {
					continue
				}
			}
			hit := text[start:end]
			if p.Kind == KindECLI {
				hit = strings.TrimRight(hit, ".-")
			}
			triggers = append(triggers, Trigger{Kind: p.Kind, Text: hit, Offset: start})
		}
	}
	sort.SliceStable(triggers, func(i, j int) bool {
		if triggers[i].Offset != triggers[j].Offset {
			return triggers[i].Offset < triggers[j].Offset
		}
		return len(triggers[i].Text) > len(triggers[j].Text)
	})
	return triggers
}

// Detect finds citation regions in text. Regions are returned in source
// order and never overlap.
func (d *Detector) Detect(text, selfID string) []Region {
	if text == "" {
		return nil
	}
	triggers := excludeSelf(d.Scan(text), selfID)
	if len(triggers) == 0 {
		return nil
	}

	var regions []Region
	for _, cluster := range d.cluster(triggers) {
		start, end := d.windowFor(text, cluster)

		if n := len(regions); n > 0 {
			prev := &regions[n-1]
			if end <= prev.End {
				prev.Triggers = append(prev.Triggers, cluster...)
				prev.Confidence = confidence(prev.Triggers)
				prev.Jurisdiction = jurisdiction(prev.Triggers)
				continue
			}
			if start < prev.End {
				start = prev.End
			}
		}

		regions = append(regions, Region{
			Text:         text[start:end],
			Start:        start,
			End:          end,
			Triggers:     cluster,
			Confidence:   confidence(cluster),
			Jurisdiction: jurisdiction(cluster),
		})
	}

	for i := range regions {
		regions[i].ID = fmt.Sprintf("region-%03d", i+1)
	}
	return regions
}

// cluster groups triggers greedily: a trigger joins the current cluster when
// its offset is within clusterGap bytes of the previous trigger's offset.
func (d *Detector) cluster(triggers []Trigger) [][]Trigger {
	var clusters [][]Trigger
	current := []Trigger{triggers[0]}
	prev := triggers[0].Offset

	for _, t := range triggers[1:] {
		if t.Offset-prev <= d.clusterGap {
			current = append(current, t)
		} else {
			clusters = append(clusters, current)
			current = []Trigger{t}
		}
		prev = t.Offset
	}
	return append(clusters, current)
}

// windowFor centres a fixed-size window on the cluster midpoint, clipped to
// the document and snapped outwards to rune boundaries. Triggers of a cluster
// wider than the window may fall outside it.
func (d *Detector) windowFor(text string, cluster []Trigger) (int, int) {
	first := cluster[0].Offset
	last := first
	for _, t := range cluster {
		if t.End() > last {
			last = t.End()
		}
	}

	mid := (first + last) / 2
	start := mid - d.window/2
	end := start + d.window
	if start < 0 {
		start = 0
	}
	if end > len(text) {
		end = len(text)
	}

	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}
	return start, end
}

func excludeSelf(triggers []Trigger, selfID string) []Trigger {
	self := normalizeECLI(selfID)
	if self == "" {
		return triggers
	}
	out := triggers[:0:0]
	for _, t := range triggers {
		if t.Kind == KindECLI && normalizeECLI(t.Text) == self {
			continue
		}
		out = append(out, t)
	}
	return out
}

func normalizeECLI(s string) string {
	return strings.ToUpper(strings.TrimRight(strings.TrimSpace(s), ".-,;"))
}

func confidence(triggers []Trigger) Confidence {
	var court, date bool
	for _, t := range triggers {
		switch t.Kind {
		case KindECLI:
			return ConfidenceHigh
		case KindCourt:
			court = true
		case KindDate:
			date = true
		}
	}
	if court && date {
		return ConfidenceMedium
	}
	return ConfidenceLow
}

func jurisdiction(triggers []Trigger) string {
	for _, t := range triggers {
		if t.Kind != KindECLI {
			continue
		}
		parts := strings.SplitN(t.Text, ":", 3)
		if len(parts) < 2 {
			continue
		}
		if j, ok := jurisdictionByECLI[parts[1]]; ok {
			return j
		}
		return parts[1]
	}

	for _, t := range triggers {
		if t.Kind != KindCourt {
			continue
		}
		lower := strings.ReplaceAll(strings.ToLower(t.Text), "’", "'")
		for _, entry := range jurisdictionByCourt {
			if strings.Contains(lower, entry.Keyword) {
				return entry.Jurisdiction
			}
		}
		return JurisdictionBE
	}
	return JurisdictionUnknown
}
