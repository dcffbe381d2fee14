package persist

import (
	"strings"
	"testing"
)

func TestFileName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "12345", "12345.json"},
		{"ecli punctuation", "ECLI:BE:CASS:2023:ARR.20230117.2N.7", "ECLI_BE_CASS_2023_ARR.20230117.2N.7.json"},
		{"spaces and accents", "décision 1/2", "d_cision_1_2.json"},
		{"keeps dash underscore dot", "a-b_c.d", "a-b_c.d.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FileName(tt.in); got != tt.want {
				t.Errorf("FileName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFileName_Truncation(t *testing.T) {
	exact := strings.Repeat("a", MaxFileNameLength)
	if got := FileName(exact); got != exact+".json" {
		t.Errorf("a name of exactly %d chars must not be truncated", MaxFileNameLength)
	}

	long := strings.Repeat("x", 250)
	got := FileName(long)
	if got != FileName(long) {
		t.Fatal("FileName is not deterministic")
	}
	base := strings.TrimSuffix(got, ".json")
	if len(base) > MaxFileNameLength {
		t.Errorf("truncated name has %d chars, want <= %d", len(base), MaxFileNameLength)
	}
	if !strings.HasPrefix(base, strings.Repeat("x", truncatedPrefix)+"_") {
		t.Errorf("truncated name should keep the first %d chars then '_': %q", truncatedPrefix, base)
	}

	// Same 190-char prefix, different tails: the hash keeps them apart.
	other := strings.Repeat("x", 249) + "y"
	if FileName(other) == got {
		t.Error("distinct long names collided")
	}
}

func TestRollingHash(t *testing.T) {
	if got := rollingHash("abc"); got != 96354 {
		t.Errorf("rollingHash(abc) = %d, want 96354", got)
	}
	// Wraps at 32 bits instead of overflowing into a negative value.
	if got := rollingHash(strings.Repeat("z", 50)); got == 0 {
		t.Error("unexpected zero hash")
	}
}

func TestNaming_Identifier(t *testing.T) {
	n := DefaultNaming()

	tests := []struct {
		name    string
		records []map[string]any
		want    string
	}{
		{"link id first", []map[string]any{{"id": float64(42), "ecli": "ECLI:X", "decision_id": "d", "language": "FR"}}, "42"},
		{"secondary when link empty", []map[string]any{{"id": "", "ecli": "ECLI:X"}}, "ECLI:X"},
		{"document and locale", []map[string]any{{"decision_id": "d1", "language": "NL"}}, "d1_NL"},
		{"locale missing falls back", []map[string]any{{"decision_id": "d1"}}, "corr-1"},
		{"searched across records", []map[string]any{{"language": "FR"}, {"decision_id": "d2"}}, "d2_FR"},
		{"nil records", nil, "corr-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := n.Identifier("corr-1", tt.records...); got != tt.want {
				t.Errorf("Identifier() = %q, want %q", got, tt.want)
			}
		})
	}

	custom := Naming{LinkField: "link"}
	if got := custom.FileName("c", map[string]any{"link": "L 1", "id": 9}); got != "L_1.json" {
		t.Errorf("custom link field ignored: %q", got)
	}
}
