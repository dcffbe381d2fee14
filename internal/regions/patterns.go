package regions

import (
	"regexp"
	"strings"
)

// Kind identifies a trigger family.
type Kind string

const (
	KindECLI          Kind = "ecli"
	KindCourt         Kind = "court"
	KindDate          Kind = "date"
	KindCaseNumber    Kind = "case_number"
	KindBibliographic Kind = "bibliographic"
)

// Pattern is one row of the detection table. ExcludeBefore, when set, is
// matched against the text immediately preceding a hit; a match discards the
// hit (e.g. "art. 12/2020" is a provision, not a docket number).
type Pattern struct {
	Kind          Kind
	Expr          *regexp.Regexp
	ExcludeBefore *regexp.Regexp
}

// excludeLookback bounds how far back ExcludeBefore looks.
const excludeLookback = 24

var provisionPrefix = regexp.MustCompile(`(?i)(?:\bart[st]?\.|\bartt\.|\barticles?|\bartikel(?:en|s)?|§|\bal\.|\blid)\s*$`)

var courtNames = []string{
	// Belgian courts, FR then NL.
	`cour de cassation`, `hof van cassatie`,
	`cour constitutionnelle`, `grondwettelijk hof`, `cour d'arbitrage`, `arbitragehof`,
	`conseil d'[ée]tat`, `raad van state`,
	`cour d'appel`, `hof van beroep`,
	`cour du travail`, `arbeidshof`,
	`tribunal de premi[èe]re instance`, `rechtbank van eerste aanleg`,
	`tribunal du travail`, `arbeidsrechtbank`,
	`tribunal de l'entreprise`, `ondernemingsrechtbank`,
	`tribunal de commerce`, `rechtbank van koophandel`,
	`justice de paix`, `vredegerecht`,
	`cour d'assises`, `hof van assisen`,
	// European courts.
	`cour de justice de l'union europ[ée]enne`, `hof van justitie`,
	`cour europ[ée]enne des droits de l'homme`, `europees hof voor de rechten van de mens`,
	`cjue`, `hvj`, `cedh`, `ehrm`, `cjce`,
}

// courtAbbrev are dotted abbreviations that cannot carry a trailing \b.
var courtAbbrev = []string{`cass\.`, `c\.e\.`, `r\.v\.st\.`, `c\.const\.`, `gwh`}

var monthsFR = `janvier|f[ée]vrier|mars|avril|mai|juin|juillet|ao[ûu]t|septembre|octobre|novembre|d[ée]cembre`
var monthsNL = `januari|februari|maart|april|mei|juni|juli|augustus|september|oktober|november|december`

var bibliographicAbbrev = []string{
	`J\.T\.`, `R\.W\.`, `Pas\.`, `Arr\.\s?Cass\.`, `J\.L\.M\.B\.`, `T\.B\.P\.`, `R\.C\.J\.B\.`,
	`N\.J\.W\.`, `R\.A\.B\.G\.`, `T\.R\.V\.`, `J\.J\.P\.`, `R\.D\.C\.`, `T\.B\.H\.`, `Chron\.\s?D\.S\.`,
	`J\.T\.T\.`, `R\.G\.D\.C\.`, `T\.Strafr\.`, `Rev\.\s?dr\.\s?p[ée]n\.`,
}

// DefaultPatterns is the trigger table for Belgian and European case law.
var DefaultPatterns = []Pattern{
	{
		Kind: KindECLI,
		Expr: regexp.MustCompile(`\bECLI:[A-Z]{2}:[A-Z0-9]+:\d{4}:[A-Z0-9.\-]+`),
	},
	{
		Kind: KindCourt,
		Expr: regexp.MustCompile(`(?i)\b(?:` + strings.ReplaceAll(strings.Join(courtNames, "|"), "'", `['’]`) + `)\b`),
	},
	{
		Kind: KindCourt,
		Expr: regexp.MustCompile(`(?i)\b(?:` + strings.Join(courtAbbrev, "|") + `)`),
	},
	{
		Kind: KindDate,
		Expr: regexp.MustCompile(`(?i)\b(?:1er|\d{1,2})\s+(?:` + monthsFR + `|` + monthsNL + `)\s+(?:19|20)\d{2}\b`),
	},
	{
		Kind: KindDate,
		Expr: regexp.MustCompile(`\b\d{1,2}[./]\d{1,2}[./](?:19|20)\d{2}\b`),
	},
	{
		Kind: KindDate,
		Expr: regexp.MustCompile(`\b(?:19|20)\d{2}-\d{2}-\d{2}\b`),
	},
	{
		// Court of Cassation role numbers, e.g. C.19.0123.F or P.20.1234.N.
		Kind: KindCaseNumber,
		Expr: regexp.MustCompile(`\b[A-Z]\.\d{2}\.\d{4}\.[FNDE]\b`),
	},
	{
		Kind:          KindCaseNumber,
		Expr:          regexp.MustCompile(`(?i)(?:\bR\.G\.|\bA\.R\.|\brôle|\brolnummer|\brolnr\.?)\s*(?:n[°o]\.?\s*)?\d{2,4}/\d{1,6}(?:/[A-Z]+)?`),
		ExcludeBefore: provisionPrefix,
	},
	{
		Kind:          KindCaseNumber,
		Expr:          regexp.MustCompile(`(?i)\b(?:arrêt|arrest|jugement|vonnis)\s+(?:n[°o]\.?|nr\.?)\s*\d+(?:[/.]\d+)*`),
		ExcludeBefore: provisionPrefix,
	},
	{
		// Bare docket numbers such as 2019/1234; these are the ones most often
		// confused with provision numbers.
		Kind:          KindCaseNumber,
		Expr:          regexp.MustCompile(`\b(?:19|20)\d{2}/\d{2,6}\b`),
		ExcludeBefore: provisionPrefix,
	},
	{
		Kind: KindBibliographic,
		Expr: regexp.MustCompile(`(?:` + strings.Join(bibliographicAbbrev, "|") + `)\s*,?\s*(?:19|20)\d{2}`),
	},
}

// jurisdictionByECLI maps the ECLI country segment to a jurisdiction hint.
var jurisdictionByECLI = map[string]string{
	"BE": "BE",
	"EU": "EU",
	"CE": "ECHR",
}

// jurisdictionByCourt maps lowercase court keywords to a jurisdiction hint.
// Entries are checked by substring, most specific first.
var jurisdictionByCourt = []struct {
	Keyword      string
	Jurisdiction string
}{
	{"droits de l'homme", "ECHR"},
	{"rechten van de mens", "ECHR"},
	{"cedh", "ECHR"},
	{"ehrm", "ECHR"},
	{"union europ", "EU"},
	{"hof van justitie", "EU"},
	{"cjue", "EU"},
	{"cjce", "EU"},
	{"hvj", "EU"},
}

const (
	JurisdictionBE      = "BE"
	JurisdictionUnknown = "UNKNOWN"
)
