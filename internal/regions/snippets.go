package regions

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// SnippetWindow is the number of bytes kept on each side of a provision keyword.
const SnippetWindow = 250

// Dotted abbreviations are listed before the words they prefix.
var provisionKeyword = regexp.MustCompile(`(?i)\b(?:artt\.|arts\.|art\.|artikelen\b|artikels\b|artikel\b|articles\b|article\b)`)

var whitespaceRun = regexp.MustCompile(`\s+`)

// ProvisionSnippets returns the context around every provision keyword
// (article, artikel, art., ...) in text. Each snippet spans SnippetWindow bytes
// either side of the keyword, widened to whole words, with whitespace
// collapsed. Duplicates are dropped; order follows first occurrence.
func ProvisionSnippets(text string) []string {
	seen := make(map[string]struct{})
	var out []string

	for _, loc := range provisionKeyword.FindAllStringIndex(text, -1) {
		rawStart := loc[0] - SnippetWindow
		if rawStart < 0 {
			rawStart = 0
		}
		rawEnd := loc[1] + SnippetWindow
		if rawEnd > len(text) {
			rawEnd = len(text)
		}

		start := rawStart
		if rawStart > 0 {
			if i := strings.LastIndexByte(text[:rawStart], ' '); i >= 0 {
				start = i + 1
			}
			for start > 0 && !utf8.RuneStart(text[start]) {
				start--
			}
		}
		end := len(text)
		if i := strings.IndexByte(text[rawEnd:], ' '); i >= 0 {
			end = rawEnd + i
		}

		snippet := strings.TrimSpace(whitespaceRun.ReplaceAllString(text[start:end], " "))
		if snippet == "" {
			continue
		}
		if _, dup := seen[snippet]; dup {
			continue
		}
		seen[snippet] = struct{}{}
		out = append(out, snippet)
	}
	return out
}

// SnippetRequest is the input of the snippet extractor.
type SnippetRequest struct {
	DecisionID   string `json:"decision_id"`
	MarkdownText string `json:"markdown_text"`
	Language     string `json:"language"`
}

// SnippetResponse is the output of the snippet extractor.
type SnippetResponse struct {
	DecisionID string   `json:"decisionId"`
	Language   string   `json:"language"`
	TextRows   []string `json:"text_rows"`
}

// ExtractSnippets applies ProvisionSnippets to a request. Language defaults
// to FR.
func ExtractSnippets(req SnippetRequest) SnippetResponse {
	lang := req.Language
	if lang == "" {
		lang = "FR"
	}
	rows := ProvisionSnippets(req.MarkdownText)
	if rows == nil {
		rows = []string{}
	}
	return SnippetResponse{DecisionID: req.DecisionID, Language: lang, TextRows: rows}
}
