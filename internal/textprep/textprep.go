// Package textprep normalises decision text before detection and prompting.
// Some decisions are stored as HTML; everything downstream expects Markdown.
package textprep

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
)

var (
	htmlTag       = regexp.MustCompile(`(?i)<(?:html|body|div|p|br|span|table|h[1-6]|ul|ol|li|b|i|strong|em|a)\b[^>]*>`)
	trailingSpace = regexp.MustCompile(`[ \t]+\n`)
	blankRuns     = regexp.MustCompile(`\n{3,}`)
)

// Normalizer converts HTML to Markdown and tidies whitespace. It is safe for
// concurrent use.
type Normalizer struct {
	conv *converter.Converter
}

// New builds a normalizer with the base, CommonMark and table plugins.
func New() *Normalizer {
	return &Normalizer{
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// LooksLikeHTML reports whether text contains markup worth converting.
func LooksLikeHTML(text string) bool {
	return htmlTag.MatchString(text)
}

// Normalize returns Markdown for text. Plain text and Markdown pass through
// with only whitespace cleanup.
func (n *Normalizer) Normalize(text string) (string, error) {
	if LooksLikeHTML(text) {
		md, err := n.conv.ConvertString(text)
		if err != nil {
			return "", fmt.Errorf("convert html: %w", err)
		}
		text = md
	}
	return Tidy(text), nil
}

// Tidy unifies line endings, strips trailing blanks on each line and
// collapses runs of empty lines.
func Tidy(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = trailingSpace.ReplaceAllString(text, "\n")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
