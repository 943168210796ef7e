package extract

import (
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

const ellipsis = "..."

// StripHTML removes markup and decodes entities, collapsing runs of whitespace.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	doc.Find("script, style").Remove()

	return strings.Join(strings.Fields(doc.Text()), " ")
}

// Truncate shortens s to at most max runes including the trailing ellipsis,
// cutting at the last whitespace that keeps the result within the limit.
// A max of zero disables truncation.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}

	budget := max - len(ellipsis)
	if budget <= 0 {
		return string(runes[:max])
	}

	cut := -1
	for i := budget; i > 0; i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}

	var head string
	if cut > 0 {
		head = strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace)
	}
	if head == "" {
		// One word longer than the budget; cut on a rune boundary.
		head = string(runes[:budget])
	}

	return head + ellipsis
}
