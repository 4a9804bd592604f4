package tracking

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	lineBreakPattern = regexp.MustCompile(`(?i)<br\s*/?>`)
	paragraphEnd     = regexp.MustCompile(`(?i)</p\s*>`)
	anyTagPattern    = regexp.MustCompile(`(?s)<[^>]*>`)
	blankLinesRun    = regexp.MustCompile(`\n{3,}`)
)

// PlainText derives a text/plain alternative from an HTML body. <br> becomes
// a newline and a closing </p> a blank line.
func PlainText(body string) string {
	prepared := lineBreakPattern.ReplaceAllString(body, "\n")
	prepared = paragraphEnd.ReplaceAllString(prepared, "</p>\n\n")

	var text string
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(prepared))
	if err != nil {
		text = anyTagPattern.ReplaceAllString(prepared, "")
	} else {
		doc.Find("head, script, style, title").Remove()
		text = doc.Text()
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	text = blankLinesRun.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}
