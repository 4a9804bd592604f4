package tracking

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// FragmentPolicy decides what happens to bare "#" placeholder links.
type FragmentPolicy string

const (
	// FragmentPreserve leaves every fragment-only href untouched.
	FragmentPreserve FragmentPolicy = "preserve"
	// FragmentViewInBrowser sends a bare "#" through the click tracker to the
	// view-in-browser page. Other fragments (#top, #footer) stay untouched.
	FragmentViewInBrowser FragmentPolicy = "view_in_browser"
)

func (p FragmentPolicy) IsValid() bool {
	switch p {
	case FragmentPreserve, FragmentViewInBrowser:
		return true
	}
	return false
}

func ParseFragmentPolicy(s string) (FragmentPolicy, error) {
	p := FragmentPolicy(strings.ToLower(strings.TrimSpace(s)))
	if p == "" {
		return FragmentPreserve, nil
	}
	if !p.IsValid() {
		return "", fmt.Errorf("invalid fragment policy %q", s)
	}
	return p, nil
}

var untrackedSchemes = []string{"javascript:", "mailto:", "tel:"}

var hrefPattern = regexp.MustCompile(`(?is)(<a\s+(?:[^>]*?\s+)?href\s*=\s*)(?:"([^"]*)"|'([^']*)')`)

// LinkRewriter points every trackable anchor at the click redirector.
type LinkRewriter struct {
	urls   URLBuilder
	policy FragmentPolicy
	logger *zap.Logger
	parse  func(string) (*goquery.Document, error)
}

func NewLinkRewriter(urls URLBuilder, policy FragmentPolicy, logger *zap.Logger) *LinkRewriter {
	if !policy.IsValid() {
		policy = FragmentPreserve
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &LinkRewriter{
		urls:   urls,
		policy: policy,
		logger: logger,
		parse: func(body string) (*goquery.Document, error) {
			return goquery.NewDocumentFromReader(strings.NewReader(body))
		},
	}
}

// Rewrite returns body with anchor hrefs replaced. It never fails: when the
// document cannot be parsed or rendered the regex rewrite is used instead.
func (r *LinkRewriter) Rewrite(body string, emailID int64) string {
	doc, err := r.parse(body)
	if err != nil {
		r.logger.Warn("html parse failed, using regex link rewrite",
			zap.Int64("emailId", emailID),
			zap.Error(err),
		)
		return r.rewriteRegex(body, emailID)
	}

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if tracked, ok := r.target(href, emailID); ok {
			a.SetAttr("href", tracked)
		}
	})

	out, err := doc.Html()
	if err != nil {
		r.logger.Warn("html render failed, using regex link rewrite",
			zap.Int64("emailId", emailID),
			zap.Error(err),
		)
		return r.rewriteRegex(body, emailID)
	}
	return out
}

func (r *LinkRewriter) rewriteRegex(body string, emailID int64) string {
	return hrefPattern.ReplaceAllStringFunc(body, func(match string) string {
		parts := hrefPattern.FindStringSubmatch(match)
		if len(parts) != 4 {
			return match
		}

		quote, value := `"`, parts[2]
		if match[len(parts[1])] == '\'' {
			quote, value = "'", parts[3]
		}

		tracked, ok := r.target(html.UnescapeString(value), emailID)
		if !ok {
			return match
		}
		return parts[1] + quote + html.EscapeString(tracked) + quote
	})
}

func (r *LinkRewriter) target(href string, emailID int64) (string, bool) {
	trimmed := strings.TrimSpace(href)
	if trimmed == "" {
		return "", false
	}

	if strings.HasPrefix(trimmed, "#") {
		if trimmed == "#" && r.policy == FragmentViewInBrowser {
			return r.urls.ClickURL(emailID, r.urls.ViewURL(emailID)), true
		}
		return "", false
	}

	lower := strings.ToLower(trimmed)
	for _, scheme := range untrackedSchemes {
		if strings.HasPrefix(lower, scheme) {
			return "", false
		}
	}

	return r.urls.ClickURL(emailID, href), true
}
