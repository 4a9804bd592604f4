package tracking

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	bodyOpenPattern  = regexp.MustCompile(`(?i)<body(?:\s[^>]*)?>`)
	bodyClosePattern = regexp.MustCompile(`(?i)</body\s*>`)
)

// Injector layers open-tracking techniques into an HTML document.
type Injector struct {
	urls       URLBuilder
	techniques []Technique
	nonce      func() string
	now        func() time.Time
}

func NewInjector(urls URLBuilder, techniques ...Technique) *Injector {
	if len(techniques) == 0 {
		techniques = DefaultTechniques()
	}

	return &Injector{
		urls:       urls,
		techniques: techniques,
		nonce:      uuid.NewString,
		now:        time.Now,
	}
}

// Inject returns body with tracking markup placed after <body> and before
// </body>. Markup whose anchor tag is missing is appended to the end.
func (i *Injector) Inject(body string, emailID int64) string {
	beacon := Beacon{
		URLs:      i.urls,
		EmailID:   emailID,
		Nonce:     i.nonce(),
		Timestamp: i.now().Unix(),
	}

	var head, tail strings.Builder
	for _, technique := range i.techniques {
		markup := technique.Render(beacon)
		if technique.Placement == AfterBodyOpen {
			head.WriteString(markup)
		} else {
			tail.WriteString(markup)
		}
	}

	out := body
	appendix := ""

	if loc := bodyOpenPattern.FindStringIndex(out); loc != nil {
		out = out[:loc[1]] + head.String() + out[loc[1]:]
	} else {
		appendix += head.String()
	}

	if loc := lastIndex(bodyClosePattern, out); loc != nil {
		out = out[:loc[0]] + appendix + tail.String() + out[loc[0]:]
		appendix = ""
	} else {
		appendix += tail.String()
	}

	return out + appendix
}

func lastIndex(re *regexp.Regexp, s string) []int {
	all := re.FindAllStringIndex(s, -1)
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}
