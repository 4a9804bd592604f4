package tracking

// Tracker applies link rewriting and open tracking to an outbound body.
type Tracker struct {
	links    *LinkRewriter
	injector *Injector
}

func NewTracker(links *LinkRewriter, injector *Injector) *Tracker {
	return &Tracker{links: links, injector: injector}
}

// Apply rewrites links first so the hidden-link technique keeps its open URL.
func (t *Tracker) Apply(body string, emailID int64) string {
	return t.injector.Inject(t.links.Rewrite(body, emailID), emailID)
}

func (t *Tracker) URLs() URLBuilder {
	return t.links.urls
}
