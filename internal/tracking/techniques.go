package tracking

import (
	"fmt"
	"html"
	"strconv"
	"strings"
)

// Placement says where in the document a technique's markup goes.
type Placement int

const (
	// AfterBodyOpen inserts right after the opening <body> tag.
	AfterBodyOpen Placement = iota
	// BeforeBodyClose inserts right before </body>.
	BeforeBodyClose
)

// Beacon carries what a technique needs to build its open-tracking markup.
type Beacon struct {
	URLs      URLBuilder
	EmailID   int64
	Nonce     string
	Timestamp int64
}

func (b Beacon) url(technique string) string {
	return b.URLs.ReadURL(b.EmailID, technique, b.Nonce, b.Timestamp)
}

// Technique produces one invisible element whose fetch reports an open.
type Technique struct {
	Name      string
	Placement Placement
	Render    func(b Beacon) string
}

func PixelTechnique() Technique {
	return Technique{
		Name:      "pixel",
		Placement: BeforeBodyClose,
		Render: func(b Beacon) string {
			return fmt.Sprintf(
				`<img src="%s" width="1" height="1" alt="" style="display:none;width:1px;height:1px;border:0;">`,
				html.EscapeString(b.url("pixel")),
			)
		},
	}
}

// AltPixelTechnique relies on attributes only, for clients that strip inline styles.
func AltPixelTechnique() Technique {
	return Technique{
		Name:      "alt-pixel",
		Placement: AfterBodyOpen,
		Render: func(b Beacon) string {
			return fmt.Sprintf(
				`<img src="%s" width="1" height="1" border="0" alt="">`,
				html.EscapeString(b.url("alt-pixel")),
			)
		},
	}
}

func CSSBackgroundTechnique() Technique {
	return Technique{
		Name:      "css-background",
		Placement: AfterBodyOpen,
		Render: func(b Beacon) string {
			return fmt.Sprintf(
				`<div style="background-image:url('%s');width:1px;height:1px;overflow:hidden;"></div>`,
				html.EscapeString(b.url("css-background")),
			)
		},
	}
}

func HiddenLinkTechnique() Technique {
	return Technique{
		Name:      "hidden-link",
		Placement: BeforeBodyClose,
		Render: func(b Beacon) string {
			return fmt.Sprintf(
				`<a href="%s" style="display:none;font-size:0;line-height:0;" aria-hidden="true" tabindex="-1"></a>`,
				html.EscapeString(b.url("hidden-link")),
			)
		},
	}
}

func ScriptTechnique() Technique {
	return Technique{
		Name:      "script",
		Placement: BeforeBodyClose,
		Render: func(b Beacon) string {
			return fmt.Sprintf(`<script>%s%s;</script>`, scriptBeaconPrefix, jsString(b.url("script")))
		},
	}
}

const scriptBeaconPrefix = "(new Image()).src="

// jsString quotes s as a JavaScript string literal that cannot close the
// surrounding script element.
func jsString(s string) string {
	return strings.ReplaceAll(strconv.Quote(s), "</", `<\/`)
}

// DefaultTechniques is the full layered set, in injection order.
func DefaultTechniques() []Technique {
	return []Technique{
		AltPixelTechnique(),
		CSSBackgroundTechnique(),
		PixelTechnique(),
		HiddenLinkTechnique(),
		ScriptTechnique(),
	}
}
