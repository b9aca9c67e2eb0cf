// Package pagecontext classifies what a visitor can currently see on the
// host page. The widget captures raw element geometry and text; everything
// here is pure computation over that capture, so the same page state always
// produces the same snapshot.
package pagecontext

import "time"

// ContentType is the single category assigned to a classified element.
type ContentType string

const (
	ContentPricing     ContentType = "pricing"
	ContentCTA         ContentType = "cta"
	ContentTestimonial ContentType = "testimonial"
	ContentFeature     ContentType = "feature"
	ContentMedia       ContentType = "media"
	ContentHeading     ContentType = "heading"
	ContentParagraph   ContentType = "paragraph"
	ContentList        ContentType = "list"
	ContentForm        ContentType = "form"
	ContentGeneric     ContentType = "generic"
)

// Element is the widget's wire representation of one candidate DOM element.
type Element struct {
	Tag     string   `json:"tag"`
	Text    string   `json:"text"`
	Classes []string `json:"classes,omitempty"`
	Href    string   `json:"href,omitempty"`
	Top     float64  `json:"top"`    // document-relative, px
	Height  float64  `json:"height"` // px
}

// Viewport describes the visible window in document coordinates.
type Viewport struct {
	Top    float64 `json:"top"`
	Height float64 `json:"height"`
}

// PageView is the raw capture the widget ships with scroll and section
// events.
type PageView struct {
	URL               string    `json:"url"`
	SectionName       string    `json:"section_name"`
	Elements          []Element `json:"elements"`
	Viewport          Viewport  `json:"viewport"`
	ScrollPercentage  float64   `json:"scroll_percentage"`
	TimeOnPageSeconds float64   `json:"time_on_page_seconds"`
}

// ClassifiedElement is one ranked entry of a snapshot.
type ClassifiedElement struct {
	ContentType   ContentType
	Text          string
	SemanticLevel int
	VisibilityPct float64
	Score         float64
}

// Snapshot is the context handed to the contextual question generator.
// Recomputed on demand, never persisted.
type Snapshot struct {
	SectionName      string
	Elements         []ClassifiedElement
	HasPricing       bool
	HasCTA           bool
	HasTestimonials  bool
	HasFeatures      bool
	HasMedia         bool
	ScrollPercentage float64
	TimeOnPage       time.Duration
}

// SectionContent is the narrower per-section summary produced when the
// visitor enters a named section.
type SectionContent struct {
	Name           string
	Headings       []string
	FirstParagraph string
	HasForm        bool
	HasPricing     bool
	HasVideo       bool
	CTATexts       []string
}
