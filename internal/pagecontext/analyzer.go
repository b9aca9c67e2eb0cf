package pagecontext

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	minVisibilityPct = 20.0
	minElementHeight = 20.0
	maxSnapshotSize  = 15
)

var pricingKeywords = []string{"pricing", "price", "plan", "/mo", "per month", "monthly", "$", "€", "£", "tier"}

var ctaKeywords = []string{"get started", "sign up", "signup", "start free", "try ", "book a demo", "request demo", "contact us", "buy now", "subscribe", "join now"}

var testimonialKeywords = []string{"testimonial", "review", "customers say", "loved by", "trusted by"}

var featureKeywords = []string{"feature", "capabilit", "what you get", "how it works", "benefits"}

// ClassifyViewport produces a ranked snapshot of what is visible right now.
// Deterministic: same PageView in, same Snapshot out.
func ClassifyViewport(view PageView) Snapshot {
	snap := Snapshot{
		SectionName:      view.SectionName,
		ScrollPercentage: view.ScrollPercentage,
		TimeOnPage:       time.Duration(view.TimeOnPageSeconds * float64(time.Second)),
	}

	for _, el := range view.Elements {
		if el.Height < minElementHeight {
			continue
		}
		vis := visibilityPct(el, view.Viewport)
		if vis <= minVisibilityPct {
			continue
		}

		contentType := classify(el)
		level := semanticLevel(el, contentType)
		classified := ClassifiedElement{
			ContentType:   contentType,
			Text:          truncate(strings.TrimSpace(el.Text), 200),
			SemanticLevel: level,
			VisibilityPct: vis,
			Score:         float64(level)*10 + vis,
		}
		snap.Elements = append(snap.Elements, classified)

		switch contentType {
		case ContentPricing:
			snap.HasPricing = true
		case ContentCTA:
			snap.HasCTA = true
		case ContentTestimonial:
			snap.HasTestimonials = true
		case ContentFeature:
			snap.HasFeatures = true
		case ContentMedia:
			snap.HasMedia = true
		}
	}

	// Stable sort keeps document order as the tie-breaker.
	sort.SliceStable(snap.Elements, func(i, j int) bool {
		return snap.Elements[i].Score > snap.Elements[j].Score
	})
	if len(snap.Elements) > maxSnapshotSize {
		snap.Elements = snap.Elements[:maxSnapshotSize]
	}
	return snap
}

// ExtractSectionContent summarizes one named section for section-enter
// triggers: headings, the first paragraph, and a handful of content flags.
func ExtractSectionContent(name string, elements []Element) SectionContent {
	content := SectionContent{Name: name}

	for _, el := range elements {
		tag := strings.ToLower(el.Tag)
		text := strings.TrimSpace(el.Text)

		switch {
		case isHeadingTag(tag):
			if text != "" {
				content.Headings = append(content.Headings, truncate(text, 120))
			}
		case tag == "p":
			if content.FirstParagraph == "" && text != "" {
				content.FirstParagraph = truncate(text, 300)
			}
		case tag == "form" || tag == "input" || tag == "textarea":
			content.HasForm = true
		case tag == "video" || tag == "iframe":
			content.HasVideo = true
		}

		switch classify(el) {
		case ContentPricing:
			content.HasPricing = true
		case ContentCTA:
			if text != "" {
				content.CTATexts = append(content.CTATexts, truncate(text, 60))
			}
		}
	}
	return content
}

// visibilityPct is the fraction of the element's bounding box inside the
// viewport, as a percentage.
func visibilityPct(el Element, vp Viewport) float64 {
	if el.Height <= 0 || vp.Height <= 0 {
		return 0
	}
	top := el.Top
	bottom := el.Top + el.Height
	vpBottom := vp.Top + vp.Height

	visibleTop := top
	if vp.Top > visibleTop {
		visibleTop = vp.Top
	}
	visibleBottom := bottom
	if vpBottom < visibleBottom {
		visibleBottom = vpBottom
	}
	if visibleBottom <= visibleTop {
		return 0
	}
	return (visibleBottom - visibleTop) / el.Height * 100
}

// classify assigns exactly one content type using ordered predicate checks:
// pricing > cta > testimonial > feature > media > heading > paragraph >
// list > form > generic.
func classify(el Element) ContentType {
	tag := strings.ToLower(el.Tag)
	haystack := strings.ToLower(el.Text + " " + strings.Join(el.Classes, " "))

	switch {
	case containsAny(haystack, pricingKeywords):
		return ContentPricing
	case isCTA(tag, haystack):
		return ContentCTA
	case tag == "blockquote" || containsAny(haystack, testimonialKeywords):
		return ContentTestimonial
	case containsAny(haystack, featureKeywords):
		return ContentFeature
	case tag == "img" || tag == "video" || tag == "iframe" || tag == "picture":
		return ContentMedia
	case isHeadingTag(tag):
		return ContentHeading
	case tag == "p":
		return ContentParagraph
	case tag == "ul" || tag == "ol" || tag == "li":
		return ContentList
	case tag == "form" || tag == "input" || tag == "textarea" || tag == "select":
		return ContentForm
	default:
		return ContentGeneric
	}
}

func isCTA(tag, haystack string) bool {
	if strings.Contains(haystack, "cta") || strings.Contains(haystack, "btn") || strings.Contains(haystack, "button") {
		return true
	}
	if tag == "a" || tag == "button" {
		return containsAny(haystack, ctaKeywords)
	}
	return false
}

// semanticLevel ranks structural importance. Headings and CTAs outrank
// body copy.
func semanticLevel(el Element, contentType ContentType) int {
	tag := strings.ToLower(el.Tag)
	switch contentType {
	case ContentPricing, ContentCTA:
		return 5
	case ContentHeading:
		if tag == "h1" || tag == "h2" {
			return 5
		}
		return 4
	case ContentTestimonial, ContentFeature:
		return 3
	case ContentParagraph, ContentMedia:
		return 2
	default:
		return 1
	}
}

func isHeadingTag(tag string) bool {
	return len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6'
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// truncate cuts s to at most max bytes on a rune boundary, so captured page
// text stays valid UTF-8 when it is marshaled upstream.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
