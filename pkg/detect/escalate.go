package detect

// EscalationInput is what the light fetch produced for one page.
type EscalationInput struct {
	Text         string          // Visible text of the light-fetched page
	Detection    DetectionResult // Widget signals of the light-fetched HTML
	TopicalURL   bool            // URL or hint carries topic words
	PassesGate   bool            // Local gate result on Text
	MinTextChars int
}

// Escalation reasons, recorded in logs and metrics.
const (
	ReasonShortText = "short_text"
	ReasonJSNotice  = "js_notice"
	ReasonWidget    = "widget_marker"
	ReasonGateMiss  = "gate_miss_on_topical_url"
)

// NeedsRender decides whether a page should be refetched with a headless browser.
// It returns the first matching reason, or "" when the light fetch is enough.
func NeedsRender(in EscalationInput) (bool, string) {
	minChars := in.MinTextChars
	if minChars <= 0 {
		minChars = 900
	}
	switch {
	case len([]rune(in.Text)) < minChars:
		return true, ReasonShortText
	case in.Detection.JSNotice:
		return true, ReasonJSNotice
	case in.Detection.HasWidgets():
		return true, ReasonWidget
	case in.TopicalURL && !in.PassesGate:
		return true, ReasonGateMiss
	}
	return false, ""
}

// PreferRendered picks the rendered text when it passes the gate or is at
// least factor times longer than the light text.
func PreferRendered(lightText, renderedText string, renderedPassesGate bool, factor float64) bool {
	if renderedText == "" {
		return false
	}
	if renderedPassesGate {
		return true
	}
	if factor <= 0 {
		factor = 1.2
	}
	return float64(len([]rune(renderedText))) >= factor*float64(len([]rune(lightText)))
}
