package oracle

import (
	"strings"
	"time"
)

// Dates in prompts are Western Indonesian Time.
var wib = time.FixedZone("WIB", 7*60*60)

// RenderPrompt substitutes {{today}} with now's date in WIB.
func RenderPrompt(prompt string, now time.Time) string {
	return strings.ReplaceAll(prompt, "{{today}}", Today(now))
}

// Today formats now as a WIB calendar date.
func Today(now time.Time) string {
	return now.In(wib).Format("2006-01-02")
}
