package detect

import (
	"io"
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func parse(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("Failed to parse HTML: %v", err)
	}
	return doc
}

func hasWidget(res DetectionResult, w Widget) bool {
	for _, got := range res.Widgets {
		if got == w {
			return true
		}
	}
	return false
}

func TestDetect_TableWidgets(t *testing.T) {
	tests := []struct {
		name   string
		html   string
		widget Widget
	}{
		{
			name:   "wpDataTables class",
			html:   `<html><body><table class="wpDataTable" id="table_3"></table></body></html>`,
			widget: WidgetWPDataTables,
		},
		{
			name:   "TablePress id class glob",
			html:   `<html><body><table class="tablepress-id-12 other"></table></body></html>`,
			widget: WidgetTablePress,
		},
		{
			name:   "DataTables script",
			html:   `<html><head><script src="https://cdn.DataTables.net/1.13.6/js/jquery.dataTables.min.js"></script></head><body></body></html>`,
			widget: WidgetDataTables,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector(testLogger())
			res := d.Detect(parse(t, tt.html), tt.html, nil)
			if !hasWidget(res, tt.widget) {
				t.Errorf("Detect() widgets = %v, want %s", res.Widgets, tt.widget)
			}
			if !res.TableWidget {
				t.Error("Detect() TableWidget = false, want true")
			}
			if res.WaitSelector() == "" {
				t.Error("WaitSelector() should be set for table widgets")
			}
		})
	}
}

func TestDetect_Frameworks(t *testing.T) {
	tests := []struct {
		name   string
		html   string
		widget Widget
	}{
		{"Next.js data", `<html><body><div id="__next"></div><script id="__NEXT_DATA__" type="application/json">{}</script></body></html>`, WidgetNextJS},
		{"Nuxt", `<html><body><div id="__nuxt"></div><script>window.__NUXT__={}</script></body></html>`, WidgetNuxt},
		{"React root", `<html><body><div id="root" data-reactroot=""></div></body></html>`, WidgetReact},
		{"Vue app", `<html><body><div id="app" data-v-app=""></div></body></html>`, WidgetVue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector(testLogger())
			res := d.Detect(parse(t, tt.html), tt.html, nil)
			if !hasWidget(res, tt.widget) {
				t.Errorf("Detect() widgets = %v, want %s", res.Widgets, tt.widget)
			}
			if res.TableWidget {
				t.Error("frameworks alone should not count as table widgets")
			}
		})
	}
}

func TestDetect_PlainPage(t *testing.T) {
	html := `<html><body><h1>Biaya Kuliah</h1><table><tr><td>S1</td><td>Rp 5.000.000</td></tr></table></body></html>`
	d := NewDetector(testLogger())
	res := d.Detect(parse(t, html), html, nil)
	if res.HasWidgets() || res.JSNotice {
		t.Errorf("Detect() on plain page = %+v, want empty", res)
	}
}

func TestDetect_JSNotice(t *testing.T) {
	for _, html := range []string{
		`<noscript>Please enable JavaScript to view this page.</noscript>`,
		`<p>This app requires javascript</p>`,
	} {
		d := NewDetector(testLogger())
		res := d.DetectHTML(html, nil)
		if !res.JSNotice {
			t.Errorf("DetectHTML(%q).JSNotice = false, want true", html)
		}
	}
}

func TestDetect_CachesSiteWideFrameworksPerHost(t *testing.T) {
	d := NewDetector(testLogger())
	u, _ := url.Parse("https://pmb.example.ac.id/")

	first := `<html><body><div id="__nuxt"></div><script>window.__NUXT__={}</script></body></html>`
	res := d.Detect(parse(t, first), first, u)
	if !hasWidget(res, WidgetNuxt) {
		t.Fatalf("first Detect() widgets = %v, want nuxt", res.Widgets)
	}
	if d.cache.Size() != 1 {
		t.Errorf("cache size = %d, want 1", d.cache.Size())
	}

	// A later page on the same host keeps the framework even without markers.
	second := `<html><body><p>biaya</p></body></html>`
	u2, _ := url.Parse("https://pmb.example.ac.id/biaya")
	res = d.Detect(parse(t, second), second, u2)
	if !hasWidget(res, WidgetNuxt) {
		t.Errorf("second Detect() widgets = %v, want cached nuxt", res.Widgets)
	}
}

func TestHostCache(t *testing.T) {
	c := NewHostCache()
	c.Set("a", []Widget{WidgetVue})
	if got, ok := c.Get("a"); !ok || len(got) != 1 {
		t.Errorf("Get(a) = %v, %v", got, ok)
	}
	c.Clear()
	if c.Size() != 0 {
		t.Errorf("Size() after Clear = %d, want 0", c.Size())
	}
}

func TestNeedsRender(t *testing.T) {
	long := strings.Repeat("biaya kuliah ", 100)
	tests := []struct {
		name   string
		in     EscalationInput
		want   bool
		reason string
	}{
		{"short text", EscalationInput{Text: "short", PassesGate: true}, true, ReasonShortText},
		{"js notice", EscalationInput{Text: long, PassesGate: true, Detection: DetectionResult{JSNotice: true}}, true, ReasonJSNotice},
		{"widget", EscalationInput{Text: long, PassesGate: true, Detection: DetectionResult{Widgets: []Widget{WidgetTablePress}}}, true, ReasonWidget},
		{"gate miss on topical url", EscalationInput{Text: long, TopicalURL: true, PassesGate: false}, true, ReasonGateMiss},
		{"gate miss on ordinary url", EscalationInput{Text: long, TopicalURL: false, PassesGate: false}, false, ""},
		{"all good", EscalationInput{Text: long, TopicalURL: true, PassesGate: true}, false, ""},
		{"custom threshold", EscalationInput{Text: "0123456789", MinTextChars: 5, PassesGate: true}, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := NeedsRender(tt.in)
			if got != tt.want || reason != tt.reason {
				t.Errorf("NeedsRender() = (%v, %q), want (%v, %q)", got, reason, tt.want, tt.reason)
			}
		})
	}
}

func TestPreferRendered(t *testing.T) {
	light := strings.Repeat("a", 100)
	tests := []struct {
		name     string
		rendered string
		gate     bool
		want     bool
	}{
		{"passes gate", "x", true, true},
		{"more than 20 percent longer", strings.Repeat("b", 125), false, true},
		{"slightly longer", strings.Repeat("b", 110), false, false},
		{"empty", "", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PreferRendered(light, tt.rendered, tt.gate, 1.2); got != tt.want {
				t.Errorf("PreferRendered() = %v, want %v", got, tt.want)
			}
		})
	}
}
