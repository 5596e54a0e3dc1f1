package detect

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Widget identifies a table plugin or client-side framework whose content may
// only exist after JavaScript runs.
type Widget string

const (
	WidgetWPDataTables Widget = "wpdatatables"
	WidgetTablePress   Widget = "tablepress"
	WidgetDataTables   Widget = "datatables"
	WidgetNextJS       Widget = "nextjs"
	WidgetNuxt         Widget = "nuxt"
	WidgetReact        Widget = "react"
	WidgetVue          Widget = "vue"
)

// WidgetSignature defines detection patterns for a widget
type WidgetSignature struct {
	Widget       Widget
	TableWidget  bool     // Renders tabular data (scorer bonus)
	SiteWide     bool     // A property of the whole site, cacheable per host
	WaitSelector string   // Element the renderer waits for
	Attributes   []string // HTML attributes to look for
	Classes      []string // CSS classes to look for, "prefix*" globs allowed
	Scripts      []string // Script src patterns to look for
	HTMLPatterns []string // Substring patterns to look for in raw HTML
}

// Matches returns true if the document matches this widget's signature
func (sig *WidgetSignature) Matches(doc *goquery.Document, htmlLower string) bool {
	for _, attr := range sig.Attributes {
		if doc.Find("["+attr+"]").Length() > 0 {
			return true
		}
	}

	for _, class := range sig.Classes {
		if prefix, ok := strings.CutSuffix(class, "*"); ok {
			found := false
			doc.Find("[class]").EachWithBreak(func(i int, s *goquery.Selection) bool {
				classAttr, _ := s.Attr("class")
				for _, c := range strings.Fields(classAttr) {
					if strings.HasPrefix(c, prefix) {
						found = true
						return false
					}
				}
				return true
			})
			if found {
				return true
			}
		} else if doc.Find("."+class).Length() > 0 {
			return true
		}
	}

	for _, pattern := range sig.Scripts {
		found := false
		doc.Find("script[src]").EachWithBreak(func(i int, s *goquery.Selection) bool {
			src, _ := s.Attr("src")
			if strings.Contains(strings.ToLower(src), pattern) {
				found = true
				return false
			}
			return true
		})
		if found {
			return true
		}
	}

	for _, pattern := range sig.HTMLPatterns {
		if strings.Contains(htmlLower, pattern) {
			return true
		}
	}

	return false
}

// widgetSignatures lists known widgets. Table plugins come first.
var widgetSignatures = []WidgetSignature{
	{
		Widget:       WidgetWPDataTables,
		TableWidget:  true,
		WaitSelector: "table.wpDataTable tbody tr",
		Classes:      []string{"wpDataTable", "wpdt-c"},
		Scripts:      []string{"wpdatatables"},
		HTMLPatterns: []string{"wpdatatable"},
	},
	{
		Widget:       WidgetTablePress,
		TableWidget:  true,
		WaitSelector: "table.tablepress tbody tr",
		Classes:      []string{"tablepress", "tablepress-id-*"},
		Scripts:      []string{"tablepress"},
		HTMLPatterns: []string{"tablepress"},
	},
	{
		Widget:       WidgetDataTables,
		TableWidget:  true,
		WaitSelector: "table.dataTable tbody tr",
		Classes:      []string{"dataTable", "dataTables_wrapper"},
		Scripts:      []string{"datatables"},
		HTMLPatterns: []string{"datatables"},
	},
	{
		Widget:       WidgetNextJS,
		SiteWide:     true,
		WaitSelector: "#__next",
		Attributes:   []string{"data-nextjs-scroll-focus-boundary"},
		Scripts:      []string{"/_next/"},
		HTMLPatterns: []string{"__next_data__"},
	},
	{
		Widget:       WidgetNuxt,
		SiteWide:     true,
		WaitSelector: "#__nuxt",
		Attributes:   []string{"data-n-head"},
		Scripts:      []string{"/_nuxt/"},
		HTMLPatterns: []string{"__nuxt", "window.__nuxt__"},
	},
	{
		Widget:       WidgetReact,
		SiteWide:     true,
		WaitSelector: "#root > *",
		Attributes:   []string{"data-reactroot"},
		HTMLPatterns: []string{"react-dom", "data-reactroot"},
	},
	{
		Widget:       WidgetVue,
		SiteWide:     true,
		WaitSelector: "#app > *",
		Attributes:   []string{"data-v-app"},
		HTMLPatterns: []string{"vue.runtime", "vue.min.js", "data-v-app"},
	},
}

// Signature returns the signature for a widget, or nil.
func Signature(w Widget) *WidgetSignature {
	for i := range widgetSignatures {
		if widgetSignatures[i].Widget == w {
			return &widgetSignatures[i]
		}
	}
	return nil
}
