package parse

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/piratf/kampus-crawler/pkg/utils"
)

// Query parameters that never change page content.
var defaultTrackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"fbclid", "gclid", "menu", "label",
}

var badSchemePrefixes = []string{"javascript:", "mailto:", "tel:", "data:", "blob:"}

// CMS shortcode junk that leaks into href/src attributes.
var shortcodeRe = regexp.MustCompile(`(?i)\[(?:wpdatatable|wp\s*datatable|tablepress|contact-form-7|vc_[^\]]+)\b`)

// Canonicalizer produces the canonical form of URLs used for dedup and the visited set.
type Canonicalizer struct {
	drop map[string]bool
}

// NewCanonicalizer builds a canonicalizer that also strips extraParams.
func NewCanonicalizer(extraParams []string) *Canonicalizer {
	drop := make(map[string]bool, len(defaultTrackingParams)+len(extraParams))
	for _, p := range defaultTrackingParams {
		drop[p] = true
	}
	for _, p := range extraParams {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			drop[p] = true
		}
	}
	return &Canonicalizer{drop: drop}
}

var defaultCanonicalizer = NewCanonicalizer(nil)

// Canonicalize uses the default tracking parameter set.
func Canonicalize(raw string) (string, error) {
	return defaultCanonicalizer.Canonicalize(raw)
}

// Resolve uses the default tracking parameter set.
func Resolve(base, href string) (string, error) {
	return defaultCanonicalizer.Resolve(base, href)
}

// Canonicalize returns the canonical form of an absolute http(s) URL, or
// utils.ErrMalformedURL when the input is not a crawl target.
func (c *Canonicalizer) Canonicalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if err := rejectRaw(raw); err != nil {
		return "", err
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", utils.ErrMalformedURL, raw, err)
	}
	return c.canonical(u)
}

// Resolve joins href against the page URL base and canonicalizes the result.
func (c *Canonicalizer) Resolve(base, href string) (string, error) {
	href = strings.TrimSpace(href)
	if err := rejectRaw(href); err != nil {
		return "", err
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: base %q: %v", utils.ErrMalformedURL, base, err)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", utils.ErrMalformedURL, href, err)
	}
	return c.canonical(baseURL.ResolveReference(ref))
}

func rejectRaw(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: empty", utils.ErrMalformedURL)
	}
	low := strings.ToLower(raw)
	if strings.HasPrefix(low, "#") {
		return fmt.Errorf("%w: fragment-only %q", utils.ErrMalformedURL, raw)
	}
	for _, p := range badSchemePrefixes {
		if strings.HasPrefix(low, p) {
			return fmt.Errorf("%w: scheme not crawlable %q", utils.ErrMalformedURL, raw)
		}
	}
	if shortcodeRe.MatchString(raw) || strings.Contains(raw, "//[") {
		return fmt.Errorf("%w: shortcode or bracketed host %q", utils.ErrMalformedURL, raw)
	}
	return nil
}

func (c *Canonicalizer) canonical(u *url.URL) (string, error) {
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: scheme %q", utils.ErrMalformedURL, u.Scheme)
	}
	if u.Host == "" || strings.ContainsAny(u.Host, "[]") {
		return "", fmt.Errorf("%w: host %q", utils.ErrMalformedURL, u.Host)
	}

	n := *u
	n.Scheme = scheme
	n.User = nil
	n.Host = stripDefaultPort(scheme, strings.ToLower(n.Host))
	n.Fragment = ""
	n.RawFragment = ""
	n.RawQuery = c.cleanQuery(u.RawQuery)
	n.ForceQuery = false
	trimTrailingSlash(&n)

	return n.String(), nil
}

func stripDefaultPort(scheme, host string) string {
	h, port, err := net.SplitHostPort(host)
	if err != nil {
		return host
	}
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		return h
	}
	return host
}

// trimTrailingSlash keeps "/" for the root and drops it elsewhere.
func trimTrailingSlash(u *url.URL) {
	if u.Path == "" {
		u.Path = "/"
		u.RawPath = ""
		return
	}
	if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimRight(u.Path, "/")
		if u.Path == "" {
			u.Path = "/"
		}
		if u.RawPath != "" {
			u.RawPath = strings.TrimRight(u.RawPath, "/")
		}
	}
}

type queryPair struct{ key, value string }

// cleanQuery drops tracking and empty-valued params and sorts by (lowercase key, value).
func (c *Canonicalizer) cleanQuery(raw string) string {
	if raw == "" {
		return ""
	}
	var pairs []queryPair
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			key = k
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			val = v
		}
		lk := strings.ToLower(key)
		if key == "" || c.drop[lk] || strings.HasPrefix(lk, "utm_") {
			continue
		}
		if strings.TrimSpace(val) == "" {
			continue
		}
		pairs = append(pairs, queryPair{key, val})
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		ki, kj := strings.ToLower(pairs[i].key), strings.ToLower(pairs[j].key)
		if ki != kj {
			return ki < kj
		}
		return pairs[i].value < pairs[j].value
	})

	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.value))
	}
	return b.String()
}

// Hostname returns the lowercase host of rawURL without port, or "".
func Hostname(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// SameSite reports whether the hosts are equal or one is a proper subdomain of the other.
func SameSite(a, b string) bool {
	ha, hb := Hostname(a), Hostname(b)
	if ha == "" || hb == "" {
		return false
	}
	return ha == hb || strings.HasSuffix(ha, "."+hb) || strings.HasSuffix(hb, "."+ha)
}

// SameDomain reports whether a and b are the same site or share a registrable
// domain (pmb.ui.ac.id and www.ui.ac.id).
func SameDomain(a, b string) bool {
	if SameSite(a, b) {
		return true
	}
	ha, hb := Hostname(a), Hostname(b)
	return ha != "" && hb != "" && RegistrableDomain(ha) == RegistrableDomain(hb)
}

// AssetAllowed reports whether an asset URL may be fetched for site: it is
// same-site, or its host equals or is a subdomain of an allow-listed host.
func AssetAllowed(assetURL, site string, allow []string) bool {
	if SameSite(assetURL, site) {
		return true
	}
	h := Hostname(assetURL)
	if h == "" {
		return false
	}
	for _, a := range allow {
		a = strings.ToLower(strings.TrimSpace(a))
		if a != "" && (h == a || strings.HasSuffix(h, "."+a)) {
			return true
		}
	}
	return false
}

// RegistrableDomain returns the eTLD+1 for host (ui.ac.id for www.ui.ac.id).
// Falls back to host when the public suffix list has no answer.
func RegistrableDomain(host string) string {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return d
	}
	return host
}

// PathPrefix returns the canonical path of rawURL with a trailing slash,
// or "" for the root path.
func PathPrefix(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	p := strings.TrimRight(u.Path, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}
