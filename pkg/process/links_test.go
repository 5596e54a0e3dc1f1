package process

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piratf/kampus-crawler/pkg/models"
	"github.com/piratf/kampus-crawler/pkg/score"
)

const linksPage = `<html><body>
<h1>Biaya Kuliah</h1><p>UKT Rp 5.000.000</p>
<nav><a href="/berita/wisuda">Berita Wisuda</a></nav>
<a href="/biaya-kuliah?utm_source=x">Biaya Kuliah UKT</a>
<a href="/biaya-kuliah">Biaya kuliah lagi</a>
<a href="/files/ukt-2025.pdf">Tabel UKT (PDF)</a>
<a href="mailto:pmb@kampus.ac.id">Email</a>
<a href="[wpdatatable id=3]">broken</a>
<iframe src="https://www.youtube.com/embed/abc"></iframe>
<img src="/img/logo-kampus.png" alt="Logo">
<img data-src="/img/tabel-ukt.jpg" alt="Tabel UKT">
<img srcset="/img/a-480.webp 480w, /img/a-1600.webp 1600w, /img/a-3000.webp 3000w" alt="biaya">
<div style="background-image: url('/img/bg-ukt.png')"></div>
<button data-href="/download/rincian-biaya.pdf">Unduh</button>
<button onclick="window.open('/ukt/jadwal')">Jadwal</button>
<button onclick="location.href='/galeri'">Galeri</button>
<script>var f = "https://cdn.example.ac.id/ukt/brosur.pdf";</script>
</body></html>`

func TestExtractLinks(t *testing.T) {
	links := ExtractLinks("https://kampus.ac.id/pmb", []byte(linksPage), score.Default(), LinkOptions{})

	got := make(map[string]Link, len(links))
	var keys []string
	for _, l := range links {
		k := models.CandidateKey(l.Kind, l.URL)
		got[k] = l
		keys = append(keys, k)
	}

	want := []string{
		"page::https://kampus.ac.id/biaya-kuliah",
		"document::https://kampus.ac.id/files/ukt-2025.pdf",
		"page::https://www.youtube.com/embed/abc",
		"image::https://kampus.ac.id/img/tabel-ukt.jpg",
		"image::https://kampus.ac.id/img/a-1600.webp",
		"image::https://kampus.ac.id/img/bg-ukt.png",
		"document::https://kampus.ac.id/download/rincian-biaya.pdf",
		"page::https://kampus.ac.id/ukt/jadwal",
		"document::https://cdn.example.ac.id/ukt/brosur.pdf",
	}
	assert.ElementsMatch(t, want, keys)

	assert.Equal(t, "Biaya Kuliah UKT /biaya-kuliah?utm_source=x", got["page::https://kampus.ac.id/biaya-kuliah"].Hint,
		"first occurrence wins")
	assert.GreaterOrEqual(t, got["document::https://kampus.ac.id/files/ukt-2025.pdf"].Score, 2.0)
}

func TestExtractLinks_ImageBonusFollowsPageTopic(t *testing.T) {
	kw := score.Default()
	plain := `<html><body><p>Selamat datang</p><img src="/img/gedung.jpg" alt="gedung"></body></html>`
	topical := `<html><body><p>Biaya kuliah</p><img src="/img/gedung.jpg" alt="gedung"></body></html>`

	pl := ExtractLinks("https://kampus.ac.id/", []byte(plain), kw, LinkOptions{})
	tl := ExtractLinks("https://kampus.ac.id/", []byte(topical), kw, LinkOptions{})
	require.Len(t, pl, 1)
	require.Len(t, tl, 1)
	assert.InDelta(t, imgPlainBonus, pl[0].Score, 1e-9)
	assert.InDelta(t, imgTopicalBonus, tl[0].Score, 1e-9)
}

func TestPickSrcset(t *testing.T) {
	tests := []struct {
		name   string
		srcset string
		max    int
		want   string
	}{
		{"largest under cap", "a.jpg 480w, b.jpg 1600w, c.jpg 3000w", 2200, "b.jpg"},
		{"all over cap", "c.jpg 3000w, d.jpg 4000w", 2200, "d.jpg"},
		{"density descriptors", "a.jpg 1x, b.jpg 2x", 2200, "a.jpg"},
		{"empty", "", 2200, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PickSrcset(tt.srcset, tt.max); got != tt.want {
				t.Errorf("PickSrcset(%q) = %q, want %q", tt.srcset, got, tt.want)
			}
		})
	}
}

func TestSniffKind(t *testing.T) {
	tests := []struct {
		url  string
		want models.Kind
	}{
		{"https://x.ac.id/a.PDF", models.KindDocument},
		{"https://x.ac.id/a.pdf?dl=1", models.KindDocument},
		{"https://x.ac.id/a.jpeg", models.KindImage},
		{"https://x.ac.id/a.webp#top", models.KindImage},
		{"https://x.ac.id/a.pdfx", models.KindPage},
		{"https://x.ac.id/biaya", models.KindPage},
	}
	for _, tt := range tests {
		if got := SniffKind(tt.url); got != tt.want {
			t.Errorf("SniffKind(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestMenuLinks(t *testing.T) {
	html := `<html><body>
		<header><nav><a href="/pmb">PMB</a><a href="/pmb/">PMB lagi</a></nav></header>
		<div class="menu"><a href="/kontak">Kontak</a></div>
		<main><a href="/other">Other</a></main>
	</body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	links := MenuLinks(doc, "https://kampus.ac.id/", nil)
	require.Len(t, links, 2)
	assert.Equal(t, "https://kampus.ac.id/pmb", links[0].URL)
	assert.Equal(t, "PMB", links[0].Hint)
	assert.Equal(t, "https://kampus.ac.id/kontak", links[1].URL)
}
