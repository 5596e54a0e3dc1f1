package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piratf/kampus-crawler/pkg/config"
	"github.com/piratf/kampus-crawler/pkg/extract"
	"github.com/piratf/kampus-crawler/pkg/fetch"
	"github.com/piratf/kampus-crawler/pkg/models"
	"github.com/piratf/kampus-crawler/pkg/score"
	"github.com/piratf/kampus-crawler/pkg/storage"
	"github.com/piratf/kampus-crawler/pkg/utils"
	"github.com/piratf/kampus-crawler/pkg/validate"
)

const site = "https://www.kampus.ac.id"

var entity = models.Entity{Name: "Kampus", SiteURL: site}

// testLogger returns a logger that discards output
func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

const feeTable = `<h2>Biaya Kuliah Tahun 2025</h2>
<p>Uang Kuliah Tunggal (UKT) per program studi sarjana.</p>
<table>
<tr><th>Program Studi</th><th>Jenjang</th><th>UKT</th></tr>
<tr><td>Teknik Informatika</td><td>S1</td><td>Rp 5.000.000</td></tr>
<tr><td>Kedokteran</td><td>S1</td><td>Rp 12.500.000</td></tr>
</table>`

func html(body string) string {
	return "<html><head><title>Kampus</title></head><body>" + body + "</body></html>"
}

type fakePage struct {
	body  string
	ctype string
}

// fakeSite serves pages from memory. onFetch, when set, runs before each fetch.
type fakeSite struct {
	mu      sync.Mutex
	pages   map[string]fakePage
	fetches map[string]int
	onFetch func(u string)
}

func newFakeSite(pages map[string]fakePage) *fakeSite {
	return &fakeSite{pages: pages, fetches: make(map[string]int)}
}

func (s *fakeSite) Fetch(_ context.Context, u string) (*fetch.Result, error) {
	if s.onFetch != nil {
		s.onFetch(u)
	}
	s.mu.Lock()
	s.fetches[u]++
	p, ok := s.pages[u]
	s.mu.Unlock()
	if !ok {
		return &fetch.Result{URL: u, FinalURL: u, Status: 404},
			fmt.Errorf("%w: status 404 for %s", utils.ErrClientHTTPError, u)
	}
	ct := p.ctype
	if ct == "" {
		ct = "text/html; charset=utf-8"
	}
	return &fetch.Result{
		URL: u, FinalURL: u, OK: true, Status: 200,
		ContentType: ct, Content: []byte(p.body), Mode: models.FetchModeHTTP,
	}, nil
}

func (s *fakeSite) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.fetches {
		n += c
	}
	return n
}

// scriptedOracle tells validation prompts from extraction prompts by their
// prefix. Content mentioning "Teknik Informatika" or "UKT" is valid.
// Bytes equal to "PANIC" make it panic.
type scriptedOracle struct {
	mu        sync.Mutex
	validates int
	extracts  int
}

const itemsAnswer = `{"items":[{"name":"S1 Teknik Informatika","price":"Rp 5.000.000"}]}`

func (o *scriptedOracle) answer(prompt string, content []byte) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if strings.HasPrefix(prompt, "EXTRACT") {
		o.extracts++
		return itemsAnswer
	}
	o.validates++
	if bytes.Contains(content, []byte("Teknik Informatika")) || bytes.Contains(content, []byte("UKT")) {
		return `{"is_valid": true, "evidence_snippet": "Teknik Informatika Rp 5.000.000"}`
	}
	return `{"is_valid": false, "reason": "no fee table"}`
}

func (o *scriptedOracle) GenerateText(_ context.Context, prompt string) (string, error) {
	return o.answer(prompt, []byte(prompt)), nil
}

func (o *scriptedOracle) GenerateWithBytes(_ context.Context, prompt string, data []byte, _ string) (string, error) {
	if string(data) == "PANIC" {
		panic("oracle exploded")
	}
	return o.answer(prompt, data), nil
}

func (o *scriptedOracle) counts() (validates, extracts int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.validates, o.extracts
}

type harness struct {
	cfg    *config.AppConfig
	site   *fakeSite
	oracle *scriptedOracle
	store  storage.CheckpointStore
}

func newHarness(t *testing.T, pages map[string]fakePage) *harness {
	t.Helper()
	cfg := &config.AppConfig{
		Oracle: config.OracleConfig{
			BaseURL:        "http://oracle.test",
			Models:         []string{"m"},
			APIKey:         "k",
			ValidatePrompt: "VALIDATE {{today}}",
			ExtractPrompt:  "EXTRACT {{today}}",
		},
		Crawl: config.CrawlConfig{SubdomainGuesses: []string{}},
	}
	_, err := cfg.Validate()
	require.NoError(t, err)

	store, err := storage.NewFileStore(t.TempDir(), testLogger())
	require.NoError(t, err)
	return &harness{cfg: cfg, site: newFakeSite(pages), oracle: &scriptedOracle{}, store: store}
}

func (h *harness) pipeline(opts Options) *Pipeline {
	kw := score.Default()
	gate := validate.NewGate(h.oracle, kw, h.cfg.Oracle, testLogger())
	x := extract.NewExtractor(h.oracle, kw, h.cfg.Oracle, h.cfg.Narrow, testLogger())
	return New(h.cfg, h.site, kw, gate, x, h.store, opts, testLogger())
}

// seedCrawled stores a checkpoint that has finished crawling with cands.
func (h *harness) seedCrawled(t *testing.T, cands ...models.CandidateLink) string {
	t.Helper()
	id := utils.EntityID(entity.Name, entity.SiteURL)
	cp := models.NewCheckpoint(id, entity, time.Now())
	for i := range cands {
		cands[i].EntityID = id
	}
	cp.Candidates = cands
	cp.Advance(models.StatusCrawled)
	require.NoError(t, h.store.Save(context.Background(), cp))
	return id
}

func (h *harness) load(t *testing.T, id string) *models.EntityCheckpoint {
	t.Helper()
	cp, err := h.store.Load(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, cp)
	return cp
}

func findVerdict(vs []models.ValidatedLink, u string) (models.ValidatedLink, bool) {
	for _, v := range vs {
		if v.URL == u {
			return v, true
		}
	}
	return models.ValidatedLink{}, false
}

func admissionsPages() map[string]fakePage {
	return map[string]fakePage{
		site + "/": {body: html(`<nav><a href="/pmb">Penerimaan Mahasiswa Baru</a><a href="/tentang">Tentang</a></nav>`)},
		site + "/pmb": {body: html(`<h1>PMB</h1>
			<a href="/pmb/biaya-kuliah">Biaya Kuliah dan UKT</a>`)},
		site + "/pmb/biaya-kuliah": {body: html(feeTable)},
	}
}

func TestPipeline_FullRunThenResumeIsIdempotent(t *testing.T) {
	h := newHarness(t, admissionsPages())
	p := h.pipeline(Options{})

	first := p.Run(context.Background(), entity)
	require.True(t, first.Success, first.Error)
	assert.False(t, first.Skipped)
	assert.Positive(t, first.PagesFetched)

	v, ok := findVerdict(first.Validated, site+"/pmb/biaya-kuliah")
	require.True(t, ok, "fee page must be validated")
	assert.Equal(t, models.VerdictValid, v.Verdict)
	assert.Equal(t, models.FetchModeHTTP, v.FetchMode)

	require.NotEmpty(t, first.Extracted)
	assert.Equal(t, "Kampus - S1 Teknik Informatika", first.Extracted[0].Name)
	assert.Equal(t, site+"/pmb/biaya-kuliah", first.Extracted[0].SourceURL)
	assert.Equal(t, models.StatusDone, h.load(t, first.EntityID).Status)

	fetchesBefore := h.site.total()
	validatesBefore, extractsBefore := h.oracle.counts()

	second := p.Run(context.Background(), entity)
	require.True(t, second.Success, second.Error)
	assert.True(t, second.Skipped)
	assert.Zero(t, second.PagesFetched)
	assert.Equal(t, fetchesBefore, h.site.total(), "a done entity must not fetch")
	validatesAfter, extractsAfter := h.oracle.counts()
	assert.Equal(t, validatesBefore, validatesAfter)
	assert.Equal(t, extractsBefore, extractsAfter)

	assert.Equal(t, first.Candidates, second.Candidates)
	assert.Equal(t, first.Validated, second.Validated)
	// Field values come back from JSON with different numeric types.
	want, err := json.Marshal(first.Extracted)
	require.NoError(t, err)
	got, err := json.Marshal(second.Extracted)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))
}

func TestPipeline_FallbackAssetsOfInvalidPage(t *testing.T) {
	page := site + "/pmb/info"
	h := newHarness(t, map[string]fakePage{
		page: {body: html(`<h1>Informasi Pendaftaran</h1>
			<p>Jadwal dan persyaratan pendaftaran.</p>
			<a href="/pmb/ukt-2025.pdf">Brosur UKT 2025</a>
			<img src="/images/logo.png" alt="logo">`)},
		site + "/pmb/ukt-2025.pdf": {body: "UKT Teknik Informatika", ctype: "application/pdf"},
	})
	id := h.seedCrawled(t, models.CandidateLink{URL: page, Kind: models.KindPage, SourcePage: site + "/pmb", Score: 6})

	res := h.pipeline(Options{}).Run(context.Background(), entity)
	require.True(t, res.Success, res.Error)

	v, ok := findVerdict(res.Validated, page)
	require.True(t, ok)
	assert.Equal(t, models.VerdictInvalid, v.Verdict)
	assert.Empty(t, v.ParentURL)

	asset, ok := findVerdict(res.Validated, site+"/pmb/ukt-2025.pdf")
	require.True(t, ok, "embedded document of an invalid page must be validated")
	assert.Equal(t, models.KindDocument, asset.Kind)
	assert.Equal(t, models.VerdictValid, asset.Verdict)
	assert.Equal(t, page, asset.ParentURL)
	assert.Equal(t, page, asset.SourcePage)

	_, ok = findVerdict(res.Validated, site+"/images/logo.png")
	assert.False(t, ok, "logos are never validated")

	require.NotEmpty(t, res.Extracted)
	assert.Equal(t, site+"/pmb/ukt-2025.pdf", res.Extracted[0].SourceURL)
	assert.Equal(t, page, res.Extracted[0].SourcePage)
	assert.Equal(t, models.StatusDone, h.load(t, id).Status)
}

func TestPipeline_PanicBecomesUncertain(t *testing.T) {
	h := newHarness(t, map[string]fakePage{
		site + "/a.jpg": {body: "PANIC", ctype: "image/jpeg"},
		site + "/b.jpg": {body: "UKT", ctype: "image/jpeg"},
	})
	id := h.seedCrawled(t,
		models.CandidateLink{URL: site + "/a.jpg", Kind: models.KindImage, SourcePage: site},
		models.CandidateLink{URL: site + "/b.jpg", Kind: models.KindImage, SourcePage: site},
	)

	res := h.pipeline(Options{}).Run(context.Background(), entity)
	require.True(t, res.Success, "a panicking candidate must not fail the entity: %s", res.Error)

	a, ok := findVerdict(res.Validated, site+"/a.jpg")
	require.True(t, ok)
	assert.Equal(t, models.VerdictUncertain, a.Verdict)
	assert.Equal(t, "Panic", a.ErrorType)

	b, ok := findVerdict(res.Validated, site+"/b.jpg")
	require.True(t, ok, "candidates after the panic are still validated")
	assert.Equal(t, models.VerdictValid, b.Verdict)

	cp := h.load(t, id)
	require.NotEmpty(t, cp.Errors)
	assert.Equal(t, "validate", cp.Errors[0].Stage)
	assert.Equal(t, "Panic", cp.Errors[0].ErrorType)
}

func TestPipeline_FetchFailureIsInvalid(t *testing.T) {
	h := newHarness(t, map[string]fakePage{})
	h.seedCrawled(t,
		models.CandidateLink{URL: site + "/gone.pdf", Kind: models.KindDocument, SourcePage: site},
		models.CandidateLink{URL: site + "/biaya-kuliah", Kind: models.KindPage, SourcePage: site},
	)

	res := h.pipeline(Options{}).Run(context.Background(), entity)
	require.True(t, res.Success, res.Error)
	require.Len(t, res.Validated, 2)
	for _, v := range res.Validated {
		assert.Equal(t, models.VerdictInvalid, v.Verdict, v.URL)
		assert.Equal(t, "HTTP_404", v.ErrorType, v.URL)
		assert.Contains(t, v.Reason, "fetch failed")
	}
	assert.Empty(t, res.Extracted)
	validates, extracts := h.oracle.counts()
	assert.Zero(t, validates)
	assert.Zero(t, extracts)
}

func TestPipeline_ValidateOnlyThenResumeExtracts(t *testing.T) {
	h := newHarness(t, map[string]fakePage{
		site + "/ukt.jpg": {body: "UKT", ctype: "image/jpeg"},
	})
	id := h.seedCrawled(t, models.CandidateLink{URL: site + "/ukt.jpg", Kind: models.KindImage, SourcePage: site})

	res := h.pipeline(Options{ValidateOnly: true}).Run(context.Background(), entity)
	require.True(t, res.Success, res.Error)
	require.Len(t, res.Validated, 1)
	assert.Empty(t, res.Extracted)
	assert.Equal(t, models.StatusValidated, h.load(t, id).Status)
	validates, extracts := h.oracle.counts()
	assert.Equal(t, 1, validates)
	assert.Zero(t, extracts)

	res = h.pipeline(Options{}).Run(context.Background(), entity)
	require.True(t, res.Success, res.Error)
	assert.Len(t, res.Extracted, 1)
	assert.Equal(t, models.StatusDone, h.load(t, id).Status)
	validates, extracts = h.oracle.counts()
	assert.Equal(t, 1, validates, "validated candidates are not re-judged")
	assert.Equal(t, 1, extracts)
}

func TestPipeline_ValidateOnlyFromConfig(t *testing.T) {
	h := newHarness(t, nil)
	h.cfg.ValidateOnly = true
	assert.True(t, h.pipeline(Options{}).ValidateOnly())
}

func TestPipeline_InterruptedRunResumesRemaining(t *testing.T) {
	h := newHarness(t, map[string]fakePage{
		site + "/1.jpg": {body: "UKT 1", ctype: "image/jpeg"},
		site + "/2.jpg": {body: "UKT 2", ctype: "image/jpeg"},
		site + "/3.jpg": {body: "UKT 3", ctype: "image/jpeg"},
	})
	id := h.seedCrawled(t,
		models.CandidateLink{URL: site + "/1.jpg", Kind: models.KindImage, SourcePage: site},
		models.CandidateLink{URL: site + "/2.jpg", Kind: models.KindImage, SourcePage: site},
		models.CandidateLink{URL: site + "/3.jpg", Kind: models.KindImage, SourcePage: site},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.site.onFetch = func(u string) {
		if u == site+"/2.jpg" {
			cancel()
		}
	}
	res := h.pipeline(Options{}).Run(ctx, entity)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "interrupted during validate")

	cp := h.load(t, id)
	assert.Equal(t, models.StatusCrawled, cp.Status)
	assert.Len(t, cp.Validated, 2, "verdicts recorded before the interrupt are flushed")

	h.site.onFetch = nil
	res = h.pipeline(Options{}).Run(context.Background(), entity)
	require.True(t, res.Success, res.Error)
	assert.Len(t, res.Validated, 3)
	validates, _ := h.oracle.counts()
	assert.Equal(t, 3, validates, "each candidate is judged exactly once across runs")
	assert.Equal(t, models.StatusDone, h.load(t, id).Status)
}

func TestPipeline_DrainFinishesCandidateInFlight(t *testing.T) {
	h := newHarness(t, map[string]fakePage{
		site + "/1.jpg": {body: "UKT 1", ctype: "image/jpeg"},
		site + "/2.jpg": {body: "UKT 2", ctype: "image/jpeg"},
		site + "/3.jpg": {body: "UKT 3", ctype: "image/jpeg"},
	})
	id := h.seedCrawled(t,
		models.CandidateLink{URL: site + "/1.jpg", Kind: models.KindImage, SourcePage: site},
		models.CandidateLink{URL: site + "/2.jpg", Kind: models.KindImage, SourcePage: site},
		models.CandidateLink{URL: site + "/3.jpg", Kind: models.KindImage, SourcePage: site},
	)

	stop := make(chan struct{})
	h.site.onFetch = func(u string) {
		if u == site+"/2.jpg" {
			close(stop)
		}
	}
	res := h.pipeline(Options{Stop: stop}).Run(context.Background(), entity)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "interrupted during validate")
	assert.Contains(t, res.Error, utils.ErrRunStopped.Error())

	cp := h.load(t, id)
	assert.Equal(t, models.StatusCrawled, cp.Status)
	require.Len(t, cp.Validated, 2, "the candidate in flight finishes")
	v, ok := findVerdict(cp.Validated, site+"/2.jpg")
	require.True(t, ok)
	assert.Equal(t, models.VerdictValid, v.Verdict)
	assert.Zero(t, h.site.fetches[site+"/3.jpg"], "nothing new starts after the stop")

	h.site.onFetch = nil
	res = h.pipeline(Options{}).Run(context.Background(), entity)
	require.True(t, res.Success, res.Error)
	assert.Len(t, res.Validated, 3)
}

func TestPipeline_CrawlFlushesCandidatesAndResumes(t *testing.T) {
	h := newHarness(t, admissionsPages())
	h.cfg.Checkpoint.Every = 1
	id := utils.EntityID(entity.Name, entity.SiteURL)

	stop := make(chan struct{})
	var flushed []models.CandidateLink
	h.site.onFetch = func(u string) {
		if u != site+"/pmb/biaya-kuliah" {
			return
		}
		cp, err := h.store.Load(context.Background(), id)
		if err == nil && cp != nil {
			flushed = cp.Candidates
		}
		close(stop)
	}
	res := h.pipeline(Options{Stop: stop}).Run(context.Background(), entity)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "interrupted during crawl")
	require.NotEmpty(t, flushed, "candidates are flushed while the crawl is still running")

	cp := h.load(t, id)
	assert.Equal(t, models.StatusStarted, cp.Status)
	seen := map[string]bool{}
	for _, c := range cp.Candidates {
		assert.False(t, seen[c.Key()], "interrupted crawl stores deduplicated candidates")
		seen[c.Key()] = true
	}
	assert.True(t, seen[models.CandidateLink{URL: site + "/pmb/biaya-kuliah", Kind: models.KindPage}.Key()])

	h.site.onFetch = nil
	res = h.pipeline(Options{}).Run(context.Background(), entity)
	require.True(t, res.Success, res.Error)
	v, ok := findVerdict(res.Validated, site+"/pmb/biaya-kuliah")
	require.True(t, ok)
	assert.Equal(t, models.VerdictValid, v.Verdict)
	assert.Equal(t, models.StatusDone, h.load(t, id).Status)
}

func TestPipeline_ProgressWhileRunning(t *testing.T) {
	h := newHarness(t, admissionsPages())
	p := h.pipeline(Options{})
	id := utils.EntityID(entity.Name, entity.SiteURL)

	var during EntityProgress
	var active bool
	h.site.onFetch = func(u string) {
		if u == site+"/pmb/biaya-kuliah" && !active {
			during, active = p.Progress(id)
		}
	}
	res := p.Run(context.Background(), entity)
	require.True(t, res.Success, res.Error)

	require.True(t, active, "progress is available while the entity runs")
	assert.Equal(t, "crawl", during.Stage)
	require.NotNil(t, during.Crawl)
	assert.Equal(t, "crawling", during.Crawl.State)
	assert.Positive(t, during.Crawl.PagesFetched)

	_, ok := p.Progress(id)
	assert.False(t, ok, "finished entities are not reported")
}

func TestPipeline_ForceRestartsDoneEntity(t *testing.T) {
	h := newHarness(t, admissionsPages())
	first := h.pipeline(Options{}).Run(context.Background(), entity)
	require.True(t, first.Success, first.Error)
	before := h.site.total()

	for _, opts := range []Options{{Force: true}, {NoResume: true}} {
		res := h.pipeline(opts).Run(context.Background(), entity)
		require.True(t, res.Success, res.Error)
		assert.False(t, res.Skipped, "%+v must not skip", opts)
		assert.Positive(t, res.PagesFetched)
		assert.Greater(t, h.site.total(), before)
		assert.Equal(t, first.Validated, res.Validated)
		before = h.site.total()
	}
}

func TestPipeline_BadSiteURLFails(t *testing.T) {
	h := newHarness(t, nil)
	res := h.pipeline(Options{}).Run(context.Background(), models.Entity{Name: "Broken", SiteURL: "::not a url"})
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
	assert.Positive(t, res.Duration)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		kind models.Kind
		res  fetch.Result
		want contentClass
	}{
		{"html page", models.KindPage, fetch.Result{ContentType: "text/html"}, classHTML},
		{"pdf served for page", models.KindPage, fetch.Result{ContentType: "application/pdf"}, classPDF},
		{"image", models.KindImage, fetch.Result{ContentType: "image/png"}, classImage},
		{"octet stream pdf by url", models.KindPage, fetch.Result{ContentType: "application/octet-stream", FinalURL: site + "/a.pdf"}, classPDF},
		{"fallback to kind", models.KindImage, fetch.Result{ContentType: "application/octet-stream", FinalURL: site + "/get?id=1"}, classImage},
		{"unsupported", models.KindPage, fetch.Result{ContentType: "application/zip", FinalURL: site + "/x"}, classUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.kind, &tt.res); got != tt.want {
				t.Errorf("classify() = %v, want %v", got, tt.want)
			}
		})
	}
}
