package orchestrate

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piratf/kampus-crawler/pkg/models"
	"github.com/piratf/kampus-crawler/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testEntities(names ...string) []models.Entity {
	out := make([]models.Entity, 0, len(names))
	for _, n := range names {
		out = append(out, models.Entity{Name: n, SiteURL: "https://" + n + ".ac.id"})
	}
	return out
}

// funcRunner adapts a function to EntityRunner and tracks peak parallelism.
type funcRunner struct {
	fn      func(ctx context.Context, e models.Entity) models.EntityResult
	running atomic.Int32
	peak    atomic.Int32
}

func (r *funcRunner) Run(ctx context.Context, e models.Entity) models.EntityResult {
	n := r.running.Add(1)
	defer r.running.Add(-1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return r.fn(ctx, e)
}

func okResult(e models.Entity) models.EntityResult {
	id := utils.EntityID(e.Name, e.SiteURL)
	cand := models.CandidateLink{EntityID: id, URL: e.SiteURL + "/ukt", Kind: models.KindPage, SourcePage: e.SiteURL}
	return models.EntityResult{
		EntityID:   id,
		Name:       e.Name,
		SiteURL:    e.SiteURL,
		Success:    true,
		Candidates: []models.CandidateLink{cand},
		Validated: []models.ValidatedLink{
			{CandidateLink: cand, Verdict: models.VerdictValid},
			{CandidateLink: models.CandidateLink{EntityID: id, URL: e.SiteURL + "/x.jpg", Kind: models.KindImage}, Verdict: models.VerdictInvalid},
		},
		Extracted:    []models.ExtractedItem{{Name: e.Name + " - S1", Slug: "s1", EntityID: id, SourceURL: cand.URL}},
		PagesFetched: 3,
	}
}

func TestOrchestrator_IsolatesFailures(t *testing.T) {
	r := &funcRunner{fn: func(_ context.Context, e models.Entity) models.EntityResult {
		switch e.Name {
		case "boom":
			panic("runner exploded")
		case "bad":
			return models.EntityResult{Name: e.Name, SiteURL: e.SiteURL, Error: "entity pipeline failed: crawl"}
		}
		return okResult(e)
	}}
	o := NewOrchestrator(r, 2, false, testLogger())

	out := o.Run(context.Background(), testEntities("a", "boom", "bad", "b"))
	require.Len(t, out.Results, 4)
	assert.NotEmpty(t, out.RunID)

	assert.True(t, out.Results[0].Success)
	assert.False(t, out.Results[1].Success)
	assert.Contains(t, out.Results[1].Error, "panic")
	assert.Equal(t, "boom", out.Results[1].Name, "results keep input order")
	assert.False(t, out.Results[2].Success)
	assert.True(t, out.Results[3].Success)

	assert.Equal(t, Progress{Total: 4, Started: 4, Finished: 4}, o.GetProgress())
}

func TestOrchestrator_RespectsConcurrency(t *testing.T) {
	r := &funcRunner{fn: func(_ context.Context, e models.Entity) models.EntityResult {
		time.Sleep(20 * time.Millisecond)
		return okResult(e)
	}}
	o := NewOrchestrator(r, 2, false, testLogger())

	out := o.Run(context.Background(), testEntities("a", "b", "c", "d", "e"))
	for _, res := range out.Results {
		assert.True(t, res.Success)
	}
	assert.LessOrEqual(t, r.peak.Load(), int32(2))
	assert.GreaterOrEqual(t, r.peak.Load(), int32(1))
}

func TestOrchestrator_CancelledBeforeStart(t *testing.T) {
	var calls sync.Map
	r := &funcRunner{fn: func(_ context.Context, e models.Entity) models.EntityResult {
		calls.Store(e.Name, true)
		return okResult(e)
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := NewOrchestrator(r, 1, false, testLogger()).Run(ctx, testEntities("a", "b"))
	require.Len(t, out.Results, 2)
	for _, res := range out.Results {
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "not started")
		assert.NotEmpty(t, res.EntityID)
	}
	_, ran := calls.Load("a")
	assert.False(t, ran)
}

func TestOrchestrator_StopStartsNothingNew(t *testing.T) {
	stop := make(chan struct{})
	var calls atomic.Int32
	r := &funcRunner{fn: func(_ context.Context, e models.Entity) models.EntityResult {
		calls.Add(1)
		if e.Name == "a" {
			close(stop)
			time.Sleep(10 * time.Millisecond)
		}
		return okResult(e)
	}}
	o := NewOrchestrator(r, 1, false, testLogger())
	o.SetStop(stop)

	out := o.Run(context.Background(), testEntities("a", "b", "c"))
	require.Len(t, out.Results, 3)
	assert.True(t, out.Results[0].Success, "the entity in flight finishes")
	for _, res := range out.Results[1:] {
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "not started")
		assert.Contains(t, res.Error, utils.ErrRunStopped.Error())
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestOrchestrator_LogsProgress(t *testing.T) {
	logger, hook := test.NewNullLogger()
	r := &funcRunner{fn: func(_ context.Context, e models.Entity) models.EntityResult {
		time.Sleep(60 * time.Millisecond)
		return okResult(e)
	}}
	o := NewOrchestrator(r, 1, false, logrus.NewEntry(logger))
	o.progressEvery = 10 * time.Millisecond

	o.Run(context.Background(), testEntities("a", "b"))
	var seen bool
	for _, entry := range hook.AllEntries() {
		if entry.Message == "Run progress" {
			seen = true
			assert.Equal(t, 2, entry.Data["total"])
			assert.Equal(t, "orchestrator", entry.Data["component"])
		}
	}
	assert.True(t, seen, "progress is logged while entities run")
}

func TestWriteOutputs(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	out := RunOutput{
		RunID:      "run-1",
		StartedAt:  start,
		FinishedAt: start.Add(90 * time.Second),
		Results: []models.EntityResult{
			okResult(testEntities("a")[0]),
			{Name: "bad", SiteURL: "https://bad.ac.id", Error: "boom"},
			{Name: "done", SiteURL: "https://done.ac.id", Success: true, Skipped: true},
		},
	}
	require.NoError(t, WriteOutputs(dir, out))

	var candidates []models.CandidateLink
	readJSON(t, filepath.Join(dir, CandidatesFile), &candidates)
	assert.Len(t, candidates, 1)

	var validated, valid []models.ValidatedLink
	readJSON(t, filepath.Join(dir, ValidatedFile), &validated)
	readJSON(t, filepath.Join(dir, ValidOnlyFile), &valid)
	assert.Len(t, validated, 2)
	require.Len(t, valid, 1)
	assert.Equal(t, models.VerdictValid, valid[0].Verdict)

	var items []models.ExtractedItem
	readJSON(t, filepath.Join(dir, ExtractedFile), &items)
	assert.Len(t, items, 1)

	var s Summary
	readJSON(t, filepath.Join(dir, SummaryFile), &s)
	assert.Equal(t, "run-1", s.RunID)
	assert.InDelta(t, 90.0, s.DurationSeconds, 0.001)
	assert.Equal(t, Totals{
		Entities: 3, Succeeded: 1, Skipped: 1, Failed: 1,
		Candidates: 1, Validated: 2, Valid: 1, Extracted: 1, Fetches: 3,
	}, s.Totals)
	require.Len(t, s.Entities, 3)
	assert.Equal(t, "boom", s.Entities[1].Error)
}

func TestWriteOutputs_ValidateOnlySkipsItems(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteOutputs(dir, RunOutput{RunID: "r", ValidateOnly: true}))

	_, err := os.Stat(filepath.Join(dir, ExtractedFile))
	assert.True(t, os.IsNotExist(err))

	var validated []models.ValidatedLink
	readJSON(t, filepath.Join(dir, ValidatedFile), &validated)
	assert.NotNil(t, validated, "empty runs write [] rather than null")
	assert.Empty(t, validated)
}

func readJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestSelectEntities(t *testing.T) {
	all := []models.Entity{
		{Name: "Universitas A", SiteURL: "https://a.ac.id", ID: "101"},
		{Name: "Universitas B", SiteURL: "https://b.ac.id"},
		{Name: "Universitas C", SiteURL: "https://c.ac.id"},
	}

	t.Run("empty keys select all", func(t *testing.T) {
		got, err := SelectEntities(all, nil)
		require.NoError(t, err)
		assert.Equal(t, all, got)
	})

	t.Run("by name id and external id in list order", func(t *testing.T) {
		got, err := SelectEntities(all, []string{
			utils.EntityID("Universitas C", "https://c.ac.id"),
			"universitas b",
			"101",
		})
		require.NoError(t, err)
		assert.Equal(t, all, got)
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := SelectEntities(all, []string{"Universitas A", "missing"})
		require.Error(t, err)
		assert.ErrorIs(t, err, utils.ErrConfigValidation)
		assert.Contains(t, err.Error(), "missing")
	})
}

func TestEntityNames(t *testing.T) {
	assert.Equal(t, []string{"alpha", "beta"}, EntityNames(testEntities("beta", "alpha")))
	assert.Empty(t, EntityNames(nil))
}
