// Package pipeline runs one entity end to end: crawl, validate, extract,
// with checkpointed progress so an interrupted run resumes where it stopped.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/piratf/kampus-crawler/pkg/config"
	"github.com/piratf/kampus-crawler/pkg/crawler"
	"github.com/piratf/kampus-crawler/pkg/extract"
	"github.com/piratf/kampus-crawler/pkg/fetch"
	"github.com/piratf/kampus-crawler/pkg/metrics"
	"github.com/piratf/kampus-crawler/pkg/models"
	"github.com/piratf/kampus-crawler/pkg/parse"
	"github.com/piratf/kampus-crawler/pkg/process"
	"github.com/piratf/kampus-crawler/pkg/score"
	"github.com/piratf/kampus-crawler/pkg/storage"
	"github.com/piratf/kampus-crawler/pkg/utils"
	"github.com/piratf/kampus-crawler/pkg/validate"
)

// Options are the per-run switches from the command line.
type Options struct {
	Force        bool // Start every entity from a fresh checkpoint, done ones included
	NoResume     bool // Never read stored checkpoints; overwrite them
	ValidateOnly bool // Stop after validation

	// Stop, when closed, drains the run: work in flight finishes and is
	// checkpointed, nothing new starts.
	Stop <-chan struct{}
}

// EntityProgress is a snapshot of an entity that is being processed.
type EntityProgress struct {
	Stage      string                   `json:"stage"`
	Crawl      *crawler.CrawlerProgress `json:"crawl,omitempty"`
	Candidates int                      `json:"candidates"`
	Validated  int                      `json:"validated"`
	Extracted  int                      `json:"extracted"`
}

// Pipeline holds the components shared by every entity of a run.
// Run is safe to call concurrently for different entities.
type Pipeline struct {
	cfg       *config.AppConfig
	fetcher   fetch.Fetcher
	kw        *score.Keywords
	gate      *validate.Gate
	extractor *extract.Extractor
	store     storage.CheckpointStore
	opts      Options
	linkOpts  process.LinkOptions
	log       *logrus.Entry
	now       func() time.Time

	active sync.Map // Entity ID -> *entityRun
}

// New creates a pipeline. cfg must already be validated.
func New(
	cfg *config.AppConfig,
	fetcher fetch.Fetcher,
	kw *score.Keywords,
	gate *validate.Gate,
	extractor *extract.Extractor,
	store storage.CheckpointStore,
	opts Options,
	log *logrus.Entry,
) *Pipeline {
	if cfg.ValidateOnly {
		opts.ValidateOnly = true
	}
	return &Pipeline{
		cfg:       cfg,
		fetcher:   fetcher,
		kw:        kw,
		gate:      gate,
		extractor: extractor,
		store:     store,
		opts:      opts,
		linkOpts: process.LinkOptions{
			Canonicalizer:  parse.NewCanonicalizer(cfg.Keywords.ExtraTrackingParams),
			SrcsetMaxWidth: cfg.Crawl.SrcsetMaxWidth,
		},
		log: log.WithField("component", "pipeline"),
		now: time.Now,
	}
}

// ValidateOnly reports whether extraction is skipped.
func (p *Pipeline) ValidateOnly() bool {
	return p.opts.ValidateOnly
}

// Progress returns a snapshot of the entity with the given ID while Run is
// processing it. Safe to call from another goroutine.
func (p *Pipeline) Progress(entityID string) (EntityProgress, bool) {
	v, ok := p.active.Load(entityID)
	if !ok {
		return EntityProgress{}, false
	}
	return v.(*entityRun).progress(), true
}

// Run processes one entity and never panics. Failures are reported in the result.
func (p *Pipeline) Run(ctx context.Context, e models.Entity) (res models.EntityResult) {
	start := time.Now()
	id := utils.EntityID(e.Name, e.SiteURL)
	res = models.EntityResult{EntityID: id, Name: e.Name, SiteURL: e.SiteURL}
	entLog := p.log.WithFields(logrus.Fields{"entity": e.Name, "entity_id": id})

	defer func() {
		if rec := recover(); rec != nil {
			entLog.Errorf("Recovered panic in entity pipeline: %v", rec)
			res.Success = false
			res.Error = fmt.Sprintf("%v: panic: %v", utils.ErrEntityFault, rec)
		}
		res.Duration = time.Since(start)
		outcome := "failed"
		switch {
		case res.Skipped:
			outcome = "skipped"
		case res.Success:
			outcome = "success"
		}
		metrics.Entities.WithLabelValues(outcome).Inc()
		metrics.EntityDuration.Observe(res.Duration.Seconds())
	}()

	if p.cfg.EntityTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.EntityTimeout)
		defer cancel()
	}

	r := &entityRun{
		p:        p,
		entity:   e,
		id:       id,
		log:      entLog,
		contents: make(map[string]*fetch.Result),
	}
	r.setStage("loading")
	p.active.Store(id, r)
	defer p.active.Delete(id)

	if err := r.execute(ctx); err != nil {
		entLog.WithField("error_type", utils.CategorizeError(err)).Errorf("Entity failed: %v", err)
		res.Error = err.Error()
	} else {
		res.Success = true
	}
	res.Skipped = r.skipped
	res.PagesFetched = r.fetched
	if r.cp != nil {
		res.Candidates = r.cp.Candidates
		res.Validated = r.cp.Validated
		res.Extracted = r.cp.Extracted
	}
	return res
}

// entityRun is the mutable state of one entity's pass through the pipeline.
type entityRun struct {
	p      *Pipeline
	entity models.Entity
	id     string
	log    *logrus.Entry

	cp         *models.EntityCheckpoint
	skipped    bool
	fetched    int
	sinceFlush int
	contents   map[string]*fetch.Result // Bodies of valid sources, reused by extraction

	// Read by Progress from other goroutines.
	stage      atomic.Value // string
	crawler    atomic.Pointer[crawler.Crawler]
	candidates atomic.Int64
	validated  atomic.Int64
	extracted  atomic.Int64
}

func (r *entityRun) setStage(stage string) {
	r.stage.Store(stage)
}

func (r *entityRun) progress() EntityProgress {
	out := EntityProgress{
		Stage:      r.stage.Load().(string),
		Candidates: int(r.candidates.Load()),
		Validated:  int(r.validated.Load()),
		Extracted:  int(r.extracted.Load()),
	}
	if c := r.crawler.Load(); c != nil {
		cp := c.GetProgress()
		out.Crawl = &cp
	}
	return out
}

// publish copies the checkpoint counts for Progress.
func (r *entityRun) publish() {
	if r.cp == nil {
		return
	}
	r.candidates.Store(int64(len(r.cp.Candidates)))
	r.validated.Store(int64(len(r.cp.Validated)))
	r.extracted.Store(int64(len(r.cp.Extracted)))
}

// halted returns why no new work may start, or nil.
func (r *entityRun) halted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-r.p.opts.Stop:
		return utils.ErrRunStopped
	default:
		return nil
	}
}

func (r *entityRun) execute(ctx context.Context) error {
	if err := r.loadCheckpoint(ctx); err != nil {
		return err
	}
	if r.skipped {
		r.log.WithFields(logrus.Fields{
			"candidates": len(r.cp.Candidates),
			"validated":  len(r.cp.Validated),
			"extracted":  len(r.cp.Extracted),
		}).Info("Checkpoint done, skipping entity")
		return nil
	}

	r.publish()
	if !r.cp.Status.AtLeast(models.StatusCrawled) {
		r.setStage("crawl")
		if err := r.crawl(ctx); err != nil {
			return err
		}
	} else {
		r.log.Infof("Resuming with %d stored candidates (status %s)", len(r.cp.Candidates), r.cp.Status)
	}

	if !r.cp.Status.AtLeast(models.StatusValidated) {
		r.setStage("validate")
		if err := r.validateAll(ctx); err != nil {
			return err
		}
	}

	if r.p.opts.ValidateOnly {
		r.log.Info("Validate-only mode, skipping extraction")
		return r.save(ctx)
	}
	if !r.cp.Status.AtLeast(models.StatusDone) {
		r.setStage("extract")
		if err := r.extractAll(ctx); err != nil {
			return err
		}
	}
	r.log.WithFields(logrus.Fields{
		"candidates": len(r.cp.Candidates),
		"validated":  len(r.cp.Validated),
		"extracted":  len(r.cp.Extracted),
		"fetches":    r.fetched,
	}).Info("Entity done")
	return nil
}

// loadCheckpoint applies the resume policy and leaves r.cp ready to use.
func (r *entityRun) loadCheckpoint(ctx context.Context) error {
	store := r.p.store
	if r.p.opts.Force || r.p.opts.NoResume {
		if err := store.Delete(ctx, r.id); err != nil {
			return fmt.Errorf("%w: %w", utils.ErrEntityFault, err)
		}
		return r.fresh(ctx)
	}

	cp, err := store.Load(ctx, r.id)
	if err != nil {
		return fmt.Errorf("%w: loading checkpoint: %w", utils.ErrEntityFault, err)
	}
	if cp == nil {
		return r.fresh(ctx)
	}
	r.cp = cp
	if cp.Status == models.StatusDone {
		r.skipped = true
		return nil
	}
	if cp.Candidates == nil {
		cp.Candidates = []models.CandidateLink{}
	}
	if cp.Validated == nil {
		cp.Validated = []models.ValidatedLink{}
	}
	if cp.Extracted == nil {
		cp.Extracted = []models.ExtractedItem{}
	}
	if cp.Errors == nil {
		cp.Errors = []models.CheckpointError{}
	}
	return nil
}

func (r *entityRun) fresh(ctx context.Context) error {
	r.cp = models.NewCheckpoint(r.id, r.entity, r.p.now())
	return r.save(ctx)
}

// crawl appends candidates to the checkpoint as they are found and flushes
// them periodically. Candidates kept from an interrupted crawl are merged
// with the new ones.
func (r *entityRun) crawl(ctx context.Context) error {
	c := crawler.NewCrawler(r.entity, r.id, r.p.cfg, r.p.fetcher, r.p.kw, r.log)
	c.Stop = r.p.opts.Stop
	c.OnCandidate = func(cand models.CandidateLink) {
		r.cp.Candidates = append(r.cp.Candidates, cand)
		r.tick(ctx)
	}
	r.crawler.Store(c)
	defer r.crawler.Store(nil)

	_, err := c.Run(ctx)
	r.fetched += c.PagesFetched()
	r.cp.Candidates = crawler.Dedupe(r.cp.Candidates)
	if err != nil {
		r.recordError("crawl", r.entity.SiteURL, err)
		_ = r.save(ctx)
		return fmt.Errorf("%w: crawl: %w", utils.ErrEntityFault, err)
	}
	if r.halted(ctx) != nil {
		return r.interrupted(ctx, "crawl")
	}

	for _, cand := range r.cp.Candidates {
		metrics.Candidates.WithLabelValues(string(cand.Kind)).Inc()
	}
	r.cp.Advance(models.StatusCrawled)
	r.log.Infof("Crawl produced %d candidates", len(r.cp.Candidates))
	return r.save(ctx)
}

func (r *entityRun) validateAll(ctx context.Context) error {
	keys := r.cp.ValidatedKeys()
	total := len(r.cp.Candidates)
	for i, cand := range r.cp.Candidates {
		if r.halted(ctx) != nil {
			return r.interrupted(ctx, "validate")
		}
		if keys[cand.Key()] {
			r.log.WithField("url", cand.URL).Debugf("Candidate %d/%d already validated", i+1, total)
			continue
		}
		r.log.WithFields(logrus.Fields{"url": cand.URL, "kind": cand.Kind}).Debugf("Validating candidate %d/%d", i+1, total)
		r.validateOne(ctx, cand, keys)
	}
	if r.halted(ctx) != nil {
		return r.interrupted(ctx, "validate")
	}
	r.cp.Advance(models.StatusValidated)
	return r.save(ctx)
}

func (r *entityRun) extractAll(ctx context.Context) error {
	done := r.cp.ExtractedSources()
	for _, v := range r.cp.Validated {
		if r.halted(ctx) != nil {
			return r.interrupted(ctx, "extract")
		}
		if v.Verdict != models.VerdictValid || done[v.URL] {
			continue
		}
		r.extractOne(ctx, v)
		done[v.URL] = true
	}
	if r.halted(ctx) != nil {
		return r.interrupted(ctx, "extract")
	}
	r.cp.Advance(models.StatusDone)
	return r.save(ctx)
}

// interrupted flushes progress after cancellation or a drain and reports it
// as an entity failure.
func (r *entityRun) interrupted(ctx context.Context, stage string) error {
	cause := r.halted(ctx)
	r.log.Warnf("Interrupted during %s (%v), checkpoint flushed", stage, cause)
	if err := r.save(ctx); err != nil {
		r.log.Errorf("Flush after interrupt failed: %v", err)
	}
	return fmt.Errorf("%w: interrupted during %s: %w", utils.ErrEntityFault, stage, cause)
}

// save persists the checkpoint even when ctx is already cancelled.
func (r *entityRun) save(ctx context.Context) error {
	r.sinceFlush = 0
	r.publish()
	if err := r.p.store.Save(context.WithoutCancel(ctx), r.cp); err != nil {
		return fmt.Errorf("%w: saving checkpoint: %w", utils.ErrEntityFault, err)
	}
	return nil
}

// tick counts one new record and flushes every Checkpoint.Every records.
func (r *entityRun) tick(ctx context.Context) {
	r.sinceFlush++
	if r.sinceFlush < r.p.cfg.Checkpoint.Every {
		return
	}
	if err := r.save(ctx); err != nil {
		r.log.Warnf("Checkpoint flush failed: %v", err)
	}
}

func (r *entityRun) recordError(stage, url string, err error) {
	r.recordFault(stage, url, utils.CategorizeError(err), err.Error())
}

func (r *entityRun) recordFault(stage, url, errType, msg string) {
	r.cp.Errors = append(r.cp.Errors, models.CheckpointError{
		Stage:     stage,
		URL:       url,
		ErrorType: errType,
		Message:   msg,
		At:        r.p.now(),
	})
}
