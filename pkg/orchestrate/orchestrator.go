package orchestrate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/piratf/kampus-crawler/pkg/models"
	"github.com/piratf/kampus-crawler/pkg/utils"
)

// EntityRunner processes one entity. *pipeline.Pipeline implements it.
type EntityRunner interface {
	Run(ctx context.Context, e models.Entity) models.EntityResult
}

// RunOutput is everything one run produced, in entity input order.
type RunOutput struct {
	RunID        string
	StartedAt    time.Time
	FinishedAt   time.Time
	ValidateOnly bool
	Results      []models.EntityResult
}

// Progress is a snapshot of a running orchestrator.
type Progress struct {
	Total    int
	Started  int
	Finished int
}

// Orchestrator runs entities in parallel, at most Concurrency at a time.
// Every entity gets its own pipeline pass; a failing entity never stops the others.
type Orchestrator struct {
	runner       EntityRunner
	concurrency  int
	validateOnly bool
	log          *logrus.Entry

	stop          <-chan struct{}
	progressEvery time.Duration

	total    atomic.Int32
	started  atomic.Int32
	finished atomic.Int32
}

// NewOrchestrator creates an orchestrator. concurrency below 1 is treated as 1.
func NewOrchestrator(runner EntityRunner, concurrency int, validateOnly bool, log *logrus.Entry) *Orchestrator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Orchestrator{
		runner:        runner,
		concurrency:   concurrency,
		validateOnly:  validateOnly,
		log:           log.WithField("component", "orchestrator"),
		progressEvery: 30 * time.Second,
	}
}

// SetStop installs a drain channel. Once it is closed no new entity starts;
// entities already running see the same channel through their runner.
func (o *Orchestrator) SetStop(stop <-chan struct{}) {
	o.stop = stop
}

// halted returns why no new entity may start, or nil.
func (o *Orchestrator) halted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-o.stop:
		return utils.ErrRunStopped
	default:
		return nil
	}
}

// Run processes all entities and waits for them. Entities that have not
// started when ctx is cancelled are reported as failed without running.
func (o *Orchestrator) Run(ctx context.Context, entities []models.Entity) RunOutput {
	out := RunOutput{
		RunID:        uuid.NewString(),
		StartedAt:    time.Now(),
		ValidateOnly: o.validateOnly,
		Results:      make([]models.EntityResult, len(entities)),
	}
	o.total.Store(int32(len(entities)))
	o.log.WithField("run_id", out.RunID).Infof("Starting run of %d entities with concurrency %d", len(entities), o.concurrency)

	reportDone := make(chan struct{})
	go o.reportProgress(reportDone)
	defer close(reportDone)

	sem := semaphore.NewWeighted(int64(o.concurrency))
	var wg sync.WaitGroup

	for i, e := range entities {
		if err := o.halted(ctx); err != nil {
			out.Results[i] = notStarted(e, err)
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			out.Results[i] = notStarted(e, err)
			continue
		}
		// A drain may have been requested while waiting for a slot.
		if err := o.halted(ctx); err != nil {
			sem.Release(1)
			out.Results[i] = notStarted(e, err)
			continue
		}
		wg.Add(1)
		go func(i int, e models.Entity) {
			defer wg.Done()
			defer sem.Release(1)
			out.Results[i] = o.runEntity(ctx, e)
		}(i, e)
	}

	wg.Wait()
	out.FinishedAt = time.Now()
	o.logSummary(out)
	return out
}

// runEntity isolates one entity from panics in the runner.
func (o *Orchestrator) runEntity(ctx context.Context, e models.Entity) (res models.EntityResult) {
	o.started.Add(1)
	defer o.finished.Add(1)
	defer func() {
		if rec := recover(); rec != nil {
			o.log.WithField("entity", e.Name).Errorf("Recovered panic: %v", rec)
			res = models.EntityResult{
				EntityID: utils.EntityID(e.Name, e.SiteURL),
				Name:     e.Name,
				SiteURL:  e.SiteURL,
				Error:    fmt.Sprintf("%v: panic: %v", utils.ErrEntityFault, rec),
			}
		}
	}()
	o.log.WithField("entity", e.Name).Info("Starting entity")
	return o.runner.Run(ctx, e)
}

func notStarted(e models.Entity, err error) models.EntityResult {
	return models.EntityResult{
		EntityID: utils.EntityID(e.Name, e.SiteURL),
		Name:     e.Name,
		SiteURL:  e.SiteURL,
		Error:    fmt.Sprintf("%v: not started: %v", utils.ErrEntityFault, err),
	}
}

// reportProgress logs GetProgress periodically until done is closed.
func (o *Orchestrator) reportProgress(done <-chan struct{}) {
	ticker := time.NewTicker(o.progressEvery)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			p := o.GetProgress()
			o.log.WithFields(logrus.Fields{
				"total":    p.Total,
				"started":  p.Started,
				"running":  p.Started - p.Finished,
				"finished": p.Finished,
			}).Info("Run progress")
		}
	}
}

// GetProgress returns how many entities have started and finished.
func (o *Orchestrator) GetProgress() Progress {
	return Progress{
		Total:    int(o.total.Load()),
		Started:  int(o.started.Load()),
		Finished: int(o.finished.Load()),
	}
}

// logSummary logs a summary of all entity results
func (o *Orchestrator) logSummary(out RunOutput) {
	o.log.Info("============================================")
	o.log.Infof("Run %s completed in %v", out.RunID, out.FinishedAt.Sub(out.StartedAt).Round(time.Millisecond))
	o.log.Info("Entity Results:")

	t := totalsOf(out.Results)
	for _, r := range out.Results {
		status := "SUCCESS"
		switch {
		case r.Skipped:
			status = "SKIPPED"
		case !r.Success:
			status = "FAILED"
		}
		o.log.Infof("  %s: %s - %d candidates, %d valid, %d items, %d fetches in %v",
			r.Name, status, len(r.Candidates), countValid(r.Validated), len(r.Extracted), r.PagesFetched, r.Duration.Round(time.Millisecond))
		if r.Error != "" {
			o.log.Infof("    Error: %s", r.Error)
		}
	}

	o.log.Info("--------------------------------------------")
	o.log.Infof("Total: %d entities (%d success, %d skipped, %d failed), %d candidates, %d valid links, %d items",
		len(out.Results), t.Succeeded, t.Skipped, t.Failed, t.Candidates, t.Valid, t.Extracted)
	o.log.Info("============================================")
}

func countValid(vs []models.ValidatedLink) int {
	n := 0
	for _, v := range vs {
		if v.Verdict == models.VerdictValid {
			n++
		}
	}
	return n
}

// SelectEntities returns the entities matching keys by name, entity ID or
// external ID, in list order. Empty keys select everything.
func SelectEntities(all []models.Entity, keys []string) ([]models.Entity, error) {
	if len(keys) == 0 {
		return all, nil
	}
	for _, k := range keys {
		found := false
		for _, e := range all {
			if matches(e, k) {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: entity '%s' not found. Available entities: %v",
				utils.ErrConfigValidation, k, EntityNames(all))
		}
	}

	var out []models.Entity
	for _, e := range all {
		for _, k := range keys {
			if matches(e, k) {
				out = append(out, e)
				break
			}
		}
	}
	return out, nil
}

func matches(e models.Entity, key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	return strings.EqualFold(e.Name, key) ||
		(e.ID != "" && e.ID == key) ||
		utils.EntityID(e.Name, e.SiteURL) == key
}

// EntityNames returns all entity names, sorted.
func EntityNames(all []models.Entity) []string {
	names := make([]string, 0, len(all))
	for _, e := range all {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return names
}
