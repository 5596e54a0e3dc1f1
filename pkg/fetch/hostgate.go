package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/piratf/kampus-crawler/pkg/utils"
)

// hostEntry tracks one host's concurrency permits and request pacing.
type hostEntry struct {
	sem         *semaphore.Weighted
	limiter     *rate.Limiter
	activeCount int64     // number of held + waiting permits
	lastRelease time.Time // updated on every release; zero if never released
}

// HostGate is the per-host politeness gate: at most maxPerHost requests in
// flight and one request start per delay. A single gate is shared by all
// entity pipelines so a CDN host used by many sites is paced globally.
type HostGate struct {
	entries        map[string]*hostEntry
	mu             sync.Mutex
	limit          int64
	delay          time.Duration
	acquireTimeout time.Duration
	log            *logrus.Entry
}

// NewHostGate creates a gate. delay <= 0 disables pacing; acquireTimeout <= 0 waits
// as long as the caller's context allows.
func NewHostGate(maxPerHost int, delay, acquireTimeout time.Duration, log *logrus.Entry) *HostGate {
	limit := int64(maxPerHost)
	if limit <= 0 {
		limit = 2
		log.Warnf("max_requests_per_host invalid or zero, defaulting to %d", limit)
	}
	return &HostGate{
		entries:        make(map[string]*hostEntry),
		limit:          limit,
		delay:          delay,
		acquireTimeout: acquireTimeout,
		log:            log,
	}
}

func (g *HostGate) newLimiter() *rate.Limiter {
	if g.delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(g.delay), 1)
}

// Acquire waits for a permit and for the host's pacing slot.
// The returned release func must be called exactly once.
func (g *HostGate) Acquire(ctx context.Context, host string) (release func(), err error) {
	g.mu.Lock()
	entry, exists := g.entries[host]
	if !exists {
		entry = &hostEntry{sem: semaphore.NewWeighted(g.limit), limiter: g.newLimiter()}
		g.entries[host] = entry
		g.log.WithFields(logrus.Fields{"host": host, "limit": g.limit, "delay": g.delay}).Debug("Created host gate entry")
	}
	entry.activeCount++
	g.mu.Unlock()

	rollback := func() {
		g.mu.Lock()
		entry.activeCount--
		g.mu.Unlock()
	}

	acquireCtx := ctx
	if g.acquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, g.acquireTimeout)
		defer cancel()
	}
	if err := entry.sem.Acquire(acquireCtx, 1); err != nil {
		rollback()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: host %s: %w", utils.ErrSemaphoreTimeout, host, err)
	}

	if err := entry.limiter.Wait(ctx); err != nil {
		entry.sem.Release(1)
		rollback()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			entry.activeCount--
			entry.lastRelease = time.Now()
			g.mu.Unlock()
			entry.sem.Release(1)
		})
	}, nil
}

// RunEviction periodically removes idle host entries. Should be run in a goroutine.
func (g *HostGate) RunEviction(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.evictIdle(interval)
		case <-ctx.Done():
			g.log.Debugf("Stopping host gate eviction: %v", ctx.Err())
			return
		}
	}
}

// evictIdle removes entries that have been idle longer than maxIdle.
func (g *HostGate) evictIdle(maxIdle time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	evicted := 0
	for host, entry := range g.entries {
		if entry.activeCount == 0 && !entry.lastRelease.IsZero() && now.Sub(entry.lastRelease) >= maxIdle {
			delete(g.entries, host)
			evicted++
		}
	}
	if evicted > 0 {
		g.log.Debugf("Evicted %d idle host gate entries, %d remain", evicted, len(g.entries))
	}
}

// Len returns the current number of tracked hosts.
func (g *HostGate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
