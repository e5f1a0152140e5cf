package coach

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ashureev/shsh-coach/internal/domain"
)

// DefaultGuidanceTimeout bounds a single guidance fetch.
const DefaultGuidanceTimeout = 10 * time.Second

// GuidanceService fetches static guidance for a stage.
type GuidanceService interface {
	GetGuidance(ctx context.Context, stage string) (domain.Guidance, error)
}

// GuidanceCache memoizes guidance per stage. Guidance is treated as immutable,
// so entries never expire. Failed fetches are not cached.
type GuidanceCache struct {
	svc     GuidanceService
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.RWMutex
	entries map[string]domain.Guidance
	group   singleflight.Group
}

// NewGuidanceCache creates a cache over svc. A nil svc yields a cache that
// never has guidance.
func NewGuidanceCache(svc GuidanceService, timeout time.Duration, logger *slog.Logger) *GuidanceCache {
	if timeout <= 0 {
		timeout = DefaultGuidanceTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GuidanceCache{
		svc:     svc,
		timeout: timeout,
		logger:  logger,
		entries: make(map[string]domain.Guidance),
	}
}

// Cached returns the guidance for stage if it has already been loaded.
func (c *GuidanceCache) Cached(stage string) (domain.Guidance, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.entries[stage]
	return g, ok
}

// Get returns guidance for stage, fetching it on first use. Concurrent callers
// for the same stage share one fetch, which is detached from any single
// caller's ctx so one session closing does not fail the others. Each caller
// stops waiting when its own ctx ends. ok is false when guidance is absent.
func (c *GuidanceCache) Get(ctx context.Context, stage string) (domain.Guidance, bool) {
	if g, ok := c.Cached(stage); ok {
		return g, true
	}
	if c.svc == nil || stage == "" {
		return domain.Guidance{}, false
	}

	fetchBase := context.WithoutCancel(ctx)
	ch := c.group.DoChan(stage, func() (any, error) {
		if g, ok := c.Cached(stage); ok {
			return g, nil
		}
		fetchCtx, cancel := context.WithTimeout(fetchBase, c.timeout)
		defer cancel()

		g, err := c.svc.GetGuidance(fetchCtx, stage)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[stage] = g
		c.mu.Unlock()
		return g, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			c.logger.Warn("[GUIDANCE] Fetch failed", "stage", stage, "error", res.Err)
			return domain.Guidance{}, false
		}
		return res.Val.(domain.Guidance), true
	case <-ctx.Done():
		return domain.Guidance{}, false
	}
}

// Preload fetches guidance for every stage concurrently. Failures are logged
// and left uncached.
func (c *GuidanceCache) Preload(ctx context.Context, stages ...string) {
	var g errgroup.Group
	g.SetLimit(4)
	for _, stage := range stages {
		g.Go(func() error {
			c.Get(ctx, stage)
			return nil
		})
	}
	_ = g.Wait()
}
