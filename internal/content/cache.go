package content

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/example/peer-scheduler/internal/metrics"
	"github.com/example/peer-scheduler/internal/persistence"
)

type cacheEntry struct {
	prompts   []persistence.Prompt
	expiresAt time.Time
}

// CachedGenerator caches prompt sets per topic and count, collapses
// concurrent misses into one upstream call, and falls back when the primary
// generator fails. Fallback results are not cached, so the primary is tried
// again on the next miss.
type CachedGenerator struct {
	primary  Generator
	fallback Generator
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu     sync.RWMutex
	cache  map[string]cacheEntry
	flight singleflight.Group
}

// CacheOption configures a CachedGenerator.
type CacheOption func(*CachedGenerator)

// WithCacheClock overrides the clock used for TTL checks.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(g *CachedGenerator) {
		if now != nil {
			g.now = now
		}
	}
}

// WithCacheLogger sets the logger.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(g *CachedGenerator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithCacheMetrics records hits, misses and fallbacks.
func WithCacheMetrics(m *metrics.Metrics) CacheOption {
	return func(g *CachedGenerator) {
		g.metrics = m
	}
}

// NewCachedGenerator wraps primary. fallback may be nil, in which case
// primary errors are returned.
func NewCachedGenerator(primary, fallback Generator, ttl time.Duration, opts ...CacheOption) *CachedGenerator {
	g := &CachedGenerator{
		primary:  primary,
		fallback: fallback,
		ttl:      ttl,
		now:      time.Now,
		logger:   slog.Default(),
		cache:    make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "content")
	return g
}

// GeneratePrompts returns a cached prompt set when one is fresh; a hit never
// reaches the primary generator.
func (g *CachedGenerator) GeneratePrompts(ctx context.Context, topic string, count int) ([]persistence.Prompt, error) {
	key := fmt.Sprintf("%s#%d", strings.ToLower(topic), count)

	if prompts, ok := g.lookup(key); ok {
		g.metrics.PromptLookup("hit")
		return prompts, nil
	}
	g.metrics.PromptLookup("miss")

	result, err, _ := g.flight.Do(key, func() (any, error) {
		if prompts, ok := g.lookup(key); ok {
			return prompts, nil
		}

		prompts, err := g.primary.GeneratePrompts(ctx, topic, count)
		if err == nil {
			g.store(key, prompts)
			return prompts, nil
		}
		if g.fallback == nil {
			return nil, err
		}

		g.logger.WarnContext(ctx, "prompt generation failed, using fallback deck", "topic", topic, "error", err)
		g.metrics.PromptLookup("fallback")
		return g.fallback.GeneratePrompts(ctx, topic, count)
	})
	if err != nil {
		return nil, err
	}
	return clonePrompts(result.([]persistence.Prompt)), nil
}

// GenerateSpark delegates to the primary generator, then to the fallback.
func (g *CachedGenerator) GenerateSpark(ctx context.Context, question, answerA, answerB string) (string, error) {
	spark, err := g.primary.GenerateSpark(ctx, question, answerA, answerB)
	if err == nil || g.fallback == nil {
		return spark, err
	}
	g.logger.WarnContext(ctx, "spark generation failed, using fallback", "error", err)
	return g.fallback.GenerateSpark(ctx, question, answerA, answerB)
}

// Invalidate drops every cached prompt set.
func (g *CachedGenerator) Invalidate() {
	g.mu.Lock()
	g.cache = make(map[string]cacheEntry)
	g.mu.Unlock()
}

func (g *CachedGenerator) lookup(key string) ([]persistence.Prompt, bool) {
	g.mu.RLock()
	entry, ok := g.cache[key]
	g.mu.RUnlock()
	if !ok || !g.now().Before(entry.expiresAt) {
		return nil, false
	}
	return clonePrompts(entry.prompts), true
}

func (g *CachedGenerator) store(key string, prompts []persistence.Prompt) {
	if g.ttl <= 0 {
		return
	}
	g.mu.Lock()
	g.cache[key] = cacheEntry{prompts: clonePrompts(prompts), expiresAt: g.now().Add(g.ttl)}
	g.mu.Unlock()
}
