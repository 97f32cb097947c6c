package autoclass

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// CachedModel remembers answers per text so a resubmitted norm does not hit
// the model again.
type CachedModel struct {
	next  Model
	cache *gocache.Cache
}

func NewCachedModel(next Model, ttl time.Duration) *CachedModel {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedModel{next: next, cache: gocache.New(ttl, 2*ttl)}
}

func (m *CachedModel) Classify(ctx context.Context, text string) ([]Norm, error) {
	key := cacheKey(text)
	if value, found := m.cache.Get(key); found {
		return value.([]Norm), nil
	}
	norms, err := m.next.Classify(ctx, text)
	if err != nil {
		return nil, err
	}
	m.cache.SetDefault(key, norms)
	return norms, nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// LimitedModel spaces out calls to the model.
type LimitedModel struct {
	next    Model
	limiter *rate.Limiter
}

func NewLimitedModel(next Model, requestsPerSecond float64, burst int) *LimitedModel {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}
	return &LimitedModel{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (m *LimitedModel) Classify(ctx context.Context, text string) ([]Norm, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return m.next.Classify(ctx, text)
}
