package api

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiterPool holds one token-bucket limiter per generation endpoint.
// Limiters are keyed by endpoint ID so concurrent workers hitting the same
// endpoint share a budget.
type RateLimiterPool struct {
	limiters map[string]*rate.Limiter
	rates    map[string]int // rpm each limiter was created with
	mu       sync.RWMutex
}

func NewRateLimiterPool() *RateLimiterPool {
	return &RateLimiterPool{
		limiters: make(map[string]*rate.Limiter),
		rates:    make(map[string]int),
	}
}

// GetOrCreate returns the endpoint's limiter, creating it on first use.
// A limiter's rate is fixed at creation; a later call with a different rpm
// keeps the original and logs the mismatch.
func (p *RateLimiterPool) GetOrCreate(endpointID string, requestsPerMinute int) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if limiter, exists := p.limiters[endpointID]; exists {
		if existingRate, ok := p.rates[endpointID]; ok && existingRate != requestsPerMinute {
			slog.Warn("Rate limiter already exists with different rate, keeping existing",
				"endpoint_id", endpointID,
				"existing_rpm", existingRate,
				"requested_rpm", requestsPerMinute)
		}
		return limiter
	}

	rps := float64(requestsPerMinute) / 60.0
	burst := max(5, requestsPerMinute/5) // 20% burst capacity
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	p.limiters[endpointID] = limiter
	p.rates[endpointID] = requestsPerMinute

	slog.Debug("Created rate limiter",
		"endpoint_id", endpointID,
		"rpm", requestsPerMinute,
		"burst", burst)

	return limiter
}

// Wait blocks until the endpoint's limiter releases a slot or the context
// is canceled.
func (p *RateLimiterPool) Wait(ctx context.Context, endpointID string, requestsPerMinute int) error {
	limiter := p.GetOrCreate(endpointID, requestsPerMinute)
	return limiter.Wait(ctx)
}
