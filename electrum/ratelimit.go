package electrum

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/btcbuilder/txbuilder/txerrors"
)

// concurrencyPollInterval bounds how long Allow sleeps between checks of
// the per-server concurrency cap while waiting for a slot to free up.
const concurrencyPollInterval = 25 * time.Millisecond

// RateLimiterConfig configures per-server request rate and concurrency
// bounds. Both a per-second and a per-minute token bucket are enforced
// (section 4.10's max_rps/max_rpm), since a burst-friendly per-second
// budget can still blow through a server's per-minute quota.
type RateLimiterConfig struct {
	RequestsPerSecond float64
	Burst             int
	RequestsPerMinute float64
	BurstPerMinute    int
	MaxConcurrent     int
	BackoffWindow     time.Duration // cooldown added after a server reports rate_limited
}

// RateLimiter enforces token-bucket request rates plus a concurrency cap
// per server, keyed by server URL.
type RateLimiter struct {
	cfg RateLimiterConfig

	mu             sync.Mutex
	perSecond      map[string]*rate.Limiter
	perMinute      map[string]*rate.Limiter
	inflight       map[string]int
	cooldowns      map[string]time.Time
}

// NewRateLimiter returns a limiter with the given per-server defaults.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.RequestsPerMinute > 0 && cfg.BurstPerMinute <= 0 {
		cfg.BurstPerMinute = cfg.Burst
	}
	return &RateLimiter{
		cfg:       cfg,
		perSecond: make(map[string]*rate.Limiter),
		perMinute: make(map[string]*rate.Limiter),
		inflight:  make(map[string]int),
		cooldowns: make(map[string]time.Time),
	}
}

func (r *RateLimiter) secondLimiterFor(server string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.perSecond[server]
	if !ok {
		l = rate.NewLimiter(rate.Limit(r.cfg.RequestsPerSecond), r.cfg.Burst)
		r.perSecond[server] = l
	}
	return l
}

// minuteLimiterFor returns the per-minute token bucket for server, modeled
// as a rate.Limiter ticking in requests/second (RequestsPerMinute/60) with
// a burst sized to absorb a full minute's budget up front.
func (r *RateLimiter) minuteLimiterFor(server string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.perMinute[server]
	if !ok {
		l = rate.NewLimiter(rate.Limit(r.cfg.RequestsPerMinute/60), r.cfg.BurstPerMinute)
		r.perMinute[server] = l
	}
	return l
}

// Allow blocks until server has a token in both the per-second and
// per-minute buckets and a free concurrency slot, returning only once the
// call may proceed or ctx is done. Per spec.md §7's propagation policy,
// the rate limiter never surfaces a rate-limited error to the caller: a
// cooldown or a full concurrency slot delays and retries internally
// rather than failing the call.
func (r *RateLimiter) Allow(ctx context.Context, server string) (func(), error) {
	for {
		r.mu.Lock()
		until, cooling := r.cooldowns[server]
		if cooling && time.Now().Before(until) {
			wait := time.Until(until)
			r.mu.Unlock()
			if err := sleepContext(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		if r.cfg.MaxConcurrent > 0 && r.inflight[server] >= r.cfg.MaxConcurrent {
			r.mu.Unlock()
			if err := sleepContext(ctx, concurrencyPollInterval); err != nil {
				return nil, err
			}
			continue
		}

		r.mu.Unlock()
		break
	}

	var buckets []*rate.Limiter
	if r.cfg.RequestsPerSecond > 0 {
		buckets = append(buckets, r.secondLimiterFor(server))
	}
	if r.cfg.RequestsPerMinute > 0 {
		buckets = append(buckets, r.minuteLimiterFor(server))
	}
	for _, bucket := range buckets {
		res := bucket.Reserve()
		if err := sleepContext(ctx, res.Delay()); err != nil {
			res.Cancel()
			return nil, err
		}
	}

	r.mu.Lock()
	r.inflight[server]++
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		r.inflight[server]--
		r.mu.Unlock()
	}, nil
}

// ReportRateLimited records that server itself returned a rate-limit
// error, opening a cooldown window before it is tried again.
func (r *RateLimiter) ReportRateLimited(server string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	window := r.cfg.BackoffWindow
	if window <= 0 {
		window = 5 * time.Second
	}
	r.cooldowns[server] = time.Now().Add(window)
}

// sleepContext sleeps for d or returns early with a txerrors.KindTimeout
// wrapping ctx.Err() if ctx finishes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return txerrors.Wrap(txerrors.KindTimeout, ctx.Err(), "rate limiter wait canceled")
	}
}
