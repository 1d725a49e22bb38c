package siteguard

import "time"

// FixedWindowLimiter counts requests per (bucket, ip) in the TTL store.
//
// The window is fixed, not sliding: the counter vanishes at TTL expiry and
// the next request starts a fresh window. A client timing requests around a
// window boundary can therefore send up to 2x the threshold in a short span.
// That burst is an accepted trade-off of the design, matching the
// approximate, lock-free nature of the shared store.
type FixedWindowLimiter struct {
	store   TTLStore
	codec   *KeyCodec
	buckets map[string]BucketConfig
	metrics MetricsCollector
}

func NewFixedWindowLimiter(store TTLStore, codec *KeyCodec, buckets map[string]BucketConfig, metrics MetricsCollector) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		store:   store,
		codec:   codec,
		buckets: buckets,
		metrics: metrics,
	}
}

func (l *FixedWindowLimiter) key(bucket, ip string) string {
	return "rl:" + bucket + ":" + l.codec.BucketKey(bucket, ip)
}

// Hit increments the counter for (bucket, ip) under an explicit window and
// returns the new count. For callers that keep their own threshold
// semantics on top of the shared counters, such as the lockout manager.
func (l *FixedWindowLimiter) Hit(bucket, ip string, window time.Duration) (int, error) {
	return l.store.Increment(l.key(bucket, ip), window)
}

// Allow increments the counter for (bucket, ip) and reports whether the
// request fits the bucket threshold. Unknown buckets and store failures
// allow the request: rate limiting fails open so a degraded store never
// locks out the whole site.
func (l *FixedWindowLimiter) Allow(bucket, ip string) Decision {
	cfg, ok := l.buckets[bucket]
	if !ok {
		return Decision{Allowed: true, Remaining: -1}
	}
	count, err := l.store.Increment(l.key(bucket, ip), cfg.Window.D())
	if err != nil {
		return Decision{Allowed: true, Remaining: -1}
	}
	remaining := cfg.Threshold - count
	if remaining < 0 {
		remaining = 0
	}
	if count > cfg.Threshold {
		if l.metrics != nil {
			l.metrics.IncrementCounter("rate_limit_denied_total", map[string]string{"bucket": bucket})
		}
		// The counter key does not expose its own expiry, so the bucket
		// window is reported as the retry upper bound.
		return Decision{Allowed: false, Remaining: 0, RetryAfter: cfg.Window.D()}
	}
	return Decision{Allowed: true, Remaining: remaining}
}

// Reset removes the counter for (bucket, ip). Used when a legitimate
// recovery (successful login, password change) must not inherit stale
// failures.
func (l *FixedWindowLimiter) Reset(bucket, ip string) error {
	return l.store.Delete(l.key(bucket, ip))
}
