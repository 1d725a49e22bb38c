package siteguard

import (
	"encoding/json"
	"fmt"
	"time"
)

// LockoutManager implements failed-login counting and temporary lockout on
// top of the rate limiter and the reputation tracker. An IP is locked out
// when its failure counter reached the configured maximum and the short-TTL
// auto blacklist entry created at that point is still live.
type LockoutManager struct {
	store   TTLStore
	codec   *KeyCodec
	limiter *FixedWindowLimiter
	tracker *ReputationTracker
	cfg     LoginConfig
	logger  Logger
	metrics MetricsCollector
	now     func() time.Time
}

func NewLockoutManager(store TTLStore, codec *KeyCodec, limiter *FixedWindowLimiter, tracker *ReputationTracker, cfg LoginConfig, logger Logger, metrics MetricsCollector) *LockoutManager {
	return &LockoutManager{
		store:   store,
		codec:   codec,
		limiter: limiter,
		tracker: tracker,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// HandleFailedAttempt records one authentication failure for (identifier,
// ip). Failures are counted through the rate limiter's login bucket, under
// the login window rather than the bucket's own. Reaching the configured
// maximum blacklists the IP for the lockout duration and counts as a
// violation toward attack detection.
func (m *LockoutManager) HandleFailedAttempt(identifier, ip string) {
	count, err := m.limiter.Hit(BucketLogin, ip, m.cfg.Window.D())
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("failed to count login failure", map[string]any{"error": err.Error()})
		}
		return
	}
	if m.metrics != nil {
		m.metrics.IncrementCounter("login_failures_total", nil)
	}
	if m.logger != nil {
		m.logger.Debug("login failure recorded", map[string]any{
			"identifier": identifier,
			"attempt":    count,
			"max":        m.cfg.MaxAttempts,
		})
	}
	if count >= m.cfg.MaxAttempts {
		m.tracker.AddToBlacklist(ip,
			fmt.Sprintf("login lockout after %d failed attempts", count),
			m.cfg.LockoutDuration.D(), SourceAuto)
		m.tracker.RecordViolation(ip, SignalLoginLockout)
	}
}

// CheckLockout is consulted before authentication is attempted. Lockout is
// derived state: the failure counter at maximum plus a live auto blacklist
// entry. Store failures allow the attempt (fail open).
func (m *LockoutManager) CheckLockout(ip string) LockoutDecision {
	ipKey := m.codec.HashIP(ip)
	data, ok, err := m.store.Get(blacklistKey(SourceAuto, ipKey))
	if err != nil || !ok {
		return LockoutDecision{Allowed: true}
	}
	var entry BlacklistEntry
	if json.Unmarshal(data, &entry) != nil {
		// Broken entry: drop it rather than lock on garbage.
		_ = m.store.Delete(blacklistKey(SourceAuto, ipKey))
		return LockoutDecision{Allowed: true}
	}
	now := m.now()
	if entry.Expired(now) {
		_ = m.store.Delete(blacklistKey(SourceAuto, ipKey))
		return LockoutDecision{Allowed: true}
	}
	retry := time.Duration(0)
	if !entry.Indefinite() {
		retry = entry.ExpiresAt.Sub(now)
	}
	if m.metrics != nil {
		m.metrics.IncrementCounter("login_lockout_hits_total", nil)
	}
	return LockoutDecision{Allowed: false, RetryAfter: retry}
}

// HandleSuccessfulLogin clears the failure counter and the lockout entry.
// It must run before any other post-auth processing so a streak of failures
// never survives a legitimate login.
func (m *LockoutManager) HandleSuccessfulLogin(identifier, ip string) {
	m.clear(identifier, ip, "successful login")
}

// ClearOnPasswordChange resets the same state when the account recovers via
// a password change.
func (m *LockoutManager) ClearOnPasswordChange(identifier, ip string) {
	m.clear(identifier, ip, "password change")
}

func (m *LockoutManager) clear(identifier, ip, cause string) {
	if err := m.limiter.Reset(BucketLogin, ip); err != nil && m.logger != nil {
		m.logger.Warn("failed to clear login failure counter", map[string]any{"error": err.Error()})
	}
	m.tracker.RemoveSource(ip, SourceAuto)
	if m.logger != nil {
		m.logger.Info("login state cleared", map[string]any{"identifier": identifier, "cause": cause})
	}
}
