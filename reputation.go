package siteguard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	violationKeyPrefix = "viol:"
	blacklistKeyPrefix = "bl:"
)

// ReputationTracker records violations per IP and escalates repeat offenders
// to the blacklist. Violations decay: the record disappears after the
// configured window of inactivity.
type ReputationTracker struct {
	store   TTLStore
	codec   *KeyCodec
	cfg     ReputationConfig
	logger  Logger
	metrics MetricsCollector
	audit   AuditSink
	alerts  *AlertDispatcher
	now     func() time.Time

	// observers are notified of every recorded violation; the attack
	// monitor uses this to count distinct offenders.
	observers []func(ipKey string, signal Signal)
}

func NewReputationTracker(store TTLStore, codec *KeyCodec, cfg ReputationConfig, logger Logger, metrics MetricsCollector, audit AuditSink) *ReputationTracker {
	return &ReputationTracker{
		store:   store,
		codec:   codec,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		audit:   audit,
		now:     time.Now,
	}
}

// OnViolation registers an observer called for each recorded violation.
func (t *ReputationTracker) OnViolation(fn func(ipKey string, signal Signal)) {
	if fn != nil {
		t.observers = append(t.observers, fn)
	}
}

// SetAlerts wires an alert dispatcher that is notified on automatic
// blacklist promotions.
func (t *ReputationTracker) SetAlerts(d *AlertDispatcher) {
	t.alerts = d
}

func blacklistKey(source BlacklistSource, ipKey string) string {
	return blacklistKeyPrefix + string(source) + ":" + ipKey
}

// RecordViolation bumps the violation counter for ip, refreshing the decay
// window. Crossing the auto-blacklist threshold creates an entry in the
// signal's escalation category and clears the record, so a freshly
// unblacklisted IP starts from zero.
func (t *ReputationTracker) RecordViolation(ip string, signal Signal) {
	ipKey := t.codec.HashIP(ip)
	now := t.now()

	record := ViolationRecord{IPKey: ipKey}
	key := violationKeyPrefix + ipKey
	if data, ok, err := t.store.Get(key); err == nil && ok {
		// A corrupt record is replaced rather than trusted.
		_ = json.Unmarshal(data, &record)
	}
	record.Violations++
	record.LastSignal = signal
	record.LastAt = now

	if t.metrics != nil {
		t.metrics.IncrementCounter("violations_total", map[string]string{"signal": string(signal)})
	}

	if record.Violations >= t.cfg.AutoBlacklistThreshold {
		t.blacklistKeyed(ipKey, fmt.Sprintf("auto: %d violations, last %s", record.Violations, signal),
			t.cfg.BlacklistDuration.D(), signal.EscalationSource())
		if err := t.store.Delete(key); err != nil && t.logger != nil {
			t.logger.Warn("failed to clear violation record", map[string]any{"ipKey": ipKey, "error": err.Error()})
		}
	} else {
		data, _ := json.Marshal(record)
		if err := t.store.Set(key, data, t.cfg.ViolationDecay.D()); err != nil && t.logger != nil {
			t.logger.Warn("failed to persist violation record", map[string]any{"ipKey": ipKey, "error": err.Error()})
		}
	}

	for _, fn := range t.observers {
		fn(ipKey, signal)
	}
}

// Violations returns the current decaying violation count for ip.
func (t *ReputationTracker) Violations(ip string) int {
	data, ok, err := t.store.Get(violationKeyPrefix + t.codec.HashIP(ip))
	if err != nil || !ok {
		return 0
	}
	var record ViolationRecord
	if json.Unmarshal(data, &record) != nil {
		return 0
	}
	return record.Violations
}

// IsBlacklisted reports whether any active entry exists for ip across all
// source categories. Store unavailability fails open; a corrupt stored entry
// is returned as an error since continuing with broken security state is
// worse than failing the request.
func (t *ReputationTracker) IsBlacklisted(ip string) (bool, error) {
	return t.isKeyBlacklisted(t.codec.HashIP(ip))
}

func (t *ReputationTracker) isKeyBlacklisted(ipKey string) (bool, error) {
	now := t.now()
	for _, source := range BlacklistSources {
		data, ok, err := t.store.Get(blacklistKey(source, ipKey))
		if err != nil {
			if t.logger != nil {
				t.logger.Warn("blacklist lookup failed, allowing", map[string]any{"ipKey": ipKey, "error": err.Error()})
			}
			continue
		}
		if !ok {
			continue
		}
		var entry BlacklistEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return false, fmt.Errorf("corrupt blacklist entry for %s/%s: %v", source, ipKey, err)
		}
		if entry.Expired(now) {
			_ = t.store.Delete(blacklistKey(source, ipKey))
			continue
		}
		return true, nil
	}
	return false, nil
}

// AddToBlacklist creates (or replaces) the entry for (ip, source). ttl <= 0
// blocks indefinitely.
func (t *ReputationTracker) AddToBlacklist(ip, reason string, ttl time.Duration, source BlacklistSource) {
	t.blacklistKeyed(t.codec.HashIP(ip), reason, ttl, source)
}

func (t *ReputationTracker) blacklistKeyed(ipKey, reason string, ttl time.Duration, source BlacklistSource) {
	now := t.now()
	entry := BlacklistEntry{
		IPKey:     ipKey,
		Reason:    reason,
		Source:    source,
		BlockedAt: now,
	}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}
	data, _ := json.Marshal(entry)
	if err := t.store.Set(blacklistKey(source, ipKey), data, ttl); err != nil {
		if t.logger != nil {
			t.logger.Error("failed to write blacklist entry", map[string]any{"ipKey": ipKey, "source": string(source), "error": err.Error()})
		}
		return
	}
	if t.logger != nil {
		t.logger.Info("ip blacklisted", map[string]any{"ipKey": ipKey, "source": string(source), "reason": reason})
	}
	if t.metrics != nil {
		t.metrics.IncrementCounter("blacklist_adds_total", map[string]string{"source": string(source)})
	}
	t.recordAudit(ipKey, "add", source, reason)
	if t.alerts != nil && source != SourceManual {
		t.alerts.Dispatch(Alert{
			Topic:   "auto-blacklist",
			Message: "ip automatically blacklisted",
			Details: map[string]string{"ipKey": ipKey, "reason": reason},
		})
	}
}

// RemoveFromBlacklist deletes every entry for ip regardless of source.
// Returns false when no entry existed.
func (t *ReputationTracker) RemoveFromBlacklist(ip string) bool {
	return t.RemoveKeyFromBlacklist(t.codec.HashIP(ip))
}

// RemoveKeyFromBlacklist is the variant used by the admin surface, which
// holds hashed keys from ListBlocked rather than raw addresses.
func (t *ReputationTracker) RemoveKeyFromBlacklist(ipKey string) bool {
	removed := false
	for _, source := range BlacklistSources {
		key := blacklistKey(source, ipKey)
		if _, ok, err := t.store.Get(key); err == nil && ok {
			if t.store.Delete(key) == nil {
				removed = true
				t.recordAudit(ipKey, "remove", source, "")
			}
		}
	}
	if removed && t.metrics != nil {
		t.metrics.IncrementCounter("blacklist_removes_total", nil)
	}
	return removed
}

// RemoveSource deletes only the entry one source category owns for ip,
// leaving manual and other categories in place.
func (t *ReputationTracker) RemoveSource(ip string, source BlacklistSource) bool {
	ipKey := t.codec.HashIP(ip)
	key := blacklistKey(source, ipKey)
	if _, ok, err := t.store.Get(key); err != nil || !ok {
		return false
	}
	if t.store.Delete(key) != nil {
		return false
	}
	t.recordAudit(ipKey, "remove", source, "")
	return true
}

// ListBlocked enumerates active entries, optionally filtered to one source
// category. Expired leftovers are skipped and dropped.
func (t *ReputationTracker) ListBlocked(filter *BlacklistSource) ([]BlacklistEntry, error) {
	prefix := blacklistKeyPrefix
	if filter != nil {
		prefix = blacklistKeyPrefix + string(*filter) + ":"
	}
	keys, err := t.store.Scan(prefix)
	if err != nil {
		return nil, err
	}
	now := t.now()
	var entries []BlacklistEntry
	for _, key := range keys {
		data, ok, err := t.store.Get(key)
		if err != nil || !ok {
			continue
		}
		var entry BlacklistEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("corrupt blacklist entry at %s: %v", key, err)
		}
		if entry.Expired(now) {
			_ = t.store.Delete(key)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ClearCategory bulk-removes every entry of one source category, leaving the
// others untouched, and returns the number removed. Clearing form-abuse
// blocks never lifts a login lockout or a manual block.
func (t *ReputationTracker) ClearCategory(source BlacklistSource) (int, error) {
	keys, err := t.store.Scan(blacklistKeyPrefix + string(source) + ":")
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, key := range keys {
		if t.store.Delete(key) == nil {
			removed++
		}
	}
	if removed > 0 {
		if t.logger != nil {
			t.logger.Info("blacklist category cleared", map[string]any{"source": string(source), "removed": removed})
		}
		t.recordAudit("*", "clear", source, fmt.Sprintf("%d entries", removed))
	}
	return removed, nil
}

func (t *ReputationTracker) recordAudit(ipKey, action string, source BlacklistSource, reason string) {
	if t.audit == nil {
		return
	}
	event := AuditEvent{
		IPKey:     ipKey,
		Action:    action,
		Source:    source,
		Reason:    reason,
		CreatedAt: t.now(),
	}
	if err := t.audit.RecordBlacklistEvent(context.Background(), event); err != nil && t.logger != nil {
		t.logger.Warn("audit write failed", map[string]any{"error": err.Error()})
	}
}
