package siteguard

import (
	"sync"
	"time"
)

// RejectionLedger keeps a short-lived in-process record of recent pipeline
// rejections per IP key, powering the operator status view. It is
// observability only: enforcement state lives in the TTL store.
type RejectionLedger struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]*RejectionEvent
}

// RejectionEvent is the most recent rejection recorded for an IP key.
type RejectionEvent struct {
	IPKey    string    `json:"ipKey"`
	Form     string    `json:"form"`
	Signal   Signal    `json:"signal"`
	Count    int       `json:"count"`
	Recorded time.Time `json:"recorded"`
}

// RejectionSummary aggregates the live ledger contents.
type RejectionSummary struct {
	BySignal    map[Signal]int `json:"bySignal"`
	ActiveIPs   int            `json:"activeIPs"`
	Total       int            `json:"total"`
	LastUpdated time.Time      `json:"lastUpdated"`
}

func NewRejectionLedger(ttl time.Duration) *RejectionLedger {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RejectionLedger{
		ttl:     ttl,
		entries: make(map[string]*RejectionEvent),
	}
}

// Record notes one rejection for the event's IP key, folding repeats into a
// running count.
func (l *RejectionLedger) Record(event RejectionEvent) {
	if event.IPKey == "" || event.Signal == SignalNone {
		return
	}
	event.Recorded = time.Now()
	l.mu.Lock()
	if existing, ok := l.entries[event.IPKey]; ok && time.Since(existing.Recorded) <= l.ttl {
		event.Count = existing.Count + 1
	} else {
		event.Count = 1
	}
	l.entries[event.IPKey] = &event
	l.mu.Unlock()
}

// Snapshot returns the unexpired events.
func (l *RejectionLedger) Snapshot() []RejectionEvent {
	now := time.Now()
	l.mu.RLock()
	defer l.mu.RUnlock()
	var events []RejectionEvent
	for _, entry := range l.entries {
		if now.Sub(entry.Recorded) > l.ttl {
			continue
		}
		events = append(events, *entry)
	}
	return events
}

// Cleanup drops expired entries.
func (l *RejectionLedger) Cleanup() {
	now := time.Now()
	l.mu.Lock()
	for key, entry := range l.entries {
		if now.Sub(entry.Recorded) > l.ttl {
			delete(l.entries, key)
		}
	}
	l.mu.Unlock()
}

// Summary aggregates the live entries per signal.
func (l *RejectionLedger) Summary() RejectionSummary {
	summary := RejectionSummary{
		BySignal: make(map[Signal]int),
	}
	events := l.Snapshot()
	summary.ActiveIPs = len(events)
	for _, ev := range events {
		summary.BySignal[ev.Signal] += ev.Count
		summary.Total += ev.Count
		if ev.Recorded.After(summary.LastUpdated) {
			summary.LastUpdated = ev.Recorded
		}
	}
	return summary
}
