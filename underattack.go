package siteguard

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

const (
	attackStateKey      = "attack:state"
	attackSeenPrefix    = "attack:seen:"
	attackDistinctKey   = "attack:distinct"
	attackStateIndefTTL = time.Duration(0)
)

// AttackMonitor is the two-state (normal / under-attack) machine. Promotion
// happens automatically when violations arrive from enough distinct IPs
// inside the trigger window, or manually by an operator. State lives in the
// TTL store so every process agrees; automatic activations self-expire with
// the entry, manual ones persist until explicitly deactivated.
type AttackMonitor struct {
	store    TTLStore
	cfg      UnderAttackConfig
	override bool
	logger   Logger
	metrics  MetricsCollector
	alerts   *AlertDispatcher
	now      func() time.Time
}

func NewAttackMonitor(store TTLStore, cfg UnderAttackConfig, emergencyOverride bool, logger Logger, metrics MetricsCollector, alerts *AlertDispatcher) *AttackMonitor {
	return &AttackMonitor{
		store:    store,
		cfg:      cfg,
		override: emergencyOverride,
		logger:   logger,
		metrics:  metrics,
		alerts:   alerts,
		now:      time.Now,
	}
}

// enabled applies the emergency override before the stored feature flag, in
// that order, for every switch this component exposes.
func (m *AttackMonitor) enabled() bool {
	if m.override {
		return false
	}
	return m.cfg.Enabled
}

// ObserveViolation counts the violating IP toward the coordinated-attack
// signature: N distinct offenders within the trigger window promote the site
// to under-attack.
func (m *AttackMonitor) ObserveViolation(ipKey string, signal Signal) {
	if !m.enabled() {
		return
	}
	seenKey := attackSeenPrefix + ipKey
	if _, ok, err := m.store.Get(seenKey); err != nil || ok {
		return
	}
	if err := m.store.Set(seenKey, []byte("1"), m.cfg.TriggerWindow.D()); err != nil {
		return
	}
	distinct, err := m.store.Increment(attackDistinctKey, m.cfg.TriggerWindow.D())
	if err != nil {
		return
	}
	if m.metrics != nil {
		m.metrics.SetGauge("attack_distinct_ips", float64(distinct), nil)
	}
	if distinct >= m.cfg.DistinctIPThreshold && !m.IsUnderAttack() {
		m.activate(fmt.Sprintf("coordinated attack: %d distinct IPs violating within %s (last signal %s)",
			distinct, m.cfg.TriggerWindow.D(), signal), distinct, false)
	}
}

// Activate forces under-attack mode manually. Manual state is never cleared
// by the decay timer; Deactivate is required. A no-op when the feature flag
// is off or the emergency override is set.
func (m *AttackMonitor) Activate(reason string) {
	m.activate(reason, 0, true)
}

func (m *AttackMonitor) activate(reason string, attackers int, manual bool) {
	if !m.enabled() {
		return
	}
	state := AttackState{
		Active:      true,
		Manual:      manual,
		Reason:      reason,
		ActivatedAt: m.now(),
		Attackers:   attackers,
	}
	data, _ := json.Marshal(state)
	ttl := m.cfg.Duration.D()
	if manual {
		ttl = attackStateIndefTTL
	}
	if err := m.store.Set(attackStateKey, data, ttl); err != nil {
		if m.logger != nil {
			m.logger.Error("failed to persist attack state", map[string]any{"error": err.Error()})
		}
		return
	}
	if m.logger != nil {
		m.logger.Warn("under-attack mode activated", map[string]any{
			"reason": reason, "manual": manual, "attackers": attackers,
		})
	}
	if m.metrics != nil {
		m.metrics.IncrementCounter("attack_mode_activations_total", map[string]string{
			"manual": strconv.FormatBool(manual),
		})
	}
	if m.alerts != nil {
		m.alerts.Dispatch(Alert{
			Topic:   "under-attack",
			Message: reason,
			Details: map[string]string{
				"manual":    strconv.FormatBool(manual),
				"attackers": strconv.Itoa(attackers),
			},
			At: m.now(),
		})
	}
}

// Deactivate returns the site to normal and resets the distinct-attacker
// window so a lingering set does not instantly re-promote.
func (m *AttackMonitor) Deactivate() {
	if err := m.store.Delete(attackStateKey); err != nil && m.logger != nil {
		m.logger.Warn("failed to clear attack state", map[string]any{"error": err.Error()})
	}
	_ = m.store.Delete(attackDistinctKey)
	if m.logger != nil {
		m.logger.Info("under-attack mode deactivated", nil)
	}
}

// IsUnderAttack reports the current mode. Always false with the feature flag
// off or the emergency override set, regardless of stored state.
func (m *AttackMonitor) IsUnderAttack() bool {
	state, ok := m.State()
	return ok && state.Active
}

// State returns the stored attack state when active.
func (m *AttackMonitor) State() (AttackState, bool) {
	if !m.enabled() {
		return AttackState{}, false
	}
	data, ok, err := m.store.Get(attackStateKey)
	if err != nil || !ok {
		return AttackState{}, false
	}
	var state AttackState
	if json.Unmarshal(data, &state) != nil {
		_ = m.store.Delete(attackStateKey)
		return AttackState{}, false
	}
	return state, state.Active
}
