package siteguard

import (
	"time"
)

// BlacklistSource identifies which subsystem created a blacklist entry.
// Entries are namespaced per source so clearing one category never lifts
// blocks owned by another.
type BlacklistSource string

const (
	SourceManual    BlacklistSource = "manual"
	SourceAuto      BlacklistSource = "auto"
	SourceFormAbuse BlacklistSource = "form-abuse"
)

// BlacklistSources lists every source category, in listing order.
var BlacklistSources = []BlacklistSource{SourceManual, SourceAuto, SourceFormAbuse}

// Valid reports whether s is one of the known source categories.
func (s BlacklistSource) Valid() bool {
	switch s {
	case SourceManual, SourceAuto, SourceFormAbuse:
		return true
	}
	return false
}

// Signal identifies the check responsible for a pipeline rejection. Signals
// are logged and counted but never surfaced verbatim to the submitter.
type Signal string

const (
	SignalNone           Signal = ""
	SignalBlacklisted    Signal = "blacklisted"
	SignalRateLimited    Signal = "rate_limited"
	SignalHoneypot       Signal = "honeypot"
	SignalTooFast        Signal = "too_fast"
	SignalObsoleteClient Signal = "obsolete_client"
	SignalSpamPattern    Signal = "spam_pattern"
	SignalInjection      Signal = "injection_pattern"
	SignalCaptcha        Signal = "captcha_failed"
	SignalLoginLockout   Signal = "login_lockout"
)

// EscalationSource is the blacklist category a violation streak of this
// signal escalates into. Form pipeline signals land in the form-abuse
// namespace so operators can lift form-driven blocks without touching
// login lockouts.
func (s Signal) EscalationSource() BlacklistSource {
	if s == SignalLoginLockout {
		return SourceAuto
	}
	return SourceFormAbuse
}

// BlacklistEntry is a single active block for an IP key. At most one entry
// exists per (ip, source) pair; a new add replaces the previous one.
type BlacklistEntry struct {
	IPKey     string          `json:"ipKey"`
	Reason    string          `json:"reason"`
	Source    BlacklistSource `json:"source"`
	BlockedAt time.Time       `json:"blockedAt"`
	// ExpiresAt is the zero time for indefinite blocks.
	ExpiresAt time.Time `json:"expiresAt"`
}

// Indefinite reports whether the entry never expires on its own.
func (e *BlacklistEntry) Indefinite() bool {
	return e.ExpiresAt.IsZero()
}

// Expired reports whether the entry has lapsed as of now.
func (e *BlacklistEntry) Expired(now time.Time) bool {
	return !e.Indefinite() && now.After(e.ExpiresAt)
}

// ViolationRecord is the decaying per-IP violation counter feeding blacklist
// escalation and attack-mode promotion.
type ViolationRecord struct {
	IPKey      string    `json:"ipKey"`
	Violations int       `json:"violations"`
	LastSignal Signal    `json:"lastSignal"`
	LastAt     time.Time `json:"lastAt"`
}

// AttackState is the site-wide under-attack record. It is stored in the TTL
// store so every process sees the same state; the entry self-expires after
// the configured attack duration unless the activation was manual.
type AttackState struct {
	Active      bool      `json:"active"`
	Manual      bool      `json:"manual"`
	Reason      string    `json:"reason"`
	ActivatedAt time.Time `json:"activatedAt"`
	Attackers   int       `json:"attackers"`
}

// CaptchaChallenge is a stored arithmetic challenge. It is deleted on the
// first verification attempt, successful or not.
type CaptchaChallenge struct {
	Token     string    `json:"token"`
	Question  string    `json:"question"`
	Answer    int       `json:"answer"`
	CreatedAt time.Time `json:"createdAt"`
}

// QueryMode selects the query cost policy profile.
type QueryMode string

const (
	ModeStandard QueryMode = "standard"
	ModeHeadless QueryMode = "headless"
)

// QueryCostPolicy is the set of structural limits handed to the external
// query engine. Recomputed per request, never persisted.
type QueryCostPolicy struct {
	DepthLimit          int           `json:"depthLimit"`
	ComplexityLimit     int           `json:"complexityLimit"`
	AliasLimit          int           `json:"aliasLimit"`
	DirectiveLimit      int           `json:"directiveLimit"`
	FieldDuplicateLimit int           `json:"fieldDuplicateLimit"`
	Timeout             time.Duration `json:"timeout"`
	Mode                QueryMode     `json:"mode"`
}

// Decision is the rate limiter verdict for a single request.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Result is the submission validator verdict. Allowed results carry no
// signal; rejected results name the responsible check.
type Result struct {
	Allowed bool
	Signal  Signal
}

func allowResult() Result          { return Result{Allowed: true} }
func rejectResult(s Signal) Result { return Result{Allowed: false, Signal: s} }

// LockoutDecision is the lockout manager verdict consulted before
// authentication is attempted.
type LockoutDecision struct {
	Allowed    bool
	RetryAfter time.Duration
}
