package siteguard

import (
	"time"
)

// FormDescriptor identifies a protected form. HoneypotField overrides the
// engine-wide honeypot name for hosts that render their own.
type FormDescriptor struct {
	Name          string
	HoneypotField string
}

// Submission carries everything the validator inspects for one form-like
// request. RenderedAt is the form-render timestamp when the host supplies
// one; the timing heuristic is skipped otherwise.
type Submission struct {
	Form        FormDescriptor
	Fields      map[string]string
	IP          string
	UserAgent   string
	RawBody     string
	RenderedAt  time.Time
	SubmittedAt time.Time
}

// SubmissionValidator runs the ordered short-circuit check chain over
// inbound submissions. Checks are deliberately ordered cheap to expensive:
// blacklist and counter lookups first, regex matching last, so the common
// rejected path costs as little as possible. Evaluation is strictly
// sequential; there is no reordering or parallelism.
type SubmissionValidator struct {
	tracker  *ReputationTracker
	limiter  *FixedWindowLimiter
	monitor  *AttackMonitor
	captcha  *CaptchaService
	patterns *PatternSet
	cfg      FormsConfig
	logger   Logger
	metrics  MetricsCollector
	ledger   *RejectionLedger
	now      func() time.Time
}

func NewSubmissionValidator(tracker *ReputationTracker, limiter *FixedWindowLimiter, monitor *AttackMonitor, captcha *CaptchaService, patterns *PatternSet, cfg FormsConfig, logger Logger, metrics MetricsCollector, ledger *RejectionLedger) *SubmissionValidator {
	return &SubmissionValidator{
		tracker:  tracker,
		limiter:  limiter,
		monitor:  monitor,
		captcha:  captcha,
		patterns: patterns,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		ledger:   ledger,
		now:      time.Now,
	}
}

// Validate runs the chain and returns the first failing check's signal, or
// an allowed result. Every rejection is recorded as a violation against the
// IP, which is what feeds auto-blacklisting and under-attack promotion. The
// returned error is reserved for corrupted stored state.
func (v *SubmissionValidator) Validate(sub Submission) (Result, error) {
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = v.now()
	}

	// 1. Blacklist membership.
	blocked, err := v.tracker.IsBlacklisted(sub.IP)
	if err != nil {
		return Result{}, err
	}
	if blocked {
		return v.reject(sub, SignalBlacklisted), nil
	}

	// 2. Per-bucket rate limit.
	if !v.limiter.Allow(BucketForm, sub.IP).Allowed {
		return v.reject(sub, SignalRateLimited), nil
	}

	// 3. Honeypot: a field invisible to humans must stay empty.
	honeypot := sub.Form.HoneypotField
	if honeypot == "" {
		honeypot = v.cfg.HoneypotField
	}
	if sub.Fields[honeypot] != "" {
		return v.reject(sub, SignalHoneypot), nil
	}

	// 4. Timing heuristic, only when the host reported a render timestamp.
	if !sub.RenderedAt.IsZero() {
		if sub.SubmittedAt.Sub(sub.RenderedAt) < v.cfg.MinFillTime.D() {
			return v.reject(sub, SignalTooFast), nil
		}
	}

	// 5. Obsolete or scripted client signature.
	if v.patterns.IsObsoleteClient(sub.UserAgent) {
		return v.reject(sub, SignalObsoleteClient), nil
	}

	// 6. Spam phrases over field values.
	if v.patterns.MatchSpam(sub.Fields) {
		return v.reject(sub, SignalSpamPattern), nil
	}

	// 7. Injection heuristics over the raw request data.
	raw := sub.RawBody
	if raw == "" {
		for _, value := range sub.Fields {
			raw += value + "\n"
		}
	}
	if v.patterns.MatchInjection(raw) {
		return v.reject(sub, SignalInjection), nil
	}

	// 8. Under-attack CAPTCHA gate.
	if v.monitor.IsUnderAttack() {
		token := sub.Fields[CaptchaTokenField]
		answer := sub.Fields[CaptchaAnswerField]
		if !v.captcha.Verify(token, answer) {
			return v.reject(sub, SignalCaptcha), nil
		}
	}

	if v.metrics != nil {
		v.metrics.IncrementCounter("submissions_allowed_total", map[string]string{"form": sub.Form.Name})
	}
	return allowResult(), nil
}

// reject records the violation, feeds the ledger and metrics, and returns
// the typed rejection. Recording on every rejection is what makes pipeline
// failures globally meaningful: the same stream feeds auto-blacklisting and
// under-attack promotion.
func (v *SubmissionValidator) reject(sub Submission, signal Signal) Result {
	v.tracker.RecordViolation(sub.IP, signal)
	if v.ledger != nil {
		v.ledger.Record(RejectionEvent{
			IPKey:  v.tracker.codec.HashIP(sub.IP),
			Form:   sub.Form.Name,
			Signal: signal,
		})
	}
	if v.metrics != nil {
		v.metrics.IncrementCounter("submissions_rejected_total", map[string]string{
			"form":   sub.Form.Name,
			"signal": string(signal),
		})
	}
	if v.logger != nil {
		v.logger.Info("submission rejected", map[string]any{
			"form":   sub.Form.Name,
			"signal": string(signal),
		})
	}
	return rejectResult(signal)
}

// RenderForm returns the form markup, with the CAPTCHA fragment injected
// immediately before the submit control while under-attack mode is active.
// When the site is not under attack the markup is returned unmodified.
func (v *SubmissionValidator) RenderForm(formHTML string) (string, error) {
	if !v.monitor.IsUnderAttack() {
		return formHTML, nil
	}
	challenge, err := v.captcha.Generate()
	if err != nil {
		return formHTML, err
	}
	return v.captcha.InjectField(formHTML, challenge), nil
}
