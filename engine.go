package siteguard

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

// FormRenderedAtField is the hidden input carrying the render timestamp in
// unix milliseconds, injected by ServeForm and consumed by the fill-time
// heuristic.
const FormRenderedAtField = "sg_rendered_at"

// Options supplies the pluggable backends for an Engine. Zero-value fields
// get working in-process defaults.
type Options struct {
	Store   TTLStore
	Logger  Logger
	Metrics MetricsCollector
	Audit   AuditSink
}

// Engine bundles every protection component behind one construction point
// and exposes the fiber handlers host applications mount. All components
// share one TTL store, so multiple instances behind a load balancer converge
// on the same decisions when backed by Redis.
type Engine struct {
	mu  sync.RWMutex
	cfg *Config

	store   TTLStore
	logger  Logger
	metrics MetricsCollector
	audit   AuditSink
	alerts  *AlertDispatcher
	ledger  *RejectionLedger

	codec     *KeyCodec
	tracker   *ReputationTracker
	limiter   *FixedWindowLimiter
	lockout   *LockoutManager
	monitor   *AttackMonitor
	captcha   *CaptchaService
	patterns  *PatternSet
	validator *SubmissionValidator
	policy    *PolicyCalculator
	resolver  *ClientIPResolver
}

func NewEngine(cfg *Config, opts Options) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.Normalize()

	e := &Engine{
		store:   opts.Store,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		audit:   opts.Audit,
		ledger:  NewRejectionLedger(5 * time.Minute),
	}
	if e.store == nil {
		e.store = NewInMemoryTTLStore()
	}
	if e.logger == nil {
		e.logger = NewStructuredLogger()
	}
	if e.metrics == nil {
		e.metrics = NewInMemoryMetricsCollector()
	}

	e.alerts = NewAlertDispatcher(e.logger)
	e.alerts.Register(NewLogAlertSender(e.logger))

	e.build(cfg)
	return e, nil
}

// build derives every component from the configuration. Called at
// construction and again on hot reload; the shared store, ledger, alert
// dispatcher and sinks survive across rebuilds so no enforcement state is
// lost.
func (e *Engine) build(cfg *Config) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cfg = cfg
	e.codec = NewKeyCodec(cfg.KeySalt)
	e.resolver = NewClientIPResolver(cfg)
	e.tracker = NewReputationTracker(e.store, e.codec, cfg.Reputation, e.logger, e.metrics, e.audit)
	e.limiter = NewFixedWindowLimiter(e.store, e.codec, cfg.Buckets, e.metrics)
	e.lockout = NewLockoutManager(e.store, e.codec, e.limiter, e.tracker, cfg.Login, e.logger, e.metrics)
	e.monitor = NewAttackMonitor(e.store, cfg.UnderAttack, cfg.EmergencyOverride, e.logger, e.metrics, e.alerts)
	e.captcha = NewCaptchaService(e.store, cfg.UnderAttack.CaptchaTTL.D(), e.logger, e.metrics)
	e.patterns = NewPatternSet(cfg.Patterns)
	e.validator = NewSubmissionValidator(e.tracker, e.limiter, e.monitor, e.captcha, e.patterns, cfg.Forms, e.logger, e.metrics, e.ledger)
	e.policy = NewPolicyCalculator(cfg.Query)

	e.tracker.OnViolation(e.monitor.ObserveViolation)
	e.tracker.SetAlerts(e.alerts)
	e.alerts.SetWebhook(cfg.AlertWebhookURL)
}

// ApplyConfig swaps in a new configuration, rebuilding the derived
// components. Used by the config watcher.
func (e *Engine) ApplyConfig(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.Normalize()
	e.build(cfg)
	e.logger.Info("engine configuration applied", map[string]any{
		"emergencyOverride": cfg.EmergencyOverride,
		"underAttack":       cfg.UnderAttack.Enabled,
	})
}

func (e *Engine) Config() *Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

func (e *Engine) Tracker() *ReputationTracker  { e.mu.RLock(); defer e.mu.RUnlock(); return e.tracker }
func (e *Engine) Limiter() *FixedWindowLimiter { e.mu.RLock(); defer e.mu.RUnlock(); return e.limiter }
func (e *Engine) Lockout() *LockoutManager     { e.mu.RLock(); defer e.mu.RUnlock(); return e.lockout }
func (e *Engine) Monitor() *AttackMonitor      { e.mu.RLock(); defer e.mu.RUnlock(); return e.monitor }
func (e *Engine) Captcha() *CaptchaService     { e.mu.RLock(); defer e.mu.RUnlock(); return e.captcha }
func (e *Engine) Validator() *SubmissionValidator {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.validator
}
func (e *Engine) Policy() *PolicyCalculator { e.mu.RLock(); defer e.mu.RUnlock(); return e.policy }
func (e *Engine) Metrics() MetricsCollector { return e.metrics }
func (e *Engine) Ledger() *RejectionLedger  { return e.ledger }

// ClientIP resolves the request's client address through the trusted proxy
// configuration.
func (e *Engine) ClientIP(c *fiber.Ctx) string {
	e.mu.RLock()
	resolver := e.resolver
	e.mu.RUnlock()
	return resolver.ClientIP(c)
}

// LoginProtection is the middleware for authentication routes. It rejects
// blacklisted addresses outright and returns 429 with a Retry-After header
// while a lockout is active.
func (e *Engine) LoginProtection() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ip := e.ClientIP(c)
		blocked, err := e.Tracker().IsBlacklisted(ip)
		if err != nil {
			e.logger.Error("blacklist check failed", map[string]any{"error": err.Error()})
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "protection unavailable",
			})
		}
		if blocked {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "access denied",
			})
		}
		decision := e.Lockout().CheckLockout(ip)
		if !decision.Allowed {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(decision.RetryAfter.Seconds())))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":      "too many failed attempts",
				"retryAfter": decision.RetryAfter.Seconds(),
			})
		}
		return c.Next()
	}
}

// OnLoginFailure is the hook hosts call after a credential check fails.
func (e *Engine) OnLoginFailure(identifier string, c *fiber.Ctx) {
	e.Lockout().HandleFailedAttempt(identifier, e.ClientIP(c))
}

// OnLoginSuccess clears the failure counter for the client.
func (e *Engine) OnLoginSuccess(identifier string, c *fiber.Ctx) {
	e.Lockout().HandleSuccessfulLogin(identifier, e.ClientIP(c))
}

// OnPasswordChange resets lockout state after a password rotation.
func (e *Engine) OnPasswordChange(identifier string, c *fiber.Ctx) {
	e.Lockout().ClearOnPasswordChange(identifier, e.ClientIP(c))
}

// APIProtection is the middleware for API routes such as the query policy
// endpoint. It refuses blacklisted addresses and counts every request
// against the graphql bucket.
func (e *Engine) APIProtection() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ip := e.ClientIP(c)
		blocked, err := e.Tracker().IsBlacklisted(ip)
		if err != nil {
			e.logger.Error("blacklist check failed", map[string]any{"error": err.Error()})
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "protection unavailable",
			})
		}
		if blocked {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "access denied",
			})
		}
		decision := e.Limiter().Allow(BucketGraphQL, ip)
		if !decision.Allowed {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(decision.RetryAfter.Seconds())))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		}
		return c.Next()
	}
}

// FormProtection validates the posted form before the host handler runs.
// Rejected submissions get a generic 422; the failing signal stays in the
// log, ledger and metrics and is never echoed back to the submitter.
func (e *Engine) FormProtection(form FormDescriptor) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sub := e.SubmissionFromCtx(c, form)
		result, err := e.Validator().Validate(sub)
		if err != nil {
			e.logger.Error("submission validation error", map[string]any{
				"form":  form.Name,
				"error": err.Error(),
			})
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "validation unavailable",
			})
		}
		if !result.Allowed {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": "submission rejected",
			})
		}
		return c.Next()
	}
}

// SubmissionFromCtx builds a Submission from the request's form body.
func (e *Engine) SubmissionFromCtx(c *fiber.Ctx, form FormDescriptor) Submission {
	fields := make(map[string]string)
	c.Request().PostArgs().VisitAll(func(key, value []byte) {
		fields[string(key)] = string(value)
	})
	sub := Submission{
		Form:        form,
		Fields:      fields,
		IP:          e.ClientIP(c),
		UserAgent:   c.Get(fiber.HeaderUserAgent),
		RawBody:     string(c.Body()),
		SubmittedAt: time.Now(),
	}
	if raw := fields[FormRenderedAtField]; raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms > 0 {
			sub.RenderedAt = time.UnixMilli(ms)
		}
	}
	return sub
}

// ServeForm renders the given form HTML with the render-timestamp field and,
// while under attack, a CAPTCHA challenge.
func (e *Engine) ServeForm(form FormDescriptor, formHTML string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		rendered, err := e.Validator().RenderForm(formHTML)
		if err != nil {
			e.logger.Error("form render failed", map[string]any{
				"form":  form.Name,
				"error": err.Error(),
			})
			rendered = formHTML
		}
		rendered = injectHiddenField(rendered, FormRenderedAtField,
			strconv.FormatInt(time.Now().UnixMilli(), 10))
		c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
		return c.SendString(rendered)
	}
}

// QueryPolicyHandler serves the effective GraphQL cost policy as JSON so
// gateway processes can poll it.
func (e *Engine) QueryPolicyHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(e.Policy().CurrentPolicy())
	}
}

// PrometheusHandler exposes the in-memory collector in text format.
func (e *Engine) PrometheusHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
		return c.SendString(e.metrics.ExportPrometheus())
	}
}

// Health reports the state of the engine's backends.
func (e *Engine) Health() map[string]string {
	health := map[string]string{"store": "ok", "metrics": "ok"}
	if err := e.store.HealthCheck(); err != nil {
		health["store"] = err.Error()
	}
	if err := e.metrics.HealthCheck(); err != nil {
		health["metrics"] = err.Error()
	}
	return health
}

func injectHiddenField(formHTML, name, value string) string {
	field := fmt.Sprintf("<input type=\"hidden\" name=%q value=%q>", name, value)
	// Byte-wise fold comparison: lowercasing the whole document can change
	// byte offsets for some runes.
	const closeTag = "</form>"
	for i := 0; i+len(closeTag) <= len(formHTML); i++ {
		if strings.EqualFold(formHTML[i:i+len(closeTag)], closeTag) {
			return formHTML[:i] + field + formHTML[i:]
		}
	}
	return formHTML + field
}
