package siteguard

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML config can use "15m" style values.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %v", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// D returns the wrapped time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// BucketConfig is one fixed-window rate limit bucket.
type BucketConfig struct {
	Threshold int      `yaml:"threshold"`
	Window    Duration `yaml:"window"`
}

// LoginConfig tunes the lockout manager.
type LoginConfig struct {
	MaxAttempts     int      `yaml:"maxAttempts"`
	Window          Duration `yaml:"window"`
	LockoutDuration Duration `yaml:"lockoutDuration"`
}

// ReputationConfig tunes violation decay and blacklist escalation.
type ReputationConfig struct {
	AutoBlacklistThreshold int      `yaml:"autoBlacklistThreshold"`
	ViolationDecay         Duration `yaml:"violationDecay"`
	BlacklistDuration      Duration `yaml:"blacklistDuration"`
}

// UnderAttackConfig tunes coordinated-attack promotion and the CAPTCHA gate.
type UnderAttackConfig struct {
	Enabled             bool     `yaml:"enabled"`
	DistinctIPThreshold int      `yaml:"distinctIPThreshold"`
	TriggerWindow       Duration `yaml:"triggerWindow"`
	Duration            Duration `yaml:"duration"`
	CaptchaTTL          Duration `yaml:"captchaTTL"`
}

// FormsConfig tunes the submission validator.
type FormsConfig struct {
	HoneypotField string   `yaml:"honeypotField"`
	MinFillTime   Duration `yaml:"minFillTime"`
}

// QueryConfig holds the base query cost limits before mode adaptation.
// Out-of-range values are clamped, never rejected.
type QueryConfig struct {
	Mode               QueryMode `yaml:"mode"`
	Depth              int       `yaml:"depth"`
	Complexity         int       `yaml:"complexity"`
	Aliases            int       `yaml:"aliases"`
	Directives         int       `yaml:"directives"`
	FieldDuplicates    int       `yaml:"fieldDuplicates"`
	Timeout            Duration  `yaml:"timeout"`
	HeadlessMultiplier int       `yaml:"headlessMultiplier"`
	// HostMaxExecution is the host-reported execution ceiling; the
	// effective timeout never exceeds it.
	HostMaxExecution Duration `yaml:"hostMaxExecution"`
}

// PatternsConfig carries the maintained denylists. Content is data, not
// structure; empty lists fall back to the built-in defaults.
type PatternsConfig struct {
	Spam            []string `yaml:"spam"`
	Injection       []string `yaml:"injection"`
	ObsoleteClients []string `yaml:"obsoleteClients"`
}

// AdminConfig gates the operator API. PasswordHash is a bcrypt hash.
type AdminConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"passwordHash"`
}

// Config is the full engine configuration, populated once at startup and
// passed into each component's constructor.
type Config struct {
	// EmergencyOverride forces every manual defense switch off regardless
	// of stored flags. Checked before anything else.
	EmergencyOverride bool `yaml:"emergencyOverride"`

	KeySalt           string   `yaml:"keySalt"`
	TrustProxy        bool     `yaml:"trustProxy"`
	TrustedProxyCIDRs []string `yaml:"trustedProxyCIDRs"`

	Login       LoginConfig             `yaml:"login"`
	Reputation  ReputationConfig        `yaml:"reputation"`
	UnderAttack UnderAttackConfig       `yaml:"underAttack"`
	Forms       FormsConfig             `yaml:"forms"`
	Buckets     map[string]BucketConfig `yaml:"buckets"`
	Query       QueryConfig             `yaml:"query"`
	Patterns    PatternsConfig          `yaml:"patterns"`
	Admin       AdminConfig             `yaml:"admin"`

	AlertWebhookURL string `yaml:"alertWebhookURL"`
	AuditPath       string `yaml:"auditPath"`
	RedisURL        string `yaml:"redisURL"`
}

// DefaultConfig returns the engine defaults. Thresholds are tunables, not
// contractual values.
func DefaultConfig() *Config {
	return &Config{
		KeySalt: "siteguard",
		Login: LoginConfig{
			MaxAttempts:     5,
			Window:          Duration(15 * time.Minute),
			LockoutDuration: Duration(15 * time.Minute),
		},
		Reputation: ReputationConfig{
			AutoBlacklistThreshold: 5,
			ViolationDecay:         Duration(24 * time.Hour),
			BlacklistDuration:      Duration(24 * time.Hour),
		},
		UnderAttack: UnderAttackConfig{
			Enabled:             true,
			DistinctIPThreshold: 10,
			TriggerWindow:       Duration(5 * time.Minute),
			Duration:            Duration(time.Hour),
			CaptchaTTL:          Duration(10 * time.Minute),
		},
		Forms: FormsConfig{
			HoneypotField: "website_url",
			MinFillTime:   Duration(1500 * time.Millisecond),
		},
		Buckets: map[string]BucketConfig{
			BucketLogin:   {Threshold: 5, Window: Duration(15 * time.Minute)},
			BucketForm:    {Threshold: 10, Window: Duration(time.Minute)},
			BucketGraphQL: {Threshold: 120, Window: Duration(time.Minute)},
		},
		Query: QueryConfig{
			Mode:               ModeStandard,
			Depth:              8,
			Complexity:         100,
			Aliases:            15,
			Directives:         10,
			FieldDuplicates:    5,
			Timeout:            Duration(5 * time.Second),
			HeadlessMultiplier: 3,
			HostMaxExecution:   Duration(30 * time.Second),
		},
		Admin: AdminConfig{Username: "admin"},
	}
}

// Well-known rate limit buckets. Callers may configure additional ones.
const (
	BucketLogin   = "login"
	BucketForm    = "form"
	BucketGraphQL = "graphql"
)

// LoadConfig reads a YAML config file, applies defaults for anything left
// unset and clamps out-of-range values.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %v", path, err)
	}
	if len(data) > 1024*1024 {
		return nil, fmt.Errorf("config file %s is too large", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %v", path, err)
	}
	cfg.Normalize()
	return cfg, nil
}

// Normalize clamps every tunable to its valid range. Out-of-range values are
// silently corrected, never raised as errors.
func (c *Config) Normalize() {
	if c.KeySalt == "" {
		c.KeySalt = "siteguard"
	}

	c.Login.MaxAttempts = clampInt(c.Login.MaxAttempts, 1, 100, 5)
	c.Login.Window = clampDur(c.Login.Window, time.Minute, 24*time.Hour, 15*time.Minute)
	c.Login.LockoutDuration = clampDur(c.Login.LockoutDuration, time.Minute, 7*24*time.Hour, 15*time.Minute)

	c.Reputation.AutoBlacklistThreshold = clampInt(c.Reputation.AutoBlacklistThreshold, 1, 1000, 5)
	c.Reputation.ViolationDecay = clampDur(c.Reputation.ViolationDecay, time.Minute, 30*24*time.Hour, 24*time.Hour)
	c.Reputation.BlacklistDuration = clampDur(c.Reputation.BlacklistDuration, time.Minute, 365*24*time.Hour, 24*time.Hour)

	c.UnderAttack.DistinctIPThreshold = clampInt(c.UnderAttack.DistinctIPThreshold, 2, 10000, 10)
	c.UnderAttack.TriggerWindow = clampDur(c.UnderAttack.TriggerWindow, 10*time.Second, time.Hour, 5*time.Minute)
	c.UnderAttack.Duration = clampDur(c.UnderAttack.Duration, time.Minute, 24*time.Hour, time.Hour)
	c.UnderAttack.CaptchaTTL = clampDur(c.UnderAttack.CaptchaTTL, 30*time.Second, time.Hour, 10*time.Minute)

	if c.Forms.HoneypotField == "" {
		c.Forms.HoneypotField = "website_url"
	}
	c.Forms.MinFillTime = clampDur(c.Forms.MinFillTime, 100*time.Millisecond, time.Minute, 1500*time.Millisecond)

	if c.Buckets == nil {
		c.Buckets = make(map[string]BucketConfig)
	}
	defaults := DefaultConfig().Buckets
	for _, name := range []string{BucketLogin, BucketForm, BucketGraphQL} {
		if _, ok := c.Buckets[name]; !ok {
			c.Buckets[name] = defaults[name]
		}
	}
	for name, b := range c.Buckets {
		b.Threshold = clampInt(b.Threshold, 1, 1_000_000, defaults[BucketForm].Threshold)
		b.Window = clampDur(b.Window, time.Second, 24*time.Hour, time.Minute)
		c.Buckets[name] = b
	}

	if c.Query.Mode != ModeHeadless {
		c.Query.Mode = ModeStandard
	}
	c.Query.Depth = clampInt(c.Query.Depth, 1, 20, 8)
	c.Query.Complexity = clampInt(c.Query.Complexity, 10, 1000, 100)
	c.Query.Aliases = clampInt(c.Query.Aliases, 1, 100, 15)
	c.Query.Directives = clampInt(c.Query.Directives, 1, 50, 10)
	c.Query.FieldDuplicates = clampInt(c.Query.FieldDuplicates, 1, 50, 5)
	c.Query.HeadlessMultiplier = clampInt(c.Query.HeadlessMultiplier, 2, 10, 3)
	c.Query.HostMaxExecution = clampDur(c.Query.HostMaxExecution, time.Second, 5*time.Minute, 30*time.Second)
	c.Query.Timeout = clampDur(c.Query.Timeout, time.Second, c.Query.HostMaxExecution.D(), 5*time.Second)

	if c.Admin.Username == "" {
		c.Admin.Username = "admin"
	}
}

func clampInt(v, lo, hi, def int) int {
	if v == 0 {
		v = def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDur(v Duration, lo, hi, def time.Duration) Duration {
	d := v.D()
	if d == 0 {
		d = def
	}
	if d < lo {
		d = lo
	}
	if d > hi {
		d = hi
	}
	return Duration(d)
}
