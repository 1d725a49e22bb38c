package siteguard

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "siteguard.yaml")
	content := `
keySalt: testsalt
trustProxy: true
trustedProxyCIDRs:
  - 10.0.0.0/8
login:
  maxAttempts: 3
  window: 10m
  lockoutDuration: 30m
reputation:
  autoBlacklistThreshold: 4
underAttack:
  enabled: true
  distinctIPThreshold: 5
  triggerWindow: 2m
forms:
  honeypotField: company_site
  minFillTime: 2s
buckets:
  form:
    threshold: 20
    window: 30s
query:
  mode: headless
  depth: 6
  headlessMultiplier: 4
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.KeySalt != "testsalt" {
		t.Fatalf("unexpected salt: %q", cfg.KeySalt)
	}
	if cfg.Login.MaxAttempts != 3 || cfg.Login.Window.D() != 10*time.Minute {
		t.Fatalf("login config not applied: %+v", cfg.Login)
	}
	if cfg.Forms.HoneypotField != "company_site" || cfg.Forms.MinFillTime.D() != 2*time.Second {
		t.Fatalf("forms config not applied: %+v", cfg.Forms)
	}
	if cfg.Buckets[BucketForm].Threshold != 20 {
		t.Fatalf("bucket override not applied: %+v", cfg.Buckets[BucketForm])
	}
	// Unset buckets fall back to defaults.
	if cfg.Buckets[BucketLogin].Threshold == 0 {
		t.Fatalf("login bucket default missing")
	}
	if cfg.Query.Mode != ModeHeadless || cfg.Query.Depth != 6 || cfg.Query.HeadlessMultiplier != 4 {
		t.Fatalf("query config not applied: %+v", cfg.Query)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	os.WriteFile(path, []byte("login: [not a map"), 0o644)
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestNormalizeClampsOutOfRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Query.Depth = 99
	cfg.Query.HeadlessMultiplier = 1
	cfg.Query.Timeout = Duration(10 * time.Minute)
	cfg.Query.HostMaxExecution = Duration(20 * time.Second)
	cfg.Query.Mode = QueryMode("bogus")
	cfg.Login.MaxAttempts = -3
	cfg.Normalize()

	if cfg.Query.Depth != 20 {
		t.Fatalf("depth not clamped: %d", cfg.Query.Depth)
	}
	if cfg.Query.HeadlessMultiplier != 2 {
		t.Fatalf("multiplier not clamped: %d", cfg.Query.HeadlessMultiplier)
	}
	if cfg.Query.Timeout.D() != 20*time.Second {
		t.Fatalf("timeout not capped by host ceiling: %v", cfg.Query.Timeout.D())
	}
	if cfg.Query.Mode != ModeStandard {
		t.Fatalf("unknown mode not normalized: %q", cfg.Query.Mode)
	}
	if cfg.Login.MaxAttempts != 1 {
		t.Fatalf("negative maxAttempts not clamped: %d", cfg.Login.MaxAttempts)
	}
}

func TestNormalizeDefaultsZeroValues(t *testing.T) {
	cfg := &Config{}
	cfg.Normalize()
	if cfg.KeySalt == "" {
		t.Fatalf("expected default salt")
	}
	if cfg.Login.MaxAttempts != 5 {
		t.Fatalf("expected default maxAttempts, got %d", cfg.Login.MaxAttempts)
	}
	if cfg.Forms.HoneypotField != "website_url" {
		t.Fatalf("expected default honeypot, got %q", cfg.Forms.HoneypotField)
	}
	if len(cfg.Buckets) != 3 {
		t.Fatalf("expected 3 default buckets, got %d", len(cfg.Buckets))
	}
}
