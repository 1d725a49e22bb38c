package siteguard

import (
	"time"
)

// Absolute ceilings the headless multiplier can never push a limit past.
// Headless mode relaxes structural limits for trusted programmatic clients
// but must not be abusable into disabling protection entirely.
const (
	maxAliasLimit          = 100
	maxDirectiveLimit      = 50
	maxFieldDuplicateLimit = 50
)

// PolicyCalculator derives the effective query cost limits for the external
// query engine. It is a pure policy provider: it neither parses nor executes
// queries, and the timeout it emits is enforced by the consumer. The host
// execution ceiling is read once at construction.
type PolicyCalculator struct {
	cfg     QueryConfig
	hostMax time.Duration
}

func NewPolicyCalculator(cfg QueryConfig) *PolicyCalculator {
	return &PolicyCalculator{cfg: cfg, hostMax: cfg.HostMaxExecution.D()}
}

// CurrentPolicy recomputes the effective limits from the clamped
// configuration and the operating mode. Cheap enough to call per request;
// never persisted.
func (p *PolicyCalculator) CurrentPolicy() QueryCostPolicy {
	policy := QueryCostPolicy{
		DepthLimit:          p.cfg.Depth,
		ComplexityLimit:     p.cfg.Complexity,
		AliasLimit:          p.cfg.Aliases,
		DirectiveLimit:      p.cfg.Directives,
		FieldDuplicateLimit: p.cfg.FieldDuplicates,
		Timeout:             p.cfg.Timeout.D(),
		Mode:                p.cfg.Mode,
	}

	if policy.Timeout > p.hostMax {
		policy.Timeout = p.hostMax
	}

	if p.cfg.Mode == ModeHeadless {
		m := p.cfg.HeadlessMultiplier
		policy.AliasLimit = capLimit(policy.AliasLimit*m, maxAliasLimit)
		policy.DirectiveLimit = capLimit(policy.DirectiveLimit*m, maxDirectiveLimit)
		policy.FieldDuplicateLimit = capLimit(policy.FieldDuplicateLimit*m, maxFieldDuplicateLimit)
	}
	return policy
}

func capLimit(v, ceiling int) int {
	if v > ceiling {
		return ceiling
	}
	if v < 1 {
		return 1
	}
	return v
}
