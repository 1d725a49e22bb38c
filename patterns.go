package siteguard

import (
	"regexp"
	"sync"
)

// PatternSet holds the compiled spam, injection and obsolete-client
// matchers. The lists are maintained data, not structure: they are
// replaceable wholesale at runtime (config reload) and the defaults below
// are a starting set, not a contract.
type PatternSet struct {
	mu       sync.RWMutex
	spam     []*regexp.Regexp
	inject   []*regexp.Regexp
	obsolete []*regexp.Regexp
}

var defaultSpamPatterns = []string{
	`(?i)\bviagra\b`,
	`(?i)\bcialis\b`,
	`(?i)\bcasino\b`,
	`(?i)cheap\s+(pills|meds|prescriptions)`,
	`(?i)work\s+from\s+home.{0,40}\$\d`,
	`(?i)\bseo\s+(service|expert|ranking)s?\b`,
	`(?i)(click|visit)\s+here.{0,30}https?://`,
	`(?i)\bcrypto\s+(investment|profit|giveaway)\b`,
	`(?i)(https?://\S+){4,}`,
}

var defaultInjectionPatterns = []string{
	`(?i)\bunion\s+(all\s+)?select\b`,
	`(?i)\b(sleep|benchmark|pg_sleep)\s*\(`,
	`(?i)\bwaitfor\s+delay\b`,
	`(?i)('|%27)\s*(or|and)\s*('|%27)?\d+('|%27)?\s*=\s*\d+`,
	`(?i)\b(or|and)\s+1\s*=\s*1\b`,
	`(?i);\s*(drop|truncate|alter)\s+(table|database)\b`,
	`(?i)\binformation_schema\b`,
	`(?i)\bload_file\s*\(`,
	`(?i)\binto\s+(out|dump)file\b`,
}

var defaultObsoleteClientPatterns = []string{
	`MSIE [2-9]\.`,
	`Windows NT [45]\.`,
	`(?i)^mozilla/[1-4]\.`,
	`(?i)\b(libwww-perl|lwp-trivial|winhttp)\b`,
	`(?i)\bjava/1\.[0-6]\b`,
}

// NewPatternSet compiles the given lists, falling back to the built-in
// defaults for any empty list. Patterns that fail to compile are skipped.
func NewPatternSet(cfg PatternsConfig) *PatternSet {
	p := &PatternSet{}
	p.Replace(cfg)
	return p
}

// Replace swaps the pattern lists atomically. Empty lists fall back to the
// defaults; invalid expressions are dropped silently so one bad entry never
// disables the rest of the list.
func (p *PatternSet) Replace(cfg PatternsConfig) {
	spam := compilePatterns(cfg.Spam, defaultSpamPatterns)
	inject := compilePatterns(cfg.Injection, defaultInjectionPatterns)
	obsolete := compilePatterns(cfg.ObsoleteClients, defaultObsoleteClientPatterns)

	p.mu.Lock()
	p.spam = spam
	p.inject = inject
	p.obsolete = obsolete
	p.mu.Unlock()
}

func compilePatterns(raw, fallback []string) []*regexp.Regexp {
	if len(raw) == 0 {
		raw = fallback
	}
	compiled := make([]*regexp.Regexp, 0, len(raw))
	for _, expr := range raw {
		re, err := regexp.Compile(expr)
		if err != nil {
			continue
		}
		compiled = append(compiled, re)
	}
	return compiled
}

// MatchSpam reports whether any field value matches a spam pattern.
func (p *PatternSet) MatchSpam(fields map[string]string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, value := range fields {
		for _, re := range p.spam {
			if re.MatchString(value) {
				return true
			}
		}
	}
	return false
}

// MatchInjection reports whether the raw request data matches an injection
// heuristic.
func (p *PatternSet) MatchInjection(raw string) bool {
	if raw == "" {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, re := range p.inject {
		if re.MatchString(raw) {
			return true
		}
	}
	return false
}

// IsObsoleteClient reports whether the client signature matches a
// known-obsolete or scripted-client pattern.
func (p *PatternSet) IsObsoleteClient(userAgent string) bool {
	if userAgent == "" {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, re := range p.obsolete {
		if re.MatchString(userAgent) {
			return true
		}
	}
	return false
}
