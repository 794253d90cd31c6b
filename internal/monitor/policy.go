package monitor

import (
	"sync"
	"time"

	"schema-doctor/config"
	"schema-doctor/internal/issue"
)

// Tier is the operator-assigned business priority of a table.
type Tier string

const (
	TierCritical Tier = "critical"
	TierHigh     Tier = "high"
	TierMedium   Tier = "medium"
	TierLow      Tier = "low"
)

// Policy decides which issues may be fixed without a human in the loop. The
// gate is two-axis: issue severity crossed with the table's business tier.
// Blind auto-remediation on an unknown schema is unsafe, so everything
// outside the explicitly allowed combinations is report-only.
type Policy struct {
	cfg *config.Config
}

// NewPolicy creates the auto-fix policy from configuration.
func NewPolicy(cfg *config.Config) *Policy {
	return &Policy{cfg: cfg}
}

// TierOf looks up a table's business priority. Tables absent from both
// configured lists default to the middle tier.
func (p *Policy) TierOf(table string) Tier {
	for _, t := range p.cfg.Monitor.CriticalTables {
		if t == table {
			return TierCritical
		}
	}
	for _, t := range p.cfg.Monitor.HighPriorityTables {
		if t == table {
			return TierHigh
		}
	}
	return TierMedium
}

// Decide returns whether an issue qualifies for automatic fixing and, if so,
// the cooldown that applies between repeated attempts.
func (p *Policy) Decide(is issue.Issue) (time.Duration, bool) {
	if !p.cfg.Monitor.AutoFixEnabled || is.Severity != issue.Critical || !is.AutoFixable() {
		return 0, false
	}

	switch p.TierOf(is.Table) {
	case TierCritical:
		return p.cfg.CriticalCooldown(), true
	case TierHigh:
		return p.cfg.HighCooldown(), true
	default:
		return 0, false
	}
}

// State holds the orchestrator's mutable cross-cycle memory: the per-issue
// cooldown map. It is injected rather than global so monitors can be tested
// independently. The lock is advisory and single-process; running several
// orchestrators against one database needs external locking and is out of
// scope.
type State struct {
	mu          sync.Mutex
	lastAttempt map[string]time.Time
	now         func() time.Time
}

// NewState creates empty orchestrator state.
func NewState() *State {
	return &State{
		lastAttempt: make(map[string]time.Time),
		now:         time.Now,
	}
}

// AllowAttempt atomically checks the cooldown for an issue id and, when the
// attempt is allowed, records it. Exactly one caller wins inside a window.
func (s *State) AllowAttempt(issueID string, cooldown time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if last, ok := s.lastAttempt[issueID]; ok && now.Sub(last) < cooldown {
		return false
	}
	s.lastAttempt[issueID] = now
	return true
}

// LastAttemptAt reports when an issue was last attempted, if ever.
func (s *State) LastAttemptAt(issueID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lastAttempt[issueID]
	return t, ok
}
