package notify

import (
	"strings"
	"sync"
	"time"

	"github.com/vietddude/faultline/internal/core/domain"
)

// ruleCounter is a sliding-window occurrence counter for one escalation
// rule. Occurrences older than the rule's period are pruned on access.
type ruleCounter struct {
	occurrences []time.Time
}

func (c *ruleCounter) record(now time.Time, period time.Duration) int {
	c.occurrences = append(c.occurrences, now)
	if period > 0 {
		cutoff := now.Add(-period)
		kept := c.occurrences[:0]
		for _, at := range c.occurrences {
			if at.After(cutoff) {
				kept = append(kept, at)
			}
		}
		c.occurrences = kept
	}
	return len(c.occurrences)
}

// escalationState tracks per-rule frequency counters and the delayed
// second-stage timers for unresolved faults.
type escalationState struct {
	mu       sync.Mutex
	counters map[string]*ruleCounter
	pending  map[string]*time.Timer // keyed by rule name + fault code
}

func newEscalationState() *escalationState {
	return &escalationState{
		counters: make(map[string]*ruleCounter),
		pending:  make(map[string]*time.Timer),
	}
}

func pendingKey(ruleName, code string) string {
	return ruleName + "|" + code
}

// record counts an occurrence against the rule and reports whether the
// frequency threshold is met. Rules without a threshold always qualify.
func (s *escalationState) record(rule *domain.EscalationRule, now time.Time) bool {
	if rule.Conditions.Frequency <= 0 {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.counters[rule.Name]
	if c == nil {
		c = &ruleCounter{}
		s.counters[rule.Name] = c
	}
	return c.record(now, rule.Conditions.Period) >= rule.Conditions.Frequency
}

// schedule arms a second-stage escalation timer for the fault unless one is
// already pending. fire runs when the delay elapses without resolution.
func (s *escalationState) schedule(rule *domain.EscalationRule, code string, fire func()) {
	if rule.Actions.EscalateAfter <= 0 || len(rule.Actions.EscalateToAdmins) == 0 {
		return
	}

	key := pendingKey(rule.Name, code)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pending[key]; exists {
		return
	}
	s.pending[key] = time.AfterFunc(rule.Actions.EscalateAfter, func() {
		s.mu.Lock()
		delete(s.pending, key)
		s.mu.Unlock()
		fire()
	})
}

// resolve cancels every pending second-stage timer for the error code.
// It returns the number of timers cancelled.
func (s *escalationState) resolve(code string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cancelled int
	for key, timer := range s.pending {
		if strings.HasSuffix(key, "|"+code) {
			timer.Stop()
			delete(s.pending, key)
			cancelled++
		}
	}
	return cancelled
}

// stop cancels all pending timers.
func (s *escalationState) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, timer := range s.pending {
		timer.Stop()
		delete(s.pending, key)
	}
}
