package ledger

import (
	"sync"
	"time"
)

// DefaultCooldown is the minimum spacing between two alerts sharing an id.
const DefaultCooldown = 15 * time.Minute

// Ledger remembers when each alert id was last sent.
type Ledger struct {
	mu       sync.Mutex
	cooldown time.Duration
	entries  map[string]time.Time
}

// New returns an empty ledger; a non-positive cooldown falls back to DefaultCooldown.
func New(cooldown time.Duration) *Ledger {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Ledger{cooldown: cooldown, entries: make(map[string]time.Time)}
}

// Cooldown returns the configured window.
func (l *Ledger) Cooldown() time.Duration {
	return l.cooldown
}

// ShouldSuppress reports whether id was sent less than one cooldown before now.
func (l *Ledger) ShouldSuppress(id string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.suppressedLocked(id, now)
}

// Record upserts the last-sent time for id.
func (l *Ledger) Record(id string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[id] = now
}

// Admit checks and records in one step; it returns false when id is still cooling down.
func (l *Ledger) Admit(id string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.suppressedLocked(id, now) {
		return false
	}
	l.entries[id] = now
	return true
}

// Prune drops entries whose cooldown has elapsed and returns how many were removed.
func (l *Ledger) Prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for id, sent := range l.entries {
		if now.Sub(sent) >= l.cooldown {
			delete(l.entries, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked ids.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Ledger) suppressedLocked(id string, now time.Time) bool {
	sent, ok := l.entries[id]
	if !ok {
		return false
	}
	return now.Sub(sent) < l.cooldown
}
