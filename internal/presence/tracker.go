// Package presence tracks which users are currently typing in which case.
// Entries are advisory and in-memory only; they expire after a fixed TTL
// unless refreshed.
package presence

import (
	"sort"
	"sync"
	"time"
)

// DefaultTTL is how long a typing signal stays active without a refresh.
const DefaultTTL = 1500 * time.Millisecond

// Tracker holds typing entries keyed by case and user.
type Tracker struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[int64]map[string]time.Time // case -> user -> expires_at
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces the tracker's time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates a tracker. A non-positive ttl selects DefaultTTL.
func New(ttl time.Duration, opts ...Option) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	t := &Tracker{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[int64]map[string]time.Time),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TTL returns the configured entry lifetime.
func (t *Tracker) TTL() time.Duration { return t.ttl }

// SetTyping inserts or refreshes an entry and returns its new expiry.
func (t *Tracker) SetTyping(caseID int64, userID string) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.entries[caseID]
	if !ok {
		users = make(map[string]time.Time)
		t.entries[caseID] = users
	}
	expires := t.now().Add(t.ttl)
	users[userID] = expires
	return expires
}

// ClearTyping removes an entry and reports whether one was active.
func (t *Tracker) ClearTyping(caseID int64, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.entries[caseID]
	if !ok {
		return false
	}
	expires, ok := users[userID]
	if !ok {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(t.entries, caseID)
	}
	return !t.now().After(expires)
}

// ClearUser removes every entry of a user and returns the cases where the
// user was still actively typing, in ascending order.
func (t *Tracker) ClearUser(userID string) []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var cleared []int64
	for caseID, users := range t.entries {
		expires, ok := users[userID]
		if !ok {
			continue
		}
		delete(users, userID)
		if len(users) == 0 {
			delete(t.entries, caseID)
		}
		if !now.After(expires) {
			cleared = append(cleared, caseID)
		}
	}
	sort.Slice(cleared, func(i, j int) bool { return cleared[i] < cleared[j] })
	return cleared
}

// ActiveTypers returns the sorted users typing in a case, excluding one user.
// Expired entries are skipped even if not yet swept.
func (t *Tracker) ActiveTypers(caseID int64, excludeUserID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var typers []string
	for userID, expires := range t.entries[caseID] {
		if userID == excludeUserID || now.After(expires) {
			continue
		}
		typers = append(typers, userID)
	}
	sort.Strings(typers)
	return typers
}

// Sweep evicts expired entries and returns how many were removed.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for caseID, users := range t.entries {
		for userID, expires := range users {
			if now.After(expires) {
				delete(users, userID)
				removed++
			}
		}
		if len(users) == 0 {
			delete(t.entries, caseID)
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, users := range t.entries {
		n += len(users)
	}
	return n
}
