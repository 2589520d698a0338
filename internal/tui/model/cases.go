package model

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/matheus3301/casechat/internal/protocol"
)

// CaseLister loads the caller's cases with server-side unread counts.
type CaseLister interface {
	Cases(ctx context.Context) ([]protocol.CaseSummary, error)
}

// Cases caches the case list shown on the cases page. Unread counts start
// from the server and then follow live events.
type Cases struct {
	mu     sync.RWMutex
	lister CaseLister
	cases  []protocol.CaseSummary
}

// NewCases creates an empty case list backed by lister.
func NewCases(lister CaseLister) *Cases {
	return &Cases{lister: lister}
}

// Load replaces the cached list, most unread first then by id.
func (c *Cases) Load(ctx context.Context) error {
	list, err := c.lister.Cases(ctx)
	if err != nil {
		return err
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Unread != list[j].Unread {
			return list[i].Unread > list[j].Unread
		}
		return list[i].ID < list[j].ID
	})
	c.mu.Lock()
	c.cases = list
	c.mu.Unlock()
	return nil
}

// List returns a copy of the cached cases.
func (c *Cases) List() []protocol.CaseSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]protocol.CaseSummary(nil), c.cases...)
}

// Get returns the cached summary for caseID.
func (c *Cases) Get(caseID int64) (protocol.CaseSummary, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, cs := range c.cases {
		if cs.ID == caseID {
			return cs, true
		}
	}
	return protocol.CaseSummary{}, false
}

// Title returns a display name for caseID.
func (c *Cases) Title(caseID int64) string {
	cs, ok := c.Get(caseID)
	switch {
	case !ok:
		return "Case " + strconv.FormatInt(caseID, 10)
	case cs.CaseNumber != "" && cs.Title != "":
		return cs.CaseNumber + " " + cs.Title
	case cs.Title != "":
		return cs.Title
	default:
		return "Case " + strconv.FormatInt(caseID, 10)
	}
}

// Bump adds n to the unread count of caseID. It reports false for cases not
// in the list, which callers treat as a cue to reload.
func (c *Cases) Bump(caseID int64, n int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.cases {
		if c.cases[i].ID == caseID {
			c.cases[i].Unread += n
			if c.cases[i].Unread < 0 {
				c.cases[i].Unread = 0
			}
			return true
		}
	}
	return false
}

// ClearUnread resets the unread count of caseID.
func (c *Cases) ClearUnread(caseID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.cases {
		if c.cases[i].ID == caseID {
			c.cases[i].Unread = 0
			return
		}
	}
}
