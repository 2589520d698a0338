package model

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/casechat/internal/protocol"
)

type stubLister struct {
	cases []protocol.CaseSummary
	err   error
}

func (s *stubLister) Cases(context.Context) ([]protocol.CaseSummary, error) {
	return append([]protocol.CaseSummary(nil), s.cases...), s.err
}

func TestCasesLoadOrdersByUnread(t *testing.T) {
	c := NewCases(&stubLister{cases: []protocol.CaseSummary{
		{ID: 3, Title: "Lease"},
		{ID: 1, Title: "Divorce", Unread: 2},
		{ID: 2, Title: "Estate"},
	}})
	if err := c.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	list := c.List()
	got := []int64{list[0].ID, list[1].ID, list[2].ID}
	want := []int64{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestCasesLoadError(t *testing.T) {
	c := NewCases(&stubLister{err: errors.New("boom")})
	if err := c.Load(context.Background()); err == nil {
		t.Error("Load() expected error")
	}
	if len(c.List()) != 0 {
		t.Error("List() not empty after failed load")
	}
}

func TestCasesBumpAndClear(t *testing.T) {
	c := NewCases(&stubLister{cases: []protocol.CaseSummary{{ID: 7, Title: "Lease"}}})
	if err := c.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	if !c.Bump(7, 2) {
		t.Fatal("Bump() = false for known case")
	}
	if c.Bump(99, 1) {
		t.Error("Bump() = true for unknown case")
	}
	if cs, _ := c.Get(7); cs.Unread != 2 {
		t.Errorf("Unread = %d, want 2", cs.Unread)
	}

	c.ClearUnread(7)
	if cs, _ := c.Get(7); cs.Unread != 0 {
		t.Errorf("Unread = %d after clear, want 0", cs.Unread)
	}
}

func TestCasesTitle(t *testing.T) {
	c := NewCases(&stubLister{cases: []protocol.CaseSummary{
		{ID: 1, Title: "Lease", CaseNumber: "2026-014"},
		{ID: 2, Title: "Estate"},
		{ID: 3},
	}})
	if err := c.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	tests := map[int64]string{
		1: "2026-014 Lease",
		2: "Estate",
		3: "Case 3",
		4: "Case 4",
	}
	for id, want := range tests {
		if got := c.Title(id); got != want {
			t.Errorf("Title(%d) = %q, want %q", id, got, want)
		}
	}
}

func TestFlashExpires(t *testing.T) {
	now := time.Unix(1000, 0)
	f := &Flash{now: func() time.Time { return now }}

	f.Error("send failed", time.Second)
	msg, isErr := f.Get()
	if msg != "send failed" || !isErr {
		t.Errorf("Get() = %q, %v", msg, isErr)
	}

	now = now.Add(2 * time.Second)
	if msg, _ := f.Get(); msg != "" {
		t.Errorf("Get() = %q after expiry, want empty", msg)
	}

	f.Info("reconnected", time.Second)
	if _, isErr := f.Get(); isErr {
		t.Error("Info() flagged as error")
	}
}
