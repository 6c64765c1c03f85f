// Offcourse - Offline-First Learning Client
// Copyright 2026 Offcourse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/offcourse/offcourse

package entitlement

import (
	"context"
	"errors"
	"testing"

	"github.com/dgraph-io/badger/v4"

	"github.com/offcourse/offcourse/internal/models"
)

type fakeFetcher struct {
	levels []string
	err    error
	calls  int
}

func (f *fakeFetcher) FetchEntitlements(ctx context.Context, userID string) ([]string, error) {
	f.calls++
	return f.levels, f.err
}

func openBadger(t *testing.T) *badger.DB {
	t.Helper()
	kv, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func TestFreeTierAlwaysUnlocked(t *testing.T) {
	c := NewCache(openBadger(t), &fakeFetcher{err: errors.New("offline")})

	for _, order := range []int{0, 1, 2} {
		level := models.Level{ID: "l", OrderIndex: order}
		if !c.IsUnlocked("u1", level) {
			t.Errorf("order %d should be free tier", order)
		}
	}
	if c.IsUnlocked("u1", models.Level{ID: "l", OrderIndex: 3}) {
		t.Error("paid level should be locked without entitlements")
	}
}

func TestRefreshDeduplicatesPurchases(t *testing.T) {
	ctx := context.Background()
	gw := &fakeFetcher{levels: []string{"level-3", "level-3", "level-4"}}
	c := NewCache(openBadger(t), gw)

	if err := c.Refresh(ctx, "u1"); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	ids, _, ok := c.Cached("u1")
	if !ok {
		t.Fatal("expected a cached set")
	}
	want := []string{"level-3", "level-4"}
	if len(ids) != len(want) {
		t.Fatalf("cached set = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("cached set = %v, want %v", ids, want)
		}
	}
}

func TestRefreshReplacesWholesale(t *testing.T) {
	ctx := context.Background()
	gw := &fakeFetcher{levels: []string{"level-3", "level-4"}}
	c := NewCache(openBadger(t), gw)

	if err := c.Refresh(ctx, "u1"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !c.IsUnlocked("u1", models.Level{ID: "level-3", OrderIndex: 3}) {
		t.Fatal("level-3 should be unlocked after refresh")
	}

	// Entitlement revoked upstream: next refresh drops it.
	gw.levels = []string{"level-4"}
	if err := c.Refresh(ctx, "u1"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if c.IsUnlocked("u1", models.Level{ID: "level-3", OrderIndex: 3}) {
		t.Fatal("revoked entitlement should not survive refresh")
	}
	if !c.IsUnlocked("u1", models.Level{ID: "level-4", OrderIndex: 4}) {
		t.Fatal("level-4 should remain unlocked")
	}
}

func TestFailedRefreshKeepsPriorSet(t *testing.T) {
	ctx := context.Background()
	gw := &fakeFetcher{levels: []string{"level-3"}}
	c := NewCache(openBadger(t), gw)

	if err := c.Refresh(ctx, "u1"); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	gw.err = errors.New("backend down")
	if err := c.Refresh(ctx, "u1"); err == nil {
		t.Fatal("want refresh error")
	}
	if !c.IsUnlocked("u1", models.Level{ID: "level-3", OrderIndex: 3}) {
		t.Fatal("failed refresh must keep the cached set")
	}
}

func TestCacheSurvivesNewInstance(t *testing.T) {
	ctx := context.Background()
	kv := openBadger(t)

	c := NewCache(kv, &fakeFetcher{levels: []string{"level-5"}})
	if err := c.Refresh(ctx, "u1"); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	// Fresh instance over the same Badger handle, backend unreachable.
	c2 := NewCache(kv, &fakeFetcher{err: errors.New("offline")})
	if !c2.IsUnlocked("u1", models.Level{ID: "level-5", OrderIndex: 5}) {
		t.Fatal("entitlements should load from persistence")
	}

	levels, refreshedAt, ok := c2.Cached("u1")
	if !ok || len(levels) != 1 || levels[0] != "level-5" || refreshedAt.IsZero() {
		t.Fatalf("cached entry wrong: %v %v %v", levels, refreshedAt, ok)
	}

	if _, _, ok := c2.Cached("stranger"); ok {
		t.Fatal("unknown user should have no cached entry")
	}
}
