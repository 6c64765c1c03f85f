// Offcourse - Offline-First Learning Client
// Copyright 2026 Offcourse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/offcourse/offcourse

package facade

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/offcourse/offcourse/internal/config"
	"github.com/offcourse/offcourse/internal/entitlement"
	"github.com/offcourse/offcourse/internal/models"
	"github.com/offcourse/offcourse/internal/queue"
	"github.com/offcourse/offcourse/internal/session"
	"github.com/offcourse/offcourse/internal/store"
)

// flakyStore wraps a real store and fails reads on demand, standing in for
// a corrupted or locked database file.
type flakyStore struct {
	store.Store
	fail bool
}

var errStoreDown = errors.New("store unavailable")

func (s *flakyStore) AllLevels(ctx context.Context) ([]models.Level, error) {
	if s.fail {
		return nil, errStoreDown
	}
	return s.Store.AllLevels(ctx)
}

func (s *flakyStore) LessonsByLevel(ctx context.Context, levelID string) ([]models.Lesson, error) {
	if s.fail {
		return nil, errStoreDown
	}
	return s.Store.LessonsByLevel(ctx, levelID)
}

func (s *flakyStore) Progress(ctx context.Context, f store.ProgressFilter) ([]models.ProgressRecord, error) {
	if s.fail {
		return nil, errStoreDown
	}
	return s.Store.Progress(ctx, f)
}

type fixture struct {
	f     *Facade
	st    *flakyStore
	q     *queue.Queue
	sess  *session.Manager
	snaps *store.SnapshotKeeper
}

type noEntitlements struct{}

func (noEntitlements) FetchEntitlements(ctx context.Context, userID string) ([]string, error) {
	return nil, errors.New("offline")
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	kv, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })

	base, err := store.NewDuckStore(filepath.Join(t.TempDir(), "facade.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = base.Close() })

	q, err := queue.Open(&config.QueueConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })

	sess, err := session.NewManager(kv, "")
	if err != nil {
		t.Fatalf("session manager: %v", err)
	}
	if err := sess.Begin("u1", "tok"); err != nil {
		t.Fatalf("begin session: %v", err)
	}

	st := &flakyStore{Store: base}
	fx := &fixture{
		st:    st,
		q:     q,
		sess:  sess,
		snaps: store.NewSnapshotKeeper(kv),
	}
	fx.f = New(st, fx.snaps, q, sess, entitlement.NewCache(kv, noEntitlements{}))

	mod := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if _, err := base.UpsertLevels(ctx, []models.Level{
		{ID: "l1", Name: "Foundations", OrderIndex: 1, Modified: mod},
		{ID: "l2", Name: "Pro", OrderIndex: 3, Modified: mod},
	}); err != nil {
		t.Fatalf("seed levels: %v", err)
	}
	if _, err := base.UpsertLessons(ctx, []models.Lesson{
		{ID: "les1", LevelID: "l1", Title: "Intro", OrderIndex: 1, Modified: mod},
	}); err != nil {
		t.Fatalf("seed lessons: %v", err)
	}
	return fx
}

func TestLevelsCarryUnlockState(t *testing.T) {
	fx := newFixture(t)

	levels := fx.f.Levels(context.Background())
	if len(levels) != 2 {
		t.Fatalf("want 2 levels, got %d", len(levels))
	}
	if !levels[0].Unlocked {
		t.Error("free tier level should be unlocked")
	}
	if levels[1].Unlocked {
		t.Error("paid level should be locked without entitlements")
	}
}

func TestLevelsFallBackToSnapshot(t *testing.T) {
	fx := newFixture(t)

	// Capture a snapshot while the store is healthy.
	if err := fx.snaps.Save(&models.Snapshot{
		Levels: map[string]models.Level{
			"l1": {ID: "l1", Name: "Foundations", OrderIndex: 1},
		},
		LessonsByLevel: map[string][]models.Lesson{
			"l1": {{ID: "les1", LevelID: "l1", Title: "Intro"}},
		},
	}); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	fx.st.fail = true

	levels := fx.f.Levels(context.Background())
	if len(levels) != 1 || levels[0].Name != "Foundations" {
		t.Fatalf("snapshot fallback failed: %+v", levels)
	}

	lessons := fx.f.Lessons(context.Background(), "l1")
	if len(lessons) != 1 || lessons[0].ID != "les1" {
		t.Fatalf("lesson fallback failed: %+v", lessons)
	}
}

func TestReadsDegradeToEmptyWithoutSnapshot(t *testing.T) {
	fx := newFixture(t)
	fx.st.fail = true

	if levels := fx.f.Levels(context.Background()); len(levels) != 0 {
		t.Fatalf("want empty levels, got %+v", levels)
	}
	if lessons := fx.f.Lessons(context.Background(), "l1"); len(lessons) != 0 {
		t.Fatalf("want empty lessons, got %+v", lessons)
	}
}

func TestSaveProgressWritesLocallyAndEnqueues(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	score := 0.75
	err := fx.f.SaveProgress(ctx, models.ProgressRecord{
		LessonID: "les1", Completed: true, Score: &score,
	})
	if err != nil {
		t.Fatalf("save progress: %v", err)
	}

	recs, err := fx.f.Progress(ctx, "les1")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if len(recs) != 1 || recs[0].UserID != "u1" || !recs[0].Completed {
		t.Fatalf("local record wrong: %+v", recs)
	}
	if recs[0].CompletedAt.IsZero() || recs[0].UpdatedAt.IsZero() {
		t.Fatalf("timestamps not stamped: %+v", recs[0])
	}

	items, err := fx.q.Pending()
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(items) != 1 || items[0].Action != queue.ActionSaveProgress {
		t.Fatalf("mutation not queued: %+v", items)
	}
}

func TestSaveProgressRequiresSession(t *testing.T) {
	fx := newFixture(t)
	if err := fx.sess.End(); err != nil {
		t.Fatalf("end session: %v", err)
	}

	err := fx.f.SaveProgress(context.Background(), models.ProgressRecord{LessonID: "les1"})
	if !errors.Is(err, session.ErrNoSession) {
		t.Fatalf("want ErrNoSession, got %v", err)
	}
}

func TestLevelProgressAndDownloads(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if err := fx.f.SaveProgress(ctx, models.ProgressRecord{LessonID: "les1", Completed: true}); err != nil {
		t.Fatalf("save progress: %v", err)
	}

	lp := fx.f.LevelProgress(ctx, "l1")
	if lp.Total != 1 || lp.Completed != 1 || lp.Percentage != 100 {
		t.Fatalf("unexpected level progress: %+v", lp)
	}
	if n := fx.f.CompletedLessons(ctx); n != 1 {
		t.Fatalf("want 1 completed lesson, got %d", n)
	}

	if err := fx.f.MarkLessonDownloaded(ctx, "les1", "/blobs/les1", true); err != nil {
		t.Fatalf("mark downloaded: %v", err)
	}
	downloads := fx.f.Downloads(ctx)
	if len(downloads) != 1 || !downloads[0].Downloaded {
		t.Fatalf("unexpected downloads: %+v", downloads)
	}
}
