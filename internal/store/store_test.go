// Offcourse - Offline-First Learning Client
// Copyright 2026 Offcourse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/offcourse/offcourse

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/offcourse/offcourse/internal/config"
	"github.com/offcourse/offcourse/internal/models"
)

func openBadger(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	kv, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

// engines returns a fresh empty instance of each engine under its name so
// the whole contract suite runs against both.
func engines(t *testing.T) map[string]Store {
	t.Helper()

	duck, err := NewDuckStore(filepath.Join(t.TempDir(), "offcourse.db"))
	if err != nil {
		t.Fatalf("open duckdb store: %v", err)
	}
	t.Cleanup(func() { _ = duck.Close() })

	doc, err := NewDocStore(openBadger(t))
	if err != nil {
		t.Fatalf("open document store: %v", err)
	}

	return map[string]Store{"duckdb": duck, "document": doc}
}

func ts(offset time.Duration) time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(offset)
}

func seedContent(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	levels := []models.Level{
		{ID: "l1", Name: "Foundations", OrderIndex: 1, Modified: ts(0)},
		{ID: "l2", Name: "Advanced", OrderIndex: 2, Modified: ts(0)},
	}
	if _, err := s.UpsertLevels(ctx, levels); err != nil {
		t.Fatalf("upsert levels: %v", err)
	}

	lessons := []models.Lesson{
		{ID: "les1", LevelID: "l1", Title: "Intro", OrderIndex: 1, Modified: ts(0)},
		{ID: "les2", LevelID: "l1", Title: "Basics", OrderIndex: 2, Modified: ts(0)},
		{ID: "les3", LevelID: "l2", Title: "Deep Dive", OrderIndex: 1, Modified: ts(0)},
	}
	if _, err := s.UpsertLessons(ctx, lessons); err != nil {
		t.Fatalf("upsert lessons: %v", err)
	}
}

func TestContentReads(t *testing.T) {
	for name, s := range engines(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedContent(t, s)

			levels, err := s.AllLevels(ctx)
			if err != nil {
				t.Fatalf("AllLevels: %v", err)
			}
			if len(levels) != 2 || levels[0].ID != "l1" || levels[1].ID != "l2" {
				t.Fatalf("unexpected levels: %+v", levels)
			}

			lessons, err := s.LessonsByLevel(ctx, "l1")
			if err != nil {
				t.Fatalf("LessonsByLevel: %v", err)
			}
			if len(lessons) != 2 || lessons[0].ID != "les1" {
				t.Fatalf("unexpected lessons: %+v", lessons)
			}

			lesson, err := s.LessonByID(ctx, "les3")
			if err != nil {
				t.Fatalf("LessonByID: %v", err)
			}
			if lesson.Title != "Deep Dive" {
				t.Fatalf("unexpected lesson: %+v", lesson)
			}

			if _, err := s.LessonByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("want ErrNotFound, got %v", err)
			}
		})
	}
}

func TestRemoteWinsOnNewerModified(t *testing.T) {
	for name, s := range engines(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedContent(t, s)

			// Same timestamp: no overwrite.
			res, err := s.UpsertLevels(ctx, []models.Level{
				{ID: "l1", Name: "Renamed", OrderIndex: 1, Modified: ts(0)},
			})
			if err != nil {
				t.Fatalf("upsert: %v", err)
			}
			if res.SkippedStale != 1 || res.Applied != 0 {
				t.Fatalf("same timestamp should be skipped: %+v", res)
			}

			// Older: no overwrite.
			res, err = s.UpsertLevels(ctx, []models.Level{
				{ID: "l1", Name: "Renamed", OrderIndex: 1, Modified: ts(-time.Hour)},
			})
			if err != nil {
				t.Fatalf("upsert: %v", err)
			}
			if res.SkippedStale != 1 {
				t.Fatalf("older timestamp should be skipped: %+v", res)
			}

			// Strictly newer: overwrite.
			res, err = s.UpsertLevels(ctx, []models.Level{
				{ID: "l1", Name: "Renamed", OrderIndex: 1, Modified: ts(time.Hour)},
			})
			if err != nil {
				t.Fatalf("upsert: %v", err)
			}
			if res.Applied != 1 {
				t.Fatalf("newer timestamp should apply: %+v", res)
			}

			levels, err := s.AllLevels(ctx)
			if err != nil {
				t.Fatalf("AllLevels: %v", err)
			}
			if levels[0].Name != "Renamed" {
				t.Fatalf("expected overwrite, got %+v", levels[0])
			}
		})
	}
}

func TestOrphanSkip(t *testing.T) {
	for name, s := range engines(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedContent(t, s)

			res, err := s.UpsertLessons(ctx, []models.Lesson{
				{ID: "orphan", LevelID: "no-such-level", Title: "Lost", Modified: ts(0)},
				{ID: "les4", LevelID: "l2", Title: "Kept", Modified: ts(0)},
			})
			if err != nil {
				t.Fatalf("upsert lessons: %v", err)
			}
			if res.SkippedOrphan != 1 || res.Applied != 1 {
				t.Fatalf("unexpected result: %+v", res)
			}

			if _, err := s.LessonByID(ctx, "orphan"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("orphan should not be stored, got %v", err)
			}

			res, err = s.UpsertQuizzes(ctx, []models.Quiz{
				{ID: "q1", LessonID: "les1", Title: "Check", Modified: ts(0)},
				{ID: "q2", LessonID: "no-such-lesson", Title: "Lost", Modified: ts(0)},
			})
			if err != nil {
				t.Fatalf("upsert quizzes: %v", err)
			}
			if res.SkippedOrphan != 1 || res.Applied != 1 {
				t.Fatalf("unexpected quiz result: %+v", res)
			}
		})
	}
}

func TestQuizQuestionsRoundTrip(t *testing.T) {
	for name, s := range engines(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedContent(t, s)

			want := []models.QuizQuestion{
				{Prompt: "2+2?", Choices: []string{"3", "4"}, Answer: 1},
			}
			_, err := s.UpsertQuizzes(ctx, []models.Quiz{
				{ID: "q1", LessonID: "les1", Title: "Math", Questions: want, Modified: ts(0)},
			})
			if err != nil {
				t.Fatalf("upsert quiz: %v", err)
			}

			quiz, err := s.QuizByLessonID(ctx, "les1")
			if err != nil {
				t.Fatalf("QuizByLessonID: %v", err)
			}
			if len(quiz.Questions) != 1 || quiz.Questions[0].Prompt != "2+2?" || quiz.Questions[0].Answer != 1 {
				t.Fatalf("questions did not round-trip: %+v", quiz.Questions)
			}

			if _, err := s.QuizByLessonID(ctx, "les2"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("want ErrNotFound for lesson without quiz, got %v", err)
			}
		})
	}
}

func TestSaveProgressUpsertsByCompositeKey(t *testing.T) {
	for name, s := range engines(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedContent(t, s)

			quiz := "q1"
			score1 := 0.5
			if err := s.SaveProgress(ctx, models.ProgressRecord{
				UserID: "u1", LessonID: "les1", QuizID: &quiz,
				Completed: false, Score: &score1, UpdatedAt: ts(0),
			}); err != nil {
				t.Fatalf("save: %v", err)
			}

			// Same (user, lesson, quiz) replaces.
			score2 := 0.9
			if err := s.SaveProgress(ctx, models.ProgressRecord{
				UserID: "u1", LessonID: "les1", QuizID: &quiz,
				Completed: true, Score: &score2, CompletedAt: ts(time.Minute), UpdatedAt: ts(time.Minute),
			}); err != nil {
				t.Fatalf("save again: %v", err)
			}

			// Nil quiz is a distinct identity, not a wildcard.
			if err := s.SaveProgress(ctx, models.ProgressRecord{
				UserID: "u1", LessonID: "les1", Completed: true, UpdatedAt: ts(2 * time.Minute),
			}); err != nil {
				t.Fatalf("save no-quiz: %v", err)
			}

			all, err := s.Progress(ctx, ProgressFilter{UserID: "u1"})
			if err != nil {
				t.Fatalf("Progress: %v", err)
			}
			if len(all) != 2 {
				t.Fatalf("want 2 records, got %d: %+v", len(all), all)
			}

			withQuiz, err := s.Progress(ctx, ProgressFilter{UserID: "u1", QuizID: &quiz})
			if err != nil {
				t.Fatalf("Progress filter: %v", err)
			}
			if len(withQuiz) != 1 || withQuiz[0].Score == nil || *withQuiz[0].Score != 0.9 || !withQuiz[0].Completed {
				t.Fatalf("quiz record was not replaced: %+v", withQuiz)
			}

			empty := ""
			noQuiz, err := s.Progress(ctx, ProgressFilter{UserID: "u1", QuizID: &empty})
			if err != nil {
				t.Fatalf("Progress no-quiz filter: %v", err)
			}
			if len(noQuiz) != 1 || noQuiz[0].QuizID != nil {
				t.Fatalf("no-quiz filter should match only the quizless record: %+v", noQuiz)
			}
		})
	}
}

func TestLevelProgressAndCompletedCount(t *testing.T) {
	for name, s := range engines(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedContent(t, s)

			lp, err := s.LevelProgress(ctx, "u1", "l1")
			if err != nil {
				t.Fatalf("LevelProgress: %v", err)
			}
			if lp.Total != 2 || lp.Completed != 0 || lp.Percentage != 0 {
				t.Fatalf("fresh level progress: %+v", lp)
			}

			if err := s.SaveProgress(ctx, models.ProgressRecord{
				UserID: "u1", LessonID: "les1", Completed: true, UpdatedAt: ts(0),
			}); err != nil {
				t.Fatalf("save: %v", err)
			}
			// Completion in another level must not count toward l1.
			if err := s.SaveProgress(ctx, models.ProgressRecord{
				UserID: "u1", LessonID: "les3", Completed: true, UpdatedAt: ts(0),
			}); err != nil {
				t.Fatalf("save: %v", err)
			}

			lp, err = s.LevelProgress(ctx, "u1", "l1")
			if err != nil {
				t.Fatalf("LevelProgress: %v", err)
			}
			if lp.Total != 2 || lp.Completed != 1 || lp.Percentage != 50 {
				t.Fatalf("unexpected level progress: %+v", lp)
			}

			count, err := s.CompletedLessonsCount(ctx, "u1")
			if err != nil {
				t.Fatalf("CompletedLessonsCount: %v", err)
			}
			if count != 2 {
				t.Fatalf("want 2 completed lessons, got %d", count)
			}

			// Empty level: percentage stays 0, no division.
			lp, err = s.LevelProgress(ctx, "u1", "no-such-level")
			if err != nil {
				t.Fatalf("LevelProgress empty: %v", err)
			}
			if lp.Total != 0 || lp.Percentage != 0 {
				t.Fatalf("empty level progress: %+v", lp)
			}
		})
	}
}

func TestJobsFilteredByMinLevel(t *testing.T) {
	for name, s := range engines(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.UpsertJobs(ctx, []models.Job{
				{ID: "j1", Title: "Junior", MinLevel: 0, OrderIndex: 1, Modified: ts(0)},
				{ID: "j2", Title: "Mid", MinLevel: 2, OrderIndex: 2, Modified: ts(0)},
				{ID: "j3", Title: "Senior", MinLevel: 5, OrderIndex: 3, Modified: ts(0)},
			})
			if err != nil {
				t.Fatalf("upsert jobs: %v", err)
			}

			jobs, err := s.JobsByLevel(ctx, 2)
			if err != nil {
				t.Fatalf("JobsByLevel: %v", err)
			}
			if len(jobs) != 2 || jobs[0].ID != "j1" || jobs[1].ID != "j2" {
				t.Fatalf("unexpected jobs: %+v", jobs)
			}
		})
	}
}

func TestDownloadStatus(t *testing.T) {
	for name, s := range engines(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedContent(t, s)

			if err := s.UpdateLessonDownloadStatus(ctx, "u1", "les1", "/data/les1.bin", true); err != nil {
				t.Fatalf("update download: %v", err)
			}
			if err := s.UpdateLessonDownloadStatus(ctx, "u1", "les1", "", false); err != nil {
				t.Fatalf("update download again: %v", err)
			}

			downloads, err := s.DownloadsByUser(ctx, "u1")
			if err != nil {
				t.Fatalf("DownloadsByUser: %v", err)
			}
			if len(downloads) != 1 || downloads[0].Downloaded {
				t.Fatalf("second update should replace: %+v", downloads)
			}
		})
	}
}

func TestOpenSeedsEmptyStore(t *testing.T) {
	ctx := context.Background()
	cfg := &config.StoreConfig{
		Engine: "duckdb",
		Path:   filepath.Join(t.TempDir(), "seeded.db"),
	}
	s, err := Open(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	levels, err := s.AllLevels(ctx)
	if err != nil {
		t.Fatalf("AllLevels: %v", err)
	}
	if len(levels) == 0 {
		t.Fatal("fresh store should be seeded with starter content")
	}
}

func TestOpenUnknownEngine(t *testing.T) {
	_, err := Open(context.Background(), &config.StoreConfig{Engine: "sqlite"}, nil)
	if err == nil {
		t.Fatal("want error for unknown engine")
	}
}

func TestDocStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	opts := badger.DefaultOptions(dir).WithLogger(nil)
	kv, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}

	s, err := NewDocStore(kv)
	if err != nil {
		t.Fatalf("open doc store: %v", err)
	}
	if _, err := s.UpsertLevels(ctx, []models.Level{
		{ID: "l1", Name: "Persisted", OrderIndex: 1, Modified: ts(0)},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := kv.Close(); err != nil {
		t.Fatalf("close badger: %v", err)
	}

	kv, err = badger.Open(opts)
	if err != nil {
		t.Fatalf("reopen badger: %v", err)
	}
	defer kv.Close()

	s, err = NewDocStore(kv)
	if err != nil {
		t.Fatalf("reopen doc store: %v", err)
	}
	levels, err := s.AllLevels(ctx)
	if err != nil {
		t.Fatalf("AllLevels: %v", err)
	}
	if len(levels) != 1 || levels[0].Name != "Persisted" {
		t.Fatalf("document did not survive reopen: %+v", levels)
	}
}

func TestSnapshotKeeper(t *testing.T) {
	kv := openBadger(t)
	keeper := NewSnapshotKeeper(kv)

	if _, err := keeper.Load(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound before first save, got %v", err)
	}

	snap := &models.Snapshot{
		Levels: map[string]models.Level{
			"l1": {ID: "l1", Name: "Foundations", OrderIndex: 1},
		},
		CachedAt: ts(0),
	}
	if err := keeper.Save(snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := keeper.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Levels["l1"].Name != "Foundations" || !got.CachedAt.Equal(ts(0)) {
		t.Fatalf("snapshot did not round-trip: %+v", got)
	}

	if got.Stale(ts(time.Hour)) {
		t.Fatal("one hour old snapshot should not be stale")
	}
	if !got.Stale(ts(25 * time.Hour)) {
		t.Fatal("25 hour old snapshot should be stale")
	}
}
