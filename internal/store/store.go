// Offcourse - Offline-First Learning Client
// Copyright 2026 Offcourse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/offcourse/offcourse

// Package store implements the platform-polymorphic Local Store Adapter.
//
// One Store interface, two engines: DuckStore persists to an embedded
// relational database, DocStore persists a single JSON document in Badger
// (the browser-storage shape). The engine is selected once at startup from
// configuration; nothing above this package ever branches on it.
//
// Content tables are a cache of the remote backend. Local copies are
// created or replaced by sync, never locally owned. Progress and download
// rows are the client's own writes and the only data pushed upstream.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/offcourse/offcourse/internal/config"
	"github.com/offcourse/offcourse/internal/models"
)

// ErrNotFound is returned by single-record lookups when no record matches.
var ErrNotFound = errors.New("store: record not found")

// UpsertResult reports what a bulk upsert-from-remote actually did.
type UpsertResult struct {
	// Applied counts records inserted or replaced.
	Applied int

	// SkippedStale counts remote records whose modified timestamp was not
	// strictly newer than the local copy (no needless overwrite).
	SkippedStale int

	// SkippedOrphan counts records whose referenced parent (level for a
	// lesson, lesson for a quiz) does not exist locally. They are deferred
	// to a later pass, never inserted orphaned.
	SkippedOrphan int
}

// ProgressFilter narrows Progress queries. UserID is required. An empty
// LessonID matches any lesson. A nil QuizID matches any quiz; a pointer to
// the empty string matches only records with no quiz.
type ProgressFilter struct {
	UserID   string
	LessonID string
	QuizID   *string
}

// Store is the uniform persistence contract both engines implement.
type Store interface {
	// Content reads.
	AllLevels(ctx context.Context) ([]models.Level, error)
	LessonsByLevel(ctx context.Context, levelID string) ([]models.Lesson, error)
	LessonByID(ctx context.Context, lessonID string) (*models.Lesson, error)
	QuizByLessonID(ctx context.Context, lessonID string) (*models.Quiz, error)
	JobsByLevel(ctx context.Context, maxLevel int) ([]models.Job, error)

	// Progress. SaveProgress is an upsert keyed by (user, lesson, quiz):
	// a second save with the same key replaces, never duplicates.
	Progress(ctx context.Context, f ProgressFilter) ([]models.ProgressRecord, error)
	SaveProgress(ctx context.Context, rec models.ProgressRecord) error
	CompletedLessonsCount(ctx context.Context, userID string) (int, error)
	LevelProgress(ctx context.Context, userID, levelID string) (models.LevelProgress, error)

	// Downloads.
	UpdateLessonDownloadStatus(ctx context.Context, userID, lessonID, localPath string, downloaded bool) error
	DownloadsByUser(ctx context.Context, userID string) ([]models.Download, error)

	// Bulk upserts from remote. Remote wins on strictly newer modified
	// timestamps; records referencing missing parents are skipped.
	UpsertLevels(ctx context.Context, levels []models.Level) (UpsertResult, error)
	UpsertLessons(ctx context.Context, lessons []models.Lesson) (UpsertResult, error)
	UpsertQuizzes(ctx context.Context, quizzes []models.Quiz) (UpsertResult, error)
	UpsertJobs(ctx context.Context, jobs []models.Job) (UpsertResult, error)

	Ping(ctx context.Context) error
	Close() error
}

// Open selects and opens the configured engine, seeding content tables from
// the embedded starter data when they are empty. kv is the shared Badger
// handle used by the document engine.
func Open(ctx context.Context, cfg *config.StoreConfig, kv *badger.DB) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Engine {
	case "duckdb":
		s, err = NewDuckStore(cfg.Path)
	case "document":
		s, err = NewDocStore(kv)
	default:
		return nil, fmt.Errorf("store: unknown engine %q", cfg.Engine)
	}
	if err != nil {
		return nil, err
	}

	if err := seedIfEmpty(ctx, s); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
