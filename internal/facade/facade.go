// Offcourse - Offline-First Learning Client
// Copyright 2026 Offcourse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/offcourse/offcourse

// Package facade is the app-facing surface of the sync engine. Reads go to
// the local store first and degrade to the offline snapshot, then to empty
// defaults; a read path never returns a hard error to the UI for missing
// connectivity. Writes land locally and are queued for upstream replay.
package facade

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/offcourse/offcourse/internal/entitlement"
	"github.com/offcourse/offcourse/internal/logging"
	"github.com/offcourse/offcourse/internal/metrics"
	"github.com/offcourse/offcourse/internal/models"
	"github.com/offcourse/offcourse/internal/queue"
	"github.com/offcourse/offcourse/internal/session"
	"github.com/offcourse/offcourse/internal/store"
)

// ErrNotFound mirrors store.ErrNotFound for callers of single lookups.
var ErrNotFound = store.ErrNotFound

// LevelView is a level plus the caller's access decision.
type LevelView struct {
	models.Level
	Unlocked bool `json:"unlocked"`
}

// Facade bundles the local store, snapshot fallback, mutation queue,
// session and entitlement cache behind one API.
type Facade struct {
	store        store.Store
	snapshots    *store.SnapshotKeeper
	q            *queue.Queue
	sessions     *session.Manager
	entitlements *entitlement.Cache
}

// New wires the facade.
func New(s store.Store, snapshots *store.SnapshotKeeper, q *queue.Queue,
	sessions *session.Manager, entitlements *entitlement.Cache) *Facade {
	return &Facade{
		store:        s,
		snapshots:    snapshots,
		q:            q,
		sessions:     sessions,
		entitlements: entitlements,
	}
}

func (f *Facade) userID() string {
	sess, err := f.sessions.Current()
	if err != nil {
		return ""
	}
	return sess.UserID
}

// loadSnapshot returns the offline snapshot, or nil when none exists.
func (f *Facade) loadSnapshot() *models.Snapshot {
	if f.snapshots == nil {
		return nil
	}
	snap, err := f.snapshots.Load()
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logging.Err(err).Msg("load offline snapshot")
		}
		return nil
	}
	return snap
}

// Levels lists all course levels with the caller's unlock state. Store
// failure falls back to the snapshot; no snapshot means an empty list.
func (f *Facade) Levels(ctx context.Context) []LevelView {
	userID := f.userID()

	levels, err := f.store.AllLevels(ctx)
	if err != nil {
		logging.Err(err).Msg("level read failed, trying snapshot")
		metrics.SnapshotFallbacks.Inc()
		snap := f.loadSnapshot()
		if snap == nil {
			return []LevelView{}
		}
		levels = levels[:0]
		for _, l := range snap.Levels {
			levels = append(levels, l)
		}
		sortLevels(levels)
	}

	out := make([]LevelView, 0, len(levels))
	for _, l := range levels {
		out = append(out, LevelView{
			Level:    l,
			Unlocked: f.entitlements.IsUnlocked(userID, l),
		})
	}
	return out
}

func sortLevels(levels []models.Level) {
	sort.SliceStable(levels, func(i, j int) bool {
		if levels[i].OrderIndex != levels[j].OrderIndex {
			return levels[i].OrderIndex < levels[j].OrderIndex
		}
		return levels[i].ID < levels[j].ID
	})
}

// Lessons lists a level's lessons, snapshot-backed on store failure.
func (f *Facade) Lessons(ctx context.Context, levelID string) []models.Lesson {
	lessons, err := f.store.LessonsByLevel(ctx, levelID)
	if err != nil {
		logging.Err(err).Str("level_id", levelID).Msg("lesson read failed, trying snapshot")
		metrics.SnapshotFallbacks.Inc()
		if snap := f.loadSnapshot(); snap != nil {
			return snap.LessonsByLevel[levelID]
		}
		return []models.Lesson{}
	}
	if lessons == nil {
		return []models.Lesson{}
	}
	return lessons
}

// Lesson returns one lesson, or ErrNotFound.
func (f *Facade) Lesson(ctx context.Context, lessonID string) (*models.Lesson, error) {
	lesson, err := f.store.LessonByID(ctx, lessonID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		metrics.SnapshotFallbacks.Inc()
		if snap := f.loadSnapshot(); snap != nil {
			for _, lessons := range snap.LessonsByLevel {
				for _, l := range lessons {
					if l.ID == lessonID {
						found := l
						return &found, nil
					}
				}
			}
		}
		return nil, ErrNotFound
	}
	return lesson, err
}

// Quiz returns the lesson's quiz, or ErrNotFound. Quizzes are not held in
// the snapshot; an offline store failure surfaces as not found.
func (f *Facade) Quiz(ctx context.Context, lessonID string) (*models.Quiz, error) {
	quiz, err := f.store.QuizByLessonID(ctx, lessonID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		logging.Err(err).Str("lesson_id", lessonID).Msg("quiz read failed")
		return nil, ErrNotFound
	}
	return quiz, err
}

// Jobs lists postings reachable at the given maximum level.
func (f *Facade) Jobs(ctx context.Context, maxLevel int) []models.Job {
	jobs, err := f.store.JobsByLevel(ctx, maxLevel)
	if err != nil {
		logging.Err(err).Msg("job read failed")
		return []models.Job{}
	}
	if jobs == nil {
		return []models.Job{}
	}
	return jobs
}

// SaveProgress records a completion locally and queues it for upstream
// replay. The record is stamped with the signed-in user and the current
// time; a save with the same (lesson, quiz) replaces the previous one.
func (f *Facade) SaveProgress(ctx context.Context, rec models.ProgressRecord) error {
	sess, err := f.sessions.Current()
	if err != nil {
		return err
	}
	rec.UserID = sess.UserID
	rec.UpdatedAt = time.Now().UTC()
	if rec.Completed && rec.CompletedAt.IsZero() {
		rec.CompletedAt = rec.UpdatedAt
	}

	if err := f.store.SaveProgress(ctx, rec); err != nil {
		return err
	}
	if _, err := f.q.Enqueue(queue.ActionSaveProgress, rec); err != nil {
		// The local write stands; the queue failure means this record
		// rides along with the next successful save or full sync.
		logging.Err(err).Str("lesson_id", rec.LessonID).Msg("queue progress mutation")
	}
	return nil
}

// Progress lists the signed-in user's progress records for a lesson
// ("" for all lessons).
func (f *Facade) Progress(ctx context.Context, lessonID string) ([]models.ProgressRecord, error) {
	sess, err := f.sessions.Current()
	if err != nil {
		return nil, err
	}
	recs, err := f.store.Progress(ctx, store.ProgressFilter{UserID: sess.UserID, LessonID: lessonID})
	if err != nil {
		metrics.SnapshotFallbacks.Inc()
		if snap := f.loadSnapshot(); snap != nil {
			var out []models.ProgressRecord
			for _, rec := range snap.ProgressByLesson {
				if lessonID == "" || rec.LessonID == lessonID {
					out = append(out, rec)
				}
			}
			return out, nil
		}
		return []models.ProgressRecord{}, nil
	}
	return recs, nil
}

// LevelProgress summarizes the signed-in user's completion for one level.
// Failures degrade to zero values, never an error.
func (f *Facade) LevelProgress(ctx context.Context, levelID string) models.LevelProgress {
	sess, err := f.sessions.Current()
	if err != nil {
		return models.LevelProgress{}
	}
	lp, err := f.store.LevelProgress(ctx, sess.UserID, levelID)
	if err != nil {
		logging.Err(err).Str("level_id", levelID).Msg("level progress read failed")
		return models.LevelProgress{}
	}
	return lp
}

// CompletedLessons counts the signed-in user's completed lessons.
func (f *Facade) CompletedLessons(ctx context.Context) int {
	sess, err := f.sessions.Current()
	if err != nil {
		return 0
	}
	n, err := f.store.CompletedLessonsCount(ctx, sess.UserID)
	if err != nil {
		logging.Err(err).Msg("completed count read failed")
		return 0
	}
	return n
}

// MarkLessonDownloaded records that the lesson's content blob is (or is no
// longer) available on device.
func (f *Facade) MarkLessonDownloaded(ctx context.Context, lessonID, localPath string, downloaded bool) error {
	sess, err := f.sessions.Current()
	if err != nil {
		return err
	}
	return f.store.UpdateLessonDownloadStatus(ctx, sess.UserID, lessonID, localPath, downloaded)
}

// Downloads lists the signed-in user's on-device lesson content.
func (f *Facade) Downloads(ctx context.Context) []models.Download {
	sess, err := f.sessions.Current()
	if err != nil {
		return []models.Download{}
	}
	downloads, err := f.store.DownloadsByUser(ctx, sess.UserID)
	if err != nil {
		logging.Err(err).Msg("download read failed")
		return []models.Download{}
	}
	if downloads == nil {
		return []models.Download{}
	}
	return downloads
}
