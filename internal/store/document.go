// Offcourse - Offline-First Learning Client
// Copyright 2026 Offcourse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/offcourse/offcourse

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/offcourse/offcourse/internal/logging"
	"github.com/offcourse/offcourse/internal/metrics"
	"github.com/offcourse/offcourse/internal/models"
)

// docKey is the single Badger key holding the whole document.
var docKey = []byte("store:document:v1")

// document is the one JSON value the DocStore persists. Every mutation
// rewrites it wholesale; there is no partial update below a write.
type document struct {
	Levels    []models.Level                   `json:"levels"`
	Lessons   []models.Lesson                  `json:"lessons"`
	Quizzes   []models.Quiz                    `json:"quizzes"`
	Jobs      []models.Job                     `json:"jobs"`
	Progress  map[string]models.ProgressRecord `json:"progress"`
	Downloads map[string]models.Download       `json:"downloads"`
}

func newDocument() *document {
	return &document{
		Progress:  make(map[string]models.ProgressRecord),
		Downloads: make(map[string]models.Download),
	}
}

// DocStore is the document engine of the Local Store Adapter. It keeps the
// whole dataset as one JSON document in the shared Badger handle, with an
// in-memory copy guarded by a mutex. Suited to small datasets and platforms
// without an embedded relational engine.
type DocStore struct {
	kv *badger.DB

	mu  sync.RWMutex
	doc *document
}

// NewDocStore opens the document engine over the shared Badger handle,
// loading the persisted document if one exists.
func NewDocStore(kv *badger.DB) (*DocStore, error) {
	if kv == nil {
		return nil, errors.New("store: document engine requires a badger handle")
	}
	s := &DocStore{kv: kv, doc: newDocument()}

	err := kv.View(func(txn *badger.Txn) error {
		item, err := txn.Get(docKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, s.doc)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	if s.doc.Progress == nil {
		s.doc.Progress = make(map[string]models.ProgressRecord)
	}
	if s.doc.Downloads == nil {
		s.doc.Downloads = make(map[string]models.Download)
	}

	logging.Info().Int("levels", len(s.doc.Levels)).Int("lessons", len(s.doc.Lessons)).
		Msg("document store opened")
	return s, nil
}

// persist writes the current document back to Badger. Callers hold mu.
func (s *DocStore) persist() error {
	b, err := json.Marshal(s.doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	err = s.kv.Update(func(txn *badger.Txn) error {
		return txn.Set(docKey, b)
	})
	if err != nil {
		metrics.StoreErrors.WithLabelValues("persist_document").Inc()
		return fmt.Errorf("persist document: %w", err)
	}
	return nil
}

// Ping verifies the Badger handle is usable.
func (s *DocStore) Ping(ctx context.Context) error {
	if s.kv.IsClosed() {
		return errors.New("store: badger handle closed")
	}
	return ctx.Err()
}

// Close is a no-op; the shared Badger handle is owned by the caller.
func (s *DocStore) Close() error { return nil }

func (s *DocStore) AllLevels(ctx context.Context) ([]models.Level, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Level, len(s.doc.Levels))
	copy(out, s.doc.Levels)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OrderIndex != out[j].OrderIndex {
			return out[i].OrderIndex < out[j].OrderIndex
		}
		return out[i].ID < out[j].ID
	})
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (s *DocStore) LessonsByLevel(ctx context.Context, levelID string) ([]models.Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Lesson
	for _, l := range s.doc.Lessons {
		if l.LevelID == levelID {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OrderIndex != out[j].OrderIndex {
			return out[i].OrderIndex < out[j].OrderIndex
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *DocStore) LessonByID(ctx context.Context, lessonID string) (*models.Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.doc.Lessons {
		if l.ID == lessonID {
			lesson := l
			return &lesson, nil
		}
	}
	return nil, ErrNotFound
}

func (s *DocStore) QuizByLessonID(ctx context.Context, lessonID string) (*models.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *models.Quiz
	for i := range s.doc.Quizzes {
		q := s.doc.Quizzes[i]
		if q.LessonID != lessonID {
			continue
		}
		if best == nil || q.OrderIndex < best.OrderIndex {
			quiz := q
			best = &quiz
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	if best.Questions == nil {
		best.Questions = []models.QuizQuestion{}
	}
	return best, nil
}

func (s *DocStore) JobsByLevel(ctx context.Context, maxLevel int) ([]models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Job
	for _, j := range s.doc.Jobs {
		if j.MinLevel <= maxLevel {
			out = append(out, j)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OrderIndex != out[j].OrderIndex {
			return out[i].OrderIndex < out[j].OrderIndex
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *DocStore) Progress(ctx context.Context, f ProgressFilter) ([]models.ProgressRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ProgressRecord
	for _, rec := range s.doc.Progress {
		if rec.UserID != f.UserID {
			continue
		}
		if f.LessonID != "" && rec.LessonID != f.LessonID {
			continue
		}
		if f.QuizID != nil {
			quiz := ""
			if rec.QuizID != nil {
				quiz = *rec.QuizID
			}
			if quiz != *f.QuizID {
				continue
			}
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *DocStore) SaveProgress(ctx context.Context, rec models.ProgressRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Progress[rec.Key()] = rec
	return s.persist()
}

func (s *DocStore) CompletedLessonsCount(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	for _, rec := range s.doc.Progress {
		if rec.UserID == userID && rec.Completed {
			seen[rec.LessonID] = true
		}
	}
	return len(seen), nil
}

func (s *DocStore) LevelProgress(ctx context.Context, userID, levelID string) (models.LevelProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lessonIDs := make(map[string]bool)
	for _, l := range s.doc.Lessons {
		if l.LevelID == levelID {
			lessonIDs[l.ID] = true
		}
	}

	completed := make(map[string]bool)
	for _, rec := range s.doc.Progress {
		if rec.UserID == userID && rec.Completed && lessonIDs[rec.LessonID] {
			completed[rec.LessonID] = true
		}
	}
	return models.NewLevelProgress(len(lessonIDs), len(completed)), nil
}

func (s *DocStore) UpdateLessonDownloadStatus(ctx context.Context, userID, lessonID, localPath string, downloaded bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Downloads[userID+"\x1f"+lessonID] = models.Download{
		UserID:     userID,
		LessonID:   lessonID,
		LocalPath:  localPath,
		Downloaded: downloaded,
		UpdatedAt:  time.Now().UTC(),
	}
	return s.persist()
}

func (s *DocStore) DownloadsByUser(ctx context.Context, userID string) ([]models.Download, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Download
	for _, d := range s.doc.Downloads {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LessonID < out[j].LessonID })
	return out, nil
}

func (s *DocStore) UpsertLevels(ctx context.Context, levels []models.Level) (UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res UpsertResult

	byID := make(map[string]int, len(s.doc.Levels))
	for i, l := range s.doc.Levels {
		byID[l.ID] = i
	}
	for _, l := range levels {
		if i, ok := byID[l.ID]; ok {
			if !l.Modified.After(s.doc.Levels[i].Modified) {
				res.SkippedStale++
				continue
			}
			s.doc.Levels[i] = l
		} else {
			byID[l.ID] = len(s.doc.Levels)
			s.doc.Levels = append(s.doc.Levels, l)
		}
		res.Applied++
	}
	if res.Applied > 0 {
		if err := s.persist(); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (s *DocStore) UpsertLessons(ctx context.Context, lessons []models.Lesson) (UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res UpsertResult

	parents := make(map[string]bool, len(s.doc.Levels))
	for _, l := range s.doc.Levels {
		parents[l.ID] = true
	}
	byID := make(map[string]int, len(s.doc.Lessons))
	for i, l := range s.doc.Lessons {
		byID[l.ID] = i
	}
	for _, l := range lessons {
		if !parents[l.LevelID] {
			logging.Warn().Str("lesson_id", l.ID).Str("level_id", l.LevelID).
				Msg("skipping lesson with unknown level")
			res.SkippedOrphan++
			continue
		}
		if i, ok := byID[l.ID]; ok {
			if !l.Modified.After(s.doc.Lessons[i].Modified) {
				res.SkippedStale++
				continue
			}
			s.doc.Lessons[i] = l
		} else {
			byID[l.ID] = len(s.doc.Lessons)
			s.doc.Lessons = append(s.doc.Lessons, l)
		}
		res.Applied++
	}
	if res.Applied > 0 {
		if err := s.persist(); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (s *DocStore) UpsertQuizzes(ctx context.Context, quizzes []models.Quiz) (UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res UpsertResult

	parents := make(map[string]bool, len(s.doc.Lessons))
	for _, l := range s.doc.Lessons {
		parents[l.ID] = true
	}
	byID := make(map[string]int, len(s.doc.Quizzes))
	for i, q := range s.doc.Quizzes {
		byID[q.ID] = i
	}
	for _, q := range quizzes {
		if !parents[q.LessonID] {
			logging.Warn().Str("quiz_id", q.ID).Str("lesson_id", q.LessonID).
				Msg("skipping quiz with unknown lesson")
			res.SkippedOrphan++
			continue
		}
		if i, ok := byID[q.ID]; ok {
			if !q.Modified.After(s.doc.Quizzes[i].Modified) {
				res.SkippedStale++
				continue
			}
			s.doc.Quizzes[i] = q
		} else {
			byID[q.ID] = len(s.doc.Quizzes)
			s.doc.Quizzes = append(s.doc.Quizzes, q)
		}
		res.Applied++
	}
	if res.Applied > 0 {
		if err := s.persist(); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (s *DocStore) UpsertJobs(ctx context.Context, jobs []models.Job) (UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res UpsertResult

	byID := make(map[string]int, len(s.doc.Jobs))
	for i, j := range s.doc.Jobs {
		byID[j.ID] = i
	}
	for _, j := range jobs {
		if i, ok := byID[j.ID]; ok {
			if !j.Modified.After(s.doc.Jobs[i].Modified) {
				res.SkippedStale++
				continue
			}
			s.doc.Jobs[i] = j
		} else {
			byID[j.ID] = len(s.doc.Jobs)
			s.doc.Jobs = append(s.doc.Jobs, j)
		}
		res.Applied++
	}
	if res.Applied > 0 {
		if err := s.persist(); err != nil {
			return res, err
		}
	}
	return res, nil
}
