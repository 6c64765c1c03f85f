// Offcourse - Offline-First Learning Client
// Copyright 2026 Offcourse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/offcourse/offcourse

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/offcourse/offcourse/internal/logging"
	"github.com/offcourse/offcourse/internal/metrics"
	"github.com/offcourse/offcourse/internal/models"
)

// DuckStore is the embedded-relational engine of the Local Store Adapter.
type DuckStore struct {
	conn *sql.DB
}

// NewDuckStore opens (or creates) the DuckDB database at path and ensures
// the schema exists.
func NewDuckStore(path string) (*DuckStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dir, err)
		}
	}

	conn, err := sql.Open("duckdb", path+"?access_mode=read_write")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &DuckStore{conn: conn}
	if err := s.createTables(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	logging.Info().Str("path", path).Msg("duckdb store opened")
	return s, nil
}

func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

func (s *DuckStore) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	queries := []string{
		`CREATE TABLE IF NOT EXISTS levels (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			order_index INTEGER NOT NULL DEFAULT 0,
			modified TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS lessons (
			id TEXT PRIMARY KEY,
			level_id TEXT NOT NULL,
			title TEXT NOT NULL,
			summary TEXT,
			content_url TEXT,
			order_index INTEGER NOT NULL DEFAULT 0,
			modified TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS quizzes (
			id TEXT PRIMARY KEY,
			lesson_id TEXT NOT NULL,
			title TEXT,
			order_index INTEGER NOT NULL DEFAULT 0,
			questions TEXT NOT NULL DEFAULT '[]',
			modified TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			level_id TEXT,
			title TEXT NOT NULL,
			company TEXT,
			location TEXT,
			url TEXT,
			min_level INTEGER NOT NULL DEFAULT 0,
			order_index INTEGER NOT NULL DEFAULT 0,
			modified TIMESTAMP NOT NULL
		)`,
		// quiz_id uses '' for "no quiz" so the composite key stays NOT NULL.
		`CREATE TABLE IF NOT EXISTS user_progress (
			user_id TEXT NOT NULL,
			lesson_id TEXT NOT NULL,
			quiz_id TEXT NOT NULL DEFAULT '',
			completed BOOLEAN NOT NULL DEFAULT false,
			score DOUBLE,
			completed_at TIMESTAMP,
			updated_at TIMESTAMP NOT NULL,
			remote_id TEXT,
			synced_at TIMESTAMP,
			PRIMARY KEY (user_id, lesson_id, quiz_id)
		)`,
		`CREATE TABLE IF NOT EXISTS user_downloads (
			user_id TEXT NOT NULL,
			lesson_id TEXT NOT NULL,
			local_path TEXT,
			downloaded BOOLEAN NOT NULL DEFAULT false,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (user_id, lesson_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_lessons_level ON lessons(level_id)`,
		`CREATE INDEX IF NOT EXISTS idx_quizzes_lesson ON quizzes(lesson_id)`,
		`CREATE INDEX IF NOT EXISTS idx_progress_user ON user_progress(user_id)`,
	}

	for _, query := range queries {
		if _, err := s.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("execute %q: %w", query[:40], err)
		}
	}
	return nil
}

// Ping checks the connection.
func (s *DuckStore) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// Close closes the underlying connection.
func (s *DuckStore) Close() error {
	return s.conn.Close()
}

// AllLevels returns every cached level ordered by order_index.
func (s *DuckStore) AllLevels(ctx context.Context) ([]models.Level, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, name, description, order_index, modified FROM levels ORDER BY order_index, id`)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("all_levels").Inc()
		return nil, fmt.Errorf("query levels: %w", err)
	}
	defer rows.Close()

	var levels []models.Level
	for rows.Next() {
		var l models.Level
		var desc sql.NullString
		if err := rows.Scan(&l.ID, &l.Name, &desc, &l.OrderIndex, &l.Modified); err != nil {
			return nil, fmt.Errorf("scan level: %w", err)
		}
		l.Description = desc.String
		levels = append(levels, l)
	}
	return levels, rows.Err()
}

// LessonsByLevel returns a level's lessons ordered by order_index.
func (s *DuckStore) LessonsByLevel(ctx context.Context, levelID string) ([]models.Lesson, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, level_id, title, summary, content_url, order_index, modified
		 FROM lessons WHERE level_id = ? ORDER BY order_index, id`, levelID)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("lessons_by_level").Inc()
		return nil, fmt.Errorf("query lessons: %w", err)
	}
	defer rows.Close()
	return scanLessons(rows)
}

func scanLessons(rows *sql.Rows) ([]models.Lesson, error) {
	var lessons []models.Lesson
	for rows.Next() {
		var l models.Lesson
		var summary, contentURL sql.NullString
		if err := rows.Scan(&l.ID, &l.LevelID, &l.Title, &summary, &contentURL, &l.OrderIndex, &l.Modified); err != nil {
			return nil, fmt.Errorf("scan lesson: %w", err)
		}
		l.Summary = summary.String
		l.ContentURL = contentURL.String
		lessons = append(lessons, l)
	}
	return lessons, rows.Err()
}

// LessonByID returns one lesson or ErrNotFound.
func (s *DuckStore) LessonByID(ctx context.Context, lessonID string) (*models.Lesson, error) {
	var l models.Lesson
	var summary, contentURL sql.NullString
	err := s.conn.QueryRowContext(ctx,
		`SELECT id, level_id, title, summary, content_url, order_index, modified
		 FROM lessons WHERE id = ?`, lessonID).
		Scan(&l.ID, &l.LevelID, &l.Title, &summary, &contentURL, &l.OrderIndex, &l.Modified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		metrics.StoreErrors.WithLabelValues("lesson_by_id").Inc()
		return nil, fmt.Errorf("query lesson %s: %w", lessonID, err)
	}
	l.Summary = summary.String
	l.ContentURL = contentURL.String
	return &l, nil
}

// QuizByLessonID returns the lesson's quiz or ErrNotFound. Question payloads
// are parsed here, at the adapter boundary.
func (s *DuckStore) QuizByLessonID(ctx context.Context, lessonID string) (*models.Quiz, error) {
	var q models.Quiz
	var title sql.NullString
	var questions string
	err := s.conn.QueryRowContext(ctx,
		`SELECT id, lesson_id, title, order_index, questions, modified
		 FROM quizzes WHERE lesson_id = ? ORDER BY order_index LIMIT 1`, lessonID).
		Scan(&q.ID, &q.LessonID, &title, &q.OrderIndex, &questions, &q.Modified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		metrics.StoreErrors.WithLabelValues("quiz_by_lesson").Inc()
		return nil, fmt.Errorf("query quiz for lesson %s: %w", lessonID, err)
	}
	q.Title = title.String

	parsed, err := models.ParseQuizQuestions(questions)
	if err != nil {
		// Corrupt payload: log with context and degrade to an empty set
		// rather than failing the read.
		logging.Err(err).Str("quiz_id", q.ID).Msg("corrupt quiz question payload")
		parsed = []models.QuizQuestion{}
	}
	q.Questions = parsed
	return &q, nil
}

// JobsByLevel returns jobs whose minimum level does not exceed maxLevel.
func (s *DuckStore) JobsByLevel(ctx context.Context, maxLevel int) ([]models.Job, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, level_id, title, company, location, url, min_level, order_index, modified
		 FROM jobs WHERE min_level <= ? ORDER BY order_index, id`, maxLevel)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("jobs_by_level").Inc()
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		var j models.Job
		var levelID, company, location, url sql.NullString
		if err := rows.Scan(&j.ID, &levelID, &j.Title, &company, &location, &url, &j.MinLevel, &j.OrderIndex, &j.Modified); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j.LevelID = levelID.String
		j.Company = company.String
		j.Location = location.String
		j.URL = url.String
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Progress returns progress records matching the filter.
func (s *DuckStore) Progress(ctx context.Context, f ProgressFilter) ([]models.ProgressRecord, error) {
	query := `SELECT user_id, lesson_id, quiz_id, completed, score, completed_at, updated_at, remote_id, synced_at
		FROM user_progress WHERE user_id = ?`
	args := []interface{}{f.UserID}

	if f.LessonID != "" {
		query += ` AND lesson_id = ?`
		args = append(args, f.LessonID)
	}
	if f.QuizID != nil {
		query += ` AND quiz_id = ?`
		args = append(args, *f.QuizID)
	}
	query += ` ORDER BY updated_at`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("progress").Inc()
		return nil, fmt.Errorf("query progress: %w", err)
	}
	defer rows.Close()

	var recs []models.ProgressRecord
	for rows.Next() {
		rec, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func scanProgress(rows *sql.Rows) (models.ProgressRecord, error) {
	var rec models.ProgressRecord
	var quizID string
	var score sql.NullFloat64
	var completedAt, syncedAt sql.NullTime
	var remoteID sql.NullString

	if err := rows.Scan(&rec.UserID, &rec.LessonID, &quizID, &rec.Completed, &score,
		&completedAt, &rec.UpdatedAt, &remoteID, &syncedAt); err != nil {
		return rec, fmt.Errorf("scan progress: %w", err)
	}
	if quizID != "" {
		rec.QuizID = &quizID
	}
	if score.Valid {
		rec.Score = &score.Float64
	}
	if completedAt.Valid {
		rec.CompletedAt = completedAt.Time
	}
	rec.RemoteID = remoteID.String
	if syncedAt.Valid {
		t := syncedAt.Time
		rec.SyncedAt = &t
	}
	return rec, nil
}

// SaveProgress upserts by (user, lesson, quiz). A second call with the same
// key replaces the record.
func (s *DuckStore) SaveProgress(ctx context.Context, rec models.ProgressRecord) error {
	quizID := ""
	if rec.QuizID != nil {
		quizID = *rec.QuizID
	}
	var score sql.NullFloat64
	if rec.Score != nil {
		score = sql.NullFloat64{Float64: *rec.Score, Valid: true}
	}
	var completedAt sql.NullTime
	if !rec.CompletedAt.IsZero() {
		completedAt = sql.NullTime{Time: rec.CompletedAt, Valid: true}
	}
	var syncedAt sql.NullTime
	if rec.SyncedAt != nil {
		syncedAt = sql.NullTime{Time: *rec.SyncedAt, Valid: true}
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO user_progress (user_id, lesson_id, quiz_id, completed, score, completed_at, updated_at, remote_id, synced_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, lesson_id, quiz_id) DO UPDATE SET
			completed = excluded.completed,
			score = excluded.score,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at,
			remote_id = excluded.remote_id,
			synced_at = excluded.synced_at`,
		rec.UserID, rec.LessonID, quizID, rec.Completed, score, completedAt, updatedAt, rec.RemoteID, syncedAt)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("save_progress").Inc()
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

// CompletedLessonsCount counts distinct completed lessons for a user.
func (s *DuckStore) CompletedLessonsCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT lesson_id) FROM user_progress WHERE user_id = ? AND completed`, userID).
		Scan(&count)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("completed_count").Inc()
		return 0, fmt.Errorf("count completed lessons: %w", err)
	}
	return count, nil
}

// LevelProgress computes {total, completed, percentage} for one level.
func (s *DuckStore) LevelProgress(ctx context.Context, userID, levelID string) (models.LevelProgress, error) {
	var total int
	if err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lessons WHERE level_id = ?`, levelID).Scan(&total); err != nil {
		metrics.StoreErrors.WithLabelValues("level_progress").Inc()
		return models.LevelProgress{}, fmt.Errorf("count level lessons: %w", err)
	}

	var completed int
	if err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT lesson_id) FROM user_progress
		 WHERE user_id = ? AND completed
		   AND lesson_id IN (SELECT id FROM lessons WHERE level_id = ?)`,
		userID, levelID).Scan(&completed); err != nil {
		metrics.StoreErrors.WithLabelValues("level_progress").Inc()
		return models.LevelProgress{}, fmt.Errorf("count completed lessons: %w", err)
	}

	return models.NewLevelProgress(total, completed), nil
}

// UpdateLessonDownloadStatus upserts the download row for (user, lesson).
func (s *DuckStore) UpdateLessonDownloadStatus(ctx context.Context, userID, lessonID, localPath string, downloaded bool) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO user_downloads (user_id, lesson_id, local_path, downloaded, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, lesson_id) DO UPDATE SET
			local_path = excluded.local_path,
			downloaded = excluded.downloaded,
			updated_at = excluded.updated_at`,
		userID, lessonID, localPath, downloaded, time.Now().UTC())
	if err != nil {
		metrics.StoreErrors.WithLabelValues("download_status").Inc()
		return fmt.Errorf("update download status: %w", err)
	}
	return nil
}

// DownloadsByUser lists a user's download rows.
func (s *DuckStore) DownloadsByUser(ctx context.Context, userID string) ([]models.Download, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT user_id, lesson_id, local_path, downloaded, updated_at
		 FROM user_downloads WHERE user_id = ?`, userID)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("downloads_by_user").Inc()
		return nil, fmt.Errorf("query downloads: %w", err)
	}
	defer rows.Close()

	var downloads []models.Download
	for rows.Next() {
		var d models.Download
		var path sql.NullString
		if err := rows.Scan(&d.UserID, &d.LessonID, &path, &d.Downloaded, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan download: %w", err)
		}
		d.LocalPath = path.String
		downloads = append(downloads, d)
	}
	return downloads, rows.Err()
}
