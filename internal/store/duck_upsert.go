// Offcourse - Offline-First Learning Client
// Copyright 2026 Offcourse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/offcourse/offcourse

package store

import (
	"context"
	"fmt"

	"github.com/offcourse/offcourse/internal/logging"
	"github.com/offcourse/offcourse/internal/models"
)

// UpsertLevels merges remotely fetched levels into the cache. A row only
// overwrites its local counterpart when the remote modified timestamp is
// strictly newer.
func (s *DuckStore) UpsertLevels(ctx context.Context, levels []models.Level) (UpsertResult, error) {
	var res UpsertResult
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, l := range levels {
		out, err := tx.ExecContext(ctx,
			`INSERT INTO levels (id, name, description, order_index, modified)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
				name = excluded.name,
				description = excluded.description,
				order_index = excluded.order_index,
				modified = excluded.modified
			 WHERE excluded.modified > levels.modified`,
			l.ID, l.Name, l.Description, l.OrderIndex, l.Modified)
		if err != nil {
			return res, fmt.Errorf("upsert level %s: %w", l.ID, err)
		}
		n, _ := out.RowsAffected()
		if n > 0 {
			res.Applied++
		} else {
			res.SkippedStale++
		}
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("commit levels: %w", err)
	}
	return res, nil
}

// UpsertLessons merges lessons. Lessons referencing a level that is not in
// the cache are skipped, not failed; the parent usually arrives on the next
// cycle.
func (s *DuckStore) UpsertLessons(ctx context.Context, lessons []models.Lesson) (UpsertResult, error) {
	var res UpsertResult
	parents, err := s.idSet(ctx, `SELECT id FROM levels`)
	if err != nil {
		return res, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, l := range lessons {
		if !parents[l.LevelID] {
			logging.Warn().Str("lesson_id", l.ID).Str("level_id", l.LevelID).
				Msg("skipping lesson with unknown level")
			res.SkippedOrphan++
			continue
		}
		out, err := tx.ExecContext(ctx,
			`INSERT INTO lessons (id, level_id, title, summary, content_url, order_index, modified)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
				level_id = excluded.level_id,
				title = excluded.title,
				summary = excluded.summary,
				content_url = excluded.content_url,
				order_index = excluded.order_index,
				modified = excluded.modified
			 WHERE excluded.modified > lessons.modified`,
			l.ID, l.LevelID, l.Title, l.Summary, l.ContentURL, l.OrderIndex, l.Modified)
		if err != nil {
			return res, fmt.Errorf("upsert lesson %s: %w", l.ID, err)
		}
		n, _ := out.RowsAffected()
		if n > 0 {
			res.Applied++
		} else {
			res.SkippedStale++
		}
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("commit lessons: %w", err)
	}
	return res, nil
}

// UpsertQuizzes merges quizzes, skipping those whose lesson is unknown.
func (s *DuckStore) UpsertQuizzes(ctx context.Context, quizzes []models.Quiz) (UpsertResult, error) {
	var res UpsertResult
	parents, err := s.idSet(ctx, `SELECT id FROM lessons`)
	if err != nil {
		return res, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range quizzes {
		if !parents[q.LessonID] {
			logging.Warn().Str("quiz_id", q.ID).Str("lesson_id", q.LessonID).
				Msg("skipping quiz with unknown lesson")
			res.SkippedOrphan++
			continue
		}
		questions, err := models.EncodeQuizQuestions(q.Questions)
		if err != nil {
			return res, fmt.Errorf("encode questions for quiz %s: %w", q.ID, err)
		}
		out, err := tx.ExecContext(ctx,
			`INSERT INTO quizzes (id, lesson_id, title, order_index, questions, modified)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
				lesson_id = excluded.lesson_id,
				title = excluded.title,
				order_index = excluded.order_index,
				questions = excluded.questions,
				modified = excluded.modified
			 WHERE excluded.modified > quizzes.modified`,
			q.ID, q.LessonID, q.Title, q.OrderIndex, questions, q.Modified)
		if err != nil {
			return res, fmt.Errorf("upsert quiz %s: %w", q.ID, err)
		}
		n, _ := out.RowsAffected()
		if n > 0 {
			res.Applied++
		} else {
			res.SkippedStale++
		}
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("commit quizzes: %w", err)
	}
	return res, nil
}

// UpsertJobs merges job postings. Jobs have no hard parent requirement; a
// job with an unknown level_id is still stored and filtered at read time.
func (s *DuckStore) UpsertJobs(ctx context.Context, jobs []models.Job) (UpsertResult, error) {
	var res UpsertResult
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, j := range jobs {
		out, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (id, level_id, title, company, location, url, min_level, order_index, modified)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
				level_id = excluded.level_id,
				title = excluded.title,
				company = excluded.company,
				location = excluded.location,
				url = excluded.url,
				min_level = excluded.min_level,
				order_index = excluded.order_index,
				modified = excluded.modified
			 WHERE excluded.modified > jobs.modified`,
			j.ID, j.LevelID, j.Title, j.Company, j.Location, j.URL, j.MinLevel, j.OrderIndex, j.Modified)
		if err != nil {
			return res, fmt.Errorf("upsert job %s: %w", j.ID, err)
		}
		n, _ := out.RowsAffected()
		if n > 0 {
			res.Applied++
		} else {
			res.SkippedStale++
		}
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("commit jobs: %w", err)
	}
	return res, nil
}

func (s *DuckStore) idSet(ctx context.Context, query string) (map[string]bool, error) {
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query parent ids: %w", err)
	}
	defer rows.Close()

	set := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan parent id: %w", err)
		}
		set[id] = true
	}
	return set, rows.Err()
}
