// Offcourse - Offline-First Learning Client
// Copyright 2026 Offcourse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/offcourse/offcourse

// Package models defines the domain types shared across the sync engine:
// course content entities cached from the remote backend, per-user progress
// records, and the offline snapshot served when no connectivity is available.
//
// Content entities (Level, Lesson, Quiz, Job) are read-mostly caches. The
// remote backend is their sole authority; local copies are created or
// replaced by sync, never locally owned. Progress records are the one thing
// the client owns and pushes upstream.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Level is a course level, the top-level unit of content.
type Level struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OrderIndex  int       `json:"order_index"`
	Modified    time.Time `json:"modified"`
}

// FreeTierMaxOrder is the highest order index that is always unlocked
// without an entitlement.
const FreeTierMaxOrder = 2

// Lesson is one unit of learnable content inside a level.
type Lesson struct {
	ID         string    `json:"id"`
	LevelID    string    `json:"level_id"`
	Title      string    `json:"title"`
	Summary    string    `json:"summary"`
	ContentURL string    `json:"content_url"`
	OrderIndex int       `json:"order_index"`
	Modified   time.Time `json:"modified"`
}

// Quiz belongs to a lesson. Questions are stored JSON-encoded by the remote
// backend; they are parsed exactly once, at the store boundary, into
// []QuizQuestion. Raw encoded strings never travel deeper than the adapter.
type Quiz struct {
	ID         string         `json:"id"`
	LessonID   string         `json:"lesson_id"`
	Title      string         `json:"title"`
	OrderIndex int            `json:"order_index"`
	Questions  []QuizQuestion `json:"questions"`
	Modified   time.Time      `json:"modified"`
}

// QuizQuestion is one question of a quiz.
type QuizQuestion struct {
	Prompt  string   `json:"prompt"`
	Choices []string `json:"choices"`
	Answer  int      `json:"answer"`
}

// ParseQuizQuestions decodes the backend's JSON-string question payload.
// An empty input yields an empty slice, not an error.
func ParseQuizQuestions(raw string) ([]QuizQuestion, error) {
	if strings.TrimSpace(raw) == "" {
		return []QuizQuestion{}, nil
	}
	var qs []QuizQuestion
	if err := json.Unmarshal([]byte(raw), &qs); err != nil {
		return nil, fmt.Errorf("parse quiz questions: %w", err)
	}
	return qs, nil
}

// EncodeQuizQuestions is the inverse of ParseQuizQuestions, used when
// persisting quizzes into engines that store the payload as text.
func EncodeQuizQuestions(qs []QuizQuestion) (string, error) {
	if len(qs) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(qs)
	if err != nil {
		return "", fmt.Errorf("encode quiz questions: %w", err)
	}
	return string(b), nil
}

// Job is a job-board posting gated on a minimum course level.
type Job struct {
	ID         string    `json:"id"`
	LevelID    string    `json:"level_id"`
	Title      string    `json:"title"`
	Company    string    `json:"company"`
	Location   string    `json:"location"`
	URL        string    `json:"url"`
	MinLevel   int       `json:"min_level"`
	OrderIndex int       `json:"order_index"`
	Modified   time.Time `json:"modified"`
}

// ProgressRecord is one user's completion state for one (lesson, quiz) pair.
// At most one record exists per (user, lesson, quiz); saves are upserts by
// that composite key. QuizID and Score are nullable.
type ProgressRecord struct {
	UserID      string     `json:"user_id"`
	LessonID    string     `json:"lesson_id"`
	QuizID      *string    `json:"quiz_id,omitempty"`
	Completed   bool       `json:"completed"`
	Score       *float64   `json:"score,omitempty"`
	CompletedAt time.Time  `json:"completed_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	RemoteID    string     `json:"remote_id,omitempty"`
	SyncedAt    *time.Time `json:"synced_at,omitempty"`
}

// Key returns the composite identity the upsert contract is keyed on.
// A nil quiz is an explicit "no quiz" and matches only records with no quiz.
func (p ProgressRecord) Key() string {
	quiz := ""
	if p.QuizID != nil {
		quiz = *p.QuizID
	}
	return ProgressKey(p.UserID, p.LessonID, quiz)
}

// ProgressKey builds the composite progress key from its parts. quizID may
// be empty.
func ProgressKey(userID, lessonID, quizID string) string {
	return userID + "\x1f" + lessonID + "\x1f" + quizID
}

// LevelProgress summarizes a user's completion within one level.
// Percentage is round(100*Completed/Total) and 0 when Total is 0.
type LevelProgress struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Percentage int `json:"percentage"`
}

// NewLevelProgress computes the summary from counts.
func NewLevelProgress(total, completed int) LevelProgress {
	lp := LevelProgress{Total: total, Completed: completed}
	if total > 0 {
		lp.Percentage = int(float64(completed)/float64(total)*100 + 0.5)
	}
	return lp
}

// Download tracks a lesson content blob saved on device.
type Download struct {
	UserID     string    `json:"user_id"`
	LessonID   string    `json:"lesson_id"`
	LocalPath  string    `json:"local_path"`
	Downloaded bool      `json:"downloaded"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SnapshotTTL is the staleness threshold for the offline snapshot. A
// snapshot older than this is eligible for background refresh once
// connectivity returns.
const SnapshotTTL = 24 * time.Hour

// Snapshot is the bundled offline cache served on read paths when the
// primary store errors or the device has no connectivity.
type Snapshot struct {
	Levels           map[string]Level          `json:"levels"`
	LessonsByLevel   map[string][]Lesson       `json:"lessons_by_level"`
	ProgressByLesson map[string]ProgressRecord `json:"progress_by_lesson"`
	CachedAt         time.Time                 `json:"cached_at"`
}

// Stale reports whether the snapshot has aged past SnapshotTTL.
func (s *Snapshot) Stale(now time.Time) bool {
	if s == nil || s.CachedAt.IsZero() {
		return true
	}
	return now.Sub(s.CachedAt) > SnapshotTTL
}
