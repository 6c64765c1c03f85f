// Offcourse - Offline-First Learning Client
// Copyright 2026 Offcourse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/offcourse/offcourse

package store

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/offcourse/offcourse/internal/logging"
	"github.com/offcourse/offcourse/internal/models"
)

//go:embed seed.json
var seedData []byte

type seedBundle struct {
	Levels  []models.Level  `json:"levels"`
	Lessons []models.Lesson `json:"lessons"`
	Quizzes []models.Quiz   `json:"quizzes"`
	Jobs    []models.Job    `json:"jobs"`
}

// seedIfEmpty loads the embedded starter content into a freshly created
// store so first launch has something to show before the first sync lands.
// A store that already has levels is left alone.
func seedIfEmpty(ctx context.Context, s Store) error {
	levels, err := s.AllLevels(ctx)
	if err != nil {
		return fmt.Errorf("check existing content: %w", err)
	}
	if len(levels) > 0 {
		return nil
	}

	var bundle seedBundle
	if err := json.Unmarshal(seedData, &bundle); err != nil {
		return fmt.Errorf("decode embedded seed: %w", err)
	}

	if _, err := s.UpsertLevels(ctx, bundle.Levels); err != nil {
		return fmt.Errorf("seed levels: %w", err)
	}
	if _, err := s.UpsertLessons(ctx, bundle.Lessons); err != nil {
		return fmt.Errorf("seed lessons: %w", err)
	}
	if _, err := s.UpsertQuizzes(ctx, bundle.Quizzes); err != nil {
		return fmt.Errorf("seed quizzes: %w", err)
	}
	if _, err := s.UpsertJobs(ctx, bundle.Jobs); err != nil {
		return fmt.Errorf("seed jobs: %w", err)
	}

	logging.Info().Int("levels", len(bundle.Levels)).Int("lessons", len(bundle.Lessons)).
		Msg("seeded empty store with starter content")
	return nil
}
