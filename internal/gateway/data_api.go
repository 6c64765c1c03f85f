// Offcourse - Offline-First Learning Client
// Copyright 2026 Offcourse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/offcourse/offcourse

package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"github.com/offcourse/offcourse/internal/logging"
	"github.com/offcourse/offcourse/internal/models"
)

// Constraint narrows a data-API list query. The backend matches on the
// named field; ConstraintType is its comparison operator.
type Constraint struct {
	Key            string      `json:"key"`
	ConstraintType string      `json:"constraint_type"`
	Value          interface{} `json:"value,omitempty"`
}

// Constraint operators understood by the data API. "is_empty" takes no
// value and matches records where the field is absent: it is an exact
// null match, never a wildcard.
const (
	ConstraintEquals      = "equals"
	ConstraintGreaterThan = "greater than"
	ConstraintIsEmpty     = "is_empty"
)

// listResponse is the data API's pagination envelope.
type listResponse struct {
	Response struct {
		Results   []json.RawMessage `json:"results"`
		Cursor    int               `json:"cursor"`
		Count     int               `json:"count"`
		Remaining int               `json:"remaining"`
	} `json:"response"`
}

// listPage fetches one page of typename records.
func (c *Client) listPage(ctx context.Context, typename string, constraints []Constraint, cursor int) (*listResponse, error) {
	params := url.Values{}
	params.Set("cursor", fmt.Sprintf("%d", cursor))
	params.Set("limit", fmt.Sprintf("%d", c.pageSize))
	if len(constraints) > 0 {
		b, err := json.Marshal(constraints)
		if err != nil {
			return nil, fmt.Errorf("encode constraints: %w", err)
		}
		params.Set("constraints", string(b))
	}

	var out listResponse
	endpoint := "/obj/" + typename + "?" + params.Encode()
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAll pages through every typename record matching the constraints,
// following the cursor until the backend reports nothing remaining.
func (c *Client) ListAll(ctx context.Context, typename string, constraints []Constraint) ([]json.RawMessage, error) {
	var all []json.RawMessage
	cursor := 0
	for {
		page, err := c.listPage(ctx, typename, constraints, cursor)
		if err != nil {
			return nil, fmt.Errorf("list %s at cursor %d: %w", typename, cursor, err)
		}
		all = append(all, page.Response.Results...)
		if page.Response.Remaining <= 0 || len(page.Response.Results) == 0 {
			return all, nil
		}
		cursor = page.Response.Cursor + len(page.Response.Results)
	}
}

// modifiedSince builds the incremental-pull constraint set. A zero since
// means a full pull.
func modifiedSince(since time.Time) []Constraint {
	if since.IsZero() {
		return nil
	}
	return []Constraint{{
		Key:            "modified_date",
		ConstraintType: ConstraintGreaterThan,
		Value:          since.UTC().Format(time.RFC3339),
	}}
}

// decodeAll unmarshals raw list results into out ([]T), skipping and
// logging records that fail to decode rather than failing the pull.
func decodeAll[T any](typename string, raws []json.RawMessage) []T {
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			logging.Err(err).Str("type", typename).Msg("skipping undecodable record")
			continue
		}
		out = append(out, v)
	}
	return out
}

// wire types: the data API's field names for each content type.

type wireLevel struct {
	ID          string    `json:"_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OrderIndex  int       `json:"order_index"`
	Modified    time.Time `json:"modified_date"`
}

type wireLesson struct {
	ID         string    `json:"_id"`
	LevelID    string    `json:"level"`
	Title      string    `json:"title"`
	Summary    string    `json:"summary"`
	ContentURL string    `json:"content_url"`
	OrderIndex int       `json:"order_index"`
	Modified   time.Time `json:"modified_date"`
}

type wireQuiz struct {
	ID         string    `json:"_id"`
	LessonID   string    `json:"lesson"`
	Title      string    `json:"title"`
	OrderIndex int       `json:"order_index"`
	Questions  string    `json:"questions"`
	Modified   time.Time `json:"modified_date"`
}

type wireJob struct {
	ID         string    `json:"_id"`
	LevelID    string    `json:"level"`
	Title      string    `json:"title"`
	Company    string    `json:"company"`
	Location   string    `json:"location"`
	URL        string    `json:"url"`
	MinLevel   int       `json:"min_level"`
	OrderIndex int       `json:"order_index"`
	Modified   time.Time `json:"modified_date"`
}

type wireProgress struct {
	ID          string     `json:"_id,omitempty"`
	UserID      string     `json:"user"`
	LessonID    string     `json:"lesson"`
	QuizID      *string    `json:"quiz,omitempty"`
	Completed   bool       `json:"completed"`
	Score       *float64   `json:"score,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// FetchLevels pulls levels modified after since (all levels when zero).
func (c *Client) FetchLevels(ctx context.Context, since time.Time) ([]models.Level, error) {
	raws, err := c.ListAll(ctx, "level", modifiedSince(since))
	if err != nil {
		return nil, err
	}
	wires := decodeAll[wireLevel]("level", raws)
	out := make([]models.Level, 0, len(wires))
	for _, w := range wires {
		out = append(out, models.Level{
			ID: w.ID, Name: w.Name, Description: w.Description,
			OrderIndex: w.OrderIndex, Modified: w.Modified,
		})
	}
	return out, nil
}

// FetchLessons pulls lessons modified after since.
func (c *Client) FetchLessons(ctx context.Context, since time.Time) ([]models.Lesson, error) {
	raws, err := c.ListAll(ctx, "lesson", modifiedSince(since))
	if err != nil {
		return nil, err
	}
	wires := decodeAll[wireLesson]("lesson", raws)
	out := make([]models.Lesson, 0, len(wires))
	for _, w := range wires {
		out = append(out, models.Lesson{
			ID: w.ID, LevelID: w.LevelID, Title: w.Title, Summary: w.Summary,
			ContentURL: w.ContentURL, OrderIndex: w.OrderIndex, Modified: w.Modified,
		})
	}
	return out, nil
}

// FetchQuizzes pulls quizzes modified after since. Question payloads arrive
// as JSON strings and are parsed here; a quiz with a corrupt payload is
// kept with an empty question set.
func (c *Client) FetchQuizzes(ctx context.Context, since time.Time) ([]models.Quiz, error) {
	raws, err := c.ListAll(ctx, "quiz", modifiedSince(since))
	if err != nil {
		return nil, err
	}
	wires := decodeAll[wireQuiz]("quiz", raws)
	out := make([]models.Quiz, 0, len(wires))
	for _, w := range wires {
		questions, err := models.ParseQuizQuestions(w.Questions)
		if err != nil {
			logging.Err(err).Str("quiz_id", w.ID).Msg("corrupt remote quiz questions")
			questions = []models.QuizQuestion{}
		}
		out = append(out, models.Quiz{
			ID: w.ID, LessonID: w.LessonID, Title: w.Title,
			OrderIndex: w.OrderIndex, Questions: questions, Modified: w.Modified,
		})
	}
	return out, nil
}

// FetchJobs pulls job postings modified after since.
func (c *Client) FetchJobs(ctx context.Context, since time.Time) ([]models.Job, error) {
	raws, err := c.ListAll(ctx, "job", modifiedSince(since))
	if err != nil {
		return nil, err
	}
	wires := decodeAll[wireJob]("job", raws)
	out := make([]models.Job, 0, len(wires))
	for _, w := range wires {
		out = append(out, models.Job{
			ID: w.ID, LevelID: w.LevelID, Title: w.Title, Company: w.Company,
			Location: w.Location, URL: w.URL, MinLevel: w.MinLevel,
			OrderIndex: w.OrderIndex, Modified: w.Modified,
		})
	}
	return out, nil
}

type createResponse struct {
	ID string `json:"id"`
}

// UpsertProgress idempotently writes one progress record upstream: search
// for an existing record by (user, lesson, quiz), PATCH it when found,
// POST a new one otherwise. A nil quiz searches with an is_empty
// constraint so it can only ever match records that also have no quiz.
// Returns the remote record ID.
func (c *Client) UpsertProgress(ctx context.Context, rec models.ProgressRecord) (string, error) {
	constraints := []Constraint{
		{Key: "user", ConstraintType: ConstraintEquals, Value: rec.UserID},
		{Key: "lesson", ConstraintType: ConstraintEquals, Value: rec.LessonID},
	}
	if rec.QuizID != nil {
		constraints = append(constraints, Constraint{
			Key: "quiz", ConstraintType: ConstraintEquals, Value: *rec.QuizID,
		})
	} else {
		constraints = append(constraints, Constraint{
			Key: "quiz", ConstraintType: ConstraintIsEmpty,
		})
	}

	raws, err := c.ListAll(ctx, "progress", constraints)
	if err != nil {
		return "", fmt.Errorf("search progress: %w", err)
	}

	w := wireProgress{
		UserID:    rec.UserID,
		LessonID:  rec.LessonID,
		QuizID:    rec.QuizID,
		Completed: rec.Completed,
		Score:     rec.Score,
	}
	if !rec.CompletedAt.IsZero() {
		t := rec.CompletedAt
		w.CompletedAt = &t
	}
	body, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("encode progress: %w", err)
	}

	if len(raws) > 0 {
		var existing wireProgress
		if err := json.Unmarshal(raws[0], &existing); err != nil {
			return "", fmt.Errorf("decode existing progress: %w", err)
		}
		if err := c.doJSON(ctx, http.MethodPatch, "/obj/progress/"+existing.ID, body, nil); err != nil {
			return "", fmt.Errorf("update progress %s: %w", existing.ID, err)
		}
		return existing.ID, nil
	}

	var created createResponse
	if err := c.doJSON(ctx, http.MethodPost, "/obj/progress", body, &created); err != nil {
		return "", fmt.Errorf("create progress: %w", err)
	}
	return created.ID, nil
}
