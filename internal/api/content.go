// Offcourse - Offline-First Learning Client
// Copyright 2026 Offcourse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/offcourse/offcourse

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/offcourse/offcourse/internal/facade"
	"github.com/offcourse/offcourse/internal/gateway"
	"github.com/offcourse/offcourse/internal/models"
	"github.com/offcourse/offcourse/internal/session"
)

// contentRoutes mounts the local content surface consumed by the UI shell.
// Everything reads through the facade, so these endpoints keep working
// offline.
func (s *Server) contentRoutes(r chi.Router) {
	r.Post("/login", s.handleLogin)
	r.Post("/logout", s.handleLogout)

	r.Get("/levels", s.handleLevels)
	r.Get("/levels/{levelID}/lessons", s.handleLessons)
	r.Get("/levels/{levelID}/progress", s.handleLevelProgress)
	r.Get("/lessons/{lessonID}", s.handleLesson)
	r.Get("/lessons/{lessonID}/quiz", s.handleQuiz)
	r.Get("/jobs", s.handleJobs)

	r.Get("/progress", s.handleProgress)
	r.Post("/progress", s.handleSaveProgress)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds gateway.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	auth, err := s.gw.Login(r.Context(), creds)
	var authErr *gateway.AuthError
	if errors.As(err, &authErr) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error": authErr.Code, "message": authErr.Message,
		})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	if err := s.sessions.Begin(auth.UserID, auth.Token); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": auth.UserID})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.End(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "signed out"})
}

func (s *Server) handleLevels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.facade.Levels(r.Context()))
}

func (s *Server) handleLessons(w http.ResponseWriter, r *http.Request) {
	levelID := chi.URLParam(r, "levelID")
	writeJSON(w, http.StatusOK, s.facade.Lessons(r.Context(), levelID))
}

func (s *Server) handleLevelProgress(w http.ResponseWriter, r *http.Request) {
	levelID := chi.URLParam(r, "levelID")
	writeJSON(w, http.StatusOK, s.facade.LevelProgress(r.Context(), levelID))
}

func (s *Server) handleLesson(w http.ResponseWriter, r *http.Request) {
	lesson, err := s.facade.Lesson(r.Context(), chi.URLParam(r, "lessonID"))
	if errors.Is(err, facade.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "lesson not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, lesson)
}

func (s *Server) handleQuiz(w http.ResponseWriter, r *http.Request) {
	quiz, err := s.facade.Quiz(r.Context(), chi.URLParam(r, "lessonID"))
	if errors.Is(err, facade.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "quiz not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	maxLevel := s.facade.CompletedLessons(r.Context())
	writeJSON(w, http.StatusOK, s.facade.Jobs(r.Context(), maxLevel))
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	recs, err := s.facade.Progress(r.Context(), r.URL.Query().Get("lesson_id"))
	if errors.Is(err, session.ErrNoSession) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not signed in"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if recs == nil {
		recs = []models.ProgressRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleSaveProgress(w http.ResponseWriter, r *http.Request) {
	var rec models.ProgressRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if rec.LessonID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "lesson_id is required"})
		return
	}
	err := s.facade.SaveProgress(r.Context(), rec)
	if errors.Is(err, session.ErrNoSession) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not signed in"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "saved"})
}
