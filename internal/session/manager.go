// Offcourse - Offline-First Learning Client
// Copyright 2026 Offcourse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/offcourse/offcourse

// Package session tracks the signed-in user. The active session persists
// across restarts (token encrypted at rest), and a generation counter lets
// long-running work detect that the user logged out underneath it.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/offcourse/offcourse/internal/logging"
)

var sessionKey = []byte("session:current")

// ErrNoSession is returned when no user is signed in.
var ErrNoSession = errors.New("session: no active session")

type persisted struct {
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	StartedAt time.Time `json:"started_at"`
}

// Session is a read-only view of the signed-in user.
type Session struct {
	UserID    string
	Token     string
	StartedAt time.Time
}

// Manager owns the active session. Safe for concurrent use.
type Manager struct {
	kv  *badger.DB
	enc *tokenEncryptor

	mu         sync.RWMutex
	current    *Session
	generation uint64
}

// NewManager restores any persisted session from the shared Badger handle.
// masterKey ("" disables at-rest encryption) protects the stored token.
func NewManager(kv *badger.DB, masterKey string) (*Manager, error) {
	enc, err := newTokenEncryptor(masterKey)
	if err != nil {
		return nil, err
	}
	m := &Manager{kv: kv, enc: enc}

	var p persisted
	err = kv.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &p)
		})
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return m, nil
	case err != nil:
		return nil, fmt.Errorf("load session: %w", err)
	}

	token, err := m.enc.decrypt(p.Token)
	if err != nil {
		// A token we cannot decrypt (rotated master key, tampering) just
		// means the user signs in again.
		logging.Warn().Err(err).Msg("discarding undecryptable stored session")
		_ = m.clearPersisted()
		return m, nil
	}

	m.current = &Session{UserID: p.UserID, Token: token, StartedAt: p.StartedAt}
	m.generation = 1
	logging.Info().Str("user_id", p.UserID).Msg("session restored")
	return m, nil
}

// Begin starts a session for the user, replacing any existing one and
// bumping the generation.
func (m *Manager) Begin(userID, token string) error {
	encToken, err := m.enc.encrypt(token)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	b, err := json.Marshal(persisted{UserID: userID, Token: encToken, StartedAt: now})
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	err = m.kv.Update(func(txn *badger.Txn) error {
		return txn.Set(sessionKey, b)
	})
	if err != nil {
		return fmt.Errorf("persist session: %w", err)
	}

	m.mu.Lock()
	m.current = &Session{UserID: userID, Token: token, StartedAt: now}
	m.generation++
	m.mu.Unlock()

	logging.Info().Str("user_id", userID).Msg("session started")
	return nil
}

// End signs the user out, clearing persistence and bumping the generation
// so in-flight work for the old session is discarded on completion.
func (m *Manager) End() error {
	if err := m.clearPersisted(); err != nil {
		return err
	}
	m.mu.Lock()
	m.current = nil
	m.generation++
	m.mu.Unlock()

	logging.Info().Msg("session ended")
	return nil
}

func (m *Manager) clearPersisted() error {
	err := m.kv.Update(func(txn *badger.Txn) error {
		return txn.Delete(sessionKey)
	})
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Current returns the active session, or ErrNoSession.
func (m *Manager) Current() (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return Session{}, ErrNoSession
	}
	return *m.current, nil
}

// Generation returns the session generation. Work that spans a sync pass
// captures it up front and calls Valid before applying results.
func (m *Manager) Generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generation
}

// Valid reports whether the captured generation still matches, i.e. no
// login or logout happened in between.
func (m *Manager) Valid(gen uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current != nil && m.generation == gen
}
