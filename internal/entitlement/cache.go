// Offcourse - Offline-First Learning Client
// Copyright 2026 Offcourse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/offcourse/offcourse

// Package entitlement caches which course levels a user has paid access
// to, so unlock decisions keep working offline. The free tier (the first
// levels by order index) never consults the cache at all.
package entitlement

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/offcourse/offcourse/internal/logging"
	"github.com/offcourse/offcourse/internal/models"
)

// Fetcher is the slice of the remote gateway this cache needs.
type Fetcher interface {
	FetchEntitlements(ctx context.Context, userID string) ([]string, error)
}

type cached struct {
	UserID      string    `json:"user_id"`
	LevelIDs    []string  `json:"level_ids"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

func cacheKey(userID string) []byte {
	return []byte("entitlements:" + userID)
}

// Cache holds per-user entitlements, persisted in the shared Badger handle
// and refreshed from the backend when connectivity allows.
type Cache struct {
	kv *badger.DB
	gw Fetcher

	mu      sync.RWMutex
	current map[string]cached
}

// NewCache builds the cache over the shared Badger handle.
func NewCache(kv *badger.DB, gw Fetcher) *Cache {
	return &Cache{kv: kv, gw: gw, current: make(map[string]cached)}
}

// Refresh fetches the user's entitlements and replaces the cached set
// wholesale. On failure the prior cached set is kept untouched; offline
// users keep whatever access they last saw.
func (c *Cache) Refresh(ctx context.Context, userID string) error {
	levelIDs, err := c.gw.FetchEntitlements(ctx, userID)
	if err != nil {
		logging.Warn().Err(err).Str("user_id", userID).
			Msg("entitlement refresh failed, keeping cached set")
		return err
	}

	entry := cached{
		UserID:      userID,
		LevelIDs:    dedupe(levelIDs),
		RefreshedAt: time.Now().UTC(),
	}
	if err := c.persist(entry); err != nil {
		return err
	}

	c.mu.Lock()
	c.current[userID] = entry
	c.mu.Unlock()

	logging.Debug().Str("user_id", userID).Int("levels", len(levelIDs)).
		Msg("entitlements refreshed")
	return nil
}

// dedupe collapses repeat purchases of the same level, keeping first-seen
// order.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (c *Cache) persist(entry cached) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.kv.Update(func(txn *badger.Txn) error {
		return txn.Set(cacheKey(entry.UserID), b)
	})
}

// load pulls the user's entry from memory, falling back to Badger once.
func (c *Cache) load(userID string) (cached, bool) {
	c.mu.RLock()
	entry, ok := c.current[userID]
	c.mu.RUnlock()
	if ok {
		return entry, true
	}

	err := c.kv.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cacheKey(userID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return cached{}, false
	}
	if err != nil {
		logging.Err(err).Str("user_id", userID).Msg("load cached entitlements")
		return cached{}, false
	}

	c.mu.Lock()
	c.current[userID] = entry
	c.mu.Unlock()
	return entry, true
}

// IsUnlocked reports whether the user may open the level. Levels inside
// the free tier are always unlocked, with or without a cache entry or
// connectivity; everything above requires a cached entitlement.
func (c *Cache) IsUnlocked(userID string, level models.Level) bool {
	if level.OrderIndex <= models.FreeTierMaxOrder {
		return true
	}
	entry, ok := c.load(userID)
	if !ok {
		return false
	}
	for _, id := range entry.LevelIDs {
		if id == level.ID {
			return true
		}
	}
	return false
}

// Cached returns the user's cached level IDs and when they were last
// refreshed. ok is false when the user has never had a successful refresh.
func (c *Cache) Cached(userID string) (levelIDs []string, refreshedAt time.Time, ok bool) {
	entry, ok := c.load(userID)
	if !ok {
		return nil, time.Time{}, false
	}
	return entry.LevelIDs, entry.RefreshedAt, true
}
