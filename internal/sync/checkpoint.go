// Offcourse - Offline-First Learning Client
// Copyright 2026 Offcourse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/offcourse/offcourse

package sync

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/offcourse/offcourse/internal/logging"
)

var checkpointKey = []byte("sync:last_pull")

// Checkpoint persists the incremental-pull watermark so a restarted client
// does not re-download the whole catalog.
type Checkpoint struct {
	kv *badger.DB

	mu       sync.RWMutex
	lastPull time.Time
}

// NewCheckpoint loads the persisted watermark from the shared Badger
// handle. A missing key means a full pull on the next pass.
func NewCheckpoint(kv *badger.DB) (*Checkpoint, error) {
	c := &Checkpoint{kv: kv}
	err := kv.View(func(txn *badger.Txn) error {
		item, err := txn.Get(checkpointKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			t, err := time.Parse(time.RFC3339Nano, string(val))
			if err != nil {
				return fmt.Errorf("parse checkpoint: %w", err)
			}
			c.lastPull = t
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return c, nil
	}
	if err != nil {
		// A corrupt checkpoint degrades to a full pull, never a failure.
		logging.Warn().Err(err).Msg("discarding unreadable sync checkpoint")
		return &Checkpoint{kv: kv}, nil
	}
	return c, nil
}

// LastPull returns the watermark (zero means full pull).
func (c *Checkpoint) LastPull() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPull
}

// SetLastPull advances and persists the watermark.
func (c *Checkpoint) SetLastPull(t time.Time) error {
	err := c.kv.Update(func(txn *badger.Txn) error {
		return txn.Set(checkpointKey, []byte(t.UTC().Format(time.RFC3339Nano)))
	})
	if err != nil {
		return fmt.Errorf("persist sync checkpoint: %w", err)
	}
	c.mu.Lock()
	c.lastPull = t.UTC()
	c.mu.Unlock()
	return nil
}
