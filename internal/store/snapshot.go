// Offcourse - Offline-First Learning Client
// Copyright 2026 Offcourse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/offcourse/offcourse

package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/offcourse/offcourse/internal/models"
)

// snapshotKey holds the serialized offline snapshot in the shared Badger
// handle, independent of which primary engine is configured.
var snapshotKey = []byte("snapshot:v1")

// SnapshotKeeper persists and restores the offline fallback snapshot.
type SnapshotKeeper struct {
	kv *badger.DB
}

// NewSnapshotKeeper wraps the shared Badger handle.
func NewSnapshotKeeper(kv *badger.DB) *SnapshotKeeper {
	return &SnapshotKeeper{kv: kv}
}

// Save serializes and stores the snapshot, stamping CachedAt if unset.
func (k *SnapshotKeeper) Save(snap *models.Snapshot) error {
	if snap == nil {
		return errors.New("store: nil snapshot")
	}
	if snap.CachedAt.IsZero() {
		snap.CachedAt = time.Now().UTC()
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	err = k.kv.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey, b)
	})
	if err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot, or ErrNotFound when none was ever saved.
func (k *SnapshotKeeper) Load() (*models.Snapshot, error) {
	var snap models.Snapshot
	err := k.kv.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return &snap, nil
}
