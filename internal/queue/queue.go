// Offcourse - Offline-First Learning Client
// Copyright 2026 Offcourse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/offcourse/offcourse

// Package queue implements the durable offline mutation queue.
//
// Every local write that must reach the backend is appended here first and
// removed only after the backend confirms it. The queue is backed by its
// own Badger instance so mutations survive process kills and restarts, and
// keys are ordered by enqueue time so replay is strictly FIFO.
package queue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/offcourse/offcourse/internal/config"
	"github.com/offcourse/offcourse/internal/logging"
	"github.com/offcourse/offcourse/internal/metrics"
)

// Action identifies what a queued mutation does when replayed.
type Action string

// ActionSaveProgress replays a progress upsert against the backend.
const ActionSaveProgress Action = "save_progress"

// State is a queued mutation's lifecycle stage.
type State string

const (
	// StatePending marks a mutation not yet attempted.
	StatePending State = "pending"
	// StateRetrying marks a mutation that failed at least once and is
	// awaiting another attempt.
	StateRetrying State = "retrying"
	// StateFailed marks a mutation that exhausted its retries. Failed
	// items are removed from the queue when reported.
	StateFailed State = "failed"
)

// Item is one durable mutation. ID doubles as the FIFO ordering key: it is
// the enqueue timestamp, zero-padded so Badger's lexicographic iteration
// yields enqueue order.
type Item struct {
	ID            string          `json:"id"`
	Action        Action          `json:"action"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	State         State           `json:"state"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"last_error,omitempty"`
	LastAttemptAt time.Time       `json:"last_attempt_at,omitempty"`
}

var keyPrefix = []byte("mutation:")

func itemKey(id string) []byte {
	return append(append([]byte{}, keyPrefix...), id...)
}

// Queue is the durable FIFO mutation queue. Safe for concurrent use.
type Queue struct {
	db *badger.DB

	// mu serializes enqueues so two mutations in the same nanosecond
	// cannot collide on a key.
	mu     sync.Mutex
	lastID string
}

// Open opens (or creates) the queue at its configured path.
func Open(cfg *config.QueueConfig) (*Queue, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open mutation queue: %w", err)
	}

	q := &Queue{db: db}
	depth, err := q.Len()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	metrics.QueueDepth.Set(float64(depth))
	logging.Info().Str("path", cfg.Path).Int("pending", depth).Msg("mutation queue opened")
	return q, nil
}

// Close closes the underlying database.
func (q *Queue) Close() error {
	return q.db.Close()
}

// nextID returns a strictly increasing zero-padded timestamp ID.
func (q *Queue) nextID(now time.Time) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := fmt.Sprintf("%020d", now.UnixNano())
	for id <= q.lastID {
		now = now.Add(time.Nanosecond)
		id = fmt.Sprintf("%020d", now.UnixNano())
	}
	q.lastID = id
	return id
}

// Enqueue appends a mutation and returns its ID.
func (q *Queue) Enqueue(action Action, payload interface{}) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode mutation payload: %w", err)
	}

	now := time.Now().UTC()
	item := Item{
		ID:        q.nextID(now),
		Action:    action,
		Payload:   raw,
		CreatedAt: now,
		State:     StatePending,
	}
	if err := q.put(item); err != nil {
		return "", err
	}

	q.adjustDepth()
	logging.Debug().Str("id", item.ID).Str("action", string(action)).Msg("mutation enqueued")
	return item.ID, nil
}

func (q *Queue) put(item Item) error {
	b, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode mutation: %w", err)
	}
	err = q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(itemKey(item.ID), b)
	})
	if err != nil {
		return fmt.Errorf("persist mutation %s: %w", item.ID, err)
	}
	return nil
}

// Pending returns every queued mutation in enqueue order.
func (q *Queue) Pending() ([]Item, error) {
	var items []Item
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var item Item
				if err := json.Unmarshal(val, &item); err != nil {
					return fmt.Errorf("decode mutation: %w", err)
				}
				items = append(items, item)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list mutations: %w", err)
	}
	return items, nil
}

// Len counts queued mutations.
func (q *Queue) Len() (int, error) {
	count := 0
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPrefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count mutations: %w", err)
	}
	return count, nil
}

// MarkAttempt records a failed replay attempt. When attempts reach
// maxRetries the item flips to StateFailed and the returned item carries
// that state; the caller removes it after reporting the permanent failure.
func (q *Queue) MarkAttempt(id string, attemptErr error, maxRetries int) (Item, error) {
	item, err := q.get(id)
	if err != nil {
		return Item{}, err
	}

	item.Attempts++
	item.LastAttemptAt = time.Now().UTC()
	if attemptErr != nil {
		item.LastError = attemptErr.Error()
	}
	if item.Attempts >= maxRetries {
		item.State = StateFailed
	} else {
		item.State = StateRetrying
	}

	if err := q.put(item); err != nil {
		return Item{}, err
	}
	metrics.QueueRetries.Inc()
	return item, nil
}

// ErrNotFound is returned when a mutation ID does not exist.
var ErrNotFound = errors.New("queue: mutation not found")

func (q *Queue) get(id string) (Item, error) {
	var item Item
	err := q.db.View(func(txn *badger.Txn) error {
		entry, err := txn.Get(itemKey(id))
		if err != nil {
			return err
		}
		return entry.Value(func(val []byte) error {
			return json.Unmarshal(val, &item)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("load mutation %s: %w", id, err)
	}
	return item, nil
}

// Remove deletes a mutation, either after the backend confirmed it or
// after it was reported as permanently failed.
func (q *Queue) Remove(id string) error {
	err := q.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(itemKey(id))
	})
	if err != nil {
		return fmt.Errorf("remove mutation %s: %w", id, err)
	}
	q.adjustDepth()
	return nil
}

func (q *Queue) adjustDepth() {
	if depth, err := q.Len(); err == nil {
		metrics.QueueDepth.Set(float64(depth))
	}
}
