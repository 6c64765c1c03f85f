// Offcourse - Offline-First Learning Client
// Copyright 2026 Offcourse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/offcourse/offcourse

// Package sync coordinates the offline synchronization engine: pulling
// remote content into the local store and replaying queued local mutations
// upstream.
//
// A sync pass moves through a fixed sequence of states:
//
//	Idle -> CheckingConnectivity -> Pulling -> Pushing -> Idle
//
// Exactly one pass runs at a time; triggers that arrive while a pass is in
// flight are rejected, not queued. Passes are triggered by startup, a
// periodic ticker, connectivity coming back online, and manual requests.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/offcourse/offcourse/internal/config"
	"github.com/offcourse/offcourse/internal/connectivity"
	"github.com/offcourse/offcourse/internal/events"
	"github.com/offcourse/offcourse/internal/gateway"
	"github.com/offcourse/offcourse/internal/logging"
	"github.com/offcourse/offcourse/internal/metrics"
	"github.com/offcourse/offcourse/internal/models"
	"github.com/offcourse/offcourse/internal/queue"
	"github.com/offcourse/offcourse/internal/session"
	"github.com/offcourse/offcourse/internal/store"
)

// State is the orchestrator's current phase.
type State string

const (
	StateIdle                 State = "idle"
	StateCheckingConnectivity State = "checking_connectivity"
	StatePulling              State = "pulling"
	StatePushing              State = "pushing"
)

var (
	// ErrSyncInProgress is returned when a trigger arrives while a pass
	// is already running. The trigger is dropped, not queued.
	ErrSyncInProgress = errors.New("sync: pass already in progress")

	// ErrOffline is returned when the connectivity check fails or the
	// connection is not reliable enough for background sync.
	ErrOffline = errors.New("sync: no reliable connectivity")

	// ErrSessionEnded is returned when the user logged out mid-pass and
	// the remaining work was discarded.
	ErrSessionEnded = errors.New("sync: session ended during pass")
)

// Prober is the slice of the connectivity monitor the orchestrator needs.
type Prober interface {
	ProbeNow(ctx context.Context) connectivity.Status
}

// Result summarizes one completed pass.
type Result struct {
	Pulled     int           `json:"pulled"`
	Pushed     int           `json:"pushed"`
	Dropped    int           `json:"dropped"`
	PullErrors int           `json:"pull_errors"`
	Duration   time.Duration `json:"duration"`
	At         time.Time     `json:"at"`
}

// Orchestrator runs sync passes. Construct with New; all fields are wired
// once and never swapped.
type Orchestrator struct {
	cfg          *config.SyncConfig
	gw           gateway.Gateway
	store        store.Store
	q            *queue.Queue
	prober       Prober
	sessions     *session.Manager
	entitlements interface {
		Refresh(ctx context.Context, userID string) error
	}
	snapshots  *store.SnapshotKeeper
	checkpoint *Checkpoint
	bus        *events.Bus

	// onPermanentFailure is invoked exactly once per mutation dropped at
	// the retry ceiling, after it is removed from the queue.
	onPermanentFailure func(queue.Item)

	// passMu is the re-entrancy guard: held for the whole pass.
	passMu sync.Mutex

	mu       sync.RWMutex
	state    State
	lastSync time.Time
	lastRes  *Result
}

// Options carries the orchestrator's collaborators.
type Options struct {
	Config       *config.SyncConfig
	Gateway      gateway.Gateway
	Store        store.Store
	Queue        *queue.Queue
	Prober       Prober
	Sessions     *session.Manager
	Entitlements interface {
		Refresh(ctx context.Context, userID string) error
	}
	Snapshots *store.SnapshotKeeper
	Bus       *events.Bus

	// OnPermanentFailure reports mutations dropped at the retry ceiling.
	// Optional; nil means failures are only logged.
	OnPermanentFailure func(queue.Item)
}

// New builds an orchestrator. Checkpoint may be nil, in which case every
// pass is a full pull.
func New(opts Options, checkpoint *Checkpoint) *Orchestrator {
	return &Orchestrator{
		cfg:                opts.Config,
		gw:                 opts.Gateway,
		store:              opts.Store,
		q:                  opts.Queue,
		prober:             opts.Prober,
		sessions:           opts.Sessions,
		entitlements:       opts.Entitlements,
		snapshots:          opts.Snapshots,
		checkpoint:         checkpoint,
		bus:                opts.Bus,
		onPermanentFailure: opts.OnPermanentFailure,
		state:              StateIdle,
	}
}

// State returns the current phase.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// LastSyncTime returns when the last pass fully completed (zero if never).
func (o *Orchestrator) LastSyncTime() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastSync
}

// LastResult returns the last completed pass summary, or nil.
func (o *Orchestrator) LastResult() *Result {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastRes
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Sync runs one full pass. It returns ErrSyncInProgress when a pass is
// already running and ErrOffline when connectivity is absent or, for
// cellular connections, not permitted.
func (o *Orchestrator) Sync(ctx context.Context) (*Result, error) {
	if !o.passMu.TryLock() {
		logging.Debug().Msg("sync trigger dropped, pass in flight")
		return nil, ErrSyncInProgress
	}
	defer o.passMu.Unlock()
	defer o.setState(StateIdle)

	start := time.Now()

	o.setState(StateCheckingConnectivity)
	status := o.prober.ProbeNow(ctx)
	if !status.Reliable(o.cfg.AllowCellular) {
		metrics.SyncSkipped.Inc()
		logging.Info().Bool("online", status.Online).
			Str("connection", string(status.Type)).Msg("sync skipped")
		return nil, ErrOffline
	}

	gen := o.sessions.Generation()
	hadSession := o.sessions.Valid(gen)
	res := &Result{}

	o.setState(StatePulling)
	o.pull(ctx, res)

	// Without a session this is a content-only pass: shared content is
	// pulled, but queued mutations belong to a user and stay untouched.
	if hadSession {
		o.setState(StatePushing)
		if err := o.push(ctx, gen, res); err != nil {
			return nil, err
		}

		// The user logged out mid-pass: the store writes already made
		// are for shared content and harmless, but nothing user-scoped
		// is finalized.
		if !o.sessions.Valid(gen) {
			logging.Info().Msg("discarding sync pass, session changed")
			return nil, ErrSessionEnded
		}

		o.refreshUserCaches(ctx, res)
	}

	res.Duration = time.Since(start)
	res.At = time.Now().UTC()

	o.mu.Lock()
	o.lastSync = res.At
	o.lastRes = res
	o.mu.Unlock()

	metrics.SyncDuration.Observe(res.Duration.Seconds())
	metrics.SyncLastSuccess.Set(float64(res.At.Unix()))
	o.bus.Publish(events.TopicSyncCompleted, events.SyncCompleted{
		Pulled:     res.Pulled,
		Pushed:     res.Pushed,
		Dropped:    res.Dropped,
		PullErrors: res.PullErrors,
		Duration:   res.Duration,
		At:         res.At,
	})

	logging.Info().Int("pulled", res.Pulled).Int("pushed", res.Pushed).
		Int("dropped", res.Dropped).Int("pull_errors", res.PullErrors).
		Dur("duration", res.Duration).Msg("sync pass completed")
	return res, nil
}

// pull fetches remote content in dependency order: levels before lessons
// before quizzes, so parents exist when children arrive, then jobs. A
// failing content type is logged and skipped; the rest still sync.
func (o *Orchestrator) pull(ctx context.Context, res *Result) {
	since := time.Time{}
	if o.checkpoint != nil {
		since = o.checkpoint.LastPull()
	}
	pullStarted := time.Now().UTC()
	allOK := true

	type step struct {
		name  string
		fetch func() (store.UpsertResult, error)
	}
	steps := []step{
		{"levels", func() (store.UpsertResult, error) {
			items, err := o.gw.FetchLevels(ctx, since)
			if err != nil {
				return store.UpsertResult{}, err
			}
			return o.store.UpsertLevels(ctx, items)
		}},
		{"lessons", func() (store.UpsertResult, error) {
			items, err := o.gw.FetchLessons(ctx, since)
			if err != nil {
				return store.UpsertResult{}, err
			}
			return o.store.UpsertLessons(ctx, items)
		}},
		{"quizzes", func() (store.UpsertResult, error) {
			items, err := o.gw.FetchQuizzes(ctx, since)
			if err != nil {
				return store.UpsertResult{}, err
			}
			return o.store.UpsertQuizzes(ctx, items)
		}},
		{"jobs", func() (store.UpsertResult, error) {
			items, err := o.gw.FetchJobs(ctx, since)
			if err != nil {
				return store.UpsertResult{}, err
			}
			return o.store.UpsertJobs(ctx, items)
		}},
	}

	for _, s := range steps {
		out, err := s.fetch()
		if err != nil {
			allOK = false
			res.PullErrors++
			metrics.SyncPullErrors.WithLabelValues(s.name).Inc()
			logging.Err(err).Str("content_type", s.name).Msg("pull failed")
			continue
		}
		res.Pulled += out.Applied
		metrics.SyncRecordsPulled.WithLabelValues(s.name).Add(float64(out.Applied))
		if out.SkippedOrphan > 0 {
			logging.Warn().Str("content_type", s.name).
				Int("orphans", out.SkippedOrphan).Msg("deferred orphaned records")
		}
	}

	// Only advance the incremental checkpoint when every type pulled
	// cleanly; a partial pull must be retried from the old watermark.
	if allOK && o.checkpoint != nil {
		if err := o.checkpoint.SetLastPull(pullStarted); err != nil {
			logging.Err(err).Msg("persist pull checkpoint")
		}
	}
}

// push replays the mutation queue strictly in enqueue order. A mutation
// that keeps failing is retried up to the configured ceiling, then removed
// and reported as a permanent failure exactly once. An unavailable backend
// aborts the replay and keeps everything queued.
func (o *Orchestrator) push(ctx context.Context, gen uint64, res *Result) error {
	items, err := o.q.Pending()
	if err != nil {
		return fmt.Errorf("list pending mutations: %w", err)
	}

	for _, item := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !o.sessions.Valid(gen) {
			return ErrSessionEnded
		}

		pushErr := o.replay(ctx, item)
		if pushErr == nil {
			if err := o.q.Remove(item.ID); err != nil {
				return err
			}
			res.Pushed++
			metrics.QueuePushed.Inc()
			continue
		}

		if errors.Is(pushErr, gateway.ErrUnavailable) {
			logging.Warn().Msg("backend unavailable, pausing mutation replay")
			return nil
		}

		marked, err := o.q.MarkAttempt(item.ID, pushErr, o.cfg.MaxRetries)
		if err != nil {
			return err
		}
		logging.Warn().Str("id", item.ID).Int("attempts", marked.Attempts).
			Err(pushErr).Msg("mutation replay failed")

		if marked.State == queue.StateFailed {
			if err := o.q.Remove(item.ID); err != nil {
				return err
			}
			res.Dropped++
			metrics.QueueDropped.Inc()
			logging.Error().Str("id", item.ID).Str("action", string(item.Action)).
				Msg("mutation dropped after retry ceiling")
			if o.onPermanentFailure != nil {
				o.onPermanentFailure(marked)
			}
		}
	}
	return nil
}

// replay applies one queued mutation against the backend and reconciles
// the local record with the backend's identity.
func (o *Orchestrator) replay(ctx context.Context, item queue.Item) error {
	switch item.Action {
	case queue.ActionSaveProgress:
		var rec models.ProgressRecord
		if err := json.Unmarshal(item.Payload, &rec); err != nil {
			return fmt.Errorf("decode progress payload: %w", err)
		}
		remoteID, err := o.gw.UpsertProgress(ctx, rec)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		rec.RemoteID = remoteID
		rec.SyncedAt = &now
		if err := o.store.SaveProgress(ctx, rec); err != nil {
			// Remote accepted the write; a failed local reconcile is
			// logged, not retried, or the mutation would replay twice.
			logging.Err(err).Str("id", item.ID).Msg("reconcile pushed progress")
		}
		return nil
	default:
		return fmt.Errorf("unknown mutation action %q", item.Action)
	}
}

// refreshUserCaches updates the entitlement cache and offline snapshot for
// the signed-in user. Both are best effort. The snapshot is rebuilt only
// when the pass changed something or the persisted copy has aged past its
// TTL; a fresh snapshot after a no-op pass is left alone.
func (o *Orchestrator) refreshUserCaches(ctx context.Context, res *Result) {
	sess, err := o.sessions.Current()
	if err != nil {
		return
	}

	if o.entitlements != nil {
		if err := o.entitlements.Refresh(ctx, sess.UserID); err != nil {
			logging.Warn().Err(err).Msg("entitlement refresh failed")
		}
	}
	if o.snapshots != nil && (res.Pulled > 0 || res.Pushed > 0 || o.snapshotStale()) {
		if err := o.saveSnapshot(ctx, sess.UserID); err != nil {
			logging.Warn().Err(err).Msg("snapshot refresh failed")
		}
	}
}

// snapshotStale reports whether the persisted snapshot is missing or past
// its TTL.
func (o *Orchestrator) snapshotStale() bool {
	snap, err := o.snapshots.Load()
	if err != nil {
		return true
	}
	return snap.Stale(time.Now().UTC())
}

// saveSnapshot captures the store's current content and the user's
// progress into the offline fallback snapshot.
func (o *Orchestrator) saveSnapshot(ctx context.Context, userID string) error {
	levels, err := o.store.AllLevels(ctx)
	if err != nil {
		return err
	}
	snap := &models.Snapshot{
		Levels:           make(map[string]models.Level, len(levels)),
		LessonsByLevel:   make(map[string][]models.Lesson, len(levels)),
		ProgressByLesson: make(map[string]models.ProgressRecord),
		CachedAt:         time.Now().UTC(),
	}
	for _, l := range levels {
		snap.Levels[l.ID] = l
		lessons, err := o.store.LessonsByLevel(ctx, l.ID)
		if err != nil {
			return err
		}
		snap.LessonsByLevel[l.ID] = lessons
	}

	recs, err := o.store.Progress(ctx, store.ProgressFilter{UserID: userID})
	if err != nil {
		return err
	}
	for _, rec := range recs {
		snap.ProgressByLesson[rec.LessonID] = rec
	}
	return o.snapshots.Save(snap)
}
