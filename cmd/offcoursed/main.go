// Offcourse - Offline-First Learning Client
// Copyright 2026 Offcourse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/offcourse/offcourse

// offcoursed is the background sync daemon of the Offcourse client. It
// keeps the local course cache fresh, replays offline progress mutations
// against the hosted backend, and exposes a small operational HTTP API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/dgraph-io/badger/v4"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/offcourse/offcourse/internal/api"
	"github.com/offcourse/offcourse/internal/config"
	"github.com/offcourse/offcourse/internal/connectivity"
	"github.com/offcourse/offcourse/internal/entitlement"
	"github.com/offcourse/offcourse/internal/events"
	"github.com/offcourse/offcourse/internal/facade"
	"github.com/offcourse/offcourse/internal/gateway"
	"github.com/offcourse/offcourse/internal/logging"
	"github.com/offcourse/offcourse/internal/queue"
	"github.com/offcourse/offcourse/internal/session"
	"github.com/offcourse/offcourse/internal/store"
	syncengine "github.com/offcourse/offcourse/internal/sync"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("daemon failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Str("engine", cfg.Store.Engine).Msg("offcoursed starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Shared Badger handle: document store, snapshot, entitlements,
	// session and sync checkpoint all live here.
	kv, err := badger.Open(badger.DefaultOptions(cfg.Store.CachePath).WithLogger(nil))
	if err != nil {
		return err
	}
	defer kv.Close()

	st, err := store.Open(ctx, &cfg.Store, kv)
	if err != nil {
		return err
	}
	defer st.Close()

	q, err := queue.Open(&cfg.Queue)
	if err != nil {
		return err
	}
	defer q.Close()

	sessions, err := session.NewManager(kv, cfg.Session.MasterKey)
	if err != nil {
		return err
	}

	bus := events.NewBus()
	defer bus.Close()

	gw := gateway.NewBreakerClient(&cfg.Remote)
	entitlements := entitlement.NewCache(kv, gw)
	snapshots := store.NewSnapshotKeeper(kv)

	checkpoint, err := syncengine.NewCheckpoint(kv)
	if err != nil {
		return err
	}

	prober := connectivity.NewHTTPProber(cfg.Remote.BaseURL, cfg.Connectivity.ProbeTimeout)
	monitor := connectivity.NewMonitor(prober, cfg.Connectivity.ProbeInterval, bus)

	orch := syncengine.New(syncengine.Options{
		Config:       &cfg.Sync,
		Gateway:      gw,
		Store:        st,
		Queue:        q,
		Prober:       monitor,
		Sessions:     sessions,
		Entitlements: entitlements,
		Snapshots:    snapshots,
		Bus:          bus,
		OnPermanentFailure: func(item queue.Item) {
			logging.Error().Str("id", item.ID).Str("action", string(item.Action)).
				Str("error", item.LastError).Msg("offline mutation permanently failed")
		},
	}, checkpoint)
	syncSvc := syncengine.NewService(orch, bus)
	app := facade.New(st, snapshots, q, sessions, entitlements)

	handler := &sutureslog.Handler{Logger: slog.Default()}
	root := suture.New("offcoursed", suture.Spec{
		EventHook: handler.MustHook(),
	})
	root.Add(monitor)
	root.Add(syncSvc)
	if cfg.Server.Enabled {
		root.Add(api.NewServer(&cfg.Server, orch, syncSvc, q, monitor, app, gw, sessions))
	}

	err = root.Serve(ctx)
	logging.Info().Msg("offcoursed stopped")
	return err
}
