// Offcourse - Offline-First Learning Client
// Copyright 2026 Offcourse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/offcourse/offcourse

package sync

import (
	"context"
	"errors"
	"time"

	"github.com/offcourse/offcourse/internal/events"
	"github.com/offcourse/offcourse/internal/logging"
)

// Service runs the orchestrator's trigger loop under the supervision tree.
// It implements suture.Service via Serve.
type Service struct {
	orch    *Orchestrator
	bus     *events.Bus
	trigger chan struct{}
}

// NewService wraps the orchestrator.
func NewService(orch *Orchestrator, bus *events.Bus) *Service {
	return &Service{
		orch:    orch,
		bus:     bus,
		trigger: make(chan struct{}, 1),
	}
}

// TriggerSync requests a pass without waiting for the next tick. Returns
// false when a trigger is already queued.
func (s *Service) TriggerSync() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Serve runs until ctx is cancelled, firing passes on startup (when
// configured), every interval, when connectivity returns, and on manual
// triggers. ErrSyncInProgress and ErrOffline are expected outcomes, not
// service failures.
func (s *Service) Serve(ctx context.Context) error {
	connectivityCh, err := s.bus.Subscribe(ctx, events.TopicConnectivityChanged)
	if err != nil {
		return err
	}

	if s.orch.cfg.InitialSync {
		s.run(ctx, "startup")
	}

	ticker := time.NewTicker(s.orch.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.run(ctx, "interval")
		case <-s.trigger:
			s.run(ctx, "manual")
		case msg, ok := <-connectivityCh:
			if !ok {
				return errors.New("connectivity subscription closed")
			}
			var ev events.ConnectivityChanged
			if err := events.Decode(msg, &ev); err != nil {
				logging.Err(err).Msg("decode connectivity event")
				continue
			}
			if ev.Online {
				s.run(ctx, "connectivity")
			}
		}
	}
}

func (s *Service) run(ctx context.Context, trigger string) {
	logging.Debug().Str("trigger", trigger).Msg("sync triggered")
	_, err := s.orch.Sync(ctx)
	switch {
	case err == nil,
		errors.Is(err, ErrSyncInProgress),
		errors.Is(err, ErrOffline),
		errors.Is(err, ErrSessionEnded),
		errors.Is(err, context.Canceled):
	default:
		logging.Err(err).Str("trigger", trigger).Msg("sync pass failed")
	}
}

// String names the service in supervisor logs.
func (s *Service) String() string { return "sync-orchestrator" }
