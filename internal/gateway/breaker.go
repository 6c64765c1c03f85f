// Offcourse - Offline-First Learning Client
// Copyright 2026 Offcourse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/offcourse/offcourse

package gateway

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/offcourse/offcourse/internal/config"
	"github.com/offcourse/offcourse/internal/logging"
	"github.com/offcourse/offcourse/internal/metrics"
	"github.com/offcourse/offcourse/internal/models"
)

// Gateway is the remote surface consumed by the orchestrator, facade and
// entitlement cache. Implemented by BreakerClient in production and by
// mocks in tests.
type Gateway interface {
	Ping(ctx context.Context) error
	FetchLevels(ctx context.Context, since time.Time) ([]models.Level, error)
	FetchLessons(ctx context.Context, since time.Time) ([]models.Lesson, error)
	FetchQuizzes(ctx context.Context, since time.Time) ([]models.Quiz, error)
	FetchJobs(ctx context.Context, since time.Time) ([]models.Job, error)
	UpsertProgress(ctx context.Context, rec models.ProgressRecord) (string, error)
	Login(ctx context.Context, creds Credentials) (*AuthResult, error)
	Signup(ctx context.Context, creds Credentials) (*AuthResult, error)
	FetchEntitlements(ctx context.Context, userID string) ([]string, error)
}

// ErrUnavailable reports that the circuit is open and the call was not
// attempted. Callers treat it like a transient network failure.
var ErrUnavailable = errors.New("gateway: remote backend unavailable")

// BreakerClient wraps Client with a circuit breaker so a misbehaving
// backend sheds load instead of absorbing every sync pass.
//
// The breaker uses real time for its interval and timeout; tests exercise
// the wrapped Client directly.
type BreakerClient struct {
	client *Client
	cb     *gobreaker.CircuitBreaker[interface{}]
}

// NewBreakerClient builds the production gateway. The breaker opens at a
// 60% failure rate over at least 10 requests, resets counts every minute,
// and probes recovery after 2 minutes.
func NewBreakerClient(cfg *config.RemoteConfig) *BreakerClient {
	metrics.CircuitBreakerState.Set(0)

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        "remote-backend",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			if failureRatio >= 0.6 {
				logging.Warn().Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("opening remote gateway circuit")
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("from", from.String()).Str("to", to.String()).
				Msg("gateway circuit state change")
			metrics.CircuitBreakerState.Set(stateToFloat(to))
		},
	})

	return &BreakerClient{client: NewClient(cfg), cb: cb}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

func (b *BreakerClient) execute(fn func() (interface{}, error)) (interface{}, error) {
	out, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrUnavailable
	}
	return out, err
}

func (b *BreakerClient) Ping(ctx context.Context) error {
	_, err := b.execute(func() (interface{}, error) {
		return nil, b.client.Ping(ctx)
	})
	return err
}

func (b *BreakerClient) FetchLevels(ctx context.Context, since time.Time) ([]models.Level, error) {
	out, err := b.execute(func() (interface{}, error) {
		return b.client.FetchLevels(ctx, since)
	})
	if err != nil {
		return nil, err
	}
	return out.([]models.Level), nil
}

func (b *BreakerClient) FetchLessons(ctx context.Context, since time.Time) ([]models.Lesson, error) {
	out, err := b.execute(func() (interface{}, error) {
		return b.client.FetchLessons(ctx, since)
	})
	if err != nil {
		return nil, err
	}
	return out.([]models.Lesson), nil
}

func (b *BreakerClient) FetchQuizzes(ctx context.Context, since time.Time) ([]models.Quiz, error) {
	out, err := b.execute(func() (interface{}, error) {
		return b.client.FetchQuizzes(ctx, since)
	})
	if err != nil {
		return nil, err
	}
	return out.([]models.Quiz), nil
}

func (b *BreakerClient) FetchJobs(ctx context.Context, since time.Time) ([]models.Job, error) {
	out, err := b.execute(func() (interface{}, error) {
		return b.client.FetchJobs(ctx, since)
	})
	if err != nil {
		return nil, err
	}
	return out.([]models.Job), nil
}

func (b *BreakerClient) UpsertProgress(ctx context.Context, rec models.ProgressRecord) (string, error) {
	out, err := b.execute(func() (interface{}, error) {
		return b.client.UpsertProgress(ctx, rec)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func (b *BreakerClient) Login(ctx context.Context, creds Credentials) (*AuthResult, error) {
	out, err := b.execute(func() (interface{}, error) {
		return b.client.Login(ctx, creds)
	})
	if err != nil {
		return nil, err
	}
	return out.(*AuthResult), nil
}

func (b *BreakerClient) Signup(ctx context.Context, creds Credentials) (*AuthResult, error) {
	out, err := b.execute(func() (interface{}, error) {
		return b.client.Signup(ctx, creds)
	})
	if err != nil {
		return nil, err
	}
	return out.(*AuthResult), nil
}

func (b *BreakerClient) FetchEntitlements(ctx context.Context, userID string) ([]string, error) {
	out, err := b.execute(func() (interface{}, error) {
		return b.client.FetchEntitlements(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return out.([]string), nil
}
