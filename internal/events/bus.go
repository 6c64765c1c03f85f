// Offcourse - Offline-First Learning Client
// Copyright 2026 Offcourse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/offcourse/offcourse

// Package events provides the in-process event bus the engine's components
// communicate over. It wraps Watermill's gochannel Pub/Sub: the connectivity
// monitor publishes transitions, the sync orchestrator subscribes to them and
// publishes completion events for the façade and the operational API.
package events

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/offcourse/offcourse/internal/logging"
)

// Topics carried on the bus.
const (
	TopicConnectivityChanged = "connectivity.changed"
	TopicSyncCompleted       = "sync.completed"
)

// ConnectivityChanged is published on every online/offline transition.
type ConnectivityChanged struct {
	Online         bool      `json:"online"`
	ConnectionType string    `json:"connection_type"`
	At             time.Time `json:"at"`
}

// SyncCompleted is published after every sync pass that ran (skipped passes
// publish nothing).
type SyncCompleted struct {
	Pulled     int           `json:"pulled"`
	Pushed     int           `json:"pushed"`
	Dropped    int           `json:"dropped"`
	PullErrors int           `json:"pull_errors"`
	Duration   time.Duration `json:"duration"`
	At         time.Time     `json:"at"`
}

// Bus is the engine-wide event bus.
type Bus struct {
	pubSub *gochannel.GoChannel
}

// NewBus creates a buffered in-process bus.
func NewBus() *Bus {
	return &Bus{
		pubSub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 16,
		}, newWatermillLogger()),
	}
}

// Publish serializes the payload and publishes it on the topic. Publish
// failures are logged, not returned; the bus is a best-effort notification
// channel and never blocks domain operations.
func (b *Bus) Publish(topic string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		logging.Err(err).Str("topic", topic).Msg("event payload marshal failed")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	if err := b.pubSub.Publish(topic, msg); err != nil {
		logging.Err(err).Str("topic", topic).Msg("event publish failed")
	}
}

// Subscribe returns the raw message channel for a topic. Consumers must Ack
// every message.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubSub.Subscribe(ctx, topic)
}

// Close shuts the bus down, closing all subscriber channels.
func (b *Bus) Close() error {
	return b.pubSub.Close()
}

// Decode unmarshals a bus message payload into v and acks the message.
func Decode(msg *message.Message, v interface{}) error {
	defer msg.Ack()
	return json.Unmarshal(msg.Payload, v)
}

// watermillLogger adapts the global zerolog logger to Watermill's interface.
type watermillLogger struct {
	fields watermill.LogFields
}

func newWatermillLogger() watermill.LoggerAdapter {
	return &watermillLogger{}
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.event(logging.Err(err), fields).Msg(msg)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.event(logging.Debug(), fields).Msg(msg) // watermill info is chatty; demote to debug
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.event(logging.Debug(), fields).Msg(msg)
}

func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.event(logging.Debug(), fields).Msg(msg)
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{fields: l.fields.Add(fields)}
}

func (l *watermillLogger) event(e *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range l.fields.Add(fields) {
		e = e.Interface(k, v)
	}
	return e
}
