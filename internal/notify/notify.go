// Package notify is the notification port: toggles and the sweeper use it to
// tell observers (the UI layer) that something changed.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Event names understood by observers.
const (
	EventRefreshNeeded = "refresh-needed"
	EventError         = "error"
)

// Message is one published notification.
type Message struct {
	Event   string    `json:"event"`
	Payload string    `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

// Notifier publishes events to whoever is listening.
type Notifier interface {
	Notify(ctx context.Context, event, payload string) error
}

// Memory is a bounded channel-backed notifier for dev and tests. When the
// buffer is full the oldest unread message is dropped.
type Memory struct {
	ch chan Message
}

// NewMemory creates a bounded in-memory notifier.
func NewMemory(size int) *Memory {
	if size <= 0 {
		size = 16
	}
	return &Memory{ch: make(chan Message, size)}
}

// Notify enqueues a message without blocking the caller.
func (m *Memory) Notify(_ context.Context, event, payload string) error {
	msg := Message{Event: event, Payload: payload, At: time.Now()}
	for {
		select {
		case m.ch <- msg:
			return nil
		default:
			select {
			case <-m.ch:
			default:
			}
		}
	}
}

// Events exposes the message channel for observers.
func (m *Memory) Events() <-chan Message {
	return m.ch
}

// Redis publishes messages on a pub/sub channel so a separate UI process can
// subscribe for refresh signals.
type Redis struct {
	client  *redis.Client
	channel string
	log     zerolog.Logger
}

// NewRedis builds a redis-backed notifier on the given channel.
func NewRedis(client *redis.Client, channel string, log zerolog.Logger) *Redis {
	if channel == "" {
		channel = "formnew:events"
	}
	return &Redis{client: client, channel: channel, log: log}
}

// Notify publishes the message; failures are reported to the caller but are
// never fatal for the mutation that triggered them.
func (r *Redis) Notify(ctx context.Context, event, payload string) error {
	raw, err := json.Marshal(Message{Event: event, Payload: payload, At: time.Now()})
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, raw).Err(); err != nil {
		r.log.Warn().Err(err).Str("event", event).Msg("notify publish failed")
		return err
	}
	return nil
}
