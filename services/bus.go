package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/CrowderSoup/kanban-sync/events"
)

// Bus fans board events out to every backend instance. Run delivers each
// published event to deliver, in publish order per publisher.
type Bus interface {
	Publish(ctx context.Context, ev events.Event) error
	Run(ctx context.Context, deliver func(events.Event)) error
}

// LocalBus is the single-instance bus.
type LocalBus struct {
	ch chan events.Event
}

func NewLocalBus() *LocalBus {
	return &LocalBus{ch: make(chan events.Event, 1024)}
}

func (b *LocalBus) Publish(ctx context.Context, ev events.Event) error {
	select {
	case b.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *LocalBus) Run(ctx context.Context, deliver func(events.Event)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-b.ch:
			deliver(ev)
		}
	}
}

// DefaultChannel is the redis pub/sub channel board events travel on.
const DefaultChannel = "board-events"

// RedisBus publishes events on a redis channel so every instance's hub sees
// every board's events.
type RedisBus struct {
	rc      *redis.Client
	channel string
	log     log.FieldLogger
}

func NewRedisBus(rc *redis.Client, channel string, logger log.FieldLogger) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBus{rc: rc, channel: channel, log: logger}
}

func (b *RedisBus) Publish(ctx context.Context, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.rc.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Run subscribes until ctx is done, resubscribing when the channel closes.
func (b *RedisBus) Run(ctx context.Context, deliver func(events.Event)) error {
	for {
		sub := b.rc.Subscribe(ctx, b.channel)
		if _, err := sub.Receive(ctx); err != nil {
			sub.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.log.WithError(err).Error("redis subscribe failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return ctx.Err()
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				var ev events.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.log.WithError(err).Error("unable to parse board event")
					continue
				}
				deliver(ev)
			}
		}
		sub.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.log.Error("pubsub channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}
