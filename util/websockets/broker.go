package websockets

import (
	"context"
	"encoding/json"

	"github.com/bwise1/civic_patrol/internal/model"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Broker carries change events from the instance that performed a write to
// every instance holding websocket clients.
type Broker interface {
	Publish(ctx context.Context, ev model.ChangeEvent) error
	// Listen calls deliver for every published event until ctx is done.
	Listen(ctx context.Context, deliver func(model.ChangeEvent)) error
	Close() error
}

// LocalBroker keeps events inside the process. It serves a single listener.
type LocalBroker struct {
	events chan model.ChangeEvent
}

func NewLocalBroker(buffer int) *LocalBroker {
	return &LocalBroker{events: make(chan model.ChangeEvent, buffer)}
}

func (b *LocalBroker) Publish(ctx context.Context, ev model.ChangeEvent) error {
	select {
	case b.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *LocalBroker) Listen(ctx context.Context, deliver func(model.ChangeEvent)) error {
	for {
		select {
		case ev := <-b.events:
			deliver(ev)
		case <-ctx.Done():
			return nil
		}
	}
}

func (b *LocalBroker) Close() error { return nil }

// RedisBroker fans events out over a Redis pub/sub channel so that several
// API instances share one event stream.
type RedisBroker struct {
	client  *redis.Client
	channel string
	log     *zap.Logger
}

func NewRedisBroker(client *redis.Client, channel string, log *zap.Logger) *RedisBroker {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisBroker{client: client, channel: channel, log: log}
}

func (b *RedisBroker) Publish(ctx context.Context, ev model.ChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encode change event")
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return errors.Wrapf(err, "publish to %s", b.channel)
	}
	return nil
}

func (b *RedisBroker) Listen(ctx context.Context, deliver func(model.ChangeEvent)) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return errors.Wrapf(err, "subscribe to %s", b.channel)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := decodeEvent(msg.Payload)
			if err != nil {
				b.log.Warn("dropping broker message", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			deliver(ev)
		}
	}
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}

func decodeEvent(payload string) (model.ChangeEvent, error) {
	var ev model.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ev, errors.Wrap(err, "decode change event")
	}
	if !ev.Channel.Valid() || ev.EntityID == "" {
		return ev, errors.Errorf("malformed change event on channel %q", ev.Channel)
	}
	return ev, nil
}
