package live

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tasksync/domain"
)

// envelope is the shape published on the broker channel. Topic routes the
// message to the right document subscribers on every instance.
type envelope struct {
	Topic   string          `json:"topic"`
	Message json.RawMessage `json:"message"`
}

// Bridge connects the local Hub to a Redis pub/sub channel so events reach
// subscribers on every instance. Events that cannot be published are parked
// in a fallback queue and replayed by DrainOutbox.
type Bridge struct {
	rc      *redis.Client
	channel string
	outbox  FallbackQueue
	logger  *log.Logger
}

func NewBridge(rc *redis.Client, channel string, outbox FallbackQueue, logger *log.Logger) *Bridge {
	if logger == nil {
		logger = log.New()
	}
	return &Bridge{rc: rc, channel: channel, outbox: outbox, logger: logger}
}

// Publish sends the event to the broker on the given document topic. A
// broker failure is absorbed into the fallback queue when one is configured;
// mutations must not fail because fanout is degraded.
func (b *Bridge) Publish(ctx context.Context, topic string, ev domain.Event) error {
	msg, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	data, err := json.Marshal(envelope{Topic: topic, Message: msg})
	if err != nil {
		return err
	}
	if b.rc != nil {
		if err := b.rc.Publish(ctx, b.channel, data).Err(); err == nil {
			return nil
		} else if b.outbox == nil {
			return err
		} else {
			b.logger.WithError(err).Warn("publish failed, parking event in fallback queue")
		}
	}
	if b.outbox == nil {
		return nil
	}
	return b.outbox.Enqueue(ctx, string(data))
}

// Run subscribes to the broker channel and forwards every envelope to the
// hub. It reconnects after broker failures until the context is cancelled.
func (b *Bridge) Run(ctx context.Context, hub *Hub) {
	if b.rc == nil {
		return
	}
	for {
		sub := b.rc.Subscribe(ctx, b.channel)
		ch := sub.Channel()
		for msg := range ch {
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.WithError(err).Error("unable to parse broker message")
				continue
			}
			hub.Broadcast(env.Topic, env.Message)
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		b.logger.Error("pubsub channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}

// DrainOutbox periodically replays parked events to the broker. Messages
// are deleted from the queue only after a successful publish.
func (b *Bridge) DrainOutbox(ctx context.Context, interval time.Duration) {
	if b.rc == nil || b.outbox == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for {
			msg, err := b.outbox.Dequeue(ctx)
			if err != nil {
				b.logger.WithError(err).Error("fallback queue receive failed")
				break
			}
			if msg == nil {
				break
			}
			if msg.MessageText != nil {
				if err := b.rc.Publish(ctx, b.channel, *msg.MessageText).Err(); err != nil {
					b.logger.WithError(err).Error("replaying parked event failed")
					break
				}
			}
			if err := b.outbox.Delete(ctx, *msg.MessageID, *msg.PopReceipt); err != nil {
				b.logger.WithError(err).Error("deleting parked event failed")
				break
			}
		}
	}
}
