package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	appLog "condcal/internal/log"
)

// RedisBus publishes changes on a Redis pub/sub channel and delivers every
// message received on that channel, including its own, to local callbacks.
// Run must be started for callbacks to fire.
type RedisBus struct {
	local   *LocalBus
	rc      *redis.Client
	channel string
}

var _ Bus = (*RedisBus)(nil)

func NewRedisBus(rc *redis.Client, channel string) *RedisBus {
	return &RedisBus{local: NewLocalBus(), rc: rc, channel: channel}
}

func (b *RedisBus) Publish(ctx context.Context, c Change) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return b.rc.Publish(ctx, b.channel, data).Err()
}

func (b *RedisBus) OnChange(fn func(Change)) func() {
	return b.local.OnChange(fn)
}

// Run subscribes to the channel until ctx is canceled, reconnecting when
// the subscription drops. ready, if non-nil, is closed once the first
// subscription is confirmed.
func (b *RedisBus) Run(ctx context.Context, ready chan<- struct{}) {
	signalled := false
	for {
		sub := b.rc.Subscribe(ctx, b.channel)
		if _, err := sub.Receive(ctx); err != nil {
			_ = sub.Close()
			if ctx.Err() != nil {
				return
			}
			appLog.Error("realtime: subscribe failed, retrying", err, "channel", b.channel)
			if !sleepCtx(ctx, time.Second) {
				return
			}
			continue
		}
		if !signalled && ready != nil {
			close(ready)
			signalled = true
		}

		b.consume(ctx, sub.Channel())
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		appLog.Warn("realtime: pubsub channel closed, reconnecting", "channel", b.channel)
		if !sleepCtx(ctx, time.Second) {
			return
		}
	}
}

func (b *RedisBus) consume(ctx context.Context, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var c Change
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				appLog.Error("realtime: unable to parse change", err, "channel", b.channel)
				continue
			}
			b.local.dispatch(c)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
