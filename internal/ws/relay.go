package ws

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type envelope struct {
	Recipients []uint          `json:"recipients"`
	Frame      json.RawMessage `json:"frame"`
}

// RedisRelay 通过 Redis 频道把推送广播给所有实例，每个实例只投递给本地绑定的接收者。
type RedisRelay struct {
	rdb     redis.UniversalClient
	channel string
	local   *LocalDelivery
}

func NewRedisRelay(rdb redis.UniversalClient, channel string, local *LocalDelivery) *RedisRelay {
	return &RedisRelay{rdb: rdb, channel: channel, local: local}
}

// Deliver 发布失败时退化为只投递本实例。
func (r *RedisRelay) Deliver(ctx context.Context, recipients []uint, frame []byte) {
	if len(recipients) == 0 {
		return
	}
	b, err := json.Marshal(envelope{Recipients: recipients, Frame: frame})
	if err == nil {
		err = r.rdb.Publish(ctx, r.channel, b).Err()
	}
	if err != nil {
		log.Warn().Err(err).Str("channel", r.channel).Msg("relay publish failed, delivering locally")
		r.local.Deliver(ctx, recipients, frame)
	}
}

// Run 订阅频道并把收到的信封投递到本地，直到 ctx 结束。
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
				log.Warn().Err(err).Msg("relay envelope dropped")
				continue
			}
			r.local.Deliver(ctx, env.Recipients, env.Frame)
		}
	}
}
