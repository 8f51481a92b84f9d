package backplane

import (
	"context"

	"ChatRelay/logger"
	"ChatRelay/tools/errs"
	"ChatRelay/tools/safe"

	"github.com/redis/go-redis/v9"
)

// RedisBackplane 基于 Redis Pub/Sub；通道名就是 Redis channel，
// 与其它实现（Kotlin 网关等）互通的约定在 relay 包的通道命名里。
type RedisBackplane struct {
	rdb *redis.Client
}

func NewRedisBackplane(rdb *redis.Client) *RedisBackplane {
	return &RedisBackplane{rdb: rdb}
}

func (b *RedisBackplane) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return errs.ErrBackplanePublish.WrapMsg("redis publish", "channel", channel)
	}
	return nil
}

// Subscribe 先等 Redis 的 subscribe 确认再返回，保证"返回后发布必达"；
// 之后由单独 goroutine 串行消费该通道，天然保序。
func (b *RedisBackplane) Subscribe(channel string, h Handler) (Subscription, error) {
	ps := b.rdb.Subscribe(context.Background(), channel)

	// Receive 在确认帧到达前阻塞
	if _, err := ps.Receive(context.Background()); err != nil {
		_ = ps.Close()
		return nil, errs.WrapMsg(err, "redis subscribe", "channel", channel)
	}

	safe.SafeGoNamed("redis-sub:"+channel, func() {
		for msg := range ps.Channel() {
			h(msg.Channel, []byte(msg.Payload))
		}
		logger.Debugf("[backplane] redis channel closed: %s", channel)
	})

	return &redisSubscription{ps: ps}, nil
}

func (b *RedisBackplane) Close() error {
	// client 生命周期归 storage/redis 单例管，这里不关
	return nil
}

type redisSubscription struct {
	ps *redis.PubSub
}

func (s *redisSubscription) Close() error { return s.ps.Close() }
