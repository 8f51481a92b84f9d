package backplane

import (
	"context"

	"ChatRelay/tools/errs"

	"github.com/nats-io/nats.go"
)

// NatsBackplane 给已有 NATS 集群的部署用；subject 原样使用通道名
// （NATS subject 允许冒号，chat:room:xxx 是单 token）。
type NatsBackplane struct {
	nc *nats.Conn
}

type NatsConfig struct {
	URL  string
	Name string // 连接名，排查用
}

func NewNatsBackplane(cfg NatsConfig) (*NatsBackplane, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, errs.WrapMsg(err, "nats connect", "url", cfg.URL)
	}
	return &NatsBackplane{nc: nc}, nil
}

func (b *NatsBackplane) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.nc.Publish(channel, payload); err != nil {
		return errs.ErrBackplanePublish.WrapMsg("nats publish", "channel", channel)
	}
	return nil
}

// Subscribe Flush 之后服务端已登记订阅，满足“返回后发布必达”。
// NATS 对单个订阅的回调本身就是串行的。
func (b *NatsBackplane) Subscribe(channel string, h Handler) (Subscription, error) {
	sub, err := b.nc.Subscribe(channel, func(m *nats.Msg) {
		h(m.Subject, m.Data)
	})
	if err != nil {
		return nil, errs.WrapMsg(err, "nats subscribe", "channel", channel)
	}
	if err := b.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, errs.WrapMsg(err, "nats flush", "channel", channel)
	}
	return &natsSubscription{sub: sub}, nil
}

func (b *NatsBackplane) Close() error {
	b.nc.Close()
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Close() error { return s.sub.Unsubscribe() }
