package backplane

import (
	"context"
)

// Backplane 跨节点共享的发布/订阅通道。语义：至少一次投递、无回放；
// 本节点发布的消息也会经由自己的订阅回流（不做 skip-self 短路）。
type Backplane interface {
	// Publish 向命名通道发布；失败快速返回，不做重试
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe 订阅命名通道；返回时必须保证之后发布的消息能到达 h。
	// 同一通道内按发布顺序串行回调，不同通道可并发。
	Subscribe(channel string, h Handler) (Subscription, error)
	Close() error
}

// Handler 通道回调；payload 原样透传
type Handler func(channel string, payload []byte)

// Subscription 单个通道的订阅句柄
type Subscription interface {
	Close() error
}
