package relay

import (
	"sync"

	"ChatRelay/logger"
	"ChatRelay/service/backplane"
)

// ChannelRegistry 本实例已订阅的背板通道。订阅是惰性的：
// 房间通道只在本实例第一次有人 join 时才建；空房后也不主动退订
// （退订/重订的抖动比挂一个闲置订阅更贵，Unsubscribe 留给运维面）。
type ChannelRegistry struct {
	mu   sync.Mutex
	bp   backplane.Backplane
	subs map[string]backplane.Subscription
}

func NewChannelRegistry(bp backplane.Backplane) *ChannelRegistry {
	return &ChannelRegistry{
		bp:   bp,
		subs: make(map[string]backplane.Subscription),
	}
}

// EnsureSubscribed 不在订阅表里才真正订阅；持锁跨越整个
// check-then-subscribe 窗口，并发 join 同一个空房也只会建一个订阅。
// 首个回调胜出：重复调用换回调是 no-op。返回即保证后续发布可达。
func (r *ChannelRegistry) EnsureSubscribed(channel string, h backplane.Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[channel]; ok {
		return nil
	}
	sub, err := r.bp.Subscribe(channel, h)
	if err != nil {
		return err
	}
	r.subs[channel] = sub
	logger.Infof("[channels] subscribed channel=%s", channel)
	return nil
}

// Unsubscribe 没订阅过就是 no-op
func (r *ChannelRegistry) Unsubscribe(channel string) {
	r.mu.Lock()
	sub, ok := r.subs[channel]
	if ok {
		delete(r.subs, channel)
	}
	r.mu.Unlock()

	if ok {
		if err := sub.Close(); err != nil {
			logger.Warnf("[channels] unsubscribe channel=%s err=%v", channel, err)
		} else {
			logger.Infof("[channels] unsubscribed channel=%s", channel)
		}
	}
}

func (r *ChannelRegistry) IsSubscribed(channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subs[channel]
	return ok
}

// CloseAll 进程退出时统一退订
func (r *ChannelRegistry) CloseAll() {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[string]backplane.Subscription)
	r.mu.Unlock()

	for ch, sub := range subs {
		if err := sub.Close(); err != nil {
			logger.Warnf("[channels] close channel=%s err=%v", ch, err)
		}
	}
}
