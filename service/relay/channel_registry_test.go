package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

func TestChannelRegistryEnsureSubscribedIdempotent(t *testing.T) {
	bp := newMemBackplane()
	r := NewChannelRegistry(bp)

	h := func(channel string, payload []byte) {}
	for i := 0; i < 3; i++ {
		if err := r.EnsureSubscribed("chat:room:r1", h); err != nil {
			t.Fatalf("ensure #%d: %v", i, err)
		}
	}
	if got := bp.subscribeCalls("chat:room:r1"); got != 1 {
		t.Errorf("subscribe calls = %d, want 1", got)
	}
	if !r.IsSubscribed("chat:room:r1") {
		t.Error("channel should be tracked as subscribed")
	}
}

func TestChannelRegistryFirstCallbackWins(t *testing.T) {
	bp := newMemBackplane()
	r := NewChannelRegistry(bp)

	var first, second atomic.Int32
	if err := r.EnsureSubscribed("c", func(string, []byte) { first.Add(1) }); err != nil {
		t.Fatal(err)
	}
	if err := r.EnsureSubscribed("c", func(string, []byte) { second.Add(1) }); err != nil {
		t.Fatal(err)
	}

	if err := bp.Publish(context.Background(), "c", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if first.Load() != 1 || second.Load() != 0 {
		t.Errorf("first=%d second=%d, want the original callback to keep the channel", first.Load(), second.Load())
	}
}

func TestChannelRegistryConcurrentEnsure(t *testing.T) {
	bp := newMemBackplane()
	r := NewChannelRegistry(bp)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.EnsureSubscribed("chat:room:busy", func(string, []byte) {}); err != nil {
				t.Errorf("ensure: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := bp.subscribeCalls("chat:room:busy"); got != 1 {
		t.Errorf("subscribe calls = %d, want exactly 1 under contention", got)
	}
}

func TestChannelRegistryUnsubscribe(t *testing.T) {
	bp := newMemBackplane()
	r := NewChannelRegistry(bp)

	var calls atomic.Int32
	if err := r.EnsureSubscribed("c", func(string, []byte) { calls.Add(1) }); err != nil {
		t.Fatal(err)
	}
	r.Unsubscribe("c")
	if r.IsSubscribed("c") {
		t.Error("channel should be dropped from the registry")
	}
	if err := bp.Publish(context.Background(), "c", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 0 {
		t.Error("handler must not fire after unsubscribe")
	}

	// 没订阅过的通道是 no-op
	r.Unsubscribe("never-subscribed")
}

func TestChannelRegistryCloseAll(t *testing.T) {
	bp := newMemBackplane()
	r := NewChannelRegistry(bp)

	for _, c := range []string{"a", "b", "c"} {
		if err := r.EnsureSubscribed(c, func(string, []byte) {}); err != nil {
			t.Fatal(err)
		}
	}
	r.CloseAll()
	for _, c := range []string{"a", "b", "c"} {
		if r.IsSubscribed(c) {
			t.Errorf("channel %s should be closed", c)
		}
	}

	// CloseAll 之后还能重新订阅
	if err := r.EnsureSubscribed("a", func(string, []byte) {}); err != nil {
		t.Fatal(err)
	}
	if got := bp.subscribeCalls("a"); got != 2 {
		t.Errorf("subscribe calls = %d, want 2 after resubscribe", got)
	}
}
