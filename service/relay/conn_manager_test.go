package relay

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"ChatRelay/tools/errs"
)

func TestConnManagerRegister(t *testing.T) {
	m := NewConnManager()

	if err := m.Register(NewClientConn("s1", "u1", "Alice", nil)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if m.Count() != 1 {
		t.Errorf("count = %d, want 1", m.Count())
	}
	if c, ok := m.Get("s1"); !ok || c.UserID != "u1" {
		t.Errorf("Get(s1) = %v %v", c, ok)
	}

	// 同一 session 二次绑定
	err := m.Register(NewClientConn("s1", "u2", "Bob", nil))
	if !errors.Is(err, errs.ErrDuplicateBinding) {
		t.Errorf("err = %v, want ErrDuplicateBinding", err)
	}

	// 未绑定用户
	err = m.Register(NewClientConn("s2", "", "", nil))
	if !errors.Is(err, errs.ErrUnboundConnection) {
		t.Errorf("err = %v, want ErrUnboundConnection", err)
	}
	if err := m.Register(nil); !errors.Is(err, errs.ErrUnboundConnection) {
		t.Errorf("nil conn err = %v, want ErrUnboundConnection", err)
	}
}

func TestConnManagerJoinLeaveIdempotent(t *testing.T) {
	m := NewConnManager()
	if err := m.Register(NewClientConn("s1", "u1", "Alice", nil)); err != nil {
		t.Fatal(err)
	}

	changed, err := m.JoinRoom("s1", "r1")
	if err != nil || !changed {
		t.Fatalf("first join changed=%v err=%v", changed, err)
	}
	changed, err = m.JoinRoom("s1", "r1")
	if err != nil || changed {
		t.Fatalf("second join changed=%v err=%v, want no-op", changed, err)
	}
	if !m.InRoom("s1", "r1") {
		t.Error("s1 should be in r1")
	}

	changed, err = m.LeaveRoom("s1", "r1")
	if err != nil || !changed {
		t.Fatalf("leave changed=%v err=%v", changed, err)
	}
	changed, err = m.LeaveRoom("s1", "r1")
	if err != nil || changed {
		t.Fatalf("second leave changed=%v err=%v, want no-op", changed, err)
	}
	if m.InRoom("s1", "r1") {
		t.Error("s1 should no longer be in r1")
	}
	if got := m.ConnectionsInRoom("r1"); got != nil {
		t.Errorf("empty room should yield nil snapshot, got %v", got)
	}
}

func TestConnManagerUnknownSession(t *testing.T) {
	m := NewConnManager()

	if _, err := m.JoinRoom("ghost", "r1"); !errors.Is(err, errs.ErrUnknownConnection) {
		t.Errorf("join err = %v, want ErrUnknownConnection", err)
	}
	if _, err := m.LeaveRoom("ghost", "r1"); !errors.Is(err, errs.ErrUnknownConnection) {
		t.Errorf("leave err = %v, want ErrUnknownConnection", err)
	}
	if _, _, ok := m.Unregister("ghost"); ok {
		t.Error("unregister of unknown session must be a no-op")
	}
}

func TestConnManagerUnregisterReturnsRooms(t *testing.T) {
	m := NewConnManager()
	if err := m.Register(NewClientConn("s1", "u1", "Alice", nil)); err != nil {
		t.Fatal(err)
	}
	for _, r := range []string{"r1", "r2", "r3"} {
		if _, err := m.JoinRoom("s1", r); err != nil {
			t.Fatal(err)
		}
	}

	userID, rooms, ok := m.Unregister("s1")
	if !ok || userID != "u1" {
		t.Fatalf("unregister = %q %v %v", userID, rooms, ok)
	}
	sort.Strings(rooms)
	if len(rooms) != 3 || rooms[0] != "r1" || rooms[2] != "r3" {
		t.Errorf("rooms = %v, want [r1 r2 r3]", rooms)
	}

	// 注销后全部索引同时消失
	if _, ok := m.Get("s1"); ok {
		t.Error("session index should be gone")
	}
	for _, r := range []string{"r1", "r2", "r3"} {
		if got := m.ConnectionsInRoom(r); got != nil {
			t.Errorf("room %s should be empty, got %v", r, got)
		}
	}

	// 幂等
	if _, _, ok := m.Unregister("s1"); ok {
		t.Error("second unregister must report ok=false")
	}
}

func TestConnManagerRoomSnapshots(t *testing.T) {
	m := NewConnManager()
	for i := 1; i <= 3; i++ {
		s := fmt.Sprintf("s%d", i)
		u := fmt.Sprintf("u%d", i)
		if err := m.Register(NewClientConn(s, u, u, nil)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := m.JoinRoom("s1", "r1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.JoinRoom("s2", "r1"); err != nil {
		t.Fatal(err)
	}

	if got := len(m.ConnectionsInRoom("r1")); got != 2 {
		t.Errorf("r1 snapshot = %d conns, want 2", got)
	}
	if got := len(m.AllConnections()); got != 3 {
		t.Errorf("all = %d conns, want 3", got)
	}
}

func TestConnManagerConcurrentJoinLeave(t *testing.T) {
	m := NewConnManager()
	const sessions = 16

	for i := 0; i < sessions; i++ {
		s := fmt.Sprintf("s%d", i)
		if err := m.Register(NewClientConn(s, "u"+s, "", nil)); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := fmt.Sprintf("s%d", i)
			for j := 0; j < 100; j++ {
				if _, err := m.JoinRoom(s, "shared"); err != nil {
					t.Errorf("join: %v", err)
					return
				}
				m.ConnectionsInRoom("shared")
				if _, err := m.LeaveRoom(s, "shared"); err != nil {
					t.Errorf("leave: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	if got := m.ConnectionsInRoom("shared"); got != nil {
		t.Errorf("room should end empty, got %d conns", len(got))
	}
	if m.Count() != sessions {
		t.Errorf("count = %d, want %d", m.Count(), sessions)
	}
}

func TestClientConnEnqueueAfterClose(t *testing.T) {
	c := NewClientConn("s1", "u1", "Alice", nil)
	if !c.Enqueue([]byte("x")) {
		t.Error("enqueue on open conn should succeed")
	}
	c.Close()
	c.Close() // 幂等
	if c.Enqueue([]byte("y")) {
		t.Error("enqueue after close must fail")
	}
}

func TestClientConnDropOnFullQueue(t *testing.T) {
	c := NewClientConn("s1", "u1", "Alice", nil)
	for i := 0; i < sendQueueSize; i++ {
		if !c.Enqueue([]byte("x")) {
			t.Fatalf("enqueue %d should succeed", i)
		}
	}
	if c.Enqueue([]byte("overflow")) {
		t.Error("enqueue on full queue must drop, not block")
	}
}
