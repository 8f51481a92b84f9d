package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"ChatRelay/module/chat/model"
	"ChatRelay/service/backplane"
	"ChatRelay/tools/errs"
)

// ===== 测试替身 =====

// memBackplane 进程内同步背板：Publish 直接回调订阅者，
// 完整保留"自发自收"的回声语义。
type memBackplane struct {
	mu        sync.Mutex
	handlers  map[string]backplane.Handler
	published map[string][][]byte
	subCalls  map[string]int
	pubErr    error
}

func newMemBackplane() *memBackplane {
	return &memBackplane{
		handlers:  make(map[string]backplane.Handler),
		published: make(map[string][][]byte),
		subCalls:  make(map[string]int),
	}
}

func (b *memBackplane) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	if b.pubErr != nil {
		b.mu.Unlock()
		return b.pubErr
	}
	b.published[channel] = append(b.published[channel], payload)
	h := b.handlers[channel]
	b.mu.Unlock()

	if h != nil {
		h(channel, payload)
	}
	return nil
}

func (b *memBackplane) Subscribe(channel string, h backplane.Handler) (backplane.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subCalls[channel]++
	if _, ok := b.handlers[channel]; !ok {
		b.handlers[channel] = h
	}
	return &memSub{bp: b, channel: channel}, nil
}

func (b *memBackplane) Close() error { return nil }

func (b *memBackplane) sent(channel string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.published[channel]))
	copy(out, b.published[channel])
	return out
}

func (b *memBackplane) subscribeCalls(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subCalls[channel]
}

type memSub struct {
	bp      *memBackplane
	channel string
}

func (s *memSub) Close() error {
	s.bp.mu.Lock()
	defer s.bp.mu.Unlock()
	delete(s.bp.handlers, s.channel)
	return nil
}

// memPresence map 版共享在线存储
type memPresence struct {
	mu     sync.Mutex
	online map[string]struct{}
	rooms  map[string]map[string]struct{}
	err    error
}

func newMemPresence() *memPresence {
	return &memPresence{
		online: make(map[string]struct{}),
		rooms:  make(map[string]map[string]struct{}),
	}
}

func (p *memPresence) AddOnlineUser(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.online[userID] = struct{}{}
	return nil
}

func (p *memPresence) RemoveOnlineUser(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	delete(p.online, userID)
	return nil
}

func (p *memPresence) OnlineUsersCount(_ context.Context) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, p.err
	}
	return int64(len(p.online)), nil
}

func (p *memPresence) AddUserToRoom(_ context.Context, roomID, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.rooms[roomID] == nil {
		p.rooms[roomID] = make(map[string]struct{})
	}
	p.rooms[roomID][userID] = struct{}{}
	return nil
}

func (p *memPresence) RemoveUserFromRoom(_ context.Context, roomID, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	delete(p.rooms[roomID], userID)
	return nil
}

func (p *memPresence) RoomUsersCount(_ context.Context, roomID string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, p.err
	}
	return int64(len(p.rooms[roomID])), nil
}

func (p *memPresence) isOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.online[userID]
	return ok
}

func (p *memPresence) inRoom(roomID, userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.rooms[roomID][userID]
	return ok
}

// memSaver 记录落库调用
type memSaver struct {
	mu    sync.Mutex
	saved []*model.Message
	err   error
}

func (s *memSaver) SaveMessage(_ context.Context, msg *model.Message) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.saved = append(s.saved, msg)
	return msg, nil
}

func (s *memSaver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func (s *memSaver) last() *model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saved) == 0 {
		return nil
	}
	return s.saved[len(s.saved)-1]
}

// ===== 公共辅助 =====

type testFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func drainFrames(t *testing.T, c *ClientConn) []testFrame {
	t.Helper()
	var out []testFrame
	for {
		select {
		case b := <-c.sendq:
			var f testFrame
			if err := json.Unmarshal(b, &f); err != nil {
				t.Fatalf("bad frame %s: %v", b, err)
			}
			out = append(out, f)
		default:
			return out
		}
	}
}

func framesByEvent(frames []testFrame, event string) []testFrame {
	var out []testFrame
	for _, f := range frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func newTestEngine(t *testing.T, conf EngineConf) (*Engine, *memBackplane, *memPresence, *memSaver) {
	t.Helper()
	bp := newMemBackplane()
	pr := newMemPresence()
	sv := &memSaver{}
	e := NewEngine(conf, NewConnManager(), NewChannelRegistry(bp), bp, pr, sv)
	if err := e.Start(); err != nil {
		t.Fatalf("engine start: %v", err)
	}
	return e, bp, pr, sv
}

func mustConnect(t *testing.T, e *Engine, sessionID, userID, userName string) *ClientConn {
	t.Helper()
	c := NewClientConn(sessionID, userID, userName, nil)
	if err := e.Connect(c); err != nil {
		t.Fatalf("connect %s: %v", sessionID, err)
	}
	return c
}

// ===== 用例 =====

func TestEngineStartSubscribesBaseChannels(t *testing.T) {
	e, _, _, _ := newTestEngine(t, EngineConf{GatewayID: "gw-test"})
	defer e.Stop()

	reg := e.channels
	for _, ch := range []string{UserStatusChannel, RoomUpdateChannel, RoomChannel("general")} {
		if !reg.IsSubscribed(ch) {
			t.Errorf("expected subscription on %s after start", ch)
		}
	}
}

func TestEngineConnectPublishesOnline(t *testing.T) {
	e, bp, pr, _ := newTestEngine(t, EngineConf{GatewayID: "gw-test"})
	defer e.Stop()

	c := mustConnect(t, e, "s1", "u1", "Alice")

	if !pr.isOnline("u1") {
		t.Fatal("u1 should be in the online set")
	}

	sent := bp.sent(UserStatusChannel)
	if len(sent) != 1 {
		t.Fatalf("expected 1 status publish, got %d", len(sent))
	}
	var su StatusUpdate
	if err := json.Unmarshal(sent[0], &su); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if su.UserID != "u1" || su.Status != model.UserStatusOnline {
		t.Errorf("unexpected status update %+v", su)
	}
	if su.Timestamp == 0 {
		t.Error("status update missing timestamp")
	}

	frames := drainFrames(t, c)
	if len(framesByEvent(frames, EventUserStatusUpdate)) == 0 {
		t.Error("connecting client should see its own status echo")
	}
	counts := framesByEvent(frames, EventOnlineUsersCount)
	if len(counts) == 0 {
		t.Fatal("expected online_users_count broadcast")
	}
	var n int64
	if err := json.Unmarshal(counts[len(counts)-1].Data, &n); err != nil || n != 1 {
		t.Errorf("online count = %d (err=%v), want 1", n, err)
	}
}

func TestEngineConnectRejectsUnboundConnection(t *testing.T) {
	e, _, _, _ := newTestEngine(t, EngineConf{})
	defer e.Stop()

	err := e.Connect(NewClientConn("s1", "", "", nil))
	if !errors.Is(err, errs.ErrUnboundConnection) {
		t.Fatalf("err = %v, want ErrUnboundConnection", err)
	}
	if e.Conns().Count() != 0 {
		t.Error("unbound connection must not be registered")
	}
}

func TestEngineConnectDuplicateSession(t *testing.T) {
	e, _, _, _ := newTestEngine(t, EngineConf{})
	defer e.Stop()

	mustConnect(t, e, "s1", "u1", "Alice")
	err := e.Connect(NewClientConn("s1", "u2", "Bob", nil))
	if !errors.Is(err, errs.ErrDuplicateBinding) {
		t.Fatalf("err = %v, want ErrDuplicateBinding", err)
	}
}

func TestEngineJoinRoomFlow(t *testing.T) {
	e, bp, pr, sv := newTestEngine(t, EngineConf{GatewayID: "gw-test"})
	defer e.Stop()

	a := mustConnect(t, e, "s1", "u1", "Alice")
	drainFrames(t, a)

	if err := e.JoinRoom("s1", "room9"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if !e.channels.IsSubscribed(RoomChannel("room9")) {
		t.Error("room channel should be subscribed after join")
	}
	if !pr.inRoom("room9", "u1") {
		t.Error("u1 should be in room9 presence set")
	}

	frames := drainFrames(t, a)
	msgs := framesByEvent(frames, EventMessage)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 system message, got %d", len(msgs))
	}
	var m model.Message
	if err := json.Unmarshal(msgs[0].Data, &m); err != nil {
		t.Fatalf("decode system message: %v", err)
	}
	if m.SenderID != model.SystemSenderID || m.Type != model.MessageTypeSystem {
		t.Errorf("unexpected system message %+v", m)
	}
	counts := framesByEvent(frames, EventRoomUserCount)
	if len(counts) != 1 {
		t.Fatalf("expected 1 room count frame, got %d", len(counts))
	}
	var n int64
	if err := json.Unmarshal(counts[0].Data, &n); err != nil || n != 1 {
		t.Errorf("room count = %d (err=%v), want 1", n, err)
	}

	// 重复 join 同一房间：不再发系统消息，人数照样重播
	before := sv.count()
	if err := e.JoinRoom("s1", "room9"); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if sv.count() != before {
		t.Error("re-join must not produce another system message")
	}
	if bp.subscribeCalls(RoomChannel("room9")) != 1 {
		t.Error("re-join must not re-subscribe the channel")
	}
}

func TestEngineJoinRoomUnknownSession(t *testing.T) {
	e, _, _, _ := newTestEngine(t, EngineConf{})
	defer e.Stop()

	err := e.JoinRoom("ghost", "room1")
	if !IsUnknownConnection(err) {
		t.Fatalf("err = %v, want unknown-connection", err)
	}
}

func TestEngineSendMessageFanout(t *testing.T) {
	e, _, _, sv := newTestEngine(t, EngineConf{GatewayID: "gw-test"})
	defer e.Stop()

	a := mustConnect(t, e, "s1", "u1", "Alice")
	b := mustConnect(t, e, "s2", "u2", "Bob")
	if err := e.JoinRoom("s1", "room9"); err != nil {
		t.Fatal(err)
	}
	if err := e.JoinRoom("s2", "room9"); err != nil {
		t.Fatal(err)
	}
	drainFrames(t, a)
	drainFrames(t, b)

	if err := e.SendMessage("s1", SendMessageData{RoomID: "room9", Content: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	for _, c := range []*ClientConn{a, b} {
		msgs := framesByEvent(drainFrames(t, c), EventMessage)
		if len(msgs) != 1 {
			t.Fatalf("session %s: expected 1 message frame, got %d", c.SessionID, len(msgs))
		}
		var m model.Message
		if err := json.Unmarshal(msgs[0].Data, &m); err != nil {
			t.Fatalf("decode message: %v", err)
		}
		if m.SenderID != "u1" || m.SenderName != "Alice" || m.Content != "hi" {
			t.Errorf("session %s: unexpected message %+v", c.SessionID, m)
		}
		if m.Type != model.MessageTypeText {
			t.Errorf("empty type should normalize to TEXT, got %s", m.Type)
		}
		if m.Timestamp.IsZero() {
			t.Error("server must stamp the message timestamp")
		}
	}

	if got := sv.last(); got == nil || got.Content != "hi" {
		t.Errorf("message should be persisted, last saved = %+v", got)
	}
}

func TestEngineSendMessageUnknownSession(t *testing.T) {
	e, _, _, _ := newTestEngine(t, EngineConf{})
	defer e.Stop()

	err := e.SendMessage("ghost", SendMessageData{RoomID: "room1", Content: "x"})
	if !IsUnknownConnection(err) {
		t.Fatalf("err = %v, want unknown-connection", err)
	}
}

func TestEngineEnforceMembership(t *testing.T) {
	e, _, _, _ := newTestEngine(t, EngineConf{EnforceMembership: true})
	defer e.Stop()

	a := mustConnect(t, e, "s1", "u1", "Alice")
	drainFrames(t, a)

	err := e.SendMessage("s1", SendMessageData{RoomID: "room9", Content: "hi"})
	if !errors.Is(err, errs.ErrNotRoomMember) {
		t.Fatalf("err = %v, want ErrNotRoomMember", err)
	}

	if err := e.JoinRoom("s1", "room9"); err != nil {
		t.Fatal(err)
	}
	if err := e.SendMessage("s1", SendMessageData{RoomID: "room9", Content: "hi"}); err != nil {
		t.Fatalf("member send should pass: %v", err)
	}
}

func TestEngineSendMessagePublishesOnSaveFailure(t *testing.T) {
	e, _, _, sv := newTestEngine(t, EngineConf{})
	defer e.Stop()

	a := mustConnect(t, e, "s1", "u1", "Alice")
	if err := e.JoinRoom("s1", "room9"); err != nil {
		t.Fatal(err)
	}
	drainFrames(t, a)

	sv.err = errs.ErrPersistence.Wrap()
	if err := e.SendMessage("s1", SendMessageData{RoomID: "room9", Content: "hi"}); err != nil {
		t.Fatalf("send should not fail on persistence error: %v", err)
	}
	if len(framesByEvent(drainFrames(t, a), EventMessage)) != 1 {
		t.Error("message must still be relayed when persistence is down")
	}
}

func TestEngineDisconnectCleansUp(t *testing.T) {
	e, bp, pr, _ := newTestEngine(t, EngineConf{GatewayID: "gw-test"})
	defer e.Stop()

	mustConnect(t, e, "s1", "u1", "Alice")
	if err := e.JoinRoom("s1", "r1"); err != nil {
		t.Fatal(err)
	}
	if err := e.JoinRoom("s1", "r2"); err != nil {
		t.Fatal(err)
	}

	e.Disconnect("s1")

	if pr.isOnline("u1") {
		t.Error("u1 should be removed from the online set")
	}
	if pr.inRoom("r1", "u1") || pr.inRoom("r2", "u1") {
		t.Error("u1 should be removed from every joined room set")
	}
	if _, ok := e.Conns().Get("s1"); ok {
		t.Error("session should be unregistered")
	}

	sent := bp.sent(UserStatusChannel)
	var last StatusUpdate
	if err := json.Unmarshal(sent[len(sent)-1], &last); err != nil {
		t.Fatal(err)
	}
	if last.UserID != "u1" || last.Status != model.UserStatusOffline {
		t.Errorf("last status update = %+v, want u1 OFFLINE", last)
	}

	// 二次断开是 no-op，不再发状态
	before := len(bp.sent(UserStatusChannel))
	e.Disconnect("s1")
	if len(bp.sent(UserStatusChannel)) != before {
		t.Error("disconnecting an unknown session must not publish")
	}
}

func TestEngineTypingStaysLocal(t *testing.T) {
	e, bp, _, _ := newTestEngine(t, EngineConf{})
	defer e.Stop()

	a := mustConnect(t, e, "s1", "u1", "Alice")
	b := mustConnect(t, e, "s2", "u2", "Bob")
	outsider := mustConnect(t, e, "s3", "u3", "Carl")
	for _, s := range []string{"s1", "s2"} {
		if err := e.JoinRoom(s, "room9"); err != nil {
			t.Fatal(err)
		}
	}
	drainFrames(t, a)
	drainFrames(t, b)
	drainFrames(t, outsider)
	published := len(bp.sent(RoomChannel("room9")))

	if err := e.Typing("s1", "room9", "Alice", true); err != nil {
		t.Fatal(err)
	}

	typed := framesByEvent(drainFrames(t, b), EventUserTyping)
	if len(typed) != 1 {
		t.Fatalf("room member should see typing, got %d frames", len(typed))
	}
	var td map[string]any
	if err := json.Unmarshal(typed[0].Data, &td); err != nil {
		t.Fatal(err)
	}
	if td["userId"] != "u1" || td["isTyping"] != true {
		t.Errorf("unexpected typing payload %v", td)
	}
	if len(drainFrames(t, outsider)) != 0 {
		t.Error("typing must not leak outside the room")
	}
	if len(bp.sent(RoomChannel("room9"))) != published {
		t.Error("typing must not touch the backplane")
	}
}

func TestEngineUserStatusCommand(t *testing.T) {
	e, bp, _, _ := newTestEngine(t, EngineConf{})
	defer e.Stop()

	mustConnect(t, e, "s1", "u1", "Alice")

	if err := e.UserStatus("s1", model.UserStatusAway); err != nil {
		t.Fatal(err)
	}
	sent := bp.sent(UserStatusChannel)
	var su StatusUpdate
	if err := json.Unmarshal(sent[len(sent)-1], &su); err != nil {
		t.Fatal(err)
	}
	if su.Status != model.UserStatusAway {
		t.Errorf("status = %s, want AWAY", su.Status)
	}

	// 不认识的状态回落 OFFLINE
	if err := e.UserStatus("s1", "sleeping"); err != nil {
		t.Fatal(err)
	}
	sent = bp.sent(UserStatusChannel)
	if err := json.Unmarshal(sent[len(sent)-1], &su); err != nil {
		t.Fatal(err)
	}
	if su.Status != model.UserStatusOffline {
		t.Errorf("status = %s, want OFFLINE fallback", su.Status)
	}
}

func TestEngineRoomUpdateDelivery(t *testing.T) {
	e, _, _, _ := newTestEngine(t, EngineConf{})
	defer e.Stop()

	a := mustConnect(t, e, "s1", "u1", "Alice")
	outsider := mustConnect(t, e, "s2", "u2", "Bob")
	if err := e.JoinRoom("s1", "r1"); err != nil {
		t.Fatal(err)
	}
	drainFrames(t, a)
	drainFrames(t, outsider)

	if err := e.PublishRoomUpdate(context.Background(), "r1", "CREATED", map[string]any{"name": "General"}); err != nil {
		t.Fatal(err)
	}

	ups := framesByEvent(drainFrames(t, a), EventRoomUpdate)
	if len(ups) != 1 {
		t.Fatalf("room member should see the update, got %d frames", len(ups))
	}
	var ru RoomUpdate
	if err := json.Unmarshal(ups[0].Data, &ru); err != nil {
		t.Fatal(err)
	}
	if ru.RoomID != "r1" || ru.Action != "CREATED" || ru.Timestamp == 0 {
		t.Errorf("unexpected room update %+v", ru)
	}
	if len(framesByEvent(drainFrames(t, outsider), EventRoomUpdate)) != 0 {
		t.Error("room update must stay room-scoped")
	}
}

func TestEngineMalformedBackplanePayloadsDropped(t *testing.T) {
	e, bp, _, _ := newTestEngine(t, EngineConf{})
	defer e.Stop()

	a := mustConnect(t, e, "s1", "u1", "Alice")
	if err := e.JoinRoom("s1", "r1"); err != nil {
		t.Fatal(err)
	}
	drainFrames(t, a)

	// 坏 envelope、坏 event、坏内层 data：都只是丢弃
	for _, raw := range [][]byte{
		[]byte("not-json"),
		[]byte(`{"data":{}}`),
		[]byte(`{"event":"message","data":"not-an-object"}`),
	} {
		if err := bp.Publish(context.Background(), RoomChannel("r1"), raw); err != nil {
			t.Fatal(err)
		}
	}
	if err := bp.Publish(context.Background(), UserStatusChannel, []byte("garbage")); err != nil {
		t.Fatal(err)
	}
	if err := bp.Publish(context.Background(), RoomUpdateChannel, []byte("garbage")); err != nil {
		t.Fatal(err)
	}

	if got := drainFrames(t, a); len(got) != 0 {
		t.Errorf("malformed payloads must not reach clients, got %v", got)
	}
}

func TestEngineOnlineCountRefreshOnRemoteStatus(t *testing.T) {
	e, bp, pr, _ := newTestEngine(t, EngineConf{})
	defer e.Stop()

	a := mustConnect(t, e, "s1", "u1", "Alice")
	drainFrames(t, a)

	// 另一个实例的用户上线：本地只会通过 user:status 回流感知
	if err := pr.AddOnlineUser(context.Background(), "remote-user"); err != nil {
		t.Fatal(err)
	}
	payload, _ := json.Marshal(StatusUpdate{UserID: "remote-user", Status: model.UserStatusOnline, Timestamp: 1})
	if err := bp.Publish(context.Background(), UserStatusChannel, payload); err != nil {
		t.Fatal(err)
	}

	frames := drainFrames(t, a)
	if len(framesByEvent(frames, EventUserStatusUpdate)) != 1 {
		t.Error("remote status should be broadcast locally")
	}
	counts := framesByEvent(frames, EventOnlineUsersCount)
	if len(counts) == 0 {
		t.Fatal("remote status should refresh the online count")
	}
	var n int64
	if err := json.Unmarshal(counts[len(counts)-1].Data, &n); err != nil || n != 2 {
		t.Errorf("online count = %d (err=%v), want 2", n, err)
	}
}
