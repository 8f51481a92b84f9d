package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ChatRelay/logger"
	"ChatRelay/module/chat/model"
	"ChatRelay/service/backplane"
	"ChatRelay/tools/errs"

	"github.com/mitchellh/mapstructure"
)

// ===== 协作方接口 =====

// Presence 共享在线状态存储（跨节点唯一事实来源）
type Presence interface {
	AddOnlineUser(ctx context.Context, userID string) error
	RemoveOnlineUser(ctx context.Context, userID string) error
	OnlineUsersCount(ctx context.Context) (int64, error)
	AddUserToRoom(ctx context.Context, roomID, userID string) error
	RemoveUserFromRoom(ctx context.Context, roomID, userID string) error
	RoomUsersCount(ctx context.Context, roomID string) (int64, error)
}

// MessageSaver 热路径上引擎只用到落库这一个口
type MessageSaver interface {
	SaveMessage(ctx context.Context, msg *model.Message) (*model.Message, error)
}

// ===== 配置 =====

type EngineConf struct {
	GatewayID string
	// EnforceMembership 发消息前校验本地房间成员关系。
	// 默认关（与旧实现一致的宽松模型）。
	EnforceMembership bool
	PublishTimeout    time.Duration
	// BaseRooms 启动即订阅的房间通道（旧实现固定订阅 general）
	BaseRooms []string
}

func (c *EngineConf) norm() {
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 3 * time.Second
	}
	if c.BaseRooms == nil {
		c.BaseRooms = []string{"general"}
	}
}

// ===== 引擎 =====

// Engine 中继编排：本地事件驱动三份状态（连接表 / 在线集合 / 背板订阅），
// 背板回流驱动本地投递。房间消息不做本地短路，统一吃背板回声，
// 这样本实例与远端实例发往同一房间的消息走同一条序。
type Engine struct {
	conf     EngineConf
	conns    *ConnManager
	channels *ChannelRegistry
	bp       backplane.Backplane
	presence Presence
	saver    MessageSaver
}

func NewEngine(conf EngineConf, conns *ConnManager, channels *ChannelRegistry,
	bp backplane.Backplane, presence Presence, saver MessageSaver) *Engine {
	conf.norm()
	return &Engine{
		conf:     conf,
		conns:    conns,
		channels: channels,
		bp:       bp,
		presence: presence,
		saver:    saver,
	}
}

func (e *Engine) Conns() *ConnManager { return e.conns }

// Start 订阅全局通道与基础房间通道
func (e *Engine) Start() error {
	if err := e.channels.EnsureSubscribed(UserStatusChannel, e.handleUserStatusChannel); err != nil {
		return err
	}
	if err := e.channels.EnsureSubscribed(RoomUpdateChannel, e.handleRoomUpdateChannel); err != nil {
		return err
	}
	for _, room := range e.conf.BaseRooms {
		if err := e.channels.EnsureSubscribed(RoomChannel(room), e.handleRoomChannel); err != nil {
			return err
		}
	}
	logger.Infof("[engine] started gateway=%s", e.conf.GatewayID)
	return nil
}

func (e *Engine) Stop() {
	e.channels.CloseAll()
	e.conns.Close()
}

func (e *Engine) pubCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), e.conf.PublishTimeout)
}

// ===== 本地事件 =====

// Connect 握手已解析出 userId 的连接入场。userId 为空的连接
// 不应走到这里（ws 层直接关），防御性再拦一次。
func (e *Engine) Connect(c *ClientConn) error {
	if c.UserID == "" {
		c.Close()
		return errs.ErrUnboundConnection.Wrap()
	}
	if err := e.conns.Register(c); err != nil {
		return err
	}

	ctx, cancel := e.pubCtx()
	defer cancel()

	if err := e.presence.AddOnlineUser(ctx, c.UserID); err != nil {
		// 在线计数降级为未知，连接照常进
		logger.Errorf("[engine] presence online err user=%s err=%v", c.UserID, err)
	}
	e.publishUserStatus(ctx, c.UserID, model.UserStatusOnline)
	e.broadcastOnlineCount(ctx)

	logger.Infof("[engine] user connected user=%s session=%s", c.UserID, c.SessionID)
	return nil
}

// Disconnect 传输层断开；未知 session 是 no-op
func (e *Engine) Disconnect(sessionID string) {
	userID, rooms, ok := e.conns.Unregister(sessionID)
	if !ok {
		logger.Debugf("[engine] disconnect unknown session=%s", sessionID)
		return
	}

	ctx, cancel := e.pubCtx()
	defer cancel()

	if err := e.presence.RemoveOnlineUser(ctx, userID); err != nil {
		logger.Errorf("[engine] presence offline err user=%s err=%v", userID, err)
	}
	for _, roomID := range rooms {
		if err := e.presence.RemoveUserFromRoom(ctx, roomID, userID); err != nil {
			logger.Errorf("[engine] presence leave err user=%s room=%s err=%v", userID, roomID, err)
		}
	}
	e.publishUserStatus(ctx, userID, model.UserStatusOffline)
	e.broadcastOnlineCount(ctx)

	logger.Infof("[engine] user disconnected user=%s session=%s rooms=%d", userID, sessionID, len(rooms))
}

// JoinRoom 先订通道再挂索引：订阅成功返回后，房间里发生的事本实例必能收到
func (e *Engine) JoinRoom(sessionID, roomID string) error {
	c, ok := e.conns.Get(sessionID)
	if !ok {
		return errs.ErrUnknownConnection.WrapMsg("join", "session", sessionID)
	}

	if err := e.channels.EnsureSubscribed(RoomChannel(roomID), e.handleRoomChannel); err != nil {
		return err
	}
	changed, err := e.conns.JoinRoom(sessionID, roomID)
	if err != nil {
		return err
	}

	ctx, cancel := e.pubCtx()
	defer cancel()

	if err := e.presence.AddUserToRoom(ctx, roomID, c.UserID); err != nil {
		logger.Errorf("[engine] presence join err user=%s room=%s err=%v", c.UserID, roomID, err)
	}

	if changed {
		e.relaySystemMessage(ctx, roomID, fmt.Sprintf("%s joined the room", c.UserID))
	}
	e.publishRoomCount(ctx, roomID)

	logger.Infof("[engine] user joined user=%s room=%s", c.UserID, roomID)
	return nil
}

// LeaveRoom 对称；不退订通道（见 ChannelRegistry 注释）
func (e *Engine) LeaveRoom(sessionID, roomID string) error {
	c, ok := e.conns.Get(sessionID)
	if !ok {
		return errs.ErrUnknownConnection.WrapMsg("leave", "session", sessionID)
	}
	changed, err := e.conns.LeaveRoom(sessionID, roomID)
	if err != nil {
		return err
	}

	ctx, cancel := e.pubCtx()
	defer cancel()

	if err := e.presence.RemoveUserFromRoom(ctx, roomID, c.UserID); err != nil {
		logger.Errorf("[engine] presence leave err user=%s room=%s err=%v", c.UserID, roomID, err)
	}
	if changed {
		e.relaySystemMessage(ctx, roomID, fmt.Sprintf("%s left the room", c.UserID))
	}
	e.publishRoomCount(ctx, roomID)

	logger.Infof("[engine] user left user=%s room=%s", c.UserID, roomID)
	return nil
}

// SendMessage 服务端打时间戳，先落库后发布；落库失败只记日志，
// 消息照发（接受“已投递未必已存储”）。
func (e *Engine) SendMessage(sessionID string, data SendMessageData) error {
	c, ok := e.conns.Get(sessionID)
	if !ok {
		return errs.ErrUnknownConnection.WrapMsg("send", "session", sessionID)
	}
	if e.conf.EnforceMembership && !e.conns.InRoom(sessionID, data.RoomID) {
		return errs.ErrNotRoomMember.WrapMsg("send", "user", c.UserID, "room", data.RoomID)
	}

	senderName := data.SenderName
	if senderName == "" {
		senderName = c.UserName
	}
	msg := &model.Message{
		RoomID:     data.RoomID,
		SenderID:   c.UserID,
		SenderName: senderName,
		Content:    data.Content,
		Type:       model.NormalizeType(data.Type),
		Timestamp:  time.Now().UTC(),
	}

	ctx, cancel := e.pubCtx()
	defer cancel()

	stored, err := e.saver.SaveMessage(ctx, msg)
	if err != nil {
		logger.Errorf("[engine] save message err room=%s err=%v", data.RoomID, err)
		stored = msg
	}
	return e.publishChatMessage(ctx, data.RoomID, stored)
}

// Typing 打字指示只在本实例扇出，不走背板（省背板流量，跨实例不可见是已知取舍）
func (e *Engine) Typing(sessionID, roomID, userName string, isTyping bool) error {
	c, ok := e.conns.Get(sessionID)
	if !ok {
		return errs.ErrUnknownConnection.WrapMsg("typing", "session", sessionID)
	}
	payload := map[string]any{
		"roomId":   roomID,
		"userId":   c.UserID,
		"userName": userName,
		"isTyping": isTyping,
	}
	for _, peer := range e.conns.ConnectionsInRoom(roomID) {
		peer.Send(EventUserTyping, payload)
	}
	return nil
}

// UserStatus 客户端主动切状态（AWAY/BUSY...），直接上背板
func (e *Engine) UserStatus(sessionID, status string) error {
	c, ok := e.conns.Get(sessionID)
	if !ok {
		return errs.ErrUnknownConnection.WrapMsg("status", "session", sessionID)
	}
	ctx, cancel := e.pubCtx()
	defer cancel()
	e.publishUserStatus(ctx, c.UserID, model.NormalizeStatus(status))
	return nil
}

// PublishRoomUpdate REST 层的房间变更（CREATED/DELETED/USER_JOINED/USER_LEFT）
func (e *Engine) PublishRoomUpdate(ctx context.Context, roomID, action string, data any) error {
	b, err := json.Marshal(RoomUpdate{
		RoomID:    roomID,
		Action:    action,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return errs.Wrap(err)
	}
	if err := e.bp.Publish(ctx, RoomUpdateChannel, b); err != nil {
		logger.Errorf("[engine] publish room update room=%s err=%v", roomID, err)
		return err
	}
	return nil
}

// PublishUserStatus REST 层改用户状态时复用
func (e *Engine) PublishUserStatus(ctx context.Context, userID, status string) error {
	e.publishUserStatus(ctx, userID, status)
	return nil
}

// ===== 发布侧内部 =====

func (e *Engine) publishChatMessage(ctx context.Context, roomID string, msg *model.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return errs.Wrap(err)
	}
	env, err := json.Marshal(RoomEnvelope{Event: EventMessage, Data: raw})
	if err != nil {
		return errs.Wrap(err)
	}
	if err := e.bp.Publish(ctx, RoomChannel(roomID), env); err != nil {
		logger.Errorf("[engine] publish message room=%s err=%v", roomID, err)
		return err
	}
	return nil
}

func (e *Engine) publishUserStatus(ctx context.Context, userID, status string) {
	b, err := json.Marshal(StatusUpdate{
		UserID:    userID,
		Status:    status,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}
	if err := e.bp.Publish(ctx, UserStatusChannel, b); err != nil {
		logger.Errorf("[engine] publish status user=%s err=%v", userID, err)
	}
}

func (e *Engine) publishRoomCount(ctx context.Context, roomID string) {
	count, err := e.presence.RoomUsersCount(ctx, roomID)
	if err != nil {
		logger.Errorf("[engine] room count unavailable room=%s err=%v", roomID, err)
		return
	}
	raw, err := json.Marshal(RoomCount{RoomID: roomID, Count: count})
	if err != nil {
		return
	}
	env, _ := json.Marshal(RoomEnvelope{Event: EventRoomUserCount, Data: raw})
	if err := e.bp.Publish(ctx, RoomChannel(roomID), env); err != nil {
		logger.Errorf("[engine] publish room count room=%s err=%v", roomID, err)
	}
}

// relaySystemMessage 入场/退场系统消息：落库后与普通消息同路转发
func (e *Engine) relaySystemMessage(ctx context.Context, roomID, content string) {
	msg := &model.Message{
		RoomID:     roomID,
		SenderID:   model.SystemSenderID,
		SenderName: model.SystemSenderName,
		Content:    content,
		Type:       model.MessageTypeSystem,
		Timestamp:  time.Now().UTC(),
	}
	stored, err := e.saver.SaveMessage(ctx, msg)
	if err != nil {
		logger.Errorf("[engine] save system message err room=%s err=%v", roomID, err)
		stored = msg
	}
	if err := e.publishChatMessage(ctx, roomID, stored); err != nil {
		logger.Errorf("[engine] relay system message err room=%s err=%v", roomID, err)
	}
}

// broadcastOnlineCount 只广播给本实例连接；集群其它实例靠 user:status
// 回流时各自重新取数
func (e *Engine) broadcastOnlineCount(ctx context.Context) {
	count, err := e.presence.OnlineUsersCount(ctx)
	if err != nil {
		logger.Errorf("[engine] online count unavailable err=%v", err)
		return
	}
	for _, c := range e.conns.AllConnections() {
		c.Send(EventOnlineUsersCount, count)
	}
}

// ===== 背板回流 =====

// handleRoomChannel 房间通道：roomId 从通道名还原，按 envelope event 原样转投
func (e *Engine) handleRoomChannel(channel string, payload []byte) {
	roomID, ok := RoomIDFromChannel(channel)
	if !ok {
		logger.Warnf("[engine] unexpected channel=%s", channel)
		return
	}
	var env RoomEnvelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Event == "" {
		// 坏载荷：记日志丢弃，不重试
		logger.Errorf("[engine] malformed room payload channel=%s err=%v", channel, err)
		return
	}

	var data any
	switch env.Event {
	case EventMessage:
		var msg model.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			logger.Errorf("[engine] malformed message payload room=%s err=%v", roomID, err)
			return
		}
		data = &msg
	case EventRoomUserCount:
		var rc RoomCount
		if err := json.Unmarshal(env.Data, &rc); err != nil {
			logger.Errorf("[engine] malformed count payload room=%s err=%v", roomID, err)
			return
		}
		data = rc.Count
	default:
		logger.Warnf("[engine] unknown room event=%s room=%s", env.Event, roomID)
		return
	}

	for _, c := range e.conns.ConnectionsInRoom(roomID) {
		c.Send(env.Event, data)
	}
}

// handleUserStatusChannel 全局状态通道：广播给本实例全部连接
func (e *Engine) handleUserStatusChannel(channel string, payload []byte) {
	var su StatusUpdate
	if err := json.Unmarshal(payload, &su); err != nil || su.UserID == "" {
		logger.Errorf("[engine] malformed status payload err=%v", err)
		return
	}
	for _, c := range e.conns.AllConnections() {
		c.Send(EventUserStatusUpdate, su)
	}
	// 全局在线数可能变了，顺带刷一次本地广播
	ctx, cancel := e.pubCtx()
	defer cancel()
	e.broadcastOnlineCount(ctx)
}

// handleRoomUpdateChannel 房间元数据通道：房间范围投递
func (e *Engine) handleRoomUpdateChannel(channel string, payload []byte) {
	var loose map[string]any
	if err := json.Unmarshal(payload, &loose); err != nil {
		logger.Errorf("[engine] malformed room update payload err=%v", err)
		return
	}
	var ru RoomUpdate
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true, // JSON 数字进来是 float64
		Result:           &ru,
	})
	if err != nil {
		return
	}
	if err := dec.Decode(loose); err != nil || ru.RoomID == "" {
		logger.Errorf("[engine] decode room update err=%v", err)
		return
	}
	for _, c := range e.conns.ConnectionsInRoom(ru.RoomID) {
		c.Send(EventRoomUpdate, ru)
	}
}

// IsUnknownConnection 调用侧区分“记日志忽略”与真错误
func IsUnknownConnection(err error) bool {
	return errors.Is(err, errs.ErrUnknownConnection)
}
