package relay

import (
	"encoding/json"
	"strings"

	"ChatRelay/tools/errs"
)

// ===== 通道命名（跨实现互通约定，不能改） =====

const (
	ChatChannelPrefix = "chat:room:" // 房间消息通道前缀
	UserStatusChannel = "user:status"
	RoomUpdateChannel = "room:update"
)

// RoomChannel roomId -> 通道名；纯函数，无碰撞
func RoomChannel(roomID string) string { return ChatChannelPrefix + roomID }

// RoomIDFromChannel 从通道名还原 roomId
func RoomIDFromChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, ChatChannelPrefix) {
		return "", false
	}
	return channel[len(ChatChannelPrefix):], true
}

// ===== 客户端命令事件 / 下行通知事件 =====

const (
	CmdJoinRoom    = "join_room"
	CmdLeaveRoom   = "leave_room"
	CmdSendMessage = "send_message"
	CmdTypingStart = "typing_start"
	CmdTypingStop  = "typing_stop"
	CmdUserStatus  = "user_status"
)

const (
	EventMessage          = "message"
	EventRoomUserCount    = "room_user_count"
	EventOnlineUsersCount = "online_users_count"
	EventUserStatusUpdate = "user_status_update"
	EventRoomUpdate       = "room_update"
	EventUserTyping       = "user_typing"
)

// ===== 上行帧 =====

// ClientFrame 客户端上行帧；data 原样保留，由各 handler 自行解码
type ClientFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func ParseFrameJSON(data []byte) (*ClientFrame, error) {
	var f ClientFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errs.WrapMsg(err, "parse client frame")
	}
	if f.Event == "" {
		return nil, errs.New("client frame missing event")
	}
	return &f, nil
}

// ServerFrame 下行帧
type ServerFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func EncodeFrame(event string, data any) ([]byte, error) {
	return json.Marshal(ServerFrame{Event: event, Data: data})
}

// ===== 上行 data 负载 =====

type SendMessageData struct {
	RoomID     string `json:"roomId"`
	Content    string `json:"content"`
	SenderName string `json:"senderName"`
	Type       string `json:"type"` // TEXT / IMAGE / FILE / EMOJI；缺省 TEXT
}

type JoinRoomData struct {
	RoomID string `json:"roomId"`
}

type TypingData struct {
	RoomID   string `json:"roomId"`
	UserName string `json:"userName"`
}

type UserStatusData struct {
	Status string `json:"status"` // ONLINE / OFFLINE / AWAY / BUSY
}

// ===== 背板 Envelope =====

// RoomEnvelope 房间通道上的载荷：event 区分 chat 消息与人数更新，
// 收端按 event 原样转投给 connectionsInRoom，不需要二次查询。
type RoomEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// StatusUpdate user:status 通道载荷
type StatusUpdate struct {
	UserID    string `json:"userId"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"` // 毫秒
}

// RoomUpdate room:update 通道载荷；Data 是松散 map，收端用 mapstructure 解
type RoomUpdate struct {
	RoomID    string `json:"roomId" mapstructure:"roomId"`
	Action    string `json:"action" mapstructure:"action"` // CREATED / DELETED / USER_JOINED / USER_LEFT
	Data      any    `json:"data,omitempty" mapstructure:"data"`
	Timestamp int64  `json:"timestamp" mapstructure:"timestamp"`
}

// RoomCount 房间人数载荷（RoomEnvelope.event = room_user_count）
type RoomCount struct {
	RoomID string `json:"roomId"`
	Count  int64  `json:"count"`
}
