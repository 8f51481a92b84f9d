package relay

import (
	"encoding/json"

	"ChatRelay/tools/errs"
)

// HandlerFunc 一个客户端命令事件的处理函数；在该连接自己的读循环里同步执行
type HandlerFunc func(e *Engine, c *ClientConn, data json.RawMessage) error

// Dispatcher 事件名 -> 处理函数的显式分发表
type Dispatcher struct {
	handlers map[string]HandlerFunc
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]HandlerFunc)}
}

func (d *Dispatcher) Register(event string, h HandlerFunc) { d.handlers[event] = h }

func (d *Dispatcher) Dispatch(e *Engine, c *ClientConn, f *ClientFrame) error {
	h, ok := d.handlers[f.Event]
	if !ok {
		return errs.New("no handler for event", "event", f.Event)
	}
	return h(e, c, f.Data)
}

// DefaultDispatcher 登记全部客户端命令事件
func DefaultDispatcher() *Dispatcher {
	d := NewDispatcher()

	d.Register(CmdJoinRoom, func(e *Engine, c *ClientConn, data json.RawMessage) error {
		roomID, err := decodeRoomID(data)
		if err != nil {
			return err
		}
		return e.JoinRoom(c.SessionID, roomID)
	})

	d.Register(CmdLeaveRoom, func(e *Engine, c *ClientConn, data json.RawMessage) error {
		roomID, err := decodeRoomID(data)
		if err != nil {
			return err
		}
		return e.LeaveRoom(c.SessionID, roomID)
	})

	d.Register(CmdSendMessage, func(e *Engine, c *ClientConn, data json.RawMessage) error {
		var md SendMessageData
		if err := json.Unmarshal(data, &md); err != nil {
			return errs.WrapMsg(err, "decode send_message")
		}
		if md.RoomID == "" {
			return errs.New("send_message missing roomId")
		}
		return e.SendMessage(c.SessionID, md)
	})

	d.Register(CmdTypingStart, typingHandler(true))
	d.Register(CmdTypingStop, typingHandler(false))

	d.Register(CmdUserStatus, func(e *Engine, c *ClientConn, data json.RawMessage) error {
		var sd UserStatusData
		if err := json.Unmarshal(data, &sd); err != nil {
			return errs.WrapMsg(err, "decode user_status")
		}
		return e.UserStatus(c.SessionID, sd.Status)
	})

	return d
}

func typingHandler(isTyping bool) HandlerFunc {
	return func(e *Engine, c *ClientConn, data json.RawMessage) error {
		var td TypingData
		if err := json.Unmarshal(data, &td); err != nil {
			return errs.WrapMsg(err, "decode typing")
		}
		if td.RoomID == "" {
			return errs.New("typing missing roomId")
		}
		return e.Typing(c.SessionID, td.RoomID, td.UserName, isTyping)
	}
}

// decodeRoomID join/leave 的 data 兼容两种形态：裸字符串或 {roomId}
func decodeRoomID(data json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(data, &s); err == nil && s != "" {
		return s, nil
	}
	var jd JoinRoomData
	if err := json.Unmarshal(data, &jd); err != nil || jd.RoomID == "" {
		return "", errs.New("missing roomId")
	}
	return jd.RoomID, nil
}
