package relay

import (
	"sync"
	"time"

	"ChatRelay/logger"
	"ChatRelay/tools/errs"

	"github.com/gorilla/websocket"
)

// ===== 单条连接 =====

const (
	sendQueueSize     = 256
	writeDeadlineSecs = 5
)

// ClientConn 一条已绑定用户的本地连接。UserID 握手后只写一次，之后只读。
// 业务侧永远走 Enqueue，写 socket 的只有 writePump 一个 goroutine。
type ClientConn struct {
	SessionID string
	UserID    string
	UserName  string

	conn      *websocket.Conn
	sendq     chan []byte
	closeOnce sync.Once
	done      chan struct{}
}

func NewClientConn(sessionID, userID, userName string, ws *websocket.Conn) *ClientConn {
	c := &ClientConn{
		SessionID: sessionID,
		UserID:    userID,
		UserName:  userName,
		conn:      ws,
		sendq:     make(chan []byte, sendQueueSize),
		done:      make(chan struct{}),
	}
	if ws != nil {
		go c.writePump()
	}
	return c
}

// Enqueue 非阻塞投递；队列满直接丢帧，慢消费者不能拖住别的房间
func (c *ClientConn) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.sendq <- frame:
		return true
	default:
		logger.Warnf("[conn] send queue full, drop frame session=%s user=%s", c.SessionID, c.UserID)
		return false
	}
}

// Send 编码并投递一个下行事件
func (c *ClientConn) Send(event string, data any) {
	b, err := EncodeFrame(event, data)
	if err != nil {
		logger.Errorf("[conn] encode frame event=%s err=%v", event, err)
		return
	}
	c.Enqueue(b)
}

func (c *ClientConn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *ClientConn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case b := <-c.sendq:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadlineSecs * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				logger.Debugf("[conn] write err session=%s err=%v", c.SessionID, err)
				c.Close()
				return
			}
		}
	}
}

// ===== Connection Registry =====

// ConnManager 本实例的连接登记表。一把 RWMutex 盖住三个索引，
// 注销对读者要么整体可见要么整体不可见，不会读到拆了一半的状态。
type ConnManager struct {
	mu        sync.RWMutex
	bySession map[string]*ClientConn
	byRoom    map[string]map[string]*ClientConn // roomId -> sessionId -> conn
	roomsOf   map[string]map[string]struct{}    // sessionId -> roomId set
}

func NewConnManager() *ConnManager {
	return &ConnManager{
		bySession: make(map[string]*ClientConn),
		byRoom:    make(map[string]map[string]*ClientConn),
		roomsOf:   make(map[string]map[string]struct{}),
	}
}

// Register 登记连接并绑定用户；同一 session 再次绑定报 DuplicateBinding
func (m *ConnManager) Register(c *ClientConn) error {
	if c == nil || c.SessionID == "" {
		return errs.ErrUnboundConnection.WrapMsg("register")
	}
	if c.UserID == "" {
		return errs.ErrUnboundConnection.WrapMsg("register", "session", c.SessionID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.bySession[c.SessionID]; exists {
		return errs.ErrDuplicateBinding.WrapMsg("register", "session", c.SessionID)
	}
	m.bySession[c.SessionID] = c
	m.roomsOf[c.SessionID] = make(map[string]struct{})
	return nil
}

// Unregister 注销连接，返回绑定用户与当时所在房间，供调用方收尾。
// 未知 session 是 no-op（ok=false）。
func (m *ConnManager) Unregister(sessionID string) (userID string, rooms []string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, exists := m.bySession[sessionID]
	if !exists {
		return "", nil, false
	}
	for roomID := range m.roomsOf[sessionID] {
		rooms = append(rooms, roomID)
		if mm := m.byRoom[roomID]; mm != nil {
			delete(mm, sessionID)
			if len(mm) == 0 {
				delete(m.byRoom, roomID)
			}
		}
	}
	delete(m.roomsOf, sessionID)
	delete(m.bySession, sessionID)
	return c.UserID, rooms, true
}

// JoinRoom 把连接挂进房间索引；重复加入是 no-op（changed=false）
func (m *ConnManager) JoinRoom(sessionID, roomID string) (changed bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, exists := m.bySession[sessionID]
	if !exists {
		return false, errs.ErrUnknownConnection.WrapMsg("join", "session", sessionID, "room", roomID)
	}
	if _, in := m.roomsOf[sessionID][roomID]; in {
		return false, nil
	}
	m.roomsOf[sessionID][roomID] = struct{}{}
	if m.byRoom[roomID] == nil {
		m.byRoom[roomID] = make(map[string]*ClientConn)
	}
	m.byRoom[roomID][sessionID] = c
	return true, nil
}

// LeaveRoom 对称操作；本来就不在房间里则 no-op
func (m *ConnManager) LeaveRoom(sessionID, roomID string) (changed bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.bySession[sessionID]; !exists {
		return false, errs.ErrUnknownConnection.WrapMsg("leave", "session", sessionID, "room", roomID)
	}
	if _, in := m.roomsOf[sessionID][roomID]; !in {
		return false, nil
	}
	delete(m.roomsOf[sessionID], roomID)
	if mm := m.byRoom[roomID]; mm != nil {
		delete(mm, sessionID)
		if len(mm) == 0 {
			delete(m.byRoom, roomID)
		}
	}
	return true, nil
}

// ConnectionsInRoom 投递扇出用的快照
func (m *ConnManager) ConnectionsInRoom(roomID string) []*ClientConn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mm := m.byRoom[roomID]
	if len(mm) == 0 {
		return nil
	}
	out := make([]*ClientConn, 0, len(mm))
	for _, c := range mm {
		out = append(out, c)
	}
	return out
}

// AllConnections 全局广播（在线人数、用户状态）用
func (m *ConnManager) AllConnections() []*ClientConn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*ClientConn, 0, len(m.bySession))
	for _, c := range m.bySession {
		out = append(out, c)
	}
	return out
}

func (m *ConnManager) Get(sessionID string) (*ClientConn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.bySession[sessionID]
	return c, ok
}

// InRoom 某 session 当前是否在某房间（成员校验开关用）
func (m *ConnManager) InRoom(sessionID, roomID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, in := m.roomsOf[sessionID][roomID]
	return in
}

func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bySession)
}

// Close 关停所有连接（进程退出用）
func (m *ConnManager) Close() {
	m.mu.Lock()
	conns := make([]*ClientConn, 0, len(m.bySession))
	for _, c := range m.bySession {
		conns = append(conns, c)
	}
	m.bySession = map[string]*ClientConn{}
	m.byRoom = map[string]map[string]*ClientConn{}
	m.roomsOf = map[string]map[string]struct{}{}
	m.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
