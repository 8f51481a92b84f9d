package relay

import (
	"net"
	"net/http"

	"ChatRelay/logger"
	"ChatRelay/tools/ids"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(r *http.Request) bool { return true }}

// WSServer gin 路由下的 WebSocket 入口
type WSServer struct {
	engine *Engine
	disp   *Dispatcher
}

func NewWSServer(engine *Engine, disp *Dispatcher) *WSServer {
	return &WSServer{engine: engine, disp: disp}
}

// HandleWS ===== WebSocket 处理 =====
// 握手只认 query 里的 userId（鉴权在上游做）；拿不到就直接关，
// 不进 Bound 态。e.g. ws://host/ws/chat?userId=u1&userName=Alice
func (s *WSServer) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败
		logger.Infof("[HandleWS] upgrade websocket error: %v", err)
		return
	}

	userID := c.Query("userId")
	if userID == "" {
		logger.Warnf("[HandleWS] connection without userId, closing remote=%s", ws.RemoteAddr())
		_ = ws.Close()
		return
	}
	userName := c.Query("userName")
	if userName == "" {
		userName = userID
	}

	sessionID := ids.GenerateString()
	conn := NewClientConn(sessionID, userID, userName, ws)

	if err := s.engine.Connect(conn); err != nil {
		logger.Warnf("[HandleWS] connect rejected user=%s err=%v", userID, err)
		conn.Close()
		return
	}

	// ---- 读循环：只读不写；出错即退出，写协程由 conn 自己收尾 ----
	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[WS] peer closed session=%s err=%v", sessionID, rerr)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[WS] read timeout session=%s err=%v", sessionID, rerr)
			} else {
				logger.Infof("[WS] read err session=%s err=%v", sessionID, rerr)
			}
			break
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		frame, perr := ParseFrameJSON(data)
		if perr != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Warnf("[WS] bad frame session=%s err=%v sample=%q", sessionID, perr, sample)
			continue
		}

		if derr := s.disp.Dispatch(s.engine, conn, frame); derr != nil {
			if IsUnknownConnection(derr) {
				// 本地状态已清（如进程刚重启），忽略即可
				logger.Debugf("[WS] stale session=%s event=%s", sessionID, frame.Event)
				continue
			}
			logger.Warnf("[WS] handle event=%s session=%s err=%v", frame.Event, sessionID, derr)
		}
	}

	// ---- 退出阶段：注销 + 在线状态收尾 ----
	s.engine.Disconnect(sessionID)
	conn.Close()
}
