package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"ChatRelay/global"
	"ChatRelay/logger"
	mid "ChatRelay/middleware"
	chatmod "ChatRelay/module/chat"
	chatsvc "ChatRelay/module/chat/service"
	"ChatRelay/module/chat/store"
	"ChatRelay/module/user"
	"ChatRelay/service/backplane"
	mgoSrv "ChatRelay/service/mgo"
	"ChatRelay/service/relay"
	"ChatRelay/service/storage"
	redisSrv "ChatRelay/service/storage/redis"

	"github.com/gin-gonic/gin"
)

func main() {
	conf := global.Conf()
	global.ConfigAll()

	// 1) 等持久化就绪（REST 层是硬依赖）
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := mgoSrv.WaitReady(ctx, mgoSrv.Manager()); err != nil {
		log.Fatalf("mongo not ready: %v", err)
	}
	db := mgoSrv.GetDB()

	// 2) 背板
	var bp backplane.Backplane
	switch conf.BackplaneDriver {
	case "nats":
		nb, err := backplane.NewNatsBackplane(backplane.NatsConfig{
			URL:  conf.NatsURL,
			Name: conf.GatewayNodeId,
		})
		if err != nil {
			log.Fatalf("nats backplane: %v", err)
		}
		bp = nb
	default:
		bp = backplane.NewRedisBackplane(redisSrv.GetRedis())
	}

	// 3) 中继引擎
	presence := storage.NewPresenceStore(redisSrv.GetRedis())
	conns := relay.NewConnManager()
	channels := relay.NewChannelRegistry(bp)
	messages := store.NewMessageStore(db)

	engine := relay.NewEngine(relay.EngineConf{
		GatewayID:         conf.GatewayNodeId,
		EnforceMembership: conf.EnforceMembership,
	}, conns, channels, bp, presence, messages)

	if err := engine.Start(); err != nil {
		log.Fatalf("engine start: %v", err)
	}
	defer engine.Stop()

	ws := relay.NewWSServer(engine, relay.DefaultDispatcher())

	// 4) CRUD 服务
	svc := chatsvc.NewChatService(
		store.NewUserStore(db),
		store.NewRoomStore(db),
		messages,
		engine,
		presence,
	)
	h := chatmod.NewHandler(svc)

	// 5) HTTP + WebSocket
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/ws/chat", ws.HandleWS) // e.g. ws://localhost:8080/ws/chat?userId=u1&userName=Alice

	r.GET("/healthz", func(c *gin.Context) {
		if err := redisSrv.Healthy(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"redis": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "gateway": conf.GatewayNodeId})
	})

	secret := global.GetJwtSecret()
	auth := mid.RouteOpt{IsAuth: true, Secret: secret}
	open := mid.RouteOpt{}

	mid.POST(r, "/api/auth/token", user.HandlerLogin, open)

	api := r.Group("/api/chat")
	mid.POST(api, "/users", h.CreateUser, open)
	mid.GET(api, "/users/:userId", h.GetUser, open)
	mid.GET(api, "/users/by-username/:username", h.GetUserByUsername, open)
	mid.GET(api, "/users/:userId/rooms", h.GetUserRooms, open)
	mid.GET(api, "/users/:userId/mentions", h.GetUserMentions, open)
	mid.PUT(api, "/users/:userId/status", h.UpdateUserStatus, auth)

	mid.POST(api, "/rooms", h.CreateRoom, open)
	mid.GET(api, "/rooms/public", h.GetPublicRooms, open)
	mid.GET(api, "/rooms/search", h.SearchRooms, open)
	mid.POST(api, "/rooms/:roomId/join", h.JoinRoom, open)
	mid.POST(api, "/rooms/:roomId/leave", h.LeaveRoom, open)
	mid.DELETE(api, "/rooms/:roomId", h.DeleteRoom, auth)
	mid.GET(api, "/rooms/:roomId/messages", h.GetRoomMessages, open)
	mid.GET(api, "/rooms/:roomId/stats", h.GetRoomStats, open)

	mid.GET(api, "/messages/search", h.SearchMessages, open)
	mid.GET(api, "/stats", h.GetSystemStats, open)

	logger.Infof("[HTTP] Listening on :%d gateway=%s backplane=%s",
		conf.Port, conf.GatewayNodeId, conf.BackplaneDriver)
	if err := r.Run(fmt.Sprintf(":%d", conf.Port)); err != nil {
		log.Fatalf("HTTP server failed: %v", err)
	}
}
