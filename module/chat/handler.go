package chat

import (
	"net/http"
	"strconv"

	"ChatRelay/logger"
	"ChatRelay/module/chat/model"
	"ChatRelay/module/chat/service"

	"github.com/gin-gonic/gin"
)

// Handler /api/chat 下的 REST 控制器
type Handler struct {
	svc *service.ChatService
}

func NewHandler(svc *service.ChatService) *Handler {
	return &Handler{svc: svc}
}

// ===== 请求体 =====

type createUserReq struct {
	Username    string `json:"username" binding:"required"`
	Email       string `json:"email" binding:"required"`
	DisplayName string `json:"displayName" binding:"required"`
	Avatar      string `json:"avatar"`
}

type createRoomReq struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Type        string `json:"type"`
	OwnerID     string `json:"ownerId" binding:"required"`
	MaxMembers  int    `json:"maxMembers"`
}

type memberReq struct {
	UserID string `json:"userId" binding:"required"`
}

type statusReq struct {
	Status string `json:"status" binding:"required"`
}

// ===== 用户 =====

func (h *Handler) CreateUser(c *gin.Context) {
	var req createUserReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := h.svc.CreateUser(c.Request.Context(), &model.User{
		Username:    req.Username,
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Avatar:      req.Avatar,
	})
	if err != nil {
		logger.Warnf("[rest] create user err=%v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) GetUser(c *gin.Context) {
	user, err := h.svc.GetUser(c.Request.Context(), c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if user == nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) GetUserByUsername(c *gin.Context) {
	user, err := h.svc.GetUserByUsername(c.Request.Context(), c.Param("username"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if user == nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) UpdateUserStatus(c *gin.Context) {
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := h.svc.UpdateUserStatus(c.Request.Context(), c.Param("userId"), req.Status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if user == nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) GetUserMentions(c *gin.Context) {
	msgs, err := h.svc.GetUserMentions(c.Request.Context(), c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *Handler) GetUserRooms(c *gin.Context) {
	rooms, err := h.svc.GetUserRooms(c.Request.Context(), c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rooms)
}

// ===== 房间 =====

func (h *Handler) CreateRoom(c *gin.Context) {
	var req createRoomReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	roomType := req.Type
	if roomType == "" {
		roomType = model.RoomTypePublic
	}
	room, err := h.svc.CreateRoom(c.Request.Context(), &model.ChatRoom{
		Name:        req.Name,
		Description: req.Description,
		Type:        roomType,
		OwnerID:     req.OwnerID,
		MaxMembers:  req.MaxMembers,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *Handler) GetPublicRooms(c *gin.Context) {
	rooms, err := h.svc.GetPublicRooms(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rooms)
}

func (h *Handler) SearchRooms(c *gin.Context) {
	rooms, err := h.svc.SearchRooms(c.Request.Context(), c.Query("keyword"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rooms)
}

func (h *Handler) JoinRoom(c *gin.Context) {
	var req memberReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	room, err := h.svc.JoinRoom(c.Request.Context(), c.Param("roomId"), req.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if room == nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *Handler) LeaveRoom(c *gin.Context) {
	var req memberReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	room, err := h.svc.LeaveRoom(c.Request.Context(), c.Param("roomId"), req.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if room == nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *Handler) DeleteRoom(c *gin.Context) {
	deleted, err := h.svc.DeleteRoom(c.Request.Context(), c.Param("roomId"), c.Query("userId"))
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	if !deleted {
		c.Status(http.StatusNotFound)
		return
	}
	c.Status(http.StatusOK)
}

// ===== 消息 =====

func (h *Handler) GetRoomMessages(c *gin.Context) {
	page, _ := strconv.ParseInt(c.DefaultQuery("page", "0"), 10, 64)
	size, _ := strconv.ParseInt(c.DefaultQuery("size", "50"), 10, 64)

	msgs, err := h.svc.GetMessages(c.Request.Context(), c.Param("roomId"), page, size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"content": msgs,
		"page":    page,
		"size":    size,
	})
}

func (h *Handler) SearchMessages(c *gin.Context) {
	msgs, err := h.svc.SearchMessages(c.Request.Context(), c.Query("keyword"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// ===== 统计 =====

func (h *Handler) GetRoomStats(c *gin.Context) {
	online, messages, err := h.svc.RoomStats(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"onlineUsers":   online,
		"totalMessages": messages,
	})
}

func (h *Handler) GetSystemStats(c *gin.Context) {
	total, err := h.svc.TotalOnline(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"totalOnlineUsers": total})
}
