package service

import (
	"context"
	"time"

	"ChatRelay/module/chat/model"
	"ChatRelay/module/chat/store"
	"ChatRelay/tools/errs"
)

// 房间变更 action（room:update 通道）
const (
	RoomActionCreated    = "CREATED"
	RoomActionDeleted    = "DELETED"
	RoomActionUserJoined = "USER_JOINED"
	RoomActionUserLeft   = "USER_LEFT"
)

// UpdatePublisher CRUD 侧向背板发布变更的出口；由 relay.Engine 实现
type UpdatePublisher interface {
	PublishRoomUpdate(ctx context.Context, roomID, action string, data any) error
	PublishUserStatus(ctx context.Context, userID, status string) error
}

// OnlineCounter REST 统计用的在线计数口
type OnlineCounter interface {
	OnlineUsersCount(ctx context.Context) (int64, error)
	RoomUsersCount(ctx context.Context, roomID string) (int64, error)
	IsUserOnline(ctx context.Context, userID string) (bool, error)
}

// ChatService CRUD 编排；持久化失败原样上抛给 REST 层
type ChatService struct {
	users    *store.UserStore
	rooms    *store.RoomStore
	messages *store.MessageStore
	pub      UpdatePublisher
	online   OnlineCounter
}

func NewChatService(users *store.UserStore, rooms *store.RoomStore,
	messages *store.MessageStore, pub UpdatePublisher, online OnlineCounter) *ChatService {
	return &ChatService{
		users:    users,
		rooms:    rooms,
		messages: messages,
		pub:      pub,
		online:   online,
	}
}

// ===== 用户 =====

func (s *ChatService) CreateUser(ctx context.Context, user *model.User) (*model.User, error) {
	if ok, err := s.users.ExistsByUsername(ctx, user.Username); err != nil {
		return nil, err
	} else if ok {
		return nil, errs.New("username already exists", "username", user.Username)
	}
	if ok, err := s.users.ExistsByEmail(ctx, user.Email); err != nil {
		return nil, err
	} else if ok {
		return nil, errs.New("email already exists", "email", user.Email)
	}

	now := time.Now().UTC()
	user.Status = model.UserStatusOffline
	user.LastSeen = now
	user.CreatedAt = now
	user.UpdatedAt = now
	return s.users.Insert(ctx, user)
}

func (s *ChatService) GetUser(ctx context.Context, userID string) (*model.User, error) {
	return s.users.FindByID(ctx, userID)
}

func (s *ChatService) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.users.FindByUsername(ctx, username)
}

// UpdateUserStatus 改库并把状态变更播出去
func (s *ChatService) UpdateUserStatus(ctx context.Context, userID, status string) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil || user == nil {
		return nil, err
	}
	status = model.NormalizeStatus(status)
	if err := s.users.UpdateStatus(ctx, user.ID, status); err != nil {
		return nil, err
	}
	user.Status = status
	_ = s.pub.PublishUserStatus(ctx, userID, status)
	return user, nil
}

// ===== 房间 =====

func (s *ChatService) CreateRoom(ctx context.Context, room *model.ChatRoom) (*model.ChatRoom, error) {
	now := time.Now().UTC()
	if room.MaxMembers <= 0 {
		room.MaxMembers = model.DefaultMaxMembers
	}
	if room.Members == nil {
		room.Members = []string{}
	}
	room.IsActive = true
	room.CreatedAt = now
	room.UpdatedAt = now

	saved, err := s.rooms.Insert(ctx, room)
	if err != nil {
		return nil, err
	}
	_ = s.pub.PublishRoomUpdate(ctx, saved.ID.Hex(), RoomActionCreated, saved)
	return saved, nil
}

// JoinRoom 满员报错；成功后发 USER_JOINED
func (s *ChatService) JoinRoom(ctx context.Context, roomID, userID string) (*model.ChatRoom, error) {
	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil || room == nil {
		return nil, err
	}
	if !room.HasMember(userID) && len(room.Members) >= room.MaxMembers {
		return nil, errs.ErrRoomFull.WrapMsg("join", "room", roomID)
	}
	if err := s.rooms.AddMember(ctx, room.ID, userID); err != nil {
		return nil, err
	}
	_ = s.pub.PublishRoomUpdate(ctx, roomID, RoomActionUserJoined, map[string]any{"userId": userID})
	return s.rooms.FindByID(ctx, roomID)
}

func (s *ChatService) LeaveRoom(ctx context.Context, roomID, userID string) (*model.ChatRoom, error) {
	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil || room == nil {
		return nil, err
	}
	if err := s.rooms.RemoveMember(ctx, room.ID, userID); err != nil {
		return nil, err
	}
	_ = s.pub.PublishRoomUpdate(ctx, roomID, RoomActionUserLeft, map[string]any{"userId": userID})
	return s.rooms.FindByID(ctx, roomID)
}

// DeleteRoom 仅 owner 可删；软删除后发 DELETED
func (s *ChatService) DeleteRoom(ctx context.Context, roomID, userID string) (bool, error) {
	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil || room == nil {
		return false, err
	}
	if room.OwnerID != userID {
		return false, errs.ErrNoPermission.WrapMsg("delete room", "room", roomID, "user", userID)
	}
	if err := s.rooms.Deactivate(ctx, room.ID); err != nil {
		return false, err
	}
	_ = s.pub.PublishRoomUpdate(ctx, roomID, RoomActionDeleted, nil)
	return true, nil
}

func (s *ChatService) GetPublicRooms(ctx context.Context) ([]model.ChatRoom, error) {
	return s.rooms.ListActiveByType(ctx, model.RoomTypePublic)
}

func (s *ChatService) GetUserRooms(ctx context.Context, userID string) ([]model.ChatRoom, error) {
	return s.rooms.ListActiveByMember(ctx, userID)
}

func (s *ChatService) SearchRooms(ctx context.Context, keyword string) ([]model.ChatRoom, error) {
	return s.rooms.SearchActiveByName(ctx, keyword)
}

// ===== 消息 =====

func (s *ChatService) GetMessages(ctx context.Context, roomID string, page, size int64) ([]model.Message, error) {
	return s.messages.ListByRoom(ctx, roomID, page, size)
}

func (s *ChatService) SearchMessages(ctx context.Context, keyword string) ([]model.Message, error) {
	return s.messages.SearchContent(ctx, keyword)
}

func (s *ChatService) GetUserMentions(ctx context.Context, userID string) ([]model.Message, error) {
	return s.messages.ListMentions(ctx, userID)
}

// ===== 统计 =====

func (s *ChatService) RoomStats(ctx context.Context, roomID string) (online int64, messages int64, err error) {
	online, err = s.online.RoomUsersCount(ctx, roomID)
	if err != nil {
		return 0, 0, err
	}
	messages, err = s.messages.CountByRoom(ctx, roomID)
	if err != nil {
		return 0, 0, err
	}
	return online, messages, nil
}

func (s *ChatService) TotalOnline(ctx context.Context) (int64, error) {
	return s.online.OnlineUsersCount(ctx)
}

func (s *ChatService) IsUserOnline(ctx context.Context, userID string) (bool, error) {
	return s.online.IsUserOnline(ctx, userID)
}
