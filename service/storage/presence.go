package storage

import (
	"context"

	"ChatRelay/tools/errs"

	"github.com/redis/go-redis/v9"
)

// 在线集合放共享 Redis，是跨节点的唯一事实来源。
// key: online:users                全局在线 userId 集合
// key: room:<roomId>:users         某房间在线 userId 集合
// 成员增删用 Redis 原子 set 命令，引擎侧不做读改写。

const onlineUsersKey = "online:users"

func roomUsersKey(roomID string) string { return "room:" + roomID + ":users" }

// PresenceStore 基于共享 Redis 的在线状态存储
type PresenceStore struct {
	rdb *redis.Client
}

func NewPresenceStore(rdb *redis.Client) *PresenceStore {
	return &PresenceStore{rdb: rdb}
}

// AddOnlineUser 标记用户全局在线
func (p *PresenceStore) AddOnlineUser(ctx context.Context, userID string) error {
	if err := p.rdb.SAdd(ctx, onlineUsersKey, userID).Err(); err != nil {
		return errs.ErrPresenceStore.WrapMsg("sadd online", "user", userID)
	}
	return nil
}

// RemoveOnlineUser 移除全局在线标记
func (p *PresenceStore) RemoveOnlineUser(ctx context.Context, userID string) error {
	if err := p.rdb.SRem(ctx, onlineUsersKey, userID).Err(); err != nil {
		return errs.ErrPresenceStore.WrapMsg("srem online", "user", userID)
	}
	return nil
}

// OnlineUsersCount 全局在线人数；Redis 不可用时返回错误，调用方按“未知数量”降级
func (p *PresenceStore) OnlineUsersCount(ctx context.Context) (int64, error) {
	n, err := p.rdb.SCard(ctx, onlineUsersKey).Result()
	if err != nil {
		return 0, errs.ErrPresenceStore.WrapMsg("scard online")
	}
	return n, nil
}

// IsUserOnline 用户是否在任一节点在线
func (p *PresenceStore) IsUserOnline(ctx context.Context, userID string) (bool, error) {
	ok, err := p.rdb.SIsMember(ctx, onlineUsersKey, userID).Result()
	if err != nil {
		return false, errs.ErrPresenceStore.WrapMsg("sismember online", "user", userID)
	}
	return ok, nil
}

// AddUserToRoom 标记用户在某房间在线
func (p *PresenceStore) AddUserToRoom(ctx context.Context, roomID, userID string) error {
	if err := p.rdb.SAdd(ctx, roomUsersKey(roomID), userID).Err(); err != nil {
		return errs.ErrPresenceStore.WrapMsg("sadd room", "room", roomID, "user", userID)
	}
	return nil
}

// RemoveUserFromRoom 移除用户的房间在线标记
func (p *PresenceStore) RemoveUserFromRoom(ctx context.Context, roomID, userID string) error {
	if err := p.rdb.SRem(ctx, roomUsersKey(roomID), userID).Err(); err != nil {
		return errs.ErrPresenceStore.WrapMsg("srem room", "room", roomID, "user", userID)
	}
	return nil
}

// RoomUsersCount 房间在线人数
func (p *PresenceStore) RoomUsersCount(ctx context.Context, roomID string) (int64, error) {
	n, err := p.rdb.SCard(ctx, roomUsersKey(roomID)).Result()
	if err != nil {
		return 0, errs.ErrPresenceStore.WrapMsg("scard room", "room", roomID)
	}
	return n, nil
}
