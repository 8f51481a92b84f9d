package store

import (
	"context"
	"time"

	"ChatRelay/module/chat/model"
	"ChatRelay/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

const roomsColl = "chat_rooms"

// RoomStore chat_rooms 集合仓储
type RoomStore struct {
	db *mongo.Database
}

func NewRoomStore(db *mongo.Database) *RoomStore {
	return &RoomStore{db: db}
}

func (s *RoomStore) coll() *mongo.Collection { return s.db.Collection(roomsColl) }

func (s *RoomStore) Insert(ctx context.Context, room *model.ChatRoom) (*model.ChatRoom, error) {
	res, err := s.coll().InsertOne(ctx, room)
	if err != nil {
		return nil, errs.ErrPersistence.WrapMsg("insert room", "name", room.Name)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		room.ID = oid
	}
	return room, nil
}

// FindByID 不存在返回 (nil, nil)
func (s *RoomStore) FindByID(ctx context.Context, roomID string) (*model.ChatRoom, error) {
	oid, err := primitive.ObjectIDFromHex(roomID)
	if err != nil {
		return nil, nil // 非法 id 当不存在
	}
	var room model.ChatRoom
	err = s.coll().FindOne(ctx, bson.M{"_id": oid}).Decode(&room)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errs.ErrPersistence.WrapMsg("find room", "room", roomID)
	}
	return &room, nil
}

// ListActiveByType 某类型的活跃房间
func (s *RoomStore) ListActiveByType(ctx context.Context, roomType string) ([]model.ChatRoom, error) {
	cur, err := s.coll().Find(ctx, bson.M{"type": roomType, "isActive": true})
	if err != nil {
		return nil, errs.ErrPersistence.WrapMsg("list rooms", "type", roomType)
	}
	defer cur.Close(ctx)

	var out []model.ChatRoom
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.ErrPersistence.WrapMsg("decode rooms")
	}
	return out, nil
}

// ListActiveByMember 某用户加入的活跃房间
func (s *RoomStore) ListActiveByMember(ctx context.Context, userID string) ([]model.ChatRoom, error) {
	cur, err := s.coll().Find(ctx, bson.M{"members": userID, "isActive": true})
	if err != nil {
		return nil, errs.ErrPersistence.WrapMsg("list user rooms", "user", userID)
	}
	defer cur.Close(ctx)

	var out []model.ChatRoom
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.ErrPersistence.WrapMsg("decode rooms")
	}
	return out, nil
}

// SearchActiveByName 名称模糊检索
func (s *RoomStore) SearchActiveByName(ctx context.Context, keyword string) ([]model.ChatRoom, error) {
	filter := bson.M{
		"name":     bson.M{"$regex": keyword, "$options": "i"},
		"isActive": true,
	}
	cur, err := s.coll().Find(ctx, filter)
	if err != nil {
		return nil, errs.ErrPersistence.WrapMsg("search rooms")
	}
	defer cur.Close(ctx)

	var out []model.ChatRoom
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.ErrPersistence.WrapMsg("decode rooms")
	}
	return out, nil
}

// AddMember $addToSet 保证成员不重复
func (s *RoomStore) AddMember(ctx context.Context, roomID primitive.ObjectID, userID string) error {
	_, err := s.coll().UpdateByID(ctx, roomID, bson.M{
		"$addToSet": bson.M{"members": userID},
		"$set":      bson.M{"updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return errs.ErrPersistence.WrapMsg("add member", "user", userID)
	}
	return nil
}

func (s *RoomStore) RemoveMember(ctx context.Context, roomID primitive.ObjectID, userID string) error {
	_, err := s.coll().UpdateByID(ctx, roomID, bson.M{
		"$pull": bson.M{"members": userID},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return errs.ErrPersistence.WrapMsg("remove member", "user", userID)
	}
	return nil
}

// Deactivate 软删除
func (s *RoomStore) Deactivate(ctx context.Context, roomID primitive.ObjectID) error {
	_, err := s.coll().UpdateByID(ctx, roomID, bson.M{
		"$set": bson.M{"isActive": false, "updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return errs.ErrPersistence.WrapMsg("deactivate room")
	}
	return nil
}
