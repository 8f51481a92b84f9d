package store

import (
	"context"

	"ChatRelay/module/chat/model"
	"ChatRelay/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const messagesColl = "messages"

// MessageStore messages 集合仓储
type MessageStore struct {
	db *mongo.Database
}

func NewMessageStore(db *mongo.Database) *MessageStore {
	return &MessageStore{db: db}
}

func (s *MessageStore) coll() *mongo.Collection { return s.db.Collection(messagesColl) }

// SaveMessage 落库并回填 _id
func (s *MessageStore) SaveMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	res, err := s.coll().InsertOne(ctx, msg)
	if err != nil {
		return nil, errs.ErrPersistence.WrapMsg("insert message", "room", msg.RoomID)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		msg.ID = oid
	}
	return msg, nil
}

// ListByRoom 按时间倒序分页
func (s *MessageStore) ListByRoom(ctx context.Context, roomID string, page, size int64) ([]model.Message, error) {
	if size <= 0 {
		size = 50
	}
	if page < 0 {
		page = 0
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetSkip(page * size).
		SetLimit(size)

	cur, err := s.coll().Find(ctx, bson.M{"roomId": roomID}, opts)
	if err != nil {
		return nil, errs.ErrPersistence.WrapMsg("find messages", "room", roomID)
	}
	defer cur.Close(ctx)

	var out []model.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.ErrPersistence.WrapMsg("decode messages", "room", roomID)
	}
	return out, nil
}

// SearchContent 内容模糊检索（大小写不敏感）
func (s *MessageStore) SearchContent(ctx context.Context, keyword string) ([]model.Message, error) {
	filter := bson.M{"content": bson.M{"$regex": keyword, "$options": "i"}}
	cur, err := s.coll().Find(ctx, filter)
	if err != nil {
		return nil, errs.ErrPersistence.WrapMsg("search messages")
	}
	defer cur.Close(ctx)

	var out []model.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.ErrPersistence.WrapMsg("decode messages")
	}
	return out, nil
}

// ListMentions @到某用户的消息
func (s *MessageStore) ListMentions(ctx context.Context, userID string) ([]model.Message, error) {
	cur, err := s.coll().Find(ctx, bson.M{"mentions": bson.M{"$in": []string{userID}}})
	if err != nil {
		return nil, errs.ErrPersistence.WrapMsg("find mentions", "user", userID)
	}
	defer cur.Close(ctx)

	var out []model.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.ErrPersistence.WrapMsg("decode mentions", "user", userID)
	}
	return out, nil
}

// CountByRoom 房间消息总数（REST 统计用，不在热路径）
func (s *MessageStore) CountByRoom(ctx context.Context, roomID string) (int64, error) {
	n, err := s.coll().CountDocuments(ctx, bson.M{"roomId": roomID})
	if err != nil {
		return 0, errs.ErrPersistence.WrapMsg("count messages", "room", roomID)
	}
	return n, nil
}
