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

const usersColl = "users"

// UserStore users 集合仓储
type UserStore struct {
	db *mongo.Database
}

func NewUserStore(db *mongo.Database) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) coll() *mongo.Collection { return s.db.Collection(usersColl) }

func (s *UserStore) Insert(ctx context.Context, user *model.User) (*model.User, error) {
	res, err := s.coll().InsertOne(ctx, user)
	if err != nil {
		return nil, errs.ErrPersistence.WrapMsg("insert user", "username", user.Username)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		user.ID = oid
	}
	return user, nil
}

// FindByID 不存在返回 (nil, nil)
func (s *UserStore) FindByID(ctx context.Context, userID string) (*model.User, error) {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, nil
	}
	var user model.User
	err = s.coll().FindOne(ctx, bson.M{"_id": oid}).Decode(&user)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errs.ErrPersistence.WrapMsg("find user", "user", userID)
	}
	return &user, nil
}

func (s *UserStore) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	err := s.coll().FindOne(ctx, bson.M{"username": username}).Decode(&user)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errs.ErrPersistence.WrapMsg("find user", "username", username)
	}
	return &user, nil
}

func (s *UserStore) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	n, err := s.coll().CountDocuments(ctx, bson.M{"username": username})
	if err != nil {
		return false, errs.ErrPersistence.WrapMsg("count username")
	}
	return n > 0, nil
}

func (s *UserStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	n, err := s.coll().CountDocuments(ctx, bson.M{"email": email})
	if err != nil {
		return false, errs.ErrPersistence.WrapMsg("count email")
	}
	return n > 0, nil
}

// UpdateStatus 状态 + lastSeen
func (s *UserStore) UpdateStatus(ctx context.Context, userID primitive.ObjectID, status string) error {
	now := time.Now().UTC()
	_, err := s.coll().UpdateByID(ctx, userID, bson.M{
		"$set": bson.M{"status": status, "lastSeen": now, "updatedAt": now},
	})
	if err != nil {
		return errs.ErrPersistence.WrapMsg("update status", "user", userID.Hex())
	}
	return nil
}
