package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// 房间类型
const (
	RoomTypePublic        = "PUBLIC"
	RoomTypePrivate       = "PRIVATE"
	RoomTypeDirectMessage = "DIRECT_MESSAGE"
)

const DefaultMaxMembers = 1000

// ChatRoom chat_rooms 集合文档
type ChatRoom struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	Name        string             `bson:"name" json:"name"`
	Description string             `bson:"description,omitempty" json:"description,omitempty"`
	Type        string             `bson:"type" json:"type"`
	OwnerID     string             `bson:"ownerId" json:"ownerId"`
	Members     []string           `bson:"members" json:"members"`
	MaxMembers  int                `bson:"maxMembers" json:"maxMembers"`
	IsActive    bool               `bson:"isActive" json:"isActive"`
	CreatedAt   time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// HasMember 成员判定；members 量级不大，线性扫够用
func (r *ChatRoom) HasMember(userID string) bool {
	for _, m := range r.Members {
		if m == userID {
			return true
		}
	}
	return false
}
