package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// 用户状态
const (
	UserStatusOnline  = "ONLINE"
	UserStatusOffline = "OFFLINE"
	UserStatusAway    = "AWAY"
	UserStatusBusy    = "BUSY"
)

// NormalizeStatus 不认识的状态回落 OFFLINE
func NormalizeStatus(s string) string {
	switch s {
	case UserStatusOnline, UserStatusOffline, UserStatusAway, UserStatusBusy:
		return s
	default:
		return UserStatusOffline
	}
}

// User users 集合文档
type User struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	Username    string             `bson:"username" json:"username"`
	Email       string             `bson:"email" json:"email"`
	DisplayName string             `bson:"displayName" json:"displayName"`
	Avatar      string             `bson:"avatar,omitempty" json:"avatar,omitempty"`
	Status      string             `bson:"status" json:"status"`
	LastSeen    time.Time          `bson:"lastSeen" json:"lastSeen"`
	JoinedRooms []string           `bson:"joinedRooms,omitempty" json:"joinedRooms,omitempty"`
	CreatedAt   time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt" json:"updatedAt"`
}
