package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// 消息类型
const (
	MessageTypeText   = "TEXT"
	MessageTypeImage  = "IMAGE"
	MessageTypeFile   = "FILE"
	MessageTypeSystem = "SYSTEM"
	MessageTypeEmoji  = "EMOJI"
)

// 系统消息统一的发送者
const (
	SystemSenderID   = "system"
	SystemSenderName = "System"
)

// Message messages 集合文档；同一结构直接走背板转发
type Message struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	RoomID      string             `bson:"roomId" json:"roomId"`
	SenderID    string             `bson:"senderId" json:"senderId"`
	SenderName  string             `bson:"senderName" json:"senderName"`
	Content     string             `bson:"content" json:"content"`
	Type        string             `bson:"type" json:"type"`
	Attachments []Attachment       `bson:"attachments,omitempty" json:"attachments,omitempty"`
	Mentions    []string           `bson:"mentions,omitempty" json:"mentions,omitempty"`
	ReplyToID   string             `bson:"replyToId,omitempty" json:"replyToId,omitempty"`
	IsEdited    bool               `bson:"isEdited" json:"isEdited"`
	EditedAt    *time.Time         `bson:"editedAt,omitempty" json:"editedAt,omitempty"`
	Timestamp   time.Time          `bson:"timestamp" json:"timestamp"`
}

type Attachment struct {
	ID       string `bson:"id" json:"id"`
	Name     string `bson:"name" json:"name"`
	URL      string `bson:"url" json:"url"`
	Size     int64  `bson:"size" json:"size"`
	MimeType string `bson:"mimeType" json:"mimeType"`
}

// NormalizeType 客户端传的 type 不认识时回落 TEXT
func NormalizeType(t string) string {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeSystem, MessageTypeEmoji:
		return t
	default:
		return MessageTypeText
	}
}
