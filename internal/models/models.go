package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusBusy    = "busy"
	StatusOffline = "offline"

	RoleUser  = "user"
	RoleAdmin = "admin"

	ChatPrivate   = "private"
	ChatGroup     = "group"
	ChatFavorites = "favorites"

	ParticipantMember = "member"
	ParticipantAdmin  = "admin"
	ParticipantOwner  = "owner"
)

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	Email        string `gorm:"uniqueIndex;size:255;not null"`
	PasswordHash string `gorm:"not null"`
	FirstName    string `gorm:"size:64"`
	LastName     string `gorm:"size:64"`
	Avatar       string `gorm:"size:255;default:default"`
	Theme        string `gorm:"size:32;default:matrix"`
	Status       string `gorm:"size:16;default:offline;not null"`
	IsOnline     bool   `gorm:"default:false;not null"`
	Role         string `gorm:"size:16;default:user;not null"`
	LastSeen     time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    gorm.DeletedAt `gorm:"index"`
}

// Session 将不透明的 token 映射到用户，过期或删除后失效。
type Session struct {
	Token     string    `gorm:"primaryKey;size:64"`
	UserID    uint      `gorm:"index;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	CreatedAt time.Time
}

type Chat struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"size:128;not null"`
	Type        string `gorm:"size:16;index;not null"`
	Description string `gorm:"size:512"`
	Avatar      string `gorm:"size:255"`
	CreatedBy   uint   `gorm:"index"`
	IsActive    bool   `gorm:"default:true;not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type ChatParticipant struct {
	ID         uint   `gorm:"primaryKey"`
	ChatID     uint   `gorm:"uniqueIndex:idx_participant_chat_user;not null"`
	UserID     uint   `gorm:"uniqueIndex:idx_participant_chat_user;index;not null"`
	Role       string `gorm:"size:16;default:member;not null"`
	IsActive   bool   `gorm:"default:true;not null"`
	LastReadAt *time.Time
	JoinedAt   time.Time `gorm:"autoCreateTime"`
}

type Message struct {
	ID          uint   `gorm:"primaryKey"`
	ChatID      uint   `gorm:"index:idx_msg_chat_created,priority:1;not null"`
	SenderID    uint   `gorm:"index;not null"`
	Content     string `gorm:"type:text;not null"`
	MessageType string `gorm:"size:16;default:text;not null"`
	IsEdited    bool   `gorm:"default:false;not null"`
	IsDeleted   bool   `gorm:"default:false;not null"`
	ReplyTo     *uint
	CreatedAt   time.Time `gorm:"index:idx_msg_chat_created,priority:2"`
	UpdatedAt   time.Time
}

// MessageReaction 同一用户对同一消息的同一表情只能存在一条。
type MessageReaction struct {
	ID        uint   `gorm:"primaryKey"`
	MessageID uint   `gorm:"uniqueIndex:idx_reaction_triple;not null"`
	UserID    uint   `gorm:"uniqueIndex:idx_reaction_triple;not null"`
	Emoji     string `gorm:"uniqueIndex:idx_reaction_triple;size:32;not null"`
	CreatedAt time.Time
}

type Favorite struct {
	ID        uint `gorm:"primaryKey"`
	UserID    uint `gorm:"uniqueIndex:idx_favorite_user_message;not null"`
	MessageID uint `gorm:"uniqueIndex:idx_favorite_user_message;not null"`
	CreatedAt time.Time
}

type VoiceRoom struct {
	ID              uint   `gorm:"primaryKey"`
	Name            string `gorm:"size:128;not null"`
	ChatID          *uint  `gorm:"index"`
	MaxParticipants int    `gorm:"default:10;not null"`
	IsActive        bool   `gorm:"default:true;not null"`
	CreatedBy       uint
	CreatedAt       time.Time
}

type VoiceRoomParticipant struct {
	ID       uint      `gorm:"primaryKey"`
	RoomID   uint      `gorm:"uniqueIndex:idx_voice_room_user;not null"`
	UserID   uint      `gorm:"uniqueIndex:idx_voice_room_user;not null"`
	IsMuted  bool      `gorm:"default:false;not null"`
	JoinedAt time.Time `gorm:"autoCreateTime"`
}

// All 列出需要迁移的全部表。
func All() []any {
	return []any{
		&User{}, &Session{}, &Chat{}, &ChatParticipant{}, &Message{},
		&MessageReaction{}, &Favorite{}, &VoiceRoom{}, &VoiceRoomParticipant{},
	}
}
