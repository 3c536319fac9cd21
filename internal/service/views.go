package service

import (
	"time"

	"messenger/internal/models"
)

// UserView 是用户自身或管理员可见的数据，不含密码哈希。
type UserView struct {
	ID        uint      `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Avatar    string    `json:"avatar"`
	Theme     string    `json:"theme"`
	Status    string    `json:"status"`
	IsOnline  bool      `json:"isOnline"`
	Role      string    `json:"role"`
	LastSeen  time.Time `json:"lastSeen"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewUserView(u *models.User) UserView {
	return UserView{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Avatar:    u.Avatar,
		Theme:     u.Theme,
		Status:    u.Status,
		IsOnline:  u.IsOnline,
		Role:      u.Role,
		LastSeen:  u.LastSeen,
		CreatedAt: u.CreatedAt,
	}
}

func NewUserViews(users []models.User) []UserView {
	out := make([]UserView, 0, len(users))
	for i := range users {
		out = append(out, NewUserView(&users[i]))
	}
	return out
}

// PublicUser 是其他用户可见的身份信息，用作消息的 sender。
type PublicUser struct {
	ID        uint   `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Avatar    string `json:"avatar"`
	Status    string `json:"status"`
	IsOnline  bool   `json:"isOnline"`
}

func NewPublicUser(u *models.User) PublicUser {
	return PublicUser{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Avatar:    u.Avatar,
		Status:    u.Status,
		IsOnline:  u.IsOnline,
	}
}

type ReactionGroup struct {
	Emoji   string `json:"emoji"`
	Count   int    `json:"count"`
	UserIDs []uint `json:"userIds"`
}

type MessageView struct {
	ID          uint            `json:"id"`
	ChatID      uint            `json:"chatId"`
	SenderID    uint            `json:"senderId"`
	Content     string          `json:"content"`
	MessageType string          `json:"messageType"`
	IsEdited    bool            `json:"isEdited"`
	ReplyTo     *uint           `json:"replyTo,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	Sender      PublicUser      `json:"sender"`
	Reactions   []ReactionGroup `json:"reactions,omitempty"`
}

func newMessageView(m *models.Message, sender PublicUser) MessageView {
	return MessageView{
		ID:          m.ID,
		ChatID:      m.ChatID,
		SenderID:    m.SenderID,
		Content:     m.Content,
		MessageType: m.MessageType,
		IsEdited:    m.IsEdited,
		ReplyTo:     m.ReplyTo,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		Sender:      sender,
	}
}

type ChatSummary struct {
	ID          uint         `json:"id"`
	Name        string       `json:"name"`
	Type        string       `json:"type"`
	Description string       `json:"description"`
	Avatar      string       `json:"avatar"`
	CreatedBy   uint         `json:"createdBy"`
	Role        string       `json:"role"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	LastMessage *MessageView `json:"lastMessage,omitempty"`
	UnreadCount int64        `json:"unreadCount"`
}

type ParticipantView struct {
	UserID     uint       `json:"userId"`
	Role       string     `json:"role"`
	JoinedAt   time.Time  `json:"joinedAt"`
	LastReadAt *time.Time `json:"lastReadAt,omitempty"`
	User       PublicUser `json:"user"`
}

type FavoriteView struct {
	ID        uint        `json:"id"`
	MessageID uint        `json:"messageId"`
	CreatedAt time.Time   `json:"createdAt"`
	Message   MessageView `json:"message"`
}

type VoiceParticipantView struct {
	UserID   uint      `json:"userId"`
	Username string    `json:"username"`
	IsMuted  bool      `json:"isMuted"`
	JoinedAt time.Time `json:"joinedAt"`
}

type VoiceRoomView struct {
	ID              uint                   `json:"id"`
	Name            string                 `json:"name"`
	ChatID          *uint                  `json:"chatId,omitempty"`
	MaxParticipants int                    `json:"maxParticipants"`
	CreatedBy       uint                   `json:"createdBy"`
	CreatedAt       time.Time              `json:"createdAt"`
	Participants    []VoiceParticipantView `json:"participants"`
}

type Stats struct {
	TotalUsers       int64 `json:"totalUsers"`
	ActiveChats      int64 `json:"activeChats"`
	TotalGroups      int64 `json:"totalGroups"`
	ActiveVoiceRooms int64 `json:"activeVoiceRooms"`
}

type ChatView struct {
	ID          uint      `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Avatar      string    `json:"avatar"`
	CreatedBy   uint      `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func NewChatView(c *models.Chat) ChatView {
	return ChatView{
		ID:          c.ID,
		Name:        c.Name,
		Type:        c.Type,
		Description: c.Description,
		Avatar:      c.Avatar,
		CreatedBy:   c.CreatedBy,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func NewVoiceRoomView(r *models.VoiceRoom) VoiceRoomView {
	return VoiceRoomView{
		ID:              r.ID,
		Name:            r.Name,
		ChatID:          r.ChatID,
		MaxParticipants: r.MaxParticipants,
		CreatedBy:       r.CreatedBy,
		CreatedAt:       r.CreatedAt,
		Participants:    []VoiceParticipantView{},
	}
}
