package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"messenger/internal/models"

	"gorm.io/gorm"
)

// ChatService 管理会话及其成员关系，同时为实时层提供成员查询。
type ChatService struct {
	db *gorm.DB
}

func NewChatService(db *gorm.DB) *ChatService {
	return &ChatService{db: db}
}

func (s *ChatService) chat(db *gorm.DB, chatID uint) (*models.Chat, error) {
	var chat models.Chat
	err := db.Where("id = ? AND is_active = ?", chatID, true).First(&chat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// participant 返回有效的成员记录，不存在时返回 ErrNotParticipant。
func (s *ChatService) participant(db *gorm.DB, chatID, userID uint) (*models.ChatParticipant, error) {
	var p models.ChatParticipant
	err := db.Where("chat_id = ? AND user_id = ? AND is_active = ?", chatID, userID, true).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotParticipant
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// IsMember 判断用户是否是活跃会话的有效成员。
func (s *ChatService) IsMember(ctx context.Context, chatID, userID uint) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.ChatParticipant{}).
		Joins("JOIN chats ON chats.id = chat_participants.chat_id").
		Where("chat_participants.chat_id = ? AND chat_participants.user_id = ? AND chat_participants.is_active = ? AND chats.is_active = ?",
			chatID, userID, true, true).
		Count(&n).Error
	return n > 0, err
}

// ParticipantsOf 返回会话当前有效成员的用户 ID 集合。
func (s *ChatService) ParticipantsOf(ctx context.Context, chatID uint) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).
		Model(&models.ChatParticipant{}).
		Where("chat_id = ? AND is_active = ?", chatID, true).
		Distinct().
		Pluck("user_id", &ids).Error
	return ids, err
}

func (s *ChatService) Participants(ctx context.Context, chatID uint) ([]ParticipantView, error) {
	var parts []models.ChatParticipant
	db := s.db.WithContext(ctx)
	if err := db.Where("chat_id = ? AND is_active = ?", chatID, true).Order("joined_at asc").Find(&parts).Error; err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(parts))
	for _, p := range parts {
		ids = append(ids, p.UserID)
	}
	users, err := loadUsers(db, ids)
	if err != nil {
		return nil, err
	}
	out := make([]ParticipantView, 0, len(parts))
	for _, p := range parts {
		out = append(out, ParticipantView{
			UserID:     p.UserID,
			Role:       p.Role,
			JoinedAt:   p.JoinedAt,
			LastReadAt: p.LastReadAt,
			User:       users[p.UserID],
		})
	}
	return out, nil
}

// ListForUser 返回用户参与的会话，附带最后一条消息和未读数，按最近活动排序。
func (s *ChatService) ListForUser(ctx context.Context, userID uint) ([]ChatSummary, error) {
	type row struct {
		models.Chat
		Role       string
		LastReadAt *time.Time
	}
	db := s.db.WithContext(ctx)
	var rows []row
	err := db.Table("chats").
		Select("chats.*, chat_participants.role AS role, chat_participants.last_read_at AS last_read_at").
		Joins("JOIN chat_participants ON chat_participants.chat_id = chats.id").
		Where("chat_participants.user_id = ? AND chat_participants.is_active = ? AND chats.is_active = ?", userID, true, true).
		Order("chats.updated_at desc").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]ChatSummary, 0, len(rows))
	for _, r := range rows {
		sum := ChatSummary{
			ID:          r.ID,
			Name:        r.Name,
			Type:        r.Type,
			Description: r.Description,
			Avatar:      r.Avatar,
			CreatedBy:   r.CreatedBy,
			Role:        r.Role,
			CreatedAt:   r.CreatedAt,
			UpdatedAt:   r.UpdatedAt,
		}
		if r.Type == models.ChatPrivate {
			if name, err := s.otherUsername(db, r.ID, userID); err != nil {
				return nil, err
			} else if name != "" {
				sum.Name = name
			}
		}
		if sum.LastMessage, err = lastMessage(db, r.ID); err != nil {
			return nil, err
		}
		if sum.UnreadCount, err = unreadCount(db, r.ID, userID, r.LastReadAt); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, nil
}

func (s *ChatService) otherUsername(db *gorm.DB, chatID, userID uint) (string, error) {
	var names []string
	err := db.Unscoped().Model(&models.User{}).
		Joins("JOIN chat_participants ON chat_participants.user_id = users.id").
		Where("chat_participants.chat_id = ? AND users.id <> ?", chatID, userID).
		Limit(1).
		Pluck("users.username", &names).Error
	if err != nil || len(names) == 0 {
		return "", err
	}
	return names[0], nil
}

func lastMessage(db *gorm.DB, chatID uint) (*MessageView, error) {
	var msgs []models.Message
	if err := db.Where("chat_id = ? AND is_deleted = ?", chatID, false).Order("created_at desc, id desc").Limit(1).Find(&msgs).Error; err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	senders, err := loadUsers(db, []uint{msgs[0].SenderID})
	if err != nil {
		return nil, err
	}
	v := newMessageView(&msgs[0], senders[msgs[0].SenderID])
	return &v, nil
}

// unreadCount 统计 lastReadAt 之后他人发送且未删除的消息；从未读过时统计全部。
func unreadCount(db *gorm.DB, chatID, userID uint, lastReadAt *time.Time) (int64, error) {
	q := db.Model(&models.Message{}).Where("chat_id = ? AND is_deleted = ? AND sender_id <> ?", chatID, false, userID)
	if lastReadAt != nil {
		q = q.Where("created_at > ?", *lastReadAt)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}

func (s *ChatService) UnreadCount(ctx context.Context, chatID, userID uint) (int64, error) {
	p, err := s.participant(s.db.WithContext(ctx), chatID, userID)
	if err != nil {
		return 0, err
	}
	return unreadCount(s.db.WithContext(ctx), chatID, userID, p.LastReadAt)
}

// CreateGroup 创建群聊，创建者成为 owner。
func (s *ChatService) CreateGroup(ctx context.Context, creatorID uint, name, description string) (*models.Chat, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > 128 {
		return nil, errors.Join(ErrInvalidInput, errors.New("chat name must be 1-128 characters"))
	}
	chat := models.Chat{Name: name, Type: models.ChatGroup, Description: description, CreatedBy: creatorID, IsActive: true}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&chat).Error; err != nil {
			return err
		}
		return tx.Create(&models.ChatParticipant{ChatID: chat.ID, UserID: creatorID, Role: models.ParticipantOwner, IsActive: true}).Error
	})
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// FindOrCreatePrivate 查找两人之间的私聊，不存在时创建。
func (s *ChatService) FindOrCreatePrivate(ctx context.Context, userID, otherID uint) (*models.Chat, bool, error) {
	if userID == otherID {
		return nil, false, errors.Join(ErrInvalidInput, errors.New("cannot open a private chat with yourself"))
	}
	var chat models.Chat
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var other models.User
		if err := tx.First(&other, otherID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		var found []models.Chat
		err := tx.Model(&models.Chat{}).
			Joins("JOIN chat_participants a ON a.chat_id = chats.id AND a.user_id = ?", userID).
			Joins("JOIN chat_participants b ON b.chat_id = chats.id AND b.user_id = ?", otherID).
			Where("chats.type = ?", models.ChatPrivate).
			Order("chats.id asc").
			Limit(1).
			Find(&found).Error
		if err != nil {
			return err
		}
		if len(found) > 0 {
			chat = found[0]
			if err := tx.Model(&models.Chat{}).Where("id = ?", chat.ID).Update("is_active", true).Error; err != nil {
				return err
			}
			chat.IsActive = true
			return tx.Model(&models.ChatParticipant{}).
				Where("chat_id = ? AND user_id IN ?", chat.ID, []uint{userID, otherID}).
				Update("is_active", true).Error
		}
		chat = models.Chat{Name: other.Username, Type: models.ChatPrivate, CreatedBy: userID, IsActive: true}
		if err := tx.Create(&chat).Error; err != nil {
			return err
		}
		created = true
		return tx.Create([]models.ChatParticipant{
			{ChatID: chat.ID, UserID: userID, Role: models.ParticipantMember, IsActive: true},
			{ChatID: chat.ID, UserID: otherID, Role: models.ParticipantMember, IsActive: true},
		}).Error
	})
	if err != nil {
		return nil, false, err
	}
	return &chat, created, nil
}

func canManage(role string) bool {
	return role == models.ParticipantOwner || role == models.ParticipantAdmin
}

// AddParticipant 由 owner/admin 添加成员；曾经离开的成员会被重新激活。
func (s *ChatService) AddParticipant(ctx context.Context, actorID, chatID, userID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chat, err := s.chat(tx, chatID)
		if err != nil {
			return err
		}
		if chat.Type == models.ChatFavorites {
			return ErrFavoritesImmutable
		}
		actor, err := s.participant(tx, chatID, actorID)
		if errors.Is(err, ErrNotParticipant) {
			return ErrPermissionDenied
		}
		if err != nil {
			return err
		}
		if !canManage(actor.Role) {
			return ErrPermissionDenied
		}
		var target models.User
		if err := tx.First(&target, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		var existing models.ChatParticipant
		err = tx.Where("chat_id = ? AND user_id = ?", chatID, userID).First(&existing).Error
		switch {
		case err == nil:
			if existing.IsActive {
				return nil
			}
			return tx.Model(&existing).Updates(map[string]any{"is_active": true, "role": models.ParticipantMember}).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&models.ChatParticipant{ChatID: chatID, UserID: userID, Role: models.ParticipantMember, IsActive: true}).Error
		default:
			return err
		}
	})
}

// RemoveParticipant 允许成员自己退出，或由 owner/admin 移除他人；owner 不能被移除。
func (s *ChatService) RemoveParticipant(ctx context.Context, actorID, chatID, userID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chat, err := s.chat(tx, chatID)
		if err != nil {
			return err
		}
		if chat.Type == models.ChatFavorites {
			return ErrFavoritesImmutable
		}
		target, err := s.participant(tx, chatID, userID)
		if err != nil {
			return err
		}
		if target.Role == models.ParticipantOwner {
			return ErrPermissionDenied
		}
		if actorID != userID {
			actor, err := s.participant(tx, chatID, actorID)
			if errors.Is(err, ErrNotParticipant) {
				return ErrPermissionDenied
			}
			if err != nil {
				return err
			}
			if !canManage(actor.Role) {
				return ErrPermissionDenied
			}
		}
		return tx.Model(target).Update("is_active", false).Error
	})
}

// MarkRead 把用户在该会话的已读水位推进到当前时间。
func (s *ChatService) MarkRead(ctx context.Context, chatID, userID uint) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&models.ChatParticipant{}).
		Where("chat_id = ? AND user_id = ? AND is_active = ?", chatID, userID, true).
		Update("last_read_at", now)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotParticipant
	}
	return nil
}

// loadUsers 批量加载用户的公开信息，已删除的用户也会返回。
func loadUsers(db *gorm.DB, ids []uint) (map[uint]PublicUser, error) {
	seen := make(map[uint]struct{}, len(ids))
	uniq := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		uniq = append(uniq, id)
	}
	out := make(map[uint]PublicUser, len(uniq))
	if len(uniq) == 0 {
		return out, nil
	}
	var users []models.User
	if err := db.Unscoped().Where("id IN ?", uniq).Find(&users).Error; err != nil {
		return nil, err
	}
	for i := range users {
		out[users[i].ID] = NewPublicUser(&users[i])
	}
	return out, nil
}
