package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"messenger/internal/models"

	"gorm.io/gorm"
)

// MaxContentLength 是单条消息允许的最大字符数。
const MaxContentLength = 4000

// ValidateContent 拒绝空白或超长的消息内容。
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.Join(ErrInvalidInput, errors.New("content is empty"))
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return errors.Join(ErrInvalidInput, errors.New("content is too long"))
	}
	return nil
}

// MessageService 封装消息相关的业务逻辑。
type MessageService struct {
	db    *gorm.DB
	chats *ChatService
}

func NewMessageService(db *gorm.DB, chats *ChatService) *MessageService {
	return &MessageService{db: db, chats: chats}
}

// Append 持久化一条文本消息，实时层通过它写入。
func (s *MessageService) Append(ctx context.Context, chatID, senderID uint, content string) (*MessageView, error) {
	return s.Post(ctx, chatID, senderID, content, nil)
}

// Post 写入消息并刷新会话的 updated_at；replyTo 必须指向同一会话的消息。
func (s *MessageService) Post(ctx context.Context, chatID, senderID uint, content string, replyTo *uint) (*MessageView, error) {
	if err := ValidateContent(content); err != nil {
		return nil, err
	}
	msg := models.Message{ChatID: chatID, SenderID: senderID, Content: content, MessageType: "text", ReplyTo: replyTo}
	var sender PublicUser
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if replyTo != nil {
			var n int64
			if err := tx.Model(&models.Message{}).Where("id = ? AND chat_id = ?", *replyTo, chatID).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return ErrMessageNotFound
			}
		}
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Chat{}).Where("id = ?", chatID).UpdateColumn("updated_at", msg.CreatedAt).Error; err != nil {
			return err
		}
		users, err := loadUsers(tx, []uint{senderID})
		if err != nil {
			return err
		}
		sender = users[senderID]
		return nil
	})
	if err != nil {
		return nil, err
	}
	v := newMessageView(&msg, sender)
	return &v, nil
}

// List 分页查询会话消息，offset 从最新一条往前数，结果按时间升序返回。
func (s *MessageService) List(ctx context.Context, chatID uint, limit, offset int) ([]MessageView, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	db := s.db.WithContext(ctx)
	var msgs []models.Message
	err := db.Where("chat_id = ? AND is_deleted = ?", chatID, false).
		Order("created_at desc, id desc").
		Limit(limit).
		Offset(offset).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}

	// 反转为升序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	senderIDs := make([]uint, 0, len(msgs))
	msgIDs := make([]uint, 0, len(msgs))
	for _, m := range msgs {
		senderIDs = append(senderIDs, m.SenderID)
		msgIDs = append(msgIDs, m.ID)
	}
	senders, err := loadUsers(db, senderIDs)
	if err != nil {
		return nil, err
	}
	reactions, err := groupReactions(db, msgIDs)
	if err != nil {
		return nil, err
	}

	out := make([]MessageView, 0, len(msgs))
	for i := range msgs {
		v := newMessageView(&msgs[i], senders[msgs[i].SenderID])
		v.Reactions = reactions[msgs[i].ID]
		out = append(out, v)
	}
	return out, nil
}

func (s *MessageService) find(db *gorm.DB, chatID, messageID uint) (*models.Message, error) {
	var msg models.Message
	err := db.Where("id = ? AND chat_id = ? AND is_deleted = ?", messageID, chatID, false).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// Edit 只允许发送者修改内容。
func (s *MessageService) Edit(ctx context.Context, chatID, messageID, actorID uint, content string) (*MessageView, error) {
	if err := ValidateContent(content); err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	msg, err := s.find(db, chatID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != actorID {
		return nil, ErrPermissionDenied
	}
	if err := db.Model(msg).Updates(map[string]any{"content": content, "is_edited": true}).Error; err != nil {
		return nil, err
	}
	msg.Content, msg.IsEdited = content, true
	senders, err := loadUsers(db, []uint{msg.SenderID})
	if err != nil {
		return nil, err
	}
	v := newMessageView(msg, senders[msg.SenderID])
	return &v, nil
}

// Delete 软删除消息，发送者本人或会话的 owner/admin 可以操作。
func (s *MessageService) Delete(ctx context.Context, chatID, messageID, actorID uint) error {
	db := s.db.WithContext(ctx)
	msg, err := s.find(db, chatID, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != actorID {
		p, err := s.chats.participant(db, chatID, actorID)
		if errors.Is(err, ErrNotParticipant) {
			return ErrPermissionDenied
		}
		if err != nil {
			return err
		}
		if !canManage(p.Role) {
			return ErrPermissionDenied
		}
	}
	return db.Model(msg).Update("is_deleted", true).Error
}

// ToggleReaction 同一用户重复添加相同表情会撤销它，返回切换后是否存在以及最新的汇总。
func (s *MessageService) ToggleReaction(ctx context.Context, chatID, messageID, userID uint, emoji string) (bool, []ReactionGroup, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > 16 {
		return false, nil, errors.Join(ErrInvalidInput, errors.New("invalid emoji"))
	}
	db := s.db.WithContext(ctx)
	if _, err := s.find(db, chatID, messageID); err != nil {
		return false, nil, err
	}
	active := false
	err := db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).Delete(&models.MessageReaction{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		active = true
		err := tx.Create(&models.MessageReaction{MessageID: messageID, UserID: userID, Emoji: emoji}).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil
		}
		return err
	})
	if err != nil {
		return false, nil, err
	}
	groups, err := s.Reactions(ctx, chatID, messageID)
	return active, groups, err
}

func (s *MessageService) Reactions(ctx context.Context, chatID, messageID uint) ([]ReactionGroup, error) {
	db := s.db.WithContext(ctx)
	if _, err := s.find(db, chatID, messageID); err != nil {
		return nil, err
	}
	grouped, err := groupReactions(db, []uint{messageID})
	if err != nil {
		return nil, err
	}
	if g := grouped[messageID]; g != nil {
		return g, nil
	}
	return []ReactionGroup{}, nil
}

// groupReactions 按消息和表情聚合，表情顺序取首次出现的时间。
func groupReactions(db *gorm.DB, messageIDs []uint) (map[uint][]ReactionGroup, error) {
	out := make(map[uint][]ReactionGroup, len(messageIDs))
	if len(messageIDs) == 0 {
		return out, nil
	}
	var rs []models.MessageReaction
	if err := db.Where("message_id IN ?", messageIDs).Order("id asc").Find(&rs).Error; err != nil {
		return nil, err
	}
	for _, r := range rs {
		groups := out[r.MessageID]
		idx := -1
		for i := range groups {
			if groups[i].Emoji == r.Emoji {
				idx = i
				break
			}
		}
		if idx < 0 {
			groups = append(groups, ReactionGroup{Emoji: r.Emoji})
			idx = len(groups) - 1
		}
		groups[idx].Count++
		groups[idx].UserIDs = append(groups[idx].UserIDs, r.UserID)
		out[r.MessageID] = groups
	}
	return out, nil
}
