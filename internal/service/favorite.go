package service

import (
	"context"
	"errors"

	"messenger/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FavoriteService 管理用户的消息书签。收藏时要求是消息所在会话的成员，之后退出会话书签仍保留。
type FavoriteService struct {
	db    *gorm.DB
	chats *ChatService
}

func NewFavoriteService(db *gorm.DB, chats *ChatService) *FavoriteService {
	return &FavoriteService{db: db, chats: chats}
}

func (s *FavoriteService) List(ctx context.Context, userID uint) ([]FavoriteView, error) {
	db := s.db.WithContext(ctx)
	var favs []models.Favorite
	if err := db.Where("user_id = ?", userID).Order("created_at desc, id desc").Find(&favs).Error; err != nil {
		return nil, err
	}
	msgIDs := make([]uint, 0, len(favs))
	for _, f := range favs {
		msgIDs = append(msgIDs, f.MessageID)
	}
	var msgs []models.Message
	if len(msgIDs) > 0 {
		if err := db.Where("id IN ? AND is_deleted = ?", msgIDs, false).Find(&msgs).Error; err != nil {
			return nil, err
		}
	}
	byID := make(map[uint]*models.Message, len(msgs))
	senderIDs := make([]uint, 0, len(msgs))
	for i := range msgs {
		byID[msgs[i].ID] = &msgs[i]
		senderIDs = append(senderIDs, msgs[i].SenderID)
	}
	senders, err := loadUsers(db, senderIDs)
	if err != nil {
		return nil, err
	}

	out := make([]FavoriteView, 0, len(favs))
	for _, f := range favs {
		m, ok := byID[f.MessageID]
		if !ok {
			continue
		}
		out = append(out, FavoriteView{
			ID:        f.ID,
			MessageID: f.MessageID,
			CreatedAt: f.CreatedAt,
			Message:   newMessageView(m, senders[m.SenderID]),
		})
	}
	return out, nil
}

// Add 收藏消息，重复收藏不会报错；只能收藏自己所在会话里的消息。
func (s *FavoriteService) Add(ctx context.Context, userID, messageID uint) (*models.Favorite, error) {
	db := s.db.WithContext(ctx)
	var msg models.Message
	err := db.Where("id = ? AND is_deleted = ?", messageID, false).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	ok, err := s.chats.IsMember(ctx, msg.ChatID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotParticipant
	}
	fav := models.Favorite{UserID: userID, MessageID: messageID}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&fav).Error; err != nil {
		return nil, err
	}
	var stored models.Favorite
	err = db.Where("user_id = ? AND message_id = ?", userID, messageID).First(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func (s *FavoriteService) Remove(ctx context.Context, userID, messageID uint) error {
	return s.db.WithContext(ctx).Where("user_id = ? AND message_id = ?", userID, messageID).Delete(&models.Favorite{}).Error
}
