package service

import (
	"context"
	"errors"
	"time"

	"messenger/internal/auth"
	"messenger/internal/models"

	"gorm.io/gorm"
)

// SessionService 维护不透明 token 到用户 ID 的映射。
type SessionService struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

func NewSessionService(db *gorm.DB, ttl time.Duration) *SessionService {
	return &SessionService{db: db, ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

func (s *SessionService) Create(ctx context.Context, userID uint) (string, error) {
	sess := models.Session{
		Token:     auth.NewSessionToken(),
		UserID:    userID,
		ExpiresAt: s.now().Add(s.ttl),
	}
	if err := s.db.WithContext(ctx).Create(&sess).Error; err != nil {
		return "", err
	}
	return sess.Token, nil
}

// Resolve 返回 token 对应的用户；不存在或已过期都返回 ErrSessionNotFound。
func (s *SessionService) Resolve(ctx context.Context, token string) (uint, error) {
	if token == "" {
		return 0, ErrSessionNotFound
	}
	var sess models.Session
	err := s.db.WithContext(ctx).
		Where("token = ? AND expires_at > ?", token, s.now()).
		First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrSessionNotFound
	}
	if err != nil {
		return 0, err
	}
	return sess.UserID, nil
}

func (s *SessionService) Delete(ctx context.Context, token string) error {
	return s.db.WithContext(ctx).Where("token = ?", token).Delete(&models.Session{}).Error
}

// Purge 清理已过期的会话，返回删除的行数。
func (s *SessionService) Purge(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", s.now()).Delete(&models.Session{})
	return res.RowsAffected, res.Error
}
