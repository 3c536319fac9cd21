package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"messenger/internal/auth"
	"messenger/internal/models"

	"gorm.io/gorm"
)

const favoritesChatName = "Избранное"

// UserService 封装用户相关的业务逻辑，同时负责在线状态的持久化。
type UserService struct {
	db *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

type RegisterInput struct {
	Username string
	Email    string
	Password string
}

func (in RegisterInput) validate() error {
	n := utf8.RuneCountInString(in.Username)
	if n < 3 || n > 32 {
		return errors.Join(ErrInvalidInput, errors.New("username must be 3-32 characters"))
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return errors.Join(ErrInvalidInput, errors.New("invalid email"))
	}
	if len(in.Password) < 6 || len(in.Password) > 72 {
		return errors.Join(ErrInvalidInput, errors.New("password must be 6-72 bytes"))
	}
	return nil
}

// Register 创建用户并为其建立收藏夹会话。
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := in.validate(); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := models.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Status:       models.StatusOffline,
		Role:         models.RoleUser,
		LastSeen:     time.Now().UTC(),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkUnique(tx, in.Username, in.Email); err != nil {
			return err
		}
		if err := tx.Create(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrUsernameTaken
			}
			return err
		}
		chat := models.Chat{Name: favoritesChatName, Type: models.ChatFavorites, CreatedBy: user.ID, IsActive: true}
		if err := tx.Create(&chat).Error; err != nil {
			return err
		}
		return tx.Create(&models.ChatParticipant{
			ChatID:   chat.ID,
			UserID:   user.ID,
			Role:     models.ParticipantOwner,
			IsActive: true,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func checkUnique(tx *gorm.DB, username, email string) error {
	var n int64
	if err := tx.Unscoped().Model(&models.User{}).Where("email = ?", email).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return ErrEmailTaken
	}
	if err := tx.Unscoped().Model(&models.User{}).Where("username = ?", username).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return ErrUsernameTaken
	}
	return nil
}

// Authenticate 按邮箱或用户名查找用户并校验密码。
func (s *UserService) Authenticate(ctx context.Context, identifier, password string) (*models.User, error) {
	identifier = strings.TrimSpace(identifier)
	var user models.User
	err := s.db.WithContext(ctx).
		Where("email = ? OR username = ?", strings.ToLower(identifier), identifier).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

func (s *UserService) UserByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Search 按用户名或邮箱做子串匹配，结果不包含调用者自己。
func (s *UserService) Search(ctx context.Context, query string, excludeID uint, limit int) ([]models.User, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return []models.User{}, nil
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	like := "%" + query + "%"
	var users []models.User
	err := s.db.WithContext(ctx).
		Where("(LOWER(username) LIKE ? OR LOWER(email) LIKE ?) AND id <> ?", like, like, excludeID).
		Order("username asc").
		Limit(limit).
		Find(&users).Error
	return users, err
}

// ProfileUpdate 中为 nil 的字段保持不变。
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
	Avatar    *string
	Theme     *string
	Status    *string
}

func (s *UserService) UpdateProfile(ctx context.Context, id uint, in ProfileUpdate) (*models.User, error) {
	updates := map[string]any{}
	if in.FirstName != nil {
		updates["first_name"] = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		updates["last_name"] = strings.TrimSpace(*in.LastName)
	}
	if in.Avatar != nil {
		updates["avatar"] = *in.Avatar
	}
	if in.Theme != nil {
		updates["theme"] = *in.Theme
	}
	if in.Status != nil {
		switch *in.Status {
		case models.StatusOnline, models.StatusAway, models.StatusBusy:
			updates["status"] = *in.Status
		default:
			return nil, ErrInvalidStatus
		}
	}
	if len(updates) > 0 {
		res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, ErrUserNotFound
		}
	}
	return s.UserByID(ctx, id)
}

// SetOnline 记录用户上线。
func (s *UserService) SetOnline(ctx context.Context, id uint) error {
	return s.setPresence(ctx, id, true, models.StatusOnline)
}

// SetOffline 记录用户离线。
func (s *UserService) SetOffline(ctx context.Context, id uint) error {
	return s.setPresence(ctx, id, false, models.StatusOffline)
}

// ResetPresence 把所有仍标记为在线的用户置为离线，返回受影响的行数。
// 只适用于单实例部署：启动时本实例还没有任何连接。
func (s *UserService) ResetPresence(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("is_online = ?", true).Updates(map[string]any{
		"is_online": false,
		"status":    models.StatusOffline,
		"last_seen": time.Now().UTC(),
	})
	return res.RowsAffected, res.Error
}

func (s *UserService) setPresence(ctx context.Context, id uint, online bool, status string) error {
	return s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(map[string]any{
		"is_online": online,
		"status":    status,
		"last_seen": time.Now().UTC(),
	}).Error
}

func (s *UserService) List(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).Order("created_at asc").Find(&users).Error
	return users, err
}

func (s *UserService) SetRole(ctx context.Context, id uint, role string) error {
	if role != models.RoleUser && role != models.RoleAdmin {
		return ErrInvalidRole
	}
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("role", role)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DeleteUser 在一个事务中撤销用户的会话、收藏、表态、语音席位和会话成员身份，然后软删除账号。
func (s *UserService) DeleteUser(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&models.User{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}
		for _, m := range []any{&models.Session{}, &models.Favorite{}, &models.MessageReaction{}, &models.VoiceRoomParticipant{}} {
			if err := tx.Where("user_id = ?", id).Delete(m).Error; err != nil {
				return err
			}
		}
		if err := tx.Model(&models.ChatParticipant{}).Where("user_id = ?", id).Update("is_active", false).Error; err != nil {
			return err
		}
		return tx.Model(&models.Chat{}).
			Where("created_by = ? AND type = ?", id, models.ChatFavorites).
			Update("is_active", false).Error
	})
}

// EnsureAdmin 把已存在的账号提升为管理员，不存在时先注册。
func (s *UserService) EnsureAdmin(ctx context.Context, in RegisterInput) (*models.User, bool, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Where("username = ? OR email = ?", strings.TrimSpace(in.Username), strings.ToLower(strings.TrimSpace(in.Email))).
		First(&user).Error
	created := false
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		u, err := s.Register(ctx, in)
		if err != nil {
			return nil, false, err
		}
		user, created = *u, true
	case err != nil:
		return nil, false, err
	}
	if err := s.SetRole(ctx, user.ID, models.RoleAdmin); err != nil {
		return nil, false, err
	}
	user.Role = models.RoleAdmin
	return &user, created, nil
}

func (s *UserService) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	db := s.db.WithContext(ctx)
	if err := db.Model(&models.User{}).Count(&st.TotalUsers).Error; err != nil {
		return st, err
	}
	if err := db.Model(&models.Chat{}).Where("is_active = ?", true).Count(&st.ActiveChats).Error; err != nil {
		return st, err
	}
	if err := db.Model(&models.Chat{}).Where("is_active = ? AND type = ?", true, models.ChatGroup).Count(&st.TotalGroups).Error; err != nil {
		return st, err
	}
	if err := db.Model(&models.VoiceRoom{}).Where("is_active = ?", true).Count(&st.ActiveVoiceRooms).Error; err != nil {
		return st, err
	}
	return st, nil
}
