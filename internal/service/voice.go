package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"messenger/internal/auth"
	"messenger/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultVoiceCapacity = 10

// VoiceService 只维护语音房间的成员与静音元数据，不涉及音频传输。
type VoiceService struct {
	db        *gorm.DB
	chats     *ChatService
	secret    string
	inviteTTL time.Duration
}

func NewVoiceService(db *gorm.DB, chats *ChatService, secret string, inviteTTL time.Duration) *VoiceService {
	return &VoiceService{db: db, chats: chats, secret: secret, inviteTTL: inviteTTL}
}

func (s *VoiceService) room(db *gorm.DB, roomID uint) (*models.VoiceRoom, error) {
	var room models.VoiceRoom
	err := db.Where("id = ? AND is_active = ?", roomID, true).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrVoiceRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *VoiceService) List(ctx context.Context) ([]VoiceRoomView, error) {
	db := s.db.WithContext(ctx)
	var rooms []models.VoiceRoom
	if err := db.Where("is_active = ?", true).Order("id asc").Find(&rooms).Error; err != nil {
		return nil, err
	}
	roomIDs := make([]uint, 0, len(rooms))
	for _, r := range rooms {
		roomIDs = append(roomIDs, r.ID)
	}
	var parts []models.VoiceRoomParticipant
	if len(roomIDs) > 0 {
		if err := db.Where("room_id IN ?", roomIDs).Order("joined_at asc, id asc").Find(&parts).Error; err != nil {
			return nil, err
		}
	}
	userIDs := make([]uint, 0, len(parts))
	for _, p := range parts {
		userIDs = append(userIDs, p.UserID)
	}
	users, err := loadUsers(db, userIDs)
	if err != nil {
		return nil, err
	}
	byRoom := make(map[uint][]VoiceParticipantView, len(rooms))
	for _, p := range parts {
		byRoom[p.RoomID] = append(byRoom[p.RoomID], VoiceParticipantView{
			UserID:   p.UserID,
			Username: users[p.UserID].Username,
			IsMuted:  p.IsMuted,
			JoinedAt: p.JoinedAt,
		})
	}
	out := make([]VoiceRoomView, 0, len(rooms))
	for i := range rooms {
		v := NewVoiceRoomView(&rooms[i])
		if ps := byRoom[rooms[i].ID]; ps != nil {
			v.Participants = ps
		}
		out = append(out, v)
	}
	return out, nil
}

// Create 创建语音房间；绑定会话时创建者必须是该会话成员，容量默认为 10。
func (s *VoiceService) Create(ctx context.Context, creatorID uint, name string, chatID *uint, maxParticipants int) (*models.VoiceRoom, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.Join(ErrInvalidInput, errors.New("room name is empty"))
	}
	if maxParticipants <= 0 {
		maxParticipants = defaultVoiceCapacity
	}
	if maxParticipants > 100 {
		return nil, errors.Join(ErrInvalidInput, errors.New("maxParticipants must be at most 100"))
	}
	if chatID != nil {
		ok, err := s.chats.IsMember(ctx, *chatID, creatorID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNotParticipant
		}
	}
	room := models.VoiceRoom{Name: name, ChatID: chatID, MaxParticipants: maxParticipants, IsActive: true, CreatedBy: creatorID}
	if err := s.db.WithContext(ctx).Create(&room).Error; err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *VoiceService) checkAccess(ctx context.Context, room *models.VoiceRoom, userID uint) error {
	if room.ChatID == nil || room.CreatedBy == userID {
		return nil
	}
	ok, err := s.chats.IsMember(ctx, *room.ChatID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotParticipant
	}
	return nil
}

// Join 加入房间；重复加入是幂等的，绑定会话的房间要求会话成员身份。
func (s *VoiceService) Join(ctx context.Context, roomID, userID uint) error {
	room, err := s.room(s.db.WithContext(ctx), roomID)
	if err != nil {
		return err
	}
	if err := s.checkAccess(ctx, room, userID); err != nil {
		return err
	}
	return s.join(ctx, roomID, userID)
}

// join 在锁住房间行的事务里检查容量。
func (s *VoiceService) join(ctx context.Context, roomID, userID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room models.VoiceRoom
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND is_active = ?", roomID, true).
			First(&room).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrVoiceRoomNotFound
		}
		if err != nil {
			return err
		}
		var n int64
		if err := tx.Model(&models.VoiceRoomParticipant{}).Where("room_id = ? AND user_id = ?", roomID, userID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		if err := tx.Model(&models.VoiceRoomParticipant{}).Where("room_id = ?", roomID).Count(&n).Error; err != nil {
			return err
		}
		if n >= int64(room.MaxParticipants) {
			return ErrVoiceRoomFull
		}
		return tx.Create(&models.VoiceRoomParticipant{RoomID: roomID, UserID: userID}).Error
	})
}

func (s *VoiceService) Leave(ctx context.Context, roomID, userID uint) error {
	return s.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Delete(&models.VoiceRoomParticipant{}).Error
}

func (s *VoiceService) SetMuted(ctx context.Context, roomID, userID uint, muted bool) error {
	res := s.db.WithContext(ctx).Model(&models.VoiceRoomParticipant{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Update("is_muted", muted)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotParticipant
	}
	return nil
}

// Invite 为指定用户签发房间邀请，邀请人本身必须有权进入该房间。
func (s *VoiceService) Invite(ctx context.Context, roomID, inviterID, inviteeID uint) (string, error) {
	db := s.db.WithContext(ctx)
	room, err := s.room(db, roomID)
	if err != nil {
		return "", err
	}
	if err := s.checkAccess(ctx, room, inviterID); err != nil {
		return "", err
	}
	var invitee models.User
	if err := db.First(&invitee, inviteeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrUserNotFound
		}
		return "", err
	}
	return auth.GenerateInviteToken(roomID, inviteeID, inviterID, s.secret, s.inviteTTL)
}

// AcceptInvite 凭邀请加入房间，不再要求会话成员身份，但仍受容量限制。
func (s *VoiceService) AcceptInvite(ctx context.Context, userID uint, token string) (uint, error) {
	claims, err := auth.ParseInviteToken(token, s.secret)
	if err != nil {
		return 0, err
	}
	if claims.UserID != userID {
		return 0, ErrInvalidInvite
	}
	if err := s.join(ctx, claims.RoomID, userID); err != nil {
		return 0, err
	}
	return claims.RoomID, nil
}
