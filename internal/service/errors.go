package service

import (
	"errors"

	"messenger/internal/auth"
)

// 业务层通用错误，handler 可根据错误类型映射到合适的 HTTP 状态码。
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrUsernameTaken      = errors.New("username taken")
	ErrEmailTaken         = errors.New("email taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionNotFound    = errors.New("session not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrChatNotFound       = errors.New("chat not found")
	ErrMessageNotFound    = errors.New("message not found")
	ErrNotParticipant     = errors.New("not a participant")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrFavoritesImmutable = errors.New("favorites chat membership is fixed")
	ErrVoiceRoomNotFound  = errors.New("voice room not found")
	ErrVoiceRoomFull      = errors.New("voice room is full")
	ErrInvalidRole        = errors.New("invalid role")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrInvalidInvite      = auth.ErrInvalidInvite
)
