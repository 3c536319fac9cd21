package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"messenger/internal/auth"
	"messenger/internal/models"
	"messenger/internal/service"
	"messenger/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Deps 是 HTTP 层依赖的 service 集合。
type Deps struct {
	Users     *service.UserService
	Sessions  *service.SessionService
	Chats     *service.ChatService
	Messages  *service.MessageService
	Favorites *service.FavoriteService
	Voice     *service.VoiceService
	Registry  *ws.Registry
}

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	users     *service.UserService
	sessions  *service.SessionService
	chats     *service.ChatService
	messages  *service.MessageService
	favorites *service.FavoriteService
	voice     *service.VoiceService
	registry  *ws.Registry
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		users:     d.Users,
		sessions:  d.Sessions,
		chats:     d.Chats,
		messages:  d.Messages,
		favorites: d.Favorites,
		voice:     d.Voice,
		registry:  d.Registry,
	}
}

// sessionAuth 供鉴权中间件解析会话并加载用户。
type sessionAuth struct {
	sessions *service.SessionService
	users    *service.UserService
}

func (a sessionAuth) Resolve(ctx context.Context, token string) (uint, error) {
	return a.sessions.Resolve(ctx, token)
}

func (a sessionAuth) UserByID(ctx context.Context, id uint) (*models.User, error) {
	return a.users.UserByID(ctx, id)
}

// fail 把业务错误映射为 HTTP 状态码，未知错误记日志并返回 500。
func fail(c *gin.Context, err error, op string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrInvalidRole),
		errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, service.ErrInvalidInvite):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, service.ErrNotParticipant),
		errors.Is(err, service.ErrPermissionDenied),
		errors.Is(err, service.ErrFavoritesImmutable):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrChatNotFound),
		errors.Is(err, service.ErrMessageNotFound),
		errors.Is(err, service.ErrVoiceRoomNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrUsernameTaken),
		errors.Is(err, service.ErrEmailTaken),
		errors.Is(err, service.ErrVoiceRoomFull):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Uint("user_id", auth.GetUserID(c)).Str("op", op).Msg("request failed")
		c.JSON(status, gin.H{"error": op + " failed"})
		return
	}
	c.JSON(status, gin.H{"error": strings.ReplaceAll(err.Error(), "\n", ": ")})
}

func idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return false
	}
	return true
}

// requireMember 校验调用者是会话成员。
func (h *Handler) requireMember(c *gin.Context, chatID uint) bool {
	ok, err := h.chats.IsMember(c.Request.Context(), chatID, auth.GetUserID(c))
	if err != nil {
		fail(c, err, "check membership")
		return false
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		return false
	}
	return true
}

func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	user, err := h.users.Register(ctx, service.RegisterInput{Username: req.Username, Email: req.Email, Password: req.Password})
	if err != nil {
		fail(c, err, "register")
		return
	}
	token, err := h.sessions.Create(ctx, user.ID)
	if err != nil {
		fail(c, err, "create session")
		return
	}
	log.Info().Uint("user_id", user.ID).Str("username", user.Username).Msg("user registered")
	c.JSON(http.StatusOK, gin.H{"user": service.NewUserView(user), "sessionId": token})
}

// Login 支持用户名或邮箱登录。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
	if !bind(c, &req) {
		return
	}
	if strings.TrimSpace(req.Identifier) == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	ctx := c.Request.Context()
	user, err := h.users.Authenticate(ctx, req.Identifier, req.Password)
	if err != nil {
		fail(c, err, "login")
		return
	}
	token, err := h.sessions.Create(ctx, user.ID)
	if err != nil {
		fail(c, err, "create session")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": service.NewUserView(user), "sessionId": token})
}

func (h *Handler) Logout(c *gin.Context) {
	if err := h.sessions.Delete(c.Request.Context(), auth.GetSessionID(c)); err != nil {
		fail(c, err, "logout")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (h *Handler) Me(c *gin.Context) {
	u, _ := auth.GetUser(c)
	c.JSON(http.StatusOK, service.NewUserView(u))
}

func (h *Handler) SearchUsers(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	users, err := h.users.Search(c.Request.Context(), c.Query("q"), auth.GetUserID(c), limit)
	if err != nil {
		fail(c, err, "search users")
		return
	}
	c.JSON(http.StatusOK, service.NewUserViews(users))
}

// UpdateProfile 只接受展示相关字段，密码、角色、邮箱不在此修改。
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req struct {
		FirstName *string `json:"firstName"`
		LastName  *string `json:"lastName"`
		Avatar    *string `json:"avatar"`
		Theme     *string `json:"theme"`
		Status    *string `json:"status"`
	}
	if !bind(c, &req) {
		return
	}
	user, err := h.users.UpdateProfile(c.Request.Context(), auth.GetUserID(c), service.ProfileUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Avatar:    req.Avatar,
		Theme:     req.Theme,
		Status:    req.Status,
	})
	if err != nil {
		fail(c, err, "update profile")
		return
	}
	c.JSON(http.StatusOK, service.NewUserView(user))
}
