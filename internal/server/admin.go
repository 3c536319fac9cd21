package server

import (
	"net/http"

	"messenger/internal/auth"
	"messenger/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func (h *Handler) AdminListUsers(c *gin.Context) {
	users, err := h.users.List(c.Request.Context())
	if err != nil {
		fail(c, err, "list users")
		return
	}
	c.JSON(http.StatusOK, service.NewUserViews(users))
}

func (h *Handler) AdminSetRole(c *gin.Context) {
	userID, ok := idParam(c, "userId")
	if !ok {
		return
	}
	var req struct {
		Role string `json:"role"`
	}
	if !bind(c, &req) {
		return
	}
	if err := h.users.SetRole(c.Request.Context(), userID, req.Role); err != nil {
		fail(c, err, "update role")
		return
	}
	log.Info().Uint("admin_id", auth.GetUserID(c)).Uint("user_id", userID).Str("role", req.Role).Msg("role changed")
	c.JSON(http.StatusOK, gin.H{"message": "user role updated"})
}

// AdminDeleteUser 不允许管理员删除自己。
func (h *Handler) AdminDeleteUser(c *gin.Context) {
	userID, ok := idParam(c, "userId")
	if !ok {
		return
	}
	if userID == auth.GetUserID(c) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot delete yourself"})
		return
	}
	if err := h.users.DeleteUser(c.Request.Context(), userID); err != nil {
		fail(c, err, "delete user")
		return
	}
	log.Info().Uint("admin_id", auth.GetUserID(c)).Uint("user_id", userID).Msg("user deleted")
	c.JSON(http.StatusOK, gin.H{"message": "user deleted"})
}

func (h *Handler) AdminStats(c *gin.Context) {
	st, err := h.users.Stats(c.Request.Context())
	if err != nil {
		fail(c, err, "stats")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"totalUsers":       st.TotalUsers,
		"activeChats":      st.ActiveChats,
		"totalGroups":      st.TotalGroups,
		"activeVoiceRooms": st.ActiveVoiceRooms,
		"liveConnections":  h.registry.Len(),
	})
}
