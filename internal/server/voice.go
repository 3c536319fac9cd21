package server

import (
	"net/http"

	"messenger/internal/auth"
	"messenger/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) ListVoiceRooms(c *gin.Context) {
	rooms, err := h.voice.List(c.Request.Context())
	if err != nil {
		fail(c, err, "list voice rooms")
		return
	}
	c.JSON(http.StatusOK, rooms)
}

func (h *Handler) CreateVoiceRoom(c *gin.Context) {
	var req struct {
		Name            string `json:"name"`
		ChatID          *uint  `json:"chatId"`
		MaxParticipants int    `json:"maxParticipants"`
	}
	if !bind(c, &req) {
		return
	}
	room, err := h.voice.Create(c.Request.Context(), auth.GetUserID(c), req.Name, req.ChatID, req.MaxParticipants)
	if err != nil {
		fail(c, err, "create voice room")
		return
	}
	c.JSON(http.StatusOK, service.NewVoiceRoomView(room))
}

func (h *Handler) JoinVoiceRoom(c *gin.Context) {
	roomID, ok := idParam(c, "roomId")
	if !ok {
		return
	}
	if err := h.voice.Join(c.Request.Context(), roomID, auth.GetUserID(c)); err != nil {
		fail(c, err, "join voice room")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "joined voice room"})
}

func (h *Handler) LeaveVoiceRoom(c *gin.Context) {
	roomID, ok := idParam(c, "roomId")
	if !ok {
		return
	}
	if err := h.voice.Leave(c.Request.Context(), roomID, auth.GetUserID(c)); err != nil {
		fail(c, err, "leave voice room")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "left voice room"})
}

func (h *Handler) MuteVoice(c *gin.Context) {
	roomID, ok := idParam(c, "roomId")
	if !ok {
		return
	}
	var req struct {
		Muted bool `json:"muted"`
	}
	if !bind(c, &req) {
		return
	}
	if err := h.voice.SetMuted(c.Request.Context(), roomID, auth.GetUserID(c), req.Muted); err != nil {
		fail(c, err, "mute")
		return
	}
	c.JSON(http.StatusOK, gin.H{"muted": req.Muted})
}

func (h *Handler) InviteToVoiceRoom(c *gin.Context) {
	roomID, ok := idParam(c, "roomId")
	if !ok {
		return
	}
	var req struct {
		UserID uint `json:"userId"`
	}
	if !bind(c, &req) {
		return
	}
	token, err := h.voice.Invite(c.Request.Context(), roomID, auth.GetUserID(c), req.UserID)
	if err != nil {
		fail(c, err, "invite")
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (h *Handler) AcceptVoiceInvite(c *gin.Context) {
	var req struct {
		Token string `json:"token"`
	}
	if !bind(c, &req) {
		return
	}
	roomID, err := h.voice.AcceptInvite(c.Request.Context(), auth.GetUserID(c), req.Token)
	if err != nil {
		fail(c, err, "accept invite")
		return
	}
	c.JSON(http.StatusOK, gin.H{"roomId": roomID})
}
