package server

import (
	"net/http"
	"strconv"

	"messenger/internal/auth"
	"messenger/internal/models"
	"messenger/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) ListChats(c *gin.Context) {
	chats, err := h.chats.ListForUser(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		fail(c, err, "list chats")
		return
	}
	c.JSON(http.StatusOK, chats)
}

// CreateChat 只创建群聊，私聊走 /chats/private。
func (h *Handler) CreateChat(c *gin.Context) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Type        string `json:"type"`
	}
	if !bind(c, &req) {
		return
	}
	if req.Type != "" && req.Type != models.ChatGroup {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only group chats can be created here"})
		return
	}
	chat, err := h.chats.CreateGroup(c.Request.Context(), auth.GetUserID(c), req.Name, req.Description)
	if err != nil {
		fail(c, err, "create chat")
		return
	}
	c.JSON(http.StatusOK, service.NewChatView(chat))
}

func (h *Handler) CreatePrivateChat(c *gin.Context) {
	var req struct {
		UserID uint `json:"userId"`
	}
	if !bind(c, &req) {
		return
	}
	chat, created, err := h.chats.FindOrCreatePrivate(c.Request.Context(), auth.GetUserID(c), req.UserID)
	if err != nil {
		fail(c, err, "create private chat")
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": service.NewChatView(chat), "created": created})
}

func (h *Handler) ListParticipants(c *gin.Context) {
	chatID, ok := idParam(c, "chatId")
	if !ok || !h.requireMember(c, chatID) {
		return
	}
	parts, err := h.chats.Participants(c.Request.Context(), chatID)
	if err != nil {
		fail(c, err, "list participants")
		return
	}
	c.JSON(http.StatusOK, parts)
}

func (h *Handler) AddParticipant(c *gin.Context) {
	chatID, ok := idParam(c, "chatId")
	if !ok {
		return
	}
	var req struct {
		UserID uint `json:"userId"`
	}
	if !bind(c, &req) {
		return
	}
	if err := h.chats.AddParticipant(c.Request.Context(), auth.GetUserID(c), chatID, req.UserID); err != nil {
		fail(c, err, "add participant")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user added to chat"})
}

func (h *Handler) RemoveParticipant(c *gin.Context) {
	chatID, ok := idParam(c, "chatId")
	if !ok {
		return
	}
	userID, ok := idParam(c, "userId")
	if !ok {
		return
	}
	if err := h.chats.RemoveParticipant(c.Request.Context(), auth.GetUserID(c), chatID, userID); err != nil {
		fail(c, err, "remove participant")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user removed from chat"})
}

func (h *Handler) ListMessages(c *gin.Context) {
	chatID, ok := idParam(c, "chatId")
	if !ok || !h.requireMember(c, chatID) {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	msgs, err := h.messages.List(c.Request.Context(), chatID, limit, offset)
	if err != nil {
		fail(c, err, "list messages")
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// PostMessage 是消息的 HTTP 写入路径，不会触发实时推送。
func (h *Handler) PostMessage(c *gin.Context) {
	chatID, ok := idParam(c, "chatId")
	if !ok || !h.requireMember(c, chatID) {
		return
	}
	var req struct {
		Content string `json:"content"`
		ReplyTo *uint  `json:"replyTo"`
	}
	if !bind(c, &req) {
		return
	}
	msg, err := h.messages.Post(c.Request.Context(), chatID, auth.GetUserID(c), req.Content, req.ReplyTo)
	if err != nil {
		fail(c, err, "post message")
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *Handler) EditMessage(c *gin.Context) {
	chatID, ok := idParam(c, "chatId")
	if !ok || !h.requireMember(c, chatID) {
		return
	}
	messageID, ok := idParam(c, "messageId")
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if !bind(c, &req) {
		return
	}
	msg, err := h.messages.Edit(c.Request.Context(), chatID, messageID, auth.GetUserID(c), req.Content)
	if err != nil {
		fail(c, err, "edit message")
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *Handler) DeleteMessage(c *gin.Context) {
	chatID, ok := idParam(c, "chatId")
	if !ok || !h.requireMember(c, chatID) {
		return
	}
	messageID, ok := idParam(c, "messageId")
	if !ok {
		return
	}
	if err := h.messages.Delete(c.Request.Context(), chatID, messageID, auth.GetUserID(c)); err != nil {
		fail(c, err, "delete message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "message deleted"})
}

func (h *Handler) ToggleReaction(c *gin.Context) {
	chatID, ok := idParam(c, "chatId")
	if !ok || !h.requireMember(c, chatID) {
		return
	}
	messageID, ok := idParam(c, "messageId")
	if !ok {
		return
	}
	var req struct {
		Emoji string `json:"emoji"`
	}
	if !bind(c, &req) {
		return
	}
	active, groups, err := h.messages.ToggleReaction(c.Request.Context(), chatID, messageID, auth.GetUserID(c), req.Emoji)
	if err != nil {
		fail(c, err, "toggle reaction")
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": active, "reactions": groups})
}

func (h *Handler) ListReactions(c *gin.Context) {
	chatID, ok := idParam(c, "chatId")
	if !ok || !h.requireMember(c, chatID) {
		return
	}
	messageID, ok := idParam(c, "messageId")
	if !ok {
		return
	}
	groups, err := h.messages.Reactions(c.Request.Context(), chatID, messageID)
	if err != nil {
		fail(c, err, "list reactions")
		return
	}
	c.JSON(http.StatusOK, groups)
}

func (h *Handler) MarkRead(c *gin.Context) {
	chatID, ok := idParam(c, "chatId")
	if !ok {
		return
	}
	if err := h.chats.MarkRead(c.Request.Context(), chatID, auth.GetUserID(c)); err != nil {
		fail(c, err, "mark read")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "marked as read"})
}

func (h *Handler) ListFavorites(c *gin.Context) {
	favs, err := h.favorites.List(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		fail(c, err, "list favorites")
		return
	}
	c.JSON(http.StatusOK, favs)
}

func (h *Handler) AddFavorite(c *gin.Context) {
	var req struct {
		MessageID uint `json:"messageId"`
	}
	if !bind(c, &req) {
		return
	}
	fav, err := h.favorites.Add(c.Request.Context(), auth.GetUserID(c), req.MessageID)
	if err != nil {
		fail(c, err, "add favorite")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": fav.ID, "messageId": fav.MessageID, "createdAt": fav.CreatedAt})
}

func (h *Handler) RemoveFavorite(c *gin.Context) {
	messageID, ok := idParam(c, "messageId")
	if !ok {
		return
	}
	if err := h.favorites.Remove(c.Request.Context(), auth.GetUserID(c), messageID); err != nil {
		fail(c, err, "remove favorite")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "removed from favorites"})
}
