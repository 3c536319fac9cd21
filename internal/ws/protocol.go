package ws

import (
	"errors"

	"messenger/internal/service"
)

// 实时层错误分类，读循环按类别决定日志级别，均不会终止连接。
var (
	ErrAuth      = errors.New("authentication failed")
	ErrForbidden = errors.New("not a member of the chat")
	ErrStore     = errors.New("store failure")
	ErrTransport = errors.New("transport failure")
	ErrProtocol  = errors.New("malformed frame")
)

const (
	FrameAuth        = "auth"
	FrameMessage     = "message"
	FrameSendMessage = "send_message"
	FrameTyping      = "typing"
	FrameNewMessage  = "newMessage"
)

type inboundFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	ChatID    uint   `json:"chatId"`
	Content   string `json:"content"`
	IsTyping  bool   `json:"isTyping"`
}

type newMessageFrame struct {
	Type    string               `json:"type"`
	Message *service.MessageView `json:"message"`
}

type typingFrame struct {
	Type     string `json:"type"`
	ChatID   uint   `json:"chatId"`
	UserID   uint   `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}
