package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"messenger/internal/auth"
	"messenger/internal/config"
	"messenger/internal/metrics"
	"messenger/internal/mw"
	"messenger/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, h *Handler, d *ws.Dispatcher, limiter *mw.Limiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env, cfg.CORSOrigins))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(mw.RateLimit(limiter))

	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)

	// 需要 Bearer 会话 token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(sessionAuth{sessions: h.sessions, users: h.users}))

	authed.POST("/auth/logout", h.Logout)
	authed.GET("/auth/user", h.Me)

	authed.GET("/users/search", h.SearchUsers)
	authed.PATCH("/users/profile", h.UpdateProfile)

	authed.GET("/chats", h.ListChats)
	authed.POST("/chats", h.CreateChat)
	authed.POST("/chats/private", h.CreatePrivateChat)
	authed.GET("/chats/:chatId/participants", h.ListParticipants)
	authed.POST("/chats/:chatId/participants", h.AddParticipant)
	authed.DELETE("/chats/:chatId/participants/:userId", h.RemoveParticipant)
	authed.GET("/chats/:chatId/messages", h.ListMessages)
	authed.POST("/chats/:chatId/messages", h.PostMessage)
	authed.POST("/chats/:chatId/messages/read", h.MarkRead)
	authed.PUT("/chats/:chatId/messages/:messageId", h.EditMessage)
	authed.DELETE("/chats/:chatId/messages/:messageId", h.DeleteMessage)
	authed.GET("/chats/:chatId/messages/:messageId/reactions", h.ListReactions)
	authed.POST("/chats/:chatId/messages/:messageId/reactions", h.ToggleReaction)

	authed.GET("/favorites", h.ListFavorites)
	authed.POST("/favorites", h.AddFavorite)
	authed.DELETE("/favorites/:messageId", h.RemoveFavorite)

	authed.GET("/voice-rooms", h.ListVoiceRooms)
	authed.POST("/voice-rooms", h.CreateVoiceRoom)
	authed.POST("/voice-rooms/invites/accept", h.AcceptVoiceInvite)
	authed.POST("/voice-rooms/:roomId/join", h.JoinVoiceRoom)
	authed.POST("/voice-rooms/:roomId/leave", h.LeaveVoiceRoom)
	authed.PATCH("/voice-rooms/:roomId/mute", h.MuteVoice)
	authed.POST("/voice-rooms/:roomId/invite", h.InviteToVoiceRoom)

	admin := authed.Group("/admin")
	admin.Use(auth.AdminOnly())
	admin.GET("/users", h.AdminListUsers)
	admin.PATCH("/users/:userId/role", h.AdminSetRole)
	admin.DELETE("/users/:userId", h.AdminDeleteUser)
	admin.GET("/stats", h.AdminStats)

	r.GET("/ws", ws.Serve(d, ws.Options{
		SendBuffer:      cfg.WSSendBuffer,
		FramesPerSecond: cfg.WSFramesPerSecond,
		CheckOrigin:     originChecker(cfg),
	}))

	serveFrontend(r, filepath.Join(".", "frontend", "dist"))
	return r
}

// DefaultLimiter 控制单个 IP+路由的速率。
func DefaultLimiter() *mw.Limiter {
	l := mw.NewLimiter(rate.Every(time.Second/20), 40, 2*time.Minute)
	go l.Run(30 * time.Second)
	return l
}

// originChecker 在 dev 环境或未配置来源时接受所有 websocket 来源。
func originChecker(cfg config.Config) func(*http.Request) bool {
	if cfg.Env == "dev" || len(cfg.CORSOrigins) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(cfg.CORSOrigins))
	for _, o := range cfg.CORSOrigins {
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

// serveFrontend 在构建产物存在时托管单页应用，未知路径回落到 index.html。
func serveFrontend(r *gin.Engine, distDir string) {
	index := filepath.Join(distDir, "index.html")
	if _, err := os.Stat(index); err != nil {
		return
	}
	r.NoRoute(func(c *gin.Context) {
		rel := strings.TrimPrefix(filepath.Clean(c.Request.URL.Path), "/")
		if strings.HasPrefix(rel, "api/") || rel == "ws" {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		if rel != "" {
			target := filepath.Join(distDir, rel)
			if fi, err := os.Stat(target); err == nil && !fi.IsDir() {
				c.File(target)
				return
			}
			if strings.Contains(rel, ".") {
				c.Status(http.StatusNotFound)
				return
			}
		}
		c.File(index)
	})
}
