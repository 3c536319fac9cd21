package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"messenger/internal/config"
	"messenger/internal/db"
	clog "messenger/internal/log"
	"messenger/internal/server"
	"messenger/internal/service"
	"messenger/internal/ws"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	// main 负责加载配置、初始化日志、连接数据库、装配实时核心并启动 HTTP 服务。
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	gdb, err := db.Connect(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	users := service.NewUserService(gdb)
	sessions := service.NewSessionService(gdb, time.Duration(cfg.SessionTTLHours)*time.Hour)
	chats := service.NewChatService(gdb)
	messages := service.NewMessageService(gdb, chats)

	// 单实例部署时，上次进程留下的在线标记都已失效。
	if cfg.RedisAddr == "" {
		resetPresence(ctx, users)
	}

	reg := ws.NewRegistry()
	presence := ws.NewPresence(reg, users)
	local := ws.NewLocalDelivery(reg)
	var deliver ws.Deliverer = local
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis ping")
		}
		relay := ws.NewRedisRelay(rdb, cfg.RedisChannel, local)
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("redis relay stopped")
			}
		}()
		deliver = relay
		log.Info().Str("addr", cfg.RedisAddr).Str("channel", cfg.RedisChannel).Msg("cross-instance relay enabled")
	}
	dispatcher := ws.NewDispatcher(sessions, chats, messages, presence, deliver)

	h := server.NewHandler(server.Deps{
		Users:     users,
		Sessions:  sessions,
		Chats:     chats,
		Messages:  messages,
		Favorites: service.NewFavoriteService(gdb, chats),
		Voice:     service.NewVoiceService(gdb, chats, cfg.InviteSecret, time.Duration(cfg.InviteTTLMinutes)*time.Minute),
		Registry:  reg,
	})
	limiter := server.DefaultLimiter()
	defer limiter.Stop()

	go purgeSessions(ctx, sessions, time.Hour)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.SetupRouter(cfg, h, dispatcher, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
		os.Exit(1)
	}
	// Shutdown 不会关闭已劫持的 websocket 连接，这里补记离线。
	if cfg.RedisAddr == "" {
		resetPresence(shutdownCtx, users)
	}
}

func resetPresence(ctx context.Context, users *service.UserService) {
	n, err := users.ResetPresence(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("reset presence")
		return
	}
	if n > 0 {
		log.Info().Int64("count", n).Msg("stale presence reset")
	}
}

// purgeSessions 定期清理过期会话。
func purgeSessions(ctx context.Context, sessions *service.SessionService, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.Purge(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("purge sessions")
				continue
			}
			if n > 0 {
				log.Info().Int64("count", n).Msg("expired sessions purged")
			}
		}
	}
}
