package main

import (
	"context"
	"flag"
	"time"

	"messenger/internal/config"
	"messenger/internal/db"
	clog "messenger/internal/log"
	"messenger/internal/service"

	"github.com/rs/zerolog/log"
)

// createadmin 创建管理员账号；账号已存在时只提升角色。
func main() {
	username := flag.String("username", "admin", "admin username")
	email := flag.String("email", "admin@example.com", "admin email")
	password := flag.String("password", "", "admin password")
	flag.Parse()

	cfg := config.Load()
	clog.Init(cfg.Env)
	if *password == "" {
		log.Fatal().Msg("-password is required")
	}

	gdb, err := db.Connect(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	user, created, err := service.NewUserService(gdb).EnsureAdmin(ctx, service.RegisterInput{
		Username: *username,
		Email:    *email,
		Password: *password,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("ensure admin")
	}
	log.Info().Uint("user_id", user.ID).Str("username", user.Username).Bool("created", created).Msg("admin ready")
}
