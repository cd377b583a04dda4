// Package main 是服务端的入口点
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"nexchat/internal/cache"
	"nexchat/internal/config"
	"nexchat/internal/repository"
	"nexchat/internal/server"
	"nexchat/internal/service"
	"nexchat/pkg/logger"
)

func main() {
	// .env 可选，已有的环境变量优先
	_ = godotenv.Load()

	// 加载配置
	cfg, err := config.Load("./configs")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLog, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer appLog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 初始化数据库并迁移
	db, err := repository.OpenDatabase(cfg.Database, cfg.Server.Mode == "debug")
	if err != nil {
		appLog.Fatal("failed to init database", "driver", cfg.Database.Driver, "error", err)
	}
	if err := repository.AutoMigrate(db); err != nil {
		appLog.Fatal("failed to migrate database", "error", err)
	}

	// 初始化 Redis
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		appLog.Fatal("failed to init redis", "host", cfg.Redis.Host, "error", err)
	}
	defer redisCache.Close()

	// 初始化 Gemini
	generator, err := service.NewGeminiGenerator(ctx, cfg.AI)
	if err != nil {
		appLog.Fatal("failed to init gemini client", "model", cfg.AI.Model, "error", err)
	}

	srv := server.New(server.Deps{
		Config:    cfg,
		DB:        db,
		Cache:     redisCache,
		Generator: generator,
		Log:       appLog,
	})

	if err := srv.Run(ctx); err != nil {
		appLog.Error("server stopped with error", "error", err)
		os.Exit(1)
	}

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	appLog.Info("server exited")
}
