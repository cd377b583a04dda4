// Package server 组装 HTTP 服务
// 负责把 Repository、Service、Handler 与实时通道连接成一个可运行的 gin 引擎
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"nexchat/internal/cache"
	"nexchat/internal/config"
	"nexchat/internal/handler"
	"nexchat/internal/middleware"
	"nexchat/internal/realtime"
	"nexchat/internal/repository"
	"nexchat/internal/service"
	"nexchat/pkg/jwt"
	"nexchat/pkg/logger"
	"nexchat/pkg/response"
)

// Deps 服务依赖
// Broker 为 nil 时按 Chat.RealtimeBackend 创建
type Deps struct {
	Config    *config.Config
	DB        *gorm.DB
	Cache     *cache.RedisCache
	Broker    realtime.Broker
	Generator service.TextGenerator
	Log       *logger.Logger
}

// Server 可运行的服务实例
type Server struct {
	cfg       *config.Config
	router    *gin.Engine
	hub       *realtime.Hub
	forwarder *realtime.RedisBroker // 仅 redis 后端
	log       *logger.Logger
}

// New 创建服务实例并注册全部路由
func New(d Deps) *Server {
	log := d.Log
	if log == nil {
		log = logger.Nop()
	}
	cfg := d.Config

	s := &Server{cfg: cfg, hub: realtime.NewHub(log), log: log}

	broker := d.Broker
	if broker == nil {
		if cfg.Chat.RealtimeBackend == "redis" {
			s.forwarder = realtime.NewRedisBroker(d.Cache, log)
			broker = s.forwarder
		} else {
			broker = realtime.NewLocalBroker(log)
		}
	}

	jwtService := jwt.NewJWTService(cfg.JWT.Secret, cfg.JWT.AccessExpire, cfg.JWT.RefreshExpire)

	// Repository 层
	userRepo := repository.NewUserRepository(d.DB)
	profileRepo := repository.NewProfileRepository(d.DB)
	messageRepo := repository.NewMessageRepository(d.DB)

	// Service 层
	authService := service.NewAuthService(userRepo, d.Cache, jwtService, log)
	profileService := service.NewProfileService(profileRepo, d.Cache, cfg.Chat.UsernameCacheTTL, log)
	messageService := service.NewMessageService(messageRepo, broker, log)
	aiService := service.NewAIService(d.Generator, messageService, cfg.AI, log)

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// 全局中间件
	router.Use(middleware.RequestID())
	router.Use(middleware.LoggerMiddleware(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS(cfg.Server.CORS))

	handler.NewHealthHandler(map[string]handler.Pinger{
		"database": handler.PingFunc(func(ctx context.Context) error {
			sqlDB, err := d.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}),
		"redis": d.Cache,
	}).RegisterRoutes(router)

	requireAuth := middleware.AuthMiddleware(jwtService, d.Cache)
	v1 := router.Group("/api/v1")
	handler.NewAuthHandler(authService, log).RegisterRoutes(v1, requireAuth)
	handler.NewProfileHandler(profileService, log).RegisterRoutes(v1, requireAuth)
	handler.NewChatHandler(messageService, profileService, aiService, d.Cache, cfg.Chat.SendLockTTL, log).RegisterRoutes(v1, requireAuth)
	handler.NewAIHandler(aiService).RegisterRoutes(v1, requireAuth)

	// WebSocket 路由不经过 AuthMiddleware，token 在 query 中验证
	realtime.NewHandler(s.hub, broker, jwtService, d.Cache, log).RegisterRoutes(router)

	router.NoRoute(func(c *gin.Context) {
		response.NotFound(c, "接口不存在")
	})

	s.router = router
	return s
}

// Handler 返回 HTTP 处理器
func (s *Server) Handler() http.Handler {
	return s.router
}

// RunBackground 运行 Hub 与跨实例转发器，直到 ctx 结束
func (s *Server) RunBackground(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.hub.Run(ctx) })
	if s.forwarder != nil {
		g.Go(func() error { return s.forwarder.Run(ctx) })
	}
	return g.Wait()
}

// Run 监听端口并运行，ctx 结束后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.RunBackground(ctx) })
	g.Go(func() error {
		s.log.Info("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		s.log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
