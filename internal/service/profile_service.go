package service

import (
	"context"
	"errors"
	"time"

	"nexchat/internal/cache"
	"nexchat/internal/model"
	"nexchat/internal/repository"
	"nexchat/pkg/logger"
	"nexchat/pkg/util"
)

// 资料相关错误
var ErrProfileNotFound = errors.New("用户资料不存在")

// UnknownUsername 取不到用户名时使用的占位名
const UnknownUsername = "Unknown"

// ProfileService 用户资料服务
type ProfileService struct {
	profileRepo *repository.ProfileRepository
	cache       *cache.RedisCache // 用户名缓存，可为 nil
	cacheTTL    time.Duration
	log         *logger.Logger
}

// NewProfileService 创建 ProfileService 实例
func NewProfileService(profileRepo *repository.ProfileRepository, cache *cache.RedisCache, cacheTTL time.Duration, log *logger.Logger) *ProfileService {
	if log == nil {
		log = logger.Nop()
	}
	return &ProfileService{
		profileRepo: profileRepo,
		cache:       cache,
		cacheTTL:    cacheTTL,
		log:         log.With("component", "ProfileService"),
	}
}

// OnboardRequest 引导请求
type OnboardRequest struct {
	Username string `json:"username" binding:"required,max=100"`
	Name     string `json:"name" binding:"max=100"`
	Age      int    `json:"age" binding:"min=0,max=150"`
}

// Onboard 完成新用户引导
// 资料不存在时创建并写入欢迎语；已存在时只补全空字段，重复调用结果相同
func (s *ProfileService) Onboard(ctx context.Context, userID string, req *OnboardRequest) (*model.Profile, error) {
	p, err := s.profileRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if p == nil {
		p = &model.Profile{
			UserID:   userID,
			Username: req.Username,
			Name:     req.Name,
			Age:      req.Age,
			Chats:    model.DefaultChats(req.Username),
		}
		if err := s.profileRepo.Create(ctx, p); err != nil {
			return nil, err
		}
		s.log.Info("profile created", "user_id", userID)
		return p, nil
	}

	fields := make(map[string]interface{})
	if p.Username == "" && req.Username != "" {
		fields["username"] = req.Username
	}
	if p.Name == "" && req.Name != "" {
		fields["name"] = req.Name
	}
	if p.Age == 0 && req.Age != 0 {
		fields["age"] = req.Age
	}
	if p.ChatsEmpty() {
		fields["chats"] = model.DefaultChats(util.FirstNonEmpty(p.Username, req.Username))
	}
	if len(fields) == 0 {
		return p, nil
	}

	if err := s.profileRepo.UpdateFields(ctx, userID, fields); err != nil {
		return nil, err
	}
	if s.cache != nil {
		_ = s.cache.DeleteUsername(ctx, userID)
	}
	return s.profileRepo.GetByUserID(ctx, userID)
}

// Get 获取用户资料
func (s *ProfileService) Get(ctx context.Context, userID string) (*model.Profile, error) {
	p, err := s.profileRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrProfileNotFound
	}
	return p, nil
}

// Username 获取用户的显示名
// 任何失败都返回 UnknownUsername，不向调用方报错
func (s *ProfileService) Username(ctx context.Context, userID string) string {
	if s.cache != nil {
		if name, ok := s.cache.GetUsername(ctx, userID); ok {
			return name
		}
	}

	p, err := s.profileRepo.GetByUserID(ctx, userID)
	if err != nil {
		s.log.Warn("lookup username failed", "user_id", userID, "error", err)
		return UnknownUsername
	}
	if p == nil || p.Username == "" {
		return UnknownUsername
	}

	if s.cache != nil {
		if err := s.cache.SetUsername(ctx, userID, p.Username, s.cacheTTL); err != nil {
			s.log.Debug("cache username failed", "user_id", userID, "error", err)
		}
	}
	return p.Username
}
