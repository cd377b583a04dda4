// Package service 提供业务逻辑层的实现
// 服务层封装具体的业务逻辑，协调 Repository、Cache 和实时广播
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"nexchat/internal/cache"
	"nexchat/internal/model"
	"nexchat/internal/repository"
	"nexchat/pkg/jwt"
	"nexchat/pkg/logger"
	"nexchat/pkg/util"
)

// 定义业务错误
var (
	ErrUserExists    = errors.New("邮箱已被注册")
	ErrUserNotFound  = errors.New("用户不存在")
	ErrPasswordWrong = errors.New("密码错误")
)

// AuthService 认证服务
// 处理注册、登录、登出以及 Token 刷新
type AuthService struct {
	userRepo   *repository.UserRepository // 用户数据访问层
	cache      *cache.RedisCache          // Redis 缓存（Token 黑名单）
	jwtService *jwt.JWTService            // JWT 服务
	log        *logger.Logger
}

// NewAuthService 创建 AuthService 实例
func NewAuthService(
	userRepo *repository.UserRepository,
	cache *cache.RedisCache,
	jwtService *jwt.JWTService,
	log *logger.Logger,
) *AuthService {
	if log == nil {
		log = logger.Nop()
	}
	return &AuthService{
		userRepo:   userRepo,
		cache:      cache,
		jwtService: jwtService,
		log:        log.With("component", "AuthService"),
	}
}

// SignUpRequest 注册请求
type SignUpRequest struct {
	Email    string `json:"email" binding:"required,email"`    // 登录邮箱
	Password string `json:"password" binding:"required,min=6"` // 密码
}

// SignUpResponse 注册响应
type SignUpResponse struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// SignUp 用户注册
// 参数:
//   - ctx: 上下文
//   - req: 注册请求
//
// 返回:
//   - *SignUpResponse: 注册成功返回用户信息
//   - error: 邮箱已存在等
func (s *AuthService) SignUp(ctx context.Context, req *SignUpRequest) (*SignUpResponse, error) {
	email := normalizeEmail(req.Email)

	// 1. 检查邮箱是否已存在
	exists, err := s.userRepo.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrUserExists
	}

	// 2. 对密码进行哈希
	passwordHash, err := util.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	// 3. 创建用户
	user := &model.User{
		ID:           util.GenerateUUID(),
		Email:        email,
		PasswordHash: passwordHash,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}

	s.log.Info("user signed up", "user_id", user.ID)
	return &SignUpResponse{UserID: user.ID, Email: user.Email}, nil
}

// SignInRequest 登录请求
type SignInRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// SignInResponse 登录响应
type SignInResponse struct {
	AccessToken      string      `json:"access_token"`       // 访问令牌
	RefreshToken     string      `json:"refresh_token"`      // 刷新令牌
	ExpiresIn        int64       `json:"expires_in"`         // 过期时间（秒）
	RefreshExpiresIn int64       `json:"refresh_expires_in"` // Refresh Token 过期时间（秒）
	User             *model.User `json:"user"`               // 用户信息
}

// SignIn 用户登录
// 返回:
//   - *SignInResponse: Token 和用户信息
//   - error: ErrUserNotFound / ErrPasswordWrong
func (s *AuthService) SignIn(ctx context.Context, req *SignInRequest) (*SignInResponse, error) {
	// 1. 根据邮箱查找用户
	user, err := s.userRepo.GetByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	// 2. 验证密码
	if !util.CheckPassword(req.Password, user.PasswordHash) {
		return nil, ErrPasswordWrong
	}

	// 3. 生成 Token
	accessToken, err := s.jwtService.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.jwtService.GenerateRefreshToken(user.ID, user.Email)
	if err != nil {
		return nil, err
	}

	return &SignInResponse{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		ExpiresIn:        int64(s.jwtService.GetAccessExpire().Seconds()),
		RefreshExpiresIn: int64(s.jwtService.GetRefreshExpire().Seconds()),
		User:             user,
	}, nil
}

// SignOut 用户登出
// 将 Token 哈希加入黑名单，TTL 为 Token 的剩余有效期
func (s *AuthService) SignOut(ctx context.Context, tokenHash string, expireAt time.Time) error {
	return s.cache.BlacklistToken(ctx, tokenHash, expireAt)
}

// RefreshRequest 刷新 Token 请求
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// RefreshResponse 刷新 Token 响应
type RefreshResponse struct {
	AccessToken string `json:"access_token"` // 新的访问令牌
	ExpiresIn   int64  `json:"expires_in"`   // 过期时间（秒）
}

// Refresh 用 Refresh Token 换取新的 Access Token
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error) {
	// 1. 验证 Refresh Token，已登出的也拒绝
	claims, err := s.jwtService.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}
	if s.cache.IsTokenBlacklisted(ctx, util.HashToken(refreshToken)) {
		return nil, jwt.ErrInvalidToken
	}

	// 2. 检查用户是否仍然存在
	user, err := s.GetUser(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}

	// 3. 生成新的 Access Token
	accessToken, err := s.jwtService.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		return nil, err
	}

	return &RefreshResponse{
		AccessToken: accessToken,
		ExpiresIn:   int64(s.jwtService.GetAccessExpire().Seconds()),
	}, nil
}

// GetUser 获取当前会话对应的用户
func (s *AuthService) GetUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ParseRefresh 校验 Refresh Token 并返回声明，不检查黑名单
func (s *AuthService) ParseRefresh(refreshToken string) (*jwt.UserClaims, error) {
	return s.jwtService.ValidateRefreshToken(refreshToken)
}
