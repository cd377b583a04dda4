// Package handler 提供 HTTP 请求处理器
// 解析参数、调用服务层、把业务错误映射为统一响应
package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"nexchat/internal/middleware"
	"nexchat/internal/service"
	"nexchat/pkg/jwt"
	"nexchat/pkg/logger"
	"nexchat/pkg/response"
	"nexchat/pkg/util"
)

// AuthHandler 认证请求处理器
// 处理注册、登录、登出与 Token 刷新
type AuthHandler struct {
	authService *service.AuthService
	log         *logger.Logger
}

// NewAuthHandler 创建 AuthHandler 实例
func NewAuthHandler(authService *service.AuthService, log *logger.Logger) *AuthHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &AuthHandler{authService: authService, log: log}
}

// RegisterRoutes 注册认证路由
// requireAuth 为认证中间件，登出与会话查询需要登录
func (h *AuthHandler) RegisterRoutes(r gin.IRouter, requireAuth gin.HandlerFunc) {
	auth := r.Group("/auth")
	{
		auth.POST("/signup", h.SignUp)
		auth.POST("/signin", h.SignIn)
		auth.POST("/refresh", h.Refresh)
		auth.POST("/signout", requireAuth, h.SignOut)
		auth.GET("/session", requireAuth, h.Session)
	}
}

// SignUp 用户注册
// @Summary 用户注册
// @Tags 认证
// @Accept json
// @Produce json
// @Param body body service.SignUpRequest true "注册信息"
// @Success 201 {object} response.Response{data=service.SignUpResponse}
// @Router /api/v1/auth/signup [post]
func (h *AuthHandler) SignUp(c *gin.Context) {
	var req service.SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	result, err := h.authService.SignUp(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUserExists):
			response.UserExists(c)
		default:
			h.log.Error("sign up failed", "error", err)
			response.InternalError(c, "注册失败")
		}
		return
	}

	response.Created(c, result)
}

// SignIn 用户登录
// @Summary 用户登录
// @Tags 认证
// @Accept json
// @Produce json
// @Param body body service.SignInRequest true "登录信息"
// @Success 200 {object} response.Response{data=service.SignInResponse}
// @Router /api/v1/auth/signin [post]
func (h *AuthHandler) SignIn(c *gin.Context) {
	var req service.SignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	result, err := h.authService.SignIn(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			response.UserNotFound(c)
		case errors.Is(err, service.ErrPasswordWrong):
			response.PasswordWrong(c)
		default:
			h.log.Error("sign in failed", "error", err)
			response.InternalError(c, "登录失败")
		}
		return
	}

	response.SuccessWithMessage(c, "登录成功", result)
}

// SignOutRequest 登出请求，可同时注销 Refresh Token
type SignOutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// SignOut 用户登出
// 当前 Access Token 加入黑名单；请求体带 Refresh Token 时一并注销
func (h *AuthHandler) SignOut(c *gin.Context) {
	token, expireAt := middleware.GetToken(c)
	if token == "" {
		response.BadRequest(c, "无法获取 Token 信息")
		return
	}

	ctx := c.Request.Context()
	if err := h.authService.SignOut(ctx, util.HashToken(token), expireAt); err != nil {
		h.log.Error("sign out failed", "user_id", middleware.GetUserID(c), "error", err)
		response.InternalError(c, "登出失败")
		return
	}

	var req SignOutRequest
	if c.Request.ContentLength > 0 && c.ShouldBindJSON(&req) == nil && req.RefreshToken != "" {
		if claims, err := h.authService.ParseRefresh(req.RefreshToken); err == nil && claims.UserID == middleware.GetUserID(c) {
			_ = h.authService.SignOut(ctx, util.HashToken(req.RefreshToken), claims.ExpiresAt.Time)
		}
	}

	response.SuccessWithMessage(c, "登出成功", nil)
}

// Refresh 刷新 Token
// @Summary 刷新 Token
// @Tags 认证
// @Accept json
// @Produce json
// @Param body body service.RefreshRequest true "Refresh Token"
// @Success 200 {object} response.Response{data=service.RefreshResponse}
// @Router /api/v1/auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req service.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误")
		return
	}

	result, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		if !errors.Is(err, jwt.ErrInvalidToken) && !errors.Is(err, jwt.ErrExpiredToken) {
			h.log.Warn("refresh failed", "error", err)
		}
		response.Unauthorized(c, "Refresh Token 无效或已过期")
		return
	}

	response.Success(c, result)
}

// SessionResponse 当前会话
type SessionResponse struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// Session 返回当前 Token 对应的用户
func (h *AuthHandler) Session(c *gin.Context) {
	user, err := h.authService.GetUser(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			response.Unauthorized(c, "用户不存在，请重新登录")
			return
		}
		response.InternalError(c, "获取会话失败")
		return
	}
	response.Success(c, SessionResponse{UserID: user.ID, Email: user.Email})
}
