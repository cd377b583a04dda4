package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"nexchat/internal/middleware"
	"nexchat/internal/service"
	"nexchat/pkg/logger"
	"nexchat/pkg/response"
)

// ProfileHandler 用户资料请求处理器
type ProfileHandler struct {
	profileService *service.ProfileService
	log            *logger.Logger
}

// NewProfileHandler 创建 ProfileHandler 实例
func NewProfileHandler(profileService *service.ProfileService, log *logger.Logger) *ProfileHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &ProfileHandler{profileService: profileService, log: log}
}

// RegisterRoutes 注册资料路由，全部需要登录
func (h *ProfileHandler) RegisterRoutes(r gin.IRouter, requireAuth gin.HandlerFunc) {
	profile := r.Group("/profile", requireAuth)
	{
		profile.GET("", h.GetProfile)
		profile.POST("/onboard", h.Onboard)
		profile.GET("/username", h.GetUsername)
	}
}

// GetProfile 获取当前用户的资料
// @Summary 获取资料
// @Tags 资料
// @Security Bearer
// @Produce json
// @Success 200 {object} response.Response{data=model.Profile}
// @Router /api/v1/profile [get]
func (h *ProfileHandler) GetProfile(c *gin.Context) {
	p, err := h.profileService.Get(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		if errors.Is(err, service.ErrProfileNotFound) {
			response.ProfileNotFound(c)
			return
		}
		h.log.Error("get profile failed", "error", err)
		response.InternalError(c, "获取资料失败")
		return
	}
	response.Success(c, p)
}

// Onboard 完成引导
// 首次调用创建资料，之后只补全空字段
func (h *ProfileHandler) Onboard(c *gin.Context) {
	var req service.OnboardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	p, err := h.profileService.Onboard(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		h.log.Error("onboard failed", "user_id", middleware.GetUserID(c), "error", err)
		response.InternalError(c, "保存资料失败")
		return
	}
	response.Success(c, p)
}

// UsernameResponse 用户名
type UsernameResponse struct {
	Username string `json:"username"`
}

// GetUsername 获取显示名，取不到时为 "Unknown"
func (h *ProfileHandler) GetUsername(c *gin.Context) {
	name := h.profileService.Username(c.Request.Context(), middleware.GetUserID(c))
	response.Success(c, UsernameResponse{Username: name})
}
