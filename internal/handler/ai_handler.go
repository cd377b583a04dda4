package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"nexchat/internal/chat"
	"nexchat/internal/model"
	"nexchat/pkg/response"
)

// AIHandler AI 回复请求处理器
type AIHandler struct {
	responder chat.Responder
}

// NewAIHandler 创建 AIHandler 实例
func NewAIHandler(responder chat.Responder) *AIHandler {
	return &AIHandler{responder: responder}
}

// RegisterRoutes 注册 AI 路由
func (h *AIHandler) RegisterRoutes(r gin.IRouter, requireAuth gin.HandlerFunc) {
	r.POST("/ai/reply", requireAuth, h.Reply)
}

// ReplyRequest AI 回复请求
type ReplyRequest struct {
	Prompt string     `json:"prompt"`
	Mode   model.Mode `json:"mode" binding:"required,oneof=ONE_ON_ONE GROUP"`
}

// ReplyResponse AI 回复
type ReplyResponse struct {
	Reply string `json:"reply"`
}

// Reply 生成一条 AI 回复
// 生成失败时返回兜底文本而不是错误
func (h *AIHandler) Reply(c *gin.Context) {
	var req ReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		response.BadRequest(c, "prompt 不能为空")
		return
	}

	reply := h.responder.Reply(c.Request.Context(), req.Prompt, req.Mode)
	response.Success(c, ReplyResponse{Reply: reply})
}
