package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"nexchat/internal/cache"
	"nexchat/internal/chat"
	"nexchat/internal/middleware"
	"nexchat/internal/model"
	"nexchat/internal/service"
	"nexchat/pkg/logger"
	"nexchat/pkg/response"
)

// SendLocker 服务端发送锁
type SendLocker interface {
	AcquireSendLock(ctx context.Context, userID, channel string, ttl time.Duration) (func(), error)
}

// UsernameSource 显示名查询
type UsernameSource interface {
	Username(ctx context.Context, userID string) string
}

// ChatHandler 聊天消息请求处理器
type ChatHandler struct {
	messages  *service.MessageService
	usernames UsernameSource
	sender    *chat.Sender
	locker    SendLocker
	lockTTL   time.Duration
	log       *logger.Logger
}

// NewChatHandler 创建 ChatHandler 实例
// locker 为 nil 时不加锁
func NewChatHandler(
	messages *service.MessageService,
	usernames UsernameSource,
	responder chat.Responder,
	locker SendLocker,
	lockTTL time.Duration,
	log *logger.Logger,
) *ChatHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &ChatHandler{
		messages:  messages,
		usernames: usernames,
		sender:    chat.NewSender(messages, responder, log),
		locker:    locker,
		lockTTL:   lockTTL,
		log:       log.With("component", "ChatHandler"),
	}
}

// RegisterRoutes 注册聊天路由，全部需要登录
func (h *ChatHandler) RegisterRoutes(r gin.IRouter, requireAuth gin.HandlerFunc) {
	chats := r.Group("/chats/:kind", requireAuth)
	{
		chats.GET("", h.History)
		chats.POST("", h.Append)
		chats.GET("/recent", h.Recent)
		chats.POST("/send", h.Send)
		chats.PUT("/:id", h.Update)
		chats.DELETE("/:id", h.Delete)
	}
}

func parseKind(c *gin.Context) (model.ChannelKind, bool) {
	kind, err := model.ParseChannelKind(c.Param("kind"))
	if err != nil {
		response.BadRequest(c, "未知的频道: "+c.Param("kind"))
		return "", false
	}
	return kind, true
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "无效的消息 ID")
		return 0, false
	}
	return id, true
}

// History 获取频道历史
// 私聊只返回当前用户与其 AI 的消息
// @Summary 频道历史
// @Tags 聊天
// @Security Bearer
// @Produce json
// @Param kind path string true "public / private"
// @Success 200 {object} response.Response{data=[]model.Message}
// @Router /api/v1/chats/{kind} [get]
func (h *ChatHandler) History(c *gin.Context) {
	kind, ok := parseKind(c)
	if !ok {
		return
	}
	msgs, err := h.messages.FetchHistory(c.Request.Context(), kind, middleware.GetUserID(c))
	if err != nil {
		h.log.Error("fetch history failed", "table", kind.Table(), "error", err)
		response.FetchFailed(c)
		return
	}
	response.Success(c, msgs)
}

// Recent 获取最新的若干条消息，最新的在前
func (h *ChatHandler) Recent(c *gin.Context) {
	kind, ok := parseKind(c)
	if !ok {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "5"))
	if err != nil || limit < 0 || limit > 100 {
		response.BadRequest(c, "limit 取值 0-100")
		return
	}
	if kind == model.ChannelPrivate {
		response.Forbidden(c, "私聊不提供最近消息")
		return
	}
	msgs, err := h.messages.Recent(c.Request.Context(), kind, limit)
	if err != nil {
		h.log.Error("fetch recent failed", "table", kind.Table(), "error", err)
		response.FetchFailed(c)
		return
	}
	response.Success(c, msgs)
}

// AppendRequest 写入一行的请求
// user_id 为空时按 sender 取当前用户或其 AI 身份；username 为空时自动填充
type AppendRequest struct {
	UserID    string       `json:"user_id"`
	Sender    model.Sender `json:"sender" binding:"omitempty,oneof=user ai"`
	Username  string       `json:"username"`
	Message   string       `json:"message"`
	CreatedAt *time.Time   `json:"created_at"`
}

// Append 写入一行消息
func (h *ChatHandler) Append(c *gin.Context) {
	kind, ok := parseKind(c)
	if !ok {
		return
	}
	var req AppendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	callerID := middleware.GetUserID(c)
	msg := &model.Message{
		UserID:   req.UserID,
		Sender:   req.Sender,
		Username: req.Username,
		Message:  req.Message,
	}
	if msg.Sender == "" {
		msg.Sender = model.SenderUser
	}
	if msg.UserID == "" {
		msg.UserID = callerID
		if msg.Sender == model.SenderAI {
			msg.UserID = model.AIUserID(callerID)
		}
	}
	if msg.Username == "" {
		msg.Username = model.AIUsername
		if msg.Sender == model.SenderUser {
			msg.Username = h.usernames.Username(ctx, callerID)
		}
	}
	if req.CreatedAt != nil {
		msg.CreatedAt = *req.CreatedAt
	}

	stored, err := h.messages.AppendAs(ctx, callerID, kind, msg)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Created(c, stored)
}

// SendRequest 一次完整发送
type SendRequest struct {
	Message string `json:"message"`
}

// Send 在服务端执行完整的发送流程
// 同一用户在同一频道同时只能有一次发送，跨实例由 Redis 锁保证
func (h *ChatHandler) Send(c *gin.Context) {
	kind, ok := parseKind(c)
	if !ok {
		return
	}
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		response.BadRequest(c, "消息不能为空")
		return
	}

	ctx := c.Request.Context()
	userID := middleware.GetUserID(c)

	if h.locker != nil {
		release, err := h.locker.AcquireSendLock(ctx, userID, string(kind), h.lockTTL)
		if err != nil {
			if errors.Is(err, cache.ErrLockHeld) {
				response.SendPending(c)
				return
			}
			h.log.Error("acquire send lock failed", "user_id", userID, "error", err)
			response.InternalError(c, "发送失败")
			return
		}
		defer release()
	}

	result, err := h.sender.Send(ctx, chat.SendRequest{
		Kind:     kind,
		UserID:   userID,
		Username: h.usernames.Username(ctx, userID),
		Text:     req.Message,
	}, nil)
	if err != nil {
		if result != nil && result.User != nil {
			// 用户行已写入，AI 行失败
			h.log.Warn("ai row write failed", "user_id", userID, "error", err)
			response.Success(c, result)
			return
		}
		h.writeError(c, err)
		return
	}
	response.Success(c, result)
}

// UpdateRequest 修改消息
type UpdateRequest struct {
	Message string `json:"message"`
}

// Update 修改自己的一条消息
func (h *ChatHandler) Update(c *gin.Context) {
	kind, ok := parseKind(c)
	if !ok {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	updated, err := h.messages.Update(c.Request.Context(), middleware.GetUserID(c), kind, id, req.Message)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, updated)
}

// Delete 删除自己的一条消息
func (h *ChatHandler) Delete(c *gin.Context) {
	kind, ok := parseKind(c)
	if !ok {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.messages.Delete(c.Request.Context(), middleware.GetUserID(c), kind, id); err != nil {
		h.writeError(c, err)
		return
	}
	response.NoContent(c)
}

// writeError 把消息相关错误映射为响应
func (h *ChatHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		response.BadRequest(c, "消息不能为空")
	case errors.Is(err, service.ErrForbidden):
		response.Forbidden(c, "无权操作该消息")
	case errors.Is(err, service.ErrMessageNotFound):
		response.MessageNotFound(c)
	case errors.Is(err, chat.ErrWrite):
		response.WriteFailed(c, err.Error())
	default:
		h.log.Error("chat request failed", "path", c.FullPath(), "error", err)
		response.InternalError(c, "操作失败")
	}
}
