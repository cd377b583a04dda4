package realtime

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	pkgJwt "nexchat/pkg/jwt"
	"nexchat/pkg/logger"
	"nexchat/pkg/response"
	"nexchat/pkg/util"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 跨域由 CORS 配置约束，终端客户端不携带 Origin
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// TokenBlacklist 登出 Token 的黑名单
type TokenBlacklist interface {
	IsTokenBlacklisted(ctx context.Context, tokenHash string) bool
}

// Handler 处理实时通道的 WebSocket 连接
type Handler struct {
	hub       *Hub
	broker    Broker
	jwt       *pkgJwt.JWTService
	blacklist TokenBlacklist
	log       *logger.Logger
}

// NewHandler 创建 WebSocket Handler
func NewHandler(hub *Hub, broker Broker, jwtService *pkgJwt.JWTService, blacklist TokenBlacklist, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{
		hub:       hub,
		broker:    broker,
		jwt:       jwtService,
		blacklist: blacklist,
		log:       log.With("component", "RealtimeHandler"),
	}
}

// HandleRealtime 处理实时通道连接
// 路由: GET /ws/realtime
// 参数: token (query parameter) - Access Token
func (h *Handler) HandleRealtime(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Unauthorized(c, "需要认证 token")
		return
	}

	claims, err := h.jwt.ValidateToken(token)
	if err != nil {
		response.Unauthorized(c, "无效的 token")
		return
	}
	if h.blacklist != nil && h.blacklist.IsTokenBlacklisted(c.Request.Context(), util.HashToken(token)) {
		response.Unauthorized(c, "Token 已失效，请重新登录")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(h.hub, conn, h.broker, claims.UserID, h.log)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

// RegisterRoutes 注册 WebSocket 路由
// WebSocket 路由不需要中间件（token 在 query 中验证）
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/ws/realtime", h.HandleRealtime)
}
