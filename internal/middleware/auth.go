// Package middleware 提供 HTTP 请求的中间件
// 包括 JWT 认证、CORS 跨域、日志记录与异常恢复
package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"nexchat/pkg/jwt"
	"nexchat/pkg/response"
	"nexchat/pkg/util"
)

// 上下文中的键
const (
	ContextUserID   = "user_id"
	ContextEmail    = "email"
	ContextToken    = "token"
	ContextTokenExp = "token_exp"
)

// TokenBlacklist 已登出 Token 的查询接口
type TokenBlacklist interface {
	IsTokenBlacklisted(ctx context.Context, tokenHash string) bool
}

// AuthMiddleware 创建 JWT 认证中间件
// 验证请求头中的 Bearer Token，并将用户信息存入上下文
// 参数:
//   - jwtService: JWT 服务实例，用于解析和验证 Token
//   - blacklist: Token 黑名单，通常是 Redis 缓存
//
// 返回:
//   - gin.HandlerFunc: Gin 中间件函数
func AuthMiddleware(jwtService *jwt.JWTService, blacklist TokenBlacklist) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. 从请求头获取 Authorization 字段，格式: "Bearer <token>"
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "请先登录")
			c.Abort()
			return
		}

		// 2. 解析 Bearer Token
		tokenString, ok := bearerToken(authHeader)
		if !ok {
			response.Unauthorized(c, "认证格式错误")
			c.Abort()
			return
		}

		// 3. 验证签名和过期时间
		claims, err := jwtService.ValidateToken(tokenString)
		if err != nil {
			response.Unauthorized(c, "Token 无效或已过期")
			c.Abort()
			return
		}

		// 4. 用户登出后 Token 会进入黑名单
		if blacklist != nil && blacklist.IsTokenBlacklisted(c.Request.Context(), util.HashToken(tokenString)) {
			response.Unauthorized(c, "Token 已失效，请重新登录")
			c.Abort()
			return
		}

		// 5. 将用户信息存入上下文
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextEmail, claims.Email)
		c.Set(ContextToken, tokenString) // 登出时计算哈希
		if claims.ExpiresAt != nil {
			c.Set(ContextTokenExp, claims.ExpiresAt.Time) // 登出时设置黑名单 TTL
		}

		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// GetUserID 从上下文获取用户 ID，未认证返回空字符串
func GetUserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

// GetEmail 从上下文获取邮箱
func GetEmail(c *gin.Context) string {
	return c.GetString(ContextEmail)
}

// GetToken 从上下文获取原始 Token 及其过期时间
func GetToken(c *gin.Context) (string, time.Time) {
	return c.GetString(ContextToken), c.GetTime(ContextTokenExp)
}
