// Package cache 提供 Redis 缓存操作的封装
// 处理 JWT 黑名单、发送锁、用户名缓存以及实时事件的跨实例广播
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"nexchat/internal/config"
	"nexchat/pkg/util"
)

// RedisCache 封装 Redis 客户端，提供业务相关的缓存操作
type RedisCache struct {
	client *redis.Client // Redis 客户端实例
}

// NewRedisCache 创建 RedisCache 实例
// 参数:
//   - cfg: Redis 连接配置
//
// 返回:
//   - *RedisCache: 缓存实例
//   - error: 连接错误
func NewRedisCache(cfg config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// NewRedisCacheFromClient 使用已有客户端创建 RedisCache
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Close 关闭 Redis 连接
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Ping 检查 Redis 连接
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// ==================== JWT 黑名单 ====================
// 用于实现 Token 强制失效（登出）功能

// BlacklistToken 将 Token 加入黑名单
// 登出时调用，使当前 Token 失效
// 参数:
//   - tokenHash: Token 的哈希值（不存储原始 Token）
//   - expireAt: Token 的原始过期时间
func (c *RedisCache) BlacklistToken(ctx context.Context, tokenHash string, expireAt time.Time) error {
	ttl := time.Until(expireAt)
	if ttl <= 0 {
		// Token 已过期，无需加入黑名单
		return nil
	}
	// TTL 设置为 Token 的剩余有效期，过期后自动删除
	return c.client.Set(ctx, blacklistKey(tokenHash), "1", ttl).Err()
}

// IsTokenBlacklisted 检查 Token 是否在黑名单中
// Redis 不可用时视为未拉黑，不阻断请求
func (c *RedisCache) IsTokenBlacklisted(ctx context.Context, tokenHash string) bool {
	return c.client.Exists(ctx, blacklistKey(tokenHash)).Val() > 0
}

func blacklistKey(tokenHash string) string {
	return "jwt:blacklist:" + tokenHash
}

// ==================== 发送锁 ====================
// 同一用户在同一频道同一时刻只允许一个服务端发送流程

// ErrLockHeld 锁已被占用
var ErrLockHeld = errors.New("send lock held")

// releaseScript 只有持有者才能释放锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AcquireSendLock 获取发送锁
// 参数:
//   - userID: 用户 ID
//   - channel: 频道标识（public / private）
//   - ttl: 锁的自动过期时间，防止进程崩溃后死锁
//
// 返回:
//   - func(): 释放函数，可重复调用
//   - error: 锁已被占用返回 ErrLockHeld
func (c *RedisCache) AcquireSendLock(ctx context.Context, userID, channel string, ttl time.Duration) (func(), error) {
	key := fmt.Sprintf("chat:send_lock:%s:%s", channel, userID)
	token := util.GenerateUUID()

	ok, err := c.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire send lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// 请求上下文可能已结束，释放时使用独立上下文
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, c.client, []string{key}, token).Err()
	}, nil
}

// ==================== 用户名缓存 ====================

// GetUsername 读取缓存的用户名
// 返回:
//   - string: 用户名
//   - bool: 是否命中
func (c *RedisCache) GetUsername(ctx context.Context, userID string) (string, bool) {
	name, err := c.client.Get(ctx, usernameKey(userID)).Result()
	if err != nil {
		return "", false
	}
	return name, true
}

// SetUsername 缓存用户名
func (c *RedisCache) SetUsername(ctx context.Context, userID, username string, ttl time.Duration) error {
	return c.client.Set(ctx, usernameKey(userID), username, ttl).Err()
}

// DeleteUsername 资料变更后清除缓存
func (c *RedisCache) DeleteUsername(ctx context.Context, userID string) error {
	return c.client.Del(ctx, usernameKey(userID)).Err()
}

func usernameKey(userID string) string {
	return "profile:username:" + userID
}

// ==================== Pub/Sub ====================
// 用于多服务实例间的实时事件广播

// Publish 发布原始消息到指定频道
func (c *RedisCache) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.client.Publish(ctx, channel, payload).Err()
}

// PSubscribe 按模式订阅频道
// 返回 PubSub 对象，调用方负责关闭
func (c *RedisCache) PSubscribe(ctx context.Context, pattern string) *redis.PubSub {
	return c.client.PSubscribe(ctx, pattern)
}
