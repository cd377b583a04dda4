package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"nexchat/internal/model"
	"nexchat/pkg/logger"
)

// channelPrefix Redis 频道前缀，频道名为 realtime:<table>
const channelPrefix = "realtime:"

// PubSub RedisBroker 依赖的 Redis 能力，由 cache.RedisCache 实现
type PubSub interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	PSubscribe(ctx context.Context, pattern string) *redis.PubSub
}

// RedisBroker 多实例部署时使用的 Broker
// Publish 写入 Redis；每个实例运行一个转发器，把 Redis 上的事件
// 重新投递到本地 LocalBroker，因此任意实例的写入都能到达所有实例的订阅者
type RedisBroker struct {
	ps    PubSub
	local *LocalBroker
	log   *logger.Logger
}

// NewRedisBroker 创建 RedisBroker 实例
func NewRedisBroker(ps PubSub, log *logger.Logger) *RedisBroker {
	if log == nil {
		log = logger.Nop()
	}
	return &RedisBroker{
		ps:    ps,
		local: NewLocalBroker(log),
		log:   log.With("component", "RedisBroker"),
	}
}

// Publish 发布事件到 Redis
func (b *RedisBroker) Publish(ctx context.Context, ev model.ChangeEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.ps.Publish(ctx, channelPrefix+ev.Table, raw)
}

// Subscribe 订阅本实例收到的事件
func (b *RedisBroker) Subscribe(table string, filter Filter) *Subscription {
	return b.local.Subscribe(table, filter)
}

// Local 返回内部的 LocalBroker
func (b *RedisBroker) Local() *LocalBroker {
	return b.local
}

// Run 运行转发器直到 ctx 结束
// 订阅建立失败时立即返回错误
func (b *RedisBroker) Run(ctx context.Context) error {
	sub := b.ps.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	// 确认订阅已建立
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	b.log.Info("realtime forwarder started")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var ev model.ChangeEvent
			if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
				b.log.Warn("bad realtime payload", "channel", m.Channel, "error", err)
				continue
			}
			if ev.Table == "" {
				ev.Table = strings.TrimPrefix(m.Channel, channelPrefix)
			}
			_ = b.local.Publish(ctx, ev)
		}
	}
}
