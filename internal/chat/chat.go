// Package chat 实现聊天同步的核心逻辑
//
// Synchronizer 加载频道历史，通过变更订阅维护本地消息列表，
// 发送用户消息并在需要时触发 AI 回复。它只依赖 Store 与 Responder 两个接口，
// 服务端（直接访问数据库）和终端客户端（经由 HTTP/WebSocket）各自提供实现。
package chat

import (
	"context"
	"errors"

	"nexchat/internal/model"
)

var (
	// ErrFetch 读取历史失败（传输或鉴权错误）
	ErrFetch = errors.New("fetch history failed")
	// ErrWrite 写入消息失败（校验或鉴权错误）
	ErrWrite = errors.New("write message failed")
	// ErrEmptyMessage 消息为空或只有空白
	ErrEmptyMessage = errors.New("message is empty")
	// ErrSendPending 上一条消息仍在发送
	ErrSendPending = errors.New("a send is already in flight")
	// ErrNotMounted 尚未选择频道
	ErrNotMounted = errors.New("synchronizer is not mounted")
	// ErrClosed Synchronizer 已关闭
	ErrClosed = errors.New("synchronizer is closed")
)

// Subscription 变更事件流
// Close 只生效一次；返回后 Events 不再产生事件，通道被关闭
type Subscription interface {
	Events() <-chan model.ChangeEvent
	Close()
}

// Store 消息存储
type Store interface {
	// FetchHistory 返回频道历史，按 (created_at, id) 升序
	// 私聊只返回 userID 与其 AI 身份的行
	FetchHistory(ctx context.Context, kind model.ChannelKind, userID string) ([]model.Message, error)

	// Append 写入一行，返回存储分配了 ID 的行
	Append(ctx context.Context, kind model.ChannelKind, msg *model.Message) (*model.Message, error)

	// Subscribe 订阅频道的变更，私聊由存储端按 userID 过滤
	Subscribe(ctx context.Context, kind model.ChannelKind, userID string) (Subscription, error)
}

// Responder 生成 AI 回复
// 实现必须吞掉所有错误并返回兜底文本，Reply 总是返回字符串
type Responder interface {
	Reply(ctx context.Context, prompt string, mode model.Mode) string
}

// FallbackReply AI 生成失败时使用的固定回复
const FallbackReply = "Oops, I couldn’t think of a reply!"
