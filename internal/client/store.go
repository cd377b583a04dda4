package client

import (
	"context"
	"errors"
	"fmt"

	"nexchat/internal/chat"
	"nexchat/internal/model"
	"nexchat/internal/realtime"
	"nexchat/pkg/logger"
)

var (
	_ chat.Store        = (*Store)(nil)
	_ chat.Responder    = (*Responder)(nil)
	_ chat.Subscription = (*Subscription)(nil)
)

// ErrNoRealtime 未建立实时连接
var ErrNoRealtime = errors.New("未建立实时连接")

// Store 通过服务器读写消息的 chat.Store
// REST 负责读取与写入，订阅走实时连接
type Store struct {
	api *Client
	rt  *Realtime
}

// NewStore 创建 Store，rt 为 nil 时 Subscribe 返回 ErrNoRealtime
func NewStore(api *Client, rt *Realtime) *Store {
	return &Store{api: api, rt: rt}
}

// FetchHistory 读取频道历史
// 私聊由服务端按当前登录用户过滤，userID 仅用于本地一致性
func (s *Store) FetchHistory(ctx context.Context, kind model.ChannelKind, _ string) ([]model.Message, error) {
	msgs, err := s.api.History(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chat.ErrFetch, err)
	}
	return msgs, nil
}

// Append 写入一行，返回带服务端 id 的行
func (s *Store) Append(ctx context.Context, kind model.ChannelKind, msg *model.Message) (*model.Message, error) {
	stored, err := s.api.AppendMessage(ctx, kind, msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chat.ErrWrite, err)
	}
	return stored, nil
}

// Subscribe 订阅频道变更；私聊携带 user_id=in.(用户, AI) 过滤条件
func (s *Store) Subscribe(ctx context.Context, kind model.ChannelKind, userID string) (chat.Subscription, error) {
	if s.rt == nil {
		return nil, ErrNoRealtime
	}
	var filter string
	if kind == model.ChannelPrivate {
		filter = realtime.InUserIDs(userID, model.AIUserID(userID)).String()
	}
	sub, err := s.rt.Subscribe(ctx, kind.Table(), filter)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Responder 通过服务器生成回复的 chat.Responder
type Responder struct {
	api *Client
	log *logger.Logger
}

// NewResponder 创建 Responder
func NewResponder(api *Client, log *logger.Logger) *Responder {
	if log == nil {
		log = logger.Nop()
	}
	return &Responder{api: api, log: log.With("component", "RemoteResponder")}
}

// Reply 请求失败或返回空文本时使用兜底回复
func (r *Responder) Reply(ctx context.Context, prompt string, mode model.Mode) string {
	reply, err := r.api.Reply(ctx, prompt, mode)
	if err != nil {
		r.log.Warn("remote reply failed", "mode", mode, "error", err)
		return chat.FallbackReply
	}
	if reply == "" {
		return chat.FallbackReply
	}
	return reply
}
