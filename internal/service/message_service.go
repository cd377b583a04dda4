package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"nexchat/internal/chat"
	"nexchat/internal/model"
	"nexchat/internal/realtime"
	"nexchat/internal/repository"
	"nexchat/pkg/logger"
)

// 消息相关错误
var (
	ErrForbidden       = errors.New("无权操作该消息")
	ErrMessageNotFound = errors.New("消息不存在")
)

// MessageService 聊天消息服务
// 读写 public_chats / private_chats，每次写入都向 Broker 广播变更。
// 它同时是服务端进程内的 chat.Store 实现。
type MessageService struct {
	repo   *repository.MessageRepository
	broker realtime.Broker
	now    func() time.Time
	log    *logger.Logger
}

var _ chat.Store = (*MessageService)(nil)

// NewMessageService 创建 MessageService 实例
func NewMessageService(repo *repository.MessageRepository, broker realtime.Broker, log *logger.Logger) *MessageService {
	if log == nil {
		log = logger.Nop()
	}
	return &MessageService{
		repo:   repo,
		broker: broker,
		now:    time.Now,
		log:    log.With("component", "MessageService"),
	}
}

// PairIDs 用户与其 AI 身份，两者构成一个私聊
func PairIDs(userID string) []string {
	return []string{userID, model.AIUserID(userID)}
}

func inPair(userID, rowUserID string) bool {
	return rowUserID == userID || rowUserID == model.AIUserID(userID)
}

// FetchHistory 获取频道历史
// 私聊只返回 userID 与其 AI 身份的行
func (s *MessageService) FetchHistory(ctx context.Context, kind model.ChannelKind, userID string) ([]model.Message, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %v", chat.ErrFetch, model.ErrInvalidChannel)
	}
	var ids []string
	if kind == model.ChannelPrivate {
		ids = PairIDs(userID)
	}
	msgs, err := s.repo.List(ctx, kind, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chat.ErrFetch, err)
	}
	return msgs, nil
}

// Append 写入一条消息并广播 INSERT
// 不做身份校验，HTTP 入口使用 AppendAs
func (s *MessageService) Append(ctx context.Context, kind model.ChannelKind, msg *model.Message) (*model.Message, error) {
	if err := validateRow(kind, msg); err != nil {
		return nil, err
	}

	row := *msg
	row.ID = 0
	if row.CreatedAt.IsZero() {
		row.CreatedAt = s.now()
	}
	row.CreatedAt = row.CreatedAt.UTC()

	if err := s.repo.Create(ctx, kind, &row); err != nil {
		return nil, fmt.Errorf("%w: %v", chat.ErrWrite, err)
	}

	s.publish(ctx, model.ChangeEvent{Table: kind.Table(), Type: model.ChangeInsert, New: &row})
	return &row, nil
}

// AppendAs 以 callerID 的身份写入
// 只允许写自己的行（sender=user）或自己 AI 身份的行（sender=ai）
func (s *MessageService) AppendAs(ctx context.Context, callerID string, kind model.ChannelKind, msg *model.Message) (*model.Message, error) {
	switch msg.Sender {
	case model.SenderUser:
		if msg.UserID != callerID {
			return nil, ErrForbidden
		}
	case model.SenderAI:
		if msg.UserID != model.AIUserID(callerID) {
			return nil, ErrForbidden
		}
	}
	return s.Append(ctx, kind, msg)
}

// Subscribe 订阅频道变更
// 私聊订阅总是限定在 userID 与其 AI 身份
func (s *MessageService) Subscribe(_ context.Context, kind model.ChannelKind, userID string) (chat.Subscription, error) {
	if !kind.Valid() {
		return nil, model.ErrInvalidChannel
	}
	var filter realtime.Filter
	if kind == model.ChannelPrivate {
		filter = realtime.InUserIDs(PairIDs(userID)...)
	}
	return s.broker.Subscribe(kind.Table(), filter), nil
}

// Recent 获取频道最新的 limit 条消息，最新的在前
func (s *MessageService) Recent(ctx context.Context, kind model.ChannelKind, limit int) ([]model.Message, error) {
	if limit <= 0 {
		return []model.Message{}, nil
	}
	return s.repo.Latest(ctx, kind, limit)
}

// Update 修改自己（或自己 AI 身份）的一条消息并广播 UPDATE
func (s *MessageService) Update(ctx context.Context, callerID string, kind model.ChannelKind, id int64, text string) (*model.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, chat.ErrEmptyMessage
	}
	old, err := s.owned(ctx, callerID, kind, id)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateText(ctx, kind, id, text); err != nil {
		return nil, fmt.Errorf("%w: %v", chat.ErrWrite, err)
	}

	updated := *old
	updated.Message = text
	s.publish(ctx, model.ChangeEvent{Table: kind.Table(), Type: model.ChangeUpdate, New: &updated, Old: old})
	return &updated, nil
}

// Delete 删除自己（或自己 AI 身份）的一条消息并广播 DELETE
func (s *MessageService) Delete(ctx context.Context, callerID string, kind model.ChannelKind, id int64) error {
	old, err := s.owned(ctx, callerID, kind, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, kind, id); err != nil {
		return fmt.Errorf("%w: %v", chat.ErrWrite, err)
	}

	s.publish(ctx, model.ChangeEvent{Table: kind.Table(), Type: model.ChangeDelete, Old: old})
	return nil
}

func (s *MessageService) owned(ctx context.Context, callerID string, kind model.ChannelKind, id int64) (*model.Message, error) {
	if !kind.Valid() {
		return nil, model.ErrInvalidChannel
	}
	m, err := s.repo.GetByID(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrMessageNotFound
	}
	if !inPair(callerID, m.UserID) {
		return nil, ErrForbidden
	}
	return m, nil
}

// publish 广播失败只记录日志，写入本身已经成功
func (s *MessageService) publish(ctx context.Context, ev model.ChangeEvent) {
	if err := s.broker.Publish(ctx, ev); err != nil {
		s.log.Error("publish change failed", "table", ev.Table, "type", ev.Type, "error", err)
	}
}

func validateRow(kind model.ChannelKind, msg *model.Message) error {
	switch {
	case !kind.Valid():
		return fmt.Errorf("%w: %v", chat.ErrWrite, model.ErrInvalidChannel)
	case msg == nil:
		return fmt.Errorf("%w: nil message", chat.ErrWrite)
	case msg.UserID == "":
		return fmt.Errorf("%w: user_id is required", chat.ErrWrite)
	case msg.Sender != model.SenderUser && msg.Sender != model.SenderAI:
		return fmt.Errorf("%w: unknown sender %q", chat.ErrWrite, msg.Sender)
	}
	return nil
}
