package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"nexchat/internal/model"
	"nexchat/pkg/logger"
)

// TriggerMarker 公共频道中请求 AI 回复的标记
const TriggerMarker = "-ai"

// ParseTrigger 检测并去掉触发标记
// 标记可出现在任意位置；只去掉第一次出现，然后去掉首尾空白。
// 未包含标记时原样返回文本。
func ParseTrigger(text string) (string, bool) {
	if !strings.Contains(text, TriggerMarker) {
		return text, false
	}
	return strings.TrimSpace(strings.Replace(text, TriggerMarker, "", 1)), true
}

// NeedsReply 判断是否需要 AI 回复：私聊总是需要，公共频道仅在带标记时需要
func NeedsReply(kind model.ChannelKind, triggered bool) bool {
	return kind == model.ChannelPrivate || triggered
}

// ReplyMode 频道对应的 AI 回复模式
func ReplyMode(kind model.ChannelKind) model.Mode {
	if kind == model.ChannelPrivate {
		return model.ModeOneOnOne
	}
	return model.ModeGroup
}

// SendRequest 一次发送的输入
type SendRequest struct {
	Kind     model.ChannelKind
	UserID   string
	Username string
	Text     string
}

// SendResult 一次发送写入的行
// 用户行写入失败时两者都为 nil；AI 行写入失败时只有 User
type SendResult struct {
	User *model.Message `json:"user"`
	AI   *model.Message `json:"ai,omitempty"`
}

// Sender 执行发送流程，不持有状态
type Sender struct {
	store     Store
	responder Responder
	now       func() time.Time
	log       *logger.Logger
}

// NewSender 创建 Sender 实例
func NewSender(store Store, responder Responder, log *logger.Logger) *Sender {
	if log == nil {
		log = logger.Nop()
	}
	return &Sender{
		store:     store,
		responder: responder,
		now:       time.Now,
		log:       log.With("component", "ChatSender"),
	}
}

// Send 写入用户消息，必要时生成并写入 AI 回复
// 参数:
//   - req: 发送内容
//   - onStored: 每写入一行后回调（可为 nil），参数为存储返回的行
//
// 返回:
//   - *SendResult: 写入的行
//   - error: ErrEmptyMessage，或包装了 ErrWrite 的写入错误
func (s *Sender) Send(ctx context.Context, req SendRequest, onStored func(model.Message)) (*SendResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyMessage
	}
	text, triggered := ParseTrigger(req.Text)
	if text == "" {
		// 只有标记没有内容
		return nil, ErrEmptyMessage
	}

	result := &SendResult{}

	userRow, err := s.append(ctx, req.Kind, &model.Message{
		UserID:    req.UserID,
		Sender:    model.SenderUser,
		Username:  req.Username,
		Message:   text,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	result.User = userRow
	if onStored != nil {
		onStored(*userRow)
	}

	if !NeedsReply(req.Kind, triggered) {
		return result, nil
	}

	reply := s.responder.Reply(ctx, text, ReplyMode(req.Kind))

	aiRow, err := s.append(ctx, req.Kind, &model.Message{
		UserID:    model.AIUserID(req.UserID),
		Sender:    model.SenderAI,
		Username:  model.AIUsername,
		Message:   reply,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return result, err
	}
	result.AI = aiRow
	if onStored != nil {
		onStored(*aiRow)
	}
	return result, nil
}

func (s *Sender) append(ctx context.Context, kind model.ChannelKind, msg *model.Message) (*model.Message, error) {
	stored, err := s.store.Append(ctx, kind, msg)
	if err != nil {
		s.log.Error("append message failed", "table", kind.Table(), "sender", msg.Sender, "error", err)
		if !errors.Is(err, ErrWrite) {
			err = fmt.Errorf("%w: %v", ErrWrite, err)
		}
		return nil, err
	}
	if stored == nil {
		stored = msg
	}
	return stored, nil
}
