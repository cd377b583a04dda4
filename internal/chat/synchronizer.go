package chat

import (
	"context"
	"sync"

	"nexchat/internal/model"
	"nexchat/pkg/logger"
)

// Synchronizer 维护一个频道视图的本地消息列表
//
// 每次 Mount 递增代号；订阅事件和发送回写只在代号未变时生效，
// 因此切换频道后旧订阅里残留的事件不会落到新列表。
type Synchronizer struct {
	store  Store
	sender *Sender
	log    *logger.Logger

	mu       sync.Mutex
	gen      uint64
	mounted  bool
	closed   bool
	kind     model.ChannelKind
	userID   string
	username string
	messages []model.Message
	deleted  map[int64]struct{} // 本次挂载期间已删除的 id
	pending  bool
	sub      Subscription

	wg      sync.WaitGroup
	updates chan struct{}
}

// NewSynchronizer 创建 Synchronizer 实例
func NewSynchronizer(store Store, responder Responder, log *logger.Logger) *Synchronizer {
	if log == nil {
		log = logger.Nop()
	}
	return &Synchronizer{
		store:   store,
		sender:  NewSender(store, responder, log),
		log:     log.With("component", "ChatSynchronizer"),
		updates: make(chan struct{}, 1),
	}
}

// Mount 切换到指定频道
// 释放现有订阅，加载历史替换列表，然后订阅变更。
// 历史加载失败时列表为空；订阅失败时没有实时更新。两者都只记录日志。
func (s *Synchronizer) Mount(ctx context.Context, kind model.ChannelKind, userID, username string) error {
	if !kind.Valid() {
		return model.ErrInvalidChannel
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	old := s.sub
	s.sub = nil
	s.gen++
	gen := s.gen
	s.mounted = true
	s.kind = kind
	s.userID = userID
	s.username = username
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}

	history, err := s.store.FetchHistory(ctx, kind, userID)
	if err != nil {
		s.log.Error("fetch history failed", "table", kind.Table(), "user_id", userID, "error", err)
		history = nil
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return nil
	}
	s.messages = append([]model.Message(nil), history...)
	s.deleted = make(map[int64]struct{})
	s.mu.Unlock()
	s.notify()

	sub, err := s.store.Subscribe(ctx, kind, userID)
	if err != nil {
		s.log.Error("subscribe failed", "table", kind.Table(), "user_id", userID, "error", err)
		return nil
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		sub.Close()
		return nil
	}
	s.sub = sub
	s.wg.Add(1)
	s.mu.Unlock()

	go s.consume(gen, sub)
	return nil
}

// Unmount 释放当前订阅，列表保持不变
func (s *Synchronizer) Unmount() {
	s.mu.Lock()
	old := s.sub
	s.sub = nil
	s.gen++
	s.mounted = false
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
}

// Close 释放订阅并等待事件消费协程退出
func (s *Synchronizer) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.Unmount()
	s.wg.Wait()
}

// Send 发送一条消息
// 同一时间只允许一次发送。存储返回的行只在列表中没有该 id 时追加，
// 不会覆盖订阅已送达的更新，也不会恢复已删除的行
func (s *Synchronizer) Send(ctx context.Context, text string) (*SendResult, error) {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return nil, ErrClosed
	case !s.mounted:
		s.mu.Unlock()
		return nil, ErrNotMounted
	case s.pending:
		s.mu.Unlock()
		return nil, ErrSendPending
	}
	s.pending = true
	gen := s.gen
	req := SendRequest{Kind: s.kind, UserID: s.userID, Username: s.username, Text: text}
	s.mu.Unlock()
	s.notify()

	defer func() {
		s.mu.Lock()
		s.pending = false
		s.mu.Unlock()
		s.notify()
	}()

	return s.sender.Send(ctx, req, func(row model.Message) {
		s.applyStored(gen, row)
	})
}

// applyStored 合并本地写入返回的行
func (s *Synchronizer) applyStored(gen uint64, row model.Message) {
	s.mu.Lock()
	if s.gen != gen || s.isDeleted(row.ID) || indexOf(s.messages, row.ID) >= 0 {
		s.mu.Unlock()
		return
	}
	s.messages = append(s.messages, row)
	s.mu.Unlock()
	s.notify()
}

func (s *Synchronizer) isDeleted(id int64) bool {
	_, ok := s.deleted[id]
	return ok
}

// Messages 当前列表的快照
func (s *Synchronizer) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Pending 是否有发送在进行
func (s *Synchronizer) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Channel 当前频道
func (s *Synchronizer) Channel() (model.ChannelKind, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kind, s.mounted
}

// Updates 状态变化通知，多次变化可能合并为一次
func (s *Synchronizer) Updates() <-chan struct{} {
	return s.updates
}

func (s *Synchronizer) consume(gen uint64, sub Subscription) {
	defer s.wg.Done()
	for ev := range sub.Events() {
		s.apply(gen, ev)
	}
}

func (s *Synchronizer) apply(gen uint64, ev model.ChangeEvent) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	changed := false
	switch ev.Type {
	case model.ChangeInsert:
		if ev.New != nil && !s.isDeleted(ev.New.ID) {
			s.messages, changed = upsert(s.messages, *ev.New), true
		}
	case model.ChangeUpdate:
		if ev.New != nil {
			s.messages, changed = replace(s.messages, *ev.New)
		}
	case model.ChangeDelete:
		if row := ev.Row(); row != nil {
			if s.deleted != nil {
				s.deleted[row.ID] = struct{}{}
			}
			s.messages, changed = remove(s.messages, row.ID)
		}
	default:
		s.log.Warn("unknown change type", "type", ev.Type)
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

func (s *Synchronizer) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

func indexOf(list []model.Message, id int64) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

// upsert 按 id 去重追加
func upsert(list []model.Message, msg model.Message) []model.Message {
	if i := indexOf(list, msg.ID); i >= 0 {
		list[i] = msg
		return list
	}
	return append(list, msg)
}

func replace(list []model.Message, msg model.Message) ([]model.Message, bool) {
	i := indexOf(list, msg.ID)
	if i < 0 {
		return list, false
	}
	list[i] = msg
	return list, true
}

func remove(list []model.Message, id int64) ([]model.Message, bool) {
	i := indexOf(list, id)
	if i < 0 {
		return list, false
	}
	return append(list[:i], list[i+1:]...), true
}
