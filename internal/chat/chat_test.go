package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"nexchat/internal/model"
)

// memStore 内存实现的 Store，Append 会向订阅者回显 INSERT
type memStore struct {
	mu        sync.Mutex
	nextID    int64
	rows      map[model.ChannelKind][]model.Message
	subs      []*memSub
	fetchErr  error
	appendErr error
	subErr    error

	// afterAppend 在回显之后、Append 返回之前调用
	afterAppend func(row model.Message)
}

func newMemStore() *memStore {
	return &memStore{rows: map[model.ChannelKind][]model.Message{}}
}

func (m *memStore) seed(kind model.ChannelKind, rows ...model.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		if r.ID > m.nextID {
			m.nextID = r.ID
		}
		m.rows[kind] = append(m.rows[kind], r)
	}
}

func (m *memStore) FetchHistory(_ context.Context, kind model.ChannelKind, userID string) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	var out []model.Message
	for _, r := range m.rows[kind] {
		if kind == model.ChannelPrivate && r.UserID != userID && r.UserID != model.AIUserID(userID) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) Append(_ context.Context, kind model.ChannelKind, msg *model.Message) (*model.Message, error) {
	m.mu.Lock()
	if m.appendErr != nil {
		m.mu.Unlock()
		return nil, m.appendErr
	}
	m.nextID++
	row := *msg
	row.ID = m.nextID
	m.rows[kind] = append(m.rows[kind], row)
	m.mu.Unlock()

	m.emit(kind, model.ChangeEvent{Table: kind.Table(), Type: model.ChangeInsert, New: &row})
	if m.afterAppend != nil {
		m.afterAppend(row)
	}
	return &row, nil
}

func (m *memStore) Subscribe(_ context.Context, kind model.ChannelKind, userID string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subErr != nil {
		return nil, m.subErr
	}
	sub := &memSub{kind: kind, userID: userID, ch: make(chan model.ChangeEvent, 32)}
	m.subs = append(m.subs, sub)
	return sub, nil
}

// emit 向匹配的活跃订阅投递事件
func (m *memStore) emit(kind model.ChannelKind, ev model.ChangeEvent) {
	m.mu.Lock()
	subs := append([]*memSub(nil), m.subs...)
	m.mu.Unlock()
	for _, s := range subs {
		s.deliver(kind, ev)
	}
}

func (m *memStore) openSubs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.subs {
		if !s.isClosed() {
			n++
		}
	}
	return n
}

type memSub struct {
	kind   model.ChannelKind
	userID string

	mu     sync.Mutex
	closed bool
	closes int
	ch     chan model.ChangeEvent
}

func (s *memSub) Events() <-chan model.ChangeEvent { return s.ch }

func (s *memSub) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

func (s *memSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *memSub) deliver(kind model.ChannelKind, ev model.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.kind != kind {
		return
	}
	if row := ev.Row(); kind == model.ChannelPrivate && row != nil &&
		row.UserID != s.userID && row.UserID != model.AIUserID(s.userID) {
		return
	}
	select {
	case s.ch <- ev:
	default:
	}
}

type replyCall struct {
	Prompt string
	Mode   model.Mode
}

// fakeResponder 记录调用，block 非空时阻塞直到被关闭
type fakeResponder struct {
	mu    sync.Mutex
	calls []replyCall
	reply string
	block chan struct{}
}

func (f *fakeResponder) Reply(ctx context.Context, prompt string, mode model.Mode) string {
	f.mu.Lock()
	f.calls = append(f.calls, replyCall{Prompt: prompt, Mode: mode})
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return FallbackReply
		}
	}
	if f.reply == "" {
		return "beep"
	}
	return f.reply
}

func (f *fakeResponder) Calls() []replyCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]replyCall(nil), f.calls...)
}

var errBoom = errors.New("boom")

func msg(id int64, userID, text string) model.Message {
	return model.Message{
		ID:        id,
		UserID:    userID,
		Sender:    model.SenderUser,
		Username:  "someone",
		Message:   text,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, int(id), 0, time.UTC),
	}
}

func ids(list []model.Message) []int64 {
	out := make([]int64, 0, len(list))
	for _, m := range list {
		out = append(out, m.ID)
	}
	return out
}
