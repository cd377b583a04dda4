package realtime

import (
	"context"
	"sync"

	"nexchat/internal/model"
	"nexchat/pkg/logger"
)

// subscriptionBuffer 每个订阅的事件缓冲
const subscriptionBuffer = 256

// Broker 变更事件的分发中心
// 写入方 Publish，读取方 Subscribe，订阅由调用方负责 Close
type Broker interface {
	Publish(ctx context.Context, ev model.ChangeEvent) error
	Subscribe(table string, filter Filter) *Subscription
}

// Subscription 一次订阅
// Events 按发布顺序投递；Close 只生效一次，返回后 Events 不再产生任何事件
type Subscription struct {
	table  string
	filter Filter
	ch     chan model.ChangeEvent

	mu     sync.Mutex
	closed bool
	once   sync.Once
	onStop func(*Subscription)
}

func newSubscription(table string, filter Filter, onStop func(*Subscription)) *Subscription {
	return &Subscription{
		table:  table,
		filter: filter,
		ch:     make(chan model.ChangeEvent, subscriptionBuffer),
		onStop: onStop,
	}
}

// Events 事件通道，订阅关闭后通道被关闭
func (s *Subscription) Events() <-chan model.ChangeEvent {
	return s.ch
}

// Table 订阅的表名
func (s *Subscription) Table() string { return s.table }

// Filter 订阅生效的过滤条件
func (s *Subscription) Filter() Filter { return s.filter }

// Close 释放订阅，可重复调用
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()

		// 丢弃尚未被读取的事件
		for range s.ch {
		}

		if s.onStop != nil {
			s.onStop(s)
		}
	})
}

// deliver 投递事件，缓冲满时丢弃并返回 false
func (s *Subscription) deliver(ev model.ChangeEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

// LocalBroker 进程内的 Broker 实现
type LocalBroker struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{} // table -> 订阅集合
	log  *logger.Logger
}

// NewLocalBroker 创建 LocalBroker 实例
func NewLocalBroker(log *logger.Logger) *LocalBroker {
	if log == nil {
		log = logger.Nop()
	}
	return &LocalBroker{
		subs: make(map[string]map[*Subscription]struct{}),
		log:  log.With("component", "LocalBroker"),
	}
}

// Publish 把事件投递给该表所有匹配的订阅
func (b *LocalBroker) Publish(_ context.Context, ev model.ChangeEvent) error {
	row := ev.Row()

	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subs[ev.Table]))
	for s := range b.subs[ev.Table] {
		if s.filter.Match(row) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		if !s.deliver(ev) {
			b.log.Warn("subscription buffer full, dropping event", "table", ev.Table, "type", ev.Type)
		}
	}
	return nil
}

// Subscribe 订阅某张表的变更
func (b *LocalBroker) Subscribe(table string, filter Filter) *Subscription {
	s := newSubscription(table, filter, b.remove)

	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[table]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[table] = set
	}
	set[s] = struct{}{}
	return s
}

// Count 当前订阅数量
func (b *LocalBroker) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, set := range b.subs {
		n += len(set)
	}
	return n
}

func (b *LocalBroker) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[s.table]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(b.subs, s.table)
		}
	}
}
