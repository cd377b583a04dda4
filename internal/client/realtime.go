package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"nexchat/internal/model"
	"nexchat/internal/realtime"
	"nexchat/pkg/logger"
)

const (
	heartbeatPeriod = 30 * time.Second
	writeWait       = 10 * time.Second
	ackTimeout      = 10 * time.Second
	eventBuffer     = 256
)

// ErrConnClosed 实时连接已关闭
var ErrConnClosed = errors.New("实时连接已关闭")

// Realtime 实时通道的 WebSocket 连接
// 一个连接可以同时持有多个订阅
type Realtime struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	log  *logger.Logger
	seq  atomic.Int64

	mu      sync.Mutex
	closed  bool
	subs    map[string]*Subscription
	pending map[string]chan error // topic -> 订阅确认
}

// DialRealtime 连接服务器的实时通道
// baseURL: HTTP 服务器地址，token: Access Token
func DialRealtime(ctx context.Context, baseURL, token string, log *logger.Logger) (*Realtime, error) {
	if log == nil {
		log = logger.Nop()
	}
	u, err := wsURL(baseURL, "/ws/realtime", url.Values{"token": {token}})
	if err != nil {
		return nil, err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("连接失败: %w", err)
	}

	r := &Realtime{
		conn:    conn,
		send:    make(chan []byte, 64),
		done:    make(chan struct{}),
		log:     log.With("component", "RealtimeClient"),
		subs:    make(map[string]*Subscription),
		pending: make(map[string]chan error),
	}
	go r.readPump()
	go r.writePump()
	return r, nil
}

// Subscribe 订阅一张表的变更，等到服务端确认后返回
// filter 为 user_id=in.(...) 形式，可为空
func (r *Realtime) Subscribe(ctx context.Context, table, filter string) (*Subscription, error) {
	topic := table + ":" + strconv.FormatInt(r.seq.Add(1), 10)
	sub := &Subscription{rt: r, topic: topic, events: make(chan model.ChangeEvent, eventBuffer)}
	ack := make(chan error, 1)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrConnClosed
	}
	r.subs[topic] = sub
	r.pending[topic] = ack
	r.mu.Unlock()

	err := r.write(realtime.NewMessageWithID(realtime.TypeSubscribe, &realtime.SubscribePayload{
		Topic:  topic,
		Table:  table,
		Filter: filter,
	}, topic))
	if err == nil {
		ctx, cancel := context.WithTimeout(ctx, ackTimeout)
		defer cancel()
		select {
		case err = <-ack:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}

	r.mu.Lock()
	delete(r.pending, topic)
	r.mu.Unlock()

	if err != nil {
		sub.Close()
		return nil, err
	}
	return sub, nil
}

// Close 关闭连接，释放所有订阅，可重复调用
func (r *Realtime) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.done)
	subs := make([]*Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	for topic, ack := range r.pending {
		ack <- ErrConnClosed
		delete(r.pending, topic)
	}
	r.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	_ = r.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	_ = r.conn.Close()
}

// Done 连接关闭后可读
func (r *Realtime) Done() <-chan struct{} {
	return r.done
}

// write 排队一帧，连接关闭后返回 ErrConnClosed
func (r *Realtime) write(msg *realtime.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case r.send <- data:
		return nil
	case <-r.done:
		return ErrConnClosed
	}
}

func (r *Realtime) readPump() {
	defer r.Close()

	for {
		_, raw, err := r.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.log.Warn("websocket read error", "error", err)
			}
			return
		}

		var msg realtime.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			r.log.Warn("invalid frame", "error", err)
			continue
		}
		r.handle(&msg)
	}
}

func (r *Realtime) handle(msg *realtime.Message) {
	switch msg.Type {
	case realtime.TypeSubscribed:
		var p realtime.SubscribedPayload
		if err := msg.Decode(&p); err == nil {
			r.ack(p.Topic, nil)
		}

	case realtime.TypeError:
		var p realtime.ErrorPayload
		if err := msg.Decode(&p); err != nil {
			return
		}
		r.log.Warn("realtime error frame", "code", p.Code, "message", p.Message, "topic", p.Topic)
		if p.Topic != "" {
			r.ack(p.Topic, fmt.Errorf("订阅失败 (%d): %s", p.Code, p.Message))
		}

	case realtime.TypeChange:
		var p realtime.ChangePayload
		if err := msg.Decode(&p); err != nil {
			r.log.Warn("invalid change frame", "error", err)
			return
		}
		r.deliver(p.Topic, p.Event)

	case realtime.TypePong, realtime.TypeUnsubscribed:
	}
}

func (r *Realtime) ack(topic string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.pending[topic]; ok {
		ch <- err
		delete(r.pending, topic)
	}
}

// deliver 在持锁状态下投递，保证订阅关闭后不再写入
func (r *Realtime) deliver(topic string, ev model.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[topic]
	if !ok {
		return
	}
	select {
	case sub.events <- ev:
	default:
		r.log.Warn("subscription buffer full, dropping event", "topic", topic, "type", ev.Type)
	}
}

func (r *Realtime) writePump() {
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return

		case data := <-r.send:
			_ = r.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := r.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				r.log.Warn("websocket write failed", "error", err)
				go r.Close()
				return
			}

		case <-ticker.C:
			data, _ := json.Marshal(realtime.NewMessage(realtime.TypeHeartbeat, nil))
			_ = r.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := r.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				go r.Close()
				return
			}
		}
	}
}

// Subscription 实时通道上的一个订阅，实现 chat.Subscription
type Subscription struct {
	rt     *Realtime
	topic  string
	events chan model.ChangeEvent
	once   sync.Once
}

// Events 变更事件流，订阅关闭后通道被关闭
func (s *Subscription) Events() <-chan model.ChangeEvent {
	return s.events
}

// Topic 订阅标识
func (s *Subscription) Topic() string {
	return s.topic
}

// Close 取消订阅，可重复调用
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.rt.mu.Lock()
		_, live := s.rt.subs[s.topic]
		delete(s.rt.subs, s.topic)
		closed := s.rt.closed
		close(s.events)
		s.rt.mu.Unlock()

		if live && !closed {
			_ = s.rt.write(realtime.NewMessage(realtime.TypeUnsubscribe, &realtime.UnsubscribePayload{Topic: s.topic}))
		}
	})
}
