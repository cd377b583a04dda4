package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"nexchat/internal/model"
	"nexchat/pkg/logger"
)

// 连接配置常量
const (
	// 写超时时间
	writeWait = 10 * time.Second

	// 等待 Pong 响应的超时时间
	pongWait = 60 * time.Second

	// 发送 Ping 的间隔（必须小于 pongWait）
	pingPeriod = (pongWait * 9) / 10

	// 客户端帧最大大小（64KB）
	maxMessageSize = 64 * 1024
)

// Client 表示一个实时通道的 WebSocket 连接
// 一个连接可以持有多个订阅，以 topic 区分
type Client struct {
	hub    *Hub            // 所属的 Hub
	conn   *websocket.Conn // WebSocket 连接
	send   chan []byte     // 发送消息的通道
	userID string          // 连接所属用户
	broker Broker
	log    *logger.Logger

	mu     sync.Mutex               // 保护 send 关闭与 subs
	closed bool                     // send 是否已关闭
	subs   map[string]*Subscription // topic -> 订阅
}

// NewClient 创建新的客户端
func NewClient(hub *Hub, conn *websocket.Conn, broker Broker, userID string, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256), // 缓冲区大小
		userID: userID,
		broker: broker,
		log:    log.With("user_id", userID),
		subs:   make(map[string]*Subscription),
	}
}

// ReadPump 读取 WebSocket 帧的 goroutine
// 连接断开时注销客户端，释放它持有的所有订阅
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

	// 每次收到 Pong，重置读取超时
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read error", "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError(ErrCodeBadFrame, "invalid frame", "")
			continue
		}
		c.handleMessage(&msg)
	}
}

// WritePump 写入 WebSocket 帧的 goroutine
// 负责从 send 通道读取消息并写入 WebSocket，同时定期发送 Ping
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// send 通道已关闭
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage 向客户端发送帧
// 非阻塞，缓冲区满时丢弃
func (c *Client) SendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("marshal frame failed", "type", msg.Type, "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.log.Warn("client send buffer full, dropping frame", "type", msg.Type)
	}
}

func (c *Client) sendError(code int, message, topic string) {
	c.SendMessage(NewMessage(TypeError, &ErrorPayload{Code: code, Message: message, Topic: topic}))
}

// handleMessage 处理接收到的帧
func (c *Client) handleMessage(msg *Message) {
	switch msg.Type {
	case TypeHeartbeat:
		c.SendMessage(NewMessageWithID(TypePong, nil, msg.MessageID))

	case TypeSubscribe:
		var p SubscribePayload
		if err := msg.Decode(&p); err != nil || p.Topic == "" {
			c.sendError(ErrCodeBadFrame, "subscribe requires topic and table", p.Topic)
			return
		}
		c.subscribe(p, msg.MessageID)

	case TypeUnsubscribe:
		var p UnsubscribePayload
		if err := msg.Decode(&p); err != nil || p.Topic == "" {
			c.sendError(ErrCodeBadFrame, "unsubscribe requires topic", "")
			return
		}
		if !c.unsubscribe(p.Topic) {
			c.sendError(ErrCodeUnknownTopic, "unknown topic", p.Topic)
			return
		}
		c.SendMessage(NewMessageWithID(TypeUnsubscribed, &UnsubscribePayload{Topic: p.Topic}, msg.MessageID))

	default:
		c.sendError(ErrCodeBadFrame, "unknown frame type "+msg.Type, "")
	}
}

// subscribe 建立订阅
// 私聊表的过滤条件由服务端决定：只允许看到自己与自己 AI 伙伴的行，
// 客户端传入的 filter 被忽略
func (c *Client) subscribe(p SubscribePayload, messageID string) {
	kind, err := model.ParseChannelKind(p.Table)
	if err != nil {
		c.sendError(ErrCodeBadTable, err.Error(), p.Topic)
		return
	}

	var filter Filter
	if kind == model.ChannelPrivate {
		filter = InUserIDs(c.userID, model.AIUserID(c.userID))
	} else {
		filter, err = ParseFilter(p.Filter)
		if err != nil {
			c.sendError(ErrCodeBadFilter, err.Error(), p.Topic)
			return
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if _, exists := c.subs[p.Topic]; exists {
		c.mu.Unlock()
		c.sendError(ErrCodeDuplicate, "topic already subscribed", p.Topic)
		return
	}
	sub := c.broker.Subscribe(kind.Table(), filter)
	c.subs[p.Topic] = sub
	c.mu.Unlock()

	go c.forward(p.Topic, sub)

	c.SendMessage(NewMessageWithID(TypeSubscribed, &SubscribedPayload{
		Topic:  p.Topic,
		Table:  kind.Table(),
		Filter: filter.String(),
	}, messageID))
}

// forward 把订阅上的事件转成 change 帧，订阅关闭后退出
func (c *Client) forward(topic string, sub *Subscription) {
	for ev := range sub.Events() {
		c.SendMessage(NewMessage(TypeChange, &ChangePayload{Topic: topic, Event: ev}))
	}
}

func (c *Client) unsubscribe(topic string) bool {
	c.mu.Lock()
	sub, ok := c.subs[topic]
	delete(c.subs, topic)
	c.mu.Unlock()

	if ok {
		sub.Close()
	}
	return ok
}

// SubscriptionCount 当前持有的订阅数
func (c *Client) SubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Close 释放所有订阅并关闭发送通道，可重复调用
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = make(map[string]*Subscription)
	close(c.send)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}
