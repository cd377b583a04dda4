// Package realtime 提供表行变更的实时推送
// 服务端写入消息后发布 ChangeEvent，通过 Broker 分发给订阅者，
// 再经 WebSocket 推送到客户端
package realtime

import (
	"encoding/json"
	"time"

	"nexchat/internal/model"
)

// MessageType 帧类型常量
const (
	// 客户端 → 服务端
	TypeSubscribe   = "subscribe"   // 订阅某张表的变更
	TypeUnsubscribe = "unsubscribe" // 取消订阅
	TypeHeartbeat   = "heartbeat"   // 心跳

	// 服务端 → 客户端
	TypeSubscribed   = "subscribed"   // 订阅成功
	TypeUnsubscribed = "unsubscribed" // 取消订阅成功
	TypeChange       = "change"       // 行变更事件
	TypeError        = "error"        // 错误消息
	TypePong         = "pong"         // 心跳响应
)

// Message WebSocket 帧结构
// 所有帧都使用这个统一的结构，Payload 按 Type 解析
type Message struct {
	Type      string          `json:"type"`                 // 帧类型
	Payload   json.RawMessage `json:"payload,omitempty"`    // 帧内容
	Timestamp int64           `json:"timestamp"`            // 时间戳（毫秒）
	MessageID string          `json:"message_id,omitempty"` // 帧ID，用于追踪
}

// NewMessage 创建新帧
func NewMessage(msgType string, payload interface{}) *Message {
	msg := &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
	}
	if payload != nil {
		msg.Payload, _ = json.Marshal(payload)
	}
	return msg
}

// NewMessageWithID 创建带帧ID的新帧
func NewMessageWithID(msgType string, payload interface{}, messageID string) *Message {
	msg := NewMessage(msgType, payload)
	msg.MessageID = messageID
	return msg
}

// Decode 将 Payload 解析到 v
func (m *Message) Decode(v interface{}) error {
	if len(m.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}

// ==================== Payload 类型定义 ====================

// SubscribePayload 订阅请求
// Topic 由客户端自定，用于在 change 帧中区分订阅
type SubscribePayload struct {
	Topic  string `json:"topic"`            // 订阅标识
	Table  string `json:"table"`            // public_chats / private_chats
	Filter string `json:"filter,omitempty"` // 例如 user_id=in.(a,b)
}

// UnsubscribePayload 取消订阅请求
type UnsubscribePayload struct {
	Topic string `json:"topic"`
}

// SubscribedPayload 订阅确认
// Filter 为服务端实际生效的过滤条件
type SubscribedPayload struct {
	Topic  string `json:"topic"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

// ChangePayload 行变更推送
type ChangePayload struct {
	Topic string            `json:"topic"`
	Event model.ChangeEvent `json:"event"`
}

// ErrorPayload 错误消息 Payload
type ErrorPayload struct {
	Code    int    `json:"code"`            // 错误码
	Message string `json:"message"`         // 错误信息
	Topic   string `json:"topic,omitempty"` // 关联的订阅
}

// 错误码
const (
	ErrCodeBadFrame     = 4000 // 帧格式错误
	ErrCodeBadTable     = 4001 // 未知的表
	ErrCodeBadFilter    = 4002 // 过滤条件格式错误
	ErrCodeDuplicate    = 4003 // topic 已存在
	ErrCodeUnknownTopic = 4004 // topic 不存在
)
