// Package model 定义了与数据库表对应的数据结构
package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidChannel 未知的频道类型
var ErrInvalidChannel = errors.New("invalid channel kind")

// ChannelKind 聊天频道类型
type ChannelKind string

const (
	ChannelPublic  ChannelKind = "public"  // 公共频道，所有人可见
	ChannelPrivate ChannelKind = "private" // 私聊频道，仅用户与其 AI 伙伴可见
)

// 频道对应的表名
const (
	TablePublicChats  = "public_chats"
	TablePrivateChats = "private_chats"
)

// ParseChannelKind 将字符串解析为频道类型
// 同时接受 "public"/"private" 以及表名 "public_chats"/"private_chats"
func ParseChannelKind(s string) (ChannelKind, error) {
	switch s {
	case string(ChannelPublic), TablePublicChats:
		return ChannelPublic, nil
	case string(ChannelPrivate), TablePrivateChats:
		return ChannelPrivate, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidChannel, s)
}

// Table 返回频道对应的数据库表名
func (k ChannelKind) Table() string {
	if k == ChannelPrivate {
		return TablePrivateChats
	}
	return TablePublicChats
}

// Valid 判断频道类型是否合法
func (k ChannelKind) Valid() bool {
	return k == ChannelPublic || k == ChannelPrivate
}

// Sender 消息发送方
type Sender string

const (
	SenderUser Sender = "user" // 人类用户
	SenderAI   Sender = "ai"   // AI 伙伴
)

// AIUsername AI 消息使用的显示名
const AIUsername = "AI"

// aiIdentitySuffix 派生 AI 身份时拼接的固定后缀
const aiIdentitySuffix = "a100-0000-0000-0000-000000000000"

// AIUserID 根据用户 ID 派生其专属 AI 伙伴的身份
// 规则：取用户 ID 的前 4 个字节（不足 4 个时取全部），拼接固定后缀。
//
// 这是纯函数，相同输入总是得到相同输出。
// 注意：结果不保证唯一。任意两个前 4 字节相同的用户 ID 会得到同一个 AI 身份，
// 此时双方的私聊 AI 消息会互相可见。
func AIUserID(userID string) string {
	prefix := userID
	if len(prefix) > 4 {
		prefix = prefix[:4]
	}
	return prefix + aiIdentitySuffix
}

// Message 聊天消息
// 对应数据库表 public_chats / private_chats，两张表结构相同，
// 查询时通过 db.Table(kind.Table()) 指定表名
type Message struct {
	// ID 自增主键，与 created_at 一起决定排序
	ID int64 `gorm:"primaryKey" json:"id"`

	// UserID 消息所属身份，AI 消息为派生的 AI 身份
	UserID string `gorm:"size:64;index;not null" json:"user_id"`

	// Sender 发送方: user / ai
	Sender Sender `gorm:"size:10;not null" json:"sender"`

	// Username 写入时冗余的显示名
	Username string `gorm:"size:100" json:"username"`

	// Message 消息正文
	Message string `gorm:"type:text;not null" json:"message"`

	// CreatedAt 由发送端在发送时赋值
	CreatedAt time.Time `gorm:"index;not null" json:"created_at"`
}

// ChangeType 行变更类型
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent 表行变更通知
// INSERT/UPDATE 携带 New；UPDATE/DELETE 携带 Old
type ChangeEvent struct {
	Table string     `json:"table"`
	Type  ChangeType `json:"type"`
	New   *Message   `json:"new,omitempty"`
	Old   *Message   `json:"old,omitempty"`
}

// Row 返回事件关联的行，INSERT/UPDATE 取新行，DELETE 取旧行
func (e ChangeEvent) Row() *Message {
	if e.New != nil {
		return e.New
	}
	return e.Old
}

// Mode AI 回复模式
type Mode string

const (
	ModeOneOnOne Mode = "ONE_ON_ONE" // 私聊，只针对单条消息
	ModeGroup    Mode = "GROUP"      // 群聊，附带最近的公共消息作为上下文
)
