package model

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Profile 用户资料
// 对应数据库表 app_data，每个用户一条，首次完成引导时创建
type Profile struct {
	// UserID 主键，即认证用户 ID
	UserID string `gorm:"primaryKey;size:36" json:"user_id"`

	// Username 显示名，写消息时冗余到消息行
	Username string `gorm:"size:100" json:"username"`

	// Name 真实姓名
	Name string `gorm:"size:100" json:"name"`

	// Age 年龄，0 表示未填写
	Age int `json:"age"`

	// Chats 嵌套的聊天记录，创建时写入一条欢迎语
	// 数据库列类型随驱动变化（postgres 为 jsonb，mysql 为 json，sqlite 为 text）
	Chats datatypes.JSON `json:"chats"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName 指定表名
func (Profile) TableName() string {
	return "app_data"
}

// Interaction 引导时写入 chats 的一条交互记录
type Interaction struct {
	Message string `json:"message"`
	Sender  string `json:"sender"`
}

// ChatsBlob chats 列的结构
type ChatsBlob struct {
	Interactions []Interaction `json:"interactions"`
}

// DefaultChats 生成新用户的初始 chats，包含一条欢迎语
func DefaultChats(username string) datatypes.JSON {
	blob := ChatsBlob{Interactions: []Interaction{{
		Message: fmt.Sprintf("Hi, %s! Welcome to the chat.", username),
		Sender:  AIUsername,
	}}}
	raw, _ := json.Marshal(blob)
	return datatypes.JSON(raw)
}

// ChatsEmpty 判断 chats 是否未填写
func (p *Profile) ChatsEmpty() bool {
	s := string(p.Chats)
	return s == "" || s == "null" || s == "{}"
}
