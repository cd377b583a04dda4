package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"nexchat/internal/model"
)

// MessageRepository 聊天消息数据访问层
// public_chats 与 private_chats 结构相同，每个方法通过 kind 选择表
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建 MessageRepository 实例
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) table(ctx context.Context, kind model.ChannelKind) *gorm.DB {
	return r.db.WithContext(ctx).Table(kind.Table())
}

// List 获取频道的消息
// 按 created_at 正序排列，相同时间按 id 正序
// 参数:
//   - kind: 频道类型
//   - userIDs: 非空时只返回 user_id 属于其中的行（私聊）
//
// 返回:
//   - []model.Message: 消息列表
//   - error: 数据库错误
func (r *MessageRepository) List(ctx context.Context, kind model.ChannelKind, userIDs []string) ([]model.Message, error) {
	messages := make([]model.Message, 0)
	query := r.table(ctx, kind)
	if len(userIDs) > 0 {
		query = query.Where("user_id IN ?", userIDs)
	}
	err := query.
		Order("created_at ASC").
		Order("id ASC").
		Find(&messages).Error
	return messages, err
}

// Latest 获取频道最新的 N 条消息
// 按 created_at 倒序（最新的在前），相同时间按 id 倒序
func (r *MessageRepository) Latest(ctx context.Context, kind model.ChannelKind, limit int) ([]model.Message, error) {
	messages := make([]model.Message, 0, limit)
	err := r.table(ctx, kind).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

// Create 写入一条消息，ID 由数据库分配并回填
func (r *MessageRepository) Create(ctx context.Context, kind model.ChannelKind, message *model.Message) error {
	return r.table(ctx, kind).Create(message).Error
}

// GetByID 根据 ID 获取消息
// 未找到时返回 (nil, nil)
func (r *MessageRepository) GetByID(ctx context.Context, kind model.ChannelKind, id int64) (*model.Message, error) {
	var m model.Message
	err := r.table(ctx, kind).Where("id = ?", id).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// UpdateText 修改消息正文
func (r *MessageRepository) UpdateText(ctx context.Context, kind model.ChannelKind, id int64, text string) error {
	return r.table(ctx, kind).Where("id = ?", id).Update("message", text).Error
}

// Delete 删除一条消息
func (r *MessageRepository) Delete(ctx context.Context, kind model.ChannelKind, id int64) error {
	return r.table(ctx, kind).Where("id = ?", id).Delete(&model.Message{}).Error
}
