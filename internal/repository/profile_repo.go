package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"nexchat/internal/model"
)

// ProfileRepository 用户资料数据访问层（app_data 表）
type ProfileRepository struct {
	db *gorm.DB
}

// NewProfileRepository 创建 ProfileRepository 实例
func NewProfileRepository(db *gorm.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// GetByUserID 获取用户资料
// 未找到时返回 (nil, nil)
func (r *ProfileRepository) GetByUserID(ctx context.Context, userID string) (*model.Profile, error) {
	var p model.Profile
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// Create 新建资料
func (r *ProfileRepository) Create(ctx context.Context, p *model.Profile) error {
	return r.db.WithContext(ctx).Create(p).Error
}

// UpdateFields 更新指定字段
// 参数:
//   - fields: 要更新的列，如 map[string]interface{}{"name": "xxx"}
func (r *ProfileRepository) UpdateFields(ctx context.Context, userID string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&model.Profile{}).Where("user_id = ?", userID).Updates(fields).Error
}
