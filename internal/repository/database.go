// Package repository 提供数据访问层的实现
// 封装所有与数据库的交互操作
package repository

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"nexchat/internal/config"
	"nexchat/internal/model"
)

// OpenDatabase 按配置的驱动打开数据库连接并配置连接池
// 参数:
//   - cfg: 数据库配置，driver 取 postgres / mysql / sqlite
//   - verbose: 是否输出每条 SQL（开发模式）
//
// 返回:
//   - *gorm.DB: 数据库连接
//   - error: 连接错误
func OpenDatabase(cfg config.DatabaseConfig, verbose bool) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	gormLogger := gormlogger.Default.LogMode(gormlogger.Warn)
	if verbose {
		gormLogger = gormlogger.Default.LogMode(gormlogger.Info)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)
	}
	return db, nil
}

// publicChatRow / privateChatRow 仅用于迁移
// 两张表共用 model.Message 的结构，各自的类型让索引名带上各自的表名
type publicChatRow struct{ model.Message }

func (publicChatRow) TableName() string { return model.TablePublicChats }

type privateChatRow struct{ model.Message }

func (privateChatRow) TableName() string { return model.TablePrivateChats }

// AutoMigrate 自动迁移数据库表
// users、app_data、public_chats、private_chats
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.User{},
		&model.Profile{},
		&publicChatRow{},
		&privateChatRow{},
	); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}
