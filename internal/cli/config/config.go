// Package config 管理终端客户端配置
// 配置保存在 ~/.nexchat/config.yaml，包含服务器地址与登录凭证
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// DefaultServerURL 默认服务器地址
const DefaultServerURL = "http://localhost:8080"

// Config CLI 配置结构
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Auth   AuthConfig   `mapstructure:"auth"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	URL string `mapstructure:"url"` // HTTP API 地址，WebSocket 地址由它推导
}

// AuthConfig 登录凭证
type AuthConfig struct {
	AccessToken  string `mapstructure:"access_token"`  // 访问 Token（REST 与 WS）
	RefreshToken string `mapstructure:"refresh_token"` // 刷新 Token
	UserID       string `mapstructure:"user_id"`       // 当前用户 ID
	Email        string `mapstructure:"email"`         // 登录邮箱
}

var (
	v   *viper.Viper
	cfg *Config
)

// Init 初始化配置，目录为 ~/.nexchat
func Init() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("获取用户目录失败: %w", err)
	}
	return InitAt(filepath.Join(home, ".nexchat"))
}

// InitAt 在指定目录初始化配置，文件不存在时写入默认配置
func InitAt(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	v = viper.New()
	v.SetConfigFile(filepath.Join(dir, "config.yaml"))
	v.SetConfigType("yaml")

	// NEXCHAT_SERVER_URL 覆盖配置文件
	v.SetEnvPrefix("nexchat")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.url", DefaultServerURL)
	v.SetDefault("auth.access_token", "")
	v.SetDefault("auth.refresh_token", "")
	v.SetDefault("auth.user_id", "")
	v.SetDefault("auth.email", "")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("读取配置失败: %w", err)
		}
		if err := v.WriteConfig(); err != nil {
			return fmt.Errorf("写入默认配置失败: %w", err)
		}
	}

	cfg = &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("解析配置失败: %w", err)
	}
	return nil
}

// Get 获取配置
func Get() *Config {
	return cfg
}

// SaveAuth 保存登录凭证
func SaveAuth(a AuthConfig) error {
	v.Set("auth.access_token", a.AccessToken)
	v.Set("auth.refresh_token", a.RefreshToken)
	v.Set("auth.user_id", a.UserID)
	v.Set("auth.email", a.Email)
	if cfg != nil {
		cfg.Auth = a
	}
	return v.WriteConfig()
}

// SaveAccessToken 刷新后只更新 Access Token
func SaveAccessToken(token string) error {
	v.Set("auth.access_token", token)
	if cfg != nil {
		cfg.Auth.AccessToken = token
	}
	return v.WriteConfig()
}

// ClearAuth 清除本地凭证
func ClearAuth() error {
	return SaveAuth(AuthConfig{})
}

// GetServerURL 获取服务器地址
func GetServerURL() string {
	if cfg == nil || cfg.Server.URL == "" {
		return DefaultServerURL
	}
	return cfg.Server.URL
}

// SetServerURL 设置服务器地址，下次写入配置时一并保存
func SetServerURL(url string) {
	url = strings.TrimRight(url, "/")
	if v != nil {
		v.Set("server.url", url)
	}
	if cfg != nil {
		cfg.Server.URL = url
	}
}

// IsLoggedIn 检查是否已登录
func IsLoggedIn() bool {
	return cfg != nil && cfg.Auth.AccessToken != ""
}
