// Package config 负责加载和管理应用程序的配置
// 使用 viper 库支持 YAML 配置文件和环境变量覆盖，加载后用 validator 校验
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config 是应用程序的根配置结构
// 包含所有子配置模块
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`   // 服务器配置
	Database DatabaseConfig `mapstructure:"database"` // 数据库配置
	Redis    RedisConfig    `mapstructure:"redis"`    // Redis 配置
	JWT      JWTConfig      `mapstructure:"jwt"`      // JWT 配置
	Log      LogConfig      `mapstructure:"log"`      // 日志配置
	AI       AIConfig       `mapstructure:"ai"`       // AI 服务配置
	Chat     ChatConfig     `mapstructure:"chat"`     // 聊天配置
}

// ServerConfig 服务器相关配置
type ServerConfig struct {
	Port int      `mapstructure:"port" validate:"min=1,max=65535"`         // 监听端口，默认 8080
	Mode string   `mapstructure:"mode" validate:"oneof=debug release test"` // 运行模式: debug / release / test
	CORS []string `mapstructure:"cors"`                                     // CORS 允许的域名
}

// DatabaseConfig 数据库连接配置
// driver 决定使用哪个 gorm 驱动，DSN 按驱动格式书写
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver" validate:"oneof=postgres mysql sqlite"` // postgres / mysql / sqlite
	DSN          string `mapstructure:"dsn" validate:"required"`                       // 连接串
	MaxIdleConns int    `mapstructure:"max_idle_conns"`                                // 最大空闲连接数
	MaxOpenConns int    `mapstructure:"max_open_conns"`                                // 最大打开连接数
	MaxLifetime  int    `mapstructure:"max_lifetime"`                                  // 连接最大生命周期（秒）
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Host     string `mapstructure:"host" validate:"required"` // Redis 主机地址
	Port     int    `mapstructure:"port"`                     // Redis 端口
	Username string `mapstructure:"username"`                 // Redis 用户名
	Password string `mapstructure:"password"`                 // Redis 密码
	DB       int    `mapstructure:"db"`                       // 数据库索引 (0-15)
	PoolSize int    `mapstructure:"pool_size"`                // 连接池大小
}

// JWTConfig JWT 认证配置
type JWTConfig struct {
	Secret        string        `mapstructure:"secret" validate:"min=32"` // JWT 签名密钥，至少32字符
	AccessExpire  time.Duration `mapstructure:"access_expire"`            // Access Token 过期时间
	RefreshExpire time.Duration `mapstructure:"refresh_expire"`           // Refresh Token 过期时间
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"` // 日志级别
	Mode  string `mapstructure:"mode" validate:"oneof=development production"` // zap 预设
}

// AIConfig AI 服务配置
type AIConfig struct {
	GeminiAPIKey string        `mapstructure:"gemini_api_key" validate:"required"` // Gemini API Key
	Model        string        `mapstructure:"model" validate:"required"`          // 模型标识
	Timeout      time.Duration `mapstructure:"timeout"`                            // 单次生成超时
	ContextSize  int           `mapstructure:"context_size" validate:"min=1"`      // GROUP 模式上下文条数
}

// ChatConfig 聊天相关配置
type ChatConfig struct {
	SendLockTTL      time.Duration `mapstructure:"send_lock_ttl"`      // 服务端发送锁的过期时间
	UsernameCacheTTL time.Duration `mapstructure:"username_cache_ttl"` // 用户名缓存时间
	RealtimeBackend  string        `mapstructure:"realtime_backend" validate:"oneof=local redis"`
}

// Load 从指定路径加载配置文件
// 支持环境变量覆盖配置项
// 参数:
//   - configPath: 配置文件目录路径 (如 "./configs")
//
// 返回:
//   - *Config: 校验通过的配置对象
//   - error: 加载或校验失败；缺少必填项时服务不能启动
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	// 将环境变量中的 _ 映射到配置的 .
	// 例如: DATABASE_DSN -> database.dsn
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	bindEnvVariables(v)
	setDefaults(v)

	// 配置文件不存在时继续使用默认值和环境变量
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// bindEnvVariables 绑定环境变量到配置项
func bindEnvVariables(v *viper.Viper) {
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.mode", "SERVER_MODE")

	_ = v.BindEnv("database.driver", "DATABASE_DRIVER")
	_ = v.BindEnv("database.dsn", "DATABASE_DSN")

	_ = v.BindEnv("redis.host", "REDIS_HOST")
	_ = v.BindEnv("redis.port", "REDIS_PORT")
	_ = v.BindEnv("redis.username", "REDIS_USERNAME")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")

	_ = v.BindEnv("jwt.secret", "JWT_SECRET")

	_ = v.BindEnv("ai.gemini_api_key", "GEMINI_API_KEY")
	_ = v.BindEnv("ai.model", "GEMINI_MODEL")
}

// setDefaults 设置配置项的默认值
// 当配置文件中没有指定某个值时，将使用这里设置的默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors", []string{"http://localhost:3000", "http://localhost:5173"})

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.max_lifetime", 3600)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 100)

	v.SetDefault("jwt.access_expire", "24h")
	v.SetDefault("jwt.refresh_expire", "168h")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.mode", "development")

	v.SetDefault("ai.model", "gemini-1.5-pro")
	v.SetDefault("ai.timeout", "30s")
	v.SetDefault("ai.context_size", 5)

	v.SetDefault("chat.send_lock_ttl", "60s")
	v.SetDefault("chat.username_cache_ttl", "10m")
	v.SetDefault("chat.realtime_backend", "redis")
}
