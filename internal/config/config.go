package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	apperrors "github.com/aihub/gemini-bot/internal/errors"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "GEMINIBOT"

// Config 机器人进程配置
type Config struct {
	App       AppConfig       `mapstructure:"app" validate:"required"`
	Telegram  TelegramConfig  `mapstructure:"telegram" validate:"required"`
	AI        AIConfig        `mapstructure:"ai" validate:"required"`
	Session   SessionConfig   `mapstructure:"session" validate:"required"`
	Stream    StreamConfig    `mapstructure:"stream" validate:"required"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit" validate:"required"`
	Quota     QuotaConfig     `mapstructure:"quota" validate:"required"`
	Settings  SettingsConfig  `mapstructure:"settings" validate:"required"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name            string `mapstructure:"name" validate:"required"`
	Env             string `mapstructure:"env" validate:"required,oneof=development staging production"`
	DefaultLanguage string `mapstructure:"default_language" validate:"required,oneof=zh en"`
}

// TelegramConfig Telegram配置
type TelegramConfig struct {
	Token     string `mapstructure:"token" validate:"required"`
	ServerURL string `mapstructure:"server_url" validate:"omitempty,url"`
	Workers   int    `mapstructure:"workers" validate:"min=1"`
}

// AIConfig 生成式后端配置
type AIConfig struct {
	APIKey       string        `mapstructure:"api_key" validate:"required"`
	BaseURL      string        `mapstructure:"base_url" validate:"required,url"`
	Models       ModelsConfig  `mapstructure:"models" validate:"required"`
	TextTimeout  time.Duration `mapstructure:"text_timeout" validate:"gt=0"`
	ImageTimeout time.Duration `mapstructure:"image_timeout" validate:"gt=0"`
	Breaker      BreakerConfig `mapstructure:"breaker"`
}

// ModelsConfig 逻辑模型类型到具体模型ID的映射
type ModelsConfig struct {
	Fast       string `mapstructure:"fast" validate:"required"`
	Pro        string `mapstructure:"pro" validate:"required"`
	Image      string `mapstructure:"image" validate:"required"`
	VisionEdit string `mapstructure:"vision_edit" validate:"required"`
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	FailureThreshold int64         `mapstructure:"failure_threshold" validate:"min=1"`
	SuccessThreshold int64         `mapstructure:"success_threshold" validate:"min=1"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout" validate:"gt=0"`
}

// SessionConfig 会话配置
type SessionConfig struct {
	MaxTurns int `mapstructure:"max_turns" validate:"min=1"`
}

// StreamConfig 流式输出配置
type StreamConfig struct {
	UpdateInterval   time.Duration `mapstructure:"update_interval" validate:"gt=0"`
	MaxMessageLength int           `mapstructure:"max_message_length" validate:"min=64"`
}

// RateLimitConfig 出站调用限流配置
type RateLimitConfig struct {
	General BudgetConfig `mapstructure:"general"`
	Edit    BudgetConfig `mapstructure:"edit"`
}

// BudgetConfig 单个限流预算
type BudgetConfig struct {
	Limit  int           `mapstructure:"limit" validate:"min=1"`
	Period time.Duration `mapstructure:"period" validate:"gt=0"`
}

// QuotaConfig 配额配置
type QuotaConfig struct {
	Provider string `mapstructure:"provider" validate:"required,oneof=redis memory"`
	Default  int64  `mapstructure:"default" validate:"min=0"`
}

// SettingsConfig 用户设置存储配置
type SettingsConfig struct {
	Provider    string `mapstructure:"provider" validate:"required,oneof=postgres memory"`
	DatabaseURL string `mapstructure:"database_url" validate:"required_if=Provider postgres"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers" validate:"required_if=Enabled true"`
	Topic   string   `mapstructure:"topic"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// ConfigLoader 配置加载器
type ConfigLoader struct {
	viper     *viper.Viper
	validator *validator.Validate
	logger    *zap.Logger
}

// NewConfigLoader 创建配置加载器
func NewConfigLoader() *ConfigLoader {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &ConfigLoader{
		viper:     v,
		validator: validator.New(),
		logger:    zap.NewNop(),
	}
}

// WithLogger 设置日志记录器
func (cl *ConfigLoader) WithLogger(l *zap.Logger) *ConfigLoader {
	if l != nil {
		cl.logger = l
	}
	return cl
}

// Load 从多个源加载配置
func (cl *ConfigLoader) Load() (*Config, error) {
	// 设置默认值
	cl.setDefaults()

	// 从常用环境变量读取
	cl.loadFromEnv()

	// 尝试从配置文件读取（如果存在）
	if configFile := os.Getenv("CONFIG_FILE"); configFile != "" {
		cl.viper.SetConfigFile(configFile)
		if err := cl.viper.ReadInConfig(); err != nil {
			return nil, apperrors.NewConfigError(apperrors.ErrCodeConfigInvalid, "read config file %s", configFile).WithCause(err)
		}
	}

	return cl.decode()
}

// UsingFile 是否使用了配置文件
func (cl *ConfigLoader) UsingFile() bool {
	return cl.viper.ConfigFileUsed() != ""
}

// Watch 监听配置文件变化，变更通过校验后回调
func (cl *ConfigLoader) Watch(onChange func(*Config)) {
	if !cl.UsingFile() {
		return
	}
	cl.viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := cl.decode()
		if err != nil {
			cl.logger.Warn("忽略无效的配置变更", zap.String("file", e.Name), zap.Error(err))
			return
		}
		cl.logger.Info("配置已重新加载", zap.String("file", e.Name))
		onChange(cfg)
	})
	cl.viper.WatchConfig()
}

// Set 覆盖单个配置项，主要用于命令行参数
func (cl *ConfigLoader) Set(key string, value interface{}) {
	cl.viper.Set(key, value)
}

func (cl *ConfigLoader) decode() (*Config, error) {
	var cfg Config
	if err := cl.viper.Unmarshal(&cfg); err != nil {
		return nil, apperrors.NewConfigError(apperrors.ErrCodeConfigInvalid, "unmarshal config").WithCause(err)
	}
	if err := cl.validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validateConfig 验证配置，缺失凭证单独归类
func (cl *ConfigLoader) validateConfig(cfg *Config) error {
	err := cl.validator.Struct(cfg)
	if err == nil {
		return nil
	}
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			switch fe.StructNamespace() {
			case "Config.Telegram.Token", "Config.AI.APIKey":
				return apperrors.NewConfigError(apperrors.ErrCodeMissingCredential, "missing credential %s", fe.Namespace()).WithCause(err)
			}
		}
	}
	return apperrors.NewConfigError(apperrors.ErrCodeConfigInvalid, "configuration validation failed").WithCause(err)
}

// setDefaults 设置默认值
func (cl *ConfigLoader) setDefaults() {
	// 应用配置
	cl.viper.SetDefault("app.name", "gemini-bot")
	cl.viper.SetDefault("app.env", "development")
	cl.viper.SetDefault("app.default_language", "zh")

	// Telegram配置
	cl.viper.SetDefault("telegram.token", "")
	cl.viper.SetDefault("telegram.server_url", "")
	cl.viper.SetDefault("telegram.workers", 8)

	// AI配置
	cl.viper.SetDefault("ai.api_key", "")
	cl.viper.SetDefault("ai.base_url", "https://generativelanguage.googleapis.com/v1beta/openai/")
	cl.viper.SetDefault("ai.models.fast", "gemini-2.5-flash")
	cl.viper.SetDefault("ai.models.pro", "gemini-2.5-pro")
	cl.viper.SetDefault("ai.models.image", "imagen-3.0-generate-002")
	cl.viper.SetDefault("ai.models.vision_edit", "gemini-2.0-flash-preview-image-generation")
	cl.viper.SetDefault("ai.text_timeout", "90s")
	cl.viper.SetDefault("ai.image_timeout", "180s")
	cl.viper.SetDefault("ai.breaker.failure_threshold", 5)
	cl.viper.SetDefault("ai.breaker.success_threshold", 2)
	cl.viper.SetDefault("ai.breaker.open_timeout", "60s")

	// 会话与流式配置
	cl.viper.SetDefault("session.max_turns", 10)
	cl.viper.SetDefault("stream.update_interval", "500ms")
	cl.viper.SetDefault("stream.max_message_length", 4096)

	// 限流配置
	cl.viper.SetDefault("ratelimit.general.limit", 18)
	cl.viper.SetDefault("ratelimit.general.period", "60s")
	cl.viper.SetDefault("ratelimit.edit.limit", 60)
	cl.viper.SetDefault("ratelimit.edit.period", "60s")

	// 配额与设置存储
	cl.viper.SetDefault("quota.provider", "memory")
	cl.viper.SetDefault("quota.default", 100)
	cl.viper.SetDefault("settings.provider", "memory")
	cl.viper.SetDefault("settings.database_url", "")

	// 基础设施
	cl.viper.SetDefault("redis.addr", "localhost:6379")
	cl.viper.SetDefault("redis.password", "")
	cl.viper.SetDefault("redis.db", 0)
	cl.viper.SetDefault("kafka.enabled", false)
	cl.viper.SetDefault("kafka.brokers", []string{})
	cl.viper.SetDefault("kafka.topic", "bot-exchanges")
	cl.viper.SetDefault("metrics.enabled", true)
	cl.viper.SetDefault("metrics.listen", ":9100")
}

// loadFromEnv 从常用的无前缀环境变量加载配置
func (cl *ConfigLoader) loadFromEnv() {
	cl.setFromEnv("telegram.token", "TELEGRAM_BOT_TOKEN")
	cl.setFromEnv("ai.api_key", "GEMINI_API_KEY")
	cl.setFromEnv("redis.addr", "REDIS_ADDR")
	cl.setFromEnv("redis.password", "REDIS_PASSWORD")
	if db := os.Getenv("REDIS_DB"); db != "" {
		if dbNum, err := strconv.Atoi(db); err == nil {
			cl.viper.Set("redis.db", dbNum)
		}
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cl.viper.Set("settings.provider", "postgres")
		cl.viper.Set("settings.database_url", dsn)
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		brokerList := strings.Split(brokers, ",")
		for i := range brokerList {
			brokerList[i] = strings.TrimSpace(brokerList[i])
		}
		cl.viper.Set("kafka.brokers", brokerList)
		cl.viper.Set("kafka.enabled", true)
	}
}

// setFromEnv 辅助函数：从环境变量设置配置
func (cl *ConfigLoader) setFromEnv(configKey, envKey string) {
	if value := os.Getenv(envKey); value != "" {
		cl.viper.Set(configKey, value)
	}
}

// String 返回脱敏后的配置摘要
func (c *Config) String() string {
	return fmt.Sprintf("app=%s env=%s fast=%s pro=%s image=%s quota=%s settings=%s kafka=%t",
		c.App.Name, c.App.Env, c.AI.Models.Fast, c.AI.Models.Pro, c.AI.Models.Image,
		c.Quota.Provider, c.Settings.Provider, c.Kafka.Enabled)
}
