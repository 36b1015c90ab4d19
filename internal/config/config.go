package config

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	App        AppConfig
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	AI         AIConfig
	Auth       AuthConfig
	Log        LogConfig
	Optimizer  OptimizerConfig
	Scoring    ScoringConfig
	Experiment ExperimentConfig
	Seed       SeedConfig
}

// AppConfig 应用配置
type AppConfig struct {
	Name        string
	Environment string
	Version     string
	Debug       bool
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host         string
	Port         int
	Mode         string
	ReadTimeout  int
	WriteTimeout int
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver       string // postgres | sqlite
	Host         string
	Port         int
	User         string
	Password     string
	DBName       string
	SSLMode      string
	Path         string // sqlite 文件路径
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
}

// RedisConfig Redis配置，用于路由快照缓存
type RedisConfig struct {
	Enabled    bool
	Host       string
	Port       int
	Password   string
	DB         int
	RoutingTTL int // 秒
}

// AIConfig AI配置
type AIConfig struct {
	Provider    string
	Temperature float32
	OpenAI      ModelProviderConfig
	DeepSeek    ModelProviderConfig
}

// ModelProviderConfig OpenAI 兼容接口配置
type ModelProviderConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout int
}

// AuthConfig 管理接口认证配置
type AuthConfig struct {
	JWTSecret string
	AdminRole string
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string
	Format string // json | console
}

// OptimizerConfig 执行入口配置
type OptimizerConfig struct {
	InferenceTimeoutMs int
	DefaultLanguage    string
	Environment        string
}

// ScoringConfig 评分配置
type ScoringConfig struct {
	Weights           ScoringWeights
	Thresholds        []LatencyThreshold
	FloorScore        float64
	RollupWindowDays  int
	RollupConcurrency int
	ExpectedFields    []string
	Enums             map[string][]string
	Ranges            map[string]NumericRange
}

// ScoringWeights 总分权重
type ScoringWeights struct {
	Accuracy     float64
	Consistency  float64
	Completeness float64
	ResponseTime float64
}

// LatencyThreshold 响应时间阶梯
type LatencyThreshold struct {
	MaxMs int64
	Score float64
}

// NumericRange 数值字段的取值范围
type NumericRange struct {
	Min float64
	Max float64
}

// ExperimentConfig 实验默认参数
type ExperimentConfig struct {
	DefaultControlTraffic    float64
	DefaultTreatmentTraffic  float64
	DefaultMinSampleSize     int
	DefaultMaxDurationDays   int
	DefaultSignificanceLevel float64
	RequireSignificance      bool
}

// SeedConfig 种子数据配置
type SeedConfig struct {
	Path string
}

// Load 加载配置
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// 环境变量
	v.SetEnvPrefix("NEXT_PROMPT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default 返回默认配置，主要用于测试
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	return c.Scoring.Validate()
}

// Validate 校验评分配置
func (c *ScoringConfig) Validate() error {
	w := c.Weights
	sum := w.Accuracy + w.Consistency + w.Completeness + w.ResponseTime
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("scoring weights must sum to 1, got %.4f", sum)
	}
	if len(c.Thresholds) == 0 {
		return errors.New("scoring thresholds must not be empty")
	}
	for i := 1; i < len(c.Thresholds); i++ {
		if c.Thresholds[i].MaxMs <= c.Thresholds[i-1].MaxMs {
			return errors.New("scoring thresholds must be strictly increasing")
		}
	}
	if len(c.ExpectedFields) == 0 {
		return errors.New("scoring expected fields must not be empty")
	}
	return nil
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	if c.Driver == "sqlite" {
		return c.Path
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// GetAddr 获取服务器地址
func (c *ServerConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAddr 获取 Redis 地址
func (c *RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func setDefaults(v *viper.Viper) {
	// App
	v.SetDefault("app.name", "next-prompt")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.debug", false)

	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 60)

	// Database
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "next_prompt")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "next-prompt.db")
	v.SetDefault("database.maxOpenConns", 25)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.maxLifetime", 300)

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.routingTTL", 30)

	// AI
	v.SetDefault("ai.provider", "openai")
	v.SetDefault("ai.temperature", 0.2)
	v.SetDefault("ai.openai.apiKey", "")
	v.SetDefault("ai.openai.baseUrl", "https://api.openai.com/v1")
	v.SetDefault("ai.openai.model", "gpt-4o-mini")
	v.SetDefault("ai.openai.timeout", 30)
	v.SetDefault("ai.deepseek.apiKey", "")
	v.SetDefault("ai.deepseek.baseUrl", "https://api.deepseek.com/v1")
	v.SetDefault("ai.deepseek.model", "deepseek-chat")
	v.SetDefault("ai.deepseek.timeout", 30)

	// Auth
	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.adminRole", "admin")

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Optimizer
	v.SetDefault("optimizer.inferenceTimeoutMs", 30000)
	v.SetDefault("optimizer.defaultLanguage", "en")
	v.SetDefault("optimizer.environment", "production")

	// Scoring
	v.SetDefault("scoring.weights.accuracy", 0.4)
	v.SetDefault("scoring.weights.consistency", 0.3)
	v.SetDefault("scoring.weights.completeness", 0.2)
	v.SetDefault("scoring.weights.responseTime", 0.1)
	v.SetDefault("scoring.thresholds", []map[string]interface{}{
		{"maxMs": 1000, "score": 1.0},
		{"maxMs": 2000, "score": 0.8},
		{"maxMs": 3000, "score": 0.6},
		{"maxMs": 5000, "score": 0.4},
	})
	v.SetDefault("scoring.floorScore", 0.2)
	v.SetDefault("scoring.rollupWindowDays", 0)
	v.SetDefault("scoring.rollupConcurrency", 4)
	v.SetDefault("scoring.expectedFields", []string{"intent", "tone", "urgency", "confidence_score"})
	v.SetDefault("scoring.enums", map[string]interface{}{
		"urgency": []string{"Low", "Medium", "High"},
	})
	v.SetDefault("scoring.ranges", map[string]interface{}{
		"confidence_score": map[string]interface{}{"min": 0.0, "max": 1.0},
	})

	// Experiment
	v.SetDefault("experiment.defaultControlTraffic", 50.0)
	v.SetDefault("experiment.defaultTreatmentTraffic", 50.0)
	v.SetDefault("experiment.defaultMinSampleSize", 100)
	v.SetDefault("experiment.defaultMaxDurationDays", 7)
	v.SetDefault("experiment.defaultSignificanceLevel", 0.05)
	v.SetDefault("experiment.requireSignificance", false)

	// Seed
	v.SetDefault("seed.path", "configs/seed.yaml")
}
