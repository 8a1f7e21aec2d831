// Package config 提供配置管理
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/paiban/planrules/pkg/errors"
	"github.com/paiban/planrules/pkg/fatigue"
)

// 疲劳分存储后端
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config 应用配置
type Config struct {
	App      AppConfig      `yaml:"app"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	API      APIConfig      `yaml:"api"`
	Engine   EngineConfig   `yaml:"engine"`
	Metrics  MetricsConfig  `yaml:"metrics"`

	// 为空时使用模板自带的疲劳度配置
	Fatigue *fatigue.Config `yaml:"fatigue,omitempty"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name     string `yaml:"name"`
	Env      string `yaml:"env"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// DSN 返回数据库连接字符串
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"pool_size"`
	KeyPrefix string `yaml:"key_prefix"`
}

// Addr 返回Redis地址
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// APIConfig API配置
type APIConfig struct {
	Timeout   time.Duration   `yaml:"timeout"`
	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig 按客户端IP的限流配置
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Requests int           `yaml:"requests"` // 窗口内最大请求数
	Window   time.Duration `yaml:"window"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	Enabled bool     `yaml:"enabled"`
	Origins []string `yaml:"origins"`
}

// EngineConfig 规则引擎配置
type EngineConfig struct {
	RulesFile      string        `yaml:"rules_file"` // 为空时从数据库加载
	Template       string        `yaml:"template"`   // STANDARD/INTENSIF/ALLEGE/PEDIATRIE
	SeedRules      bool          `yaml:"seed_rules"`
	RuleCacheTTL   time.Duration `yaml:"rule_cache_ttl"`
	FatigueBackend string        `yaml:"fatigue_backend"` // memory/postgres/redis
	MetricsBuffer  int           `yaml:"metrics_buffer"`
	MetricsTimeout time.Duration `yaml:"metrics_timeout"`
	RunTimeout     time.Duration `yaml:"run_timeout"`
	GuardTypes     []string      `yaml:"guard_types"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load 从环境变量加载配置，设置了 APP_CONFIG_FILE 时再叠加 YAML 文件
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:     getEnv("APP_NAME", "planrules"),
			Env:      getEnv("APP_ENV", "development"),
			Port:     getEnvInt("APP_PORT", 7012),
			LogLevel: getEnv("APP_LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			Enabled:         getEnvBool("DB_ENABLED", false),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnv("DB_NAME", "planrules"),
			User:            getEnv("DB_USER", "planrules"),
			Password:        getEnv("DB_PASSWORD", "planrules"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Enabled:   getEnvBool("REDIS_ENABLED", false),
			Host:      getEnv("REDIS_HOST", "localhost"),
			Port:      getEnvInt("REDIS_PORT", 6379),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvInt("REDIS_DB", 0),
			PoolSize:  getEnvInt("REDIS_POOL_SIZE", 10),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "planrules:fatigue:"),
		},
		API: APIConfig{
			Timeout: getEnvDuration("API_TIMEOUT", 30*time.Second),
			CORS: CORSConfig{
				Enabled: getEnvBool("API_CORS_ENABLED", true),
				Origins: getEnvList("API_CORS_ORIGINS", []string{"*"}),
			},
			RateLimit: RateLimitConfig{
				Enabled:  getEnvBool("API_RATE_LIMIT_ENABLED", false),
				Requests: getEnvInt("API_RATE_LIMIT_REQUESTS", 100),
				Window:   getEnvDuration("API_RATE_LIMIT_WINDOW", time.Second),
			},
		},
		Engine: EngineConfig{
			RulesFile:      getEnv("ENGINE_RULES_FILE", ""),
			Template:       getEnv("ENGINE_TEMPLATE", "STANDARD"),
			SeedRules:      getEnvBool("ENGINE_SEED_RULES", true),
			RuleCacheTTL:   getEnvDuration("ENGINE_RULE_CACHE_TTL", time.Minute),
			FatigueBackend: getEnv("ENGINE_FATIGUE_BACKEND", BackendMemory),
			MetricsBuffer:  getEnvInt("ENGINE_METRICS_BUFFER", 64),
			MetricsTimeout: getEnvDuration("ENGINE_METRICS_TIMEOUT", 5*time.Second),
			RunTimeout:     getEnvDuration("ENGINE_RUN_TIMEOUT", 10*time.Second),
			GuardTypes:     getEnvList("ENGINE_GUARD_TYPES", []string{"GARDE_24H", "GARDE"}),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
	}

	if path := os.Getenv("APP_CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile 将 YAML 文件叠加到当前配置上，文件中未出现的字段保持原值
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("解析配置文件失败: %w", err)
	}
	return nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	var ve errors.ValidationErrors
	if c.App.Port <= 0 || c.App.Port > 65535 {
		ve.Addf("app.port", "端口超出范围: %d", c.App.Port)
	}
	switch c.Engine.FatigueBackend {
	case BackendMemory:
	case BackendPostgres:
		if !c.Database.Enabled {
			ve.Add("engine.fatigue_backend", "postgres 后端需要启用数据库")
		}
	case BackendRedis:
		if !c.Redis.Enabled {
			ve.Add("engine.fatigue_backend", "redis 后端需要启用 Redis")
		}
	default:
		ve.Addf("engine.fatigue_backend", "未知的后端 %q", c.Engine.FatigueBackend)
	}
	if c.Engine.RulesFile == "" && !c.Database.Enabled && !c.Engine.SeedRules {
		ve.Add("engine.rules_file", "未配置规则来源（规则文件、数据库或种子规则）")
	}
	if rl := c.API.RateLimit; rl.Enabled && (rl.Requests <= 0 || rl.Window <= 0) {
		ve.Add("api.rate_limit", "启用限流时请求数和窗口必须大于0")
	}
	if c.Engine.RuleCacheTTL < 0 {
		ve.Add("engine.rule_cache_ttl", "不能为负数")
	}
	if c.Engine.MetricsBuffer < 0 {
		ve.Add("engine.metrics_buffer", "不能为负数")
	}
	if c.Engine.RunTimeout <= 0 {
		ve.Add("engine.run_timeout", "必须大于0")
	}
	if len(c.Engine.GuardTypes) == 0 {
		ve.Add("engine.guard_types", "不能为空")
	}
	if c.Fatigue != nil {
		if err := c.Fatigue.Validate(); err != nil {
			ve.Add("fatigue", err.Error())
		}
	}
	if ve.HasErrors() {
		return ve.ToAppError(errors.CodeValidationFail, "配置无效")
	}
	return nil
}

// IsDevelopment 检查是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction 检查是否为生产环境
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// 辅助函数
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
