// Package logger 提供统一的日志框架
package logger

import (
	"context"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// current 当前全局日志器，Init 之前为空
var current atomic.Pointer[zerolog.Logger]

type ctxKey string

// RequestIDKey 请求ID在上下文中的键
const RequestIDKey ctxKey = "request_id"

// Config 日志配置
type Config struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"` // json/console
	Output     string `yaml:"output" json:"output"` // stdout/stderr/file/discard
	FilePath   string `yaml:"file_path,omitempty" json:"file_path,omitempty"`
	TimeFormat string `yaml:"time_format,omitempty" json:"time_format,omitempty"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	}
}

// Init 初始化日志器，后一次调用覆盖前一次的配置
func Init(cfg Config) {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	current.Store(build(cfg))
}

func build(cfg Config) *zerolog.Logger {
	var output io.Writer
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "discard":
		output = io.Discard
	case "file":
		output = os.Stdout
		if cfg.FilePath != "" {
			if f, err := os.OpenFile(cfg.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
				output = f
			}
		}
	default:
		output = os.Stdout
	}

	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: cfg.TimeFormat,
		}
	}

	l := zerolog.New(output).With().Timestamp().Logger()
	return &l
}

// parseLevel 解析日志级别
func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Get 获取日志器；尚未 Init 时按默认配置初始化一次
func Get() *zerolog.Logger {
	if l := current.Load(); l != nil {
		return l
	}
	cfg := DefaultConfig()
	if current.CompareAndSwap(nil, build(cfg)) {
		zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	}
	return current.Load()
}

// WithContext 从上下文创建日志器
func WithContext(ctx context.Context) *zerolog.Logger {
	l := Get().With().Logger()
	if reqID, ok := ctx.Value(RequestIDKey).(string); ok && reqID != "" {
		l = l.With().Str("request_id", reqID).Logger()
	}
	return &l
}

// ContextWithRequestID 将请求ID写入上下文
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// Debug 记录调试日志
func Debug() *zerolog.Event {
	return Get().Debug()
}

// Info 记录信息日志
func Info() *zerolog.Event {
	return Get().Info()
}

// Warn 记录警告日志
func Warn() *zerolog.Event {
	return Get().Warn()
}

// Error 记录错误日志
func Error() *zerolog.Event {
	return Get().Error()
}

// Fatal 记录致命错误日志
func Fatal() *zerolog.Event {
	return Get().Fatal()
}

// RuleEngineLogger 规则引擎专用日志器
type RuleEngineLogger struct {
	base zerolog.Logger
}

// NewRuleEngineLogger 创建规则引擎日志器
func NewRuleEngineLogger() *RuleEngineLogger {
	return &RuleEngineLogger{base: Get().With().Str("component", "rule_engine").Logger()}
}

// NewRuleEngineLoggerFrom 基于指定日志器创建（测试中使用）
func NewRuleEngineLoggerFrom(base zerolog.Logger) *RuleEngineLogger {
	return &RuleEngineLogger{base: base.With().Str("component", "rule_engine").Logger()}
}

// Base 返回底层日志器
func (l *RuleEngineLogger) Base() *zerolog.Logger {
	return &l.base
}

// RunStarted 记录引擎运行开始
func (l *RuleEngineLogger) RunStarted(runID, mode string, rules, items int) {
	l.base.Info().
		Str("run_id", runID).
		Str("mode", mode).
		Int("rules", rules).
		Int("items", items).
		Msg("规则引擎开始运行")
}

// Phase 记录状态迁移
func (l *RuleEngineLogger) Phase(runID, phase string) {
	l.base.Debug().Str("run_id", runID).Str("phase", phase).Msg("运行阶段")
}

// RuleFailed 记录规则评估失败（规则被跳过）
func (l *RuleEngineLogger) RuleFailed(runID, ruleID string, err error) {
	l.base.Warn().
		Str("run_id", runID).
		Str("rule_id", ruleID).
		Err(err).
		Msg("规则评估失败，已跳过")
}

// DataError 记录条件数据错误
func (l *RuleEngineLogger) DataError(ruleID, field string, err error) {
	l.base.Warn().
		Str("rule_id", ruleID).
		Str("field", field).
		Err(err).
		Msg("条件数据错误")
}

// InputRejected 记录被拒绝的输入项
func (l *RuleEngineLogger) InputRejected(runID, itemID, reason string) {
	l.base.Warn().
		Str("run_id", runID).
		Str("item_id", itemID).
		Str("reason", reason).
		Msg("输入项无效，已跳过")
}

// RuleRejected 记录加载时被拒绝的规则
func (l *RuleEngineLogger) RuleRejected(ruleID string, err error) {
	l.base.Error().Str("rule_id", ruleID).Err(err).Msg("规则定义无效，未加载")
}

// RunComplete 记录引擎运行完成
func (l *RuleEngineLogger) RunComplete(runID string, duration time.Duration, valid bool, violations int) {
	l.base.Info().
		Str("run_id", runID).
		Dur("duration", duration).
		Bool("valid", valid).
		Int("violations", violations).
		Msg("规则引擎运行完成")
}
