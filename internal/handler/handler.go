// Package handler 提供HTTP请求处理器
package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/paiban/planrules/internal/config"
	"github.com/paiban/planrules/internal/metrics"
	"github.com/paiban/planrules/internal/middleware"
	"github.com/paiban/planrules/pkg/errors"
	"github.com/paiban/planrules/pkg/logger"
	"github.com/paiban/planrules/pkg/model"
	"github.com/paiban/planrules/pkg/rules"
)

// 请求体上限
const maxBodyBytes = 10 << 20

// Reloader 可失效的规则源
type Reloader interface {
	Invalidate()
}

// HealthChecker 依赖健康检查
type HealthChecker func(ctx context.Context) error

// Deps 处理器依赖
type Deps struct {
	Engine       *rules.Engine
	MetricsStore rules.MetricsStore
	Templates    TemplateSource
	Registry     *metrics.MetricsRegistry
	API          config.APIConfig
	RunTimeout   time.Duration
	GuardTypes   []model.AssignmentType
	Checks       map[string]HealthChecker
	MetricsPath  string // 为空时不暴露指标端点
	Version      string
}

// Handler 规划规则 API
type Handler struct {
	Deps
}

// New 创建处理器
func New(deps Deps) *Handler {
	if deps.Templates == nil {
		deps.Templates = BuiltinTemplates{}
	}
	if deps.Registry == nil {
		deps.Registry = metrics.GetRegistry()
	}
	if deps.RunTimeout <= 0 {
		deps.RunTimeout = 10 * time.Second
	}
	return &Handler{Deps: deps}
}

// Router 构建路由
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(h.Registry))
	r.Use(chimw.Recoverer)
	r.Use(middleware.RateLimit(h.API.RateLimit))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(h.API.CORS))
	if h.API.Timeout > 0 {
		r.Use(chimw.Timeout(h.API.Timeout))
	}

	r.Get("/health", h.Health)
	if h.MetricsPath != "" {
		r.Method(http.MethodGet, h.MetricsPath, h.Registry.Handler())
	}

	r.Route("/api/planning", func(r chi.Router) {
		r.Post("/validate", h.Validate)
		r.Post("/generate", h.Generate)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", h.ListRules)
			r.Get("/conflicts", h.Conflicts)
			r.Post("/reload", h.Reload)
			r.Get("/metrics", h.RuleMetrics)
		})

		r.Post("/fatigue/events", h.FatigueEvent)
		r.Get("/fatigue/{userId}", h.GetFatigue)
		r.Post("/equity", h.Equity)

		r.Get("/templates", h.ListTemplates)
		r.Get("/templates/{name}", h.GetTemplate)
	})

	return r
}

// Health 健康检查
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.Checks))
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	respondJSON(w, status, map[string]any{
		"status":  state,
		"service": "planrules",
		"version": h.Version,
		"checks":  checks,
	})
}

// runContext 为规则运行附加超时
func (h *Handler) runContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.RunTimeout)
}

// decodeJSON 解析请求体
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.Wrap(err, errors.CodeInvalidInput, "解析请求失败")
	}
	return nil
}

// respondJSON 返回JSON响应
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError 返回错误响应，非 AppError 视为内部错误
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := errors.As(err)
	if !ok {
		if stderrors.Is(err, context.DeadlineExceeded) {
			appErr = errors.Wrap(err, errors.CodeTimeout, "请求超时")
		} else {
			appErr = errors.Wrap(err, errors.CodeInternal, "服务器内部错误")
		}
	}

	event := logger.WithContext(r.Context()).Warn()
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		event = logger.WithContext(r.Context()).Error()
	}
	event.Err(err).Str("code", string(appErr.Code)).Str("path", r.URL.Path).Msg("请求失败")

	body := map[string]any{
		"error":   true,
		"code":    appErr.Code,
		"message": appErr.Message,
		"details": appErr.Details,
	}
	if len(appErr.Fields) > 0 {
		body["fields"] = appErr.Fields
	}
	respondJSON(w, appErr.HTTPStatus, body)
}
