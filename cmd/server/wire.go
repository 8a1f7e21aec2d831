package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/paiban/planrules/internal/config"
	"github.com/paiban/planrules/internal/database"
	"github.com/paiban/planrules/internal/handler"
	"github.com/paiban/planrules/internal/metrics"
	"github.com/paiban/planrules/internal/redisstore"
	"github.com/paiban/planrules/internal/repository"
	"github.com/paiban/planrules/pkg/errors"
	"github.com/paiban/planrules/pkg/fatigue"
	"github.com/paiban/planrules/pkg/logger"
	"github.com/paiban/planrules/pkg/model"
	"github.com/paiban/planrules/pkg/rules"
	"github.com/paiban/planrules/pkg/templates"
)

// application 组装完成的服务
type application struct {
	handler  *handler.Handler
	registry *metrics.MetricsRegistry
	db       *database.DB
	rdb      *redis.Client
	recorder *rules.AsyncRecorder
}

// build 按配置连接依赖并组装引擎与处理器
func build(ctx context.Context, cfg *config.Config) (_ *application, err error) {
	app := &application{registry: metrics.GetRegistry()}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	tpl, ok := templates.Get(cfg.Engine.Template)
	if !ok {
		return nil, errors.InvalidInput("engine.template", fmt.Sprintf("未知模板 %q", cfg.Engine.Template))
	}

	checks := map[string]handler.HealthChecker{}
	if cfg.Database.Enabled {
		if app.db, err = database.New(&cfg.Database); err != nil {
			return nil, err
		}
		if cfg.Database.AutoMigrate {
			if err = database.Migrate(app.db.DB); err != nil {
				return nil, err
			}
		}
		checks["database"] = app.db.Health
	}
	if cfg.Redis.Enabled {
		if app.rdb, err = redisstore.Connect(ctx, &cfg.Redis); err != nil {
			return nil, err
		}
		rdb := app.rdb
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	fatigueCfg := tpl.Fatigue
	if cfg.Fatigue != nil {
		fatigueCfg = *cfg.Fatigue
	}
	scorer := fatigue.NewScorer(fatigueCfg, app.fatigueStore(cfg))

	var metricsStore rules.MetricsStore = rules.NewMemoryMetricsStore()
	var templateSource handler.TemplateSource = handler.BuiltinTemplates{}
	var ruleStore *repository.RuleStore
	if app.db != nil {
		metricsStore = repository.NewMetricsStore(app.db)
		templateSource = handler.TemplateChain{repository.NewTemplateStore(app.db), handler.BuiltinTemplates{}}
		ruleStore = repository.NewRuleStore(app.db)
	}
	app.recorder = rules.NewAsyncRecorder(metricsStore, cfg.Engine.MetricsBuffer, cfg.Engine.MetricsTimeout)

	registry := app.registry
	recorder := app.recorder
	guardTypes := assignmentTypes(cfg.Engine.GuardTypes)
	source := rules.NewCachedSource(ruleLoader(cfg, tpl, ruleStore), nil, cfg.Engine.RuleCacheTTL)

	engine := rules.NewEngine(source,
		rules.WithScorer(scorer),
		rules.WithGuardTypes(guardTypes...),
		rules.WithRecorder(rules.RecorderFunc(func(deltas []rules.MetricsDelta) {
			recorder.Record(deltas)
			registry.RecordRuleEvaluations(deltas)
		})),
	)

	// 启动时预加载一次规则，失败不阻止启动
	if active, err := source.ActiveRules(ctx); err != nil {
		logger.Warn().Err(err).Msg("预加载规则失败")
	} else {
		registry.SetRuleRejections(len(source.Rejections()))
		logger.Info().Int("active", len(active)).Str("template", string(tpl.Category)).Msg("规则引擎就绪")
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	app.handler = handler.New(handler.Deps{
		Engine:       engine,
		MetricsStore: metricsStore,
		Templates:    templateSource,
		Registry:     registry,
		API:          cfg.API,
		RunTimeout:   cfg.Engine.RunTimeout,
		GuardTypes:   guardTypes,
		Checks:       checks,
		MetricsPath:  metricsPath,
		Version:      Version,
	})
	return app, nil
}

func (a *application) fatigueStore(cfg *config.Config) fatigue.Store {
	switch cfg.Engine.FatigueBackend {
	case config.BackendPostgres:
		return repository.NewFatigueStore(a.db)
	case config.BackendRedis:
		return redisstore.New(a.rdb, cfg.Redis.KeyPrefix)
	default:
		return fatigue.NewMemoryStore()
	}
}

// ruleLoader 组合规则来源
//
// 规则文件与数据库中的定义优先；内置种子规则和模板规则只补充尚未出现的ID。
func ruleLoader(cfg *config.Config, tpl templates.Template, store *repository.RuleStore) rules.DefinitionLoader {
	var primary rules.MultiLoader
	if cfg.Engine.RulesFile != "" {
		primary = append(primary, rules.FileLoader{Path: cfg.Engine.RulesFile})
	}
	if store != nil {
		primary = append(primary, store)
	}

	var builtin []rules.Definition
	if cfg.Engine.SeedRules {
		builtin = append(builtin, templates.SeedRules()...)
		builtin = append(builtin, tpl.Rules()...)
	}

	return rules.LoaderFunc(func(ctx context.Context) ([]rules.Definition, error) {
		defs, err := primary.LoadDefinitions(ctx)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool, len(defs))
		for _, d := range defs {
			seen[d.ID] = true
		}
		for _, d := range builtin {
			if !seen[d.ID] {
				defs = append(defs, d)
			}
		}
		return defs, nil
	})
}

func assignmentTypes(names []string) []model.AssignmentType {
	out := make([]model.AssignmentType, len(names))
	for i, n := range names {
		out[i] = model.AssignmentType(n)
	}
	return out
}

// watchDBStats 定期上报连接池状态
func (a *application) watchDBStats(ctx context.Context, every time.Duration) {
	if a.db == nil {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		a.registry.SetDBStats(a.db.Stats())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close 写完剩余统计后释放连接
func (a *application) Close() {
	if a.recorder != nil {
		a.recorder.Close()
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("关闭 Redis 连接失败")
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}
