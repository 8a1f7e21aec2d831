package rules

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/paiban/planrules/pkg/logger"
)

// RuleSource 提供当前启用的规则
type RuleSource interface {
	ActiveRules(ctx context.Context) ([]*Rule, error)
}

// DefinitionLoader 从存储加载规则定义
type DefinitionLoader interface {
	LoadDefinitions(ctx context.Context) ([]Definition, error)
}

// LoaderFunc 函数形式的 DefinitionLoader
type LoaderFunc func(ctx context.Context) ([]Definition, error)

// LoadDefinitions 实现 DefinitionLoader
func (f LoaderFunc) LoadDefinitions(ctx context.Context) ([]Definition, error) { return f(ctx) }

// StaticSource 固定规则集
type StaticSource struct {
	rules []*Rule
}

// NewStaticSource 创建固定规则源
func NewStaticSource(rules ...*Rule) *StaticSource {
	return &StaticSource{rules: rules}
}

// ActiveRules 返回启用的规则
func (s *StaticSource) ActiveRules(_ context.Context) ([]*Rule, error) {
	return activeOnly(s.rules), nil
}

func activeOnly(rules []*Rule) []*Rule {
	out := make([]*Rule, 0, len(rules))
	for _, r := range rules {
		if r.IsActive() {
			out = append(out, r)
		}
	}
	return out
}

// FileLoader 从 JSON/YAML 文件加载规则定义
type FileLoader struct {
	Path string
}

// LoadDefinitions 读取并解析规则文件
func (l FileLoader) LoadDefinitions(_ context.Context) ([]Definition, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("读取规则文件失败: %w", err)
	}
	return DecodeDefinitions(data, FormatFromPath(l.Path))
}

// MultiLoader 依次合并多个加载器的结果
type MultiLoader []DefinitionLoader

// LoadDefinitions 实现 DefinitionLoader
func (m MultiLoader) LoadDefinitions(ctx context.Context) ([]Definition, error) {
	var out []Definition
	for _, l := range m {
		defs, err := l.LoadDefinitions(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, defs...)
	}
	return out, nil
}

// CachedSource 带 TTL 缓存的规则源，并发刷新合并为一次加载
type CachedSource struct {
	loader   DefinitionLoader
	compiler *Compiler
	ttl      time.Duration
	log      *logger.RuleEngineLogger
	now      func() time.Time

	group singleflight.Group

	mu       sync.RWMutex
	rules    []*Rule
	rejected []Rejection
	loadedAt time.Time
	loaded   bool
}

// NewCachedSource 创建缓存规则源
func NewCachedSource(loader DefinitionLoader, compiler *Compiler, ttl time.Duration) *CachedSource {
	if compiler == nil {
		compiler = defaultCompiler()
	}
	return &CachedSource{
		loader:   loader,
		compiler: compiler,
		ttl:      ttl,
		log:      logger.NewRuleEngineLogger(),
		now:      time.Now,
	}
}

// WithClock 替换时钟（测试使用）
func (c *CachedSource) WithClock(now func() time.Time) *CachedSource {
	c.now = now
	return c
}

// ActiveRules 返回缓存中的启用规则，过期时重新加载
func (c *CachedSource) ActiveRules(ctx context.Context) ([]*Rule, error) {
	c.mu.RLock()
	if c.loaded && (c.ttl <= 0 || c.now().Sub(c.loadedAt) < c.ttl) {
		rules := c.rules
		c.mu.RUnlock()
		return rules, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do("rules", func() (interface{}, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]*Rule), nil
}

func (c *CachedSource) refresh(ctx context.Context) ([]*Rule, error) {
	defs, err := c.loader.LoadDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("加载规则定义失败: %w", err)
	}
	rules, rejected := c.compiler.CompileAll(defs)
	for _, r := range rejected {
		c.log.RuleRejected(r.RuleID, r.Err)
	}
	active := activeOnly(rules)

	c.mu.Lock()
	c.rules = active
	c.rejected = rejected
	c.loadedAt = c.now()
	c.loaded = true
	c.mu.Unlock()

	logger.Info().Int("active", len(active)).Int("rejected", len(rejected)).Msg("规则已加载")
	return active, nil
}

// Invalidate 使缓存失效，下次访问时重新加载
func (c *CachedSource) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.mu.Unlock()
}

// Rejections 返回最近一次加载被拒绝的定义
func (c *CachedSource) Rejections() []Rejection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Rejection, len(c.rejected))
	copy(out, c.rejected)
	return out
}
