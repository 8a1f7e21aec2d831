package handler

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paiban/planrules/internal/config"
	"github.com/paiban/planrules/internal/metrics"
	"github.com/paiban/planrules/pkg/errors"
	"github.com/paiban/planrules/pkg/fatigue"
	"github.com/paiban/planrules/pkg/model"
	"github.com/paiban/planrules/pkg/rules"
	"github.com/paiban/planrules/pkg/templates"
)

var fixedNow = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

type testServer struct {
	http.Handler
	store   *fatigue.MemoryStore
	metrics *rules.MemoryMetricsStore
	reg     *metrics.MetricsRegistry
}

func newServer(t *testing.T, source rules.RuleSource, checks map[string]HealthChecker) testServer {
	t.Helper()
	store := fatigue.NewMemoryStore()
	scorer := fatigue.NewScorer(fatigue.DefaultConfig(), store).WithClock(func() time.Time { return fixedNow })
	ms := rules.NewMemoryMetricsStore()
	reg := metrics.NewRegistry()

	eng := rules.NewEngine(source,
		rules.WithScorer(scorer),
		rules.WithRecorder(rules.RecorderFunc(func(d []rules.MetricsDelta) {
			ms.Apply(context.Background(), d)
		})),
		rules.WithClock(func() time.Time { return fixedNow }),
	)
	h := New(Deps{
		Engine:       eng,
		MetricsStore: ms,
		Registry:     reg,
		API:          config.APIConfig{CORS: config.CORSConfig{Enabled: true, Origins: []string{"*"}}},
		RunTimeout:   time.Second,
		Checks:       checks,
		MetricsPath:  "/metrics",
		Version:      "test",
	})
	return testServer{Handler: h.Router(), store: store, metrics: ms, reg: reg}
}

func seedSource(t *testing.T) rules.RuleSource {
	t.Helper()
	compiled, rejected := rules.LoadDefinitions(templates.SeedRules())
	require.Empty(t, rejected)
	return rules.NewStaticSource(compiled...)
}

func do(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func bloc(id, user string) *model.Assignment {
	start := time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)
	return &model.Assignment{ID: id, UserID: user, Type: model.AssignmentBloc, StartDate: start, EndDate: start.Add(10 * time.Hour)}
}

func TestValidate(t *testing.T) {
	srv := newServer(t, seedSource(t), nil)
	srv.store.Set("u1", 85, fixedNow)

	rec, body := do(t, srv, http.MethodPost, "/api/planning/validate", rules.ValidationInput{
		Assignments: []*model.Assignment{bloc("a1", "u1")},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report rules.ValidationReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.False(t, report.Valid)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, "FATIGUE", report.Violations[0].ViolationType)
	assert.Equal(t, rules.SeverityError, report.Violations[0].Severity)
	assert.Equal(t, 1, report.Metrics.ConflictsDetected)
	assert.NotEmpty(t, body["id"])

	assert.Equal(t, 1.0, srv.reg.GetCounter(metrics.ValidationRunsTotal).Value("invalid"))
	assert.Equal(t, 1.0, srv.reg.GetCounter(metrics.ViolationsTotal).Value("error", "FATIGUE"))

	// 规则统计经记录器写入
	m, ok := srv.metrics.Get("seed.fatigue-critique")
	require.True(t, ok)
	assert.Equal(t, int64(1), m.FiredCount)
}

func TestValidate_BadRequests(t *testing.T) {
	srv := newServer(t, seedSource(t), nil)

	tests := []struct {
		name string
		body any
	}{
		{"malformed json", `{"assignments": [`},
		{"empty batch", `{"assignments": []}`},
		{"missing batch", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, srv, http.MethodPost, "/api/planning/validate", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, true, body["error"])
			assert.Equal(t, "INVALID_INPUT", body["code"])
		})
	}
}

type failingSource struct{}

func (failingSource) ActiveRules(context.Context) ([]*rules.Rule, error) {
	return nil, stderrors.New("connection refused")
}

func TestValidate_SourceUnavailable(t *testing.T) {
	srv := newServer(t, failingSource{}, nil)

	rec, body := do(t, srv, http.MethodPost, "/api/planning/validate", rules.ValidationInput{
		Assignments: []*model.Assignment{bloc("a1", "u1")},
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "RULE_SOURCE_UNAVAILABLE", body["code"])
	assert.Equal(t, 1.0, srv.reg.GetCounter(metrics.ValidationRunsTotal).Value("error"))

	rec, _ = do(t, srv, http.MethodGet, "/api/planning/rules/", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGenerate(t *testing.T) {
	srv := newServer(t, seedSource(t), nil)
	srv.store.Set("s1", 40, fixedNow)

	req := GenerateRequest{
		GenerationCriteria: rules.GenerationCriteria{StartDate: "2026-03-13", EndDate: "2026-03-15"},
		Staff: []*model.Staff{
			{ID: "s1", Name: "Alice", Experience: model.ExperienceSenior, Available: true},
			{ID: "s2", Name: "Bruno", Experience: model.ExperienceSenior, Available: true},
		},
	}
	rec, _ := do(t, srv, http.MethodPost, "/api/planning/generate", req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp GenerateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Proposals, 2)
	assert.Equal(t, "2026-03-14", resp.Proposals[0].Date)
	assert.Equal(t, "2026-03-15", resp.Proposals[1].Date)
	assert.Equal(t, []string{"s2", "s1"}, resp.Proposals[0].UserIDs)
	assert.Equal(t, 2.0, srv.reg.GetCounter(metrics.ProposalsTotal).Value())
}

func TestGenerate_InvalidRange(t *testing.T) {
	srv := newServer(t, seedSource(t), nil)

	for name, c := range map[string]rules.GenerationCriteria{
		"start after end": {StartDate: "2026-03-15", EndDate: "2026-03-13"},
		"too long":        {StartDate: "2026-01-01", EndDate: "2026-06-30"},
		"bad format":      {StartDate: "13/03/2026", EndDate: "2026-03-15"},
	} {
		t.Run(name, func(t *testing.T) {
			rec, body := do(t, srv, http.MethodPost, "/api/planning/generate", GenerateRequest{GenerationCriteria: c})
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "INVALID_INPUT", body["code"])
		})
	}
}

func TestRulesEndpoints(t *testing.T) {
	srv := newServer(t, seedSource(t), nil)

	rec, body := do(t, srv, http.MethodGet, "/api/planning/rules/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4.0, body["total"])
	first := body["rules"].([]any)[0].(map[string]any)
	assert.Equal(t, "seed.min-interval", first["id"])
	assert.Equal(t, []any{"validate"}, first["actions"])

	rec, body = do(t, srv, http.MethodGet, "/api/planning/rules/conflicts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.0, body["total"])
	assert.Equal(t, []any{}, body["conflicts"])

	// 静态规则源不支持失效
	rec, body = do(t, srv, http.MethodPost, "/api/planning/rules/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["reloaded"])
	assert.Equal(t, 4.0, body["active"])
}

func TestRulesEndpoints_Conflicts(t *testing.T) {
	compiled, rejected := rules.LoadDefinitions([]rules.Definition{
		{
			ID: "error", Type: "validation", Priority: 90,
			Conditions: rules.LeafSpec("metrics.fatigueScore", rules.OpGreater, 70),
			Actions: []rules.ActionSpec{{Type: "validate", Parameters: map[string]any{
				"severity": "error", "violationType": "FATIGUE", "message": "critique",
			}}},
		},
		{
			ID: "warning", Type: "validation", Priority: 70,
			Conditions: rules.LeafSpec("metrics.fatigueScore", rules.OpBetween, []any{60, 80}),
			Actions: []rules.ActionSpec{{Type: "validate", Parameters: map[string]any{
				"severity": "warning", "violationType": "FATIGUE", "message": "alerte",
			}}},
		},
	})
	require.Empty(t, rejected)
	srv := newServer(t, rules.NewStaticSource(compiled...), nil)

	rec, body := do(t, srv, http.MethodGet, "/api/planning/rules/conflicts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1.0, body["total"])
	c := body["conflicts"].([]any)[0].(map[string]any)
	assert.Equal(t, "critical", c["severity"])
}

func TestReload_CachedSource(t *testing.T) {
	calls := 0
	defs := append(templates.SeedRules(), rules.Definition{
		ID: "broken", Type: "validation",
		Conditions: rules.LeafSpec("user.shoeSize", rules.OpGreater, 42),
	})
	loader := rules.LoaderFunc(func(context.Context) ([]rules.Definition, error) {
		calls++
		return defs, nil
	})
	srv := newServer(t, rules.NewCachedSource(loader, nil, time.Hour), nil)

	do(t, srv, http.MethodGet, "/api/planning/rules/", nil)
	rec, body := do(t, srv, http.MethodPost, "/api/planning/rules/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 2, calls)
	assert.Equal(t, true, body["reloaded"])
	assert.Equal(t, 4.0, body["active"])
	rejectedRules := body["rejected"].([]any)
	require.Len(t, rejectedRules, 1)
	assert.Equal(t, "broken", rejectedRules[0].(map[string]any)["ruleId"])
	assert.Equal(t, 1.0, srv.reg.GetGauge(metrics.RuleCacheRejectsGauge).Value())
}

func TestRuleMetrics(t *testing.T) {
	srv := newServer(t, seedSource(t), nil)
	srv.metrics.Apply(context.Background(), []rules.MetricsDelta{{RuleID: "r1", Executions: 4, Successes: 4, Fired: 1}})

	rec, body := do(t, srv, http.MethodGet, "/api/planning/rules/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := body["metrics"].([]any)
	require.Len(t, list, 1)
	m := list[0].(map[string]any)
	assert.Equal(t, "r1", m["ruleId"])
	assert.Equal(t, 0.25, m["impactScore"])
}

func TestFatigueEndpoints(t *testing.T) {
	srv := newServer(t, seedSource(t), nil)

	rec, body := do(t, srv, http.MethodPost, "/api/planning/fatigue/events",
		FatigueEventRequest{UserID: "u1", EventType: "garde"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 30.0, body["score"])
	assert.Equal(t, "normal", body["level"])

	do(t, srv, http.MethodPost, "/api/planning/fatigue/events", FatigueEventRequest{UserID: "u1", EventType: "garde"})
	rec, body = do(t, srv, http.MethodGet, "/api/planning/fatigue/u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 60.0, body["score"])
	assert.Equal(t, "alerte", body["level"])
	assert.NotEmpty(t, body["lastUpdated"])

	// 恢复不会使分值为负
	for i := 0; i < 3; i++ {
		do(t, srv, http.MethodPost, "/api/planning/fatigue/events",
			FatigueEventRequest{UserID: "u1", EventType: "weekend", IsRecovery: true})
	}
	_, body = do(t, srv, http.MethodGet, "/api/planning/fatigue/u1", nil)
	assert.Equal(t, 0.0, body["score"])

	rec, body = do(t, srv, http.MethodPost, "/api/planning/fatigue/events",
		FatigueEventRequest{UserID: "u1", EventType: "sieste"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", body["code"])

	assert.Equal(t, 2.0, srv.reg.GetCounter(metrics.FatigueUpdatesTotal).Value("event"))
	assert.Equal(t, 3.0, srv.reg.GetCounter(metrics.FatigueUpdatesTotal).Value("recovery"))

	_, body = do(t, srv, http.MethodGet, "/api/planning/fatigue/nobody", nil)
	assert.Equal(t, 0.0, body["score"])
	assert.NotContains(t, body, "lastUpdated")
}

func TestEquity(t *testing.T) {
	srv := newServer(t, seedSource(t), nil)
	guard := func(id, user string, day int) *model.Assignment {
		start := time.Date(2026, 3, day, 8, 0, 0, 0, time.UTC)
		return &model.Assignment{ID: id, UserID: user, Type: model.AssignmentGarde24h, StartDate: start, EndDate: start.Add(24 * time.Hour)}
	}

	rec, body := do(t, srv, http.MethodPost, "/api/planning/equity", EquityRequest{
		Assignments: []*model.Assignment{guard("a", "u1", 2), guard("b", "u1", 9), guard("c", "u2", 16)},
		Staff:       []*model.Staff{{ID: "u1", Name: "Alice"}, {ID: "u2", Name: "Bruno"}},
		Requirements: []model.Requirement{
			{Date: "2026-03-02", AssignmentType: model.AssignmentGarde24h, Count: 1},
			{Date: "2026-03-03", AssignmentType: model.AssignmentGarde24h, Count: 1},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	fairness := body["fairness"].(map[string]any)
	assert.InDelta(t, 1/1.5, fairness["equiteScore"], 1e-9)
	assert.Len(t, fairness["staffStats"], 2)
	assert.Contains(t, body, "coverage")

	rec, _ = do(t, srv, http.MethodPost, "/api/planning/equity", EquityRequest{
		Assignments: []*model.Assignment{{ID: "x", Type: model.AssignmentGarde}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTemplates(t *testing.T) {
	srv := newServer(t, seedSource(t), nil)

	rec, body := do(t, srv, http.MethodGet, "/api/planning/templates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["templates"], 4)

	rec, body = do(t, srv, http.MethodGet, "/api/planning/templates/pediatrie", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tpl := body["template"].(map[string]any)
	assert.Equal(t, "PEDIATRIE", tpl["category"])
	assert.NotEmpty(t, body["rules"])

	rec, body = do(t, srv, http.MethodGet, "/api/planning/templates/urgences", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", body["code"])
}

type stubTemplates map[string]templates.Template

func (s stubTemplates) Get(_ context.Context, category string) (templates.Template, error) {
	if tpl, ok := s[category]; ok {
		return tpl, nil
	}
	return templates.Template{}, errors.NotFound("template", category)
}

func TestTemplateChain(t *testing.T) {
	custom, _ := templates.Get("standard")
	custom.Name = "Standard (site)"

	chain := TemplateChain{stubTemplates{"standard": custom}, BuiltinTemplates{}}

	got, err := chain.Get(context.Background(), "standard")
	require.NoError(t, err)
	assert.Equal(t, "Standard (site)", got.Name)

	got, err = chain.Get(context.Background(), "allege")
	require.NoError(t, err)
	assert.Equal(t, templates.CategoryAllege, got.Category)

	_, err = chain.Get(context.Background(), "urgences")
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	srv := newServer(t, seedSource(t), map[string]HealthChecker{
		"database": func(context.Context) error { return nil },
	})
	rec, body := do(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Content-Type-Options"))

	srv = newServer(t, seedSource(t), map[string]HealthChecker{
		"redis": func(context.Context) error { return stderrors.New("dial tcp: refused") },
	})
	rec, body = do(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "dial tcp: refused", body["checks"].(map[string]any)["redis"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newServer(t, seedSource(t), nil)
	do(t, srv, http.MethodGet, "/api/planning/templates", nil)

	rec, _ := do(t, srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(),
		`planrules_http_requests_total{method="GET",path="/api/planning/templates",status="200"} 1`)
}
