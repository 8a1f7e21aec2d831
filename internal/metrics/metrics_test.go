package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paiban/planrules/pkg/rules"
)

func TestHistogram_Buckets(t *testing.T) {
	r := &MetricsRegistry{
		counters:   map[string]*Counter{},
		gauges:     map[string]*Gauge{},
		histograms: map[string]*Histogram{},
	}
	h := r.NewHistogram("test_seconds", "test", nil, []float64{0.1, 1})
	h.Observe(0.05)
	h.Observe(0.5)
	h.Observe(0.5)
	h.Observe(5)

	var sb strings.Builder
	r.WriteTo(&sb)
	out := sb.String()

	assert.Contains(t, out, `test_seconds_bucket{le="0.1"} 1`)
	assert.Contains(t, out, `test_seconds_bucket{le="1"} 3`)
	assert.Contains(t, out, `test_seconds_bucket{le="+Inf"} 4`)
	assert.Contains(t, out, "test_seconds_sum 6.05")
	assert.Contains(t, out, "test_seconds_count 4")
	assert.Equal(t, 4, h.Count())
}

func TestRecordValidation(t *testing.T) {
	r := NewRegistry()
	report := &rules.ValidationReport{
		Valid: false,
		Violations: []rules.Violation{
			{Severity: rules.SeverityError, ViolationType: "FATIGUE"},
			{Severity: rules.SeverityError, ViolationType: "FATIGUE"},
			{Severity: rules.SeverityWarning, ViolationType: "FATIGUE_WARNING"},
		},
		Proposals: []rules.AssignmentProposal{{}},
		Metrics:   rules.ReportMetrics{EquiteScore: 0.5},
	}

	r.RecordValidation(report, 20*time.Millisecond)
	r.RecordValidationError(time.Millisecond)

	assert.Equal(t, 1.0, r.GetCounter(ValidationRunsTotal).Value("invalid"))
	assert.Equal(t, 1.0, r.GetCounter(ValidationRunsTotal).Value("error"))
	assert.Equal(t, 2.0, r.GetCounter(ViolationsTotal).Value("error", "FATIGUE"))
	assert.Equal(t, 1.0, r.GetCounter(ViolationsTotal).Value("warning", "FATIGUE_WARNING"))
	assert.Equal(t, 1.0, r.GetCounter(ProposalsTotal).Value())
	assert.Equal(t, 0.5, r.GetGauge(EquityScore).Value())
	assert.Equal(t, 2, r.GetHistogram(ValidationDuration).Count())
}

func TestRecordRuleEvaluations(t *testing.T) {
	r := NewRegistry()
	record := rules.RecorderFunc(r.RecordRuleEvaluations)
	record.Record([]rules.MetricsDelta{
		{RuleID: "min-interval", Executions: 3, Successes: 2, Failures: 1},
		{RuleID: "fatigue,critique", Executions: 1, Successes: 1},
	})

	c := r.GetCounter(RuleEvaluationsTotal)
	assert.Equal(t, 2.0, c.Value("min-interval", "success"))
	assert.Equal(t, 1.0, c.Value("min-interval", "failure"))
	assert.Equal(t, 1.0, c.Value("fatigue,critique", "success"))
	assert.Zero(t, c.Value("fatigue,critique", "failure"))
}

func TestHandler(t *testing.T) {
	r := NewRegistry()
	r.RecordRequest("POST", "/api/planning/validate", 200, 15*time.Millisecond)
	r.RecordFatigueUpdate("recovery")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, body, "# TYPE planrules_http_requests_total counter")
	assert.Contains(t, body, `planrules_http_requests_total{method="POST",path="/api/planning/validate",status="200"} 1`)
	assert.Contains(t, body, `planrules_fatigue_updates_total{kind="recovery"} 1`)
	assert.Contains(t, body, `planrules_http_request_duration_seconds_bucket{method="POST",path="/api/planning/validate",le="0.025"} 1`)

	// 输出按名称排序
	assert.Less(t, strings.Index(body, "planrules_fatigue_updates_total"), strings.Index(body, "planrules_http_requests_total"))
}
