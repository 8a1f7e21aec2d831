package rules

import (
	stderrors "errors"
	"time"

	"github.com/paiban/planrules/pkg/logger"
)

// Matcher 判断规则是否触发，并记录执行统计
type Matcher struct {
	evaluator *Evaluator
	metrics   *MetricsCollector
	log       *logger.RuleEngineLogger
}

// NewMatcher 创建匹配器；metrics 为空时不记录统计
func NewMatcher(evaluator *Evaluator, metrics *MetricsCollector, log *logger.RuleEngineLogger) *Matcher {
	if log == nil {
		log = logger.NewRuleEngineLogger()
	}
	return &Matcher{evaluator: evaluator, metrics: metrics, log: log}
}

// Matches 求值规则条件
//
// 求值出错计为失败；出错的叶子不满足，但条件树整体仍成立时规则照常触发。
func (m *Matcher) Matches(rule *Rule, facts *Facts) bool {
	start := time.Now()
	matched, err := m.evaluator.Evaluate(rule.Conditions, facts)
	if m.metrics != nil {
		m.metrics.Observe(rule.ID, time.Since(start), err != nil)
	}
	if err != nil {
		m.logDataErrors(rule.ID, err)
	}
	return matched
}

func (m *Matcher) logDataErrors(ruleID string, err error) {
	var joined interface{ Unwrap() []error }
	if stderrors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			m.logDataErrors(ruleID, e)
		}
		return
	}
	var de *DataError
	if stderrors.As(err, &de) {
		m.log.DataError(ruleID, de.Field, de.Err)
		return
	}
	m.log.DataError(ruleID, "", err)
}
