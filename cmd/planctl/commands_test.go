package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paiban/planrules/pkg/rules"
)

const blocInput = `{
  "assignments": [
    {"id": "a1", "userId": "u1", "type": "BLOC",
     "startDate": "2026-03-11T08:00:00Z", "endDate": "2026-03-11T18:00:00Z"}
  ]
}`

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCmd(t *testing.T) {
	out, err := execute(t, blocInput, "validate", "--fatigue", "u1=85")
	assert.ErrorIs(t, err, errPlanInvalid)

	var report rules.ValidationReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.False(t, report.Valid)
	require.NotEmpty(t, report.Violations)
	assert.Equal(t, "FATIGUE", report.Violations[0].ViolationType)

	out, err = execute(t, blocInput, "validate", "--fatigue", "u1=10")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Valid)
}

func TestValidateCmd_InputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.json")
	require.NoError(t, os.WriteFile(path, []byte(blocInput), 0o600))

	_, err := execute(t, "", "validate", "--input", path)
	assert.NoError(t, err)

	_, err = execute(t, "", "validate", "--input", path, "--fatigue", "u1=abc")
	assert.ErrorContains(t, err, "疲劳分无效")

	_, err = execute(t, "", "validate", "--input", path, "--template", "urgences")
	assert.ErrorContains(t, err, "未知模板")
}

func TestGenerateCmd(t *testing.T) {
	input := `{
  "startDate": "2026-03-14", "endDate": "2026-03-14",
  "staff": [
    {"id": "s1", "name": "Alice", "experience": "senior", "available": true},
    {"id": "s2", "name": "Bruno", "experience": "senior", "available": true}
  ]
}`
	out, err := execute(t, input, "generate", "--fatigue", "s1=40")
	require.NoError(t, err)

	var resp struct {
		Proposals []rules.AssignmentProposal `json:"proposals"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotEmpty(t, resp.Proposals)
	assert.Equal(t, "2026-03-14", resp.Proposals[0].Date)
}

func TestConflictsCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
  {"id": "a", "type": "validation", "priority": 90,
   "conditions": {"field": "metrics.fatigueScore", "operator": "greater", "value": 70},
   "actions": [{"type": "validate", "parameters": {"severity": "error", "violationType": "FATIGUE", "message": "critique"}}]},
  {"id": "b", "type": "validation", "priority": 70,
   "conditions": {"field": "metrics.fatigueScore", "operator": "between", "value": [60, 80]},
   "actions": [{"type": "validate", "parameters": {"severity": "warning", "violationType": "FATIGUE", "message": "alerte"}}]}
]`), 0o600))

	out, err := execute(t, "", "conflicts", "--rules", path)
	require.NoError(t, err)

	var resp struct {
		Conflicts []rules.Conflict `json:"conflicts"`
		Total     int              `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, []string{"a", "b"}, resp.Conflicts[0].RuleIDs)
}

func TestTemplatesCmd(t *testing.T) {
	out, err := execute(t, "", "templates")
	require.NoError(t, err)
	for _, c := range []string{"STANDARD", "INTENSIF", "ALLEGE", "PEDIATRIE"} {
		assert.Contains(t, out, c)
	}

	out, err = execute(t, "", "templates", "pediatrie")
	require.NoError(t, err)
	defs, err := rules.DecodeDefinitions([]byte(out), "yaml")
	require.NoError(t, err)
	assert.NotEmpty(t, defs)

	// 导出的规则能重新编译
	_, rejected := rules.LoadDefinitions(defs)
	assert.Empty(t, rejected)

	_, err = execute(t, "", "templates", "urgences")
	assert.Error(t, err)
}

func TestMigrateCmd_Args(t *testing.T) {
	_, err := execute(t, "", "migrate")
	assert.Error(t, err)
}
