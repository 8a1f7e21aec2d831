//go:build integration

package repository_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/paiban/planrules/internal/database"
	"github.com/paiban/planrules/internal/repository"
	"github.com/paiban/planrules/pkg/errors"
	"github.com/paiban/planrules/pkg/rules"
	"github.com/paiban/planrules/pkg/templates"
)

// setupDB 启动 PostgreSQL 容器并执行迁移
func setupDB(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:15-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "planrules_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("host=%s port=%s user=test password=test dbname=planrules_test sslmode=disable", host, port.Port())

	var db *database.DB
	for i := 0; i < 30; i++ {
		if db, err = database.Open(dsn); err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	require.NoError(t, err, "连接数据库失败")
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.Migrate(db.DB))
	return db
}

func TestRepositories(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	t.Run("RuleStore", func(t *testing.T) {
		store := repository.NewRuleStore(db)
		for _, def := range templates.SeedRules() {
			require.NoError(t, store.Upsert(ctx, def))
		}

		active, err := store.ListActive(ctx)
		require.NoError(t, err)
		require.Len(t, active, len(templates.SeedRules()))

		// 读回的定义必须能重新编译
		compiled, rejected := rules.LoadDefinitions(active)
		assert.Empty(t, rejected)
		assert.Len(t, compiled, len(active))
		for i := 1; i < len(active); i++ {
			assert.GreaterOrEqual(t, active[i-1].Priority, active[i].Priority)
		}

		id := active[0].ID
		require.NoError(t, store.SetStatus(ctx, id, rules.StatusInactive))
		active, err = store.ListActive(ctx)
		require.NoError(t, err)
		assert.Len(t, active, len(templates.SeedRules())-1)

		def, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "inactive", def.Status)

		_, err = store.Get(ctx, "missing")
		assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))
		assert.Equal(t, errors.CodeNotFound, errors.GetCode(store.SetStatus(ctx, "missing", rules.StatusActive)))
	})

	t.Run("TemplateStore", func(t *testing.T) {
		store := repository.NewTemplateStore(db)
		for _, tpl := range templates.Defaults() {
			require.NoError(t, store.Save(ctx, tpl))
		}

		got, err := store.Get(ctx, "pediatrie")
		require.NoError(t, err)
		assert.Equal(t, templates.CategoryPediatrie, got.Category)

		def, err := store.Default(ctx)
		require.NoError(t, err)
		assert.Equal(t, templates.CategoryStandard, def.Category)

		// 切换默认模板
		got.IsDefault = true
		require.NoError(t, store.Save(ctx, got))
		def, err = store.Default(ctx)
		require.NoError(t, err)
		assert.Equal(t, templates.CategoryPediatrie, def.Category)

		_, err = store.Get(ctx, "urgences")
		assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))
	})

	t.Run("MetricsStore", func(t *testing.T) {
		store := repository.NewMetricsStore(db)
		delta := rules.MetricsDelta{RuleID: "r1", Executions: 2, Successes: 1, Failures: 1, Fired: 1, TotalDuration: 4 * time.Millisecond}

		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, store.Apply(ctx, []rules.MetricsDelta{delta}))
			}()
		}
		wg.Wait()

		list, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		m := list[0]
		assert.Equal(t, int64(10), m.ExecutionCount)
		assert.Equal(t, int64(5), m.FailureCount)
		assert.InDelta(t, 20.0, m.TotalExecutionTime, 1e-9)
		assert.InDelta(t, 2.0, m.AvgExecutionTime, 1e-9)
		assert.InDelta(t, 0.5, m.ImpactScore, 1e-9)
	})

	t.Run("FatigueStore", func(t *testing.T) {
		store := repository.NewFatigueStore(db)
		now := time.Now().UTC()

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				delta := 10.0
				if i%2 == 1 {
					delta = -15
				}
				_, err := store.Add(ctx, "u1", delta, now)
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		st, err := store.Get(ctx, "u1")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, st.Score, 0.0)

		st, err = store.Add(ctx, "u2", 30, now)
		require.NoError(t, err)
		assert.Equal(t, 30.0, st.Score)

		many, err := store.GetMany(ctx, []string{"u2", "unknown"})
		require.NoError(t, err)
		assert.Equal(t, 30.0, many["u2"].Score)
		assert.NotContains(t, many, "unknown")

		st, err = store.Get(ctx, "unknown")
		require.NoError(t, err)
		assert.Zero(t, st.Score)
	})
}
