package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/paiban/planrules/internal/config"
	"github.com/paiban/planrules/internal/database"
	"github.com/paiban/planrules/internal/handler"
	"github.com/paiban/planrules/internal/repository"
	"github.com/paiban/planrules/pkg/fatigue"
	"github.com/paiban/planrules/pkg/logger"
	"github.com/paiban/planrules/pkg/rules"
	"github.com/paiban/planrules/pkg/templates"
)

// errPlanInvalid 校验结果包含错误级违规，仅用于设置退出码
var errPlanInvalid = errors.New("排班未通过校验")

// ruleOptions 规则来源参数
type ruleOptions struct {
	rulesFile string
	template  string
}

func (o *ruleOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.rulesFile, "rules", "", "规则文件 (JSON/YAML)，为空时使用内置种子规则与模板规则")
	cmd.Flags().StringVar(&o.template, "template", string(templates.CategoryStandard), "规则模板")
}

// load 编译规则；被拒绝的定义输出到 stderr 后跳过
func (o *ruleOptions) load(cmd *cobra.Command) ([]*rules.Rule, templates.Template, error) {
	tpl, ok := templates.Get(o.template)
	if !ok {
		return nil, tpl, fmt.Errorf("未知模板 %q", o.template)
	}

	var defs []rules.Definition
	if o.rulesFile != "" {
		var err error
		if defs, err = (rules.FileLoader{Path: o.rulesFile}).LoadDefinitions(cmd.Context()); err != nil {
			return nil, tpl, err
		}
	} else {
		defs = append(templates.SeedRules(), tpl.Rules()...)
	}

	compiled, rejected := rules.LoadDefinitions(defs)
	for _, r := range rejected {
		fmt.Fprintf(cmd.ErrOrStderr(), "跳过规则 %s: %v\n", r.RuleID, r.Err)
	}
	return compiled, tpl, nil
}

func newRootCmd() *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:           "planctl",
		Short:         "排班规则引擎命令行工具",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			cfg := logger.DefaultConfig()
			cfg.Level = logLevel
			cfg.Output = "stderr"
			logger.Init(cfg)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "日志级别")

	root.AddCommand(
		newValidateCmd(),
		newGenerateCmd(),
		newConflictsCmd(),
		newTemplatesCmd(),
		newSeedCmd(),
		newMigrateCmd(),
	)
	return root
}

func newValidateCmd() *cobra.Command {
	var (
		ro       ruleOptions
		input    string
		baseline map[string]string
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "离线校验一批排班，存在错误级违规时退出码为1",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var in rules.ValidationInput
			if err := readJSON(cmd, input, &in); err != nil {
				return err
			}
			compiled, tpl, err := ro.load(cmd)
			if err != nil {
				return err
			}
			scorer, err := baselineScorer(tpl.Fatigue, baseline)
			if err != nil {
				return err
			}

			eng := rules.NewEngine(rules.NewStaticSource(compiled...), rules.WithScorer(scorer))
			report, err := eng.RunValidation(cmd.Context(), in)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.Valid {
				return errPlanInvalid
			}
			return nil
		},
	}
	ro.bind(cmd)
	cmd.Flags().StringVar(&input, "input", "-", "排班输入 JSON 文件，- 表示标准输入")
	cmd.Flags().StringToStringVar(&baseline, "fatigue", nil, "基线疲劳分，如 --fatigue u1=65,u2=20")
	return cmd
}

func newGenerateCmd() *cobra.Command {
	var (
		ro       ruleOptions
		input    string
		baseline map[string]string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "按日期范围生成排班建议",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var req handler.GenerateRequest
			if err := readJSON(cmd, input, &req); err != nil {
				return err
			}
			compiled, tpl, err := ro.load(cmd)
			if err != nil {
				return err
			}
			scorer, err := baselineScorer(tpl.Fatigue, baseline)
			if err != nil {
				return err
			}

			eng := rules.NewEngine(rules.NewStaticSource(compiled...), rules.WithScorer(scorer))
			proposals, err := eng.RunGeneration(cmd.Context(), req.GenerationCriteria, req.Staff)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), handler.GenerateResponse{Proposals: proposals})
		},
	}
	ro.bind(cmd)
	cmd.Flags().StringVar(&input, "input", "-", "生成条件 JSON 文件，- 表示标准输入")
	cmd.Flags().StringToStringVar(&baseline, "fatigue", nil, "基线疲劳分，如 --fatigue u1=65,u2=20")
	return cmd
}

func newConflictsCmd() *cobra.Command {
	var ro ruleOptions
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "检测规则之间的冲突",
		RunE: func(cmd *cobra.Command, _ []string) error {
			compiled, _, err := ro.load(cmd)
			if err != nil {
				return err
			}
			conflicts := rules.DetectConflicts(compiled)
			if conflicts == nil {
				conflicts = []rules.Conflict{}
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"conflicts": conflicts,
				"total":     len(conflicts),
			})
		},
	}
	ro.bind(cmd)
	return cmd
}

func newTemplatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "templates [category]",
		Short: "列出规则模板，指定类别时导出该模板的规则 YAML",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "CATEGORY\tNAME\tDEFAULT")
				for _, t := range templates.Defaults() {
					fmt.Fprintf(tw, "%s\t%s\t%v\n", t.Category, t.Name, t.IsDefault)
				}
				return tw.Flush()
			}

			tpl, ok := templates.Get(args[0])
			if !ok {
				return fmt.Errorf("未知模板 %q", args[0])
			}
			data, err := rules.EncodeDefinitionsYAML(tpl.Rules())
			if err != nil {
				return err
			}
			_, err = out.Write(data)
			return err
		},
	}
}

func newSeedCmd() *cobra.Command {
	var dsn, active string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "写入种子规则与内置模板，只启用指定模板的规则",
		RunE: func(cmd *cobra.Command, _ []string) error {
			chosen, ok := templates.Get(active)
			if !ok {
				return fmt.Errorf("未知模板 %q", active)
			}
			db, err := openDB(dsn)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			ruleStore := repository.NewRuleStore(db)
			templateStore := repository.NewTemplateStore(db)

			count := 0
			for _, def := range templates.SeedRules() {
				if err := ruleStore.Upsert(ctx, def); err != nil {
					return err
				}
				count++
			}
			for _, tpl := range templates.Defaults() {
				tpl.IsDefault = tpl.Category == chosen.Category
				if err := templateStore.Save(ctx, tpl); err != nil {
					return err
				}
				for _, def := range tpl.Rules() {
					if !tpl.IsDefault {
						def.Status = string(rules.StatusInactive)
					}
					if err := ruleStore.Upsert(ctx, def); err != nil {
						return err
					}
					count++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已写入 %d 条规则, %d 个模板, 启用模板 %s\n",
				count, len(templates.Defaults()), chosen.Category)
			return nil
		},
	}
	bindDSN(cmd, &dsn)
	cmd.Flags().StringVar(&active, "template", string(templates.CategoryStandard), "启用的规则模板")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:       "migrate {up|down|version|force N}",
		Short:     "执行数据库迁移",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{"up", "down", "version", "force"},
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(dsn)
			if err != nil {
				return err
			}
			m, err := database.NewMigrator(db.DB)
			if err != nil {
				db.Close()
				return err
			}
			// 迁移器关闭时会同时关闭底层连接
			defer m.Close()

			out := cmd.OutOrStdout()
			switch args[0] {
			case "up":
				err = m.Up()
			case "down":
				err = m.Down()
			case "version":
				version, dirty, err := m.Version()
				if errors.Is(err, migrate.ErrNilVersion) {
					fmt.Fprintln(out, "尚未执行任何迁移")
					return nil
				}
				if err != nil {
					return fmt.Errorf("读取迁移版本失败: %w", err)
				}
				fmt.Fprintf(out, "当前版本: %d (dirty: %v)\n", version, dirty)
				return nil
			case "force":
				if len(args) < 2 {
					return errors.New("force 需要版本号: migrate force N")
				}
				version, convErr := strconv.Atoi(args[1])
				if convErr != nil {
					return fmt.Errorf("版本号无效: %w", convErr)
				}
				if err := m.Force(version); err != nil {
					return fmt.Errorf("强制设置版本失败: %w", err)
				}
				fmt.Fprintf(out, "已强制设置版本为 %d\n", version)
				return nil
			default:
				return fmt.Errorf("未知的迁移命令 %q", args[0])
			}

			if errors.Is(err, migrate.ErrNoChange) {
				fmt.Fprintln(out, "数据库已是最新")
				return nil
			}
			if err != nil {
				return fmt.Errorf("执行迁移 %s 失败: %w", args[0], err)
			}
			fmt.Fprintf(out, "迁移 %s 完成\n", args[0])
			return nil
		},
	}
	bindDSN(cmd, &dsn)
	return cmd
}

func bindDSN(cmd *cobra.Command, dsn *string) {
	cmd.Flags().StringVar(dsn, "dsn", os.Getenv("DATABASE_URL"), "数据库连接串，默认读取 DATABASE_URL，再退回 DB_* 环境变量")
}

// openDB 打开数据库；未指定连接串时使用服务配置
func openDB(dsn string) (*database.DB, error) {
	if dsn == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		dsn = cfg.Database.DSN()
	}
	return database.Open(dsn)
}

// baselineScorer 以内存存储装载命令行给定的基线疲劳分
func baselineScorer(cfg fatigue.Config, baseline map[string]string) (*fatigue.Scorer, error) {
	store := fatigue.NewMemoryStore()
	now := time.Now()
	for userID, raw := range baseline {
		score, err := strconv.ParseFloat(raw, 64)
		if err != nil || score < 0 {
			return nil, fmt.Errorf("疲劳分无效 %s=%s", userID, raw)
		}
		store.Set(userID, score, now)
	}
	return fatigue.NewScorer(cfg, store), nil
}

func readJSON(cmd *cobra.Command, path string, dst any) error {
	r := cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("打开输入文件失败: %w", err)
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(dst); err != nil {
		return fmt.Errorf("解析输入失败: %w", err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
