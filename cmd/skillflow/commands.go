package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/skillflow"
	"github.com/BaSui01/skillflow/inventory"
)

// errValidationFailed validate 命令发现错误时返回，保证非零退出码
var errValidationFailed = errors.New("validation failed")

// withEngine 打开引擎执行一次性命令。loadSkills 为 true 时先加载配置的技能目录
func withEngine(cmd *cobra.Command, root *rootOptions, loadSkills bool, fn func(ctx context.Context, e *skillflow.Engine) error) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	// 一次性命令不需要后台清理与批量刷新等待
	cfg.Inventory.CleanupInterval = 0
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	e, err := skillflow.New(ctx, cfg,
		skillflow.WithLogger(logger),
		skillflow.WithCatalog(builtinCatalog()),
	)
	if err != nil {
		return err
	}
	if loadSkills {
		for _, dir := range cfg.Engine.SkillDirs {
			if _, err := e.LoadDirectory(ctx, dir); err != nil {
				logger.Warn("skill directory not loaded", zap.String("dir", dir), zap.Error(err))
			}
		}
	}
	runErr := fn(ctx, e)
	return errors.Join(runErr, e.Shutdown(context.WithoutCancel(ctx)))
}

// =============================================================================
// ✅ validate
// =============================================================================

func newValidateCmd(root *rootOptions) *cobra.Command {
	var skillID string
	cmd := &cobra.Command{
		Use:   "validate <manifest-or-dir>",
		Short: "Check that a skill manifest can be registered",
		Long: `Parse the manifest, resolve its handler and check its dependencies against the
skills loaded from the configured directories. Nothing is registered.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, root, true, func(_ context.Context, e *skillflow.Engine) error {
				report := e.Validate(args[0], skillID)
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
				if !report.Valid {
					return errValidationFailed
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&skillID, "id", "", "Expected skill id")
	return cmd
}

// =============================================================================
// 📤 export
// =============================================================================

func newExportCmd(root *rootOptions) *cobra.Command {
	var (
		format string
		skill  string
		output string
		since  time.Duration
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export execution records as json, jsonl or csv",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			filter := inventory.ExportFilter{SkillID: skill, Limit: limit}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			return withEngine(cmd, root, false, func(ctx context.Context, e *skillflow.Engine) error {
				n, err := e.Export(ctx, w, format, filter)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "exported %d records\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json, jsonl or csv")
	cmd.Flags().StringVar(&skill, "skill", "", "Only export this skill")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "Output file")
	cmd.Flags().DurationVar(&since, "since", 0, "Only export records newer than this age")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of records (0 = all)")
	return cmd
}

// =============================================================================
// 🗂️ versions / rollback
// =============================================================================

func newVersionsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "versions <skill-id>",
		Short: "List captured versions of a skill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, root, false, func(ctx context.Context, e *skillflow.Engine) error {
				versions, err := e.ListVersions(ctx, args[0])
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tCREATED\tHASH\tREVISION\tBASELINE P95")
				for _, v := range versions {
					p95 := "-"
					if v.Baseline != nil {
						p95 = fmt.Sprintf("%.1fms", v.Baseline.Metrics.P95)
					}
					hash := v.ContentHash
					if len(hash) > 12 {
						hash = hash[:12]
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
						v.ID, v.CreatedAt.Format(time.RFC3339), hash, orDash(v.Revision), p95)
				}
				return w.Flush()
			})
		},
	}
}

func newRollbackCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <skill-id> <version-id>",
		Short: "Restore a captured version of a skill's manifest",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, root, true, func(ctx context.Context, e *skillflow.Engine) error {
				ok, err := e.Rollback(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if ok {
					fmt.Fprintf(cmd.OutOrStdout(), "restored %s to %s\n", args[0], args[1])
				}
				return nil
			})
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
