package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/BaSui01/skillflow/internal/migration"
)

// =============================================================================
// 🗄️ 数据库迁移命令
// =============================================================================

type migrateOptions struct {
	root   *rootOptions
	dbType string
	dbURL  string
}

func newMigrateCmd(root *rootOptions) *cobra.Command {
	opts := &migrateOptions{root: root}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration commands",
		Long: `Manage the skill inventory schema. The store migrates itself on open;
these commands exist for inspection and controlled rollbacks.`,
	}
	cmd.PersistentFlags().StringVar(&opts.dbType, "db-type", "", "Database type: sqlite or postgres (default: from config)")
	cmd.PersistentFlags().StringVar(&opts.dbURL, "db-url", "", "Database connection URL (default: from config)")

	var all bool
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the last migration",
		Args:  cobra.NoArgs,
		RunE: opts.run(func(cli *migration.CLI, cmd *cobra.Command, _ []string) error {
			if all {
				return cli.RunDownAll(cmd.Context())
			}
			return cli.RunDown(cmd.Context())
		}),
	}
	down.Flags().BoolVar(&all, "all", false, "Roll back all migrations")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: opts.run(func(cli *migration.CLI, cmd *cobra.Command, _ []string) error {
				return cli.RunUp(cmd.Context())
			}),
		},
		down,
		&cobra.Command{
			Use:   "status",
			Short: "Show migration status",
			Args:  cobra.NoArgs,
			RunE: opts.run(func(cli *migration.CLI, cmd *cobra.Command, _ []string) error {
				return cli.RunStatus(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show current migration version",
			Args:  cobra.NoArgs,
			RunE: opts.run(func(cli *migration.CLI, cmd *cobra.Command, _ []string) error {
				return cli.RunVersion(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "goto <version>",
			Short: "Migrate to a specific version",
			Args:  cobra.ExactArgs(1),
			RunE: opts.run(func(cli *migration.CLI, cmd *cobra.Command, args []string) error {
				v, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					return fmt.Errorf("invalid version number: %s", args[0])
				}
				return cli.RunGoto(cmd.Context(), uint(v))
			}),
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Force set migration version (use with caution)",
			Args:  cobra.ExactArgs(1),
			RunE: opts.run(func(cli *migration.CLI, cmd *cobra.Command, args []string) error {
				v, err := strconv.ParseInt(args[0], 10, 32)
				if err != nil {
					return fmt.Errorf("invalid version number: %s", args[0])
				}
				return cli.RunForce(cmd.Context(), int(v))
			}),
		},
	)
	return cmd
}

// run 创建迁移器并在命令结束后关闭
func (o *migrateOptions) run(fn func(cli *migration.CLI, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		m, err := o.migrator()
		if err != nil {
			return fmt.Errorf("create migrator: %w", err)
		}
		defer m.Close()
		return fn(migration.NewCLI(m, cmd.OutOrStdout()), cmd, args)
	}
}

func (o *migrateOptions) migrator() (*migration.DefaultMigrator, error) {
	if o.dbType != "" && o.dbURL != "" {
		return migration.NewMigratorFromURL(o.dbType, o.dbURL)
	}
	cfg, err := loadConfig(o.root)
	if err != nil {
		return nil, err
	}
	if o.dbType != "" {
		cfg.Database.Driver = o.dbType
	}
	return migration.NewMigratorFromDatabaseConfig(cfg.Database)
}
