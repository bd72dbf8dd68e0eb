package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
)

// CLI migrate 子命令的输出层
type CLI struct {
	migrator Migrator
	out      io.Writer
}

// NewCLI 创建 CLI，w 为 nil 时写 stdout
func NewCLI(migrator Migrator, w io.Writer) *CLI {
	if w == nil {
		w = os.Stdout
	}
	return &CLI{migrator: migrator, out: w}
}

// apply 打印动作，执行，再打印执行后的版本
func (c *CLI) apply(ctx context.Context, action string, fn func(context.Context) error) error {
	fmt.Fprintf(c.out, "%s...\n", action)
	if err := fn(ctx); err != nil {
		return err
	}
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Done. %s\n", formatVersion(version, dirty))
	return nil
}

func formatVersion(version uint, dirty bool) string {
	if version == 0 {
		return "No migrations applied yet."
	}
	if dirty {
		return fmt.Sprintf("Current version: %d (dirty)", version)
	}
	return fmt.Sprintf("Current version: %d", version)
}

// RunUp 应用全部待执行迁移
func (c *CLI) RunUp(ctx context.Context) error {
	return c.apply(ctx, "Applying skill inventory migrations", c.migrator.Up)
}

// RunDown 回滚最近一个迁移
func (c *CLI) RunDown(ctx context.Context) error {
	return c.apply(ctx, "Rolling back last migration", c.migrator.Down)
}

// RunDownAll 回滚全部迁移，技能库数据随表一起删除
func (c *CLI) RunDownAll(ctx context.Context) error {
	return c.apply(ctx, "Rolling back all migrations", c.migrator.DownAll)
}

// RunGoto 迁移到指定版本
func (c *CLI) RunGoto(ctx context.Context, version uint) error {
	return c.apply(ctx, fmt.Sprintf("Migrating to version %d", version), func(ctx context.Context) error {
		return c.migrator.Goto(ctx, version)
	})
}

// RunForce 强制设置版本号
func (c *CLI) RunForce(ctx context.Context, version int) error {
	return c.apply(ctx, fmt.Sprintf("Forcing version to %d", version), func(ctx context.Context) error {
		return c.migrator.Force(ctx, version)
	})
}

// RunVersion 打印当前版本
func (c *CLI) RunVersion(ctx context.Context) error {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, formatVersion(version, dirty))
	return nil
}

// RunStatus 打印每个迁移的状态与汇总
func (c *CLI) RunStatus(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		fmt.Fprintln(c.out, "No migrations found.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tCHANGES\tSTATUS")
	applied := 0
	for _, s := range statuses {
		status := "Pending"
		switch {
		case s.Dirty:
			status = "Dirty"
		case s.Applied:
			status = "Applied"
		}
		if s.Applied {
			applied++
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\t%s\n", s.Version, s.Name, s.Description, status)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "\nTotal: %d, Applied: %d, Pending: %d\n", len(statuses), applied, len(statuses)-applied)
	return nil
}
