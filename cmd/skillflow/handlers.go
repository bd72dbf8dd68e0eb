package main

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/skillflow/skills"
)

// builtinCatalog 命令行自带的处理器。库调用方通过 skillflow.WithCatalog 注册自己的处理器
func builtinCatalog() *skills.Catalog {
	c := skills.NewCatalog()
	c.MustRegister("echo", echo)
	c.MustRegister("sleep", sleep)
	return c
}

// echo 原样返回参数
func echo(_ context.Context, args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out, nil
}

// sleep 等待 args["ms"] 毫秒，可被取消
func sleep(ctx context.Context, args map[string]any) (map[string]any, error) {
	var ms float64
	switch v := args["ms"].(type) {
	case float64:
		ms = v
	case int:
		ms = float64(v)
	case nil:
	default:
		return nil, fmt.Errorf("ms must be a number, got %T", v)
	}
	d := time.Duration(ms * float64(time.Millisecond))
	select {
	case <-time.After(d):
		return map[string]any{"slept_ms": ms}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
