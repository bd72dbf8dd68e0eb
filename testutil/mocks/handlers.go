// 技能处理器的测试模拟实现。
package mocks

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/BaSui01/skillflow/skills"
)

// Handler 可配置的处理器：前 failures 次返回错误，每次调用先等待 delay
type Handler struct {
	calls    atomic.Int64
	failures int64
	delay    time.Duration
	err      error
	output   map[string]any
}

// NewHandler 创建总是成功的处理器
func NewHandler() *Handler {
	return &Handler{err: ErrInjected}
}

// FailFirst 前 n 次调用失败
func (h *Handler) FailFirst(n int) *Handler {
	h.failures = int64(n)
	return h
}

// WithDelay 每次调用先等待 d，可被 ctx 取消
func (h *Handler) WithDelay(d time.Duration) *Handler {
	h.delay = d
	return h
}

// WithError 失败时返回的错误
func (h *Handler) WithError(err error) *Handler {
	h.err = err
	return h
}

// WithOutput 成功时的输出，为空时原样返回参数
func (h *Handler) WithOutput(out map[string]any) *Handler {
	h.output = out
	return h
}

// Calls 已调用次数
func (h *Handler) Calls() int {
	return int(h.calls.Load())
}

// Func 返回可注册到 skills.Catalog 的处理器
func (h *Handler) Func() skills.Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		n := h.calls.Add(1)
		if h.delay > 0 {
			select {
			case <-time.After(h.delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if n <= h.failures {
			return nil, h.err
		}
		if h.output != nil {
			return h.output, nil
		}
		return args, nil
	}
}
