package calling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/skillflow/config"
	"github.com/BaSui01/skillflow/internal/metrics"
	"github.com/BaSui01/skillflow/rollout"
	"github.com/BaSui01/skillflow/skills"
	"github.com/BaSui01/skillflow/testutil/mocks"
	"github.com/BaSui01/skillflow/tracking"
	"github.com/BaSui01/skillflow/types"
)

var errBoom = errors.New("boom")

type recorder struct {
	mu   sync.Mutex
	reqs []tracking.TrackRequest
}

func (r *recorder) Track(_ context.Context, req tracking.TrackRequest) (types.ExecutionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return types.ExecutionRecord{SkillID: req.SkillID, Status: req.Status}, nil
}

func (r *recorder) statuses() []types.ExecutionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.ExecutionStatus, len(r.reqs))
	for i, req := range r.reqs {
		out[i] = req.Status
	}
	return out
}

type fixedSelector struct{ variant string }

func (s fixedSelector) Select(skillID string) rollout.Selection {
	return rollout.Selection{SkillID: skillID, Variant: s.variant, TestID: "t-1", Candidate: s.variant != skillID}
}

// flaky 前 n 次调用失败
func flaky(n int) (skills.Handler, *mocks.Handler) {
	h := mocks.NewHandler().FailFirst(n).WithError(errBoom).WithOutput(map[string]any{"ok": true})
	return h.Func(), h
}

func echo(_ context.Context, args map[string]any) (map[string]any, error) { return args, nil }

func sleepy(ctx context.Context, _ map[string]any) (map[string]any, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fixture struct {
	registry  *skills.Registry
	recorder  *recorder
	decisions *mocks.DecisionRecorder
}

func newEngine(t *testing.T, cfg config.CallingConfig, handlers map[string]skills.Handler, opts ...Option) (*Engine, *fixture) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	f := &fixture{
		registry:  skills.NewRegistry(skills.NewDependencyValidator(logger), logger),
		recorder:  &recorder{},
		decisions: mocks.NewDecisionRecorder(),
	}
	for id, h := range handlers {
		require.NoError(t, f.registry.Register(skills.NewSkill(types.SkillDescriptor{ID: id, Name: id, Version: "1.0.0"}, h)))
	}
	opts = append([]Option{WithLogger(logger), WithRecorder(f.recorder), WithDecisions(f.decisions)}, opts...)
	e, err := New(f.registry, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e, f
}

func defaultConfig() config.CallingConfig {
	cfg := config.DefaultCallingConfig()
	cfg.Workers = 4
	cfg.Timeout = time.Second
	return cfg
}

func TestCall_Success(t *testing.T) {
	e, f := newEngine(t, defaultConfig(), map[string]skills.Handler{"echo": echo})

	res, err := e.Call(context.Background(), "echo", map[string]any{"q": "go"})
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, res.Status)
	assert.Equal(t, "go", res.Output["q"])
	assert.Equal(t, 1, res.Attempts)
	assert.True(t, res.OK())
	assert.Equal(t, []types.ExecutionStatus{types.StatusSuccess}, f.recorder.statuses())
}

func TestCall_RetriesOnceThenSucceeds(t *testing.T) {
	h, calls := flaky(1)
	e, f := newEngine(t, defaultConfig(), map[string]skills.Handler{"fetch": h})

	res, err := e.Call(context.Background(), "fetch", nil)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, res.Status)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2, calls.Calls())
	assert.Equal(t, []types.ExecutionStatus{types.StatusFailure, types.StatusSuccess}, f.recorder.statuses())
	assert.Equal(t, []types.DecisionKind{types.DecisionRetry}, f.decisions.Kinds())
}

func TestCall_SecondFailureSurfaces(t *testing.T) {
	h, calls := flaky(5)
	e, _ := newEngine(t, defaultConfig(), map[string]skills.Handler{"fetch": h})

	res, err := e.Call(context.Background(), "fetch", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 2, calls.Calls(), "exactly one retry")
	assert.Equal(t, types.StatusFailure, res.Status)

	var typed *types.Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, types.ErrHandlerFailed, typed.Code)
}

func TestCall_RetryDisabled(t *testing.T) {
	h, calls := flaky(1)
	e, _ := newEngine(t, defaultConfig(), map[string]skills.Handler{"fetch": h})

	res, err := e.Call(context.Background(), "fetch", nil, WithRetry(false))
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, calls.Calls())
}

func TestCall_TimeoutIsTypedResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	e, f := newEngine(t, defaultConfig(), map[string]skills.Handler{"slow": sleepy},
		WithMetrics(metrics.NewCollector("test", reg, nil)))

	start := time.Now()
	res, err := e.Call(context.Background(), "slow", nil, WithTimeout(30*time.Millisecond))
	require.NoError(t, err, "timeouts are results, not errors")
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, types.StatusTimeout, res.Status)
	assert.Equal(t, 1, res.Attempts, "timeouts are not retried")

	var typed *types.Error
	require.True(t, errors.As(res.Err, &typed))
	assert.Equal(t, types.ErrTimeout, typed.Code)
	assert.Equal(t, []types.ExecutionStatus{types.StatusTimeout}, f.recorder.statuses())

	count, err := testutil.GatherAndCount(reg, "test_skill_call_timeouts_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCall_CancelledCallerStillRecords(t *testing.T) {
	e, f := newEngine(t, defaultConfig(), map[string]skills.Handler{"slow": sleepy})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	res, err := e.Call(ctx, "slow", nil)
	require.NoError(t, err)
	assert.Equal(t, types.StatusTimeout, res.Status)
	assert.Equal(t, []types.ExecutionStatus{types.StatusTimeout}, f.recorder.statuses())
}

func TestCall_UnknownSkill(t *testing.T) {
	e, f := newEngine(t, defaultConfig(), nil)
	_, err := e.Call(context.Background(), "ghost", nil)

	var typed *types.Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, types.ErrSkillNotFound, typed.Code)
	assert.Empty(t, f.recorder.statuses())
}

func TestCall_PanicIsFailure(t *testing.T) {
	e, _ := newEngine(t, defaultConfig(), map[string]skills.Handler{
		"bad": func(context.Context, map[string]any) (map[string]any, error) { panic("nil map") },
	})
	res, err := e.Call(context.Background(), "bad", nil, WithRetry(false))
	require.Error(t, err)
	assert.Equal(t, types.StatusFailure, res.Status)
}

func TestCall_UsesSelectedVariant(t *testing.T) {
	e, f := newEngine(t, defaultConfig(), map[string]skills.Handler{
		"fetch":    func(context.Context, map[string]any) (map[string]any, error) { return map[string]any{"v": 1}, nil },
		"fetch-v2": func(context.Context, map[string]any) (map[string]any, error) { return map[string]any{"v": 2}, nil },
	}, WithSelector(fixedSelector{variant: "fetch-v2"}))

	res, err := e.Call(context.Background(), "fetch", nil)
	require.NoError(t, err)
	assert.Equal(t, "fetch-v2", res.Variant)
	assert.Equal(t, "t-1", res.TestID)
	assert.Equal(t, 2, res.Output["v"])
	assert.Equal(t, "fetch-v2", f.recorder.reqs[0].SkillID)
}

func TestCall_RateLimited(t *testing.T) {
	cfg := defaultConfig()
	cfg.RateLimit = 0.1
	cfg.RateBurst = 1
	e, _ := newEngine(t, cfg, map[string]skills.Handler{"echo": echo})

	_, err := e.Call(context.Background(), "echo", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = e.Call(ctx, "echo", nil)
	var typed *types.Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, types.ErrRateLimited, typed.Code)
}

func TestCallMultiple_Sequential(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(id string) skills.Handler {
		return func(context.Context, map[string]any) (map[string]any, error) {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return nil, nil
		}
	}
	e, _ := newEngine(t, defaultConfig(), map[string]skills.Handler{"a": record("a"), "b": record("b"), "c": record("c")})

	results, err := e.CallMultiple(context.Background(), []Request{{SkillID: "c"}, {SkillID: "a"}, {SkillID: "b"}}, StrategySequential)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"c", "a", "b"}, order)
}

func TestCallMultiple_ParallelKeepsPositions(t *testing.T) {
	h, _ := flaky(100)
	e, _ := newEngine(t, defaultConfig(), map[string]skills.Handler{"echo": echo, "bad": h})

	calls := []Request{{SkillID: "echo", Args: map[string]any{"i": 0}}, {SkillID: "bad"}, {SkillID: "echo", Args: map[string]any{"i": 2}}}
	results, err := e.CallMultiple(context.Background(), calls, StrategyParallel, WithRetry(false))
	require.NoError(t, err)
	assert.Equal(t, 0, results[0].Output["i"])
	assert.False(t, results[1].OK())
	assert.ErrorIs(t, results[1].Err, errBoom)
	assert.Equal(t, 2, results[2].Output["i"])
}

func TestCallMultiple_AdaptiveRerunsFailures(t *testing.T) {
	h, calls := flaky(1)
	e, f := newEngine(t, defaultConfig(), map[string]skills.Handler{"echo": echo, "fetch": h})

	results, err := e.CallMultiple(context.Background(), []Request{{SkillID: "echo"}, {SkillID: "fetch"}}, StrategyAdaptive, WithRetry(false))
	require.NoError(t, err)
	assert.True(t, results[0].OK())
	assert.False(t, results[0].Fallback)
	assert.True(t, results[1].OK())
	assert.True(t, results[1].Fallback)
	assert.Equal(t, 2, results[1].Attempts)
	assert.Equal(t, 2, calls.Calls())
	assert.Contains(t, f.decisions.Kinds(), types.DecisionFallback)

	var fallbacks int
	for _, req := range f.recorder.reqs {
		if req.FallbackUsed {
			fallbacks++
		}
	}
	assert.Equal(t, 1, fallbacks)
}

func TestCallMultiple_UnknownStrategy(t *testing.T) {
	e, _ := newEngine(t, defaultConfig(), nil)
	_, err := e.CallMultiple(context.Background(), nil, Strategy("random"))
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}
