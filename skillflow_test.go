package skillflow

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/skillflow/calling"
	"github.com/BaSui01/skillflow/config"
	"github.com/BaSui01/skillflow/internal/cache"
	"github.com/BaSui01/skillflow/internal/pool"
	"github.com/BaSui01/skillflow/inventory"
	"github.com/BaSui01/skillflow/signal"
	"github.com/BaSui01/skillflow/skills"
	"github.com/BaSui01/skillflow/testutil"
	"github.com/BaSui01/skillflow/tracking"
	"github.com/BaSui01/skillflow/types"
)

var errBoom = errors.New("boom")

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Database.Path = ":memory:"
	cfg.Engine.SkillDirs = nil
	cfg.Engine.ShutdownTimeout = 2 * time.Second
	cfg.Inventory.CleanupInterval = 0
	cfg.Tracker.FlushInterval = time.Hour
	cfg.Guard.MinSamples = 3
	cfg.Reload.Debounce = 20 * time.Millisecond
	cfg.Metrics.Namespace = "test"
	return cfg
}

func testCatalog() *skills.Catalog {
	c := skills.NewCatalog()
	c.MustRegister("echo", func(_ context.Context, args map[string]any) (map[string]any, error) {
		return args, nil
	})
	c.MustRegister("tagged", func(_ context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{"variant": "candidate"}, nil
	})
	c.MustRegister("broken", func(context.Context, map[string]any) (map[string]any, error) {
		return nil, errBoom
	})
	return c
}

func newTestEngine(t *testing.T, cfg *config.Config, opts ...Option) *Engine {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	opts = append([]Option{
		WithLogger(zaptest.NewLogger(t)),
		WithCatalog(testCatalog()),
		WithMetricsRegisterer(prometheus.NewRegistry()),
	}, opts...)
	e, err := New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Shutdown(context.Background()) })
	return e
}

func writeSkill(t *testing.T, dir, sub, manifest string) string {
	return testutil.WriteManifest(t, dir, sub, manifest)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Tracker.PersistenceMode = "sometimes"
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidConfiguration))
}

func TestNew_RedisUnavailableDegrades(t *testing.T) {
	cfg := testConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = "127.0.0.1:1"
	e := newTestEngine(t, cfg)
	assert.Nil(t, e.cache)
}

func TestLoadDirectory_OrdersDependenciesAndIsolatesFailures(t *testing.T) {
	e := newTestEngine(t, nil)
	dir := t.TempDir()
	writeSkill(t, dir, "summarize", "id: summarize\nversion: 1.0.0\nhandler: echo\ndepends_on: [fetch]\n")
	writeSkill(t, dir, "fetch", "id: fetch\nversion: 1.0.0\nhandler: echo\n")
	writeSkill(t, dir, "a", "id: loop-a\nversion: 1.0.0\nhandler: echo\ndepends_on: [loop-b]\n")
	writeSkill(t, dir, "b", "id: loop-b\nversion: 1.0.0\nhandler: echo\ndepends_on: [loop-a]\n")
	bad := writeSkill(t, dir, "bad", "id: bad\nversion: 1.0.0\nhandler: missing\n")

	report, err := e.LoadDirectory(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"fetch", "summarize"}, report.Loaded)
	assert.Contains(t, report.Failed, bad)
	assert.Contains(t, report.Failed, "loop-a")
	assert.Contains(t, report.Failed, "loop-b")
	assert.Equal(t, 2, e.SkillCount())

	stored, err := e.store.ListSkills(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 2, "descriptors persisted")

	_, err = e.LoadDirectory(context.Background(), filepath.Join(dir, "nope"))
	assert.Error(t, err)
}

func TestRegisterSkill_DuplicateKeepsFirst(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	first := skills.NewSkill(types.SkillDescriptor{ID: "fetch", Name: "fetch", Version: "1.0.0"}, nil)
	require.NoError(t, e.RegisterSkill(ctx, first))

	err := e.RegisterSkill(ctx, skills.NewSkill(types.SkillDescriptor{ID: "fetch", Name: "fetch", Version: "2.0.0"}, nil))
	assert.ErrorIs(t, err, skills.ErrDuplicateSkill)
	got, ok := e.GetSkill("fetch")
	require.True(t, ok)
	assert.Same(t, first, got)

	assert.True(t, e.UnregisterSkill(ctx, "fetch"))
	assert.False(t, e.UnregisterSkill(ctx, "fetch"))
	assert.Empty(t, e.ListSkills())
}

func TestValidate(t *testing.T) {
	e := newTestEngine(t, nil)
	dir := t.TempDir()
	good := writeSkill(t, dir, "fetch", "id: fetch\nversion: 1.0.0\nhandler: echo\n")
	orphan := writeSkill(t, dir, "summarize", "id: summarize\nversion: 1.0.0\nhandler: missing\ndepends_on: [fetch]\n")

	report := e.Validate(good, "fetch")
	assert.True(t, report.Valid, report.Errors)
	assert.Equal(t, 0, e.SkillCount(), "validation does not register")

	report = e.Validate(good, "other")
	assert.False(t, report.Valid)

	report = e.Validate(orphan, "")
	assert.False(t, report.Valid)
	assert.Len(t, report.Errors, 2, "missing dependency and unknown handler")

	report = e.Validate(filepath.Join(dir, "absent"), "")
	assert.False(t, report.Valid)
}

func TestCall_TracksAndReportsPerformance(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	dir := t.TempDir()
	writeSkill(t, dir, "fetch", "id: fetch\nversion: 1.0.0\nhandler: echo\n")
	writeSkill(t, dir, "broken", "id: broken\nversion: 1.0.0\nhandler: broken\n")
	_, err := e.LoadDirectory(ctx, dir)
	require.NoError(t, err)

	res, err := e.Call(ctx, "fetch", map[string]any{"url": "https://example.com"})
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, "https://example.com", res.Output["url"])

	_, err = e.Call(ctx, "broken", nil, calling.WithRetry(false))
	assert.ErrorIs(t, err, errBoom)

	history, err := e.ExecutionHistory(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	perf, err := e.SkillPerformance(ctx, "broken")
	require.NoError(t, err)
	assert.Equal(t, int64(1), perf.Total)
	assert.Equal(t, 1.0, perf.ErrorRate)

	var buf bytes.Buffer
	n, err := e.Export(ctx, &buf, "jsonl", inventory.ExportFilter{SkillID: "fetch"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))

	assert.Equal(t, int64(2), e.TrackerStats().Tracked)
}

func TestTrack_NoiseSkipsGuardWindow(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	out, err := e.TrackDetailed(ctx, tracking.TrackRequest{SkillID: "fetch", Status: types.StatusSuccess, DurationMs: 0.2})
	require.NoError(t, err)
	assert.True(t, out.Signal.IsNoise)
	assert.Equal(t, signal.TypeTooFast, out.Signal.Type)
	assert.Nil(t, out.Check)
	_, samples := e.guard.Current("fetch")
	assert.Zero(t, samples)

	out, err = e.TrackDetailed(ctx, tracking.TrackRequest{SkillID: "fetch", Status: types.StatusSuccess, DurationMs: 40})
	require.NoError(t, err)
	assert.False(t, out.Signal.IsNoise)
	require.NotNil(t, out.Check)
	assert.Equal(t, 1, out.Check.Samples)

	nsr := e.NSR()
	assert.Equal(t, int64(2), nsr.Total)
	assert.InDelta(t, 0.5, nsr.Ratio, 1e-9)
}

func TestTrack_RegressionRaisesOneAlert(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := e.CaptureBaseline(ctx, "fetch", types.LatencyMetrics{P50: 10, P95: 10, P99: 10, Avg: 10}, 100)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		out, err := e.TrackDetailed(ctx, tracking.TrackRequest{SkillID: "fetch", Status: types.StatusSuccess, DurationMs: 100})
		require.NoError(t, err)
		assert.Equal(t, signal.TypeRegression, out.Signal.Type)
	}

	alerts := e.RecentAlerts(10)
	require.Len(t, alerts, 1, "deduplicated within the window")
	assert.Equal(t, "fetch", alerts[0].SkillID)

	report, err := e.CheckRegression(ctx, "fetch", types.LatencyMetrics{P50: 12, P95: 12, P99: 12, Avg: 12}, 0)
	require.NoError(t, err)
	assert.False(t, report.Regressed(), "exactly at the threshold is not a regression")
}

func TestSkillSummary_CachedInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := cache.NewManager(cache.Config{Addr: mr.Addr(), DefaultTTL: time.Minute}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	e := newTestEngine(t, nil, WithCache(c))
	ctx := context.Background()
	_, err = e.Track(ctx, tracking.TrackRequest{SkillID: "fetch", Status: types.StatusSuccess, DurationMs: 20})
	require.NoError(t, err)

	first, err := e.SkillSummary(ctx, "fetch")
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Total)
	assert.True(t, mr.Exists(summaryKeyPrefix+"fetch"))

	cached, err := e.SkillSummary(ctx, "fetch")
	require.NoError(t, err)
	assert.Equal(t, first, cached)

	_, err = e.Track(ctx, tracking.TrackRequest{SkillID: "fetch", Status: types.StatusSuccess, DurationMs: 20})
	require.NoError(t, err)
	assert.False(t, mr.Exists(summaryKeyPrefix+"fetch"), "track drops the cached summary")
	fresh, err := e.SkillSummary(ctx, "fetch")
	require.NoError(t, err)
	assert.Equal(t, int64(2), fresh.Total)

	stats, ok := e.CacheStats()
	require.True(t, ok)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
}

func TestVersions_CaptureRollbackCompare(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	dir := t.TempDir()
	path := writeSkill(t, dir, "fetch", "id: fetch\nversion: 1.0.0\nhandler: echo\n")
	_, err := e.LoadDirectory(ctx, dir)
	require.NoError(t, err)

	v1, err := e.CaptureVersion(ctx, "fetch")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("id: fetch\nversion: 1.1.0\nhandler: echo\n"), 0o644))
	res, err := e.ReloadSkill(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", res.Version)

	ok, err := e.Rollback(ctx, "fetch", v1.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, v1.Source, string(data))
	s, _ := e.GetSkill("fetch")
	assert.Equal(t, "1.0.0", s.Descriptor.Version)

	versions, err := e.ListVersions(ctx, "fetch")
	require.NoError(t, err)
	require.Len(t, versions, 3, "each reload backs up the replaced source")

	var changed string
	for _, v := range versions {
		if v.ContentHash != v1.ContentHash {
			changed = v.ID
		}
	}
	require.NotEmpty(t, changed)
	cmp, err := e.CompareVersions(ctx, "fetch", v1.ID, changed)
	require.NoError(t, err)
	assert.False(t, cmp.SameContent)
	assert.Contains(t, cmp.Diff, "version")

	assert.NotEmpty(t, e.ReloadResults(10))
}

func TestABTest_RoutesCalls(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	dir := t.TempDir()
	writeSkill(t, dir, "fetch", "id: fetch\nversion: 1.0.0\nhandler: echo\n")
	writeSkill(t, dir, "fetch-v2", "id: fetch-v2\nversion: 2.0.0\nhandler: tagged\n")
	_, err := e.LoadDirectory(ctx, dir)
	require.NoError(t, err)

	test, err := e.CreateABTest(ctx, "fetch", "fetch", "fetch-v2", 1)
	require.NoError(t, err)
	_, err = e.StartABTest(ctx, test.ID)
	require.NoError(t, err)

	res, err := e.Call(ctx, "fetch", nil)
	require.NoError(t, err)
	assert.Equal(t, "fetch-v2", res.Variant)
	assert.Equal(t, "candidate", res.Output["variant"])

	_, err = e.UpdateRollout(ctx, test.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, "fetch", e.SelectVariant("fetch").Variant)

	running, err := e.ListABTests(ctx, "fetch", types.ABTestRunning)
	require.NoError(t, err)
	assert.Len(t, running, 1)
}

func TestCleanup(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	_, err := e.Track(ctx, tracking.TrackRequest{SkillID: "fetch", Status: types.StatusSuccess, DurationMs: 20})
	require.NoError(t, err)
	e.flush(ctx)

	res, err := e.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Executions, "fresh records are inside the retention window")
}

func TestShutdown_FlushesAndIsIdempotent(t *testing.T) {
	cfg := testConfig()
	store, err := inventory.Open(context.Background(), cfg.Database)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	e, err := New(context.Background(), cfg, WithStore(store), WithCatalog(testCatalog()))
	require.NoError(t, err)
	ctx := context.Background()
	_, err = e.Track(ctx, tracking.TrackRequest{SkillID: "fetch", Status: types.StatusSuccess, DurationMs: 20})
	require.NoError(t, err)

	require.NoError(t, e.Shutdown(ctx))
	assert.ErrorIs(t, e.Shutdown(ctx), ErrShutdown)

	history, err := store.ExecutionHistory(ctx, "fetch", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1, "buffered record drained on shutdown")
	require.NoError(t, store.Ping(ctx), "external store stays open")

	_, err = e.Track(ctx, tracking.TrackRequest{SkillID: "fetch", Status: types.StatusSuccess, DurationMs: 20})
	assert.ErrorIs(t, err, ErrShutdown)
	_, err = e.Call(ctx, "fetch", nil)
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestShutdown_DeadlineBoundsStuckHandler(t *testing.T) {
	cfg := testConfig()
	ctx := context.Background()
	store, err := inventory.Open(ctx, cfg.Database)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	e, err := New(ctx, cfg,
		WithStore(store),
		WithCatalog(testCatalog()),
		WithLogger(zaptest.NewLogger(t)),
		WithMetricsRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)

	release := make(chan struct{})
	defer close(release)
	stuck := skills.NewSkill(types.SkillDescriptor{ID: "stuck", Name: "stuck", Version: "1.0.0"},
		func(context.Context, map[string]any) (map[string]any, error) {
			<-release
			return nil, nil
		})
	require.NoError(t, e.RegisterSkill(ctx, stuck))

	res, err := e.Call(ctx, "stuck", nil, calling.WithTimeout(20*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, types.StatusTimeout, res.Status)

	shutdownCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = e.Shutdown(shutdownCtx)
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, err, pool.ErrAbandoned)

	history, err := store.ExecutionHistory(ctx, "stuck", 10)
	require.NoError(t, err)
	require.Len(t, history, 1, "timeout record persisted despite the abandoned handler")
	assert.Equal(t, types.StatusTimeout, history[0].Status)
}
