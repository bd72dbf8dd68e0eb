package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/skillflow"
	"github.com/BaSui01/skillflow/config"
	"github.com/BaSui01/skillflow/skills"
	"github.com/BaSui01/skillflow/testutil"
	"github.com/BaSui01/skillflow/testutil/fixtures"
)

// testEnv 临时目录下的配置文件、sqlite 库与技能目录
type testEnv struct {
	configPath string
	skillDir   string
	dbPath     string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	env := testEnv{
		configPath: filepath.Join(dir, "skillflow.yaml"),
		skillDir:   filepath.Join(dir, "skills"),
		dbPath:     filepath.Join(dir, "skillflow.db"),
	}
	require.NoError(t, os.MkdirAll(filepath.Join(env.skillDir, "fetch"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(env.skillDir, "fetch", skills.ManifestYAML),
		[]byte("id: fetch\nversion: 1.0.0\nhandler: echo\n"), 0o644))

	yaml := fmt.Sprintf(`engine:
  skill_dirs: [%q]
database:
  driver: sqlite
  path: %q
log:
  level: error
  output_paths: [stderr]
reload:
  enabled: false
metrics:
  namespace: clitest
`, env.skillDir, env.dbPath)
	require.NoError(t, os.WriteFile(env.configPath, []byte(yaml), 0o644))
	return env
}

func (env testEnv) engine(t *testing.T) *skillflow.Engine {
	t.Helper()
	loader := config.NewLoader().WithConfigPath(env.configPath)
	cfg, err := loader.Load()
	require.NoError(t, err)
	cfg.Inventory.CleanupInterval = 0
	e, err := skillflow.New(context.Background(), cfg,
		skillflow.WithLogger(zap.NewNop()),
		skillflow.WithCatalog(builtinCatalog()),
		skillflow.WithMetricsRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	_, err = e.LoadDirectory(context.Background(), env.skillDir)
	require.NoError(t, err)
	return e
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "skillflow "+Version)
	assert.Contains(t, out, "Git Commit")
}

func TestValidateCommand(t *testing.T) {
	env := newTestEnv(t)

	out, err := execute(t, "--config", env.configPath, "validate", filepath.Join(env.skillDir, "fetch"))
	require.NoError(t, err)
	var report skills.ValidationReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Valid)
	assert.Equal(t, "fetch", report.SkillID)

	bad := testutil.WriteManifest(t, t.TempDir(), "bad", fixtures.Manifest("bad", "1.0.0", "nope", "ghost"))
	out, err = execute(t, "--config", env.configPath, "validate", bad)
	assert.ErrorIs(t, err, errValidationFailed)
	assert.Contains(t, out, `"valid": false`)
}

func TestExportCommand(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := e.Call(ctx, "fetch", map[string]any{"n": i})
		require.NoError(t, err)
	}
	require.NoError(t, e.Shutdown(ctx))

	out, err := execute(t, "--config", env.configPath, "export", "--format", "jsonl", "--skill", "fetch")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 3)

	csvPath := filepath.Join(t.TempDir(), "out.csv")
	_, err = execute(t, "--config", env.configPath, "export", "-f", "csv", "--limit", "2", "-o", csvPath)
	require.NoError(t, err)
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	rows := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, rows, 3, "header plus two rows")
	assert.True(t, strings.HasPrefix(rows[0], "id,skill_id"))

	_, err = execute(t, "--config", env.configPath, "export", "--format", "xml")
	assert.Error(t, err)
}

func TestVersionsAndRollbackCommands(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine(t)
	ctx := context.Background()
	v1, err := e.CaptureVersion(ctx, "fetch")
	require.NoError(t, err)
	require.NoError(t, e.Shutdown(ctx))

	manifest := filepath.Join(env.skillDir, "fetch", skills.ManifestYAML)
	require.NoError(t, os.WriteFile(manifest, []byte("id: fetch\nversion: 2.0.0\nhandler: echo\n"), 0o644))

	out, err := execute(t, "--config", env.configPath, "versions", "fetch")
	require.NoError(t, err)
	assert.Contains(t, out, "HASH")
	assert.Contains(t, out, v1.ID)

	out, err = execute(t, "--config", env.configPath, "rollback", "fetch", v1.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "restored fetch")
	data, err := os.ReadFile(manifest)
	require.NoError(t, err)
	assert.Contains(t, string(data), "1.0.0")

	_, err = execute(t, "--config", env.configPath, "rollback", "fetch", "missing")
	assert.Error(t, err)
}

func TestOpsMux(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine(t)
	t.Cleanup(func() { _ = e.Shutdown(context.Background()) })
	_, err := e.Call(context.Background(), "fetch", nil)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "ops_probe_total"}))
	srv := httptest.NewServer(Chain(newOpsMux(e, reg), RequestID()))
	defer srv.Close()

	get := func(path string) (*http.Response, []byte) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		var buf bytes.Buffer
		_, err = buf.ReadFrom(resp.Body)
		require.NoError(t, err)
		return resp, buf.Bytes()
	}

	resp, _ := get("/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, _ = get("/readyz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := get("/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ops_probe_total")

	resp, body = get("/api/v1/skills")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"fetch"`)

	resp, body = get("/api/v1/skills/fetch/performance")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "fetch")

	resp, body = get("/api/v1/stats")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var stats map[string]any
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.EqualValues(t, 1, stats["skills"])

	resp, _ = get("/api/v1/alerts?limit=5")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = http.Post(srv.URL+"/healthz", "text/plain", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	resp.Body.Close()

	require.NoError(t, e.Shutdown(context.Background()))
	resp, _ = get("/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestQueryLimit(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=7", nil)
	assert.Equal(t, 7, queryLimit(r, 50))
	r = httptest.NewRequest(http.MethodGet, "/?limit=-1", nil)
	assert.Equal(t, 50, queryLimit(r, 50))
}

func TestInitLogger(t *testing.T) {
	logger := initLogger(config.LogConfig{Level: "debug", Format: "console", OutputPaths: []string{"stderr"}})
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	logger = initLogger(config.LogConfig{Level: "warn", OutputPaths: []string{"stderr"}})
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))
}
