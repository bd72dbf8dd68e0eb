package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/skillflow"
	"github.com/BaSui01/skillflow/config"
	"github.com/BaSui01/skillflow/internal/server"
	"github.com/BaSui01/skillflow/internal/telemetry"
)

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func newServeCmd(root *rootOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load skills, watch for changes and expose operational endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Metrics.ListenAddr = listen
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Override metrics.listen_addr")
	return cmd
}

// runServe 启动引擎与运维端点，阻塞到 ctx 结束
func runServe(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, gatherer prometheus.Gatherer) error {
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting skillflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	providers, err := telemetry.Init(ctx, cfg.Telemetry, Version, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	engine, err := skillflow.New(ctx, cfg,
		skillflow.WithLogger(logger),
		skillflow.WithCatalog(builtinCatalog()),
		skillflow.WithMetricsRegisterer(reg),
	)
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	for _, dir := range cfg.Engine.SkillDirs {
		report, err := engine.LoadDirectory(ctx, dir)
		if err != nil {
			logger.Warn("skill directory not loaded", zap.String("dir", dir), zap.Error(err))
			continue
		}
		for id, reason := range report.Failed {
			logger.Warn("skill rejected", zap.String("skill", id), zap.String("reason", reason))
		}
	}
	if err := engine.Watch(ctx); err != nil {
		logger.Warn("hot reload disabled", zap.Error(err))
	}

	srvCfg := server.DefaultConfig()
	srvCfg.Addr = cfg.Metrics.ListenAddr
	srvCfg.TLSCertFile = cfg.Metrics.TLSCertFile
	srvCfg.TLSKeyFile = cfg.Metrics.TLSKeyFile
	handler := Chain(newOpsMux(engine, gatherer),
		Recovery(logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		RequestLogger(logger),
	)
	serveErr := server.NewManager(handler, srvCfg, logger).Run(ctx)

	// ctx 已取消，收尾用独立的超时
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Engine.ShutdownTimeout+5*time.Second)
	defer cancel()
	errs := []error{serveErr}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("engine shutdown: %w", err))
	}
	if providers != nil {
		if err := providers.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	logger.Info("skillflow stopped")
	return errors.Join(errs...)
}

// =============================================================================
// 🌐 运维端点
// =============================================================================

func newOpsMux(e *skillflow.Engine, gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := e.Ping(r.Context()); err != nil {
			writeJSONError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version": Version, "build_time": BuildTime, "git_commit": GitCommit,
		})
	})

	mux.HandleFunc("GET /api/v1/skills", func(w http.ResponseWriter, _ *http.Request) {
		list := e.ListSkills()
		out := make([]any, 0, len(list))
		for _, s := range list {
			out = append(out, s.Descriptor)
		}
		writeJSON(w, http.StatusOK, out)
	})
	mux.HandleFunc("GET /api/v1/skills/{id}/performance", func(w http.ResponseWriter, r *http.Request) {
		perf, err := e.SkillPerformance(r.Context(), r.PathValue("id"))
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, perf)
	})
	mux.HandleFunc("GET /api/v1/alerts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, e.RecentAlerts(queryLimit(r, 50)))
	})
	mux.HandleFunc("GET /api/v1/reloads", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, e.ReloadResults(queryLimit(r, 50)))
	})
	mux.HandleFunc("GET /api/v1/stats", func(w http.ResponseWriter, _ *http.Request) {
		stats := map[string]any{
			"skills":  e.SkillCount(),
			"tracker": e.TrackerStats(),
			"nsr":     e.NSR(),
		}
		if cs, ok := e.CacheStats(); ok {
			stats["cache"] = cs
		}
		writeJSON(w, http.StatusOK, stats)
	})
	return mux
}

func queryLimit(r *http.Request, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
