package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/synthiacore/synthia/config"
	"github.com/synthiacore/synthia/internal/apimetrics"
	"github.com/synthiacore/synthia/internal/clock"
	"github.com/synthiacore/synthia/internal/health"
	"github.com/synthiacore/synthia/internal/history"
	ctxlog "github.com/synthiacore/synthia/internal/log"
	"github.com/synthiacore/synthia/internal/metrics"
	"github.com/synthiacore/synthia/internal/sampler"
	"github.com/synthiacore/synthia/internal/sched"
	"github.com/synthiacore/synthia/internal/settings"
	"github.com/synthiacore/synthia/internal/statsdb"
	httptransport "github.com/synthiacore/synthia/internal/transport/http"
	"github.com/synthiacore/synthia/internal/transport/http/handler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.System()

	// Durable stores
	statsStore, err := statsdb.Open(cfg.StatsDBPath)
	if err != nil {
		log.Fatalf("stats db: %v", err)
	}
	defer statsStore.Close()

	historyStore, err := history.Open(cfg.HistoryDBPath)
	if err != nil {
		log.Fatalf("history db: %v", err)
	}
	defer historyStore.Close()

	settingsStore := settings.NewStore(historyStore.DB())

	metrics.Register()
	checker := health.NewChecker(map[string]health.Pinger{
		"stats_db":   statsStore.DB(),
		"history_db": historyStore.DB(),
	}, logger, prometheus.DefaultRegisterer)

	// API metrics window + health sampler
	collector := apimetrics.NewCollector(clk, time.Duration(cfg.APIWindowSec)*time.Second, cfg.ExcludedAPIPaths)
	smp := sampler.New(
		clk,
		collector,
		statsStore,
		logger,
		time.Duration(cfg.SamplerIntervalSec)*time.Second,
		time.Duration(cfg.MinuteRetentionHours)*time.Hour,
	)

	// Scheduler core
	writer := history.NewWriter(historyStore, logger, 1024)
	store := sched.NewStore()
	engine := sched.NewEngine(store, clk, smp.BusyRatingNow, writer, logger, sched.Options{
		TotalCapacityUnits: cfg.TotalCapacityUnits,
		ReserveUnits:       cfg.ReserveUnits,
		LeaseTTL:           time.Duration(cfg.LeaseTTLSec) * time.Second,
		HeartbeatGrace:     time.Duration(cfg.HeartbeatGraceSec) * time.Second,
		RetryBase:          time.Duration(cfg.RetryBaseMs) * time.Millisecond,
		TerminalRetention:  time.Duration(cfg.TerminalRetentionSec) * time.Second,
		TerminalCap:        cfg.TerminalRetentionCap,
	})
	reaper := sched.NewReaper(engine, logger, time.Duration(cfg.ReaperIntervalSec)*time.Second)
	retention := history.NewRetention(historyStore, clk, logger, cfg.HistoryRetentionDays)

	var background sync.WaitGroup
	startBackground := func(run func(context.Context)) {
		background.Add(1)
		go func() {
			defer background.Done()
			run(ctx)
		}()
	}
	startBackground(smp.Run)
	startBackground(writer.Run)
	startBackground(reaper.Start)
	startBackground(retention.Start)

	schedulerHandler := handler.NewSchedulerHandler(engine, historyStore, cfg.HistoryRetentionDays, logger)
	systemHandler := handler.NewSystemHandler(smp, statsStore, logger)
	settingsHandler := handler.NewSettingsHandler(settingsStore, logger)

	srv := http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httptransport.NewRouter(logger, collector, clk, schedulerHandler, systemHandler, settingsHandler),
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	go func() {
		logger.Info("server started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	// Background loops observe ctx; the history writer flushes on exit.
	background.Wait()
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
