package httptransport

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"

	"github.com/synthiacore/synthia/internal/apimetrics"
	"github.com/synthiacore/synthia/internal/clock"
	"github.com/synthiacore/synthia/internal/transport/http/handler"
	"github.com/synthiacore/synthia/internal/transport/http/middleware"
)

func NewRouter(
	logger *slog.Logger,
	collector *apimetrics.Collector,
	clk clock.Clock,
	schedulerHandler *handler.SchedulerHandler,
	systemHandler *handler.SystemHandler,
	settingsHandler *handler.SettingsHandler,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.APIMetrics(collector, clk, false))

	scheduler := r.Group("/scheduler")
	{
		scheduler.POST("/jobs", schedulerHandler.Submit)
		scheduler.GET("/jobs", schedulerHandler.ListJobs)
		scheduler.GET("/jobs/:id", schedulerHandler.GetJob)
		scheduler.DELETE("/jobs/:id", schedulerHandler.CancelJob)

		scheduler.POST("/leases/request", schedulerHandler.RequestLease)
		scheduler.POST("/leases/:lease_id/heartbeat", schedulerHandler.Heartbeat)
		scheduler.POST("/leases/:lease_id/complete", schedulerHandler.Complete)

		scheduler.GET("/status", schedulerHandler.Status)
		scheduler.GET("/history/stats", schedulerHandler.HistoryStats)
		scheduler.POST("/history/cleanup", schedulerHandler.HistoryCleanup)
	}

	system := r.Group("/system")
	{
		system.GET("/stats/current", systemHandler.CurrentStats)
		system.GET("/stats/history", systemHandler.StatsHistory)

		system.GET("/settings", settingsHandler.GetAll)
		system.GET("/settings/:key", settingsHandler.Get)
		system.PUT("/settings/:key", settingsHandler.Put)
	}

	return r
}
