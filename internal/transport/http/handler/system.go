package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/synthiacore/synthia/internal/sampler"
	"github.com/synthiacore/synthia/internal/statsdb"
)

// SystemHandler serves cached health snapshots and the persisted minute
// series. Nothing here computes on the request path.
type SystemHandler struct {
	sampler    *sampler.Sampler
	statsStore *statsdb.Store
	logger     *slog.Logger
}

func NewSystemHandler(s *sampler.Sampler, statsStore *statsdb.Store, logger *slog.Logger) *SystemHandler {
	return &SystemHandler{
		sampler:    s,
		statsStore: statsStore,
		logger:     logger.With("component", "system_handler"),
	}
}

func (h *SystemHandler) CurrentStats(c *gin.Context) {
	snap, ok := h.sampler.Latest()
	if !ok {
		respondError(c, http.StatusServiceUnavailable, "not_sampled_yet", "no health snapshot collected yet")
		return
	}
	c.JSON(http.StatusOK, snap)
}

type minutePoint struct {
	TS       int64           `json:"ts"`
	Busy     float64         `json:"busy"`
	Snapshot json.RawMessage `json:"snapshot"`
}

func (h *SystemHandler) StatsHistory(c *gin.Context) {
	minutes := 60
	if raw := c.Query("minutes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1440 {
			respondError(c, http.StatusBadRequest, "invalid_arguments", "minutes must be in [1,1440]")
			return
		}
		minutes = n
	}

	points, err := h.statsStore.LastN(minutes)
	if err != nil {
		h.logger.Error("stats history", "error", err)
		respondError(c, http.StatusInternalServerError, "storage_error", "stats query failed")
		return
	}

	out := make([]minutePoint, len(points))
	for i, p := range points {
		out[i] = minutePoint{TS: p.TS, Busy: p.Busy, Snapshot: json.RawMessage(p.Snapshot)}
	}
	c.JSON(http.StatusOK, gin.H{"points": out, "count": len(out)})
}
