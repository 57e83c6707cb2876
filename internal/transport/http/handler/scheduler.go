package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/synthiacore/synthia/internal/domain"
	"github.com/synthiacore/synthia/internal/history"
	"github.com/synthiacore/synthia/internal/requestid"
	"github.com/synthiacore/synthia/internal/sched"
)

// tagWorker attaches the worker ID to the request context so log records
// for this request carry it.
func tagWorker(c *gin.Context, workerID string) {
	c.Request = c.Request.WithContext(requestid.WithWorkerID(c.Request.Context(), workerID))
}

// SchedulerHandler adapts the scheduler operations to HTTP. It is the
// only layer that maps error kinds to status codes.
type SchedulerHandler struct {
	engine        *sched.Engine
	historyStore  *history.Store
	retentionDays int
	logger        *slog.Logger
}

func NewSchedulerHandler(engine *sched.Engine, historyStore *history.Store, retentionDays int, logger *slog.Logger) *SchedulerHandler {
	return &SchedulerHandler{
		engine:        engine,
		historyStore:  historyStore,
		retentionDays: retentionDays,
		logger:        logger.With("component", "scheduler_handler"),
	}
}

type submitJobRequest struct {
	AddonID        string          `json:"addon_id"`
	JobType        string          `json:"job_type"`
	Priority       string          `json:"priority"`
	RequestedUnits int             `json:"requested_units"`
	Unique         bool            `json:"unique"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key"`
	Tags           []string        `json:"tags"`
	MaxRuntimeS    *int            `json:"max_runtime_s"`
}

type submitJobResponse struct {
	JobID string          `json:"job_id"`
	State domain.JobState `json:"state"`
}

func (h *SchedulerHandler) Submit(c *gin.Context) {
	var req submitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_arguments", err.Error())
		return
	}

	priority, ok := domain.ParsePriority(req.Priority)
	if !ok {
		respondError(c, http.StatusBadRequest, "invalid_arguments", "unknown priority "+req.Priority)
		return
	}
	if req.RequestedUnits == 0 {
		req.RequestedUnits = 1
	}
	if req.JobType == "" {
		req.JobType = "generic"
	}

	job, err := h.engine.Submit(sched.SubmitInput{
		AddonID:        req.AddonID,
		Type:           req.JobType,
		Priority:       priority,
		RequestedUnits: req.RequestedUnits,
		Unique:         req.Unique,
		Payload:        req.Payload,
		IdempotencyKey: req.IdempotencyKey,
		Tags:           req.Tags,
		MaxRuntimeS:    req.MaxRuntimeS,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArguments) {
			respondError(c, http.StatusBadRequest, "invalid_arguments", err.Error())
			return
		}
		h.logger.Error("submit job", "error", err)
		respondError(c, http.StatusInternalServerError, "internal", "internal server error")
		return
	}

	c.JSON(http.StatusOK, submitJobResponse{JobID: job.JobID, State: job.State})
}

type requestLeaseRequest struct {
	WorkerID string `json:"worker_id" binding:"required"`
	MaxUnits *int   `json:"max_units"`
}

type leaseGrantedResponse struct {
	Denied bool         `json:"denied"`
	Lease  domain.Lease `json:"lease"`
	Job    domain.Job   `json:"job"`
}

type leaseDeniedResponse struct {
	Denied       bool   `json:"denied"`
	Reason       string `json:"reason"`
	RetryAfterMS int    `json:"retry_after_ms"`
}

// RequestLease always answers 200; denial is a structured body workers
// parse, not an exception.
func (h *SchedulerHandler) RequestLease(c *gin.Context) {
	var req requestLeaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_arguments", err.Error())
		return
	}

	tagWorker(c, req.WorkerID)
	grant, denial := h.engine.LeaseRequest(req.WorkerID, req.MaxUnits)
	if denial != nil {
		c.JSON(http.StatusOK, leaseDeniedResponse{
			Denied:       true,
			Reason:       denial.Reason,
			RetryAfterMS: denial.RetryAfterMS,
		})
		return
	}
	c.JSON(http.StatusOK, leaseGrantedResponse{Denied: false, Lease: grant.Lease, Job: grant.Job})
}

type heartbeatRequest struct {
	WorkerID string `json:"worker_id" binding:"required"`
}

type heartbeatResponse struct {
	OK        bool      `json:"ok"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *SchedulerHandler) Heartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_arguments", err.Error())
		return
	}

	tagWorker(c, req.WorkerID)
	expiresAt, err := h.engine.Heartbeat(c.Param("lease_id"), req.WorkerID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrLeaseNotFound):
			respondError(c, http.StatusNotFound, "lease_not_found", "lease not found")
		case errors.Is(err, domain.ErrWorkerMismatch):
			respondError(c, http.StatusForbidden, "worker_mismatch", "lease is held by a different worker")
		case errors.Is(err, domain.ErrLeaseInactive):
			respondError(c, http.StatusConflict, "lease_inactive", "lease has expired")
		default:
			h.logger.Error("heartbeat", "error", err)
			respondError(c, http.StatusInternalServerError, "internal", "internal server error")
		}
		return
	}
	c.JSON(http.StatusOK, heartbeatResponse{OK: true, ExpiresAt: expiresAt})
}

type completeRequest struct {
	WorkerID string          `json:"worker_id" binding:"required"`
	Status   string          `json:"status" binding:"required,oneof=completed failed"`
	Result   json.RawMessage `json:"result"`
	Error    string          `json:"error"`
}

func (h *SchedulerHandler) Complete(c *gin.Context) {
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_arguments", err.Error())
		return
	}

	tagWorker(c, req.WorkerID)
	err := h.engine.Complete(c.Param("lease_id"), req.WorkerID, domain.JobState(req.Status), req.Result, req.Error)
	if err != nil {
		if errors.Is(err, domain.ErrWorkerMismatch) {
			respondError(c, http.StatusForbidden, "worker_mismatch", "lease is held by a different worker")
			return
		}
		h.logger.Error("complete lease", "error", err)
		respondError(c, http.StatusInternalServerError, "internal", "internal server error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *SchedulerHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Snapshot())
}

func (h *SchedulerHandler) ListJobs(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			respondError(c, http.StatusBadRequest, "invalid_arguments", "limit must be in [1,1000]")
			return
		}
		limit = n
	}

	state := domain.JobState(c.Query("state"))
	switch state {
	case "", domain.StateQueued, domain.StateLeased, domain.StateRunning,
		domain.StateCompleted, domain.StateFailed, domain.StateExpired:
	default:
		respondError(c, http.StatusBadRequest, "invalid_arguments", "unknown state "+string(state))
		return
	}

	jobs := h.engine.ListJobs(state, limit)
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

func (h *SchedulerHandler) GetJob(c *gin.Context) {
	job, err := h.engine.Job(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusNotFound, "job_not_found", "job not found")
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *SchedulerHandler) CancelJob(c *gin.Context) {
	err := h.engine.Cancel(c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"ok": true})
	case errors.Is(err, domain.ErrJobNotFound):
		respondError(c, http.StatusNotFound, "job_not_found", "job not found")
	case errors.Is(err, domain.ErrJobNotQueued):
		respondError(c, http.StatusConflict, "job_not_queued", "only queued jobs can be cancelled")
	default:
		h.logger.Error("cancel job", "error", err)
		respondError(c, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func (h *SchedulerHandler) HistoryStats(c *gin.Context) {
	days := h.retentionDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 365 {
			respondError(c, http.StatusBadRequest, "invalid_arguments", "days must be in [1,365]")
			return
		}
		days = n
	}

	stats, err := h.historyStore.Stats(days, time.Now().UTC())
	if err != nil {
		h.logger.Error("history stats", "error", err)
		respondError(c, http.StatusInternalServerError, "storage_error", "history query failed")
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *SchedulerHandler) HistoryCleanup(c *gin.Context) {
	days := h.retentionDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 365 {
			respondError(c, http.StatusBadRequest, "invalid_arguments", "days must be in [1,365]")
			return
		}
		days = n
	}

	cutoff := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	removed, err := h.historyStore.Cleanup(cutoff)
	if err != nil {
		h.logger.Error("history cleanup", "error", err)
		respondError(c, http.StatusInternalServerError, "storage_error", "history cleanup failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "removed": removed})
}
