// worker is a reference pull worker: it asks the scheduler for leases,
// heartbeats while "working", and completes. Real workers embed the same
// protocol around their own execution logic.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/lmittmann/tint"
)

type workerConfig struct {
	ServerURL   string `env:"SERVER_URL" envDefault:"http://localhost:8080"`
	WorkerID    string `env:"WORKER_ID"`
	MaxUnits    int    `env:"MAX_UNITS" envDefault:"0"`
	Concurrency int    `env:"CONCURRENCY" envDefault:"2"`
	HeartbeatS  int    `env:"HEARTBEAT_S" envDefault:"10"`
}

type lease struct {
	LeaseID       string    `json:"lease_id"`
	JobID         string    `json:"job_id"`
	CapacityUnits int       `json:"capacity_units"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type job struct {
	JobID   string          `json:"job_id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type leaseResponse struct {
	Denied       bool   `json:"denied"`
	Reason       string `json:"reason"`
	RetryAfterMS int    `json:"retry_after_ms"`
	Lease        lease  `json:"lease"`
	Job          job    `json:"job"`
}

type worker struct {
	cfg    workerConfig
	client *http.Client
	logger *slog.Logger
	sem    chan struct{}
}

func main() {
	cfg := workerConfig{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.WorkerID == "" {
		hostname, _ := os.Hostname()
		cfg.WorkerID = fmt.Sprintf("%s-%d", hostname, os.Getpid())
	}

	logger := slog.New(tint.NewHandler(os.Stdout, &tint.Options{TimeFormat: time.Kitchen})).
		With("worker_id", cfg.WorkerID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := &worker{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
		sem:    make(chan struct{}, cfg.Concurrency),
	}

	logger.Info("worker started", "server", cfg.ServerURL, "concurrency", cfg.Concurrency)
	w.run(ctx)
	logger.Info("worker shut down")
}

func (w *worker) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		// Block until a slot is free before pulling more work.
		select {
		case w.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		resp, err := w.requestLease(ctx)
		if err != nil {
			<-w.sem
			w.logger.Warn("lease request failed", "error", err)
			if !sleep(ctx, 2*time.Second) {
				return
			}
			continue
		}

		if resp.Denied {
			<-w.sem
			w.logger.Debug("lease denied", "reason", resp.Reason, "retry_after_ms", resp.RetryAfterMS)
			if !sleep(ctx, time.Duration(resp.RetryAfterMS)*time.Millisecond) {
				return
			}
			continue
		}

		go func(r *leaseResponse) {
			defer func() { <-w.sem }()
			w.runJob(ctx, r)
		}(resp)
	}
}

func (w *worker) runJob(ctx context.Context, r *leaseResponse) {
	w.logger.Info("lease granted", "lease_id", r.Lease.LeaseID, "job_id", r.Job.JobID, "units", r.Lease.CapacityUnits)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	go w.heartbeat(heartbeatCtx, r.Lease.LeaseID)

	// Simulated execution: honor payload.sleep_ms when present.
	duration := 2 * time.Second
	var payload struct {
		SleepMS int `json:"sleep_ms"`
	}
	if err := json.Unmarshal(r.Job.Payload, &payload); err == nil && payload.SleepMS > 0 {
		duration = time.Duration(payload.SleepMS) * time.Millisecond
	}
	sleep(ctx, duration)

	if err := w.complete(r.Lease.LeaseID); err != nil {
		w.logger.Error("complete failed", "lease_id", r.Lease.LeaseID, "error", err)
		return
	}
	w.logger.Info("job completed", "job_id", r.Job.JobID, "duration", duration)
}

func (w *worker) heartbeat(ctx context.Context, leaseID string) {
	ticker := time.NewTicker(time.Duration(w.cfg.HeartbeatS) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			body, _ := json.Marshal(map[string]string{"worker_id": w.cfg.WorkerID})
			resp, err := w.post(ctx, fmt.Sprintf("/scheduler/leases/%s/heartbeat", leaseID), body)
			if err != nil {
				w.logger.Warn("heartbeat failed", "lease_id", leaseID, "error", err)
				continue
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				w.logger.Warn("heartbeat rejected", "lease_id", leaseID, "status", resp.StatusCode)
				return
			}
		}
	}
}

func (w *worker) requestLease(ctx context.Context) (*leaseResponse, error) {
	req := map[string]any{"worker_id": w.cfg.WorkerID}
	if w.cfg.MaxUnits > 0 {
		req["max_units"] = w.cfg.MaxUnits
	}
	body, _ := json.Marshal(req)

	resp, err := w.post(ctx, "/scheduler/leases/request", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var out leaseResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode lease response: %w", err)
	}
	return &out, nil
}

func (w *worker) complete(leaseID string) error {
	body, _ := json.Marshal(map[string]string{
		"worker_id": w.cfg.WorkerID,
		"status":    "completed",
	})
	// Deliberately not bound to ctx: a finished job should be reported
	// even while shutting down.
	resp, err := w.post(context.Background(), fmt.Sprintf("/scheduler/leases/%s/complete", leaseID), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (w *worker) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.ServerURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return w.client.Do(req)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
