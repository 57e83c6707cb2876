// seed submits a mixed batch of jobs to a local dev server.
// Run: go run ./cmd/seed
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
)

type jobSpec struct {
	addonID  string
	jobType  string
	priority string
	units    int
	unique   bool
	sleepMS  int
}

var jobs = []jobSpec{
	// Quick small jobs across priorities
	{"hello-world", "thumbnail", "high", 5, false, 500},
	{"hello-world", "thumbnail", "high", 5, false, 500},
	{"indexer", "reindex", "normal", 10, false, 2000},
	{"indexer", "reindex", "normal", 10, false, 2000},
	{"indexer", "reindex", "low", 10, false, 2000},

	// Heavy jobs that compete for capacity
	{"transcoder", "encode", "normal", 40, false, 8000},
	{"transcoder", "encode", "normal", 40, false, 8000},
	{"transcoder", "encode", "background", 60, false, 12000},

	// Unique jobs: one per worker at a time
	{"backup", "snapshot", "low", 20, true, 5000},
	{"backup", "snapshot", "low", 20, true, 5000},

	// Background churn
	{"janitor", "sweep", "background", 1, false, 250},
	{"janitor", "sweep", "background", 1, false, 250},
	{"janitor", "sweep", "background", 1, false, 250},
}

func main() {
	serverURL := os.Getenv("SERVER_URL")
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}

	for i, spec := range jobs {
		body, _ := json.Marshal(map[string]any{
			"addon_id":        spec.addonID,
			"job_type":        spec.jobType,
			"priority":        spec.priority,
			"requested_units": spec.units,
			"unique":          spec.unique,
			"idempotency_key": fmt.Sprintf("seed-%03d", i+1),
			"payload":         map[string]any{"sleep_ms": spec.sleepMS},
			"tags":            []string{"seed"},
		})

		resp, err := http.Post(serverURL+"/scheduler/jobs", "application/json", bytes.NewReader(body))
		if err != nil {
			log.Fatalf("submit: %v", err)
		}
		var out struct {
			JobID string `json:"job_id"`
			State string `json:"state"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			log.Fatalf("decode: %v", err)
		}
		resp.Body.Close()
		fmt.Printf("submitted %-12s %-10s units=%-3d -> %s (%s)\n", spec.addonID, spec.priority, spec.units, out.JobID, out.State)
	}
}
