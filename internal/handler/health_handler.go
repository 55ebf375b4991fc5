package handler

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"sync"
	"time"
)

// Health returns basic health check
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// HealthCheckResult represents the result of a health check
type HealthCheckResult struct {
	Status    string         `json:"status"`
	LatencyMs int64          `json:"latency_ms,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Check probes one dependency. A nil error means up.
type Check func(ctx context.Context) (map[string]any, error)

// Ready returns readiness with every named check run in parallel. The
// instance is ready only when all checks pass.
func Ready(checks map[string]Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		results := make(map[string]HealthCheckResult, len(checks))
		var mu sync.Mutex
		var wg sync.WaitGroup
		for name, check := range checks {
			wg.Add(1)
			go func(name string, check Check) {
				defer wg.Done()
				res := runCheck(ctx, check)
				mu.Lock()
				results[name] = res
				mu.Unlock()
			}(name, check)
		}
		wg.Wait()

		allHealthy := true
		for _, res := range results {
			if res.Status != "up" {
				allHealthy = false
			}
		}

		response := map[string]any{
			"timestamp": time.Now().Format(time.RFC3339),
			"checks":    results,
		}
		status := http.StatusOK
		if allHealthy {
			response["status"] = "ready"
		} else {
			response["status"] = "not_ready"
			status = http.StatusServiceUnavailable
		}

		writeJSON(w, status, response)
	}
}

func runCheck(ctx context.Context, check Check) HealthCheckResult {
	start := time.Now()
	metadata, err := check(ctx)
	latency := time.Since(start)

	if err != nil {
		return HealthCheckResult{
			Status:    "down",
			LatencyMs: latency.Milliseconds(),
			Error:     err.Error(),
		}
	}
	return HealthCheckResult{
		Status:    "up",
		LatencyMs: latency.Milliseconds(),
		Metadata:  metadata,
	}
}

// DatabaseCheck pings db and reports pool statistics.
func DatabaseCheck(db *sql.DB) Check {
	return func(ctx context.Context) (map[string]any, error) {
		if err := db.PingContext(ctx); err != nil {
			return nil, err
		}
		stats := db.Stats()
		return map[string]any{
			"connections_open":   stats.OpenConnections,
			"connections_in_use": stats.InUse,
			"connections_idle":   stats.Idle,
			"max_open":           stats.MaxOpenConnections,
		}, nil
	}
}

// Pinger is satisfied by the relay connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports a dependency as up when Ping succeeds.
func PingCheck(p Pinger) Check {
	return func(ctx context.Context) (map[string]any, error) {
		return nil, p.Ping(ctx)
	}
}

// StreamCheck reports the firehose subscription state.
func StreamCheck(connected func() bool, cursor func() int64) Check {
	return func(context.Context) (map[string]any, error) {
		if !connected() {
			return nil, errors.New("stream disconnected")
		}
		return map[string]any{"cursor": cursor()}, nil
	}
}
