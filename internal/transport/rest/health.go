package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

type HealthResponse struct {
	Status     HealthStatus          `json:"status"`
	CheckedAt  time.Time             `json:"checked_at"`
	Components map[string]CheckEntry `json:"components"`
}

type CheckEntry struct {
	Status     HealthStatus   `json:"status"`
	Message    string         `json:"message,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

// checkFunc returns optional details, or an error marking its component unhealthy.
type checkFunc func(ctx context.Context) (map[string]any, error)

type HealthHandler struct {
	db      *sqlx.DB
	timeout time.Duration
	checks  map[string]checkFunc
}

func NewHealthHandler(db *sqlx.DB) *HealthHandler {
	h := &HealthHandler{db: db, timeout: 2 * time.Second}
	h.checks = map[string]checkFunc{
		"postgres": h.pingDatabase,
		"ledger":   h.countUnpaid,
		"waivers":  h.countPendingWaivers,
	}
	return h
}

// pingHandler reports liveness only.
func (h *HealthHandler) pingHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "OK"})
}

// healthCheckHandler runs every check concurrently under one deadline and
// answers 503 if any of them fails.
func (h *HealthHandler) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	resp := HealthResponse{
		Status:     HealthHealthy,
		CheckedAt:  time.Now().UTC(),
		Components: make(map[string]CheckEntry, len(h.checks)),
	}
	for name, p := range h.checks {
		wg.Add(1)
		go func(name string, p checkFunc) {
			defer wg.Done()
			entry := runCheck(ctx, p)
			mu.Lock()
			defer mu.Unlock()
			resp.Components[name] = entry
			if entry.Status == HealthUnhealthy {
				resp.Status = HealthUnhealthy
			}
		}(name, p)
	}
	wg.Wait()

	code := http.StatusOK
	if resp.Status == HealthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *HealthHandler) pingDatabase(ctx context.Context) (map[string]any, error) {
	return nil, h.db.PingContext(ctx)
}

func (h *HealthHandler) countUnpaid(ctx context.Context) (map[string]any, error) {
	var unpaid int64
	if err := h.db.GetContext(ctx, &unpaid, "SELECT COUNT(*) FROM fee_records WHERE status IN ('pending', 'failed')"); err != nil {
		return nil, err
	}
	return map[string]any{"unpaid_records": unpaid}, nil
}

func (h *HealthHandler) countPendingWaivers(ctx context.Context) (map[string]any, error) {
	var pending int64
	if err := h.db.GetContext(ctx, &pending, "SELECT COUNT(*) FROM waiver_requests WHERE status = 'pending'"); err != nil {
		return nil, err
	}
	return map[string]any{"pending_requests": pending}, nil
}

func runCheck(ctx context.Context, p checkFunc) CheckEntry {
	start := time.Now()
	details, err := p(ctx)
	entry := CheckEntry{
		Status:     HealthHealthy,
		Details:    details,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		entry.Status = HealthUnhealthy
		entry.Message = err.Error()
	}
	return entry
}
