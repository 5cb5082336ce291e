package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/response"
)

const healthTimeout = 2 * time.Second

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemHandler reports process health, dependency reachability and the
// backlog of the persistence queues.
type SystemHandler struct {
	db        Pinger
	rdb       *redis.Client
	startTime time.Time
	log       zerolog.Logger
}

// NewSystemHandler creates a new SystemHandler. Nil dependencies are
// reported as "disabled".
func NewSystemHandler(db Pinger, rdb *redis.Client, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		db:        db,
		rdb:       rdb,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type healthReport struct {
	Status     string            `json:"status"`
	Uptime     string            `json:"uptime"`
	Goroutines int               `json:"goroutines"`
	HeapAlloc  uint64            `json:"heap_alloc"`
	GoVersion  string            `json:"go_version"`
	Checks     map[string]string `json:"checks"`

	// Worker Queues
	QueueSessions int64 `json:"queue_sessions"`
	QueueResults  int64 `json:"queue_results"`
	QueueEvents   int64 `json:"queue_events"`
}

// Health godoc
// GET /health
// Responds 503 when PostgreSQL or Redis cannot be reached.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	report := h.collect(ctx)
	if report.Status != "ok" {
		h.log.Warn().Interface("checks", report.Checks).Msg("Health check degraded")
		response.Success(c, http.StatusServiceUnavailable, report)
		return
	}
	response.Success(c, http.StatusOK, report)
}

func (h *SystemHandler) collect(ctx context.Context) healthReport {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	report := healthReport{
		Status:     "ok",
		Uptime:     formatDuration(time.Since(h.startTime)),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  ms.HeapAlloc,
		GoVersion:  runtime.Version(),
		Checks:     map[string]string{"postgres": "disabled", "redis": "disabled"},
	}

	if h.db != nil {
		report.Checks["postgres"] = "ok"
		if err := h.db.Ping(ctx); err != nil {
			report.Checks["postgres"] = err.Error()
			report.Status = "degraded"
		}
	}

	if h.rdb == nil {
		return report
	}

	// ── Worker Queues (pipelined LLEN) ──
	pipe := h.rdb.Pipeline()
	sessionsCmd := pipe.LLen(ctx, config.WorkerKey.PersistSessionsQueue)
	resultsCmd := pipe.LLen(ctx, config.WorkerKey.PersistResultsQueue)
	eventsCmd := pipe.LLen(ctx, config.WorkerKey.PersistEventsQueue)
	if _, err := pipe.Exec(ctx); err != nil {
		report.Checks["redis"] = err.Error()
		report.Status = "degraded"
		return report
	}
	report.Checks["redis"] = "ok"
	report.QueueSessions, _ = sessionsCmd.Result()
	report.QueueResults, _ = resultsCmd.Result()
	report.QueueEvents, _ = eventsCmd.Result()
	return report
}

// ---------- Helpers ----------

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
