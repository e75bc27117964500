package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

type HealthStatus struct {
	Healthy         bool      `json:"healthy"`
	Enabled         bool      `json:"enabled"`
	WorkerActive    bool      `json:"worker_active"`
	NATSConnected   bool      `json:"nats_connected"`
	EventsPublished int64     `json:"events_published"`
	EventsFailed    int64     `json:"events_failed"`
	EventsDropped   int64     `json:"events_dropped"`
	PendingEvents   int       `json:"pending_events"`
	LastEventTime   time.Time `json:"last_event_time"`
	Errors          []string  `json:"errors"`
}

// Connection is the part of the publisher the health check looks at
type Connection interface {
	IsConnected() bool
}

type SinkHealthChecker struct {
	worker    *Worker
	conn      Connection
	clock     clockwork.Clock
	threshold time.Duration // How long a backlog may go unpublished before unhealthy
}

// NewSinkHealthChecker checks worker and conn. A nil worker means publication is
// disabled, which is healthy.
func NewSinkHealthChecker(worker *Worker, conn Connection, clock clockwork.Clock, threshold time.Duration) *SinkHealthChecker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SinkHealthChecker{
		worker:    worker,
		conn:      conn,
		clock:     clock,
		threshold: threshold,
	}
}

func (h *SinkHealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy: true,
		Errors:  []string{},
	}
	if h.worker == nil {
		return status
	}
	status.Enabled = true

	stats := h.worker.Stats()
	status.EventsPublished = stats["published"]
	status.EventsFailed = stats["failed"]
	status.EventsDropped = stats["dropped"]
	status.PendingEvents = h.worker.Pending()
	status.LastEventTime = h.worker.LastPublished()

	// Check NATS connection
	if h.conn != nil {
		status.NATSConnected = h.conn.IsConnected()
		if !status.NATSConnected {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
	}

	status.WorkerActive = h.worker.Running()
	if !status.WorkerActive {
		status.Healthy = false
		status.Errors = append(status.Errors, "worker not active")
	}

	// Alert when the queue is close to dropping events
	if capacity := h.worker.config.QueueSize; status.PendingEvents > capacity*3/4 {
		status.Errors = append(status.Errors, fmt.Sprintf("high pending event count: %d of %d", status.PendingEvents, capacity))
	}

	// A backlog that has not moved for a while means publishing is stuck
	if status.PendingEvents > 0 && !status.LastEventTime.IsZero() {
		since := h.clock.Since(status.LastEventTime)
		if since > h.threshold {
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("no events published for %s", since))
		}
	}

	return status
}

// HTTP handler helper
func (h *SinkHealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Error().Err(err).Msg("failed to encode event sink health")
	}
}
