package notify

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/go/internal/events"
)

// Sink accepts room events without blocking the caller
type Sink interface {
	Enqueue(ev *events.Event)
}

// NoopSink discards everything. Used when no NATS URL is configured.
type NoopSink struct{}

func (NoopSink) Enqueue(*events.Event) {}

// WorkerConfig holds configuration for the publishing worker
type WorkerConfig struct {
	QueueSize      int
	PublishTimeout time.Duration
	MaxAttempts    int // Publish attempts per event, each with the same message id
	RetryBackoff   time.Duration
	Clock          clockwork.Clock
}

// DefaultWorkerConfig returns worker defaults
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		QueueSize:      1024,
		PublishTimeout: 5 * time.Second,
		MaxAttempts:    3,
		RetryBackoff:   200 * time.Millisecond,
	}
}

// Worker queues events and publishes them off the coordinator's loop
type Worker struct {
	publisher Publisher
	config    WorkerConfig
	queue     chan *events.Event

	published     atomic.Int64
	failed        atomic.Int64
	dropped       atomic.Int64
	lastPublished atomic.Int64 // unix nanos
	running       atomic.Bool
}

// NewWorker creates a worker around publisher
func NewWorker(publisher Publisher, config WorkerConfig) *Worker {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultWorkerConfig().QueueSize
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = DefaultWorkerConfig().PublishTimeout
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultWorkerConfig().MaxAttempts
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = DefaultWorkerConfig().RetryBackoff
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	return &Worker{
		publisher: publisher,
		config:    config,
		queue:     make(chan *events.Event, config.QueueSize),
	}
}

// Enqueue hands ev to the worker, dropping it when the queue is full
func (w *Worker) Enqueue(ev *events.Event) {
	select {
	case w.queue <- ev:
	default:
		w.dropped.Add(1)
		log.Warn().
			Str("room_code", ev.RoomCode).
			Str("event_type", string(ev.Type)).
			Msg("event sink queue full, dropping event")
	}
}

// Start publishes queued events until ctx is cancelled
func (w *Worker) Start(ctx context.Context) {
	log.Info().Int("queue_size", w.config.QueueSize).Msg("event sink worker started")
	w.running.Store(true)
	defer w.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("event sink worker shutting down")
			return
		case ev := <-w.queue:
			w.publish(ctx, ev)
		}
	}
}

func (w *Worker) publish(ctx context.Context, ev *events.Event) {
	var err error
retry:
	for attempt := 1; ; attempt++ {
		if err = w.publishOnce(ctx, ev); err == nil {
			w.published.Add(1)
			w.lastPublished.Store(w.config.Clock.Now().UnixNano())
			return
		}
		if attempt >= w.config.MaxAttempts {
			break
		}

		log.Warn().
			Err(err).
			Str("event_id", ev.ID).
			Int("attempt", attempt).
			Msg("publish failed, retrying")

		select {
		case <-ctx.Done():
			break retry
		case <-w.config.Clock.After(w.config.RetryBackoff * time.Duration(attempt)):
		}
	}

	w.failed.Add(1)
	log.Error().
		Err(err).
		Str("event_id", ev.ID).
		Str("room_code", ev.RoomCode).
		Str("event_type", string(ev.Type)).
		Msg("failed to publish room event")
}

func (w *Worker) publishOnce(ctx context.Context, ev *events.Event) error {
	pubCtx, cancel := context.WithTimeout(ctx, w.config.PublishTimeout)
	defer cancel()
	return w.publisher.Publish(pubCtx, ev)
}

// Running reports whether Start is active
func (w *Worker) Running() bool {
	return w.running.Load()
}

// LastPublished returns when an event was last acknowledged, zero if never
func (w *Worker) LastPublished() time.Time {
	n := w.lastPublished.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Pending returns the number of queued events
func (w *Worker) Pending() int {
	return len(w.queue)
}

// Stats returns publish counters
func (w *Worker) Stats() map[string]int64 {
	return map[string]int64{
		"published": w.published.Load(),
		"failed":    w.failed.Load(),
		"dropped":   w.dropped.Load(),
		"queued":    int64(len(w.queue)),
	}
}
