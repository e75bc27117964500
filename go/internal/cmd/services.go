package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/go/internal/config"
	"github.com/mcdev12/watchparty/go/internal/gateway"
	"github.com/mcdev12/watchparty/go/internal/notify"
	"github.com/mcdev12/watchparty/go/internal/presence"
	"github.com/mcdev12/watchparty/go/internal/pubsub"
	"github.com/mcdev12/watchparty/go/internal/ratelimit"
	"github.com/mcdev12/watchparty/go/internal/room"
	"github.com/mcdev12/watchparty/go/internal/session"
)

type Services struct {
	Rooms        *room.Registry
	Coordinator  *session.Coordinator
	Gateway      *gateway.Service
	EventsHealth *notify.SinkHealthChecker

	// nil when NATS_URL is unset
	Notifier  *notify.Worker
	publisher *notify.JetStreamPublisher
}

func setupServices(cfg config.Config) (*Services, error) {
	// Wire up dependency injection chain
	// Registry → Limiter/Presence → Coordinator → Gateway
	clock := clockwork.NewRealClock()

	rooms := room.NewRegistry(cfg.RoomConfig(), clock)
	limiter := ratelimit.NewLimiter(cfg.Sync.ThrottleInterval, clock)
	tracker := presence.NewTracker(rooms, cfg.Sync.Words, nil)

	services := &Services{Rooms: rooms}

	var sink notify.Sink = notify.NoopSink{}
	if cfg.NATS.URL != "" {
		publisher, err := notify.NewJetStreamPublisher(cfg.JetStreamConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create JetStream publisher: %w", err)
		}
		services.publisher = publisher
		services.Notifier = notify.NewWorker(publisher, notify.DefaultWorkerConfig())
		services.EventsHealth = notify.NewSinkHealthChecker(services.Notifier, publisher, clock, time.Minute)
		sink = services.Notifier
	} else {
		log.Info().Msg("NATS_URL not set, room events will not be published")
		services.EventsHealth = notify.NewSinkHealthChecker(nil, nil, clock, time.Minute)
	}

	services.Coordinator = session.NewCoordinator(session.Deps{
		Rooms:    rooms,
		Limiter:  limiter,
		Presence: tracker,
		Topics:   pubsub.NewBroker(),
		Sink:     sink,
		Clock:    clock,
	}, cfg.SessionConfig())

	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.ConnectionConfig.MaxMessageSize = gateway.MaxMessageSizeFor(cfg.SessionConfig().MaxChatLength)
	services.Gateway = gateway.NewService(gatewayConfig, services.Coordinator, rooms)

	return services, nil
}

// start launches the background loops. They stop when ctx is cancelled.
func (s *Services) start(ctx context.Context) {
	go s.Coordinator.Run(ctx)

	go func() {
		if err := s.Gateway.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	if s.Notifier != nil {
		go s.Notifier.Start(ctx)
	}
}

func (s *Services) close() {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Close(); err != nil {
		log.Error().Err(err).Msg("close publisher")
	}
}
