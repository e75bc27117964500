package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/go/internal/client"
	"github.com/mcdev12/watchparty/go/internal/config"
	"github.com/mcdev12/watchparty/go/internal/events"
	"github.com/mcdev12/watchparty/go/internal/gateway"
)

// watchclient joins a room with a simulated player and logs what it sees
func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	cfg := config.LoadClient()
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && level != zerolog.NoLevel {
		zerolog.SetGlobalLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := cfg.RoomCode
	if code == "" {
		var err error
		if code, err = createRoom(ctx, cfg.ServerURL); err != nil {
			log.Fatal().Err(err).Msg("failed to create room")
		}
		log.Info().Str("room_code", code).Msg("created room")
	}

	clock := clockwork.NewRealClock()
	player := client.NewVirtualPlayer(clock)
	engine := client.NewEngine(player).WithDriftThreshold(cfg.DriftThreshold)

	wsURL := "ws" + strings.TrimPrefix(cfg.ServerURL, "http") + "/ws"
	conn, err := client.Dial(ctx, wsURL, engine, clock)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect")
	}
	defer conn.Close()

	conn.OnEvent(func(ev *events.Event) {
		log.Info().
			Str("event_type", string(ev.Type)).
			Str("room_code", ev.RoomCode).
			RawJSON("data", orEmpty(ev.Data)).
			Float64("local_position", player.Position()).
			Bool("local_playing", player.Playing()).
			Msg("event")
	})

	ctrl := client.NewController(player, client.NewThrottle(client.DefaultThrottleInterval, clock), conn, engine.RoomCode)

	errCh := make(chan error, 1)
	go func() { errCh <- conn.Run(ctx) }()

	select {
	case <-conn.Connected():
	case err := <-errCh:
		log.Fatal().Err(err).Msg("connection closed before handshake")
	}
	log.Info().Str("connection_id", engine.SelfID()).Msg("connected")

	if err := ctrl.Join(code); err != nil {
		log.Fatal().Err(err).Msg("failed to join room")
	}

	if cfg.Autoplay {
		go func() {
			// give the snapshot a moment so play starts from the room position
			select {
			case <-clock.After(time.Second):
			case <-ctx.Done():
				return
			}
			if _, err := ctrl.Play(); err != nil {
				log.Error().Err(err).Msg("autoplay failed")
			}
		}()
	}

	// While playing, periodically ask for the authoritative state to bound drift
	ticker := clock.NewTicker(cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := ctrl.Leave(); err != nil {
				log.Warn().Err(err).Msg("failed to leave room")
			}
			log.Info().Msg("watchclient shutting down")
			return
		case err := <-errCh:
			if err != nil {
				log.Error().Err(err).Msg("connection lost")
			}
			return
		case <-ticker.Chan():
			if !player.Playing() {
				continue
			}
			if err := ctrl.RequestSync(); err != nil {
				log.Error().Err(err).Msg("failed to request sync")
			}
		}
	}
}

func createRoom(ctx context.Context, serverURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/create-room", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call create-room: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create-room returned %s", resp.Status)
	}

	var body gateway.CreateRoomResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode create-room response: %w", err)
	}
	return body.Code, nil
}

func orEmpty(data json.RawMessage) json.RawMessage {
	if len(data) == 0 {
		return json.RawMessage("{}")
	}
	return data
}
