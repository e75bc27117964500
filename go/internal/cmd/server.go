package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/watchparty/go/internal/config"
	"github.com/mcdev12/watchparty/go/internal/gateway"
)

func setupServer(cfg config.Config, services *Services) *http.Server {
	mux := http.NewServeMux()

	// Register room API and WebSocket routes
	services.Gateway.RegisterRoutes(mux)

	// Add health check endpoints
	setupHealthCheck(mux)
	mux.Handle("GET /health/events", services.EventsHealth)

	// Add service info
	setupInfo(mux, services)

	// Wrap with CORS
	handler := gateway.CORSMiddleware(cfg.AllowedOrigins, mux)

	// Setup HTTP/2 server
	return &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: h2c.NewHandler(handler, &http2.Server{}),
	}
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}

type info struct {
	Service     string                  `json:"service"`
	Connections int                     `json:"connections"`
	Gateway     gateway.ConnectionStats `json:"gateway"`
	Notifier    map[string]int64        `json:"notifier,omitempty"`
}

func setupInfo(mux *http.ServeMux, services *Services) {
	mux.HandleFunc("GET /info", func(w http.ResponseWriter, r *http.Request) {
		body := info{
			Service:     "watchparty",
			Connections: services.Coordinator.Connections(),
			Gateway:     services.Gateway.GetStats(),
		}
		if services.Notifier != nil {
			body.Notifier = services.Notifier.Stats()
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(body); err != nil {
			log.Error().Err(err).Msg("failed to encode info response")
		}
	})
}
