/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package api exposes the stats engine as a read-only REST surface plus a
// Prometheus scrape endpoint. It never writes to the store.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carverauto/voiceradar/pkg/logger"
	"github.com/carverauto/voiceradar/pkg/models"
	"github.com/carverauto/voiceradar/pkg/stats"
)

const (
	defaultListenAddr   = ":8090"
	readHeaderTimeout   = 5 * time.Second
	shutdownGracePeriod = 10 * time.Second
)

// Config is the API server configuration.
type Config struct {
	ListenAddr  string          `json:"listen_addr"`
	APIKey      string          `json:"api_key,omitempty"`
	GracePeriod models.Duration `json:"grace_period,omitempty"`
}

// Validate implements config.Validator.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}

	return nil
}

// Server serves stats queries over HTTP.
type Server struct {
	config     Config
	engine     *stats.Engine
	httpServer *http.Server
	logger     logger.Logger
}

// NewServer wires routes for every stats operation. The registry may carry
// additional collectors; pass a fresh one if none are needed.
func NewServer(config *Config, engine *stats.Engine, registry *prometheus.Registry, log logger.Logger) *Server {
	s := &Server{
		config: *config,
		engine: engine,
		logger: log,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	protected := http.NewServeMux()
	protected.HandleFunc("GET /stats/top", s.handleTopUsers)
	protected.HandleFunc("GET /stats/heatmap", s.handleHeatmap)
	protected.HandleFunc("GET /stats/daily", s.handleDailyActivity)
	protected.HandleFunc("GET /stats/idle", s.handleIdleRanking)
	protected.HandleFunc("GET /stats/channels", s.handleChannels)
	protected.HandleFunc("GET /stats/growth", s.handleGrowth)
	protected.HandleFunc("GET /stats/hoppers", s.handleHoppers)
	protected.HandleFunc("GET /stats/patterns", s.handlePatterns)
	protected.HandleFunc("GET /stats/engagement", s.handleEngagement)
	protected.HandleFunc("GET /stats/summary", s.handleSummary)
	protected.HandleFunc("GET /stats/peaks", s.handlePeaks)
	protected.HandleFunc("GET /stats/online", s.handleOnlineNow)
	protected.HandleFunc("GET /stats/away", s.handleAwayStats)
	protected.HandleFunc("GET /stats/mutes", s.handleMuteStats)
	protected.HandleFunc("GET /stats/groups", s.handleGroupStats)
	protected.HandleFunc("GET /stats/user", s.handleUserStats)

	auth := APIKeyMiddleware(config.APIKey, log)
	mux.Handle("/stats/", auth(protected))

	s.httpServer = &http.Server{
		Addr:              config.ListenAddr,
		Handler:           CommonMiddleware(log)(mux),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start blocks serving HTTP until the listener fails or Stop is called.
func (s *Server) Start(_ context.Context) error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting API server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Stop shuts the server down, draining in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownGracePeriod)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}
