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

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/carverauto/voiceradar/pkg/api"
	"github.com/carverauto/voiceradar/pkg/config"
	"github.com/carverauto/voiceradar/pkg/logger"
	"github.com/carverauto/voiceradar/pkg/metrics"
	"github.com/carverauto/voiceradar/pkg/stats"
	"github.com/carverauto/voiceradar/pkg/store"
	"github.com/carverauto/voiceradar/pkg/version"
)

var errFailedToLoadConfig = fmt.Errorf("failed to load config")

// serverConfig bundles the API surface with its storage settings.
type serverConfig struct {
	api.Config

	Database store.Config   `json:"database"`
	Logging  *logger.Config `json:"logging,omitempty"`
}

func (c *serverConfig) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}

	return c.Database.Validate()
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/voiceradar/api.json", "Path to API config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfgLoader := config.NewConfig(nil)

	var cfg serverConfig

	if err := cfgLoader.LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = logger.DefaultConfig()
	}

	apiLogger, err := logger.NewComponentLogger("api", logConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	apiLogger.Info().Str("version", version.GetFullVersion()).Msg("Starting VoiceRadar API")

	appender, err := store.OpenStore(ctx, &cfg.Database, apiLogger)
	if err != nil {
		return fmt.Errorf("failed to open snapshot store: %w", err)
	}
	defer func() { _ = appender.Close() }()

	// The API is a read surface; an append-only backend cannot serve it.
	s, err := store.AsReader(appender)
	if err != nil {
		return err
	}

	engine := stats.NewEngine(s, time.Duration(cfg.GracePeriod), apiLogger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.NewCollector(engine, s, apiLogger))

	server := api.NewServer(&cfg.Config, engine, registry, apiLogger)

	errCh := make(chan error, 1)

	go func() { errCh <- server.Start(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	return server.Stop(context.Background())
}
