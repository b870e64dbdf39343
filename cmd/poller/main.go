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
	"errors"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/carverauto/voiceradar/pkg/config"
	"github.com/carverauto/voiceradar/pkg/fetcher"
	"github.com/carverauto/voiceradar/pkg/logger"
	"github.com/carverauto/voiceradar/pkg/poller"
	"github.com/carverauto/voiceradar/pkg/store"
	"github.com/carverauto/voiceradar/pkg/version"
)

var errFailedToLoadConfig = fmt.Errorf("failed to load config")

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/voiceradar/poller.json", "Path to poller config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfgLoader := config.NewConfig(nil)

	var cfg poller.Config

	if err := cfgLoader.LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = logger.DefaultConfig()
	}

	pollerLogger, err := logger.NewComponentLogger("poller", logConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	pollerLogger.Info().Str("version", version.GetFullVersion()).Msg("Starting VoiceRadar poller")

	s, err := store.OpenStore(ctx, &cfg.Database, pollerLogger)
	if err != nil {
		return fmt.Errorf("failed to open snapshot store: %w", err)
	}
	defer func() { _ = s.Close() }()

	f := fetcher.New(&cfg.Source, pollerLogger)

	p := poller.New(&cfg, f, s, nil, pollerLogger)

	err = p.Start(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return p.Stop(context.Background())
}
