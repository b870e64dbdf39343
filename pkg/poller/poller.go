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

// Package poller drives the fixed-interval ingestion loop: fetch one
// presence batch, commit it as a snapshot, recover from failures, and run
// periodic maintenance. Exactly one poller writes to a given store.
package poller

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carverauto/voiceradar/pkg/logger"
	"github.com/carverauto/voiceradar/pkg/store"
)

const (
	stopTimeout   = 10 * time.Second
	maxBackoff    = 15 * time.Minute
	pruneEvery    = 24 * time.Hour
	channelsEvery = time.Hour
	secondsPerDay = 24 * 60 * 60
)

// Poller owns the scheduling loop. Polls never overlap: a tick arriving
// while the previous poll is still in flight is skipped and logged as an
// overrun. Failures back off exponentially but never terminate the loop.
type Poller struct {
	config  Config
	fetcher PresenceFetcher
	store   store.Appender
	clock   Clock
	logger  logger.Logger

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	startWg   sync.WaitGroup

	inFlight         atomic.Bool
	failures         atomic.Int32
	backoffUntilUnix atomic.Int64

	// PollFunc overrides one poll cycle. Tests use this to observe
	// scheduling without a live presence source.
	PollFunc func(ctx context.Context) error
}

// New creates a poller around a fetcher and an opened store.
func New(config *Config, f PresenceFetcher, s store.Appender, clock Clock, log logger.Logger) *Poller {
	if clock == nil {
		clock = realClock{}
	}

	return &Poller{
		config:  *config,
		fetcher: f,
		store:   s,
		clock:   clock,
		logger:  log,
		done:    make(chan struct{}),
	}
}

// Start runs the loop until ctx is canceled or Stop is called. It performs
// startup bookkeeping first: a connection test, the poll interval written to
// store metadata, and an initial channel refresh and poll.
func (p *Poller) Start(ctx context.Context) error {
	interval := time.Duration(p.config.PollInterval)

	p.logger.Info().
		Str("poller_id", p.config.PollerID).
		Dur("interval", interval).
		Int("retention_days", p.config.RetentionDays).
		Msg("Starting poller")

	p.startWg.Add(1)
	defer p.startWg.Done()

	p.wg.Add(1)
	defer p.wg.Done()

	p.startup(ctx)

	ticker := p.clock.Ticker(interval)
	defer ticker.Stop()

	pruneTicker := p.clock.Ticker(pruneEvery)
	defer pruneTicker.Stop()

	channelTicker := p.clock.Ticker(channelsEvery)
	defer channelTicker.Stop()

	p.schedulePoll(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.done:
			return nil
		case <-ticker.Chan():
			p.schedulePoll(ctx)
		case <-pruneTicker.Chan():
			p.scheduleMaintenance(ctx, p.prune)
		case <-channelTicker.Chan():
			p.scheduleMaintenance(ctx, p.refreshChannels)
		}
	}
}

// Stop drains the in-flight poll and stops scheduling. Safe to call more
// than once.
func (p *Poller) Stop(ctx context.Context) error {
	_, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()

	p.closeOnce.Do(func() {
		close(p.done)
	})

	p.startWg.Wait()
	p.wg.Wait()

	p.logger.Info().Str("poller_id", p.config.PollerID).Msg("Poller stopped")

	return nil
}

func (p *Poller) startup(ctx context.Context) {
	if p.PollFunc != nil {
		return
	}

	if err := p.fetcher.TestConnection(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("Connection test failed, polling will retry")
	}

	intervalSec := int64(time.Duration(p.config.PollInterval) / time.Second)
	if err := p.store.SetMetadata(ctx, store.MetaPollInterval, strconv.FormatInt(intervalSec, 10)); err != nil {
		p.logger.Error().Err(err).Msg("Failed to record poll interval")
	}

	p.refreshChannels(ctx)
}

func (p *Poller) schedulePoll(ctx context.Context) {
	if p.inFlight.Load() {
		p.logger.Warn().Msg("Previous poll still running, skipping tick")
		return
	}

	if until := p.backoffUntilUnix.Load(); until > 0 && p.clock.Now().Unix() < until {
		p.logger.Debug().
			Int64("until", until).
			Int32("failures", p.failures.Load()).
			Msg("In backoff, skipping tick")

		return
	}

	p.inFlight.Store(true)
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		defer p.inFlight.Store(false)

		if err := p.poll(ctx); err != nil {
			p.recordFailure(err)
			return
		}

		p.failures.Store(0)
		p.backoffUntilUnix.Store(0)
	}()
}

func (p *Poller) scheduleMaintenance(ctx context.Context, fn func(context.Context)) {
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		fn(ctx)
	}()
}

func (p *Poller) poll(ctx context.Context) error {
	if p.PollFunc != nil {
		return p.PollFunc(ctx)
	}

	start := p.clock.Now()

	batch, err := p.fetcher.Fetch(ctx)
	if err != nil {
		return err
	}

	id, err := p.store.Append(ctx, batch)
	if err != nil {
		if errors.Is(err, store.ErrTimestampRegression) {
			// Clock went backwards relative to stored history. Drop the
			// batch and keep polling; the next batch will be in order.
			p.logger.Warn().Err(err).Int64("timestamp", batch.Timestamp).Msg("Discarding out-of-order batch")
			return nil
		}

		return err
	}

	p.logger.Info().
		Int64("snapshot_id", id).
		Int("clients", len(batch.Records)).
		Dur("elapsed", p.clock.Now().Sub(start)).
		Msg("Poll complete")

	return nil
}

func (p *Poller) recordFailure(err error) {
	failures := p.failures.Add(1)

	delay := time.Duration(p.config.PollInterval)
	for i := int32(1); i < failures && delay < maxBackoff; i++ {
		delay *= 2
	}

	if delay > maxBackoff {
		delay = maxBackoff
	}

	p.backoffUntilUnix.Store(p.clock.Now().Add(delay).Unix())

	p.logger.Error().
		Err(err).
		Int32("consecutive_failures", failures).
		Dur("backoff", delay).
		Msg("Poll failed")
}

func (p *Poller) prune(ctx context.Context) {
	if p.config.RetentionDays <= 0 {
		return
	}

	cutoff := p.clock.Now().Unix() - int64(p.config.RetentionDays)*secondsPerDay

	if _, err := p.store.Prune(ctx, cutoff); err != nil {
		p.logger.Error().Err(err).Msg("Retention prune failed")
	}
}

// refreshChannels updates the channel-name cache. Append-only backends have
// no channel table, so the refresh is skipped there.
func (p *Poller) refreshChannels(ctx context.Context) {
	full, err := store.AsReader(p.store)
	if err != nil {
		p.logger.Debug().Msg("Backend has no channel cache, skipping refresh")
		return
	}

	channels, err := p.fetcher.FetchChannels(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Channel refresh failed")
		return
	}

	n, err := full.UpsertChannels(ctx, channels)
	if err != nil {
		p.logger.Error().Err(err).Msg("Channel cache update failed")
		return
	}

	p.logger.Debug().Int64("channels", n).Msg("Channel cache refreshed")
}
