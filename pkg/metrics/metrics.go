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

// Package metrics exports presence aggregates as Prometheus gauges. The
// collector recomputes on every scrape from the store, so values are always
// consistent with the REST surface.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/carverauto/voiceradar/pkg/logger"
	"github.com/carverauto/voiceradar/pkg/stats"
	"github.com/carverauto/voiceradar/pkg/store"
)

const (
	namespace     = "voiceradar"
	scrapeTimeout = 10 * time.Second
	summaryDays   = 1
	topChannels   = 10
)

// Collector implements prometheus.Collector over the stats engine.
type Collector struct {
	engine *stats.Engine
	store  store.Store
	logger logger.Logger

	onlineUsers    *prometheus.Desc
	uniqueUsers    *prometheus.Desc
	avgOnline      *prometheus.Desc
	peakOnline     *prometheus.Desc
	snapshots      *prometheus.Desc
	engagementBand *prometheus.Desc
	channelVisits  *prometheus.Desc
	channelUsers   *prometheus.Desc
	dbSizeBytes    *prometheus.Desc
}

// NewCollector builds the collector. Register it on a fresh registry.
func NewCollector(engine *stats.Engine, s store.Store, log logger.Logger) *Collector {
	return &Collector{
		engine: engine,
		store:  s,
		logger: log,
		onlineUsers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "online_users"),
			"Clients in the most recent snapshot", nil, nil),
		uniqueUsers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "unique_users_24h"),
			"Distinct clients seen in the last day", nil, nil),
		avgOnline: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "avg_online_users_24h"),
			"Average concurrent clients over the last day", nil, nil),
		peakOnline: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "peak_online_users_24h"),
			"Peak concurrent clients over the last day", nil, nil),
		snapshots: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "snapshots_24h"),
			"Snapshots stored in the last day", nil, nil),
		engagementBand: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "engagement_band_users"),
			"Clients per engagement band", []string{"band"}, nil),
		channelVisits: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "channel_visits_24h"),
			"Snapshot occurrences per channel over the last day", []string{"channel_id", "channel_name"}, nil),
		channelUsers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "channel_unique_users_24h"),
			"Distinct clients per channel over the last day", []string{"channel_id", "channel_name"}, nil),
		dbSizeBytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "db_size_bytes"),
			"On-disk size of the snapshot store", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.onlineUsers
	ch <- c.uniqueUsers
	ch <- c.avgOnline
	ch <- c.peakOnline
	ch <- c.snapshots
	ch <- c.engagementBand
	ch <- c.channelVisits
	ch <- c.channelUsers
	ch <- c.dbSizeBytes
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
	defer cancel()

	if online, err := c.engine.OnlineNow(ctx); err == nil {
		ch <- prometheus.MustNewConstMetric(c.onlineUsers, prometheus.GaugeValue, float64(len(online)))
	} else {
		c.logger.Warn().Err(err).Msg("Scrape of online users failed")
	}

	if summary, err := c.engine.Summary(ctx, summaryDays); err == nil {
		ch <- prometheus.MustNewConstMetric(c.uniqueUsers, prometheus.GaugeValue, float64(summary.UniqueUsers))
		ch <- prometheus.MustNewConstMetric(c.avgOnline, prometheus.GaugeValue, summary.AvgOnline)
		ch <- prometheus.MustNewConstMetric(c.peakOnline, prometheus.GaugeValue, float64(summary.MaxOnline))
		ch <- prometheus.MustNewConstMetric(c.snapshots, prometheus.GaugeValue, float64(summary.TotalSnapshots))
	} else {
		c.logger.Warn().Err(err).Msg("Scrape of summary failed")
	}

	if _, summary, err := c.engine.Engagement(ctx, 0, 0); err == nil {
		ch <- prometheus.MustNewConstMetric(c.engagementBand, prometheus.GaugeValue, float64(summary.PowerUsers), "power")
		ch <- prometheus.MustNewConstMetric(c.engagementBand, prometheus.GaugeValue, float64(summary.RegularUsers), "regular")
		ch <- prometheus.MustNewConstMetric(c.engagementBand, prometheus.GaugeValue, float64(summary.CasualUsers), "casual")
	} else {
		c.logger.Warn().Err(err).Msg("Scrape of engagement failed")
	}

	if channels, err := c.engine.ChannelPopularity(ctx, summaryDays); err == nil {
		for i, stat := range channels {
			if i >= topChannels {
				break
			}

			ch <- prometheus.MustNewConstMetric(c.channelVisits, prometheus.GaugeValue,
				float64(stat.Visits), stat.ChannelID, stat.ChannelName)
			ch <- prometheus.MustNewConstMetric(c.channelUsers, prometheus.GaugeValue,
				float64(stat.UniqueUsers), stat.ChannelID, stat.ChannelName)
		}
	} else {
		c.logger.Warn().Err(err).Msg("Scrape of channel stats failed")
	}

	if size, err := c.store.SizeBytes(ctx); err == nil {
		ch <- prometheus.MustNewConstMetric(c.dbSizeBytes, prometheus.GaugeValue, float64(size))
	} else {
		c.logger.Warn().Err(err).Msg("Scrape of db size failed")
	}
}
