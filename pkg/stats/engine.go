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

// Package stats computes windowed aggregates over stored snapshots and
// reconstructed sessions. Every operation is a pure read: snapshots in,
// ordered results out, no hidden state between calls.
package stats

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/carverauto/voiceradar/pkg/logger"
	"github.com/carverauto/voiceradar/pkg/models"
	"github.com/carverauto/voiceradar/pkg/sessions"
	"github.com/carverauto/voiceradar/pkg/store"
)

const (
	defaultInterval = 30 * time.Second
	secondsPerDay   = 24 * 60 * 60
	msPerSecond     = 1000
)

// Engine answers aggregate queries from a full-capability store. Construct
// it with store.AsReader so append-only backends are rejected up front.
type Engine struct {
	store  store.Store
	grace  time.Duration
	logger logger.Logger

	// now is overridable for deterministic window math in tests.
	now func() time.Time
}

// NewEngine creates a stats engine. A grace of zero defaults to twice the
// poll interval at reconstruction time.
func NewEngine(s store.Store, grace time.Duration, log logger.Logger) *Engine {
	return &Engine{
		store:  s,
		grace:  grace,
		logger: log,
		now:    time.Now,
	}
}

// window resolves an optional day count to a [from, to] timestamp range.
// Zero or negative days means "since the earliest retained snapshot".
func (e *Engine) window(ctx context.Context, days int) (from, to int64, err error) {
	to = e.now().UTC().Unix()

	if days > 0 {
		return to - int64(days)*secondsPerDay, to, nil
	}

	from, err = e.store.EarliestTimestamp(ctx)
	if err != nil {
		return 0, 0, err
	}

	return from, to, nil
}

// interval reads the recorded poll interval, falling back to the default
// when the poller has not written one yet.
func (e *Engine) interval(ctx context.Context) time.Duration {
	raw, err := e.store.GetMetadata(ctx, store.MetaPollInterval)
	if err != nil || raw == "" {
		return defaultInterval
	}

	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || sec <= 0 {
		return defaultInterval
	}

	return time.Duration(sec) * time.Second
}

// load fetches the window's snapshots and reconstructs sessions from them.
func (e *Engine) load(ctx context.Context, days int) ([]models.SnapshotRecords, map[string][]models.Session, error) {
	from, to, err := e.window(ctx, days)
	if err != nil {
		return nil, nil, err
	}

	snaps, err := e.store.QueryRange(ctx, from, to)
	if err != nil {
		return nil, nil, err
	}

	return snaps, sessions.Reconstruct(snaps, e.interval(ctx), e.grace), nil
}

// TopUsers ranks clients by total session online time, descending, ties
// broken by client id ascending.
func (e *Engine) TopUsers(ctx context.Context, days, limit int) ([]models.TopUser, error) {
	_, byClient, err := e.load(ctx, days)
	if err != nil {
		return nil, err
	}

	users := make([]models.TopUser, 0, len(byClient))

	for clientID, sess := range byClient {
		if len(sess) == 0 {
			continue
		}

		u := models.TopUser{
			ClientID:  clientID,
			Nickname:  sess[len(sess)-1].Nickname,
			FirstSeen: sess[0].Start,
			LastSeen:  sess[len(sess)-1].End,
		}

		for _, s := range sess {
			u.Samples += s.Samples
			u.OnlineSeconds += s.OnlineSeconds
		}

		u.OnlineHours = float64(u.OnlineSeconds) / 3600

		users = append(users, u)
	}

	sort.Slice(users, func(a, b int) bool {
		if users[a].OnlineSeconds != users[b].OnlineSeconds {
			return users[a].OnlineSeconds > users[b].OnlineSeconds
		}

		return users[a].ClientID < users[b].ClientID
	})

	return truncate(users, limit), nil
}

// HourlyHeatmap averages the per-snapshot client count by hour of day.
func (e *Engine) HourlyHeatmap(ctx context.Context, days int) ([]models.HeatmapBucket, error) {
	snaps, _, err := e.load(ctx, days)
	if err != nil {
		return nil, err
	}

	var sums, counts [24]int

	for i := range snaps {
		hour := time.Unix(snaps[i].Snapshot.Timestamp, 0).UTC().Hour()
		sums[hour] += snaps[i].Snapshot.TotalClients
		counts[hour]++
	}

	out := make([]models.HeatmapBucket, 24)

	for h := 0; h < 24; h++ {
		out[h] = models.HeatmapBucket{Hour: h, Samples: counts[h]}
		if counts[h] > 0 {
			out[h].AvgClients = float64(sums[h]) / float64(counts[h])
		}
	}

	return out, nil
}

// DailyActivity averages the per-snapshot client count by day of week,
// Sunday first.
func (e *Engine) DailyActivity(ctx context.Context, days int) ([]models.DayActivity, error) {
	snaps, _, err := e.load(ctx, days)
	if err != nil {
		return nil, err
	}

	var sums, counts [7]int

	for i := range snaps {
		day := int(time.Unix(snaps[i].Snapshot.Timestamp, 0).UTC().Weekday())
		sums[day] += snaps[i].Snapshot.TotalClients
		counts[day]++
	}

	out := make([]models.DayActivity, 7)

	for d := 0; d < 7; d++ {
		out[d] = models.DayActivity{
			DayOfWeek: d,
			DayName:   time.Weekday(d).String(),
			Samples:   counts[d],
		}

		if counts[d] > 0 {
			out[d].AvgClients = float64(sums[d]) / float64(counts[d])
		}
	}

	return out, nil
}

// IdleRanking ranks clients by accumulated idle time, descending.
func (e *Engine) IdleRanking(ctx context.Context, days, limit int) ([]models.IdleUser, error) {
	_, byClient, err := e.load(ctx, days)
	if err != nil {
		return nil, err
	}

	users := make([]models.IdleUser, 0, len(byClient))

	for clientID, sess := range byClient {
		if len(sess) == 0 {
			continue
		}

		u := models.IdleUser{
			ClientID: clientID,
			Nickname: sess[len(sess)-1].Nickname,
		}

		for _, s := range sess {
			u.IdleMs += s.IdleMs
			u.Samples += s.Samples
		}

		u.IdleHours = float64(u.IdleMs) / msPerSecond / 3600

		users = append(users, u)
	}

	sort.Slice(users, func(a, b int) bool {
		if users[a].IdleMs != users[b].IdleMs {
			return users[a].IdleMs > users[b].IdleMs
		}

		return users[a].ClientID < users[b].ClientID
	})

	return truncate(users, limit), nil
}

// ChannelPopularity counts snapshot occurrences and distinct clients per
// channel, most visited first, decorated with cached channel names.
func (e *Engine) ChannelPopularity(ctx context.Context, days int) ([]models.ChannelStat, error) {
	snaps, _, err := e.load(ctx, days)
	if err != nil {
		return nil, err
	}

	names, err := e.store.ChannelNames(ctx)
	if err != nil {
		return nil, err
	}

	visits := make(map[string]int)
	clients := make(map[string]map[string]struct{})

	for i := range snaps {
		for j := range snaps[i].Records {
			r := &snaps[i].Records[j]
			visits[r.ChannelID]++

			if clients[r.ChannelID] == nil {
				clients[r.ChannelID] = make(map[string]struct{})
			}

			clients[r.ChannelID][r.ClientID] = struct{}{}
		}
	}

	out := make([]models.ChannelStat, 0, len(visits))

	for channelID, count := range visits {
		out = append(out, models.ChannelStat{
			ChannelID:   channelID,
			ChannelName: names[channelID],
			Visits:      count,
			UniqueUsers: len(clients[channelID]),
		})
	}

	sort.Slice(out, func(a, b int) bool {
		if out[a].Visits != out[b].Visits {
			return out[a].Visits > out[b].Visits
		}

		return out[a].ChannelID < out[b].ChannelID
	})

	return out, nil
}

// Growth splits the window's clients into new (first-ever appearance inside
// the window) and returning (seen before it).
func (e *Engine) Growth(ctx context.Context, days int) (*models.GrowthStats, error) {
	from, to, err := e.window(ctx, days)
	if err != nil {
		return nil, err
	}

	snaps, err := e.store.QueryRange(ctx, from, to)
	if err != nil {
		return nil, err
	}

	firstSeen, err := e.store.FirstSeen(ctx)
	if err != nil {
		return nil, err
	}

	inWindow := make(map[string]struct{})

	for i := range snaps {
		for j := range snaps[i].Records {
			inWindow[snaps[i].Records[j].ClientID] = struct{}{}
		}
	}

	g := &models.GrowthStats{PeriodDays: days, TotalUnique: len(inWindow)}

	for clientID := range inWindow {
		if firstSeen[clientID] >= from {
			g.NewUsers++
		} else {
			g.ReturningUsers++
		}
	}

	if g.TotalUnique > 0 {
		g.NewUserPct = 100 * float64(g.NewUsers) / float64(g.TotalUnique)
	}

	return g, nil
}

// ChannelHoppers ranks clients by channel transitions, descending.
func (e *Engine) ChannelHoppers(ctx context.Context, days, limit int) ([]models.ChannelHopper, error) {
	_, byClient, err := e.load(ctx, days)
	if err != nil {
		return nil, err
	}

	hoppers := make([]models.ChannelHopper, 0, len(byClient))

	for clientID, sess := range byClient {
		if len(sess) == 0 {
			continue
		}

		h := models.ChannelHopper{
			ClientID: clientID,
			Nickname: sess[len(sess)-1].Nickname,
			Sessions: len(sess),
		}

		for _, s := range sess {
			h.Hops += s.Hops
		}

		hoppers = append(hoppers, h)
	}

	sort.Slice(hoppers, func(a, b int) bool {
		if hoppers[a].Hops != hoppers[b].Hops {
			return hoppers[a].Hops > hoppers[b].Hops
		}

		return hoppers[a].ClientID < hoppers[b].ClientID
	})

	return truncate(hoppers, limit), nil
}

// ConnectionPatterns reports session count and mean session duration per
// client, most sessions first.
func (e *Engine) ConnectionPatterns(ctx context.Context, days, limit int) ([]models.ConnectionPattern, error) {
	_, byClient, err := e.load(ctx, days)
	if err != nil {
		return nil, err
	}

	patterns := make([]models.ConnectionPattern, 0, len(byClient))

	for clientID, sess := range byClient {
		if len(sess) == 0 {
			continue
		}

		p := models.ConnectionPattern{
			ClientID: clientID,
			Nickname: sess[len(sess)-1].Nickname,
			Sessions: len(sess),
		}

		var total int64
		for _, s := range sess {
			total += s.OnlineSeconds
		}

		p.MeanSessionSeconds = float64(total) / float64(len(sess))

		patterns = append(patterns, p)
	}

	sort.Slice(patterns, func(a, b int) bool {
		if patterns[a].Sessions != patterns[b].Sessions {
			return patterns[a].Sessions > patterns[b].Sessions
		}

		return patterns[a].ClientID < patterns[b].ClientID
	})

	return truncate(patterns, limit), nil
}

// Summary is the overall view: snapshot count, average and peak concurrent
// clients, and distinct clients in the window.
func (e *Engine) Summary(ctx context.Context, days int) (*models.Summary, error) {
	snaps, _, err := e.load(ctx, days)
	if err != nil {
		return nil, err
	}

	s := &models.Summary{PeriodDays: days, TotalSnapshots: len(snaps)}

	unique := make(map[string]struct{})

	var sum int

	for i := range snaps {
		total := snaps[i].Snapshot.TotalClients
		sum += total

		if total > s.MaxOnline {
			s.MaxOnline = total
		}

		for j := range snaps[i].Records {
			unique[snaps[i].Records[j].ClientID] = struct{}{}
		}
	}

	s.UniqueUsers = len(unique)

	if len(snaps) > 0 {
		s.AvgOnline = float64(sum) / float64(len(snaps))
	}

	return s, nil
}

// PeakTimes returns the busiest snapshots in the window, descending by
// client count, ties broken by earlier timestamp.
func (e *Engine) PeakTimes(ctx context.Context, days, limit int) ([]models.PeakTime, error) {
	snaps, _, err := e.load(ctx, days)
	if err != nil {
		return nil, err
	}

	peaks := make([]models.PeakTime, 0, len(snaps))

	for i := range snaps {
		peaks = append(peaks, models.PeakTime{
			Timestamp:    snaps[i].Snapshot.Timestamp,
			TotalClients: snaps[i].Snapshot.TotalClients,
		})
	}

	sort.Slice(peaks, func(a, b int) bool {
		if peaks[a].TotalClients != peaks[b].TotalClients {
			return peaks[a].TotalClients > peaks[b].TotalClients
		}

		return peaks[a].Timestamp < peaks[b].Timestamp
	})

	return truncate(peaks, limit), nil
}

// OnlineNow lists the clients in the most recent snapshot.
func (e *Engine) OnlineNow(ctx context.Context) ([]models.OnlineClient, error) {
	latest, err := e.store.LatestSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	if latest == nil {
		return []models.OnlineClient{}, nil
	}

	out := make([]models.OnlineClient, 0, len(latest.Records))

	for _, r := range latest.Records {
		out = append(out, models.OnlineClient{
			PresenceRecord: r,
			SnapshotTime:   latest.Snapshot.Timestamp,
		})
	}

	sort.Slice(out, func(a, b int) bool { return out[a].ClientID < out[b].ClientID })

	return out, nil
}

// AwayStats summarizes away flags over the window with a per-client ranking.
func (e *Engine) AwayStats(ctx context.Context, days, limit int) (*models.AwayStats, error) {
	snaps, _, err := e.load(ctx, days)
	if err != nil {
		return nil, err
	}

	result := &models.AwayStats{PeriodDays: days}
	perClient := make(map[string]*models.AwayUser)

	for i := range snaps {
		for j := range snaps[i].Records {
			r := &snaps[i].Records[j]
			result.Samples++

			u := perClient[r.ClientID]
			if u == nil {
				u = &models.AwayUser{ClientID: r.ClientID}
				perClient[r.ClientID] = u
			}

			u.Nickname = r.Nickname
			u.Samples++

			if r.Away {
				result.AwaySamples++
				u.AwaySamples++

				if r.AwayMessage != "" {
					u.LastMessage = r.AwayMessage
				}
			}
		}
	}

	if result.Samples > 0 {
		result.AwayPct = 100 * float64(result.AwaySamples) / float64(result.Samples)
	}

	for _, u := range perClient {
		if u.AwaySamples == 0 {
			continue
		}

		u.AwayPct = 100 * float64(u.AwaySamples) / float64(u.Samples)
		result.TopAway = append(result.TopAway, *u)
	}

	sort.Slice(result.TopAway, func(a, b int) bool {
		if result.TopAway[a].AwaySamples != result.TopAway[b].AwaySamples {
			return result.TopAway[a].AwaySamples > result.TopAway[b].AwaySamples
		}

		return result.TopAway[a].ClientID < result.TopAway[b].ClientID
	})

	result.TopAway = truncate(result.TopAway, limit)

	return result, nil
}

// MuteStats reports what share of samples had muted input, muted output, or
// an active recording.
func (e *Engine) MuteStats(ctx context.Context, days int) (*models.MuteStats, error) {
	snaps, _, err := e.load(ctx, days)
	if err != nil {
		return nil, err
	}

	result := &models.MuteStats{PeriodDays: days}

	var inMuted, outMuted, recording int

	for i := range snaps {
		for j := range snaps[i].Records {
			r := &snaps[i].Records[j]
			result.Samples++

			if r.InputMuted {
				inMuted++
			}

			if r.OutputMuted {
				outMuted++
			}

			if r.Recording {
				recording++
			}
		}
	}

	if result.Samples > 0 {
		n := float64(result.Samples)
		result.InputMutedPct = 100 * float64(inMuted) / n
		result.OutputMutedPct = 100 * float64(outMuted) / n
		result.RecordingPct = 100 * float64(recording) / n
	}

	return result, nil
}

// ServerGroupStats counts distinct members and samples per server group.
func (e *Engine) ServerGroupStats(ctx context.Context, days int) ([]models.GroupStat, error) {
	snaps, _, err := e.load(ctx, days)
	if err != nil {
		return nil, err
	}

	samples := make(map[string]int)
	members := make(map[string]map[string]struct{})

	for i := range snaps {
		for j := range snaps[i].Records {
			r := &snaps[i].Records[j]

			for _, g := range r.ServerGroups {
				samples[g]++

				if members[g] == nil {
					members[g] = make(map[string]struct{})
				}

				members[g][r.ClientID] = struct{}{}
			}
		}
	}

	out := make([]models.GroupStat, 0, len(samples))

	for groupID, count := range samples {
		out = append(out, models.GroupStat{
			GroupID:       groupID,
			UniqueMembers: len(members[groupID]),
			Samples:       count,
		})
	}

	sort.Slice(out, func(a, b int) bool {
		if out[a].UniqueMembers != out[b].UniqueMembers {
			return out[a].UniqueMembers > out[b].UniqueMembers
		}

		return out[a].GroupID < out[b].GroupID
	})

	return out, nil
}

// UserStats builds the per-client detail report, or nil when the client has
// never been seen in the window.
func (e *Engine) UserStats(ctx context.Context, clientID string, days int) (*models.UserStats, error) {
	snaps, byClient, err := e.load(ctx, days)
	if err != nil {
		return nil, err
	}

	sess := byClient[clientID]
	if len(sess) == 0 {
		return nil, nil
	}

	u := &models.UserStats{
		ClientID:      clientID,
		Nickname:      sess[len(sess)-1].Nickname,
		FirstSeen:     sess[0].Start,
		LastSeen:      sess[len(sess)-1].End,
		ActivityByDay: make(map[int]int),
	}

	var idleTotal int64

	for _, s := range sess {
		u.Samples += s.Samples
		u.OnlineSeconds += s.OnlineSeconds
		idleTotal += s.IdleMs
	}

	u.OnlineHours = float64(u.OnlineSeconds) / 3600

	if u.Samples > 0 {
		u.AvgIdleMs = idleTotal / int64(u.Samples)
	}

	names, err := e.store.ChannelNames(ctx)
	if err != nil {
		return nil, err
	}

	channelVisits := make(map[string]int)

	for i := range snaps {
		ts := snaps[i].Snapshot.Timestamp

		for j := range snaps[i].Records {
			r := &snaps[i].Records[j]
			if r.ClientID != clientID {
				continue
			}

			channelVisits[r.ChannelID]++
			u.ActivityByDay[int(time.Unix(ts, 0).UTC().Weekday())]++
		}
	}

	for channelID, count := range channelVisits {
		u.FavoriteChannels = append(u.FavoriteChannels, models.ChannelStat{
			ChannelID:   channelID,
			ChannelName: names[channelID],
			Visits:      count,
			UniqueUsers: 1,
		})
	}

	sort.Slice(u.FavoriteChannels, func(a, b int) bool {
		if u.FavoriteChannels[a].Visits != u.FavoriteChannels[b].Visits {
			return u.FavoriteChannels[a].Visits > u.FavoriteChannels[b].Visits
		}

		return u.FavoriteChannels[a].ChannelID < u.FavoriteChannels[b].ChannelID
	})

	return u, nil
}

func truncate[T any](in []T, limit int) []T {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}

	return in
}
