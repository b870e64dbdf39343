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

// Package sessions reconstructs continuous per-client presence from discrete
// snapshots. Reconstruct is a pure function: the same input always yields the
// same sessions, and nothing here touches storage.
package sessions

import (
	"sort"
	"time"

	"github.com/carverauto/voiceradar/pkg/models"
)

// sample is one client observation flattened out of a snapshot.
type sample struct {
	timestamp int64
	nickname  string
	channelID string
	idleMs    int64
}

// Reconstruct derives sessions from snapshots ordered by timestamp.
//
// A client's session continues across consecutive snapshots, and across
// absences no longer than grace. A gap above grace closes the session at the
// last-seen sample and opens a new one at reappearance.
//
// Online time: interior samples are worth one interval each, edge samples a
// half-interval, except that a session touching the first or last snapshot
// of the input keeps the full interval there. Evenly spaced samples with no
// gaps therefore attribute exactly samples times interval.
//
// Idle counters from the source grow until the client does something, then
// reset near zero. A sample-to-sample decrease banks the previous peak and
// restarts accumulation; the total is clamped to the session's online time.
//
// A grace of zero or less defaults to twice the interval.
func Reconstruct(snaps []models.SnapshotRecords, interval, grace time.Duration) map[string][]models.Session {
	if grace <= 0 {
		grace = 2 * interval
	}

	if len(snaps) == 0 {
		return map[string][]models.Session{}
	}

	windowStart := snaps[0].Snapshot.Timestamp
	windowEnd := snaps[len(snaps)-1].Snapshot.Timestamp

	byClient := make(map[string][]sample)

	for i := range snaps {
		ts := snaps[i].Snapshot.Timestamp
		for j := range snaps[i].Records {
			r := &snaps[i].Records[j]
			byClient[r.ClientID] = append(byClient[r.ClientID], sample{
				timestamp: ts,
				nickname:  r.Nickname,
				channelID: r.ChannelID,
				idleMs:    r.IdleMs,
			})
		}
	}

	graceSec := int64(grace / time.Second)
	out := make(map[string][]models.Session, len(byClient))

	for clientID, samples := range byClient {
		sort.Slice(samples, func(a, b int) bool { return samples[a].timestamp < samples[b].timestamp })

		var clientSessions []models.Session

		start := 0

		for i := 1; i <= len(samples); i++ {
			if i < len(samples) && samples[i].timestamp-samples[i-1].timestamp <= graceSec {
				continue
			}

			clientSessions = append(clientSessions,
				buildSession(clientID, samples[start:i], interval, windowStart, windowEnd))
			start = i
		}

		out[clientID] = clientSessions
	}

	return out
}

func buildSession(clientID string, samples []sample, interval time.Duration, windowStart, windowEnd int64) models.Session {
	first := samples[0]
	last := samples[len(samples)-1]

	s := models.Session{
		ClientID: clientID,
		Nickname: last.nickname,
		Start:    first.timestamp,
		End:      last.timestamp,
		Samples:  len(samples),
	}

	s.OnlineSeconds = onlineSeconds(samples, interval, windowStart, windowEnd)
	s.IdleMs = idleAccumulation(samples, s.OnlineSeconds)
	s.Channels, s.Hops = channelVisits(samples)

	return s
}

func onlineSeconds(samples []sample, interval time.Duration, windowStart, windowEnd int64) int64 {
	intervalSec := int64(interval / time.Second)
	half := float64(intervalSec) / 2

	firstContrib := half
	if samples[0].timestamp == windowStart {
		firstContrib = float64(intervalSec)
	}

	lastContrib := half
	if samples[len(samples)-1].timestamp == windowEnd {
		lastContrib = float64(intervalSec)
	}

	if len(samples) == 1 {
		// A lone sample is worth the larger of its edge contributions.
		if firstContrib > lastContrib {
			return int64(firstContrib)
		}

		return int64(lastContrib)
	}

	interior := int64(len(samples)-2) * intervalSec

	return interior + int64(firstContrib+lastContrib)
}

// idleAccumulation treats the idle counter as monotonic within the session
// and a decrease as an activity reset. The pre-reset peak is banked and
// accumulation restarts from the post-reset value.
func idleAccumulation(samples []sample, onlineSeconds int64) int64 {
	banked := int64(0)
	current := samples[0].idleMs

	for _, smp := range samples[1:] {
		if smp.idleMs < current {
			banked += current
		}

		current = smp.idleMs
	}

	total := banked + current

	if limit := onlineSeconds * 1000; total > limit {
		total = limit
	}

	if total < 0 {
		total = 0
	}

	return total
}

func channelVisits(samples []sample) ([]models.ChannelVisit, int) {
	visits := []models.ChannelVisit{{
		ChannelID: samples[0].channelID,
		EnteredAt: samples[0].timestamp,
	}}

	for _, smp := range samples[1:] {
		if smp.channelID != visits[len(visits)-1].ChannelID {
			visits = append(visits, models.ChannelVisit{
				ChannelID: smp.channelID,
				EnteredAt: smp.timestamp,
			})
		}
	}

	return visits, len(visits) - 1
}
