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

package stats

import (
	"context"
	"math"
	"sort"

	"github.com/carverauto/voiceradar/pkg/models"
)

// Engagement scoring weights. The score is a bounded composite of online
// volume, day-to-day consistency, non-idle share, and channel diversity.
const (
	weightOnline      = 0.4
	weightConsistency = 0.3
	weightActive      = 0.2
	weightDiversity   = 0.1

	// Full marks for online volume at two hours per windowed day, and for
	// diversity at five distinct channels.
	fullOnlineHoursPerDay = 2.0
	fullDiversityChannels = 5.0

	powerThreshold   = 80
	regularThreshold = 50
)

// Engagement scores every client in the window from 0 to 100 and buckets
// them into power, regular, and casual bands. Results are ordered by score
// descending, ties broken by client id ascending.
func (e *Engine) Engagement(ctx context.Context, days, limit int) ([]models.EngagementUser, *models.EngagementSummary, error) {
	_, byClient, err := e.load(ctx, days)
	if err != nil {
		return nil, nil, err
	}

	windowDays := days
	if windowDays <= 0 {
		from, to, err := e.window(ctx, days)
		if err != nil {
			return nil, nil, err
		}

		windowDays = int((to-from)/secondsPerDay) + 1
	}

	users := make([]models.EngagementUser, 0, len(byClient))
	summary := &models.EngagementSummary{}

	var scoreSum int

	for clientID, sess := range byClient {
		if len(sess) == 0 {
			continue
		}

		u := scoreClient(clientID, sess, windowDays)

		switch u.Band {
		case models.BandPower:
			summary.PowerUsers++
		case models.BandRegular:
			summary.RegularUsers++
		default:
			summary.CasualUsers++
		}

		scoreSum += u.Score

		users = append(users, u)
	}

	if len(users) > 0 {
		summary.AvgScore = float64(scoreSum) / float64(len(users))
	}

	sort.Slice(users, func(a, b int) bool {
		if users[a].Score != users[b].Score {
			return users[a].Score > users[b].Score
		}

		return users[a].ClientID < users[b].ClientID
	})

	return truncate(users, limit), summary, nil
}

func scoreClient(clientID string, sess []models.Session, windowDays int) models.EngagementUser {
	var (
		onlineSeconds int64
		idleMs        int64
	)

	activeDays := make(map[int64]struct{})
	channels := make(map[string]struct{})

	for _, s := range sess {
		onlineSeconds += s.OnlineSeconds
		idleMs += s.IdleMs

		for d := s.Start / secondsPerDay; d <= s.End/secondsPerDay; d++ {
			activeDays[d] = struct{}{}
		}

		for _, v := range s.Channels {
			channels[v.ChannelID] = struct{}{}
		}
	}

	onlineHours := float64(onlineSeconds) / 3600

	onlineNorm := clamp01(onlineHours / (fullOnlineHoursPerDay * float64(windowDays)))
	consistency := clamp01(float64(len(activeDays)) / float64(windowDays))

	activeShare := 1.0
	if onlineSeconds > 0 {
		activeShare = clamp01(1 - float64(idleMs)/float64(onlineSeconds*msPerSecond))
	}

	diversity := clamp01(float64(len(channels)) / fullDiversityChannels)

	score := int(math.Round(100 * (weightOnline*onlineNorm +
		weightConsistency*consistency +
		weightActive*activeShare +
		weightDiversity*diversity)))

	if score > 100 {
		score = 100
	}

	if score < 0 {
		score = 0
	}

	return models.EngagementUser{
		ClientID:    clientID,
		Nickname:    sess[len(sess)-1].Nickname,
		Score:       score,
		Band:        band(score),
		OnlineHours: onlineHours,
		ActiveDays:  len(activeDays),
		Channels:    len(channels),
	}
}

func band(score int) string {
	switch {
	case score >= powerThreshold:
		return models.BandPower
	case score >= regularThreshold:
		return models.BandRegular
	default:
		return models.BandCasual
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}

	if v > 1 {
		return 1
	}

	return v
}
