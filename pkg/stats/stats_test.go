package stats

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/voiceradar/pkg/logger"
	"github.com/carverauto/voiceradar/pkg/models"
	"github.com/carverauto/voiceradar/pkg/store"
)

var testNow = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, *store.SQLiteStore) {
	t.Helper()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "stats.db")

	s, err := store.OpenSQLite(ctx, path, logger.NewTestLogger())
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.SetMetadata(ctx, store.MetaPollInterval, "30"))

	e := NewEngine(s, time.Minute, logger.NewTestLogger())
	e.now = func() time.Time { return testNow }

	return e, s
}

func seed(t *testing.T, s *store.SQLiteStore, batches ...*models.PresenceBatch) {
	t.Helper()

	for _, b := range batches {
		_, err := s.Append(context.Background(), b)
		require.NoError(t, err)
	}
}

func rec(clientID, channelID string) models.PresenceRecord {
	return models.PresenceRecord{
		ClientID:  clientID,
		Nickname:  "nick-" + clientID,
		ChannelID: channelID,
	}
}

func TestTopUsersOrderingAndTies(t *testing.T) {
	e, s := newTestEngine(t)
	base := testNow.Add(-time.Hour).Unix()

	// uid-a and uid-b have identical presence; uid-c has more.
	for i := int64(0); i < 4; i++ {
		records := []models.PresenceRecord{rec("uid-c", "1")}
		if i < 2 {
			records = append(records, rec("uid-a", "1"), rec("uid-b", "1"))
		}

		seed(t, s, &models.PresenceBatch{Timestamp: base + i*30, Records: records})
	}

	users, err := e.TopUsers(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, users, 3)

	assert.Equal(t, "uid-c", users[0].ClientID)
	assert.Equal(t, "uid-a", users[1].ClientID, "equal durations break ties by client id")
	assert.Equal(t, "uid-b", users[2].ClientID)
	assert.Equal(t, users[1].OnlineSeconds, users[2].OnlineSeconds)
	assert.Equal(t, 4, users[0].Samples)
}

func TestTopUsersLimit(t *testing.T) {
	e, s := newTestEngine(t)
	base := testNow.Add(-time.Hour).Unix()

	seed(t, s, &models.PresenceBatch{
		Timestamp: base,
		Records:   []models.PresenceRecord{rec("uid-a", "1"), rec("uid-b", "1"), rec("uid-c", "1")},
	})

	users, err := e.TopUsers(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestHourlyHeatmap(t *testing.T) {
	e, s := newTestEngine(t)

	at := func(hour int, clients ...models.PresenceRecord) *models.PresenceBatch {
		ts := time.Date(2026, 1, 10, hour, 0, 0, 0, time.UTC).Unix()
		return &models.PresenceBatch{Timestamp: ts, Records: clients}
	}

	seed(t, s,
		at(9, rec("uid-a", "1"), rec("uid-b", "1")),
		at(9, rec("uid-a", "1"), rec("uid-b", "1"), rec("uid-c", "1")),
		at(10, rec("uid-a", "1")),
	)

	buckets, err := e.HourlyHeatmap(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, buckets, 24)

	assert.InDelta(t, 2.5, buckets[9].AvgClients, 0.001)
	assert.Equal(t, 2, buckets[9].Samples)
	assert.InDelta(t, 1.0, buckets[10].AvgClients, 0.001)
	assert.Zero(t, buckets[3].Samples)
}

func TestDailyActivity(t *testing.T) {
	e, s := newTestEngine(t)

	// 2026-01-09 is a Friday, 2026-01-10 a Saturday.
	friday := time.Date(2026, 1, 9, 12, 0, 0, 0, time.UTC).Unix()
	saturday := time.Date(2026, 1, 10, 11, 0, 0, 0, time.UTC).Unix()

	seed(t, s,
		&models.PresenceBatch{Timestamp: friday, Records: []models.PresenceRecord{rec("uid-a", "1"), rec("uid-b", "1")}},
		&models.PresenceBatch{Timestamp: saturday, Records: []models.PresenceRecord{rec("uid-a", "1")}},
	)

	activity, err := e.DailyActivity(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, activity, 7)

	assert.Equal(t, "Friday", activity[5].DayName)
	assert.InDelta(t, 2.0, activity[5].AvgClients, 0.001)
	assert.InDelta(t, 1.0, activity[6].AvgClients, 0.001)
}

func TestIdleRanking(t *testing.T) {
	e, s := newTestEngine(t)
	base := testNow.Add(-time.Hour).Unix()

	idle := func(clientID string, idleMs int64) models.PresenceRecord {
		r := rec(clientID, "1")
		r.IdleMs = idleMs

		return r
	}

	seed(t, s,
		&models.PresenceBatch{Timestamp: base, Records: []models.PresenceRecord{idle("uid-a", 1000), idle("uid-b", 500)}},
		&models.PresenceBatch{Timestamp: base + 30, Records: []models.PresenceRecord{idle("uid-a", 31000), idle("uid-b", 30500)}},
	)

	ranking, err := e.IdleRanking(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, ranking, 2)

	assert.Equal(t, "uid-a", ranking[0].ClientID)
	assert.Greater(t, ranking[0].IdleMs, ranking[1].IdleMs)
}

func TestChannelPopularity(t *testing.T) {
	e, s := newTestEngine(t)
	base := testNow.Add(-time.Hour).Unix()

	_, err := s.UpsertChannels(context.Background(), []models.ChannelInfo{
		{ChannelID: "1", Name: "Lobby"},
		{ChannelID: "2", Name: "Gaming"},
	})
	require.NoError(t, err)

	seed(t, s,
		&models.PresenceBatch{Timestamp: base, Records: []models.PresenceRecord{rec("uid-a", "1"), rec("uid-b", "2")}},
		&models.PresenceBatch{Timestamp: base + 30, Records: []models.PresenceRecord{rec("uid-a", "2"), rec("uid-b", "2")}},
	)

	channels, err := e.ChannelPopularity(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, channels, 2)

	assert.Equal(t, "2", channels[0].ChannelID)
	assert.Equal(t, "Gaming", channels[0].ChannelName)
	assert.Equal(t, 3, channels[0].Visits)
	assert.Equal(t, 2, channels[0].UniqueUsers)
	assert.Equal(t, "Lobby", channels[1].ChannelName)
	assert.Equal(t, 1, channels[1].Visits)
}

func TestGrowth(t *testing.T) {
	e, s := newTestEngine(t)

	old := testNow.Add(-72 * time.Hour).Unix()
	recent := testNow.Add(-time.Hour).Unix()

	seed(t, s,
		&models.PresenceBatch{Timestamp: old, Records: []models.PresenceRecord{rec("uid-old", "1")}},
		&models.PresenceBatch{Timestamp: recent, Records: []models.PresenceRecord{rec("uid-old", "1"), rec("uid-new", "1")}},
	)

	g, err := e.Growth(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 2, g.TotalUnique)
	assert.Equal(t, 1, g.NewUsers)
	assert.Equal(t, 1, g.ReturningUsers)
	assert.InDelta(t, 50.0, g.NewUserPct, 0.001)
}

func TestChannelHoppers(t *testing.T) {
	e, s := newTestEngine(t)
	base := testNow.Add(-time.Hour).Unix()

	seed(t, s,
		&models.PresenceBatch{Timestamp: base, Records: []models.PresenceRecord{rec("uid-a", "1"), rec("uid-b", "1")}},
		&models.PresenceBatch{Timestamp: base + 30, Records: []models.PresenceRecord{rec("uid-a", "2"), rec("uid-b", "1")}},
		&models.PresenceBatch{Timestamp: base + 60, Records: []models.PresenceRecord{rec("uid-a", "3"), rec("uid-b", "1")}},
	)

	hoppers, err := e.ChannelHoppers(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, hoppers, 2)

	assert.Equal(t, "uid-a", hoppers[0].ClientID)
	assert.Equal(t, 2, hoppers[0].Hops)
	assert.Equal(t, 0, hoppers[1].Hops)
}

func TestConnectionPatterns(t *testing.T) {
	e, s := newTestEngine(t)
	base := testNow.Add(-2 * time.Hour).Unix()

	// uid-a: two sessions separated by a gap above grace (60s).
	seed(t, s,
		&models.PresenceBatch{Timestamp: base, Records: []models.PresenceRecord{rec("uid-a", "1")}},
		&models.PresenceBatch{Timestamp: base + 30, Records: []models.PresenceRecord{rec("uid-a", "1")}},
		&models.PresenceBatch{Timestamp: base + 3600, Records: []models.PresenceRecord{rec("uid-a", "1")}},
	)

	patterns, err := e.ConnectionPatterns(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, patterns, 1)

	assert.Equal(t, 2, patterns[0].Sessions)
	assert.Positive(t, patterns[0].MeanSessionSeconds)
}

func TestSummaryAndPeakTimes(t *testing.T) {
	e, s := newTestEngine(t)
	base := testNow.Add(-time.Hour).Unix()

	seed(t, s,
		&models.PresenceBatch{Timestamp: base, Records: []models.PresenceRecord{rec("uid-a", "1")}},
		&models.PresenceBatch{Timestamp: base + 30, Records: []models.PresenceRecord{rec("uid-a", "1"), rec("uid-b", "1"), rec("uid-c", "1")}},
		&models.PresenceBatch{Timestamp: base + 60, Records: []models.PresenceRecord{rec("uid-a", "1"), rec("uid-b", "1")}},
	)

	summary, err := e.Summary(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.TotalSnapshots)
	assert.Equal(t, 3, summary.MaxOnline)
	assert.Equal(t, 3, summary.UniqueUsers)
	assert.InDelta(t, 2.0, summary.AvgOnline, 0.001)

	peaks, err := e.PeakTimes(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Len(t, peaks, 2)

	assert.Equal(t, base+30, peaks[0].Timestamp)
	assert.Equal(t, 3, peaks[0].TotalClients)
	assert.Equal(t, base+60, peaks[1].Timestamp)
}

func TestOnlineNow(t *testing.T) {
	e, s := newTestEngine(t)

	online, err := e.OnlineNow(context.Background())
	require.NoError(t, err)
	assert.Empty(t, online)

	base := testNow.Add(-time.Hour).Unix()

	seed(t, s,
		&models.PresenceBatch{Timestamp: base, Records: []models.PresenceRecord{rec("uid-old", "1")}},
		&models.PresenceBatch{Timestamp: base + 30, Records: []models.PresenceRecord{rec("uid-b", "2"), rec("uid-a", "1")}},
	)

	online, err = e.OnlineNow(context.Background())
	require.NoError(t, err)
	require.Len(t, online, 2)

	assert.Equal(t, "uid-a", online[0].ClientID, "ordered by client id")
	assert.Equal(t, base+30, online[0].SnapshotTime)
}

func TestAwayStats(t *testing.T) {
	e, s := newTestEngine(t)
	base := testNow.Add(-time.Hour).Unix()

	away := rec("uid-a", "1")
	away.Away = true
	away.AwayMessage = "lunch"

	seed(t, s,
		&models.PresenceBatch{Timestamp: base, Records: []models.PresenceRecord{away, rec("uid-b", "1")}},
		&models.PresenceBatch{Timestamp: base + 30, Records: []models.PresenceRecord{rec("uid-a", "1"), rec("uid-b", "1")}},
	)

	stats, err := e.AwayStats(context.Background(), 1, 0)
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Samples)
	assert.Equal(t, 1, stats.AwaySamples)
	assert.InDelta(t, 25.0, stats.AwayPct, 0.001)
	require.Len(t, stats.TopAway, 1)
	assert.Equal(t, "uid-a", stats.TopAway[0].ClientID)
	assert.Equal(t, "lunch", stats.TopAway[0].LastMessage)
	assert.InDelta(t, 50.0, stats.TopAway[0].AwayPct, 0.001)
}

func TestMuteStats(t *testing.T) {
	e, s := newTestEngine(t)
	base := testNow.Add(-time.Hour).Unix()

	muted := rec("uid-a", "1")
	muted.InputMuted = true
	muted.OutputMuted = true

	recording := rec("uid-b", "1")
	recording.Recording = true

	seed(t, s, &models.PresenceBatch{
		Timestamp: base,
		Records:   []models.PresenceRecord{muted, recording, rec("uid-c", "1"), rec("uid-d", "1")},
	})

	stats, err := e.MuteStats(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Samples)
	assert.InDelta(t, 25.0, stats.InputMutedPct, 0.001)
	assert.InDelta(t, 25.0, stats.OutputMutedPct, 0.001)
	assert.InDelta(t, 25.0, stats.RecordingPct, 0.001)
}

func TestServerGroupStats(t *testing.T) {
	e, s := newTestEngine(t)
	base := testNow.Add(-time.Hour).Unix()

	admin := rec("uid-a", "1")
	admin.ServerGroups = []string{"6", "7"}

	member := rec("uid-b", "1")
	member.ServerGroups = []string{"7"}

	seed(t, s, &models.PresenceBatch{Timestamp: base, Records: []models.PresenceRecord{admin, member}})

	groups, err := e.ServerGroupStats(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, groups, 2)

	assert.Equal(t, "7", groups[0].GroupID)
	assert.Equal(t, 2, groups[0].UniqueMembers)
	assert.Equal(t, "6", groups[1].GroupID)
	assert.Equal(t, 1, groups[1].UniqueMembers)
}

func TestUserStats(t *testing.T) {
	e, s := newTestEngine(t)
	base := testNow.Add(-time.Hour).Unix()

	seed(t, s,
		&models.PresenceBatch{Timestamp: base, Records: []models.PresenceRecord{rec("uid-a", "1")}},
		&models.PresenceBatch{Timestamp: base + 30, Records: []models.PresenceRecord{rec("uid-a", "2")}},
		&models.PresenceBatch{Timestamp: base + 60, Records: []models.PresenceRecord{rec("uid-a", "2")}},
	)

	u, err := e.UserStats(context.Background(), "uid-a", 1)
	require.NoError(t, err)
	require.NotNil(t, u)

	assert.Equal(t, "nick-uid-a", u.Nickname)
	assert.Equal(t, 3, u.Samples)
	assert.Equal(t, base, u.FirstSeen)
	assert.Equal(t, base+60, u.LastSeen)
	require.NotEmpty(t, u.FavoriteChannels)
	assert.Equal(t, "2", u.FavoriteChannels[0].ChannelID)
	assert.Equal(t, 2, u.FavoriteChannels[0].Visits)

	missing, err := e.UserStats(context.Background(), "uid-nobody", 1)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestEngagementBandsAndOrdering(t *testing.T) {
	e, s := newTestEngine(t)
	base := testNow.Add(-23 * time.Hour).Unix()

	// uid-heavy is online all day across channels; uid-light shows up once.
	for i := int64(0); i < 24; i++ {
		channel := "1"
		if i%2 == 0 {
			channel = "2"
		}

		records := []models.PresenceRecord{rec("uid-heavy", channel)}
		if i == 3 {
			light := rec("uid-light", "1")
			light.IdleMs = 999999
			records = append(records, light)
		}

		seed(t, s, &models.PresenceBatch{Timestamp: base + i*3600, Records: records})
	}

	users, summary, err := e.Engagement(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, users, 2)

	assert.Equal(t, "uid-heavy", users[0].ClientID)
	assert.Greater(t, users[0].Score, users[1].Score)
	assert.GreaterOrEqual(t, users[0].Score, 0)
	assert.LessOrEqual(t, users[0].Score, 100)
	assert.Equal(t, models.BandCasual, users[1].Band)

	assert.Equal(t, 2, summary.PowerUsers+summary.RegularUsers+summary.CasualUsers)
	assert.Positive(t, summary.AvgScore)
}

func TestWindowUnboundedUsesEarliestSnapshot(t *testing.T) {
	e, s := newTestEngine(t)

	old := testNow.Add(-30 * 24 * time.Hour).Unix()

	seed(t, s, &models.PresenceBatch{Timestamp: old, Records: []models.PresenceRecord{rec("uid-ancient", "1")}})

	users, err := e.TopUsers(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, users, 1, "unbounded window reaches the earliest snapshot")

	users, err = e.TopUsers(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Empty(t, users, "bounded window excludes old snapshots")
}
