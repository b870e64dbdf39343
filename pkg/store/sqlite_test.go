package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/voiceradar/pkg/logger"
	"github.com/carverauto/voiceradar/pkg/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")

	s, err := OpenSQLite(context.Background(), path, logger.NewTestLogger())
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func batchAt(ts int64, clients ...string) *models.PresenceBatch {
	b := &models.PresenceBatch{Timestamp: ts}
	for _, c := range clients {
		b.Records = append(b.Records, models.PresenceRecord{
			ClientID:  c,
			Nickname:  "nick-" + c,
			ChannelID: "1",
			IdleMs:    100,
		})
	}

	return b
}

func TestAppendQueryRangeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batch := &models.PresenceBatch{
		Timestamp: 1000,
		Records: []models.PresenceRecord{
			{
				ClientID:     "uid-a",
				Nickname:     "alice",
				ChannelID:    "2",
				IdleMs:       5000,
				Away:         true,
				AwayMessage:  "brb",
				InputMuted:   true,
				ServerGroups: []string{"6", "7"},
			},
			{ClientID: "uid-b", Nickname: "bob", ChannelID: "3"},
		},
	}

	id, err := s.Append(ctx, batch)
	require.NoError(t, err)
	assert.Positive(t, id)

	snaps, err := s.QueryRange(ctx, 0, 2000)
	require.NoError(t, err)
	require.Len(t, snaps, 1)

	assert.Equal(t, int64(1000), snaps[0].Snapshot.Timestamp)
	assert.Equal(t, 2, snaps[0].Snapshot.TotalClients)
	require.Len(t, snaps[0].Records, 2)

	alice := snaps[0].Records[0]
	assert.Equal(t, "uid-a", alice.ClientID)
	assert.Equal(t, "alice", alice.Nickname)
	assert.Equal(t, "2", alice.ChannelID)
	assert.Equal(t, int64(5000), alice.IdleMs)
	assert.True(t, alice.Away)
	assert.Equal(t, "brb", alice.AwayMessage)
	assert.True(t, alice.InputMuted)
	assert.False(t, alice.OutputMuted)
	assert.Equal(t, []string{"6", "7"}, alice.ServerGroups)
}

func TestAppendRejectsTimestampRegression(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, batchAt(1000, "uid-a"))
	require.NoError(t, err)

	_, err = s.Append(ctx, batchAt(999, "uid-a"))
	require.ErrorIs(t, err, ErrTimestampRegression)

	// Equal timestamps are allowed; only regression is rejected.
	_, err = s.Append(ctx, batchAt(1000, "uid-b"))
	require.NoError(t, err)

	snaps, err := s.QueryRange(ctx, 0, 2000)
	require.NoError(t, err)
	assert.Len(t, snaps, 2, "rejected batch must not be stored")
}

func TestAppendDuplicateClientFirstWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batch := &models.PresenceBatch{
		Timestamp: 1000,
		Records: []models.PresenceRecord{
			{ClientID: "uid-x", Nickname: "first", ChannelID: "1"},
			{ClientID: "uid-x", Nickname: "second", ChannelID: "2"},
		},
	}

	_, err := s.Append(ctx, batch)
	require.NoError(t, err)

	snaps, err := s.QueryRange(ctx, 0, 2000)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.Len(t, snaps[0].Records, 1)
	assert.Equal(t, "first", snaps[0].Records[0].Nickname)
}

func TestPruneExactness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, ts := range []int64{100, 200, 300, 400} {
		_, err := s.Append(ctx, batchAt(ts, "uid-a"))
		require.NoError(t, err)
	}

	n, err := s.Prune(ctx, 300)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "strictly older than cutoff")

	snaps, err := s.QueryRange(ctx, 0, 1000)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, int64(300), snaps[0].Snapshot.Timestamp, "cutoff snapshot survives")
	assert.Equal(t, int64(400), snaps[1].Snapshot.Timestamp)

	// Presence rows cascade with their snapshots.
	first, err := s.FirstSeen(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(300), first["uid-a"])
}

func TestLatestSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	latest, err := s.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest, "empty store has no latest snapshot")

	_, err = s.Append(ctx, batchAt(100, "uid-a"))
	require.NoError(t, err)
	_, err = s.Append(ctx, batchAt(200, "uid-a", "uid-b"))
	require.NoError(t, err)

	latest, err = s.LatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(200), latest.Snapshot.Timestamp)
	assert.Len(t, latest.Records, 2)
}

func TestFirstSeen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, batchAt(100, "uid-a"))
	require.NoError(t, err)
	_, err = s.Append(ctx, batchAt(200, "uid-a", "uid-b"))
	require.NoError(t, err)

	first, err := s.FirstSeen(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"uid-a": 100, "uid-b": 200}, first)
}

func TestEarliestTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ts, err := s.EarliestTimestamp(ctx)
	require.NoError(t, err)
	assert.Zero(t, ts)

	_, err = s.Append(ctx, batchAt(500, "uid-a"))
	require.NoError(t, err)
	_, err = s.Append(ctx, batchAt(600, "uid-a"))
	require.NoError(t, err)

	ts, err = s.EarliestTimestamp(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(500), ts)
}

func TestChannelCache(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.UpsertChannels(ctx, []models.ChannelInfo{
		{ChannelID: "1", Name: "Lobby"},
		{ChannelID: "2", Name: "Gaming"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Renames overwrite.
	_, err = s.UpsertChannels(ctx, []models.ChannelInfo{{ChannelID: "2", Name: "AFK"}})
	require.NoError(t, err)

	names, err := s.ChannelNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"1": "Lobby", "2": "AFK"}, names)
}

func TestMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.GetMetadata(ctx, MetaPollInterval)
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.SetMetadata(ctx, MetaPollInterval, "30"))
	require.NoError(t, s.SetMetadata(ctx, MetaPollInterval, "60"))

	v, err = s.GetMetadata(ctx, MetaPollInterval)
	require.NoError(t, err)
	assert.Equal(t, "60", v)
}

func TestSchemaVersionGate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := OpenSQLite(ctx, path, logger.NewTestLogger())
	require.NoError(t, err)

	v, err := s.GetMetadata(ctx, MetaSchemaVersion)
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	// Simulate a database written by a newer binary.
	require.NoError(t, s.SetMetadata(ctx, MetaSchemaVersion, "99"))
	require.NoError(t, s.Close())

	_, err = OpenSQLite(ctx, path, logger.NewTestLogger())
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

// appendOnlyStub mimics a backend that only implements the write tier.
type appendOnlyStub struct{ Appender }

func TestAsReader(t *testing.T) {
	s := newTestStore(t)

	reader, err := AsReader(s)
	require.NoError(t, err)
	assert.NotNil(t, reader)

	_, err = AsReader(appendOnlyStub{Appender: s})
	require.ErrorIs(t, err, ErrUnsupportedBackend)
}

func TestStoreConfigValidate(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.Equal(t, "voiceradar.db", cfg.Path)

	cfg = &Config{Backend: "clickhouse"}
	require.Error(t, cfg.Validate())

	cfg = &Config{Backend: BackendPostgres}
	require.Error(t, cfg.Validate(), "postgres requires connection settings")

	cfg = &Config{Backend: BackendPostgres, Postgres: &PostgresConfig{Host: "localhost", Database: "voiceradar"}}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, "disable", cfg.Postgres.SSLMode)
}
