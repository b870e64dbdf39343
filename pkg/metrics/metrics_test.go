package metrics

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/voiceradar/pkg/logger"
	"github.com/carverauto/voiceradar/pkg/models"
	"github.com/carverauto/voiceradar/pkg/stats"
	"github.com/carverauto/voiceradar/pkg/store"
)

func TestCollectorExportsGauges(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "metrics.db")

	s, err := store.OpenSQLite(ctx, path, logger.NewTestLogger())
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	now := time.Now().UTC().Unix()

	_, err = s.Append(ctx, &models.PresenceBatch{
		Timestamp: now - 30,
		Records: []models.PresenceRecord{
			{ClientID: "uid-a", Nickname: "alice", ChannelID: "1"},
			{ClientID: "uid-b", Nickname: "bob", ChannelID: "1"},
		},
	})
	require.NoError(t, err)

	engine := stats.NewEngine(s, time.Minute, logger.NewTestLogger())
	collector := NewCollector(engine, s, logger.NewTestLogger())

	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(collector))

	expected := strings.NewReader(`
# HELP voiceradar_online_users Clients in the most recent snapshot
# TYPE voiceradar_online_users gauge
voiceradar_online_users 2
`)

	assert.NoError(t, testutil.GatherAndCompare(registry, expected, "voiceradar_online_users"))

	families, err := registry.Gather()
	require.NoError(t, err)

	names := make(map[string]struct{}, len(families))
	for _, f := range families {
		names[f.GetName()] = struct{}{}
	}

	assert.Contains(t, names, "voiceradar_unique_users_24h")
	assert.Contains(t, names, "voiceradar_peak_online_users_24h")
	assert.Contains(t, names, "voiceradar_engagement_band_users")
	assert.Contains(t, names, "voiceradar_db_size_bytes")
}
