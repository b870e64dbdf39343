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

// Package store persists presence snapshots. The sqlite backend supports the
// full read/write surface; the postgres backend is an append-only archive.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/carverauto/voiceradar/pkg/logger"
	"github.com/carverauto/voiceradar/pkg/models"
)

// Metadata keys written by the poller and read by the stats engine.
const (
	MetaSchemaVersion = "schema_version"
	MetaPollInterval  = "poll_interval_seconds"
)

// Appender is the minimal write capability every backend provides.
type Appender interface {
	// Append commits one batch as a snapshot plus its presence rows in a
	// single transaction and returns the snapshot id. Batches whose
	// timestamp precedes the latest stored snapshot are rejected with
	// ErrTimestampRegression.
	Append(ctx context.Context, batch *models.PresenceBatch) (int64, error)

	// Prune removes exactly the snapshots with timestamp < cutoff, along
	// with their presence rows, and returns the number removed.
	Prune(ctx context.Context, cutoff int64) (int64, error)

	SetMetadata(ctx context.Context, key, value string) error
	GetMetadata(ctx context.Context, key string) (string, error)

	Close() error
}

// Store is the full capability tier: everything the stats engine reads.
type Store interface {
	Appender

	// QueryRange returns committed snapshots with their presence rows,
	// ordered by timestamp ascending, for from <= timestamp <= to.
	QueryRange(ctx context.Context, from, to int64) ([]models.SnapshotRecords, error)

	// LatestSnapshot returns the most recent snapshot with its rows, or
	// nil when the store is empty.
	LatestSnapshot(ctx context.Context) (*models.SnapshotRecords, error)

	// EarliestTimestamp returns the oldest retained snapshot timestamp,
	// or 0 when the store is empty.
	EarliestTimestamp(ctx context.Context) (int64, error)

	// FirstSeen maps every known client id to the timestamp of its first
	// recorded appearance.
	FirstSeen(ctx context.Context) (map[string]int64, error)

	UpsertChannels(ctx context.Context, channels []models.ChannelInfo) (int64, error)
	ChannelNames(ctx context.Context) (map[string]string, error)

	// SizeBytes reports the on-disk size of the database.
	SizeBytes(ctx context.Context) (int64, error)
}

const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

var errUnknownBackend = errors.New("unknown storage backend")

// Config selects and parameterizes the storage backend.
type Config struct {
	Backend  string          `json:"backend"`
	Path     string          `json:"path,omitempty"`
	Postgres *PostgresConfig `json:"postgres,omitempty"`
}

// Validate implements config.Validator.
func (c *Config) Validate() error {
	if c.Backend == "" {
		c.Backend = BackendSQLite
	}

	switch c.Backend {
	case BackendSQLite:
		if c.Path == "" {
			c.Path = "voiceradar.db"
		}
	case BackendPostgres:
		if c.Postgres == nil {
			return fmt.Errorf("%w: postgres backend requires connection settings", errUnknownBackend)
		}

		return c.Postgres.Validate()
	default:
		return fmt.Errorf("%w: %q", errUnknownBackend, c.Backend)
	}

	return nil
}

// OpenStore opens the configured backend. The sqlite backend satisfies the
// full Store interface; postgres is append-only. Callers that need the read
// surface must go through AsReader.
func OpenStore(ctx context.Context, cfg *Config, log logger.Logger) (Appender, error) {
	switch cfg.Backend {
	case BackendSQLite:
		return OpenSQLite(ctx, cfg.Path, log)
	case BackendPostgres:
		return OpenPostgres(ctx, cfg.Postgres, log)
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownBackend, cfg.Backend)
	}
}

// AsReader upgrades an Appender to the full Store surface. Append-only
// backends fail here with ErrUnsupportedBackend so read paths fail fast
// instead of serving wrong or partial data.
func AsReader(a Appender) (Store, error) {
	s, ok := a.(Store)
	if !ok {
		return nil, fmt.Errorf("%w: read operations require a full store backend", ErrUnsupportedBackend)
	}

	return s, nil
}
