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

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // sqlite driver

	"github.com/carverauto/voiceradar/pkg/logger"
	"github.com/carverauto/voiceradar/pkg/models"
)

// schemaVersion is bumped whenever the sqlite schema changes. Databases with
// a newer version than this binary understands refuse to open.
const schemaVersion = 1

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp      INTEGER NOT NULL,
	total_clients  INTEGER NOT NULL,
	created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_timestamp ON snapshots(timestamp);

CREATE TABLE IF NOT EXISTS client_snapshots (
	snapshot_id   INTEGER NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
	client_uid    TEXT NOT NULL,
	nickname      TEXT NOT NULL,
	channel_id    TEXT NOT NULL,
	idle_ms       INTEGER NOT NULL DEFAULT 0,
	away          INTEGER NOT NULL DEFAULT 0,
	away_message  TEXT NOT NULL DEFAULT '',
	input_muted   INTEGER NOT NULL DEFAULT 0,
	output_muted  INTEGER NOT NULL DEFAULT 0,
	recording     INTEGER NOT NULL DEFAULT 0,
	server_groups TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (snapshot_id, client_uid)
);
CREATE INDEX IF NOT EXISTS idx_client_snapshots_uid ON client_snapshots(client_uid);

CREATE TABLE IF NOT EXISTS channels (
	channel_id  TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS metadata (
	key    TEXT PRIMARY KEY,
	value  TEXT NOT NULL
);
`

// SQLiteStore is the full-capability backend. WAL mode keeps the single
// writer from blocking readers, so stats queries run concurrently with polls.
type SQLiteStore struct {
	db     *sql.DB
	logger logger.Logger
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens or creates the database at path and verifies the schema.
func OpenSQLite(ctx context.Context, path string, log logger.Logger) (*SQLiteStore, error) {
	dsn := "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrStorageIO, path, err)
	}

	// modernc sqlite serializes writes itself; a single connection avoids
	// SQLITE_BUSY churn under concurrent append and prune.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, logger: log}

	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("%w: creating schema: %w", ErrStorageIO, err)
	}

	raw, err := s.GetMetadata(ctx, MetaSchemaVersion)
	if err != nil {
		return err
	}

	if raw == "" {
		s.logger.Info().Int("schema_version", schemaVersion).Msg("Initialized snapshot store")
		return s.SetMetadata(ctx, MetaSchemaVersion, strconv.Itoa(schemaVersion))
	}

	have, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%w: unreadable schema version %q", ErrSchemaMismatch, raw)
	}

	switch {
	case have > schemaVersion:
		return fmt.Errorf("%w: database is v%d, binary supports v%d", ErrSchemaMismatch, have, schemaVersion)
	case have < schemaVersion:
		// Migration hook for future versions. v1 is the first schema.
		s.logger.Info().Int("from", have).Int("to", schemaVersion).Msg("Migrated snapshot store schema")
		return s.SetMetadata(ctx, MetaSchemaVersion, strconv.Itoa(schemaVersion))
	}

	return nil
}

// Append implements Appender. The whole batch commits or none of it does.
func (s *SQLiteStore) Append(ctx context.Context, batch *models.PresenceBatch) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin append: %w", ErrStorageIO, err)
	}
	defer func() { _ = tx.Rollback() }()

	var latest sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(timestamp) FROM snapshots`).Scan(&latest); err != nil {
		return 0, fmt.Errorf("%w: reading latest timestamp: %w", ErrStorageIO, err)
	}

	if latest.Valid && batch.Timestamp < latest.Int64 {
		return 0, fmt.Errorf("%w: batch %d < stored %d", ErrTimestampRegression, batch.Timestamp, latest.Int64)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (timestamp, total_clients, created_at) VALUES (?, ?, ?)`,
		batch.Timestamp, len(batch.Records), time.Now().UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("%w: inserting snapshot: %w", ErrStorageIO, err)
	}

	snapshotID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: snapshot id: %w", ErrStorageIO, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO client_snapshots
		(snapshot_id, client_uid, nickname, channel_id, idle_ms, away, away_message,
		 input_muted, output_muted, recording, server_groups)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("%w: preparing insert: %w", ErrStorageIO, err)
	}
	defer func() { _ = stmt.Close() }()

	seen := make(map[string]struct{}, len(batch.Records))

	for i := range batch.Records {
		r := &batch.Records[i]

		if _, dup := seen[r.ClientID]; dup {
			s.logger.Warn().Str("client_id", r.ClientID).Msg("Duplicate client in batch, keeping first")
			continue
		}

		seen[r.ClientID] = struct{}{}

		_, err = stmt.ExecContext(ctx,
			snapshotID, r.ClientID, r.Nickname, r.ChannelID, r.IdleMs,
			boolToInt(r.Away), r.AwayMessage,
			boolToInt(r.InputMuted), boolToInt(r.OutputMuted), boolToInt(r.Recording),
			strings.Join(r.ServerGroups, ","))
		if err != nil {
			return 0, fmt.Errorf("%w: inserting presence row: %w", ErrStorageIO, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: committing append: %w", ErrStorageIO, err)
	}

	return snapshotID, nil
}

// Prune implements Appender. Cascade removes the presence rows.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: pruning snapshots: %w", ErrStorageIO, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: prune row count: %w", ErrStorageIO, err)
	}

	if n > 0 {
		s.logger.Info().Int64("snapshots", n).Int64("cutoff", cutoff).Msg("Pruned old snapshots")
	}

	return n, nil
}

func (s *SQLiteStore) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("%w: writing metadata %s: %w", ErrStorageIO, key, err)
	}

	return nil
}

// GetMetadata returns the empty string for missing keys.
func (s *SQLiteStore) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string

	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("%w: reading metadata %s: %w", ErrStorageIO, key, err)
	}

	return value, nil
}

// QueryRange implements Store.
func (s *SQLiteStore) QueryRange(ctx context.Context, from, to int64) ([]models.SnapshotRecords, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, total_clients FROM snapshots
		 WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp ASC, id ASC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: querying snapshots: %w", ErrStorageIO, err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.SnapshotRecords

	index := make(map[int64]int)

	for rows.Next() {
		var snap models.Snapshot
		if err := rows.Scan(&snap.ID, &snap.Timestamp, &snap.TotalClients); err != nil {
			return nil, fmt.Errorf("%w: scanning snapshot: %w", ErrStorageIO, err)
		}

		index[snap.ID] = len(out)
		out = append(out, models.SnapshotRecords{Snapshot: snap})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating snapshots: %w", ErrStorageIO, err)
	}

	if len(out) == 0 {
		return out, nil
	}

	crows, err := s.db.QueryContext(ctx,
		`SELECT cs.snapshot_id, cs.client_uid, cs.nickname, cs.channel_id, cs.idle_ms,
		        cs.away, cs.away_message, cs.input_muted, cs.output_muted, cs.recording,
		        cs.server_groups
		 FROM client_snapshots cs
		 JOIN snapshots s ON s.id = cs.snapshot_id
		 WHERE s.timestamp >= ? AND s.timestamp <= ?
		 ORDER BY s.timestamp ASC, cs.snapshot_id ASC, cs.client_uid ASC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: querying presence rows: %w", ErrStorageIO, err)
	}
	defer func() { _ = crows.Close() }()

	for crows.Next() {
		rec, err := scanPresenceRow(crows)
		if err != nil {
			return nil, err
		}

		if i, ok := index[rec.SnapshotID]; ok {
			out[i].Records = append(out[i].Records, rec)
		}
	}

	if err := crows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating presence rows: %w", ErrStorageIO, err)
	}

	return out, nil
}

// LatestSnapshot implements Store.
func (s *SQLiteStore) LatestSnapshot(ctx context.Context) (*models.SnapshotRecords, error) {
	var snap models.Snapshot

	err := s.db.QueryRowContext(ctx,
		`SELECT id, timestamp, total_clients FROM snapshots ORDER BY timestamp DESC, id DESC LIMIT 1`).
		Scan(&snap.ID, &snap.Timestamp, &snap.TotalClients)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("%w: reading latest snapshot: %w", ErrStorageIO, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT snapshot_id, client_uid, nickname, channel_id, idle_ms,
		        away, away_message, input_muted, output_muted, recording, server_groups
		 FROM client_snapshots WHERE snapshot_id = ? ORDER BY client_uid ASC`, snap.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: reading latest presence rows: %w", ErrStorageIO, err)
	}
	defer func() { _ = rows.Close() }()

	result := &models.SnapshotRecords{Snapshot: snap}

	for rows.Next() {
		rec, err := scanPresenceRow(rows)
		if err != nil {
			return nil, err
		}

		result.Records = append(result.Records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating latest presence rows: %w", ErrStorageIO, err)
	}

	return result, nil
}

// EarliestTimestamp implements Store.
func (s *SQLiteStore) EarliestTimestamp(ctx context.Context) (int64, error) {
	var earliest sql.NullInt64

	if err := s.db.QueryRowContext(ctx, `SELECT MIN(timestamp) FROM snapshots`).Scan(&earliest); err != nil {
		return 0, fmt.Errorf("%w: reading earliest timestamp: %w", ErrStorageIO, err)
	}

	if !earliest.Valid {
		return 0, nil
	}

	return earliest.Int64, nil
}

// FirstSeen implements Store.
func (s *SQLiteStore) FirstSeen(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cs.client_uid, MIN(s.timestamp)
		 FROM client_snapshots cs JOIN snapshots s ON s.id = cs.snapshot_id
		 GROUP BY cs.client_uid`)
	if err != nil {
		return nil, fmt.Errorf("%w: querying first-seen: %w", ErrStorageIO, err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int64)

	for rows.Next() {
		var (
			uid string
			ts  int64
		)

		if err := rows.Scan(&uid, &ts); err != nil {
			return nil, fmt.Errorf("%w: scanning first-seen: %w", ErrStorageIO, err)
		}

		out[uid] = ts
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating first-seen: %w", ErrStorageIO, err)
	}

	return out, nil
}

// UpsertChannels implements Store.
func (s *SQLiteStore) UpsertChannels(ctx context.Context, channels []models.ChannelInfo) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin channel upsert: %w", ErrStorageIO, err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Unix()

	var n int64

	for _, ch := range channels {
		if ch.ChannelID == "" {
			continue
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO channels (channel_id, name, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(channel_id) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at`,
			ch.ChannelID, ch.Name, now)
		if err != nil {
			return 0, fmt.Errorf("%w: upserting channel %s: %w", ErrStorageIO, ch.ChannelID, err)
		}

		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: committing channel upsert: %w", ErrStorageIO, err)
	}

	return n, nil
}

// ChannelNames implements Store.
func (s *SQLiteStore) ChannelNames(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT channel_id, name FROM channels`)
	if err != nil {
		return nil, fmt.Errorf("%w: querying channels: %w", ErrStorageIO, err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)

	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("%w: scanning channel: %w", ErrStorageIO, err)
		}

		out[id] = name
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating channels: %w", ErrStorageIO, err)
	}

	return out, nil
}

// SizeBytes implements Store.
func (s *SQLiteStore) SizeBytes(ctx context.Context) (int64, error) {
	var pageCount, pageSize int64

	if err := s.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pageCount); err != nil {
		return 0, fmt.Errorf("%w: page_count: %w", ErrStorageIO, err)
	}

	if err := s.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("%w: page_size: %w", ErrStorageIO, err)
	}

	return pageCount * pageSize, nil
}

// Close implements Appender.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPresenceRow(rows rowScanner) (models.PresenceRecord, error) {
	var (
		rec                             models.PresenceRecord
		away, inMuted, outMuted, recInt int
		groups                          string
	)

	err := rows.Scan(&rec.SnapshotID, &rec.ClientID, &rec.Nickname, &rec.ChannelID, &rec.IdleMs,
		&away, &rec.AwayMessage, &inMuted, &outMuted, &recInt, &groups)
	if err != nil {
		return rec, fmt.Errorf("%w: scanning presence row: %w", ErrStorageIO, err)
	}

	rec.Away = away != 0
	rec.InputMuted = inMuted != 0
	rec.OutputMuted = outMuted != 0
	rec.Recording = recInt != 0

	if groups != "" {
		rec.ServerGroups = strings.Split(groups, ",")
	}

	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
