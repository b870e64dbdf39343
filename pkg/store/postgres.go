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
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carverauto/voiceradar/pkg/logger"
	"github.com/carverauto/voiceradar/pkg/models"
)

const migrationsTable = "voiceradar_schema_migrations"

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	errPGHostRequired     = errors.New("store: postgres host is required")
	errPGDatabaseRequired = errors.New("store: postgres database is required")
)

// PostgresConfig holds connection settings for the append-only archive.
type PostgresConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
	SSLMode  string `json:"ssl_mode"`
}

// Validate implements config.Validator.
func (c *PostgresConfig) Validate() error {
	if c.Host == "" {
		return errPGHostRequired
	}

	if c.Database == "" {
		return errPGDatabaseRequired
	}

	if c.Port == 0 {
		c.Port = 5432
	}

	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}

	return nil
}

func (c *PostgresConfig) connString() string {
	connURL := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}

	if c.Username != "" {
		if c.Password != "" {
			connURL.User = url.UserPassword(c.Username, c.Password)
		} else {
			connURL.User = url.User(c.Username)
		}
	}

	query := connURL.Query()
	query.Set("sslmode", c.SSLMode)
	query.Set("application_name", "voiceradar")
	connURL.RawQuery = query.Encode()

	return connURL.String()
}

// PostgresStore is the append-only archive tier. It accepts snapshots and
// retention pruning but has no read surface; AsReader rejects it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

var _ Appender = (*PostgresStore)(nil)

// OpenPostgres dials the archive database and runs pending migrations.
func OpenPostgres(ctx context.Context, cfg *PostgresConfig, log logger.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, cfg.connString())
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to postgres: %w", ErrStorageIO, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: pinging postgres: %w", ErrStorageIO, err)
	}

	s := &PostgresStore{pool: pool, logger: log}

	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: acquire connection: %w", ErrStorageIO, err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		version     TEXT PRIMARY KEY,
		applied_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, migrationsTable)); err != nil {
		return fmt.Errorf("%w: create migrations table: %w", ErrStorageIO, err)
	}

	applied := make(map[string]struct{})

	rows, err := conn.Query(ctx, fmt.Sprintf(`SELECT version FROM %s`, migrationsTable))
	if err != nil {
		return fmt.Errorf("%w: list applied migrations: %w", ErrStorageIO, err)
	}
	defer rows.Close()

	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return fmt.Errorf("%w: scan applied migration: %w", ErrStorageIO, err)
		}

		applied[version] = struct{}{}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: iterate applied migrations: %w", ErrStorageIO, err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("%w: read embedded migrations: %w", ErrStorageIO, err)
	}

	filenames := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}

		filenames = append(filenames, entry.Name())
	}

	sort.Strings(filenames)

	for _, name := range filenames {
		version := strings.TrimSuffix(name, ".up.sql")
		if _, ok := applied[version]; ok {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("%w: read migration %s: %w", ErrStorageIO, name, err)
		}

		if _, err := conn.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("%w: migration %s failed: %w", ErrStorageIO, name, err)
		}

		if _, err := conn.Exec(ctx,
			fmt.Sprintf(`INSERT INTO %s (version) VALUES ($1)`, migrationsTable), version); err != nil {
			return fmt.Errorf("%w: record migration %s: %w", ErrStorageIO, name, err)
		}

		s.logger.Info().Str("migration", name).Msg("Applied archive migration")
	}

	return nil
}

// Append implements Appender with the same semantics as the sqlite backend.
func (s *PostgresStore) Append(ctx context.Context, batch *models.PresenceBatch) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: begin append: %w", ErrStorageIO, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var latest *int64
	if err := tx.QueryRow(ctx, `SELECT MAX(timestamp) FROM snapshots`).Scan(&latest); err != nil {
		return 0, fmt.Errorf("%w: reading latest timestamp: %w", ErrStorageIO, err)
	}

	if latest != nil && batch.Timestamp < *latest {
		return 0, fmt.Errorf("%w: batch %d < stored %d", ErrTimestampRegression, batch.Timestamp, *latest)
	}

	var snapshotID int64
	if err := tx.QueryRow(ctx,
		`INSERT INTO snapshots (timestamp, total_clients) VALUES ($1, $2) RETURNING id`,
		batch.Timestamp, len(batch.Records)).Scan(&snapshotID); err != nil {
		return 0, fmt.Errorf("%w: inserting snapshot: %w", ErrStorageIO, err)
	}

	seen := make(map[string]struct{}, len(batch.Records))
	rows := make([][]interface{}, 0, len(batch.Records))

	for i := range batch.Records {
		r := &batch.Records[i]

		if _, dup := seen[r.ClientID]; dup {
			s.logger.Warn().Str("client_id", r.ClientID).Msg("Duplicate client in batch, keeping first")
			continue
		}

		seen[r.ClientID] = struct{}{}

		rows = append(rows, []interface{}{
			snapshotID, r.ClientID, r.Nickname, r.ChannelID, r.IdleMs,
			r.Away, r.AwayMessage, r.InputMuted, r.OutputMuted, r.Recording,
			strings.Join(r.ServerGroups, ","),
		})
	}

	if len(rows) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"client_snapshots"},
			[]string{
				"snapshot_id", "client_uid", "nickname", "channel_id", "idle_ms",
				"away", "away_message", "input_muted", "output_muted", "recording",
				"server_groups",
			},
			pgx.CopyFromRows(rows))
		if err != nil {
			return 0, fmt.Errorf("%w: copying presence rows: %w", ErrStorageIO, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%w: committing append: %w", ErrStorageIO, err)
	}

	return snapshotID, nil
}

// Prune implements Appender.
func (s *PostgresStore) Prune(ctx context.Context, cutoff int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM snapshots WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: pruning snapshots: %w", ErrStorageIO, err)
	}

	n := tag.RowsAffected()
	if n > 0 {
		s.logger.Info().Int64("snapshots", n).Int64("cutoff", cutoff).Msg("Pruned old snapshots")
	}

	return n, nil
}

func (s *PostgresStore) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO metadata (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return fmt.Errorf("%w: writing metadata %s: %w", ErrStorageIO, key, err)
	}

	return nil
}

func (s *PostgresStore) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string

	err := s.pool.QueryRow(ctx, `SELECT value FROM metadata WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("%w: reading metadata %s: %w", ErrStorageIO, key, err)
	}

	return value, nil
}

// Close implements Appender.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
