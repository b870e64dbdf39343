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

// Package models defines the shared data types for presence tracking.
package models

// Snapshot is one poll event: the full presence list observed at a single
// point in time. Snapshots are immutable once written and are only removed by
// retention pruning.
type Snapshot struct {
	ID           int64 `json:"id"`
	Timestamp    int64 `json:"timestamp"` // unix seconds, UTC
	TotalClients int   `json:"total_clients"`
}

// PresenceRecord is one client's state within a snapshot. A client identifier
// appears at most once per snapshot.
type PresenceRecord struct {
	SnapshotID   int64    `json:"snapshot_id,omitempty"`
	ClientID     string   `json:"client_id"` // stable unique identifier, survives reconnects
	Nickname     string   `json:"nickname"`
	ChannelID    string   `json:"channel_id"`
	IdleMs       int64    `json:"idle_ms"`
	Away         bool     `json:"away"`
	AwayMessage  string   `json:"away_message,omitempty"`
	InputMuted   bool     `json:"input_muted"`
	OutputMuted  bool     `json:"output_muted"`
	Recording    bool     `json:"recording"`
	ServerGroups []string `json:"server_groups,omitempty"`
}

// PresenceBatch is the normalized result of one fetch against the presence
// source, before it has been committed to the store.
type PresenceBatch struct {
	Timestamp int64            `json:"timestamp"`
	Records   []PresenceRecord `json:"records"`
}

// SnapshotRecords pairs a committed snapshot with its presence rows, as
// returned by the store's read path in timestamp order.
type SnapshotRecords struct {
	Snapshot Snapshot         `json:"snapshot"`
	Records  []PresenceRecord `json:"records"`
}

// ChannelInfo is one entry in the channel-name cache.
type ChannelInfo struct {
	ChannelID string `json:"channel_id"`
	Name      string `json:"name"`
}

// ServerInfo describes the remote voice server, as reported by its query API.
type ServerInfo struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	ClientsOnline int    `json:"clients_online"`
	MaxClients    int    `json:"max_clients"`
}
