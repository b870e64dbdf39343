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

// Package fetcher implements the WebQuery client for TeamSpeak-style voice
// servers. One Fetch call maps to one snapshot of current presence.
package fetcher

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/carverauto/voiceradar/pkg/logger"
	"github.com/carverauto/voiceradar/pkg/models"
	"github.com/carverauto/voiceradar/pkg/version"
)

var userAgent = "voiceradar/" + version.GetVersion()

// Fetcher retrieves presence snapshots over the WebQuery HTTP API.
type Fetcher struct {
	config     *Config
	httpClient *http.Client
	logger     logger.Logger
}

// New creates a Fetcher. The config must already be validated.
func New(config *Config, log logger.Logger) *Fetcher {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.InsecureSkipVerify, //nolint:gosec // operator opt-in for self-signed servers
		},
	}

	return &Fetcher{
		config: config,
		httpClient: &http.Client{
			Timeout:   time.Duration(config.Timeout),
			Transport: transport,
		},
		logger: log,
	}
}

// envelope is the WebQuery response wrapper. A zero status code means
// success; the body payload varies per endpoint.
type envelope struct {
	Status struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"status"`
	Body json.RawMessage `json:"body"`
}

// flexInt decodes WebQuery numeric fields, which some server versions emit
// as numbers and others as quoted strings.
type flexInt int64

func (v *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*v = 0
		return nil
	}

	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return err
	}

	*v = flexInt(n)

	return nil
}

type wireClient struct {
	ClientID     flexInt `json:"clid"`
	ChannelID    flexInt `json:"cid"`
	DatabaseID   flexInt `json:"client_database_id"`
	Nickname     string  `json:"client_nickname"`
	UniqueID     string  `json:"client_unique_identifier"`
	IdleTime     flexInt `json:"client_idle_time"`
	ClientType   flexInt `json:"client_type"`
	Away         flexInt `json:"client_away"`
	AwayMessage  string  `json:"client_away_message"`
	InputMuted   flexInt `json:"client_input_muted"`
	OutputMuted  flexInt `json:"client_output_muted"`
	Recording    flexInt `json:"client_is_recording"`
	ServerGroups string  `json:"client_servergroups"`
}

type wireChannel struct {
	ChannelID flexInt `json:"cid"`
	Name      string  `json:"channel_name"`
}

type wireServerInfo struct {
	Name          string  `json:"virtualserver_name"`
	Version       string  `json:"virtualserver_version"`
	Uptime        flexInt `json:"virtualserver_uptime"`
	ClientsOnline flexInt `json:"virtualserver_clientsonline"`
	MaxClients    flexInt `json:"virtualserver_maxclients"`
}

// Fetch retrieves the current client list as a timestamped presence batch.
// Query clients are filtered out unless configured otherwise, and duplicate
// client identifiers within one response are discarded (first wins).
// Transient failures are retried with exponential backoff inside the call.
func (f *Fetcher) Fetch(ctx context.Context) (*models.PresenceBatch, error) {
	body, err := f.request(ctx, "clientlist?-uid&-times&-voice&-groups")
	if err != nil {
		return nil, err
	}

	var clients []wireClient
	if err := json.Unmarshal(body, &clients); err != nil {
		return nil, fmt.Errorf("%w: decoding clientlist: %w", ErrMalformedResponse, err)
	}

	batch := &models.PresenceBatch{
		Timestamp: time.Now().UTC().Unix(),
		Records:   make([]models.PresenceRecord, 0, len(clients)),
	}

	seen := make(map[string]struct{}, len(clients))

	for i := range clients {
		c := &clients[i]

		if c.ClientType == 1 && !f.config.IncludeQueryClients {
			continue
		}

		if c.UniqueID == "" {
			f.logger.Warn().Int64("clid", int64(c.ClientID)).Msg("Client without unique identifier, skipping")
			continue
		}

		if _, dup := seen[c.UniqueID]; dup {
			f.logger.Warn().Str("client_id", c.UniqueID).Msg("Duplicate client in response, keeping first")
			continue
		}

		seen[c.UniqueID] = struct{}{}

		batch.Records = append(batch.Records, models.PresenceRecord{
			ClientID:     c.UniqueID,
			Nickname:     c.Nickname,
			ChannelID:    strconv.FormatInt(int64(c.ChannelID), 10),
			IdleMs:       int64(c.IdleTime),
			Away:         c.Away != 0,
			AwayMessage:  c.AwayMessage,
			InputMuted:   c.InputMuted != 0,
			OutputMuted:  c.OutputMuted != 0,
			Recording:    c.Recording != 0,
			ServerGroups: splitGroups(c.ServerGroups),
		})
	}

	f.logger.Debug().
		Int("clients", len(batch.Records)).
		Int64("timestamp", batch.Timestamp).
		Msg("Fetched client list")

	return batch, nil
}

// FetchChannels retrieves the channel list for the channel-name cache.
func (f *Fetcher) FetchChannels(ctx context.Context) ([]models.ChannelInfo, error) {
	body, err := f.request(ctx, "channellist")
	if err != nil {
		return nil, err
	}

	var channels []wireChannel
	if err := json.Unmarshal(body, &channels); err != nil {
		return nil, fmt.Errorf("%w: decoding channellist: %w", ErrMalformedResponse, err)
	}

	out := make([]models.ChannelInfo, 0, len(channels))
	for _, ch := range channels {
		out = append(out, models.ChannelInfo{
			ChannelID: strconv.FormatInt(int64(ch.ChannelID), 10),
			Name:      ch.Name,
		})
	}

	return out, nil
}

// ServerInfo retrieves basic information about the virtual server.
func (f *Fetcher) ServerInfo(ctx context.Context) (*models.ServerInfo, error) {
	body, err := f.request(ctx, "serverinfo")
	if err != nil {
		return nil, err
	}

	// serverinfo returns a single-element array for the virtual server.
	var infos []wireServerInfo
	if err := json.Unmarshal(body, &infos); err != nil {
		var single wireServerInfo
		if err2 := json.Unmarshal(body, &single); err2 != nil {
			return nil, fmt.Errorf("%w: decoding serverinfo: %w", ErrMalformedResponse, err)
		}

		infos = []wireServerInfo{single}
	}

	if len(infos) == 0 {
		return nil, fmt.Errorf("%w: empty serverinfo body", ErrMalformedResponse)
	}

	return &models.ServerInfo{
		Name:          infos[0].Name,
		Version:       infos[0].Version,
		UptimeSeconds: int64(infos[0].Uptime),
		ClientsOnline: int(infos[0].ClientsOnline),
		MaxClients:    int(infos[0].MaxClients),
	}, nil
}

// TestConnection verifies the server is reachable and the API key works.
func (f *Fetcher) TestConnection(ctx context.Context) error {
	if _, err := f.ServerInfo(ctx); err != nil {
		return err
	}

	f.logger.Info().Msg("Presence source connection test successful")

	return nil
}

// request performs one GET with retry. Unauthorized and malformed responses
// are permanent; unreachable and timeout errors retry with capped backoff.
func (f *Fetcher) request(ctx context.Context, endpoint string) (json.RawMessage, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialRetryInterval
	bo.MaxInterval = maxRetryInterval
	bo.Multiplier = 2.0
	bo.RandomizationFactor = 0.2

	operation := func() (json.RawMessage, error) {
		body, err := f.doRequest(ctx, endpoint)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrMalformedResponse) {
				return nil, backoff.Permanent(err)
			}

			f.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Fetch attempt failed, will retry")

			return nil, err
		}

		return body, nil
	}

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(f.config.MaxTries)))
	if err != nil {
		return nil, err
	}

	return body, nil
}

func (f *Fetcher) doRequest(ctx context.Context, endpoint string) (json.RawMessage, error) {
	url := fmt.Sprintf("%s/%d/%s", f.config.BaseURL, f.config.VirtualServerID, endpoint)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}

	req.Header.Set("x-api-key", f.config.APIKey)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer f.closeResponse(resp)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: http %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: http %d", ErrUnreachable, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	if env.Status.Code != 0 {
		if isPermissionMessage(env.Status.Message) {
			return nil, fmt.Errorf("%w: api error %d: %s", ErrUnauthorized, env.Status.Code, env.Status.Message)
		}

		return nil, fmt.Errorf("%w: api error %d: %s", ErrMalformedResponse, env.Status.Code, env.Status.Message)
	}

	return env.Body, nil
}

func (f *Fetcher) closeResponse(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		f.logger.Warn().Err(err).Msg("Failed to close response body")
	}
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %w", ErrUnreachable, err)
}

func isPermissionMessage(msg string) bool {
	m := strings.ToLower(msg)

	return strings.Contains(m, "permission") || strings.Contains(m, "key") || strings.Contains(m, "auth")
}

func splitGroups(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	groups := make([]string, 0, len(parts))

	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			groups = append(groups, p)
		}
	}

	return groups
}
