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

package fetcher

import (
	"errors"
	"strings"
	"time"

	"github.com/carverauto/voiceradar/pkg/models"
)

var (
	errBaseURLRequired = errors.New("fetcher: base_url is required")
	errAPIKeyRequired  = errors.New("fetcher: api_key is required")
)

const (
	defaultTimeout         = 10 * time.Second
	defaultVirtualServerID = 1
	defaultMaxTries        = 3
	initialRetryInterval   = 500 * time.Millisecond
	maxRetryInterval       = 5 * time.Second
)

// Config holds the connection settings for the voice server WebQuery API.
type Config struct {
	BaseURL             string          `json:"base_url"`
	APIKey              string          `json:"api_key"`
	VirtualServerID     int             `json:"virtual_server_id"`
	Timeout             models.Duration `json:"timeout"`
	InsecureSkipVerify  bool            `json:"insecure_skip_verify"`
	IncludeQueryClients bool            `json:"include_query_clients"`
	MaxTries            int             `json:"max_tries"`
}

// Validate implements config.Validator. It also normalizes defaults so a
// minimal config file only needs base_url and api_key.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errBaseURLRequired
	}

	if c.APIKey == "" {
		return errAPIKeyRequired
	}

	c.BaseURL = strings.TrimRight(c.BaseURL, "/")

	if c.VirtualServerID == 0 {
		c.VirtualServerID = defaultVirtualServerID
	}

	if c.Timeout == 0 {
		c.Timeout = models.Duration(defaultTimeout)
	}

	if c.MaxTries == 0 {
		c.MaxTries = defaultMaxTries
	}

	return nil
}
