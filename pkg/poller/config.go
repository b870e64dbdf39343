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

package poller

import (
	"time"

	"github.com/google/uuid"

	"github.com/carverauto/voiceradar/pkg/fetcher"
	"github.com/carverauto/voiceradar/pkg/logger"
	"github.com/carverauto/voiceradar/pkg/models"
	"github.com/carverauto/voiceradar/pkg/store"
)

const defaultPollInterval = 30 * time.Second

// Config is the poller service configuration, loaded from a JSON file.
type Config struct {
	PollerID      string          `json:"poller_id"`
	PollInterval  models.Duration `json:"poll_interval"`
	GracePeriod   models.Duration `json:"grace_period,omitempty"`
	RetentionDays int             `json:"retention_days"`
	Source        fetcher.Config  `json:"source"`
	Database      store.Config    `json:"database"`
	Logging       *logger.Config  `json:"logging,omitempty"`
}

// Validate implements config.Validator and applies defaults. The grace
// period defaults to twice the poll interval when unset, and a poller
// without a configured id gets a generated one.
func (c *Config) Validate() error {
	if c.PollerID == "" {
		c.PollerID = "voiceradar-poller-" + uuid.New().String()
	}

	if c.PollInterval == 0 {
		c.PollInterval = models.Duration(defaultPollInterval)
	}

	if c.GracePeriod == 0 {
		c.GracePeriod = 2 * c.PollInterval
	}

	if err := c.Source.Validate(); err != nil {
		return err
	}

	return c.Database.Validate()
}
