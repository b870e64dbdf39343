package poller

import (
	"context"
	"time"

	"github.com/carverauto/voiceradar/pkg/models"
)

// Clock abstracts time-related operations.
type Clock interface {
	Now() time.Time
	Ticker(d time.Duration) Ticker
}

// Ticker abstracts the ticker behavior.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// PresenceFetcher is the slice of the fetcher the poll loop needs.
type PresenceFetcher interface {
	Fetch(ctx context.Context) (*models.PresenceBatch, error)
	FetchChannels(ctx context.Context) ([]models.ChannelInfo, error)
	TestConnection(ctx context.Context) error
}
