package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationUnmarshal(t *testing.T) {
	var cfg struct {
		Interval Duration `json:"interval"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"interval": "30s"}`), &cfg))
	assert.Equal(t, Duration(30*time.Second), cfg.Interval)

	require.NoError(t, json.Unmarshal([]byte(`{"interval": 5000000000}`), &cfg))
	assert.Equal(t, Duration(5*time.Second), cfg.Interval)

	err := json.Unmarshal([]byte(`{"interval": "not-a-duration"}`), &cfg)
	assert.Error(t, err)

	err = json.Unmarshal([]byte(`{"interval": true}`), &cfg)
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestDurationMarshal(t *testing.T) {
	out, err := json.Marshal(Duration(90 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(out))
}
