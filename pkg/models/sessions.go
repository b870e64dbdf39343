package models

// ChannelVisit is one hop in a session's ordered channel history.
type ChannelVisit struct {
	ChannelID string `json:"channel_id"`
	EnteredAt int64  `json:"entered_at"` // unix seconds
}

// Session is a reconstructed continuous-presence interval for one client.
// Sessions are derived on demand from presence rows and are never persisted.
type Session struct {
	ClientID      string         `json:"client_id"`
	Nickname      string         `json:"nickname"`
	Start         int64          `json:"start"` // unix seconds, first sample
	End           int64          `json:"end"`   // unix seconds, last sample
	Samples       int            `json:"samples"`
	OnlineSeconds int64          `json:"online_seconds"` // edge-corrected attributable time
	IdleMs        int64          `json:"idle_ms"`        // accumulated, clamped to online time
	Channels      []ChannelVisit `json:"channels"`
	Hops          int            `json:"hops"` // channel transitions
}
