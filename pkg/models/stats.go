package models

// TopUser is one row of the top-users-by-online-time ranking.
type TopUser struct {
	ClientID      string  `json:"client_id"`
	Nickname      string  `json:"nickname"`
	Samples       int     `json:"samples"`
	OnlineSeconds int64   `json:"online_seconds"`
	OnlineHours   float64 `json:"online_hours"`
	FirstSeen     int64   `json:"first_seen"`
	LastSeen      int64   `json:"last_seen"`
}

// HeatmapBucket is the average client count for one hour of day (0-23).
type HeatmapBucket struct {
	Hour       int     `json:"hour"`
	AvgClients float64 `json:"avg_clients"`
	Samples    int     `json:"samples"`
}

// DayActivity is the average client count for one day of week (0=Sunday).
type DayActivity struct {
	DayOfWeek  int     `json:"day_of_week"`
	DayName    string  `json:"day_name"`
	AvgClients float64 `json:"avg_clients"`
	Samples    int     `json:"samples"`
}

// IdleUser is one row of the idle-time ranking.
type IdleUser struct {
	ClientID  string  `json:"client_id"`
	Nickname  string  `json:"nickname"`
	IdleMs    int64   `json:"idle_ms"`
	IdleHours float64 `json:"idle_hours"`
	Samples   int     `json:"samples"`
}

// ChannelStat summarizes activity in one channel over a window.
type ChannelStat struct {
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name,omitempty"`
	Visits      int    `json:"visits"`       // snapshot occurrences
	UniqueUsers int    `json:"unique_users"` // distinct client ids
}

// GrowthStats splits the window's clients into new and returning.
type GrowthStats struct {
	PeriodDays     int     `json:"period_days"`
	TotalUnique    int     `json:"total_unique"`
	NewUsers       int     `json:"new_users"`
	ReturningUsers int     `json:"returning_users"`
	NewUserPct     float64 `json:"new_user_pct"`
}

// ChannelHopper is one row of the channel-hop ranking.
type ChannelHopper struct {
	ClientID string `json:"client_id"`
	Nickname string `json:"nickname"`
	Hops     int    `json:"hops"`
	Sessions int    `json:"sessions"`
}

// ConnectionPattern describes one client's session behavior over a window.
type ConnectionPattern struct {
	ClientID           string  `json:"client_id"`
	Nickname           string  `json:"nickname"`
	Sessions           int     `json:"sessions"`
	MeanSessionSeconds float64 `json:"mean_session_seconds"`
}

// Engagement bands, ordered from most to least engaged.
const (
	BandPower   = "power"
	BandRegular = "regular"
	BandCasual  = "casual"
)

// EngagementUser is one row of the engagement (lifetime value) ranking.
type EngagementUser struct {
	ClientID    string  `json:"client_id"`
	Nickname    string  `json:"nickname"`
	Score       int     `json:"score"` // 0-100
	Band        string  `json:"band"`
	OnlineHours float64 `json:"online_hours"`
	ActiveDays  int     `json:"active_days"`
	Channels    int     `json:"channels"`
}

// EngagementSummary is the band distribution over all scored clients.
type EngagementSummary struct {
	PowerUsers   int     `json:"power_users"`
	RegularUsers int     `json:"regular_users"`
	CasualUsers  int     `json:"casual_users"`
	AvgScore     float64 `json:"avg_score"`
}

// Summary is the overall activity summary for a window.
type Summary struct {
	PeriodDays     int     `json:"period_days"`
	TotalSnapshots int     `json:"total_snapshots"`
	AvgOnline      float64 `json:"avg_online"`
	MaxOnline      int     `json:"max_online"`
	UniqueUsers    int     `json:"unique_users"`
}

// PeakTime is one snapshot where the server was busiest.
type PeakTime struct {
	Timestamp    int64 `json:"timestamp"`
	TotalClients int   `json:"total_clients"`
}

// OnlineClient is one client from the most recent snapshot.
type OnlineClient struct {
	PresenceRecord
	SnapshotTime int64 `json:"snapshot_time"`
}

// AwayUser is one row of the away-time ranking.
type AwayUser struct {
	ClientID    string  `json:"client_id"`
	Nickname    string  `json:"nickname"`
	Samples     int     `json:"samples"`
	AwaySamples int     `json:"away_samples"`
	AwayPct     float64 `json:"away_pct"`
	LastMessage string  `json:"last_message,omitempty"`
}

// AwayStats summarizes away behavior over a window.
type AwayStats struct {
	PeriodDays  int        `json:"period_days"`
	Samples     int        `json:"samples"`
	AwaySamples int        `json:"away_samples"`
	AwayPct     float64    `json:"away_pct"`
	TopAway     []AwayUser `json:"top_away"`
}

// MuteStats summarizes mute/recording flags over a window.
type MuteStats struct {
	PeriodDays     int     `json:"period_days"`
	Samples        int     `json:"samples"`
	InputMutedPct  float64 `json:"input_muted_pct"`
	OutputMutedPct float64 `json:"output_muted_pct"`
	RecordingPct   float64 `json:"recording_pct"`
}

// GroupStat is membership activity for one server group.
type GroupStat struct {
	GroupID       string `json:"group_id"`
	UniqueMembers int    `json:"unique_members"`
	Samples       int    `json:"samples"`
}

// UserStats is the detailed per-client report.
type UserStats struct {
	ClientID         string        `json:"client_id"`
	Nickname         string        `json:"nickname"`
	Samples          int           `json:"samples"`
	OnlineSeconds    int64         `json:"online_seconds"`
	OnlineHours      float64       `json:"online_hours"`
	FirstSeen        int64         `json:"first_seen"`
	LastSeen         int64         `json:"last_seen"`
	AvgIdleMs        int64         `json:"avg_idle_ms"`
	FavoriteChannels []ChannelStat `json:"favorite_channels"`
	ActivityByDay    map[int]int   `json:"activity_by_day"` // weekday -> samples
}
