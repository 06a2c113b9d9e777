package domain

import "time"

// PendingRecap is a durable marker that a ranked recap is owed for a
// channel/day. It is consumed exactly once by the recap scheduler.
type PendingRecap struct {
	ChannelID string     `json:"channelId"`
	GuildID   string     `json:"guildId"`
	GameDate  string     `json:"gameDate"`
	Posted    bool       `json:"posted"`
	PostedAt  *time.Time `json:"postedAt,omitempty"`
}
