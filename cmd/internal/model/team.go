package model

import (
	"encoding/json"
	"slices"
)

// TeamGame is a game a team lists on its profile.
type TeamGame struct {
	ID       int      `json:"id"`
	Platform []string `json:"platform,omitempty"`
	Region   string   `json:"region,omitempty"`
}

// Team is a community: the top-level container for channels, members and roles.
type Team struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	ProfilePicture     string     `json:"profilePicture,omitempty"`
	Banner             string     `json:"banner,omitempty"`
	Description        string     `json:"description,omitempty"`
	IsVerified         bool       `json:"isVerified"`
	IsSuspended        bool       `json:"isSuspended,omitempty"`
	CreatedBy          string     `json:"createdBy,omitempty"`
	DefaultChannelID   string     `json:"defaultChannelId,omitempty"`
	Games              []TeamGame `json:"games,omitempty"`
	IsDiscoverable     bool       `json:"isDiscoverable,omitempty"`
	DiscoverableInvite string     `json:"discoverableInvite,omitempty"`
	MemberCount        int        `json:"memberCount,omitempty"`
	CreatedAt          Timestamp  `json:"createdAt"`
}

// Clone returns a deep copy.
func (t Team) Clone() Team {
	out := t
	if t.Games != nil {
		out.Games = make([]TeamGame, len(t.Games))
		for i, g := range t.Games {
			g.Platform = slices.Clone(g.Platform)
			out.Games[i] = g
		}
	}
	return out
}

// ParseTeam decodes a team record.
func ParseTeam(raw json.RawMessage) (Team, error) {
	return decodeRecord[Team](raw, "team", func(t Team) string { return t.ID })
}

// BotScope marks a role managed by a bot.
type BotScope struct {
	UserID string `json:"userId,omitempty"`
}

// Role is a team-scoped permission role.
type Role struct {
	ID                    string    `json:"id"`
	TeamID                string    `json:"teamId"`
	Name                  string    `json:"name"`
	IconURL               string    `json:"iconUrl,omitempty"`
	Color                 string    `json:"color,omitempty"`
	Color2                string    `json:"color2,omitempty"`
	Permissions           int64     `json:"permissions"`
	Priority              int       `json:"priority"`
	CreatedAt             Timestamp `json:"createdAt"`
	UpdatedAt             Timestamp `json:"updatedAt"`
	IsDisplayedSeparately bool      `json:"isDisplayedSeparately"`
	IsSelfAssignable      bool      `json:"isSelfAssignable"`
	IconEmojiID           string    `json:"iconEmojiId,omitempty"`
	Mentionable           bool      `json:"mentionable"`
	BotScope              *BotScope `json:"botScope,omitempty"`
}

// Clone returns a deep copy.
func (r Role) Clone() Role {
	out := r
	if r.BotScope != nil {
		bs := *r.BotScope
		out.BotScope = &bs
	}
	return out
}

// ParseRole decodes a role record.
func ParseRole(raw json.RawMessage) (Role, error) {
	return decodeRecord[Role](raw, "role", func(r Role) string { return r.ID })
}
