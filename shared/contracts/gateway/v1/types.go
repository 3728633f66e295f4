package v1

import "encoding/json"

// ---- Payloads ----
//
// Embedded records (team, channel, message, member, user, role) are kept raw.

// ReadyPayload is the first event of every gateway session.
type ReadyPayload struct {
	User  json.RawMessage   `json:"user"`
	Teams []json.RawMessage `json:"teams,omitempty"`
}

// ChannelPayload carries CHANNEL_CREATED and CHANNEL_UPDATED.
type ChannelPayload struct {
	TeamID  string          `json:"teamId"`
	Channel json.RawMessage `json:"channel"`
}

// ChannelDeletedPayload carries CHANNEL_DELETED.
type ChannelDeletedPayload struct {
	TeamID    string `json:"teamId"`
	ChannelID string `json:"channelId"`
}

// ChannelPriority is one entry of a priority reorder.
type ChannelPriority struct {
	ID       string  `json:"id"`
	Priority float64 `json:"priority"`
}

// ChannelsPriorityPayload carries CHANNELS_PRIORITY_UPDATED.
type ChannelsPriorityPayload struct {
	TeamID   string            `json:"teamId"`
	Channels []ChannelPriority `json:"channels"`
}

// MessagePayload carries MESSAGE_SEND and MESSAGE_UPDATED.
type MessagePayload struct {
	TeamID    string          `json:"teamId"`
	ChannelID string          `json:"channelId"`
	Message   json.RawMessage `json:"message"`
}

// MessageDeletedPayload carries MESSAGE_DELETED.
type MessageDeletedPayload struct {
	TeamID    string `json:"teamId"`
	ChannelID string `json:"channelId"`
	MessageID string `json:"messageId"`
}

// ReactionPayload carries MESSAGE_REACTION_ADDED and MESSAGE_REACTION_REMOVED.
type ReactionPayload struct {
	TeamID    string          `json:"teamId"`
	ChannelID string          `json:"channelId"`
	MessageID string          `json:"messageId"`
	EmojiID   string          `json:"emojiId"`
	ReactedBy json.RawMessage `json:"reactedBy,omitempty"`
	UserID    string          `json:"userId,omitempty"`
}

// PresencePayload carries PRESENCE_UPDATE.
type PresencePayload struct {
	UserID   string `json:"userId"`
	Presence int    `json:"presence"`
}

// TeamPayload carries TEAM_UPDATED.
type TeamPayload struct {
	Team json.RawMessage `json:"team"`
}

// RolePayload carries TEAM_ROLE_CREATED.
type RolePayload struct {
	TeamID string          `json:"teamId"`
	Role   json.RawMessage `json:"role"`
}

// RoleDeletedPayload carries TEAM_ROLE_DELETED.
type RoleDeletedPayload struct {
	TeamID string `json:"teamId"`
	RoleID string `json:"roleId"`
}

// RolesPayload carries TEAM_ROLES_UPDATED.
type RolesPayload struct {
	TeamID string            `json:"teamId"`
	Roles  []json.RawMessage `json:"roles"`
}

// MemberJoinedPayload carries USER_JOINED_TEAM.
type MemberJoinedPayload struct {
	TeamID string          `json:"teamId"`
	Member json.RawMessage `json:"member"`
}

// MemberLeftPayload carries USER_LEFT_TEAM.
type MemberLeftPayload struct {
	TeamID string `json:"teamId"`
	UserID string `json:"userId"`
}

// MemberRolePayload carries USER_ROLE_ADDED and USER_ROLE_REMOVED.
type MemberRolePayload struct {
	TeamID string `json:"teamId"`
	UserID string `json:"userId"`
	RoleID string `json:"roleId"`
}

// VoicePayload carries USER_JOINED_VOICE_CHANNEL and USER_LEFT_VOICE_CHANNEL.
type VoicePayload struct {
	TeamID    string `json:"teamId"`
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
}

// VoiceMovePayload carries VOICE_CHANNEL_MOVE.
type VoiceMovePayload struct {
	TeamID        string `json:"teamId"`
	UserID        string `json:"userId"`
	FromChannelID string `json:"fromChannelId"`
	ToChannelID   string `json:"toChannelId"`
}

// UserProfilePayload carries USER_PROFILE_UPDATED.
type UserProfilePayload struct {
	User json.RawMessage `json:"user"`
}
