package dispatch

import (
	"encoding/json"

	"teamly/cmd/internal/model"
)

// Callback payloads. Pointer fields are nil when the cache did not hold the entry.

type ReadyEvent struct {
	User  model.User
	Teams []model.Team
}

type MessageEvent struct {
	TeamID  string
	Message model.Message
}

type MessageUpdateEvent struct {
	TeamID string
	Before *model.Message
	After  model.Message
}

type MessageDeleteEvent struct {
	TeamID    string
	ChannelID string
	MessageID string
	Message   *model.Message
}

type ReactionEvent struct {
	model.Reaction
	Message *model.Message
}

type ChannelEvent struct {
	Channel model.Channel
}

type ChannelUpdateEvent struct {
	Before *model.Channel
	After  model.Channel
}

type ChannelDeleteEvent struct {
	TeamID    string
	ChannelID string
	Channel   *model.Channel
}

type ChannelsReorderEvent struct {
	TeamID   string
	Channels []model.Channel
}

type TeamUpdateEvent struct {
	Before *model.Team
	After  model.Team
}

type RoleEvent struct {
	Role model.Role
}

type RolesUpdateEvent struct {
	TeamID string
	Roles  []model.Role
}

type RoleDeleteEvent struct {
	TeamID string
	RoleID string
	Role   *model.Role
}

type MemberEvent struct {
	Member model.Member
}

type MemberLeaveEvent struct {
	TeamID string
	UserID string
	Member *model.Member
}

// MemberUpdateEvent reports a role assignment change.
type MemberUpdateEvent struct {
	TeamID string
	UserID string
	RoleID string
	Added  bool
	Member *model.Member
}

type VoiceEvent struct {
	TeamID    string
	ChannelID string
	UserID    string
	Channel   *model.Channel
}

type PresenceEvent struct {
	UserID   string
	Presence model.Presence
}

type UserUpdateEvent struct {
	User model.User
}

// DisconnectEvent is emitted when the gateway connection drops or the session stops.
type DisconnectEvent struct {
	Reason string
}

// RawEvent is every routed frame, known or not, after its handler ran.
type RawEvent struct {
	Name string
	Data json.RawMessage
}
