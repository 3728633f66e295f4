// Package v1 defines the Teamly gateway wire contract: the frame envelope,
// the event names the server emits and the payload shells for each event.
//
// This package is dependency-light on purpose. Domain records inside payloads
// stay as json.RawMessage and are parsed by the model package.
package v1

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// Outbound control frame types.
const (
	// TypeHeartbeat keeps the gateway session alive (client -> server).
	TypeHeartbeat = "HEARTBEAT"
)

// Event names (server -> client). Wire-stable, compared upper-case.
const (
	EventReady = "READY"

	EventChannelCreated          = "CHANNEL_CREATED"
	EventChannelUpdated          = "CHANNEL_UPDATED"
	EventChannelDeleted          = "CHANNEL_DELETED"
	EventChannelsPriorityUpdated = "CHANNELS_PRIORITY_UPDATED"

	EventMessageSend            = "MESSAGE_SEND"
	EventMessageUpdated         = "MESSAGE_UPDATED"
	EventMessageDeleted         = "MESSAGE_DELETED"
	EventMessageReactionAdded   = "MESSAGE_REACTION_ADDED"
	EventMessageReactionRemoved = "MESSAGE_REACTION_REMOVED"

	EventPresenceUpdate = "PRESENCE_UPDATE"

	EventTeamUpdated      = "TEAM_UPDATED"
	EventTeamRoleCreated  = "TEAM_ROLE_CREATED"
	EventTeamRoleDeleted  = "TEAM_ROLE_DELETED"
	EventTeamRolesUpdated = "TEAM_ROLES_UPDATED"

	EventUserJoinedTeam           = "USER_JOINED_TEAM"
	EventUserLeftTeam             = "USER_LEFT_TEAM"
	EventUserJoinedVoiceChannel   = "USER_JOINED_VOICE_CHANNEL"
	EventUserLeftVoiceChannel     = "USER_LEFT_VOICE_CHANNEL"
	EventVoiceChannelMove         = "VOICE_CHANNEL_MOVE"
	EventUserUpdatedVoiceMetadata = "USER_UPDATED_VOICE_METADATA"
	EventUserProfileUpdated       = "USER_PROFILE_UPDATED"
	EventUserRoleAdded            = "USER_ROLE_ADDED"
	EventUserRoleRemoved          = "USER_ROLE_REMOVED"

	EventTodoItemCreated = "TODO_ITEM_CREATED"
	EventTodoItemUpdated = "TODO_ITEM_UPDATED"
	EventTodoItemDeleted = "TODO_ITEM_DELETED"

	EventBlogCreated = "BLOG_CREATED"
	EventBlogDeleted = "BLOG_DELETED"

	EventCategoryCreated           = "CATEGORY_CREATED"
	EventCategoryUpdated           = "CATEGORY_UPDATED"
	EventCategoryDeleted           = "CATEGORY_DELETED"
	EventCategoriesPriorityUpdated = "CATEGORIES_PRIORITY_UPDATED"

	EventAnnouncementCreated = "ANNOUNCEMENT_CREATED"
	EventAnnouncementDeleted = "ANNOUNCEMENT_DELETED"

	EventApplicationCreated = "APPLICATION_CREATED"
	EventApplicationUpdated = "APPLICATION_UPDATED"
)

// KnownEvents lists every event name the gateway is documented to emit.
var KnownEvents = []string{
	EventReady,
	EventChannelCreated,
	EventChannelUpdated,
	EventChannelDeleted,
	EventChannelsPriorityUpdated,
	EventMessageSend,
	EventMessageUpdated,
	EventMessageDeleted,
	EventMessageReactionAdded,
	EventMessageReactionRemoved,
	EventPresenceUpdate,
	EventTeamUpdated,
	EventTeamRoleCreated,
	EventTeamRoleDeleted,
	EventTeamRolesUpdated,
	EventUserJoinedTeam,
	EventUserLeftTeam,
	EventUserJoinedVoiceChannel,
	EventUserLeftVoiceChannel,
	EventVoiceChannelMove,
	EventUserUpdatedVoiceMetadata,
	EventUserProfileUpdated,
	EventUserRoleAdded,
	EventUserRoleRemoved,
	EventTodoItemCreated,
	EventTodoItemUpdated,
	EventTodoItemDeleted,
	EventBlogCreated,
	EventBlogDeleted,
	EventCategoryCreated,
	EventCategoryUpdated,
	EventCategoryDeleted,
	EventCategoriesPriorityUpdated,
	EventAnnouncementCreated,
	EventAnnouncementDeleted,
	EventApplicationCreated,
	EventApplicationUpdated,
}

// Frame is the canonical wire wrapper.
//
// The gateway writes {"t": ..., "d": ...}. Older payloads use {"type": ..., "data": ...};
// UnmarshalJSON accepts both.
type Frame struct {
	Type string          `json:"t"`
	Data json.RawMessage `json:"d"`
}

type frameAliases struct {
	T    string          `json:"t"`
	D    json.RawMessage `json:"d"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// UnmarshalJSON decodes either envelope spelling.
func (f *Frame) UnmarshalJSON(b []byte) error {
	var a frameAliases
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	f.Type = a.T
	if f.Type == "" {
		f.Type = a.Type
	}
	f.Data = a.D
	if len(f.Data) == 0 {
		f.Data = a.Data
	}
	return nil
}

// Name returns the normalized (upper-case, trimmed) event name.
func (f Frame) Name() string {
	return strings.ToUpper(strings.TrimSpace(f.Type))
}

// Validate performs structural validation for an inbound Frame.
func (f Frame) Validate() error {
	if f.Name() == "" {
		return errors.New("missing field: t")
	}
	return nil
}

var emptyObject = json.RawMessage(`{}`)

// NewHeartbeat builds the outbound heartbeat frame.
func NewHeartbeat() Frame {
	return Frame{Type: TypeHeartbeat, Data: emptyObject}
}

// DecodeFrame parses one inbound frame. Binary frames are expected to carry UTF-8 JSON.
func DecodeFrame(data []byte) (Frame, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Frame{}, errors.New("empty frame")
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, err
	}
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}
