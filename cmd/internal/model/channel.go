package model

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// ChannelKind is the closed set of channel types.
type ChannelKind string

const (
	ChannelText         ChannelKind = "text"
	ChannelVoice        ChannelKind = "voice"
	ChannelTodo         ChannelKind = "todo"
	ChannelWatchstream  ChannelKind = "watchstream"
	ChannelAnnouncement ChannelKind = "announcement"
)

// Valid reports whether k is one of the known channel kinds.
func (k ChannelKind) Valid() bool {
	switch k {
	case ChannelText, ChannelVoice, ChannelTodo, ChannelWatchstream, ChannelAnnouncement:
		return true
	default:
		return false
	}
}

// PermissionOverwrite is the allow/deny bit pair for one role.
type PermissionOverwrite struct {
	RoleID string `json:"roleId,omitempty"`
	Allow  int64  `json:"allow"`
	Deny   int64  `json:"deny"`
}

// ChannelPermissions is a channel's permission overlay keyed by role id.
type ChannelPermissions struct {
	Role map[string]PermissionOverwrite `json:"role,omitempty"`
}

// ChannelExtras holds the watchstream settings.
type ChannelExtras struct {
	StreamChannel  string `json:"streamChannel,omitempty"`
	StreamPlatform string `json:"streamPlatform,omitempty"`
}

// Channel is a team-scoped conversation space.
//
// Participants is only meaningful for voice channels. It has set semantics:
// use AddParticipant and RemoveParticipant rather than editing it directly.
type Channel struct {
	ID               string             `json:"id"`
	Kind             ChannelKind        `json:"type"`
	TeamID           string             `json:"teamId"`
	Name             string             `json:"name"`
	Description      string             `json:"description,omitempty"`
	CreatedBy        string             `json:"createdBy,omitempty"`
	ParentID         string             `json:"parentId,omitempty"`
	Participants     []string           `json:"participants,omitempty"`
	Priority         float64            `json:"priority"`
	RateLimitPerUser int                `json:"rateLimitPerUser"`
	Permissions      ChannelPermissions `json:"permissions"`
	AdditionalData   *ChannelExtras     `json:"additionalData,omitempty"`
	CreatedAt        Timestamp          `json:"createdAt"`
}

// Clone returns a deep copy.
func (c Channel) Clone() Channel {
	out := c
	out.Participants = slices.Clone(c.Participants)
	out.Permissions.Role = maps.Clone(c.Permissions.Role)
	if c.AdditionalData != nil {
		ad := *c.AdditionalData
		out.AdditionalData = &ad
	}
	return out
}

// HasParticipant reports whether userID is in the voice participant set.
func (c *Channel) HasParticipant(userID string) bool {
	return slices.Contains(c.Participants, userID)
}

// AddParticipant inserts userID. It reports false when already present.
func (c *Channel) AddParticipant(userID string) bool {
	if userID == "" || c.HasParticipant(userID) {
		return false
	}
	c.Participants = append(c.Participants, userID)
	return true
}

// RemoveParticipant removes userID. Removing an absent id is a no-op that reports false.
func (c *Channel) RemoveParticipant(userID string) bool {
	i := slices.Index(c.Participants, userID)
	if i < 0 {
		return false
	}
	c.Participants = slices.Delete(c.Participants, i, i+1)
	return true
}

// ParseChannel decodes a channel record and rejects unknown kinds.
// Duplicate participant ids are collapsed.
func ParseChannel(raw json.RawMessage) (Channel, error) {
	c, err := decodeRecord[Channel](raw, "channel", func(c Channel) string { return c.ID })
	if err != nil {
		return c, err
	}
	if !c.Kind.Valid() {
		return c, fmt.Errorf("model: channel %s: unknown kind %q", c.ID, c.Kind)
	}
	if len(c.Participants) > 0 {
		ps := c.Participants
		c.Participants = nil
		for _, p := range ps {
			c.AddParticipant(p)
		}
	}
	return c, nil
}
