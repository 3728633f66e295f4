// Package model contains the Teamly domain records mirrored by the client cache.
//
// Records decode straight from the wire (camelCase JSON). Every record that
// carries slices or maps has a Clone method; the cache only ever hands out clones.
package model

import (
	"encoding/json"
	"slices"
)

// Presence is a user's online state as reported by PRESENCE_UPDATE.
type Presence int

const (
	PresenceOffline Presence = iota
	PresenceOnline
	PresenceIdle
	PresenceDoNotDisturb
)

func (p Presence) String() string {
	switch p {
	case PresenceOffline:
		return "offline"
	case PresenceOnline:
		return "online"
	case PresenceIdle:
		return "idle"
	case PresenceDoNotDisturb:
		return "dnd"
	default:
		return "unknown"
	}
}

// UserStatus is the free-form custom status line.
type UserStatus struct {
	Content string `json:"content,omitempty"`
	EmojiID string `json:"emojiId,omitempty"`
}

// User is a platform account. Bots are users with Bot=true.
type User struct {
	ID             string          `json:"id"`
	Username       string          `json:"username"`
	Subdomain      string          `json:"subdomain,omitempty"`
	ProfilePicture string          `json:"profilePicture,omitempty"`
	Banner         string          `json:"banner,omitempty"`
	Bot            bool            `json:"bot"`
	System         bool            `json:"system,omitempty"`
	Presence       Presence        `json:"presence"`
	Flags          string          `json:"flags,omitempty"`
	Badges         json.RawMessage `json:"badges,omitempty"`
	Status         *UserStatus     `json:"userStatus,omitempty"`
	Connections    []string        `json:"connections,omitempty"`
	CreatedAt      Timestamp       `json:"createdAt"`
}

// Clone returns a deep copy.
func (u User) Clone() User {
	out := u
	out.Badges = slices.Clone(u.Badges)
	out.Connections = slices.Clone(u.Connections)
	if u.Status != nil {
		st := *u.Status
		out.Status = &st
	}
	return out
}

// ApplyProfile overwrites the profile fields of u with those of p, keeping identity.
func (u *User) ApplyProfile(p User) {
	id := u.ID
	*u = p.Clone()
	u.ID = id
}

// ParseUser decodes a user record.
func ParseUser(raw json.RawMessage) (User, error) {
	return decodeRecord[User](raw, "user", func(u User) string { return u.ID })
}
