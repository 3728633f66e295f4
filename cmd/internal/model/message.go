package model

import (
	"encoding/json"
	"slices"
)

// MessageReaction is the aggregated reaction state of one emoji on a message.
type MessageReaction struct {
	EmojiID string   `json:"emojiId"`
	Users   []string `json:"users,omitempty"`
}

// Mentions lists the entities a message mentions.
type Mentions struct {
	Users []string `json:"users,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// Message is a channel message.
//
// ReplyTo is an opaque message id; the referenced message may not be cached.
type Message struct {
	ID          string            `json:"id"`
	ChannelID   string            `json:"channelId"`
	Type        string            `json:"type"`
	Content     string            `json:"content,omitempty"`
	Attachments []json.RawMessage `json:"attachments,omitempty"`
	CreatedBy   User              `json:"createdBy"`
	EditedAt    Timestamp         `json:"editedAt"`
	ReplyTo     string            `json:"replyTo,omitempty"`
	Embeds      []json.RawMessage `json:"embeds,omitempty"`
	Emojis      []json.RawMessage `json:"emojis,omitempty"`
	Reactions   []MessageReaction `json:"reactions,omitempty"`
	Nonce       string            `json:"nonce,omitempty"`
	Mentions    Mentions          `json:"mentions"`
	CreatedAt   Timestamp         `json:"createdAt"`
}

// Clone returns a deep copy.
func (m Message) Clone() Message {
	out := m
	out.CreatedBy = m.CreatedBy.Clone()
	out.Attachments = cloneRaws(m.Attachments)
	out.Embeds = cloneRaws(m.Embeds)
	out.Emojis = cloneRaws(m.Emojis)
	if m.Reactions != nil {
		out.Reactions = make([]MessageReaction, len(m.Reactions))
		for i, r := range m.Reactions {
			r.Users = slices.Clone(r.Users)
			out.Reactions[i] = r
		}
	}
	out.Mentions.Users = slices.Clone(m.Mentions.Users)
	out.Mentions.Roles = slices.Clone(m.Mentions.Roles)
	return out
}

// AddReaction records userID reacting with emojiID. It reports false when already recorded.
func (m *Message) AddReaction(emojiID, userID string) bool {
	for i := range m.Reactions {
		r := &m.Reactions[i]
		if r.EmojiID != emojiID {
			continue
		}
		if slices.Contains(r.Users, userID) {
			return false
		}
		r.Users = append(r.Users, userID)
		return true
	}
	m.Reactions = append(m.Reactions, MessageReaction{EmojiID: emojiID, Users: []string{userID}})
	return true
}

// RemoveReaction drops userID's emojiID reaction. Emptied reactions are removed.
func (m *Message) RemoveReaction(emojiID, userID string) bool {
	for i := range m.Reactions {
		r := &m.Reactions[i]
		if r.EmojiID != emojiID {
			continue
		}
		j := slices.Index(r.Users, userID)
		if j < 0 {
			return false
		}
		r.Users = slices.Delete(r.Users, j, j+1)
		if len(r.Users) == 0 {
			m.Reactions = slices.Delete(m.Reactions, i, i+1)
		}
		return true
	}
	return false
}

// ParseMessage decodes a message record. channelID fills ChannelID when the record omits it.
func ParseMessage(raw json.RawMessage, channelID string) (Message, error) {
	m, err := decodeRecord[Message](raw, "message", func(m Message) string { return m.ID })
	if err != nil {
		return m, err
	}
	if m.ChannelID == "" {
		m.ChannelID = channelID
	}
	return m, nil
}

// Reaction is one user's reaction event on a message.
type Reaction struct {
	TeamID    string
	ChannelID string
	MessageID string
	EmojiID   string
	User      User
}

func cloneRaws(in []json.RawMessage) []json.RawMessage {
	if in == nil {
		return nil
	}
	out := make([]json.RawMessage, len(in))
	for i, r := range in {
		out[i] = slices.Clone(r)
	}
	return out
}
