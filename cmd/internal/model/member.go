package model

import (
	"encoding/json"
	"slices"
)

// Member is a User as seen inside one team.
//
// Identity is (TeamID, User.ID). Roles has set semantics.
type Member struct {
	User
	JoinedAt Timestamp `json:"joinedAt"`
	Roles    []string  `json:"roles,omitempty"`
	TeamID   string    `json:"teamId"`
}

// Equal reports whether m and o are the same user. Members compare by user id only.
func (m Member) Equal(o Member) bool {
	return m.ID == o.ID
}

// Clone returns a deep copy.
func (m Member) Clone() Member {
	out := m
	out.User = m.User.Clone()
	out.Roles = slices.Clone(m.Roles)
	return out
}

// HasRole reports whether roleID is assigned.
func (m *Member) HasRole(roleID string) bool {
	return slices.Contains(m.Roles, roleID)
}

// AddRole assigns roleID. It reports false when already assigned.
func (m *Member) AddRole(roleID string) bool {
	if roleID == "" || m.HasRole(roleID) {
		return false
	}
	m.Roles = append(m.Roles, roleID)
	return true
}

// RemoveRole unassigns roleID. It reports false when it was not assigned.
func (m *Member) RemoveRole(roleID string) bool {
	i := slices.Index(m.Roles, roleID)
	if i < 0 {
		return false
	}
	m.Roles = slices.Delete(m.Roles, i, i+1)
	return true
}

// ParseMember decodes a member record. teamID fills TeamID when the record omits it.
func ParseMember(raw json.RawMessage, teamID string) (Member, error) {
	m, err := decodeRecord[Member](raw, "member", func(m Member) string { return m.ID })
	if err != nil {
		return m, err
	}
	if m.TeamID == "" {
		m.TeamID = teamID
	}
	return m, nil
}
