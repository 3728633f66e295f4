package cache

import (
	"cmp"
	"slices"

	"teamly/cmd/internal/model"
)

// TeamTable maps team id to Team.
type TeamTable struct {
	byID map[string]*model.Team
}

func newTeamTable() TeamTable {
	return TeamTable{byID: make(map[string]*model.Team)}
}

func (t TeamTable) get(id string) (*model.Team, bool) {
	p, ok := t.byID[id]
	return p, ok
}

func (t TeamTable) has(id string) bool {
	_, ok := t.byID[id]
	return ok
}

func (t TeamTable) put(team model.Team) {
	cp := team.Clone()
	t.byID[team.ID] = &cp
}

func (t TeamTable) remove(id string) (model.Team, bool) {
	p, ok := t.byID[id]
	if !ok {
		return model.Team{}, false
	}
	delete(t.byID, id)
	return *p, true
}

func (t TeamTable) list() []model.Team {
	out := make([]model.Team, 0, len(t.byID))
	for _, p := range t.byID {
		out = append(out, p.Clone())
	}
	slices.SortFunc(out, func(a, b model.Team) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// channelEntry pairs a channel with its message window.
type channelEntry struct {
	channel model.Channel
	window  *MessageWindow
}

// ChannelTable maps team id to channel id to channel, plus a reverse index
// from channel id to owning team.
type ChannelTable struct {
	byTeam map[string]map[string]*channelEntry
	teamOf map[string]string
}

func newChannelTable() ChannelTable {
	return ChannelTable{
		byTeam: make(map[string]map[string]*channelEntry),
		teamOf: make(map[string]string),
	}
}

func (t ChannelTable) ensureTeam(teamID string) {
	if _, ok := t.byTeam[teamID]; !ok {
		t.byTeam[teamID] = make(map[string]*channelEntry)
	}
}

func (t ChannelTable) dropTeam(teamID string) {
	for id := range t.byTeam[teamID] {
		delete(t.teamOf, id)
	}
	delete(t.byTeam, teamID)
}

// replaceTeam swaps in a complete partition built off-lock.
func (t ChannelTable) replaceTeam(teamID string, entries map[string]*channelEntry) {
	t.dropTeam(teamID)
	t.byTeam[teamID] = entries
	for id := range entries {
		t.teamOf[id] = teamID
	}
}

func (t ChannelTable) get(teamID, channelID string) (*channelEntry, bool) {
	chans, ok := t.byTeam[teamID]
	if !ok {
		return nil, false
	}
	e, ok := chans[channelID]
	return e, ok
}

func (t ChannelTable) team(channelID string) (string, bool) {
	id, ok := t.teamOf[channelID]
	return id, ok
}

// put inserts or replaces ch, keeping an existing message window.
// It reports false when the team partition is missing.
func (t ChannelTable) put(ch model.Channel, newWindow func() *MessageWindow) (created, ok bool) {
	chans, ok := t.byTeam[ch.TeamID]
	if !ok {
		return false, false
	}
	if e, exists := chans[ch.ID]; exists {
		e.channel = ch.Clone()
		return false, true
	}
	chans[ch.ID] = &channelEntry{channel: ch.Clone(), window: newWindow()}
	t.teamOf[ch.ID] = ch.TeamID
	return true, true
}

func (t ChannelTable) remove(teamID, channelID string) (model.Channel, bool) {
	chans, ok := t.byTeam[teamID]
	if !ok {
		return model.Channel{}, false
	}
	e, ok := chans[channelID]
	if !ok {
		return model.Channel{}, false
	}
	delete(chans, channelID)
	delete(t.teamOf, channelID)
	return e.channel, true
}

func (t ChannelTable) list(teamID string) []model.Channel {
	chans := t.byTeam[teamID]
	out := make([]model.Channel, 0, len(chans))
	for _, e := range chans {
		out = append(out, e.channel.Clone())
	}
	sortChannels(out)
	return out
}

// sortChannels orders by priority, then id.
func sortChannels(cs []model.Channel) {
	slices.SortFunc(cs, func(a, b model.Channel) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// MemberTable maps team id to user id to member.
type MemberTable struct {
	byTeam map[string]map[string]*model.Member
}

func newMemberTable() MemberTable {
	return MemberTable{byTeam: make(map[string]map[string]*model.Member)}
}

func (t MemberTable) ensureTeam(teamID string) {
	if _, ok := t.byTeam[teamID]; !ok {
		t.byTeam[teamID] = make(map[string]*model.Member)
	}
}

func (t MemberTable) dropTeam(teamID string) {
	delete(t.byTeam, teamID)
}

func (t MemberTable) replaceTeam(teamID string, members map[string]*model.Member) {
	t.byTeam[teamID] = members
}

func (t MemberTable) get(teamID, userID string) (*model.Member, bool) {
	ms, ok := t.byTeam[teamID]
	if !ok {
		return nil, false
	}
	m, ok := ms[userID]
	return m, ok
}

func (t MemberTable) put(m model.Member) bool {
	ms, ok := t.byTeam[m.TeamID]
	if !ok {
		return false
	}
	cp := m.Clone()
	ms[m.ID] = &cp
	return true
}

func (t MemberTable) remove(teamID, userID string) (model.Member, bool) {
	ms, ok := t.byTeam[teamID]
	if !ok {
		return model.Member{}, false
	}
	m, ok := ms[userID]
	if !ok {
		return model.Member{}, false
	}
	delete(ms, userID)
	return *m, true
}

// each calls fn for every member of userID across all teams.
func (t MemberTable) each(userID string, fn func(*model.Member)) {
	for _, ms := range t.byTeam {
		if m, ok := ms[userID]; ok {
			fn(m)
		}
	}
}

func (t MemberTable) list(teamID string) []model.Member {
	ms := t.byTeam[teamID]
	out := make([]model.Member, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Clone())
	}
	slices.SortFunc(out, func(a, b model.Member) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// RoleTable maps team id to role id to role.
type RoleTable struct {
	byTeam map[string]map[string]*model.Role
}

func newRoleTable() RoleTable {
	return RoleTable{byTeam: make(map[string]map[string]*model.Role)}
}

func (t RoleTable) ensureTeam(teamID string) {
	if _, ok := t.byTeam[teamID]; !ok {
		t.byTeam[teamID] = make(map[string]*model.Role)
	}
}

func (t RoleTable) dropTeam(teamID string) {
	delete(t.byTeam, teamID)
}

func (t RoleTable) get(teamID, roleID string) (*model.Role, bool) {
	rs, ok := t.byTeam[teamID]
	if !ok {
		return nil, false
	}
	r, ok := rs[roleID]
	return r, ok
}

func (t RoleTable) put(r model.Role) bool {
	rs, ok := t.byTeam[r.TeamID]
	if !ok {
		return false
	}
	cp := r.Clone()
	rs[r.ID] = &cp
	return true
}

func (t RoleTable) remove(teamID, roleID string) (model.Role, bool) {
	rs, ok := t.byTeam[teamID]
	if !ok {
		return model.Role{}, false
	}
	r, ok := rs[roleID]
	if !ok {
		return model.Role{}, false
	}
	delete(rs, roleID)
	return *r, true
}

func (t RoleTable) replaceTeam(teamID string, roles []model.Role) {
	rs := make(map[string]*model.Role, len(roles))
	for _, r := range roles {
		cp := r.Clone()
		cp.TeamID = teamID
		rs[r.ID] = &cp
	}
	t.byTeam[teamID] = rs
}

func (t RoleTable) list(teamID string) []model.Role {
	rs := t.byTeam[teamID]
	out := make([]model.Role, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Clone())
	}
	slices.SortFunc(out, func(a, b model.Role) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}
