// Package cache holds the client's in-memory mirror of teams, channels,
// members, roles and recent messages.
//
// All state sits behind one RWMutex. Mutations are narrow: each touches exactly
// the entry an event implies, and a mutation whose parent (team or channel) is
// not cached is logged at debug and reported as false instead of failing.
// Reads return clones.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"teamly/cmd/internal/model"
)

// Fetcher is the subset of the resource client the cache needs for bootstrap and read-through.
type Fetcher interface {
	FetchTeams(ctx context.Context) ([]model.Team, error)
	FetchChannels(ctx context.Context, teamID string) ([]model.Channel, error)
	FetchMembers(ctx context.Context, teamID, pageToken string) (model.MemberPage, error)
	FetchMessages(ctx context.Context, channelID string, offset, limit int) (model.MessagePage, error)
	FetchMessage(ctx context.Context, channelID, messageID string) (model.Message, error)
}

// Options tunes a Cache. Zero values fall back to defaults.
type Options struct {
	MaxMessages           int
	BootstrapMessageLimit int
	BootstrapConcurrency  int
	Metrics               *Metrics
}

// Cache is the aggregate of the typed tables.
type Cache struct {
	log   *slog.Logger
	fetch Fetcher

	maxMessages    int
	bootstrapLimit int
	concurrency    int
	metrics        *Metrics

	mu       sync.RWMutex
	gen      uint64
	me       *model.User
	teams    TeamTable
	channels ChannelTable
	members  MemberTable
	roles    RoleTable
}

// New constructs an empty Cache.
func New(log *slog.Logger, fetch Fetcher, opts Options) (*Cache, error) {
	if fetch == nil {
		return nil, errors.New("cache: nil fetcher")
	}
	if log == nil {
		log = slog.Default()
	}

	c := &Cache{
		log:            log,
		fetch:          fetch,
		maxMessages:    opts.MaxMessages,
		bootstrapLimit: opts.BootstrapMessageLimit,
		concurrency:    opts.BootstrapConcurrency,
		metrics:        opts.Metrics,
		teams:          newTeamTable(),
		channels:       newChannelTable(),
		members:        newMemberTable(),
		roles:          newRoleTable(),
	}
	if c.maxMessages <= 0 {
		c.maxMessages = DefaultMaxMessages
	}
	if c.bootstrapLimit <= 0 {
		c.bootstrapLimit = DefaultBootstrapMessageLimit
	}
	if c.concurrency <= 0 {
		c.concurrency = DefaultBootstrapConcurrency
	}
	return c, nil
}

func (c *Cache) newWindow() *MessageWindow {
	return newMessageWindow(c.maxMessages, c.metrics.evicted)
}

// Clear drops everything, including the client user.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

func (c *Cache) clearLocked() {
	c.gen++
	c.me = nil
	c.teams = newTeamTable()
	c.channels = newChannelTable()
	c.members = newMemberTable()
	c.roles = newRoleTable()
}

// ---- reads ----

// Me returns the client's own user, known after READY.
func (c *Cache) Me() (model.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.me == nil {
		return model.User{}, false
	}
	return c.me.Clone(), true
}

// Team returns a cached team.
func (c *Cache) Team(teamID string) (model.Team, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.teams.get(teamID)
	if !ok {
		return model.Team{}, false
	}
	return t.Clone(), true
}

// Teams returns every cached team ordered by id.
func (c *Cache) Teams() []model.Team {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.teams.list()
}

// Channel returns a cached channel.
func (c *Cache) Channel(teamID, channelID string) (model.Channel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.channels.get(teamID, channelID)
	if !ok {
		return model.Channel{}, false
	}
	return e.channel.Clone(), true
}

// Channels returns a team's channels ordered by priority.
func (c *Cache) Channels(teamID string) []model.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels.list(teamID)
}

// ChannelTeam returns the id of the team that owns channelID.
func (c *Cache) ChannelTeam(channelID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels.team(channelID)
}

// Member returns a cached member.
func (c *Cache) Member(teamID, userID string) (model.Member, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.members.get(teamID, userID)
	if !ok {
		return model.Member{}, false
	}
	return m.Clone(), true
}

// Members returns a team's members ordered by user id.
func (c *Cache) Members(teamID string) []model.Member {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.members.list(teamID)
}

// Role returns a cached role.
func (c *Cache) Role(teamID, roleID string) (model.Role, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.roles.get(teamID, roleID)
	if !ok {
		return model.Role{}, false
	}
	return r.Clone(), true
}

// Roles returns a team's roles ordered by priority.
func (c *Cache) Roles(teamID string) []model.Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roles.list(teamID)
}

// Messages returns a channel's window, oldest first.
func (c *Cache) Messages(teamID, channelID string) []model.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.channels.get(teamID, channelID)
	if !ok {
		return nil
	}
	return e.window.snapshot()
}

// CachedMessage looks a message up in its window without going to the server.
func (c *Cache) CachedMessage(teamID, channelID, messageID string) (model.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cachedMessageLocked(teamID, channelID, messageID)
}

func (c *Cache) cachedMessageLocked(teamID, channelID, messageID string) (model.Message, bool) {
	e, ok := c.channels.get(teamID, channelID)
	if !ok {
		return model.Message{}, false
	}
	p, ok := e.window.peek(messageID)
	if !ok {
		return model.Message{}, false
	}
	return p.Clone(), true
}

// GetMessage returns a message from the window, or fetches it from the server on a miss.
// A fetched message is not inserted, so a miss never evicts anything.
// A message the server does not have yields (zero, false, nil).
func (c *Cache) GetMessage(ctx context.Context, teamID, channelID, messageID string) (model.Message, bool, error) {
	if m, ok := c.CachedMessage(teamID, channelID, messageID); ok {
		return m, true, nil
	}

	m, err := c.fetch.FetchMessage(ctx, channelID, messageID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		c.metrics.readThroughResult("not_found")
		return model.Message{}, false, nil
	case err != nil:
		c.metrics.readThroughResult("error")
		return model.Message{}, false, fmt.Errorf("cache: fetch message %s/%s: %w", channelID, messageID, err)
	}
	c.metrics.readThroughResult("hit")
	if m.ChannelID == "" {
		m.ChannelID = channelID
	}
	return m, true, nil
}

// ---- team mutations ----

// PutTeam inserts or replaces a team. A new team starts with empty sub-caches.
func (c *Cache) PutTeam(t model.Team) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putTeamLocked(t)
}

func (c *Cache) putTeamLocked(t model.Team) {
	c.teams.put(t)
	c.channels.ensureTeam(t.ID)
	c.members.ensureTeam(t.ID)
	c.roles.ensureTeam(t.ID)
}

// UpdateTeam replaces an existing team. It reports false when the team is not cached.
func (c *Cache) UpdateTeam(t model.Team) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.teams.has(t.ID) {
		c.missingParent("team", t.ID)
		return false
	}
	c.teams.put(t)
	return true
}

// RemoveTeam drops a team and everything under it.
func (c *Cache) RemoveTeam(teamID string) (model.Team, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.teams.remove(teamID)
	if !ok {
		return model.Team{}, false
	}
	c.channels.dropTeam(teamID)
	c.members.dropTeam(teamID)
	c.roles.dropTeam(teamID)
	return t, true
}

// ---- channel mutations ----

// PutChannel inserts or replaces a channel, keeping its message window.
// created is true when the channel was not cached before.
func (c *Cache) PutChannel(ch model.Channel) (created, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	created, ok = c.channels.put(ch, c.newWindow)
	if !ok {
		c.missingParent("team", ch.TeamID)
	}
	return created, ok
}

// RemoveChannel drops a channel and its window.
func (c *Cache) RemoveChannel(teamID, channelID string) (model.Channel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels.remove(teamID, channelID)
	if !ok {
		c.missingParent("channel", channelID)
	}
	return ch, ok
}

// ReorderChannels applies new priorities by channel id and returns the channels that changed.
func (c *Cache) ReorderChannels(teamID string, priorities map[string]float64) []model.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []model.Channel
	for id, p := range priorities {
		e, ok := c.channels.get(teamID, id)
		if !ok {
			c.missingParent("channel", id)
			continue
		}
		if e.channel.Priority == p {
			continue
		}
		e.channel.Priority = p
		out = append(out, e.channel.Clone())
	}
	sortChannels(out)
	return out
}

// JoinVoice adds userID to a voice channel's participants. Joining twice is a no-op.
func (c *Cache) JoinVoice(teamID, channelID, userID string) (model.Channel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.channels.get(teamID, channelID)
	if !ok {
		c.missingParent("channel", channelID)
		return model.Channel{}, false
	}
	e.channel.AddParticipant(userID)
	return e.channel.Clone(), true
}

// LeaveVoice removes userID from a voice channel's participants. Leaving when absent is a no-op.
func (c *Cache) LeaveVoice(teamID, channelID, userID string) (model.Channel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.channels.get(teamID, channelID)
	if !ok {
		c.missingParent("channel", channelID)
		return model.Channel{}, false
	}
	e.channel.RemoveParticipant(userID)
	return e.channel.Clone(), true
}

// ---- member mutations ----

// PutMember inserts or replaces a member. It reports false when the team is not cached.
func (c *Cache) PutMember(m model.Member) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.members.put(m) {
		c.missingParent("team", m.TeamID)
		return false
	}
	return true
}

// RemoveMember drops a member and removes them from the team's voice channels.
func (c *Cache) RemoveMember(teamID, userID string) (model.Member, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.members.remove(teamID, userID)
	if !ok {
		c.missingParent("member", userID)
		return model.Member{}, false
	}
	for _, e := range c.channels.byTeam[teamID] {
		e.channel.RemoveParticipant(userID)
	}
	return m, true
}

// AddMemberRole assigns roleID to a cached member.
func (c *Cache) AddMemberRole(teamID, userID, roleID string) (model.Member, bool) {
	return c.mutateMember(teamID, userID, func(m *model.Member) { m.AddRole(roleID) })
}

// RemoveMemberRole unassigns roleID from a cached member.
func (c *Cache) RemoveMemberRole(teamID, userID, roleID string) (model.Member, bool) {
	return c.mutateMember(teamID, userID, func(m *model.Member) { m.RemoveRole(roleID) })
}

func (c *Cache) mutateMember(teamID, userID string, fn func(*model.Member)) (model.Member, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.members.get(teamID, userID)
	if !ok {
		c.missingParent("member", userID)
		return model.Member{}, false
	}
	fn(m)
	return m.Clone(), true
}

// UpdatePresence sets userID's presence on every cached member and on the client user.
// It returns the members that changed.
func (c *Cache) UpdatePresence(userID string, p model.Presence) []model.Member {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.me != nil && c.me.ID == userID {
		c.me.Presence = p
	}
	var out []model.Member
	c.members.each(userID, func(m *model.Member) {
		m.Presence = p
		out = append(out, m.Clone())
	})
	return out
}

// UpdateUser applies a profile update to every cached member of that user and to the client user.
func (c *Cache) UpdateUser(u model.User) []model.Member {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.me != nil && c.me.ID == u.ID {
		c.me.ApplyProfile(u)
	}
	var out []model.Member
	c.members.each(u.ID, func(m *model.Member) {
		m.ApplyProfile(u)
		out = append(out, m.Clone())
	})
	return out
}

// ---- role mutations ----

// PutRole inserts or replaces a role. It reports false when the team is not cached.
func (c *Cache) PutRole(r model.Role) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.roles.put(r) {
		c.missingParent("team", r.TeamID)
		return false
	}
	return true
}

// ReplaceRoles swaps a team's whole role set.
func (c *Cache) ReplaceRoles(teamID string, roles []model.Role) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.teams.has(teamID) {
		c.missingParent("team", teamID)
		return false
	}
	c.roles.replaceTeam(teamID, roles)
	return true
}

// RemoveRole drops a role and unassigns it from the team's members.
func (c *Cache) RemoveRole(teamID, roleID string) (model.Role, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.roles.remove(teamID, roleID)
	if !ok {
		c.missingParent("role", roleID)
		return model.Role{}, false
	}
	for _, m := range c.members.byTeam[teamID] {
		m.RemoveRole(roleID)
	}
	return r, true
}

// ---- message mutations ----

// AddMessage inserts m as the newest message of its channel, evicting the oldest beyond capacity.
func (c *Cache) AddMessage(teamID string, m model.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.channels.get(teamID, m.ChannelID)
	if !ok {
		c.missingParent("channel", m.ChannelID)
		return false
	}
	e.window.insert(m.Clone())
	return true
}

// UpdateMessage replaces a cached message in place and returns the previous version.
// It is a no-op when the message is not cached.
func (c *Cache) UpdateMessage(teamID string, m model.Message) (model.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.channels.get(teamID, m.ChannelID)
	if !ok {
		c.missingParent("channel", m.ChannelID)
		return model.Message{}, false
	}
	return e.window.replace(m.Clone())
}

// DeleteMessage removes a cached message. It is a no-op when the message is not cached.
func (c *Cache) DeleteMessage(teamID, channelID, messageID string) (model.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.channels.get(teamID, channelID)
	if !ok {
		c.missingParent("channel", channelID)
		return model.Message{}, false
	}
	return e.window.remove(messageID)
}

// AddReaction records a reaction on a cached message.
func (c *Cache) AddReaction(teamID, channelID, messageID, emojiID, userID string) (model.Message, bool) {
	return c.mutateMessage(teamID, channelID, messageID, func(m *model.Message) { m.AddReaction(emojiID, userID) })
}

// RemoveReaction drops a reaction from a cached message.
func (c *Cache) RemoveReaction(teamID, channelID, messageID, emojiID, userID string) (model.Message, bool) {
	return c.mutateMessage(teamID, channelID, messageID, func(m *model.Message) { m.RemoveReaction(emojiID, userID) })
}

func (c *Cache) mutateMessage(teamID, channelID, messageID string, fn func(*model.Message)) (model.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.channels.get(teamID, channelID)
	if !ok {
		c.missingParent("channel", channelID)
		return model.Message{}, false
	}
	p, ok := e.window.peek(messageID)
	if !ok {
		return model.Message{}, false
	}
	fn(p)
	return p.Clone(), true
}

func (c *Cache) missingParent(kind, id string) {
	c.log.Debug("cache.missing_parent", "kind", kind, "id", id)
}
