package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"teamly/cmd/internal/model"
	v1 "teamly/shared/contracts/gateway/v1"
)

// ---- session ----

func (d *Dispatcher) handleReady(ctx context.Context, data json.RawMessage) error {
	p, err := decode[v1.ReadyPayload](data)
	if err != nil {
		return err
	}
	me, err := model.ParseUser(p.User)
	if err != nil {
		return err
	}

	// nil asks the cache to fetch the team list itself.
	var teams []model.Team
	if p.Teams != nil {
		teams = make([]model.Team, 0, len(p.Teams))
		for _, raw := range p.Teams {
			t, err := model.ParseTeam(raw)
			if err != nil {
				d.log.Warn("dispatch.ready.team.skip", "err", err)
				continue
			}
			teams = append(teams, t)
		}
	}

	if err := d.cache.Bootstrap(ctx, me, teams); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	emit(d.cb, "ready", &d.cb.ready, ReadyEvent{User: me, Teams: d.cache.Teams()})
	return nil
}

// ---- channels ----

func (d *Dispatcher) parseChannel(data json.RawMessage) (model.Channel, error) {
	p, err := decode[v1.ChannelPayload](data)
	if err != nil {
		return model.Channel{}, err
	}
	ch, err := model.ParseChannel(p.Channel)
	if err != nil {
		return model.Channel{}, err
	}
	if ch.TeamID == "" {
		ch.TeamID = p.TeamID
	}
	return ch, nil
}

func (d *Dispatcher) handleChannelCreated(_ context.Context, data json.RawMessage) error {
	ch, err := d.parseChannel(data)
	if err != nil {
		return err
	}
	d.cache.PutChannel(ch)
	emit(d.cb, "channel_created", &d.cb.channelCreated, ChannelEvent{Channel: ch})
	return nil
}

func (d *Dispatcher) handleChannelUpdated(_ context.Context, data json.RawMessage) error {
	ch, err := d.parseChannel(data)
	if err != nil {
		return err
	}
	before := ptr(d.cache.Channel(ch.TeamID, ch.ID))

	// The update carries no participants; keep the tracked voice state.
	if before != nil && len(ch.Participants) == 0 {
		ch.Participants = before.Participants
	}
	d.cache.PutChannel(ch)
	emit(d.cb, "channel_updated", &d.cb.channelUpdated, ChannelUpdateEvent{Before: before, After: ch})
	return nil
}

func (d *Dispatcher) handleChannelDeleted(_ context.Context, data json.RawMessage) error {
	p, err := decode[v1.ChannelDeletedPayload](data)
	if err != nil {
		return err
	}
	teamID := d.resolveTeam(p.TeamID, p.ChannelID)
	removed := ptr(d.cache.RemoveChannel(teamID, p.ChannelID))
	emit(d.cb, "channel_deleted", &d.cb.channelDeleted, ChannelDeleteEvent{
		TeamID:    teamID,
		ChannelID: p.ChannelID,
		Channel:   removed,
	})
	return nil
}

func (d *Dispatcher) handleChannelsPriority(_ context.Context, data json.RawMessage) error {
	p, err := decode[v1.ChannelsPriorityPayload](data)
	if err != nil {
		return err
	}
	priorities := make(map[string]float64, len(p.Channels))
	for _, c := range p.Channels {
		priorities[c.ID] = c.Priority
	}
	d.cache.ReorderChannels(p.TeamID, priorities)
	emit(d.cb, "channels_reordered", &d.cb.channelsReorder, ChannelsReorderEvent{
		TeamID:   p.TeamID,
		Channels: d.cache.Channels(p.TeamID),
	})
	return nil
}

// ---- messages ----

func (d *Dispatcher) parseMessage(data json.RawMessage) (string, model.Message, error) {
	p, err := decode[v1.MessagePayload](data)
	if err != nil {
		return "", model.Message{}, err
	}
	m, err := model.ParseMessage(p.Message, p.ChannelID)
	if err != nil {
		return "", model.Message{}, err
	}
	return d.resolveTeam(p.TeamID, m.ChannelID), m, nil
}

func (d *Dispatcher) handleMessageSend(_ context.Context, data json.RawMessage) error {
	teamID, m, err := d.parseMessage(data)
	if err != nil {
		return err
	}
	d.cache.AddMessage(teamID, m)
	emit(d.cb, "message", &d.cb.message, MessageEvent{TeamID: teamID, Message: m})
	return nil
}

func (d *Dispatcher) handleMessageUpdated(_ context.Context, data json.RawMessage) error {
	teamID, m, err := d.parseMessage(data)
	if err != nil {
		return err
	}
	before := ptr(d.cache.UpdateMessage(teamID, m))
	emit(d.cb, "message_updated", &d.cb.messageUpdated, MessageUpdateEvent{
		TeamID: teamID,
		Before: before,
		After:  m,
	})
	return nil
}

func (d *Dispatcher) handleMessageDeleted(_ context.Context, data json.RawMessage) error {
	p, err := decode[v1.MessageDeletedPayload](data)
	if err != nil {
		return err
	}
	teamID := d.resolveTeam(p.TeamID, p.ChannelID)
	removed := ptr(d.cache.DeleteMessage(teamID, p.ChannelID, p.MessageID))
	emit(d.cb, "message_deleted", &d.cb.messageDeleted, MessageDeleteEvent{
		TeamID:    teamID,
		ChannelID: p.ChannelID,
		MessageID: p.MessageID,
		Message:   removed,
	})
	return nil
}

func (d *Dispatcher) parseReaction(data json.RawMessage) (model.Reaction, error) {
	p, err := decode[v1.ReactionPayload](data)
	if err != nil {
		return model.Reaction{}, err
	}

	var user model.User
	switch {
	case len(p.ReactedBy) > 0 && string(p.ReactedBy) != "null":
		user, err = model.ParseUser(p.ReactedBy)
		if err != nil {
			return model.Reaction{}, err
		}
	case p.UserID != "":
		user = model.User{ID: p.UserID}
	default:
		return model.Reaction{}, errors.New("reaction without user")
	}

	return model.Reaction{
		TeamID:    d.resolveTeam(p.TeamID, p.ChannelID),
		ChannelID: p.ChannelID,
		MessageID: p.MessageID,
		EmojiID:   p.EmojiID,
		User:      user,
	}, nil
}

func (d *Dispatcher) handleReactionAdded(_ context.Context, data json.RawMessage) error {
	r, err := d.parseReaction(data)
	if err != nil {
		return err
	}
	msg := ptr(d.cache.AddReaction(r.TeamID, r.ChannelID, r.MessageID, r.EmojiID, r.User.ID))
	emit(d.cb, "reaction_added", &d.cb.reactionAdded, ReactionEvent{Reaction: r, Message: msg})
	return nil
}

func (d *Dispatcher) handleReactionRemoved(_ context.Context, data json.RawMessage) error {
	r, err := d.parseReaction(data)
	if err != nil {
		return err
	}
	msg := ptr(d.cache.RemoveReaction(r.TeamID, r.ChannelID, r.MessageID, r.EmojiID, r.User.ID))
	emit(d.cb, "reaction_removed", &d.cb.reactionRemoved, ReactionEvent{Reaction: r, Message: msg})
	return nil
}

// ---- users ----

func (d *Dispatcher) handlePresence(_ context.Context, data json.RawMessage) error {
	p, err := decode[v1.PresencePayload](data)
	if err != nil {
		return err
	}
	if p.UserID == "" {
		return errors.New("presence without user")
	}
	presence := model.Presence(p.Presence)
	d.cache.UpdatePresence(p.UserID, presence)
	emit(d.cb, "presence_updated", &d.cb.presenceUpdated, PresenceEvent{UserID: p.UserID, Presence: presence})
	return nil
}

func (d *Dispatcher) handleProfileUpdated(_ context.Context, data json.RawMessage) error {
	p, err := decode[v1.UserProfilePayload](data)
	if err != nil {
		return err
	}
	u, err := model.ParseUser(p.User)
	if err != nil {
		return err
	}
	d.cache.UpdateUser(u)
	emit(d.cb, "user_updated", &d.cb.userUpdated, UserUpdateEvent{User: u})
	return nil
}

// ---- teams and roles ----

func (d *Dispatcher) handleTeamUpdated(_ context.Context, data json.RawMessage) error {
	p, err := decode[v1.TeamPayload](data)
	if err != nil {
		return err
	}
	t, err := model.ParseTeam(p.Team)
	if err != nil {
		return err
	}
	before := ptr(d.cache.Team(t.ID))
	d.cache.UpdateTeam(t)
	emit(d.cb, "team_updated", &d.cb.teamUpdated, TeamUpdateEvent{Before: before, After: t})
	return nil
}

func (d *Dispatcher) handleRoleCreated(_ context.Context, data json.RawMessage) error {
	p, err := decode[v1.RolePayload](data)
	if err != nil {
		return err
	}
	r, err := model.ParseRole(p.Role)
	if err != nil {
		return err
	}
	if r.TeamID == "" {
		r.TeamID = p.TeamID
	}
	d.cache.PutRole(r)
	emit(d.cb, "role_created", &d.cb.roleCreated, RoleEvent{Role: r})
	return nil
}

func (d *Dispatcher) handleRolesUpdated(_ context.Context, data json.RawMessage) error {
	p, err := decode[v1.RolesPayload](data)
	if err != nil {
		return err
	}
	roles := make([]model.Role, 0, len(p.Roles))
	for _, raw := range p.Roles {
		r, err := model.ParseRole(raw)
		if err != nil {
			return err
		}
		if r.TeamID == "" {
			r.TeamID = p.TeamID
		}
		roles = append(roles, r)
	}
	d.cache.ReplaceRoles(p.TeamID, roles)
	emit(d.cb, "role_updated", &d.cb.rolesUpdated, RolesUpdateEvent{TeamID: p.TeamID, Roles: roles})
	return nil
}

func (d *Dispatcher) handleRoleDeleted(_ context.Context, data json.RawMessage) error {
	p, err := decode[v1.RoleDeletedPayload](data)
	if err != nil {
		return err
	}
	removed := ptr(d.cache.RemoveRole(p.TeamID, p.RoleID))
	emit(d.cb, "role_deleted", &d.cb.roleDeleted, RoleDeleteEvent{TeamID: p.TeamID, RoleID: p.RoleID, Role: removed})
	return nil
}

// ---- members ----

func (d *Dispatcher) handleMemberJoined(_ context.Context, data json.RawMessage) error {
	p, err := decode[v1.MemberJoinedPayload](data)
	if err != nil {
		return err
	}
	m, err := model.ParseMember(p.Member, p.TeamID)
	if err != nil {
		return err
	}
	d.cache.PutMember(m)
	emit(d.cb, "member_joined", &d.cb.memberJoined, MemberEvent{Member: m})
	return nil
}

func (d *Dispatcher) handleMemberLeft(_ context.Context, data json.RawMessage) error {
	p, err := decode[v1.MemberLeftPayload](data)
	if err != nil {
		return err
	}
	removed := ptr(d.cache.RemoveMember(p.TeamID, p.UserID))

	// The client user leaving takes the whole team out of the mirror.
	if me, ok := d.cache.Me(); ok && me.ID == p.UserID {
		d.cache.RemoveTeam(p.TeamID)
	}
	emit(d.cb, "member_left", &d.cb.memberLeft, MemberLeaveEvent{TeamID: p.TeamID, UserID: p.UserID, Member: removed})
	return nil
}

func (d *Dispatcher) handleMemberRoleAdded(_ context.Context, data json.RawMessage) error {
	return d.memberRole(data, true)
}

func (d *Dispatcher) handleMemberRoleRemoved(_ context.Context, data json.RawMessage) error {
	return d.memberRole(data, false)
}

func (d *Dispatcher) memberRole(data json.RawMessage, added bool) error {
	p, err := decode[v1.MemberRolePayload](data)
	if err != nil {
		return err
	}
	var (
		m  model.Member
		ok bool
	)
	if added {
		m, ok = d.cache.AddMemberRole(p.TeamID, p.UserID, p.RoleID)
	} else {
		m, ok = d.cache.RemoveMemberRole(p.TeamID, p.UserID, p.RoleID)
	}
	emit(d.cb, "member_updated", &d.cb.memberUpdated, MemberUpdateEvent{
		TeamID: p.TeamID,
		UserID: p.UserID,
		RoleID: p.RoleID,
		Added:  added,
		Member: ptr(m, ok),
	})
	return nil
}

// ---- voice ----

func (d *Dispatcher) handleVoiceJoined(_ context.Context, data json.RawMessage) error {
	p, err := decode[v1.VoicePayload](data)
	if err != nil {
		return err
	}
	d.voiceJoin(d.resolveTeam(p.TeamID, p.ChannelID), p.ChannelID, p.UserID)
	return nil
}

func (d *Dispatcher) handleVoiceLeft(_ context.Context, data json.RawMessage) error {
	p, err := decode[v1.VoicePayload](data)
	if err != nil {
		return err
	}
	d.voiceLeave(d.resolveTeam(p.TeamID, p.ChannelID), p.ChannelID, p.UserID)
	return nil
}

// handleVoiceMove is a leave of the old channel followed by a join of the new one.
func (d *Dispatcher) handleVoiceMove(_ context.Context, data json.RawMessage) error {
	p, err := decode[v1.VoiceMovePayload](data)
	if err != nil {
		return err
	}
	if p.FromChannelID != "" {
		d.voiceLeave(d.resolveTeam(p.TeamID, p.FromChannelID), p.FromChannelID, p.UserID)
	}
	if p.ToChannelID != "" {
		d.voiceJoin(d.resolveTeam(p.TeamID, p.ToChannelID), p.ToChannelID, p.UserID)
	}
	return nil
}

func (d *Dispatcher) voiceJoin(teamID, channelID, userID string) {
	ch := ptr(d.cache.JoinVoice(teamID, channelID, userID))
	emit(d.cb, "voice_joined", &d.cb.voiceJoined, VoiceEvent{TeamID: teamID, ChannelID: channelID, UserID: userID, Channel: ch})
}

func (d *Dispatcher) voiceLeave(teamID, channelID, userID string) {
	ch := ptr(d.cache.LeaveVoice(teamID, channelID, userID))
	emit(d.cb, "voice_left", &d.cb.voiceLeft, VoiceEvent{TeamID: teamID, ChannelID: channelID, UserID: userID, Channel: ch})
}
