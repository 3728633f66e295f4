package cache

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"teamly/cmd/internal/model"
)

const (
	// DefaultBootstrapMessageLimit is how many recent messages are fetched per text channel.
	DefaultBootstrapMessageLimit = 50

	// DefaultBootstrapConcurrency caps the number of teams loaded at once.
	DefaultBootstrapConcurrency = 4

	// Hard stop for member paging in case the server keeps returning the same cursor.
	maxMemberPages = 1000
)

// teamSnapshot is one team's sub-caches, built off-lock and committed in one step.
type teamSnapshot struct {
	channels map[string]*channelEntry
	members  map[string]*model.Member
}

// Bootstrap rebuilds the cache from scratch after READY.
//
// teams comes from the READY payload; when nil the list is fetched. Each team
// is loaded by its own unit (channels, all member pages, recent history of text
// channels). A failed unit is logged and its team stays cached with empty
// sub-caches; the other teams are unaffected. Bootstrap only returns an error
// when the team list itself cannot be obtained or ctx is done.
func (c *Cache) Bootstrap(ctx context.Context, me model.User, teams []model.Team) error {
	start := time.Now()
	defer func() { c.metrics.bootstrapped(time.Since(start)) }()

	c.mu.Lock()
	c.clearLocked()
	gen := c.gen
	u := me.Clone()
	c.me = &u
	c.mu.Unlock()

	if teams == nil {
		fetched, err := c.fetch.FetchTeams(ctx)
		if err != nil {
			c.log.Error("cache.bootstrap.teams.fail", "err", err)
			return fmt.Errorf("cache: fetch teams: %w", err)
		}
		teams = fetched
	}

	c.mu.Lock()
	for _, t := range teams {
		c.putTeamLocked(t)
	}
	c.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(c.concurrency)

	for _, t := range teams {
		teamID := t.ID
		g.Go(func() error {
			snap, err := c.loadTeam(ctx, teamID)
			if err != nil {
				c.metrics.teamFailed()
				c.log.Error("cache.bootstrap.team.fail", "team_id", teamID, "err", err)
				return nil
			}
			c.commitTeam(gen, teamID, snap)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	c.log.Info("cache.bootstrap.ok", "teams", len(teams), "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (c *Cache) commitTeam(gen uint64, teamID string, snap teamSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A Clear (disconnect) or a newer bootstrap happened meanwhile.
	if c.gen != gen || !c.teams.has(teamID) {
		return
	}
	c.channels.replaceTeam(teamID, snap.channels)
	c.members.replaceTeam(teamID, snap.members)
}

func (c *Cache) loadTeam(ctx context.Context, teamID string) (teamSnapshot, error) {
	chans, err := c.fetch.FetchChannels(ctx, teamID)
	if err != nil {
		return teamSnapshot{}, fmt.Errorf("fetch channels: %w", err)
	}

	members, err := c.loadMembers(ctx, teamID)
	if err != nil {
		return teamSnapshot{}, err
	}

	snap := teamSnapshot{
		channels: make(map[string]*channelEntry, len(chans)),
		members:  members,
	}
	for _, ch := range chans {
		if ch.TeamID == "" {
			ch.TeamID = teamID
		}
		e := &channelEntry{channel: ch.Clone(), window: c.newWindow()}
		snap.channels[ch.ID] = e

		if ch.Kind != model.ChannelText {
			continue
		}
		if err := c.loadHistory(ctx, e); err != nil {
			if ctx.Err() != nil {
				return teamSnapshot{}, ctx.Err()
			}
			c.log.Warn("cache.bootstrap.messages.fail", "team_id", teamID, "channel_id", ch.ID, "err", err)
		}
	}
	return snap, nil
}

func (c *Cache) loadMembers(ctx context.Context, teamID string) (map[string]*model.Member, error) {
	out := make(map[string]*model.Member)
	token := ""
	for range maxMemberPages {
		page, err := c.fetch.FetchMembers(ctx, teamID, token)
		if err != nil {
			return nil, fmt.Errorf("fetch members: %w", err)
		}
		for _, m := range page.Members {
			cp := m.Clone()
			if cp.TeamID == "" {
				cp.TeamID = teamID
			}
			out[cp.ID] = &cp
		}
		if page.Next == "" || page.Next == token {
			return out, nil
		}
		token = page.Next
	}
	c.log.Warn("cache.bootstrap.members.truncated", "team_id", teamID, "pages", maxMemberPages)
	return out, nil
}

// loadHistory fills a text channel's window: inlined reply targets first, then
// the page itself, each oldest first.
func (c *Cache) loadHistory(ctx context.Context, e *channelEntry) error {
	page, err := c.fetch.FetchMessages(ctx, e.channel.ID, 0, c.bootstrapLimit)
	if err != nil {
		return err
	}
	for _, batch := range [][]model.Message{page.Replies, page.Messages} {
		ordered := slices.Clone(batch)
		slices.SortStableFunc(ordered, func(a, b model.Message) int {
			return cmp.Compare(a.CreatedAt.UnixNano(), b.CreatedAt.UnixNano())
		})
		for _, m := range ordered {
			if m.ChannelID == "" {
				m.ChannelID = e.channel.ID
			}
			e.window.insert(m.Clone())
		}
	}
	return nil
}
