package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"teamly/cmd/internal/cache"
	"teamly/cmd/internal/model"
	v1 "teamly/shared/contracts/gateway/v1"
)

func TestNew_TableCoversKnownEvents(t *testing.T) {
	t.Parallel()

	d, _, _ := newTestDispatcher(t, nil)
	for _, name := range v1.KnownEvents {
		if !d.Handles(name) {
			t.Fatalf("no handler for %s", name)
		}
	}
	if d.Handles("SOMETHING_NEW") {
		t.Fatalf("unexpected handler for an unknown event")
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	c, err := cache.New(discardLogger(), &stubFetcher{}, cache.Options{})
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	if _, err := New(nil, nil, NewCallbacks(nil, 0, nil), nil); err == nil {
		t.Fatalf("expected error for nil cache")
	}
	if _, err := New(nil, c, nil, nil); err == nil {
		t.Fatalf("expected error for nil callbacks")
	}
}

func TestRoute_ReadyBootstrapsThenEmits(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{channels: map[string][]model.Channel{
		"t1": {{ID: "c1", TeamID: "t1", Kind: model.ChannelText}},
	}}
	d, c, cb := newTestDispatcher(t, f)

	var got []ReadyEvent
	cb.OnReady(func(ev ReadyEvent) { got = append(got, ev) })

	route(t, d, v1.EventReady, `{"user":{"id":"bot","username":"b","bot":true},"teams":[{"id":"t1","name":"one"}]}`)
	drain(cb)

	if len(got) != 1 {
		t.Fatalf("ready callbacks=%d want 1", len(got))
	}
	if got[0].User.ID != "bot" || len(got[0].Teams) != 1 || got[0].Teams[0].ID != "t1" {
		t.Fatalf("ready event=%+v", got[0])
	}
	if _, ok := c.Channel("t1", "c1"); !ok {
		t.Fatalf("bootstrap did not load channels")
	}
	if me, ok := c.Me(); !ok || me.ID != "bot" {
		t.Fatalf("client user not cached: %+v %v", me, ok)
	}
}

func TestRoute_ReadyReportsFailedBootstrap(t *testing.T) {
	t.Parallel()

	d, _, cb := newTestDispatcher(t, &stubFetcher{teamsErr: errors.New("503 from /teams")})

	readies := 0
	cb.OnReady(func(ReadyEvent) { readies++ })
	var raw []string
	cb.OnEvent(func(ev RawEvent) { raw = append(raw, ev.Name) })

	// No teams in the payload, so the list must be fetched.
	err := d.Route(context.Background(), v1.Frame{Type: v1.EventReady, Data: json.RawMessage(`{"user":{"id":"bot"}}`)})
	drain(cb)

	if err == nil {
		t.Fatalf("Route(READY) with failing team fetch returned nil")
	}
	if readies != 0 {
		t.Fatalf("ready callbacks=%d want 0", readies)
	}
	if !slices.Equal(raw, []string{v1.EventReady}) {
		t.Fatalf("raw events=%v", raw)
	}

	if err := d.Route(context.Background(), v1.Frame{Type: "SOMETHING_NEW", Data: json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("unknown event err=%v want nil", err)
	}
}

func TestRoute_MessageLifecycleInOrder(t *testing.T) {
	t.Parallel()

	d, c, cb := readyDispatcher(t)

	var order []string
	cb.OnMessage(func(MessageEvent) { order = append(order, "created") })
	cb.OnMessageUpdated(func(ev MessageUpdateEvent) {
		if ev.Before == nil || ev.Before.Content != "hello" {
			t.Errorf("updated.Before=%+v", ev.Before)
		}
		order = append(order, "updated")
	})
	cb.OnMessageDeleted(func(ev MessageDeleteEvent) {
		if ev.Message == nil || ev.Message.Content != "edited" {
			t.Errorf("deleted.Message=%+v", ev.Message)
		}
		order = append(order, "deleted")
	})

	route(t, d, v1.EventMessageSend, messageFrame("t1", "c1", "m1", "hello"))
	route(t, d, v1.EventMessageUpdated, messageFrame("t1", "c1", "m1", "edited"))

	if m, ok := c.CachedMessage("t1", "c1", "m1"); !ok || m.Content != "edited" {
		t.Fatalf("after update: %+v %v", m, ok)
	}

	route(t, d, v1.EventMessageDeleted, `{"teamId":"t1","channelId":"c1","messageId":"m1"}`)
	drain(cb)

	if !slices.Equal(order, []string{"created", "updated", "deleted"}) {
		t.Fatalf("callback order=%v", order)
	}
	if n := len(c.Messages("t1", "c1")); n != 0 {
		t.Fatalf("window len=%d want 0", n)
	}
}

func TestRoute_MessageWithoutTeamResolvesFromChannel(t *testing.T) {
	t.Parallel()

	d, c, cb := readyDispatcher(t)

	var teamID string
	cb.OnMessage(func(ev MessageEvent) { teamID = ev.TeamID })

	route(t, d, v1.EventMessageSend, `{"channelId":"c1","message":{"id":"m1","content":"x","createdBy":{"id":"u1"}}}`)
	drain(cb)

	if teamID != "t1" {
		t.Fatalf("resolved team=%q want t1", teamID)
	}
	if _, ok := c.CachedMessage("t1", "c1", "m1"); !ok {
		t.Fatalf("message not cached")
	}
}

func TestRoute_ChannelDeletedForUnknownChannel(t *testing.T) {
	t.Parallel()

	d, c, cb := readyDispatcher(t)

	var got []ChannelDeleteEvent
	cb.OnChannelDeleted(func(ev ChannelDeleteEvent) { got = append(got, ev) })

	route(t, d, v1.EventChannelDeleted, `{"teamId":"t1","channelId":"ghost"}`)
	drain(cb)

	if len(got) != 1 {
		t.Fatalf("channel_deleted callbacks=%d want 1", len(got))
	}
	if got[0].ChannelID != "ghost" || got[0].TeamID != "t1" || got[0].Channel != nil {
		t.Fatalf("event=%+v", got[0])
	}
	if _, ok := c.Channel("t1", "c1"); !ok {
		t.Fatalf("unrelated channel was removed")
	}
}

func TestRoute_ChannelCreateUpdateKeepsParticipants(t *testing.T) {
	t.Parallel()

	d, c, cb := readyDispatcher(t)

	var updates []ChannelUpdateEvent
	cb.OnChannelUpdated(func(ev ChannelUpdateEvent) { updates = append(updates, ev) })

	route(t, d, v1.EventChannelCreated, `{"teamId":"t1","channel":{"id":"v1","type":"voice","name":"lounge"}}`)
	route(t, d, v1.EventUserJoinedVoiceChannel, `{"teamId":"t1","channelId":"v1","userId":"u1"}`)
	route(t, d, v1.EventChannelUpdated, `{"teamId":"t1","channel":{"id":"v1","type":"voice","name":"renamed"}}`)
	drain(cb)

	ch, ok := c.Channel("t1", "v1")
	if !ok || ch.Name != "renamed" {
		t.Fatalf("channel=%+v ok=%v", ch, ok)
	}
	if !slices.Equal(ch.Participants, []string{"u1"}) {
		t.Fatalf("participants=%v want [u1]", ch.Participants)
	}
	if len(updates) != 1 || updates[0].Before == nil || updates[0].Before.Name != "lounge" {
		t.Fatalf("updates=%+v", updates)
	}
}

func TestRoute_VoiceJoinLeaveIdempotent(t *testing.T) {
	t.Parallel()

	d, c, cb := readyDispatcher(t)
	route(t, d, v1.EventChannelCreated, `{"teamId":"t1","channel":{"id":"va","type":"voice"}}`)
	route(t, d, v1.EventChannelCreated, `{"teamId":"t1","channel":{"id":"vb","type":"voice"}}`)

	var joins, leaves int
	cb.OnVoiceJoined(func(VoiceEvent) { joins++ })
	cb.OnVoiceLeft(func(VoiceEvent) { leaves++ })

	join := `{"teamId":"t1","channelId":"va","userId":"u1"}`
	route(t, d, v1.EventUserJoinedVoiceChannel, join)
	route(t, d, v1.EventUserJoinedVoiceChannel, join)
	if ch, _ := c.Channel("t1", "va"); !slices.Equal(ch.Participants, []string{"u1"}) {
		t.Fatalf("after double join: %v", ch.Participants)
	}

	route(t, d, v1.EventVoiceChannelMove, `{"teamId":"t1","userId":"u1","fromChannelId":"va","toChannelId":"vb"}`)
	if ch, _ := c.Channel("t1", "va"); len(ch.Participants) != 0 {
		t.Fatalf("va after move: %v", ch.Participants)
	}
	if ch, _ := c.Channel("t1", "vb"); !slices.Equal(ch.Participants, []string{"u1"}) {
		t.Fatalf("vb after move: %v", ch.Participants)
	}

	route(t, d, v1.EventUserLeftVoiceChannel, `{"teamId":"t1","channelId":"va","userId":"u1"}`)
	if ch, _ := c.Channel("t1", "va"); len(ch.Participants) != 0 {
		t.Fatalf("leaving an absent participant changed the set: %v", ch.Participants)
	}
	drain(cb)

	if joins != 3 || leaves != 2 {
		t.Fatalf("joins=%d leaves=%d want 3/2", joins, leaves)
	}
}

func TestRoute_MembersAndRoles(t *testing.T) {
	t.Parallel()

	d, c, cb := readyDispatcher(t)

	var memberUpdates []MemberUpdateEvent
	cb.OnMemberUpdated(func(ev MemberUpdateEvent) { memberUpdates = append(memberUpdates, ev) })

	route(t, d, v1.EventTeamRoleCreated, `{"teamId":"t1","role":{"id":"r1","name":"mod"}}`)
	route(t, d, v1.EventUserJoinedTeam, `{"teamId":"t1","member":{"id":"u1","username":"alice"}}`)
	route(t, d, v1.EventUserRoleAdded, `{"teamId":"t1","userId":"u1","roleId":"r1"}`)

	if m, ok := c.Member("t1", "u1"); !ok || !slices.Equal(m.Roles, []string{"r1"}) {
		t.Fatalf("member=%+v ok=%v", m, ok)
	}
	if r, ok := c.Role("t1", "r1"); !ok || r.TeamID != "t1" {
		t.Fatalf("role=%+v ok=%v", r, ok)
	}

	route(t, d, v1.EventTeamRoleDeleted, `{"teamId":"t1","roleId":"r1"}`)
	if m, _ := c.Member("t1", "u1"); len(m.Roles) != 0 {
		t.Fatalf("deleted role still assigned: %v", m.Roles)
	}

	route(t, d, v1.EventPresenceUpdate, `{"userId":"u1","presence":1}`)
	if m, _ := c.Member("t1", "u1"); m.Presence != model.PresenceOnline {
		t.Fatalf("presence=%v", m.Presence)
	}

	route(t, d, v1.EventUserLeftTeam, `{"teamId":"t1","userId":"u1"}`)
	if _, ok := c.Member("t1", "u1"); ok {
		t.Fatalf("member still cached after leaving")
	}
	drain(cb)

	if len(memberUpdates) != 1 || !memberUpdates[0].Added || memberUpdates[0].Member == nil {
		t.Fatalf("member updates=%+v", memberUpdates)
	}
}

func TestRoute_ClientUserLeavingDropsTeam(t *testing.T) {
	t.Parallel()

	d, c, _ := readyDispatcher(t)
	route(t, d, v1.EventUserLeftTeam, `{"teamId":"t1","userId":"bot"}`)

	if _, ok := c.Team("t1"); ok {
		t.Fatalf("team still cached after the client user left")
	}
}

func TestRoute_ReactionsOnCachedMessage(t *testing.T) {
	t.Parallel()

	d, c, cb := readyDispatcher(t)
	route(t, d, v1.EventMessageSend, messageFrame("t1", "c1", "m1", "hi"))

	var added []ReactionEvent
	cb.OnReactionAdded(func(ev ReactionEvent) { added = append(added, ev) })

	route(t, d, v1.EventMessageReactionAdded, `{"teamId":"t1","channelId":"c1","messageId":"m1","emojiId":"e1","reactedBy":{"id":"u2","username":"bob"}}`)
	m, _ := c.CachedMessage("t1", "c1", "m1")
	if len(m.Reactions) != 1 || !slices.Equal(m.Reactions[0].Users, []string{"u2"}) {
		t.Fatalf("reactions=%+v", m.Reactions)
	}

	route(t, d, v1.EventMessageReactionRemoved, `{"teamId":"t1","channelId":"c1","messageId":"m1","emojiId":"e1","userId":"u2"}`)
	m, _ = c.CachedMessage("t1", "c1", "m1")
	if len(m.Reactions) != 0 {
		t.Fatalf("reaction not removed: %+v", m.Reactions)
	}
	drain(cb)

	if len(added) != 1 || added[0].User.Username != "bob" || added[0].Message == nil {
		t.Fatalf("reaction events=%+v", added)
	}
}

func TestRoute_UnknownAndMalformedFrames(t *testing.T) {
	t.Parallel()

	d, c, cb := readyDispatcher(t)

	var raw []string
	cb.OnEvent(func(ev RawEvent) { raw = append(raw, ev.Name) })
	var messages int
	cb.OnMessage(func(MessageEvent) { messages++ })

	route(t, d, "future_event", `{"x":1}`)
	route(t, d, v1.EventMessageSend, `{"teamId":"t1","channelId":"c1","message":"not an object"}`)
	route(t, d, v1.EventMessageSend, ``)
	route(t, d, v1.EventTodoItemCreated, `{"id":"todo"}`)
	drain(cb)

	want := []string{"FUTURE_EVENT", v1.EventMessageSend, v1.EventMessageSend, v1.EventTodoItemCreated}
	if !slices.Equal(raw, want) {
		t.Fatalf("raw events=%v want %v", raw, want)
	}
	if messages != 0 {
		t.Fatalf("malformed frames must not reach typed callbacks, got %d", messages)
	}
	if n := len(c.Messages("t1", "c1")); n != 0 {
		t.Fatalf("malformed frames mutated the cache: %d", n)
	}
}

func TestCallbacks_RunInOrderAndSurvivePanics(t *testing.T) {
	t.Parallel()

	cb := NewCallbacks(discardLogger(), 0, nil)

	var (
		mu  sync.Mutex
		got []string
	)
	done := make(chan struct{})
	cb.OnPresenceUpdated(func(ev PresenceEvent) {
		if ev.UserID == "boom" {
			panic("callback failure")
		}
		mu.Lock()
		got = append(got, ev.UserID)
		n := len(got)
		mu.Unlock()
		if n == 3 {
			close(done)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cb.Run(ctx)

	for _, id := range []string{"a", "boom", "b", "c"} {
		emit(cb, "presence_updated", &cb.presenceUpdated, PresenceEvent{UserID: id})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("callbacks did not run")
	}

	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Fatalf("order=%v", got)
	}
}

func TestCallbacks_EmptySlotQueuesNothing(t *testing.T) {
	t.Parallel()

	cb := NewCallbacks(discardLogger(), 0, nil)
	cb.EmitDisconnected("closed")
	if n := cb.Pending(); n != 0 {
		t.Fatalf("pending=%d want 0", n)
	}

	cb.OnDisconnected(func(DisconnectEvent) {})
	cb.EmitDisconnected("closed")
	if n := cb.Pending(); n != 1 {
		t.Fatalf("pending=%d want 1", n)
	}
}

// ---- helpers ----

type stubFetcher struct {
	channels map[string][]model.Channel
	teamsErr error
}

func (f *stubFetcher) FetchTeams(context.Context) ([]model.Team, error) {
	return nil, f.teamsErr
}

func (f *stubFetcher) FetchChannels(_ context.Context, teamID string) ([]model.Channel, error) {
	return slices.Clone(f.channels[teamID]), nil
}

func (f *stubFetcher) FetchMembers(context.Context, string, string) (model.MemberPage, error) {
	return model.MemberPage{}, nil
}

func (f *stubFetcher) FetchMessages(context.Context, string, int, int) (model.MessagePage, error) {
	return model.MessagePage{}, nil
}

func (f *stubFetcher) FetchMessage(_ context.Context, channelID, messageID string) (model.Message, error) {
	return model.Message{}, fmt.Errorf("message %s/%s: %w", channelID, messageID, model.ErrNotFound)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatcher(t *testing.T, f *stubFetcher) (*Dispatcher, *cache.Cache, *Callbacks) {
	t.Helper()

	if f == nil {
		f = &stubFetcher{}
	}
	c, err := cache.New(discardLogger(), f, cache.Options{})
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	cb := NewCallbacks(discardLogger(), 0, nil)
	d, err := New(discardLogger(), c, cb, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d, c, cb
}

// readyDispatcher returns a dispatcher whose cache holds team t1 with text channel c1.
func readyDispatcher(t *testing.T) (*Dispatcher, *cache.Cache, *Callbacks) {
	t.Helper()

	f := &stubFetcher{channels: map[string][]model.Channel{
		"t1": {{ID: "c1", TeamID: "t1", Kind: model.ChannelText}},
	}}
	d, c, cb := newTestDispatcher(t, f)
	route(t, d, v1.EventReady, `{"user":{"id":"bot","username":"b","bot":true},"teams":[{"id":"t1","name":"one"}]}`)
	if _, ok := c.Channel("t1", "c1"); !ok {
		t.Fatalf("bootstrap did not load c1")
	}
	return d, c, cb
}

func route(t *testing.T, d *Dispatcher, name, data string) {
	t.Helper()
	d.Route(context.Background(), v1.Frame{Type: name, Data: json.RawMessage(data)})
}

func messageFrame(teamID, channelID, id, content string) string {
	return fmt.Sprintf(`{"teamId":%q,"channelId":%q,"message":{"id":%q,"channelId":%q,"type":"text","content":%q,"createdBy":{"id":"u1","username":"alice"}}}`,
		teamID, channelID, id, channelID, content)
}

// drain runs every queued callback on the calling goroutine.
func drain(cb *Callbacks) {
	for cb.runNext() {
	}
}
