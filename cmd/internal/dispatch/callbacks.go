package dispatch

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultBacklogWarn is the queued-callback depth that triggers a warning.
const DefaultBacklogWarn = 1000

type slot[T any] struct {
	mu  sync.RWMutex
	fns []func(T)
}

func (s *slot[T]) add(fn func(T)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.fns = append(s.fns, fn)
	s.mu.Unlock()
}

func (s *slot[T]) snapshot() []func(T) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fns
}

// Registry holds the user callbacks, one slot per logical event. Every
// callback registered for an event runs, in registration order.
type Registry struct {
	ready           slot[ReadyEvent]
	message         slot[MessageEvent]
	messageUpdated  slot[MessageUpdateEvent]
	messageDeleted  slot[MessageDeleteEvent]
	reactionAdded   slot[ReactionEvent]
	reactionRemoved slot[ReactionEvent]
	channelCreated  slot[ChannelEvent]
	channelUpdated  slot[ChannelUpdateEvent]
	channelDeleted  slot[ChannelDeleteEvent]
	channelsReorder slot[ChannelsReorderEvent]
	teamUpdated     slot[TeamUpdateEvent]
	roleCreated     slot[RoleEvent]
	rolesUpdated    slot[RolesUpdateEvent]
	roleDeleted     slot[RoleDeleteEvent]
	memberJoined    slot[MemberEvent]
	memberLeft      slot[MemberLeaveEvent]
	memberUpdated   slot[MemberUpdateEvent]
	voiceJoined     slot[VoiceEvent]
	voiceLeft       slot[VoiceEvent]
	presenceUpdated slot[PresenceEvent]
	userUpdated     slot[UserUpdateEvent]
	disconnected    slot[DisconnectEvent]
	raw             slot[RawEvent]
}

// Callbacks is the Registry plus the emitter that runs queued calls.
//
// Callbacks run one at a time on the emitter goroutine, in the order their
// frames were received. The queue is unbounded so a slow callback never
// blocks the receive loop.
type Callbacks struct {
	Registry

	log *slog.Logger

	backlogWarn int
	metrics     *Metrics

	qmu   sync.Mutex
	queue []func()
	wake  chan struct{}
}

// NewCallbacks builds an empty registry. backlogWarn <= 0 uses DefaultBacklogWarn.
func NewCallbacks(log *slog.Logger, backlogWarn int, metrics *Metrics) *Callbacks {
	if log == nil {
		log = slog.Default()
	}
	if backlogWarn <= 0 {
		backlogWarn = DefaultBacklogWarn
	}
	return &Callbacks{
		log:         log,
		backlogWarn: backlogWarn,
		metrics:     metrics,
		wake:        make(chan struct{}, 1),
	}
}

func (r *Registry) OnReady(fn func(ReadyEvent)) { r.ready.add(fn) }
func (r *Registry) OnMessage(fn func(MessageEvent)) { r.message.add(fn) }
func (r *Registry) OnMessageUpdated(fn func(MessageUpdateEvent)) { r.messageUpdated.add(fn) }
func (r *Registry) OnMessageDeleted(fn func(MessageDeleteEvent)) { r.messageDeleted.add(fn) }
func (r *Registry) OnReactionAdded(fn func(ReactionEvent)) { r.reactionAdded.add(fn) }
func (r *Registry) OnReactionRemoved(fn func(ReactionEvent)) { r.reactionRemoved.add(fn) }
func (r *Registry) OnChannelCreated(fn func(ChannelEvent)) { r.channelCreated.add(fn) }
func (r *Registry) OnChannelUpdated(fn func(ChannelUpdateEvent)) { r.channelUpdated.add(fn) }
func (r *Registry) OnChannelDeleted(fn func(ChannelDeleteEvent)) { r.channelDeleted.add(fn) }
func (r *Registry) OnChannelsReordered(fn func(ChannelsReorderEvent)) { r.channelsReorder.add(fn) }
func (r *Registry) OnTeamUpdated(fn func(TeamUpdateEvent)) { r.teamUpdated.add(fn) }
func (r *Registry) OnRoleCreated(fn func(RoleEvent)) { r.roleCreated.add(fn) }
func (r *Registry) OnRolesUpdated(fn func(RolesUpdateEvent)) { r.rolesUpdated.add(fn) }
func (r *Registry) OnRoleDeleted(fn func(RoleDeleteEvent)) { r.roleDeleted.add(fn) }
func (r *Registry) OnMemberJoined(fn func(MemberEvent)) { r.memberJoined.add(fn) }
func (r *Registry) OnMemberLeft(fn func(MemberLeaveEvent)) { r.memberLeft.add(fn) }
func (r *Registry) OnMemberUpdated(fn func(MemberUpdateEvent)) { r.memberUpdated.add(fn) }
func (r *Registry) OnVoiceJoined(fn func(VoiceEvent)) { r.voiceJoined.add(fn) }
func (r *Registry) OnVoiceLeft(fn func(VoiceEvent)) { r.voiceLeft.add(fn) }
func (r *Registry) OnPresenceUpdated(fn func(PresenceEvent)) { r.presenceUpdated.add(fn) }
func (r *Registry) OnUserUpdated(fn func(UserUpdateEvent)) { r.userUpdated.add(fn) }
func (r *Registry) OnDisconnected(fn func(DisconnectEvent)) { r.disconnected.add(fn) }
func (r *Registry) OnEvent(fn func(RawEvent)) { r.raw.add(fn) }

// EmitDisconnected queues the disconnected callbacks.
func (c *Callbacks) EmitDisconnected(reason string) {
	emit(c, "disconnected", &c.disconnected, DisconnectEvent{Reason: reason})
}

// emit queues one call per registered callback. Nothing is queued when the slot is empty.
func emit[T any](c *Callbacks, name string, s *slot[T], ev T) {
	fns := s.snapshot()
	for _, fn := range fns {
		c.enqueue(name, func() { fn(ev) })
	}
}

func (c *Callbacks) enqueue(name string, call func()) {
	c.qmu.Lock()
	c.queue = append(c.queue, func() { c.invoke(name, call) })
	depth := len(c.queue)
	c.qmu.Unlock()

	c.metrics.setBacklog(depth)
	if depth > 0 && depth%c.backlogWarn == 0 {
		c.log.Warn("dispatch.callbacks.backlog", "depth", depth)
	}

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued callback invocations.
func (c *Callbacks) Pending() int {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	return len(c.queue)
}

// Discard drops every queued invocation and returns how many were dropped.
// A callback already running is not interrupted.
func (c *Callbacks) Discard() int {
	c.qmu.Lock()
	n := len(c.queue)
	clear(c.queue)
	c.queue = nil
	c.qmu.Unlock()

	c.metrics.setBacklog(0)
	return n
}

// Run executes queued callbacks in order until ctx is done, then drains what is already queued.
func (c *Callbacks) Run(ctx context.Context) {
	for {
		for c.runNext() {
		}
		select {
		case <-ctx.Done():
			for c.runNext() {
			}
			return
		case <-c.wake:
		}
	}
}

func (c *Callbacks) runNext() bool {
	c.qmu.Lock()
	if len(c.queue) == 0 {
		c.qmu.Unlock()
		return false
	}
	call := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	depth := len(c.queue)
	c.qmu.Unlock()

	c.metrics.setBacklog(depth)
	call()
	return true
}

func (c *Callbacks) invoke(name string, call func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("dispatch.callback.panic", "callback", name, "panic", r)
		}
	}()
	call()
}
