// Package dispatch turns decoded gateway frames into cache mutations and
// user callbacks.
//
// The event table is a static map built once in New. Frames are routed one at
// a time in receive order, so cache mutations follow frame order exactly;
// user callbacks are queued on Callbacks and run on its own goroutine.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"teamly/cmd/internal/cache"
	v1 "teamly/shared/contracts/gateway/v1"
)

type handlerFunc func(ctx context.Context, data json.RawMessage) error

// Dispatcher routes frames by event name.
type Dispatcher struct {
	log     *slog.Logger
	cache   *cache.Cache
	cb      *Callbacks
	metrics *Metrics

	handlers map[string]handlerFunc
}

// New builds a dispatcher over c. Callbacks are queued on cb.
func New(log *slog.Logger, c *cache.Cache, cb *Callbacks, metrics *Metrics) (*Dispatcher, error) {
	if c == nil {
		return nil, errors.New("dispatch: cache is required")
	}
	if cb == nil {
		return nil, errors.New("dispatch: callbacks are required")
	}
	if log == nil {
		log = slog.Default()
	}

	d := &Dispatcher{log: log, cache: c, cb: cb, metrics: metrics}
	d.handlers = map[string]handlerFunc{
		v1.EventReady: d.handleReady,

		v1.EventChannelCreated:          d.handleChannelCreated,
		v1.EventChannelUpdated:          d.handleChannelUpdated,
		v1.EventChannelDeleted:          d.handleChannelDeleted,
		v1.EventChannelsPriorityUpdated: d.handleChannelsPriority,

		v1.EventMessageSend:            d.handleMessageSend,
		v1.EventMessageUpdated:         d.handleMessageUpdated,
		v1.EventMessageDeleted:         d.handleMessageDeleted,
		v1.EventMessageReactionAdded:   d.handleReactionAdded,
		v1.EventMessageReactionRemoved: d.handleReactionRemoved,

		v1.EventPresenceUpdate: d.handlePresence,

		v1.EventTeamUpdated:      d.handleTeamUpdated,
		v1.EventTeamRoleCreated:  d.handleRoleCreated,
		v1.EventTeamRoleDeleted:  d.handleRoleDeleted,
		v1.EventTeamRolesUpdated: d.handleRolesUpdated,

		v1.EventUserJoinedTeam:           d.handleMemberJoined,
		v1.EventUserLeftTeam:             d.handleMemberLeft,
		v1.EventUserJoinedVoiceChannel:   d.handleVoiceJoined,
		v1.EventUserLeftVoiceChannel:     d.handleVoiceLeft,
		v1.EventVoiceChannelMove:         d.handleVoiceMove,
		v1.EventUserUpdatedVoiceMetadata: passthrough,
		v1.EventUserProfileUpdated:       d.handleProfileUpdated,
		v1.EventUserRoleAdded:            d.handleMemberRoleAdded,
		v1.EventUserRoleRemoved:          d.handleMemberRoleRemoved,

		// No cached state; observable through OnEvent only.
		v1.EventTodoItemCreated:           passthrough,
		v1.EventTodoItemUpdated:           passthrough,
		v1.EventTodoItemDeleted:           passthrough,
		v1.EventBlogCreated:               passthrough,
		v1.EventBlogDeleted:               passthrough,
		v1.EventCategoryCreated:           passthrough,
		v1.EventCategoryUpdated:           passthrough,
		v1.EventCategoryDeleted:           passthrough,
		v1.EventCategoriesPriorityUpdated: passthrough,
		v1.EventAnnouncementCreated:       passthrough,
		v1.EventAnnouncementDeleted:       passthrough,
		v1.EventApplicationCreated:        passthrough,
		v1.EventApplicationUpdated:        passthrough,
	}
	return d, nil
}

// Handles reports whether name has an entry in the event table.
func (d *Dispatcher) Handles(name string) bool {
	_, ok := d.handlers[name]
	return ok
}

// Route handles one frame and returns the handler's error. Unknown event names
// are ignored and return nil. A failing handler is logged; the frame is still
// forwarded to the raw event callbacks.
func (d *Dispatcher) Route(ctx context.Context, f v1.Frame) error {
	name := f.Name()

	var err error
	h, ok := d.handlers[name]
	if !ok {
		// Label collapsed so server-added names cannot grow the series count.
		d.metrics.routed("unknown", "ignored")
		d.log.Debug("dispatch.unknown_event", "event", name)
	} else if err = h(ctx, f.Data); err != nil {
		d.metrics.routed(name, "failed")
		d.log.Warn("dispatch.handler.fail", "event", name, "err", err)
	} else {
		d.metrics.routed(name, "handled")
	}

	emit(d.cb, "event", &d.cb.raw, RawEvent{Name: name, Data: slices.Clone(f.Data)})
	return err
}

// resolveTeam falls back to the cached owner of channelID when the payload omits the team.
func (d *Dispatcher) resolveTeam(teamID, channelID string) string {
	if teamID != "" {
		return teamID
	}
	id, _ := d.cache.ChannelTeam(channelID)
	return id
}

func decode[T any](data json.RawMessage) (T, error) {
	var p T
	if len(data) == 0 {
		return p, errors.New("empty payload")
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

func passthrough(context.Context, json.RawMessage) error { return nil }

func ptr[T any](v T, ok bool) *T {
	if !ok {
		return nil
	}
	return &v
}
