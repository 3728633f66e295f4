package archive

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"teamly/cmd/internal/dispatch"
	"teamly/cmd/internal/model"
)

// DefaultWriteTimeout bounds one archive write.
const DefaultWriteTimeout = 5 * time.Second

// Recorder copies message callbacks into a Store.
//
// Its callbacks run on the session's emitter goroutine, so every write is
// bounded by the write timeout. Failures are logged and dropped; the
// session never sees them.
type Recorder struct {
	log     *slog.Logger
	store   Store
	timeout time.Duration
	now     func() time.Time
}

// NewRecorder builds a Recorder. timeout <= 0 uses DefaultWriteTimeout.
func NewRecorder(log *slog.Logger, store Store, timeout time.Duration) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	return &Recorder{
		log:     log,
		store:   store,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Attach registers the recorder's callbacks.
func (r *Recorder) Attach(reg *dispatch.Registry) {
	reg.OnMessage(r.onMessage)
	reg.OnMessageUpdated(r.onMessageUpdated)
	reg.OnMessageDeleted(r.onMessageDeleted)
}

func (r *Recorder) onMessage(ev dispatch.MessageEvent) {
	r.save("created", ev.TeamID, ev.Message)
}

func (r *Recorder) onMessageUpdated(ev dispatch.MessageUpdateEvent) {
	r.save("updated", ev.TeamID, ev.After)
}

func (r *Recorder) onMessageDeleted(ev dispatch.MessageDeleteEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	res, err := r.store.MarkDeleted(ctx, DeleteInput{
		ChannelID: ev.ChannelID,
		MessageID: ev.MessageID,
		Now:       r.now(),
	})
	if err != nil {
		r.log.Warn("archive.delete.fail", "channel_id", ev.ChannelID, "message_id", ev.MessageID, "err", err)
		return
	}
	if !res.Found {
		r.log.Debug("archive.delete.unknown", "channel_id", ev.ChannelID, "message_id", ev.MessageID)
	}
}

func (r *Recorder) save(kind, teamID string, m model.Message) {
	payload, err := json.Marshal(m)
	if err != nil {
		r.log.Warn("archive.encode.fail", "kind", kind, "message_id", m.ID, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	res, err := r.store.SaveMessage(ctx, SaveInput{
		TeamID:    teamID,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		AuthorID:  m.CreatedBy.ID,
		Content:   m.Content,
		Payload:   payload,
		CreatedAt: m.CreatedAt.Time,
		EditedAt:  m.EditedAt.Time,
		Now:       r.now(),
	})
	if err != nil {
		r.log.Warn("archive.save.fail", "kind", kind, "channel_id", m.ChannelID, "message_id", m.ID, "err", err)
		return
	}
	r.log.Debug("archive.save.ok",
		"kind", kind,
		"channel_id", m.ChannelID,
		"message_id", m.ID,
		"seq", res.Stored.Seq,
		"created", res.Created,
	)
}
