// Package archive persists the message lifecycle the session observes on the gateway.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrInvalidInput is returned for records missing their channel or message id.
	ErrInvalidInput = errors.New("archive: invalid input")

	// ErrNilStore is returned by methods called on a nil store.
	ErrNilStore = errors.New("archive: nil store")
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// Record is the persisted form of one message.
//
// Seq is allocated per channel the first time a message is seen and never
// changes afterwards. Edits and deletes keep the original Seq.
type Record struct {
	TeamID    string
	ChannelID string
	MessageID string
	Seq       int64

	AuthorID string
	Content  string

	// Payload is the message as received, JSON encoded.
	Payload json.RawMessage

	CreatedAt time.Time
	EditedAt  time.Time
	DeletedAt time.Time

	// Revision counts writes: 1 on first sight, +1 for each edit or delete.
	Revision int64
}

// Deleted reports whether the message carries a tombstone.
func (r Record) Deleted() bool { return !r.DeletedAt.IsZero() }

// Store persists and queries archived messages.
//
// Requirements:
//   - SaveMessage is an upsert keyed by (channel_id, message_id)
//   - Seq is monotonic per channel with no gaps caused by re-saves
//   - MarkDeleted keeps the row and sets a tombstone
//   - History is ordered by seq ASC
type Store interface {
	SaveMessage(ctx context.Context, in SaveInput) (SaveResult, error)
	MarkDeleted(ctx context.Context, in DeleteInput) (DeleteResult, error)
	FetchHistory(ctx context.Context, in FetchHistoryInput) (FetchHistoryResult, error)
	Close() error
}

// SaveInput describes a created or edited message.
type SaveInput struct {
	TeamID    string
	ChannelID string
	MessageID string
	AuthorID  string
	Content   string
	Payload   json.RawMessage
	CreatedAt time.Time
	EditedAt  time.Time
	Now       time.Time
}

// SaveResult is the upsert result.
type SaveResult struct {
	Stored  Record
	Created bool
}

// DeleteInput identifies a deleted message.
type DeleteInput struct {
	ChannelID string
	MessageID string
	Now       time.Time
}

// DeleteResult reports the tombstoned record. Found is false when the
// message was never archived.
type DeleteResult struct {
	Stored Record
	Found  bool
}

// FetchHistoryInput describes a history query.
type FetchHistoryInput struct {
	ChannelID      string
	AfterSeq       *int64
	Limit          int
	IncludeDeleted bool
}

// FetchHistoryResult contains the retrieved history window.
type FetchHistoryResult struct {
	Records []Record
	HasMore bool
}

func (in SaveInput) validate() error {
	if in.ChannelID == "" || in.MessageID == "" {
		return ErrInvalidInput
	}
	return nil
}

func (in DeleteInput) validate() error {
	if in.ChannelID == "" || in.MessageID == "" {
		return ErrInvalidInput
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return min(limit, MaxHistoryLimit)
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
