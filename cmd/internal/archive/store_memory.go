package archive

import (
	"bytes"
	"cmp"
	"context"
	"slices"
	"sort"
	"sync"
)

const memMaxRecordsPerChannel = 10_000

// InMemoryStore is the Store used when no database is configured.
type InMemoryStore struct {
	mu       sync.Mutex
	channels map[string]*memChannel
}

type memChannel struct {
	seq     int64
	byID    map[string]int64 // message_id -> seq
	records []Record         // ordered by seq
}

// NewInMemoryStore constructs an in-memory Store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{channels: make(map[string]*memChannel)}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// SaveMessage inserts a message on first sight and overwrites its content afterwards.
func (s *InMemoryStore) SaveMessage(ctx context.Context, in SaveInput) (SaveResult, error) {
	if s == nil {
		return SaveResult{}, ErrNilStore
	}
	if err := in.validate(); err != nil {
		return SaveResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return SaveResult{}, err
	}
	now := nowOr(in.Now)

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.channels[in.ChannelID]
	if c == nil {
		c = &memChannel{byID: make(map[string]int64), records: make([]Record, 0, 64)}
		s.channels[in.ChannelID] = c
	}

	if seq, ok := c.byID[in.MessageID]; ok {
		if i, found := c.index(seq); found {
			r := &c.records[i]
			r.Content = in.Content
			r.Payload = bytes.Clone(in.Payload)
			if !in.EditedAt.IsZero() {
				r.EditedAt = in.EditedAt.UTC()
			}
			if r.TeamID == "" {
				r.TeamID = in.TeamID
			}
			r.Revision++
			return SaveResult{Stored: cloneRecord(*r)}, nil
		}
	}

	c.seq++
	created := in.CreatedAt
	if created.IsZero() {
		created = now
	}
	r := Record{
		TeamID:    in.TeamID,
		ChannelID: in.ChannelID,
		MessageID: in.MessageID,
		Seq:       c.seq,
		AuthorID:  in.AuthorID,
		Content:   in.Content,
		Payload:   bytes.Clone(in.Payload),
		CreatedAt: created.UTC(),
		Revision:  1,
	}
	if !in.EditedAt.IsZero() {
		r.EditedAt = in.EditedAt.UTC()
	}
	c.byID[in.MessageID] = r.Seq
	c.records = append(c.records, r)

	if len(c.records) > memMaxRecordsPerChannel {
		for _, old := range c.records[:len(c.records)-memMaxRecordsPerChannel] {
			delete(c.byID, old.MessageID)
		}
		c.records = slices.Clone(c.records[len(c.records)-memMaxRecordsPerChannel:])
	}

	return SaveResult{Stored: cloneRecord(r), Created: true}, nil
}

// MarkDeleted sets the tombstone on an archived message. Deleting twice keeps the first timestamp.
func (s *InMemoryStore) MarkDeleted(ctx context.Context, in DeleteInput) (DeleteResult, error) {
	if s == nil {
		return DeleteResult{}, ErrNilStore
	}
	if err := in.validate(); err != nil {
		return DeleteResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return DeleteResult{}, err
	}
	now := nowOr(in.Now)

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.channels[in.ChannelID]
	if c == nil {
		return DeleteResult{}, nil
	}
	seq, ok := c.byID[in.MessageID]
	if !ok {
		return DeleteResult{}, nil
	}
	i, found := c.index(seq)
	if !found {
		return DeleteResult{}, nil
	}
	r := &c.records[i]
	if r.DeletedAt.IsZero() {
		r.DeletedAt = now
		r.Revision++
	}
	return DeleteResult{Stored: cloneRecord(*r), Found: true}, nil
}

// FetchHistory returns records ordered by seq ASC with paging via AfterSeq.
func (s *InMemoryStore) FetchHistory(ctx context.Context, in FetchHistoryInput) (FetchHistoryResult, error) {
	if s == nil {
		return FetchHistoryResult{}, ErrNilStore
	}
	if in.ChannelID == "" {
		return FetchHistoryResult{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return FetchHistoryResult{}, err
	}
	limit := clampLimit(in.Limit)

	s.mu.Lock()
	var snap []Record
	if c := s.channels[in.ChannelID]; c != nil {
		start := 0
		if in.AfterSeq != nil {
			after := *in.AfterSeq
			start = sort.Search(len(c.records), func(i int) bool { return c.records[i].Seq > after })
		}
		for _, r := range c.records[start:] {
			if r.Deleted() && !in.IncludeDeleted {
				continue
			}
			snap = append(snap, cloneRecord(r))
			if len(snap) > limit {
				break
			}
		}
	}
	s.mu.Unlock()

	hasMore := len(snap) > limit
	if hasMore {
		snap = snap[:limit]
	}
	return FetchHistoryResult{Records: snap, HasMore: hasMore}, nil
}

func (c *memChannel) index(seq int64) (int, bool) {
	return sort.Find(len(c.records), func(i int) int { return cmp.Compare(seq, c.records[i].Seq) })
}

func cloneRecord(r Record) Record {
	r.Payload = bytes.Clone(r.Payload)
	return r
}
