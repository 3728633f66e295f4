package cache

import (
	"github.com/hashicorp/golang-lru/v2/simplelru"

	"teamly/cmd/internal/model"
)

// DefaultMaxMessages is the per-channel window capacity.
const DefaultMaxMessages = 100

// MessageWindow is a bounded, insertion-ordered message store for one channel.
//
// Reads never reorder entries: the backing LRU is only read through Peek,
// Keys and Values, so eviction is strictly FIFO on insertion order.
// Re-inserting an id makes it the newest entry; replace keeps its position.
type MessageWindow struct {
	lru     *simplelru.LRU[string, *model.Message]
	onEvict func()
}

func newMessageWindow(size int, onEvict func()) *MessageWindow {
	if size <= 0 {
		size = DefaultMaxMessages
	}
	lru, err := simplelru.NewLRU[string, *model.Message](size, nil)
	if err != nil {
		// NewLRU only fails for a non-positive size.
		panic(err)
	}
	return &MessageWindow{lru: lru, onEvict: onEvict}
}

// insert stores m as the newest entry, evicting the oldest beyond capacity.
// An id already present is moved to the newest position.
func (w *MessageWindow) insert(m model.Message) {
	cp := m
	if evicted := w.lru.Add(m.ID, &cp); evicted && w.onEvict != nil {
		w.onEvict()
	}
}

// replace overwrites an existing entry. It reports false when the id is absent.
func (w *MessageWindow) replace(m model.Message) (model.Message, bool) {
	p, ok := w.lru.Peek(m.ID)
	if !ok {
		return model.Message{}, false
	}
	old := *p
	*p = m
	return old, true
}

func (w *MessageWindow) peek(id string) (*model.Message, bool) {
	return w.lru.Peek(id)
}

func (w *MessageWindow) remove(id string) (model.Message, bool) {
	p, ok := w.lru.Peek(id)
	if !ok {
		return model.Message{}, false
	}
	w.lru.Remove(id)
	return *p, true
}

// Len returns the number of messages held.
func (w *MessageWindow) Len() int {
	return w.lru.Len()
}

// IDs returns message ids oldest first.
func (w *MessageWindow) IDs() []string {
	return w.lru.Keys()
}

func (w *MessageWindow) snapshot() []model.Message {
	vals := w.lru.Values()
	out := make([]model.Message, 0, len(vals))
	for _, p := range vals {
		out = append(out, p.Clone())
	}
	return out
}
