package client

import (
	"sort"
	"sync"
)

// History is the client's view of the chat log. Live broadcasts and replay
// can deliver the same message twice; it keeps one copy per id, ordered by
// creation time.
type History struct {
	mu   sync.Mutex
	msgs []Message
	ids  map[string]struct{}
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{ids: make(map[string]struct{})}
}

// Add inserts msg unless its id is already present. It reports whether msg was new.
func (h *History) Add(msg Message) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.add(msg)
}

// Merge adds every message not seen yet and returns the ones added.
func (h *History) Merge(msgs []Message) []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	var added []Message
	for _, msg := range msgs {
		if h.add(msg) {
			added = append(added, msg)
		}
	}
	return added
}

func (h *History) add(msg Message) bool {
	if msg.ID != "" {
		if _, dup := h.ids[msg.ID]; dup {
			return false
		}
		h.ids[msg.ID] = struct{}{}
	}
	// Insert after every message created at or before msg.
	i := sort.Search(len(h.msgs), func(i int) bool {
		return h.msgs[i].CreatedAt.After(msg.CreatedAt)
	})
	h.msgs = append(h.msgs, Message{})
	copy(h.msgs[i+1:], h.msgs[i:])
	h.msgs[i] = msg
	return true
}

// Remove drops the message with id. It reports whether it was present.
func (h *History) Remove(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.ids[id]; !ok {
		return false
	}
	delete(h.ids, id)
	for i, msg := range h.msgs {
		if msg.ID == id {
			h.msgs = append(h.msgs[:i], h.msgs[i+1:]...)
			break
		}
	}
	return true
}

// Messages returns a copy of the log in order.
func (h *History) Messages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Message, len(h.msgs))
	copy(out, h.msgs)
	return out
}

// Len returns the number of messages held.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}
