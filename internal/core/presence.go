package core

import "sync"

// Directory maps identities to their current connection handle. It is the
// single source of truth for who is online. Only the hub mutates it; reads
// are safe from any goroutine.
type Directory struct {
	mu      sync.RWMutex
	entries map[string]*Client
	order   []string
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{entries: make(map[string]*Client)}
}

// Register inserts or overwrites the entry for identity. The last registration
// wins; an overwritten identity keeps its listing position. The previous
// handle, if any, is returned.
func (d *Directory) Register(identity string, handle *Client) *Client {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev, exists := d.entries[identity]
	if !exists {
		d.order = append(d.order, identity)
	}
	d.entries[identity] = handle
	return prev
}

// UnregisterByHandle removes every entry pointing at handle and returns the
// removed identities.
func (d *Directory) UnregisterByHandle(handle *Client) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var removed []string
	kept := d.order[:0]
	for _, identity := range d.order {
		if d.entries[identity] == handle {
			delete(d.entries, identity)
			removed = append(removed, identity)
			continue
		}
		kept = append(kept, identity)
	}
	d.order = kept
	return removed
}

// Lookup returns the handle registered for identity.
func (d *Directory) Lookup(identity string) (*Client, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	handle, ok := d.entries[identity]
	return handle, ok
}

// List returns registered identities in first-registration order.
func (d *Directory) List() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// Len returns the number of registered identities.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.order)
}
