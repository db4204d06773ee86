package sync

import (
	"context"
	"sort"
	"sync"
)

// MemSource is an in-memory Adapter double standing in for a real
// IMAP/CalDAV/CardDAV/Maildir client: tests seed it with the remote state
// they want a sync pass to observe, then mutate it between passes to
// exercise create/modify/delete and merge-criteria paths.
type MemSource struct {
	mu    sync.Mutex
	items map[string]map[string]RemoteItem // typeName -> remoteID -> item
}

// NewMemSource returns an empty double.
func NewMemSource() *MemSource {
	return &MemSource{items: map[string]map[string]RemoteItem{}}
}

// Put adds or replaces the remote item identified by item.RemoteID within
// typeName's collection.
func (m *MemSource) Put(typeName string, item RemoteItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items[typeName] == nil {
		m.items[typeName] = map[string]RemoteItem{}
	}
	m.items[typeName][item.RemoteID] = item
}

// Delete removes remoteID from typeName's collection, simulating a
// remote-side deletion the next sync pass must observe via
// scan_for_removals.
func (m *MemSource) Delete(typeName, remoteID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items[typeName], remoteID)
}

// FetchAll implements Adapter: the authoritative current remote set for
// typeName, in ascending RemoteID order for reproducible test assertions.
func (m *MemSource) FetchAll(ctx context.Context, typeName string) ([]RemoteItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []RemoteItem
	for _, item := range m.items[typeName] {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemoteID < out[j].RemoteID })
	return out, nil
}
