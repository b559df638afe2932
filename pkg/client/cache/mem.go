package cache

import (
	"sort"
	"sync"
)

// Mem keeps everything in process memory.
type Mem struct {
	mu      sync.Mutex
	entries map[string]map[string]Entry
	cursors map[string]SyncCursor
	outbox  map[uint64]Action
	nextID  uint64
}

func NewMem() *Mem {
	return &Mem{
		entries: make(map[string]map[string]Entry),
		cursors: make(map[string]SyncCursor),
		outbox:  make(map[uint64]Action),
	}
}

func (m *Mem) PutEntry(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv := m.entries[e.Message.ConversationID]
	if conv == nil {
		conv = make(map[string]Entry)
		m.entries[e.Message.ConversationID] = conv
	}
	conv[e.Key()] = e
	return nil
}

func (m *Mem) DeleteEntry(convID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries[convID], key)
	return nil
}

func (m *Mem) Entry(convID, key string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[convID][key]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *Mem) Entries(convID string) ([]Entry, error) {
	m.mu.Lock()
	out := make([]Entry, 0, len(m.entries[convID]))
	for _, e := range m.entries[convID] {
		out = append(out, e)
	}
	m.mu.Unlock()
	SortEntries(out)
	return out, nil
}

func (m *Mem) PutCursor(c SyncCursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[c.ConversationID] = c
	return nil
}

func (m *Mem) Cursor(convID string) (SyncCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cursors[convID]
	if !ok {
		return SyncCursor{ConversationID: convID}, nil
	}
	return c, nil
}

func (m *Mem) Cursors() ([]SyncCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SyncCursor, 0, len(m.cursors))
	for _, c := range m.cursors {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConversationID < out[j].ConversationID })
	return out, nil
}

func (m *Mem) Enqueue(a Action) (Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	a.ID = m.nextID
	m.outbox[a.ID] = a
	return a, nil
}

func (m *Mem) UpdateAction(a Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.outbox[a.ID]; ok {
		m.outbox[a.ID] = a
	}
	return nil
}

func (m *Mem) Outbox() ([]Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Action, 0, len(m.outbox))
	for _, a := range m.outbox {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Mem) Dequeue(id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.outbox, id)
	return nil
}

func (m *Mem) Close() error { return nil }
