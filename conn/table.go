package conn

import "sync"

// Table is the single dynamic array that owns every live Connection.
// Removal swaps the last element into the removed slot instead of
// shifting, and a monotonically increasing identifier distinguishes a
// freed slot's old occupant from whatever gets allocated into it next
// (§5, "Connection list").
type Table struct {
	mu     sync.Mutex
	conns  []*Connection
	nextID uint64
}

// NewTable returns an empty connection table.
func NewTable() *Table {
	return &Table{}
}

// Add assigns c the next identifier and appends it to the table.
func (t *Table) Add(c *Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	c.ID = t.nextID
	t.conns = append(t.conns, c)
}

// Remove drops the connection with the given ID via swap-compact. It is a
// no-op if no such connection is present (already removed).
func (t *Table) Remove(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, c := range t.conns {
		if c.ID == id {
			last := len(t.conns) - 1
			t.conns[i] = t.conns[last]
			t.conns[last] = nil
			t.conns = t.conns[:last]
			return
		}
	}
}

// Len reports how many connections are currently tracked.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// ForEach calls fn once per tracked connection, over a snapshot taken
// under the lock so fn may itself call Remove without deadlocking.
func (t *Table) ForEach(fn func(*Connection)) {
	t.mu.Lock()
	snapshot := make([]*Connection, len(t.conns))
	copy(snapshot, t.conns)
	t.mu.Unlock()

	for _, c := range snapshot {
		fn(c)
	}
}

/* vim :set ts=4 sw=4 sts=4 noet : */
