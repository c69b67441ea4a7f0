package qpack

import (
	"errors"
	"sync"
)

var (
	ErrEntryTooLarge = errors.New("qpack: entry larger than dynamic table capacity")
	ErrIndexOutOfRange = errors.New("qpack: dynamic table index out of range")
)

// entrySize is the accounting size of a name/value pair: len(name) +
// len(value) + 32, the RFC 9204 section 3.2.1 convention.
func entrySize(name, value string) uint64 {
	return uint64(len(name) + len(value) + 32)
}

// DynamicTable holds the most recently inserted header fields. Unlike
// RFC 9204's table, which appends at the tail and evicts from the
// head under an absolute/base index scheme, this table inserts at the
// front and evicts from the tail: index 1 always names the most
// recently inserted entry, and eviction always removes the oldest.
type DynamicTable struct {
	mu       sync.Mutex
	entries  []StaticEntry // entries[0] is the most recent
	size     uint64
	capacity uint64
}

// NewDynamicTable returns an empty table with the given byte capacity.
func NewDynamicTable(capacity uint64) *DynamicTable {
	return &DynamicTable{capacity: capacity}
}

// Capacity returns the configured byte budget.
func (dt *DynamicTable) Capacity() uint64 {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	return dt.capacity
}

// SetCapacity changes the byte budget, evicting from the tail as
// needed to fit.
func (dt *DynamicTable) SetCapacity(capacity uint64) {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	dt.capacity = capacity
	dt.evictToFitLocked()
}

// Size returns the current accounted size in bytes.
func (dt *DynamicTable) Size() uint64 {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	return dt.size
}

// Len returns the number of live entries.
func (dt *DynamicTable) Len() int {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	return len(dt.entries)
}

// Insert adds name/value at the front (index 1), evicting from the
// tail to make room. A single entry larger than the table's capacity
// fails outright rather than evicting everything to half-fit it.
func (dt *DynamicTable) Insert(name, value string) error {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	sz := entrySize(name, value)
	if sz > dt.capacity {
		return ErrEntryTooLarge
	}

	dt.entries = append([]StaticEntry{{Name: name, Value: value}}, dt.entries...)
	dt.size += sz
	dt.evictToFitLocked()
	return nil
}

func (dt *DynamicTable) evictToFitLocked() {
	for dt.size > dt.capacity && len(dt.entries) > 0 {
		last := dt.entries[len(dt.entries)-1]
		dt.entries = dt.entries[:len(dt.entries)-1]
		dt.size -= entrySize(last.Name, last.Value)
	}
}

// Get returns the entry at 1-based index (1 = most recent).
func (dt *DynamicTable) Get(index uint64) (StaticEntry, error) {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	if index < 1 || index > uint64(len(dt.entries)) {
		return StaticEntry{}, ErrIndexOutOfRange
	}
	return dt.entries[index-1], nil
}

// Find looks for name/value, returning the 1-based index of an exact
// match, or the first name-only match if no exact match exists.
func (dt *DynamicTable) Find(name, value string) (index uint64, exact bool) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	nameOnly := uint64(0)
	for i, e := range dt.entries {
		if e.Name != name {
			continue
		}
		if e.Value == value {
			return uint64(i + 1), true
		}
		if nameOnly == 0 {
			nameOnly = uint64(i + 1)
		}
	}
	return nameOnly, false
}

// Clear removes every entry.
func (dt *DynamicTable) Clear() {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	dt.entries = nil
	dt.size = 0
}
