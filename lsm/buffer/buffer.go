// Package buffer implements the small mutable in-memory store that absorbs
// writes before they are flushed into the newest layer.
package buffer

import (
	"sort"

	"lsmkv/model/record"
)

// Buffer is an unsorted bounded array of up to capacity records, at most
// one slot per key.
type Buffer struct {
	capacity int
	records  []record.Record
	index    map[int32]int
}

// New returns an empty Buffer bounded at capacity records.
func New(capacity int) *Buffer {
	return &Buffer{
		capacity: capacity,
		records:  make([]record.Record, 0, capacity),
		index:    make(map[int32]int, capacity),
	}
}

// Put inserts or overwrites key's value and clears any tombstone on it. It
// reports whether the buffer has reached capacity after the call.
//
// Put also claims a slot left behind by a prior Del of an absent key: the
// put scan finds that slot by key and reuses it, rather than appending a
// second slot for the same key.
func (b *Buffer) Put(key, value int32) bool {
	if i, ok := b.index[key]; ok {
		b.records[i].Value = value
		b.records[i].Deleted = false
		return len(b.records) >= b.capacity
	}
	b.append(record.Record{Key: key, Value: value, Deleted: false})
	return len(b.records) >= b.capacity
}

// Delete marks key as tombstoned, appending a new tombstone slot if key is
// not already present. It reports whether the buffer has reached capacity
// after the call.
func (b *Buffer) Delete(key int32) bool {
	if i, ok := b.index[key]; ok {
		b.records[i].Deleted = true
		return len(b.records) >= b.capacity
	}
	b.append(record.Record{Key: key, Value: 0, Deleted: true})
	return len(b.records) >= b.capacity
}

func (b *Buffer) append(r record.Record) {
	b.index[r.Key] = len(b.records)
	b.records = append(b.records, r)
}

// Get scans from newest to oldest slot and returns the first match.
func (b *Buffer) Get(key int32) (int32, record.Status) {
	for i := len(b.records) - 1; i >= 0; i-- {
		if b.records[i].Key == key {
			if b.records[i].Deleted {
				return 0, record.Tombstoned
			}
			return b.records[i].Value, record.Found
		}
	}
	return 0, record.Absent
}

// Range returns every non-tombstone slot with lo <= key < hi, in
// unspecified order.
func (b *Buffer) Range(lo, hi int32) []record.Record {
	var out []record.Record
	for _, r := range b.records {
		if !r.Deleted && r.Key >= lo && r.Key < hi {
			out = append(out, r)
		}
	}
	return out
}

// Sort orders the slots in place by ascending key. It must be called
// before the buffer's records are handed to a Layer as a run.
func (b *Buffer) Sort() {
	sort.Slice(b.records, func(i, j int) bool {
		return record.Less(b.records[i], b.records[j])
	})
	for i, r := range b.records {
		b.index[r.Key] = i
	}
}

// Len returns the number of slots currently occupied.
func (b *Buffer) Len() int {
	return len(b.records)
}

// Full reports whether the buffer has reached its configured capacity.
func (b *Buffer) Full() bool {
	return len(b.records) >= b.capacity
}

// Records returns the buffer's slots. Callers that intend to hand these to
// a Layer must call Sort first. The returned slice aliases the buffer's
// internal storage and must not be retained past the next mutation.
func (b *Buffer) Records() []record.Record {
	return b.records
}

// Reset empties the buffer, releasing its slots back to zero length without
// reallocating the backing array.
func (b *Buffer) Reset() {
	b.records = b.records[:0]
	for k := range b.index {
		delete(b.index, k)
	}
}
