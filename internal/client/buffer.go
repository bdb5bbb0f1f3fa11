package client

import (
	"errors"
	"fmt"
	"sort"

	"nuha.dev/trackpoint/internal/position"
)

var errNotIncreasing = errors.New("sequence id not increasing")

// Buffer holds samples that are waiting for an acknowledgment. Ids are kept
// in ascending order and must be strictly increasing on insert.
type Buffer struct {
	ids     []uint32
	entries map[uint32]position.Sample
	last    uint32
	used    bool
}

func NewBuffer() *Buffer {
	return &Buffer{entries: make(map[uint32]position.Sample)}
}

func (b *Buffer) Put(s position.Sample) error {
	if b.used && s.ID <= b.last {
		return fmt.Errorf("put %d after %d: %w", s.ID, b.last, errNotIncreasing)
	}
	b.ids = append(b.ids, s.ID)
	b.entries[s.ID] = s
	b.last = s.ID
	b.used = true
	return nil
}

func (b *Buffer) Len() int {
	return len(b.ids)
}

func (b *Buffer) Has(id uint32) bool {
	_, ok := b.entries[id]
	return ok
}

func (b *Buffer) Get(id uint32) (position.Sample, bool) {
	s, ok := b.entries[id]
	return s, ok
}

// Remove deletes id and reports whether it was present.
func (b *Buffer) Remove(id uint32) bool {
	if _, ok := b.entries[id]; !ok {
		return false
	}
	delete(b.entries, id)
	i := sort.Search(len(b.ids), func(i int) bool { return b.ids[i] >= id })
	b.ids = append(b.ids[:i], b.ids[i+1:]...)
	return true
}

// Newest returns up to n entries, newest first. n <= 0 returns all of them.
func (b *Buffer) Newest(n int) []position.Sample {
	if n <= 0 || n > len(b.ids) {
		n = len(b.ids)
	}
	out := make([]position.Sample, 0, n)
	for i := len(b.ids) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, b.entries[b.ids[i]])
	}
	return out
}

// IDs returns a copy of the buffered ids in ascending order.
func (b *Buffer) IDs() []uint32 {
	out := make([]uint32, len(b.ids))
	copy(out, b.ids)
	return out
}
