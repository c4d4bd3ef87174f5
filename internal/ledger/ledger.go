// Package ledger holds the authoritative in-memory death counts.
package ledger

import (
	"sort"
	"sync"
)

// EntityID is the host-assigned stable identifier of a tracked subject.
type EntityID uint64

// Entry is one ranked ledger row.
type Entry struct {
	ID    EntityID `json:"id,string"`
	Count uint64   `json:"count"`
}

// Ledger maps entities to their death count. Keys appear on first event;
// an absent key reads as zero. Counts only go down through Reset or ResetAll.
type Ledger struct {
	mu     sync.RWMutex
	counts map[EntityID]uint64
	order  []EntityID // first-insertion order, used to break ranking ties
}

func New() *Ledger {
	return &Ledger{
		counts: make(map[EntityID]uint64),
	}
}

// Increment adds one to id's count, creating the entry at zero first, and
// returns the new count.
func (l *Ledger) Increment(id EntityID) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensure(id)
	l.counts[id]++
	return l.counts[id]
}

func (l *Ledger) Get(id EntityID) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.counts[id]
}

// Reset sets id's count to zero. The entry is kept.
func (l *Ledger) Reset(id EntityID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensure(id)
	l.counts[id] = 0
}

// ResetAll removes every entry and returns how many there were.
func (l *Ledger) ResetAll() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.counts)
	l.counts = make(map[EntityID]uint64)
	l.order = nil
	return n
}

// TopN returns up to n entries ordered by count descending. Equal counts
// keep first-insertion order.
func (l *Ledger) TopN(n int) []Entry {
	if n <= 0 {
		return []Entry{}
	}
	l.mu.RLock()
	entries := make([]Entry, 0, len(l.order))
	for _, id := range l.order {
		entries = append(entries, Entry{ID: id, Count: l.counts[id]})
	}
	l.mu.RUnlock()

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Count > entries[j].Count
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

// Len returns the number of tracked entities.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.counts)
}

// Total returns the sum of all counts.
func (l *Ledger) Total() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total uint64
	for _, c := range l.counts {
		total += c
	}
	return total
}

// Snapshot returns a copy of the counts, safe to retain.
func (l *Ledger) Snapshot() map[EntityID]uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cp := make(map[EntityID]uint64, len(l.counts))
	for id, c := range l.counts {
		cp[id] = c
	}
	return cp
}

// Replace swaps the ledger contents for counts. Loaded entries carry no
// insertion history, so they are ordered by id.
func (l *Ledger) Replace(counts map[EntityID]uint64) {
	ids := make([]EntityID, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts = make(map[EntityID]uint64, len(counts))
	for _, id := range ids {
		l.counts[id] = counts[id]
	}
	l.order = ids
}

func (l *Ledger) ensure(id EntityID) {
	if _, ok := l.counts[id]; !ok {
		l.counts[id] = 0
		l.order = append(l.order, id)
	}
}
