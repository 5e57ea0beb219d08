package interval

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrOverlap   = errors.New("interval overlaps a committed entry")
	ErrDuplicate = errors.New("entry already indexed")
	ErrEmpty     = errors.New("interval is empty")
	ErrOutside   = errors.New("entry does not overlap the sync window")
)

type Entry struct {
	ID       uuid.UUID
	Interval Interval
}

// Index keeps, per key, the committed intervals ordered by start.
//
// Entries under one key never overlap, so ordering by start also orders by
// end. That makes the set of entries colliding with a query a contiguous run
// ending just before the first entry starting at or after the query end.
type Index struct {
	mu      sync.RWMutex
	entries map[string][]Entry
	members map[member]Interval
}

type member struct {
	key string
	id  uuid.UUID
}

func NewIndex() *Index {
	return &Index{
		entries: make(map[string][]Entry),
		members: make(map[member]Interval),
	}
}

// Overlaps reports whether any entry under key shares an instant with iv.
func (x *Index) Overlaps(key string, iv Interval) bool {
	_, ok := x.Conflict(key, iv, uuid.Nil)
	return ok
}

// Conflict returns the first entry under key that overlaps iv, ignoring the
// entry whose id equals exclude.
func (x *Index) Conflict(key string, iv Interval, exclude uuid.UUID) (Entry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	return conflict(x.entries[key], iv, exclude)
}

func conflict(list []Entry, iv Interval, exclude uuid.UUID) (Entry, bool) {
	hi := sort.Search(len(list), func(i int) bool {
		return !list[i].Interval.Start.Before(iv.End)
	})

	var found Entry
	ok := false
	for j := hi - 1; j >= 0; j-- {
		e := list[j]
		if !e.Interval.End.After(iv.Start) {
			break
		}
		if e.ID == exclude {
			continue
		}
		// keep walking so the earliest colliding entry is reported
		found, ok = e, true
	}
	return found, ok
}

// Insert adds id under key. It refuses entries that overlap an existing one
// or reuse an indexed id.
func (x *Index) Insert(key string, id uuid.UUID, iv Interval) error {
	if !iv.Valid() {
		return ErrEmpty
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if _, ok := x.members[member{key, id}]; ok {
		return ErrDuplicate
	}
	list := x.entries[key]
	if _, ok := conflict(list, iv, uuid.Nil); ok {
		return ErrOverlap
	}

	pos := sort.Search(len(list), func(i int) bool {
		return !list[i].Interval.Start.Before(iv.Start)
	})
	list = append(list, Entry{})
	copy(list[pos+1:], list[pos:])
	list[pos] = Entry{ID: id, Interval: iv}
	x.entries[key] = list
	x.members[member{key, id}] = iv

	return nil
}

// Remove drops id from key. Removing an absent id is a no-op.
func (x *Index) Remove(key string, id uuid.UUID) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.remove(key, id)
}

func (x *Index) remove(key string, id uuid.UUID) bool {
	m := member{key, id}
	iv, ok := x.members[m]
	if !ok {
		return false
	}
	delete(x.members, m)

	list := x.entries[key]
	i := sort.Search(len(list), func(i int) bool {
		return !list[i].Interval.Start.Before(iv.Start)
	})
	// starts are unique within a key, the entry at i is ours
	list = append(list[:i], list[i+1:]...)
	x.store(key, list)
	return true
}

func (x *Index) store(key string, list []Entry) {
	if len(list) == 0 {
		delete(x.entries, key)
		return
	}
	x.entries[key] = list
}

// Sync makes key's entries around window match entries, each of which must
// overlap window. Indexed entries colliding with window or with any of
// entries are dropped, as is an older position of a synced id. Entries away
// from window are left alone.
func (x *Index) Sync(key string, window Interval, entries []Entry) error {
	if !window.Valid() {
		return ErrEmpty
	}
	list, err := sortedDisjoint(entries)
	if err != nil {
		return err
	}

	// the hull of window and entries; every indexed entry inside it collides
	// with window or with one of entries
	lo, hi := window.Start, window.End
	for _, e := range list {
		if !e.Interval.Overlaps(window) {
			return ErrOutside
		}
		if e.Interval.Start.Before(lo) {
			lo = e.Interval.Start
		}
		if e.Interval.End.After(hi) {
			hi = e.Interval.End
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	for _, e := range list {
		x.remove(key, e.ID)
	}

	cur := x.entries[key]
	first := sort.Search(len(cur), func(i int) bool {
		return cur[i].Interval.End.After(lo)
	})
	last := sort.Search(len(cur), func(i int) bool {
		return !cur[i].Interval.Start.Before(hi)
	})
	last = max(last, first)
	for _, e := range cur[first:last] {
		delete(x.members, member{key, e.ID})
	}

	merged := make([]Entry, 0, len(cur)-(last-first)+len(list))
	merged = append(merged, cur[:first]...)
	merged = append(merged, list...)
	merged = append(merged, cur[last:]...)
	for _, e := range list {
		x.members[member{key, e.ID}] = e.Interval
	}
	x.store(key, merged)
	return nil
}

func sortedDisjoint(entries []Entry) ([]Entry, error) {
	list := make([]Entry, len(entries))
	copy(list, entries)
	for _, e := range list {
		if !e.Interval.Valid() {
			return nil, ErrEmpty
		}
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Interval.Start.Before(list[j].Interval.Start)
	})
	for i := 1; i < len(list); i++ {
		if list[i-1].Interval.Overlaps(list[i].Interval) {
			return nil, ErrOverlap
		}
	}
	return list, nil
}

// Replace swaps the whole entry set of key. Overlapping input is rejected
// and leaves the previous entries in place.
func (x *Index) Replace(key string, entries []Entry) error {
	list, err := sortedDisjoint(entries)
	if err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	for _, e := range x.entries[key] {
		delete(x.members, member{key, e.ID})
	}
	for _, e := range list {
		x.members[member{key, e.ID}] = e.Interval
	}
	x.store(key, list)
	return nil
}

// Entries returns a copy of key's entries ordered by start.
func (x *Index) Entries(key string) []Entry {
	x.mu.RLock()
	defer x.mu.RUnlock()

	list := x.entries[key]
	out := make([]Entry, len(list))
	copy(out, list)
	return out
}

func (x *Index) Len(key string) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries[key])
}

func (x *Index) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries = make(map[string][]Entry)
	x.members = make(map[member]Interval)
}
