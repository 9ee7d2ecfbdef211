package feed

import (
	"sort"
	"sync"
)

// Reconciler folds events into a map keyed by event ID. An event replaces
// the entry with the same ID or removes it when Deleted, so replays and
// duplicates converge to the same state.
type Reconciler[T any] struct {
	mu      sync.RWMutex
	items   map[string]T
	lastSeq uint64
	decode  func(Event) (T, error)
}

// NewReconciler creates a reconciler that decodes payloads with decode.
func NewReconciler[T any](decode func(Event) (T, error)) *Reconciler[T] {
	if decode == nil {
		decode = Decode[T]
	}
	return &Reconciler[T]{
		items:  make(map[string]T),
		decode: decode,
	}
}

// Reset replaces the state with a fresh snapshot.
func (r *Reconciler[T]) Reset(items map[string]T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = make(map[string]T, len(items))
	for id, item := range items {
		r.items[id] = item
	}
}

// Apply folds ev into the state. Events at or below the last applied
// sequence number are ignored. It reports whether the event was applied.
func (r *Reconciler[T]) Apply(ev Event) (bool, error) {
	var item T
	if !ev.Deleted {
		decoded, err := r.decode(ev)
		if err != nil {
			return false, err
		}
		item = decoded
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ev.Seq != 0 && ev.Seq <= r.lastSeq {
		return false, nil
	}
	if ev.Seq != 0 {
		r.lastSeq = ev.Seq
	}

	if ev.Deleted {
		delete(r.items, ev.ID)
	} else {
		r.items[ev.ID] = item
	}
	return true, nil
}

// Get returns the item with id.
func (r *Reconciler[T]) Get(id string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[id]
	return item, ok
}

// Len returns the number of items.
func (r *Reconciler[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// IDs returns the item IDs in ascending order.
func (r *Reconciler[T]) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.items))
	for id := range r.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
