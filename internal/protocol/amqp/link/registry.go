package link

import (
	"iter"
	"slices"
	"time"

	"github.com/marmos91/dittomq/pkg/amqp/types"
)

// ============================================================================
// Unsettled Transfer Registry
// ============================================================================

// slot is one arena cell. A slot is occupied only while live; released slots
// go back on the free list and their entry pointer is cleared so the arena
// never hands out a settled record.
type slot struct {
	entry *UnsettledTransfer
	live  bool
}

// Registry maps delivery ids to unsettled transfers.
//
// Entries are stored in an arena indexed through a delivery id map, with an
// explicit liveness flag per slot: an entry is reachable through Lookup if
// and only if its slot is live, and Release is the only way to clear it.
//
// A Registry is not safe for concurrent use. Each Endpoint owns one and
// guards it with its mutex.
type Registry struct {
	slots []slot
	index map[types.DeliveryID]int
	free  []int

	now func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		index: make(map[types.DeliveryID]int),
		now:   time.Now,
	}
}

// Register inserts t as an unsettled delivery owned by owner.
//
// Returns a DuplicateDelivery error if the delivery id is already live.
func (r *Registry) Register(t *types.Transfer, owner *Endpoint) (*UnsettledTransfer, error) {
	if _, exists := r.index[t.DeliveryID]; exists {
		return nil, newDeliveryError(ErrDuplicateDelivery, ownerName(owner), t.DeliveryID,
			"delivery id already unsettled")
	}

	entry := newUnsettledTransfer(t, owner, r.now())

	var idx int
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
		r.slots[idx] = slot{entry: entry, live: true}
	} else {
		idx = len(r.slots)
		r.slots = append(r.slots, slot{entry: entry, live: true})
	}
	r.index[t.DeliveryID] = idx
	return entry, nil
}

// Lookup returns the live entry for id. A missing id is not an error; the
// delivery may be settled already or may never have existed.
func (r *Registry) Lookup(id types.DeliveryID) (*UnsettledTransfer, bool) {
	idx, ok := r.index[id]
	if !ok {
		return nil, false
	}
	return r.slots[idx].entry, true
}

// Release removes the entry for id and returns it. Releasing an absent id
// is a no-op that returns false.
func (r *Registry) Release(id types.DeliveryID) (*UnsettledTransfer, bool) {
	idx, ok := r.index[id]
	if !ok {
		return nil, false
	}
	entry := r.slots[idx].entry
	r.slots[idx] = slot{}
	delete(r.index, id)
	r.free = append(r.free, idx)
	return entry, true
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	return len(r.index)
}

// IDs returns the live delivery ids in serial order.
func (r *Registry) IDs() []types.DeliveryID {
	ids := make([]types.DeliveryID, 0, len(r.index))
	for id := range r.index {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, compareIDs)
	return ids
}

// EntriesForLink yields the live entries owned by owner in delivery id
// order. The sequence is computed each time it is ranged over, so it can be
// restarted; entries released during iteration are skipped.
func (r *Registry) EntriesForLink(owner *Endpoint) iter.Seq[*UnsettledTransfer] {
	return func(yield func(*UnsettledTransfer) bool) {
		for _, id := range r.IDs() {
			idx, ok := r.index[id]
			if !ok {
				continue
			}
			s := r.slots[idx]
			if !s.live || s.entry.owner != owner {
				continue
			}
			if !yield(s.entry) {
				return
			}
		}
	}
}

// consistent reports whether the arena and the index agree.
func (r *Registry) consistent() bool {
	n := 0
	for i, s := range r.slots {
		if !s.live {
			if s.entry != nil {
				return false
			}
			continue
		}
		n++
		if r.index[s.entry.DeliveryID()] != i {
			return false
		}
	}
	return n == len(r.index) && n+len(r.free) == len(r.slots)
}

func compareIDs(a, b types.DeliveryID) int {
	return int(types.SerialDiff(uint32(a), uint32(b)))
}

func ownerName(e *Endpoint) string {
	if e == nil {
		return ""
	}
	return e.name
}
