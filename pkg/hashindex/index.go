package hashindex

import (
	"sync"
	"sync/atomic"

	"fasterkv/pkg/epoch"
	"fasterkv/pkg/recordlog"
)

// Index is the two-level hash index: a power-of-two bucket array behind
// an atomic pointer, so a resize can build a whole new generation and
// flip to it without blocking concurrent probes.
//
// gate quiesces index mutation against migration: InstallNew and
// UpdateExisting hold it for read (shared with each other, any number
// concurrently) across their whole CAS attempt, and the resize
// initiator holds it for write (exclusive) from the first bucket split
// through the active-table flip. A mutator's critical section can
// therefore never straddle a migration — it runs either entirely
// before a resize starts or entirely after one finishes — which is
// what closes the gap a bare active-table check leaves open: a write
// that lands in the old table after splitBucket has already
// snapshotted that bucket, but before the flip, would otherwise be
// silently dropped when the old table is retired. Find itself needs no
// lock: a resize only ever copies entries out of the old table, never
// mutates it, so reads stay consistent against whichever table is
// active at the time.
type Index struct {
	active atomic.Pointer[table]
	epoch  *epoch.Manager

	resize  atomic.Pointer[resizeState]
	resizer *resizer
	gate    sync.RWMutex
}

// New builds an Index with the given number of buckets, which must be
// a power of two.
func New(initialBuckets uint64, m *epoch.Manager) *Index {
	idx := &Index{epoch: m, resizer: &resizer{}}
	idx.active.Store(newTable(initialBuckets))
	return idx
}

// Size reports the current number of buckets.
func (idx *Index) Size() uint64 {
	return idx.active.Load().size()
}

// Find probes the active table for an entry tagged with hash's tag.
// It compares tags only — disambiguating which key (or which version
// of a key) actually lives at the reported address is the caller's
// job, by walking the record chain from Address.
func (idx *Index) Find(hash uint64) FindResult {
	return find(idx.active.Load(), hash)
}

// InstallNew places a brand-new (hash, addr) pair into the slot that a
// prior Find identified as free, or grows the bucket's overflow chain
// if none was free. It reports false if the slot was claimed by
// another thread in the meantime — the caller should Find again and
// retry.
func (idx *Index) InstallNew(res FindResult, addr recordlog.Address) bool {
	idx.gate.RLock()
	defer idx.gate.RUnlock()
	if idx.active.Load() != res.table {
		return false
	}

	want := packEntry(res.Tag, uint64(addr), false)
	if res.HasFreeSlot {
		e := &res.FreeSlot.bucket.entries[res.FreeSlot.index]
		return e.word.CompareAndSwap(0, want)
	}
	return idx.growOverflow(res.LastBucket, res.Tag, addr)
}

// growOverflow appends a new overflow bucket to last's chain and
// installs (tag, addr) into its first entry. If another thread links
// an overflow bucket onto last first, the newly allocated bucket is
// retried against that next bucket instead of being linked in,
// keeping the chain from losing an entry to the race.
func (idx *Index) growOverflow(last *Bucket, tag Tag, addr recordlog.Address) bool {
	t := idx.active.Load()
	nextIdx, ob := t.overflow.alloc()
	ob.entries[0].word.Store(packEntry(tag, uint64(addr), false))

	for {
		if last.tryLinkOverflow(nextIdx) {
			return true
		}
		last = t.overflow.get(last.overflowIndex())
	}
}

// UpdateExisting CAS-replaces the address at a match previously
// located by Find, used whenever a new record is installed at the head
// of a tag's existing chain (Rmw's copy path, Upsert's append path,
// and inserts of a key whose tag is already in use). It reports false
// on contention.
func (idx *Index) UpdateExisting(res FindResult, newAddr recordlog.Address) bool {
	idx.gate.RLock()
	defer idx.gate.RUnlock()
	if idx.active.Load() != res.table {
		return false
	}

	e := &res.MatchSlot.bucket.entries[res.MatchSlot.index]
	old := packEntry(res.Tag, uint64(res.Address), false)
	want := packEntry(res.Tag, uint64(newAddr), false)
	return e.word.CompareAndSwap(old, want)
}
