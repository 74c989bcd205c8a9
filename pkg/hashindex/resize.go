package hashindex

import (
	"sync/atomic"

	"fasterkv/pkg/metrics"
	"fasterkv/pkg/recordlog"

	"golang.org/x/sync/singleflight"
)

// HashAt recomputes the full hash of the key stored at addr. The
// index cannot do this itself — only the generic store layer knows
// how to decode a Key from log bytes — so the resize protocol takes
// it as a callback.
type HashAt func(addr recordlog.Address) (hash uint64, ok bool)

// resizeState describes an in-progress doubling or halving. Any
// thread that notices one via HelpSplit can claim the next unsplit
// bucket and migrate it; whichever thread drives splitsLeft to zero
// performs the flip.
type resizeState struct {
	oldTable   *table
	newTable   *table
	hashAt     HashAt
	cursor     atomic.Uint64
	splitsLeft atomic.Int64
	finalized  atomic.Bool
	grow       bool
	done       chan struct{}
}

// resizer holds the singleflight.Group that ensures only one goroutine
// initiates a given resize direction at a time; concurrent callers
// join the same call and observe its result instead of racing to
// build a second new table.
type resizer struct {
	sf singleflight.Group
}

func (idx *Index) ensureResizer() *resizer {
	// idx.resizer is set by New; this guards zero-value Index use in
	// tests that construct one directly.
	if idx.resizer == nil {
		idx.resizer = &resizer{}
	}
	return idx.resizer
}

// Grow doubles the bucket count. Only one goroutine actually builds
// the new table and drives the split to completion; concurrent callers
// block on the same singleflight call and share its result.
func (idx *Index) Grow(hashAt HashAt) error {
	_, err, _ := idx.ensureResizer().sf.Do("grow", func() (any, error) {
		return nil, idx.beginResize(true, hashAt)
	})
	return err
}

// Shrink halves the bucket count.
func (idx *Index) Shrink(hashAt HashAt) error {
	_, err, _ := idx.ensureResizer().sf.Do("shrink", func() (any, error) {
		return nil, idx.beginResize(false, hashAt)
	})
	return err
}

func (idx *Index) beginResize(grow bool, hashAt HashAt) error {
	// Held exclusively for the whole migration, not just the flip: any
	// InstallNew/UpdateExisting attempting to run concurrently with a
	// split blocks here until the resize (flip included) is done, then
	// re-validates against the now-current table. See Index's doc
	// comment for why the flip alone isn't a late-enough checkpoint.
	idx.gate.Lock()
	defer idx.gate.Unlock()

	old := idx.active.Load()
	var newSize uint64
	if grow {
		newSize = old.size() * 2
	} else {
		newSize = old.size() / 2
		if newSize == 0 {
			newSize = 1
		}
	}

	rs := &resizeState{
		oldTable: old,
		newTable: newTable(newSize),
		hashAt:   hashAt,
		grow:     grow,
		done:     make(chan struct{}),
	}
	rs.splitsLeft.Store(int64(old.size()))
	idx.resize.Store(rs)

	metrics.ResizesTotal.WithLabelValues(direction(grow)).Inc()

	// Drive the split ourselves rather than only relying on helpers —
	// this call must not return until the resize has completed.
	for idx.HelpSplit(hashAt) {
	}
	<-rs.done
	return nil
}

func direction(grow bool) string {
	if grow {
		return "grow"
	}
	return "shrink"
}

// HelpSplit claims and migrates the next unsplit bucket of an
// in-progress resize, if one exists. It returns false when there is
// no resize in flight or the caller's claim lost a race against the
// last remaining bucket.
func (idx *Index) HelpSplit(hashAt HashAt) bool {
	rs := idx.resize.Load()
	if rs == nil {
		return false
	}

	bucketIdx := rs.cursor.Add(1) - 1
	if bucketIdx >= rs.oldTable.size() {
		return false
	}

	idx.splitBucket(rs, &rs.oldTable.buckets[bucketIdx])

	if rs.splitsLeft.Add(-1) == 0 {
		idx.finalizeResize(rs)
	}
	return true
}

// splitBucket copies every live entry reachable from b (including its
// overflow chain) into the corresponding bucket(s) of the new table.
// Growing a table of size N to 2N routes each entry by the single new
// high bit of its recomputed hash; shrinking merges two old buckets
// into one.
func (idx *Index) splitBucket(rs *resizeState, b *Bucket) {
	for cur := b; cur != nil; {
		for i := range cur.entries {
			w := cur.entries[i].word.Load()
			tag, addr, tentativeBit, empty := unpackEntry(w)
			if empty || tentativeBit {
				continue
			}
			hash, ok := rs.hashAt(recordlog.Address(addr))
			if !ok {
				continue
			}
			dst := rs.newTable.bucketFor(hash)
			idx.installDuringSplit(rs, dst, tag, addr)
		}
		nextIdx := cur.overflowIndex()
		if nextIdx == 0 {
			break
		}
		cur = rs.oldTable.overflow.get(nextIdx)
	}
}

// installDuringSplit writes (tag, addr) into the new table's bucket b.
// Growing a table routes every old bucket to a disjoint pair of new
// buckets, so two helpers never touch the same new bucket concurrently;
// shrinking merges two old buckets into one new bucket, so two helpers
// can race here. Both directions go through the same CAS-protected
// path rather than assuming the grow case's freedom from contention.
func (idx *Index) installDuringSplit(rs *resizeState, b *Bucket, tag Tag, addr uint64) {
	for cur := b; ; {
		for i := range cur.entries {
			if cur.entries[i].word.CompareAndSwap(0, packEntry(tag, addr, false)) {
				return
			}
		}
		nextIdx := cur.overflowIndex()
		if nextIdx == 0 {
			if idx.growOverflowDuringSplit(rs, cur, tag, addr) {
				return
			}
			continue
		}
		cur = rs.newTable.overflow.get(nextIdx)
	}
}

func (idx *Index) growOverflowDuringSplit(rs *resizeState, last *Bucket, tag Tag, addr uint64) bool {
	nIdx, ob := rs.newTable.overflow.alloc()
	ob.entries[0].word.Store(packEntry(tag, addr, false))
	return last.tryLinkOverflow(nIdx)
}

func (idx *Index) finalizeResize(rs *resizeState) {
	if !rs.finalized.CompareAndSwap(false, true) {
		return
	}
	idx.active.Store(rs.newTable)
	metrics.BucketsSplit.Add(float64(rs.oldTable.size()))

	oldTable := rs.oldTable
	idx.epoch.Defer(idx.epoch.Current(), func() {
		_ = oldTable // old generation becomes eligible for GC once safe
	})
	idx.resize.Store(nil)
	close(rs.done)
}
