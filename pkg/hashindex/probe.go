package hashindex

import "fasterkv/pkg/recordlog"

// Slot names where in a bucket chain a probe landed, so InstallNew and
// UpdateExisting know
// exactly which atomic word to CAS.
type Slot struct {
	bucket *Bucket
	index  int
}

// FindResult is what Find reports for one tag: whether an entry
// already claims that tag in this table, and if not, where a new one
// could be installed.
//
// A bucket entry is keyed by tag, not by the caller's full key — two
// different keys whose hashes share a tag (collisions, or the
// degenerate all-keys-one-bucket case) occupy the same entry and are
// disambiguated by the record chain's previous_address links, which
// the caller walks starting from Address. Find never reads key bytes;
// it only ever compares 14-bit tags.
type FindResult struct {
	Found     bool
	Address   recordlog.Address
	Tag       Tag
	MatchSlot Slot // valid iff Found; names the entry holding Address

	// FreeSlot names a free entry to install into, or the zero Slot if
	// the scanned buckets have no free entry and the caller must
	// allocate an overflow bucket.
	FreeSlot    Slot
	HasFreeSlot bool
	// LastBucket is the last bucket visited, so InstallNew can extend its
	// overflow chain if HasFreeSlot is false.
	LastBucket *Bucket

	// table is the generation Find probed. InstallNew/UpdateExisting
	// compare it against the table current at mutation time: if a
	// resize flipped in between, the slots above point into a
	// generation that's no longer active and must not be written to,
	// so the caller is told to retry instead.
	table *table
}

// find walks t's bucket chain looking for an entry tagged with hash's
// tag, starting from the primary bucket and following overflow
// pointers.
func find(t *table, hash uint64) FindResult {
	tag := TagOf(hash)
	b := t.bucketFor(hash)

	var res FindResult
	res.Tag = tag
	res.table = t

	for {
		freeSeen := false
		var freeIdx int
		for i := range b.entries {
			w := b.entries[i].word.Load()
			et, addr, tentativeBit, empty := unpackEntry(w)
			if empty {
				if !freeSeen {
					freeSeen, freeIdx = true, i
				}
				continue
			}
			if tentativeBit || et != tag {
				continue
			}
			res.Found = true
			res.Address = recordlog.Address(addr)
			res.MatchSlot = Slot{bucket: b, index: i}
			return res
		}
		if freeSeen && !res.HasFreeSlot {
			res.HasFreeSlot = true
			res.FreeSlot = Slot{bucket: b, index: freeIdx}
		}
		res.LastBucket = b

		nextIdx := b.overflowIndex()
		if nextIdx == 0 {
			return res
		}
		b = t.overflow.get(nextIdx)
	}
}
