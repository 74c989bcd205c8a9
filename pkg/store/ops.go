package store

import (
	"errors"

	"fasterkv/pkg/hashindex"
	"fasterkv/pkg/recordlog"
	"fasterkv/pkg/status"
)

// chainWalk is what Phase A hands Phase B: the hash index's tag-level
// probe, plus (if that tag is in use) the record, if any, the
// previous_address walk found for the caller's exact key.
type chainWalk struct {
	idx     hashindex.FindResult
	addr    recordlog.Address
	buf     []byte
	matched bool
}

// locate runs Phase A: probe the tag, then walk previous_address
// comparing full keys until a match or head. It never stops early at
// safe_read_only — Phase B's table expects to be able to act on a
// match anywhere from the mutable region down to head, and Rmw's
// read-copy-update needs the true old value even once it has aged
// into the immutable region. See DESIGN.md for why this departs from
// a literal reading of "crossing below safe_read_only proceeds to C".
func (f *FasterKv[K]) locate(key K, hash uint64) (chainWalk, status.Status) {
	cw := chainWalk{idx: f.idx.Find(hash)}
	if !cw.idx.Found {
		return cw, status.NotFound
	}

	cur := cw.idx.Address
	for cur.Valid() {
		if uint64(cur) < uint64(f.log.Head()) {
			// Crossed below head with no match: the tag's chain is live
			// (Found), but the record for this exact key, if any, has
			// aged out. Unreachable with the in-memory device's generous
			// sizing; a real device would issue an async read here.
			return cw, status.NotInMemory
		}
		buf, err := f.log.At(cur)
		if err != nil {
			// head advanced past cur between the check above and this
			// read: the same condition, just lost the race instead of
			// losing the comparison.
			return cw, status.NotInMemory
		}
		candidate := f.decode(recordlog.KeyBytes(buf))
		if key.Equals(candidate) {
			cw.addr, cw.buf, cw.matched = cur, buf, true
			return cw, status.Ok
		}
		cur = recordlog.PreviousAddress(buf)
	}
	return cw, status.NotFound
}

// helpResize performs one unit of helped-split work if a resize is in
// flight, per spec.md §4.6 step 3: every operation contributes one
// helped split before acting, not only a session's explicit Refresh.
func (f *FasterKv[K]) helpResize() {
	f.idx.HelpSplit(f.hashAt())
}

// Read runs Read's Phase A/B. There is no Phase C for Read: a miss is
// NotFound, never an insert.
func (f *FasterKv[K]) Read(ctx ReadContext[K]) status.Status {
	f.helpResize()
	key := ctx.Key()
	cw, st := f.locate(key, key.Hash())
	if !cw.matched {
		if st == status.NotInMemory {
			return status.NotInMemory
		}
		return status.NotFound
	}
	if recordlog.IsTombstone(cw.buf) {
		return status.NotFound
	}

	if cw.addr >= f.log.SafeReadOnly() {
		recordlog.GenStableRead(cw.buf, func() {
			ctx.GetAtomic(recordlog.ValueBytes(cw.buf))
		})
	} else {
		ctx.Get(recordlog.ValueBytes(cw.buf))
	}
	return status.Ok
}

// Upsert runs Upsert's full Phase A/B/C, retrying from Phase A on a
// lost install race, up to the store's retry budget.
func (f *FasterKv[K]) Upsert(ctx UpsertContext[K]) status.Status {
	f.helpResize()
	key := ctx.Key()
	hash := key.Hash()

	for attempt := 0; attempt < f.retryBudget; attempt++ {
		cw, st := f.locate(key, hash)
		if st == status.NotInMemory {
			return status.NotInMemory
		}

		if cw.matched && cw.addr >= f.log.ReadOnly() {
			if recordlog.ValueSize(cw.buf) == ctx.ValueSize() {
				locked, lockStatus := f.spinGenLock(cw.buf)
				if !locked {
					return lockStatus
				}
				ok := ctx.PutAtomic(recordlog.ValueBytes(cw.buf))
				recordlog.GenUnlock(cw.buf, false)
				if ok {
					return status.Ok
				}
			}
		}

		st = f.insertUpsert(ctx, key, cw.idx)
		if st != status.Aborted {
			return st
		}
		// Aborted here means the install CAS lost a race; Phase C's
		// contract is to restart at Phase A, which the outer loop does.
	}
	f.logger.Warn("upsert aborted: retry budget exhausted", "hash", hash, "budget", f.retryBudget)
	return status.Aborted
}

// insertUpsert performs Upsert's Phase C: allocate, Put, install. On
// a lost install race it invalidates the orphaned record and reports
// status.Aborted so the caller restarts from Phase A.
func (f *FasterKv[K]) insertUpsert(ctx UpsertContext[K], key K, idx hashindex.FindResult) status.Status {
	keySize := key.Size()
	valueSize := ctx.ValueSize()

	addr, buf, st := f.allocate(key, keySize, valueSize, prevOf(idx))
	if st != status.Ok {
		return st
	}
	ctx.Put(recordlog.ValueBytes(buf))

	if f.install(idx, addr) {
		return status.Ok
	}
	recordlog.SetInvalid(buf)
	return status.Aborted
}

// Rmw runs Rmw's full Phase A/B/C. Unlike Read, a miss always inserts
// via RmwInitial — Rmw never reports NotFound.
func (f *FasterKv[K]) Rmw(ctx RmwContext[K]) status.Status {
	f.helpResize()
	key := ctx.Key()
	hash := key.Hash()

	for attempt := 0; attempt < f.retryBudget; attempt++ {
		cw, st := f.locate(key, hash)
		if st == status.NotInMemory {
			return status.NotInMemory
		}

		if cw.matched {
			if cw.addr >= f.log.ReadOnly() {
				locked, lockStatus := f.spinGenLock(cw.buf)
				if !locked {
					return lockStatus
				}
				ok := ctx.RmwAtomic(recordlog.ValueBytes(cw.buf))
				recordlog.GenUnlock(cw.buf, false)
				if ok {
					return status.Ok
				}
			}

			st = f.insertRmwCopy(ctx, key, cw)
		} else {
			st = f.insertRmwInitial(ctx, key, cw.idx)
		}
		if st != status.Aborted {
			return st
		}
	}
	f.logger.Warn("rmw aborted: retry budget exhausted", "hash", hash, "budget", f.retryBudget)
	return status.Aborted
}

func (f *FasterKv[K]) insertRmwInitial(ctx RmwContext[K], key K, idx hashindex.FindResult) status.Status {
	keySize := key.Size()
	initSize := ctx.InitialSize()

	addr, buf, st := f.allocate(key, keySize, initSize, prevOf(idx))
	if st != status.Ok {
		return st
	}
	ctx.RmwInitial(recordlog.ValueBytes(buf))

	if f.install(idx, addr) {
		return status.Ok
	}
	recordlog.SetInvalid(buf)
	return status.Aborted
}

func (f *FasterKv[K]) insertRmwCopy(ctx RmwContext[K], key K, cw chainWalk) status.Status {
	oldSize := recordlog.ValueSize(cw.buf)
	oldSnapshot := make([]byte, oldSize)
	recordlog.GenStableRead(cw.buf, func() {
		copy(oldSnapshot, recordlog.ValueBytes(cw.buf))
	})

	newSize := ctx.CopySize(oldSnapshot)
	addr, buf, st := f.allocate(key, key.Size(), newSize, prevOf(cw.idx))
	if st != status.Ok {
		return st
	}
	ctx.RmwCopy(oldSnapshot, recordlog.ValueBytes(buf))

	if f.install(cw.idx, addr) {
		return status.Ok
	}
	recordlog.SetInvalid(buf)
	return status.Aborted
}

// allocate reserves and initialises a fresh record, mapping the
// record log's own error conditions onto the result enumeration.
func (f *FasterKv[K]) allocate(key K, keySize, valueSize int, previous recordlog.Address) (recordlog.Address, []byte, status.Status) {
	n := recordlog.Size(keySize, valueSize)
	addr, err := f.log.Allocate(n)
	if err != nil {
		switch {
		case errors.Is(err, recordlog.ErrOutOfMemory):
			return 0, nil, status.OutOfMemory
		case errors.Is(err, recordlog.ErrAborted):
			f.logger.Warn("allocate aborted: log tail CAS retry budget exhausted")
			return 0, nil, status.Aborted
		default:
			return 0, nil, status.NotInMemory
		}
	}
	buf, err := f.log.At(addr)
	if err != nil {
		return 0, nil, status.NotInMemory
	}
	recordlog.Init(buf, previous, 0, keySize, valueSize)
	key.WriteTo(recordlog.KeyBytes(buf))
	return addr, buf, status.Ok
}

// install performs Phase C's index CAS: replace idx's entry (or claim
// a free slot, if idx named none) so it points at addr.
func (f *FasterKv[K]) install(idx hashindex.FindResult, addr recordlog.Address) bool {
	if idx.Found {
		return f.idx.UpdateExisting(idx, addr)
	}
	return f.idx.InstallNew(idx, addr)
}

// prevOf is the new record's previous_address: the tag's current head
// at the time Phase A probed it, or Invalid if the tag was unused.
func prevOf(idx hashindex.FindResult) recordlog.Address {
	if idx.Found {
		return idx.Address
	}
	return recordlog.Invalid
}

// spinGenLock spins up to the store's retry budget trying to acquire
// buf's generation lock, folding exhaustion into status.Aborted per
// spec.md's bounded-livelock policy for generation-lock spins.
func (f *FasterKv[K]) spinGenLock(buf []byte) (bool, status.Status) {
	for i := 0; i < f.retryBudget; i++ {
		if recordlog.GenTryLock(buf) {
			return true, status.Ok
		}
	}
	f.logger.Warn("generation lock spin aborted: retry budget exhausted", "budget", f.retryBudget)
	return false, status.Aborted
}
