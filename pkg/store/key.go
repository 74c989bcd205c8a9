// Package store implements the operation state machine: Phase A
// (locate), Phase B (classify and act), Phase C (insert), wired
// against pkg/hashindex and pkg/recordlog. It never interprets value
// bytes itself — that is entirely the caller's business through the
// context hooks below — and it never follows the hash chain past
// head, the one true boundary of what is reachable.
package store

// Key is the caller-provided schema trait for the store's key type.
// K is curiously-recurring so Equals can compare two fully decoded
// keys without the engine needing any notion of key identity beyond
// what the caller gives it.
type Key[K any] interface {
	// Hash returns the key's 64-bit hash. The top 14 bits become the
	// hash index's tag; collisions (including a hash constant across
	// all keys) are resolved by the record chain, not by this hash
	// being unique.
	Hash() uint64
	Equals(other K) bool
	// Size is the encoded key's byte length, used to size record
	// allocations and to bound WriteTo's destination slice.
	Size() int
	// WriteTo encodes the key into dst, which is exactly Size() bytes.
	WriteTo(dst []byte)
}

// ReadContext is the caller's hook set for a Read operation.
type ReadContext[K any] interface {
	Key() K
	// Get is called on a record below safe_read_only: a plain,
	// non-atomic copy out of value.
	Get(value []byte)
	// GetAtomic is called on a record at or above safe_read_only (the
	// mutable region plus the read-only band whose boundary may still
	// be moving); value may be mutated concurrently by another thread.
	// The engine runs GetAtomic inside recordlog.GenStableRead, so it
	// may be called more than once per Read and must tolerate a retry.
	GetAtomic(value []byte)
}

// UpsertContext is the caller's hook set for an Upsert (blind write).
type UpsertContext[K any] interface {
	Key() K
	// ValueSize is the size of the value this upsert writes, used to
	// size a freshly allocated record on the insert/append path.
	ValueSize() int
	// Put writes value into a freshly allocated record no other
	// thread can yet observe, or into a record on the read-copy-update
	// path — this is the source-of-truth content, never a delta.
	Put(value []byte)
	// PutAtomic attempts an in-place write into a mutable record whose
	// current value is exactly ValueSize() bytes. It returns false if
	// it cannot satisfy the write in place (a different size is
	// required), in which case the engine falls back to the append
	// path and calls Put on the new record instead.
	PutAtomic(value []byte) bool
}

// RmwContext is the caller's hook set for a read-modify-write.
type RmwContext[K any] interface {
	Key() K
	// InitialSize is the size of the value RmwInitial will write, used
	// when no record for this key exists yet.
	InitialSize() int
	// RmwInitial writes the seed value for a key with no prior record.
	RmwInitial(value []byte)
	// CopySize returns the size of the new value the copy/RCU path
	// will produce, given the old record's current value. It is
	// consulted before allocating the new record.
	CopySize(oldValue []byte) int
	// RmwCopy computes newValue from oldValue on a freshly allocated
	// record no other thread can yet observe. oldValue and newValue
	// may differ in length; RmwCopy is responsible for the entire
	// content of newValue, including any tail beyond oldValue's length.
	RmwCopy(oldValue, newValue []byte)
	// RmwAtomic attempts an in-place modification of a mutable
	// record's current value. It returns false to demand the
	// copy/append path instead (e.g. the delta requires a different
	// value size).
	RmwAtomic(value []byte) bool
}
