package recordlog

import "sync/atomic"

// GenLock packs a 62-bit generation counter, a locked bit, and a
// replaced bit into the 8-byte word preceding a record's value bytes.
// Readers retry until a before/after snapshot shows the same
// generation; writers spin to acquire the lock bit, mutate, then bump
// the generation and release. This is the normative algorithm for
// variable-length values; fixed-size values may skip it entirely and
// mutate value bytes directly, since there is nothing to tear.
const (
	genLockedBit   = uint64(1) << 63
	genReplacedBit = uint64(1) << 62
	genCounterMask = genReplacedBit - 1
)

func genWordPtr(b []byte) *uint64 {
	ks := KeySize(b)
	return wordPtr(b, fixedHeaderSize+alignedKeySize(ks))
}

// GenLoad returns the current generation-lock word.
func GenLoad(b []byte) uint64 { return atomic.LoadUint64(genWordPtr(b)) }

// GenTryLock attempts to acquire the lock bit without blocking,
// reporting success. Callers spin (bounded by their own retry budget)
// rather than calling this in a blocking loop here, so that the
// bounded-retry policy in ops.go stays in one place.
func GenTryLock(b []byte) bool {
	p := genWordPtr(b)
	old := atomic.LoadUint64(p)
	if old&genLockedBit != 0 {
		return false
	}
	return atomic.CompareAndSwapUint64(p, old, old|genLockedBit)
}

// GenUnlock releases the lock bit and advances the generation counter,
// optionally marking the value as replaced (set when the value's
// length changed under the lock).
func GenUnlock(b []byte, replaced bool) {
	p := genWordPtr(b)
	old := atomic.LoadUint64(p)
	gen := (old & genCounterMask) + 1
	next := gen
	if replaced {
		next |= genReplacedBit
	}
	atomic.StoreUint64(p, next)
}

// GenStableRead runs read while protected against a torn update: it
// retries read (which must be idempotent and side-effect free on
// retry) until the generation word is unchanged across the call.
func GenStableRead(b []byte, read func()) {
	p := genWordPtr(b)
	for {
		before := atomic.LoadUint64(p)
		if before&genLockedBit != 0 {
			continue
		}
		read()
		after := atomic.LoadUint64(p)
		if before == after {
			return
		}
	}
}
