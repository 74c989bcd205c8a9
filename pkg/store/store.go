package store

import (
	"fmt"
	"log/slog"
	"math/bits"

	"fasterkv/pkg/epoch"
	"fasterkv/pkg/hashindex"
	"fasterkv/pkg/recordlog"
)

// Options configures a FasterKv at construction. The zero value is
// not useful; callers typically start from pkg/config.DefaultStoreConfig
// and convert it with ToOptions.
type Options struct {
	// TableSize is the initial hash bucket count, rounded up to the
	// next power of two. Must be at least 1.
	TableSize uint64
	// LogSizeBytes is the total record log capacity, a power of two,
	// at least two pages.
	LogSizeBytes uint64
	// PageSize is the record log's page size; zero selects
	// recordlog.DefaultPageSize (clamped to fit LogSizeBytes).
	PageSize uint64
	// BasePath is an opaque identifier for the backing store; empty
	// for the in-memory configuration, which is the only one this
	// module ships.
	BasePath string
	// RetryBudget bounds the CAS-retry loop Phase C spins through
	// before giving up and returning status.Aborted. See DESIGN.md for
	// why this value was chosen.
	RetryBudget int
}

// DecodeKey reconstructs a caller's key type from the bytes a record
// has stored for it. The store needs this to run Equals against a
// chain entry's actual key, not just its tag filter.
type DecodeKey[K any] func(encoded []byte) K

// FasterKv is the concurrent KV engine: a hash index over an
// append-only record log, epoch-coordinated for safe reclamation.
// K is the caller's key type; Value is always a raw byte slice,
// interpreted entirely by the context hooks in key.go.
type FasterKv[K Key[K]] struct {
	epoch  *epoch.Manager
	idx    *hashindex.Index
	log    *recordlog.Log
	decode DecodeKey[K]

	retryBudget int
	logger      *slog.Logger
}

// New builds a FasterKv. decode must round-trip whatever a K's
// WriteTo encodes — New does not validate this, callers get it wrong
// at their own peril, same as a bad hash function.
func New[K Key[K]](opts Options, decode DecodeKey[K]) (*FasterKv[K], error) {
	tableSize := nextPow2(opts.TableSize)
	if tableSize == 0 {
		tableSize = 1
	}

	m := epoch.New()
	idx := hashindex.New(tableSize, m)

	l, err := recordlog.New(recordlog.Options{
		Capacity: opts.LogSizeBytes,
		PageSize: opts.PageSize,
	}, m)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	retryBudget := opts.RetryBudget
	if retryBudget <= 0 {
		retryBudget = 1024
	}

	return &FasterKv[K]{
		epoch:       m,
		idx:         idx,
		log:         l,
		decode:      decode,
		retryBudget: retryBudget,
		logger:      slog.Default(),
	}, nil
}

// Epoch exposes the store's epoch manager for pkg/session, which owns
// acquiring and releasing per-thread slots.
func (f *FasterKv[K]) Epoch() *epoch.Manager { return f.epoch }

// IndexSize reports the current hash bucket count, mainly useful for
// tests and diagnostics asserting a resize actually happened.
func (f *FasterKv[K]) IndexSize() uint64 { return f.idx.Size() }

// GrowIndex doubles the hash table. A call made while another grow is
// in flight attaches to that grow and returns when it completes,
// rather than doubling the table a second time.
func (f *FasterKv[K]) GrowIndex() error {
	return f.idx.Grow(f.hashAt())
}

// ShrinkIndex halves the hash table.
func (f *FasterKv[K]) ShrinkIndex() error {
	return f.idx.Shrink(f.hashAt())
}

// HelpResize lets a session perform one unit of helped-split work if
// a resize is in flight, returning false if there was none to do.
func (f *FasterKv[K]) HelpResize() bool {
	return f.idx.HelpSplit(f.hashAt())
}

func (f *FasterKv[K]) hashAt() hashindex.HashAt {
	return func(addr recordlog.Address) (uint64, bool) {
		buf, err := f.log.At(addr)
		if err != nil {
			return 0, false
		}
		k := f.decode(recordlog.KeyBytes(buf))
		return k.Hash(), true
	}
}

func nextPow2(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	if n&(n-1) == 0 {
		return n
	}
	return uint64(1) << bits.Len64(n)
}
