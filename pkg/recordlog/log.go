// Package recordlog implements the append-only record log: a ring of
// fixed-size pages addressed by a 48-bit logical offset, partitioned by
// four monotonic boundaries (head, safe_read_only, read_only, tail)
// into unsafe, read-only, and mutable regions.
//
// Pages are recycled through a sync.Pool once head moves past them,
// the same lazily-materialised-chunk idea as a chunked mmap arena, but
// entirely in memory: the only device call the log makes is a write of
// each page to its Device just before head passes it and the page goes
// back to the pool.
package recordlog

import (
	"fmt"
	"log/slog"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/klauspost/cpuid/v2"

	"fasterkv/pkg/device"
	"fasterkv/pkg/epoch"
	"fasterkv/pkg/metrics"
)

const (
	// DefaultPageSize is used when Options.PageSize is left at zero.
	DefaultPageSize = 1 << 20 // 1 MiB

	// RecordAlignment is the byte boundary every record's start address
	// is rounded up to.
	RecordAlignment = 8

	// maxRetries bounds the tail CAS loop before Allocate gives up and
	// returns ErrAborted rather than spin forever under contention.
	maxRetries = 10_000
)

// Options configures a Log at construction.
type Options struct {
	// Capacity is the total log size in bytes. Must be a power of two
	// and fit in 48 bits (AddressBits).
	Capacity uint64

	// PageSize is the size of one ring slot, in bytes. Must be a power
	// of two, must divide Capacity, and Capacity/PageSize must be at
	// least 2 (the "minimum two pages" rule). Zero selects
	// DefaultPageSize, clamped down if Capacity is smaller.
	PageSize uint64

	// MutableWindow bounds how far read_only is allowed to trail tail
	// before Allocate automatically shifts it forward. Zero selects
	// Capacity / 4.
	MutableWindow uint64

	// HeadSlack is how far head trails safe_read_only once an epoch
	// certifies a safe_read_only advance, for the in-memory device
	// (which reports everything as already flushed). Zero selects
	// PageSize.
	HeadSlack uint64

	// Device is where a page's bytes are flushed before head advances
	// past it and the page is returned to the pool. Nil selects
	// device.NewInMemoryDevice, which completes synchronously and
	// keeps every byte it's handed only as long as the call, exactly
	// matching the ring's own in-memory retention.
	Device device.Device
}

// Log is the append-only record store. The zero value is not usable;
// construct one with New.
type Log struct {
	capacity      uint64
	pageSize      uint64
	pageShift     uint
	numPages      uint64
	mutableWindow uint64
	headSlack     uint64

	pages    []atomic.Pointer[page]
	pagePool *sync.Pool
	device   device.Device

	head         atomic.Uint64
	safeReadOnly atomic.Uint64
	readOnly     atomic.Uint64
	tail         atomic.Uint64

	epoch *epoch.Manager
}

// New constructs a Log backed by m for deferred release of vacated
// pages. The first valid address is 1 (address 0 is the Invalid
// sentinel), so head/safe_read_only/read_only/tail all start at 1.
func New(opts Options, m *epoch.Manager) (*Log, error) {
	if opts.Capacity == 0 || opts.Capacity&(opts.Capacity-1) != 0 {
		return nil, fmt.Errorf("recordlog: capacity must be a power of two, got %d", opts.Capacity)
	}
	if opts.Capacity > uint64(MaxAddress)+1 {
		return nil, fmt.Errorf("recordlog: capacity %d does not fit in %d bits", opts.Capacity, AddressBits)
	}

	pageSize := opts.PageSize
	if pageSize == 0 {
		pageSize = DefaultPageSize
		for pageSize > opts.Capacity/2 {
			pageSize >>= 1
		}
	}
	if pageSize == 0 || pageSize&(pageSize-1) != 0 {
		return nil, fmt.Errorf("recordlog: page size must be a power of two, got %d", pageSize)
	}
	if opts.Capacity%pageSize != 0 {
		return nil, fmt.Errorf("recordlog: capacity %d is not a multiple of page size %d", opts.Capacity, pageSize)
	}
	numPages := opts.Capacity / pageSize
	if numPages < 2 {
		return nil, fmt.Errorf("recordlog: log must hold at least two pages, got %d", numPages)
	}

	mutableWindow := opts.MutableWindow
	if mutableWindow == 0 {
		mutableWindow = opts.Capacity / 4
	}
	headSlack := opts.HeadSlack
	if headSlack == 0 {
		headSlack = pageSize
	}

	dev := opts.Device
	if dev == nil {
		dev = device.NewInMemoryDevice()
	}

	// Bucket/record layouts downstream assume a 64-byte line; a wildly
	// different detected line size means cross-page false sharing on
	// every page boundary instead of just the occasional one.
	if cl := cpuid.CPU.CacheLine; cl > 0 && pageSize%uint64(cl) != 0 {
		slog.Default().Warn("recordlog: page size is not a multiple of the detected cache line size",
			"page_size", pageSize, "cache_line", cl)
	}

	l := &Log{
		capacity:      opts.Capacity,
		pageSize:      pageSize,
		pageShift:     uint(bits.TrailingZeros64(pageSize)),
		numPages:      numPages,
		mutableWindow: mutableWindow,
		headSlack:     headSlack,
		pages:         make([]atomic.Pointer[page], numPages),
		pagePool:      newPagePool(int(pageSize)),
		device:        dev,
		epoch:         m,
	}
	l.head.Store(1)
	l.safeReadOnly.Store(1)
	l.readOnly.Store(1)
	l.tail.Store(1)

	// Materialise page 0 up front: the first allocation starts at
	// address 8 (tail 1 rounded up to RecordAlignment), inside it,
	// without ever crossing a page boundary.
	l.pages[0].Store(acquirePage(l.pagePool))

	return l, nil
}

func (l *Log) Head() Address         { return Address(l.head.Load()) }
func (l *Log) SafeReadOnly() Address { return Address(l.safeReadOnly.Load()) }
func (l *Log) ReadOnly() Address     { return Address(l.readOnly.Load()) }
func (l *Log) Tail() Address         { return Address(l.tail.Load()) }

func (l *Log) slotFor(addr uint64) uint64 {
	return (addr >> l.pageShift) % l.numPages
}

func (l *Log) pageStart(addr uint64) uint64 {
	return (addr >> l.pageShift) << l.pageShift
}

// Allocate reserves n bytes (rounded up to RecordAlignment) at the
// current tail and returns the starting address. Records never span a
// page: if the aligned start would cross into the next page, the
// remainder of the current page is skipped (left as unaddressed
// padding) and the allocation retried from the next page's start.
func (l *Log) Allocate(n int) (Address, error) {
	size := uint64(alignUp(n, RecordAlignment))

	for attempt := 0; attempt < maxRetries; attempt++ {
		old := l.tail.Load()
		start := alignUp64(old, RecordAlignment)
		end := start + size

		if l.pageStart(start) != l.pageStart(end-1) {
			// Padding move: jump straight to the next page's start.
			next := l.pageStart(start) + l.pageSize
			l.tail.CompareAndSwap(old, next)
			continue
		}

		if end-l.head.Load() > l.capacity {
			return 0, ErrOutOfMemory
		}

		if !l.tail.CompareAndSwap(old, end) {
			continue
		}

		if start%l.pageSize == 0 {
			l.pages[l.slotFor(start)].Store(acquirePage(l.pagePool))
		}

		metrics.LogLiveBytes.Set(float64(end - l.head.Load()))
		l.maybeShiftReadOnly(end)
		return Address(start), nil
	}
	return 0, ErrAborted
}

// At returns a byte slice, starting at addr and extending to the end
// of addr's page, into the log's backing storage. Records are never
// split across a page boundary, so callers never need bytes from two
// pages for one record.
func (l *Log) At(addr Address) ([]byte, error) {
	a := uint64(addr)
	if a < l.head.Load() {
		return nil, ErrNotInMemory
	}
	p := l.pages[l.slotFor(a)].Load()
	if p == nil {
		return nil, ErrNotInMemory
	}
	offset := a - l.pageStart(a)
	return p.data[offset:], nil
}

// maybeShiftReadOnly advances read_only to trail tail by mutableWindow
// once tail has pulled far enough ahead, so the mutable region stays
// bounded instead of growing without end. This is the log's half of
// "crosses read_only into a new region" from Allocate.
func (l *Log) maybeShiftReadOnly(tail uint64) {
	ro := l.readOnly.Load()
	if tail <= ro+l.mutableWindow {
		return
	}
	l.ShiftReadOnly(Address(tail - l.mutableWindow))
}

// ShiftReadOnly advances read_only to newRO (a no-op if newRO is not
// ahead of the current value), then arranges for safe_read_only and
// eventually head to follow once the epoch protocol certifies no
// session can still be reading the now-immutable region as mutable.
//
// Registering the deferred action is not enough on its own: drain only
// runs an action once every reserved epoch has moved past its trigger,
// and nothing moves the global epoch forward by itself. So, the same
// way FASTER's BumpCurrentEpoch follows a boundary move, this bumps the
// epoch right after registering the defer — any session still parked
// at the trigger epoch will carry it forward past the trigger on its
// next Refresh, at which point drain's safe-epoch check is satisfied.
func (l *Log) ShiftReadOnly(newRO Address) {
	for {
		old := l.readOnly.Load()
		if uint64(newRO) <= old {
			return
		}
		if l.readOnly.CompareAndSwap(old, uint64(newRO)) {
			break
		}
	}

	triggerEpoch := l.epoch.Current()
	l.epoch.Defer(triggerEpoch, func() {
		l.advanceSafeReadOnly(uint64(newRO))
	})
	l.epoch.Bump()
}

func (l *Log) advanceSafeReadOnly(newSRO uint64) {
	for {
		old := l.safeReadOnly.Load()
		if newSRO <= old {
			break
		}
		if l.safeReadOnly.CompareAndSwap(old, newSRO) {
			break
		}
	}

	triggerEpoch := l.epoch.Current()
	l.epoch.Defer(triggerEpoch, func() {
		l.advanceHead(newSRO)
	})
	l.epoch.Bump()
}

// advanceHead moves head up to safe_read_only minus headSlack — the
// in-memory device reports everything flushed immediately, but head
// still trails by a configured slack so a chain walk that raced the
// boundary move has a window to finish against pages that are "safe"
// but not yet physically recycled.
func (l *Log) advanceHead(safeReadOnly uint64) {
	target := uint64(0)
	if safeReadOnly > l.headSlack {
		target = safeReadOnly - l.headSlack
	}
	target = target - target%l.pageSize // only recycle whole pages

	var old uint64
	for {
		old = l.head.Load()
		if target <= old {
			return
		}
		if l.head.CompareAndSwap(old, target) {
			break
		}
	}
	l.recyclePages(old, target)
}

// recyclePages flushes every whole page in [from, to) to the device,
// then returns it to the pool. A page crossing below head has already
// been immutable since it crossed safe_read_only, so flushing here
// (rather than at the safe_read_only boundary) is purely a matter of
// picking the latest safe moment to do it.
func (l *Log) recyclePages(from, to uint64) {
	for addr := l.pageStart(from); addr < to; addr += l.pageSize {
		slot := l.slotFor(addr)
		p := l.pages[slot].Swap(nil)
		if p == nil {
			continue
		}
		l.device.WriteAsync(p.data, addr, uint32(l.pageSize), func(error, uint32) {}, nil)
		releasePage(l.pagePool, p)
		metrics.PagesRecycled.Add(1)
	}
}

func alignUp(n, align int) int {
	return int(alignUp64(uint64(n), uint64(align)))
}

func alignUp64(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}
