// Package epoch implements the store's epoch-based reclamation protocol:
// a monotonic global counter, a fixed table of per-thread reservations,
// and a deferred-action queue drained once it is safe to do so.
//
// Every structural change that could race with an in-flight reader (log
// page release, hash bucket release, old table teardown) goes through
// defer rather than freeing memory directly.
package epoch

import (
	"fmt"
	"sync"
	"sync/atomic"

	"fasterkv/pkg/metrics"
)

// unreserved is the sentinel slot value meaning "no thread is using this
// slot right now". Valid epochs start at 1, so 0 is free to use.
const unreserved = 0

// MaxThreads bounds the number of concurrently reserved slots. It is a
// compile-time constant because the slot table is a flat array scanned
// by acquire; a real deployment sizes this to the expected thread count.
const MaxThreads = 128

// Handle identifies a thread's reserved slot by its index in the slot
// table, so Handle(0) is the first slot; callers receive one from
// Acquire.
type Handle int

type deferredAction struct {
	trigger uint64
	action  func()
}

// Manager owns the global epoch counter and the per-thread slot table.
// It is process-wide state: one Manager is created with the store and
// torn down with it, never per-session.
type Manager struct {
	epoch atomic.Uint64

	slotsMu sync.Mutex // guards slot allocation only; slot values are atomic
	slots   [MaxThreads]atomic.Uint64
	taken   [MaxThreads]bool

	deferredMu sync.Mutex
	deferred   []deferredAction
}

// New returns a Manager with the global epoch initialised to 1 (0 is
// reserved to mean "unreserved slot").
func New() *Manager {
	m := &Manager{}
	m.epoch.Store(1)
	metrics.CurrentEpoch.Set(1)
	return m
}

// Acquire reserves a slot for the calling thread at the current epoch.
func (m *Manager) Acquire() (Handle, error) {
	m.slotsMu.Lock()
	defer m.slotsMu.Unlock()

	for i := 0; i < MaxThreads; i++ {
		if !m.taken[i] {
			m.taken[i] = true
			m.slots[i].Store(m.epoch.Load())
			return Handle(i), nil
		}
	}
	return 0, fmt.Errorf("epoch: %w", ErrTooManyThreads)
}

// Release frees h, making its slot available to a future Acquire.
func (m *Manager) Release(h Handle) {
	m.slotsMu.Lock()
	defer m.slotsMu.Unlock()
	m.slots[h].Store(unreserved)
	m.taken[h] = false
}

// Refresh re-reserves h at the current global epoch and drains any
// deferred action now safe to run. Any refreshing thread may end up
// running another thread's deferred action; ordering across distinct
// trigger epochs is preserved, ordering within one epoch is not.
func (m *Manager) Refresh(h Handle) {
	m.slots[h].Store(m.epoch.Load())
	m.drain()
}

// Bump atomically advances the global epoch and returns the new value.
func (m *Manager) Bump() uint64 {
	e := m.epoch.Add(1)
	metrics.CurrentEpoch.Set(float64(e))
	return e
}

// Current returns the current global epoch without advancing it.
func (m *Manager) Current() uint64 {
	return m.epoch.Load()
}

// Defer enqueues action to run once SafeEpoch() > e. It never fails;
// if no thread ever refreshes again the action simply never runs, which
// matches a leaked session never calling Refresh or StopSession.
func (m *Manager) Defer(e uint64, action func()) {
	m.deferredMu.Lock()
	m.deferred = append(m.deferred, deferredAction{trigger: e, action: action})
	m.deferredMu.Unlock()
}

// SafeEpoch is the minimum epoch reserved by any active slot, or the
// current global epoch if no slot is reserved.
func (m *Manager) SafeEpoch() uint64 {
	safe := m.epoch.Load()
	m.slotsMu.Lock()
	for i := 0; i < MaxThreads; i++ {
		if !m.taken[i] {
			continue
		}
		if v := m.slots[i].Load(); v != unreserved && v < safe {
			safe = v
		}
	}
	m.slotsMu.Unlock()
	return safe
}

// drain runs, and removes, every deferred action whose trigger epoch is
// now strictly below SafeEpoch. Actions for different trigger epochs run
// in trigger order; actions sharing a trigger epoch run in unspecified
// order.
func (m *Manager) drain() {
	safe := m.SafeEpoch()

	m.deferredMu.Lock()
	if len(m.deferred) == 0 {
		m.deferredMu.Unlock()
		return
	}
	var ready []deferredAction
	remaining := m.deferred[:0]
	for _, d := range m.deferred {
		if d.trigger < safe {
			ready = append(ready, d)
		} else {
			remaining = append(remaining, d)
		}
	}
	m.deferred = remaining
	m.deferredMu.Unlock()

	if len(ready) == 0 {
		return
	}
	sortByTrigger(ready)
	for _, d := range ready {
		d.action()
	}
	metrics.DeferredDrained.Add(float64(len(ready)))
}

// sortByTrigger is a tiny insertion sort: the ready slice is almost
// always short (a handful of pending releases), so this avoids pulling
// in sort.Slice's reflection overhead for the common case.
func sortByTrigger(d []deferredAction) {
	for i := 1; i < len(d); i++ {
		for j := i; j > 0 && d[j-1].trigger > d[j].trigger; j-- {
			d[j-1], d[j] = d[j], d[j-1]
		}
	}
}
