// Package session implements the per-thread session/epoch protocol:
// every call into the store happens through a Session, which holds
// one reserved epoch slot for its whole lifetime and refreshes it
// between operations so deferred reclamation can make progress.
package session

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"fasterkv/pkg/epoch"
	"fasterkv/pkg/metrics"
	"fasterkv/pkg/status"
	"fasterkv/pkg/store"
)

// engine is the subset of *store.FasterKv[K] a Session drives. Kept
// as an interface so tests can swap in a fake without dragging in a
// real record log.
type engine[K store.Key[K]] interface {
	Epoch() *epoch.Manager
	Read(ctx store.ReadContext[K]) status.Status
	Upsert(ctx store.UpsertContext[K]) status.Status
	Rmw(ctx store.RmwContext[K]) status.Status
	GrowIndex() error
	HelpResize() bool
}

// Session is one thread's long-lived handle onto a FasterKv. A real
// deployment holds exactly one Session per worker goroutine; sharing
// a Session across goroutines without external synchronisation is a
// contract violation, the same way sharing an epoch slot would be.
type Session[K store.Key[K]] struct {
	id     uuid.UUID
	kv     engine[K]
	epoch  *epoch.Manager
	handle epoch.Handle

	// pending holds ops that could not complete synchronously. The
	// in-memory device never actually parks anything here — every
	// Read/Upsert/Rmw call above completes before returning, per the
	// device's own conformance contract — so this exists to give
	// TryCompletePending a real (always-empty) list to drain rather
	// than being a pure stub method.
	pending []func() status.Status
}

// StartSession reserves an epoch slot for the calling thread and
// mints a session guid, so sessions stay identifiable in logs and
// metrics across process restarts, not just within one run.
func StartSession[K store.Key[K]](kv *store.FasterKv[K]) (*Session[K], error) {
	return startSession[K](kv)
}

func startSession[K store.Key[K]](kv engine[K]) (*Session[K], error) {
	m := kv.Epoch()
	h, err := m.Acquire()
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	s := &Session[K]{
		id:     uuid.New(),
		kv:     kv,
		epoch:  m,
		handle: h,
	}
	metrics.Sessions.Inc()
	slog.Default().Debug("session started", "session", s.id)
	return s, nil
}

// ID is the session's guid, minted once at StartSession and stable
// for the session's lifetime.
func (s *Session[K]) ID() uuid.UUID { return s.id }

// StopSession releases the session's epoch slot. A stopped session
// must not be used again.
func (s *Session[K]) StopSession() {
	s.epoch.Release(s.handle)
	metrics.Sessions.Dec()
	slog.Default().Debug("session stopped", "session", s.id)
}

// Refresh re-reserves the session's epoch slot at the current global
// epoch, letting deferred reclamation that was waiting on this thread
// proceed, opportunistically helps along one unit of any resize in
// flight, and retries whatever is on the pending list.
func (s *Session[K]) Refresh() {
	s.epoch.Refresh(s.handle)
	s.kv.HelpResize()
	s.drainPending()
}

// Read runs a read through this session.
func (s *Session[K]) Read(ctx store.ReadContext[K]) status.Status {
	return s.dispatch("read", func() status.Status { return s.kv.Read(ctx) })
}

// Upsert runs an upsert through this session.
func (s *Session[K]) Upsert(ctx store.UpsertContext[K]) status.Status {
	return s.dispatch("upsert", func() status.Status { return s.kv.Upsert(ctx) })
}

// Rmw runs a read-modify-write through this session.
func (s *Session[K]) Rmw(ctx store.RmwContext[K]) status.Status {
	return s.dispatch("rmw", func() status.Status { return s.kv.Rmw(ctx) })
}

// GrowIndex initiates (or attaches to an in-flight) hash table grow.
// Any session may call this; pkg/hashindex coalesces concurrent
// initiators through a singleflight group.
func (s *Session[K]) GrowIndex() error {
	return s.kv.GrowIndex()
}

// TryCompletePending retries every operation still on this session's
// pending list, returning the number still outstanding afterward.
// Under the in-memory device the list is always empty, since nothing
// this session does ever returns status.Pending; the method exists so
// a caller written against a pluggable backend doesn't need a
// different code path for this one.
func (s *Session[K]) TryCompletePending() int {
	s.drainPending()
	return len(s.pending)
}

func (s *Session[K]) drainPending() {
	if len(s.pending) == 0 {
		return
	}
	remaining := s.pending[:0]
	for _, op := range s.pending {
		if op() == status.Pending {
			remaining = append(remaining, op)
			continue
		}
		metrics.PendingOps.Dec()
	}
	s.pending = remaining
}

func (s *Session[K]) dispatch(kind string, op func() status.Status) status.Status {
	st := op()
	metrics.OpsTotal.WithLabelValues(kind, st.String()).Inc()
	if st == status.Pending {
		s.pending = append(s.pending, op)
		metrics.PendingOps.Inc()
	}
	return st
}
