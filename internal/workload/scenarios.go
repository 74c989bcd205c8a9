package workload

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"fasterkv/pkg/session"
	"fasterkv/pkg/status"
	"fasterkv/pkg/store"
)

// kv is the subset of store surface a scenario needs: enough to start
// sessions and, for the resize scenarios, read back the table size.
type kv = *store.FasterKv[store.Uint64Key]

// SingleSessionUpsertRead runs S1: upsert keys [0, n) via a
// non-atomic Put to value seed, read each back, upsert again via an
// atomic-sized Put to value next (same length, so the in-place path
// applies), and read each back again.
func SingleSessionUpsertRead(f kv, n uint64, seed, next byte) error {
	s, err := session.StartSession[store.Uint64Key](f)
	if err != nil {
		return err
	}
	defer s.StopSession()

	for id := uint64(0); id < n; id++ {
		key := store.Uint64Key(id)
		if st := s.Upsert(NewBufferUpsertCtx(key, seed, 1)); st != status.Ok {
			return fmt.Errorf("upsert %d: %s", id, st)
		}
	}
	for id := uint64(0); id < n; id++ {
		key := store.Uint64Key(id)
		rc := NewBufferReadCtx(key)
		if st := s.Read(rc); st != status.Ok {
			return fmt.Errorf("read %d: %s", id, st)
		}
		if len(rc.Out) != 1 || rc.Out[0] != seed {
			return fmt.Errorf("read %d: got %v, want [%d]", id, rc.Out, seed)
		}
	}
	for id := uint64(0); id < n; id++ {
		key := store.Uint64Key(id)
		if st := s.Upsert(NewBufferUpsertCtx(key, next, 1)); st != status.Ok {
			return fmt.Errorf("re-upsert %d: %s", id, st)
		}
	}
	for id := uint64(0); id < n; id++ {
		key := store.Uint64Key(id)
		rc := NewBufferReadCtx(key)
		if st := s.Read(rc); st != status.Ok {
			return fmt.Errorf("re-read %d: %s", id, st)
		}
		if len(rc.Out) != 1 || rc.Out[0] != next {
			return fmt.Errorf("re-read %d: got %v, want [%d]", id, rc.Out, next)
		}
	}
	return nil
}

// DegenerateHashUpsertRead runs S2 against a store keyed by
// ConstantHashKey, so every one of n keys shares the same tag and
// bucket; correctness depends entirely on the previous_address walk's
// full-key comparison, not on the hash spreading keys apart.
func DegenerateHashUpsertRead(f *store.FasterKv[store.ConstantHashKey], n uint64) error {
	s, err := session.StartSession[store.ConstantHashKey](f)
	if err != nil {
		return err
	}
	defer s.StopSession()

	for id := uint64(0); id < n; id++ {
		key := store.ConstantHashKey(id)
		v := NewIncrementCtx(key, id)
		if st := s.Rmw(v); st != status.Ok {
			return fmt.Errorf("rmw %d: %s", id, st)
		}
	}
	for id := uint64(0); id < n; id++ {
		key := store.ConstantHashKey(id)
		rc := NewReadCounterCtx(key)
		if st := s.Read(rc); st != status.Ok {
			return fmt.Errorf("read %d: %s", id, st)
		}
		if rc.Value != id {
			return fmt.Errorf("read %d: got %d, want %d", id, rc.Value, id)
		}
	}
	return nil
}

// ConcurrentRangeUpsert runs S3: nThreads sessions, each owning a
// disjoint keysPerThread range, all upsert concurrently, then all
// read concurrently. Every session runs in its own goroutine and its
// own session (epoch slots are per-thread, never shared).
func ConcurrentRangeUpsert(f kv, nThreads, keysPerThread int, pattern byte, length int) error {
	g, _ := errgroup.WithContext(context.Background())
	for t := 0; t < nThreads; t++ {
		t := t
		g.Go(func() error {
			s, err := session.StartSession[store.Uint64Key](f)
			if err != nil {
				return err
			}
			defer s.StopSession()

			base := uint64(t * keysPerThread)
			for i := 0; i < keysPerThread; i++ {
				key := store.Uint64Key(base + uint64(i))
				if st := s.Upsert(NewBufferUpsertCtx(key, pattern, length)); st != status.Ok {
					return fmt.Errorf("thread %d upsert %d: %s", t, key, st)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	g, _ = errgroup.WithContext(context.Background())
	for t := 0; t < nThreads; t++ {
		t := t
		g.Go(func() error {
			s, err := session.StartSession[store.Uint64Key](f)
			if err != nil {
				return err
			}
			defer s.StopSession()

			base := uint64(t * keysPerThread)
			for i := 0; i < keysPerThread; i++ {
				key := store.Uint64Key(base + uint64(i))
				rc := NewBufferReadCtx(key)
				if st := s.Read(rc); st != status.Ok {
					return fmt.Errorf("thread %d read %d: %s", t, key, st)
				}
				if len(rc.Out) != length {
					return fmt.Errorf("thread %d read %d: length %d, want %d", t, key, len(rc.Out), length)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// ConcurrentIncrementResult is ConcurrentIncrement's outcome: the
// index size observed after the fan-out, for the caller to assert a
// grow actually happened when one was requested.
type ConcurrentIncrementResult struct {
	IndexSizeAfter uint64
}

// ConcurrentIncrement runs S4/S6's shape: nThreads sessions each run
// rmwsPerThread increments of delta(threadID) over [0, keyRange),
// cycling through the range. One designated thread also calls
// GrowIndex partway through. After all threads join, the caller reads
// back totals itself — this function only drives the writes and
// reports the index size, since the expected per-key total depends on
// exactly how rmwsPerThread divides into keyRange and is cheaper for
// the caller to compute once than to duplicate here.
func ConcurrentIncrement(f kv, nThreads, rmwsPerThread, keyRange int, growFromThread int) (ConcurrentIncrementResult, error) {
	g, _ := errgroup.WithContext(context.Background())
	for t := 0; t < nThreads; t++ {
		t := t
		g.Go(func() error {
			s, err := session.StartSession[store.Uint64Key](f)
			if err != nil {
				return err
			}
			defer s.StopSession()

			delta := uint64(2 * t)
			for i := 0; i < rmwsPerThread; i++ {
				key := store.Uint64Key(uint64(i) % uint64(keyRange))
				if st := s.Rmw(NewIncrementCtx(key, delta)); st != status.Ok {
					return fmt.Errorf("thread %d rmw %d: %s", t, key, st)
				}
				if t == growFromThread && i == rmwsPerThread/2 {
					if err := s.GrowIndex(); err != nil {
						return fmt.Errorf("thread %d grow: %w", t, err)
					}
				}
				if i%64 == 0 {
					s.Refresh()
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ConcurrentIncrementResult{}, err
	}
	return ConcurrentIncrementResult{IndexSizeAfter: f.IndexSize()}, nil
}

// VariableLengthRmw runs S5's shape: nThreads sessions each run one
// resizing rmw against the same key, first growing the value to
// toLength with per-byte delta, then a caller-issued second wave can
// invoke this again with a different length/delta to model the
// buffer's replacement step.
func VariableLengthRmw(f kv, nThreads int, key store.Uint64Key, toLength int, delta int8) error {
	g, _ := errgroup.WithContext(context.Background())
	for t := 0; t < nThreads; t++ {
		g.Go(func() error {
			s, err := session.StartSession[store.Uint64Key](f)
			if err != nil {
				return err
			}
			defer s.StopSession()

			if st := s.Rmw(NewResizeRmwCtx(key, toLength, delta)); st != status.Ok {
				return fmt.Errorf("rmw: %s", st)
			}
			return nil
		})
	}
	return g.Wait()
}
