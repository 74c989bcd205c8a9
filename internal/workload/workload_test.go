package workload

import (
	"testing"

	"fasterkv/pkg/session"
	"fasterkv/pkg/store"
)

func newSession[K store.Key[K]](t *testing.T, f *store.FasterKv[K]) (*session.Session[K], error) {
	t.Helper()
	return session.StartSession[K](f)
}

func newUint64Store(t *testing.T, tableSize, logSize uint64) *store.FasterKv[store.Uint64Key] {
	t.Helper()
	f, err := store.New[store.Uint64Key](store.Options{
		TableSize:    tableSize,
		LogSizeBytes: logSize,
		PageSize:     1 << 12,
		RetryBudget:  512,
	}, store.DecodeUint64Key)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return f
}

// TestS1SingleSessionUpsertRead exercises S1's shape at a size small
// enough to run fast: non-atomic Put, read back, same-size atomic
// Put, read back again.
func TestS1SingleSessionUpsertRead(t *testing.T) {
	f := newUint64Store(t, 128, 1<<20)
	if err := SingleSessionUpsertRead(f, 256, 23, 42); err != nil {
		t.Fatal(err)
	}
}

// TestS2DegenerateHash exercises S2: every key collides on tag and
// bucket, and correctness depends entirely on the previous_address
// walk's full-key comparison.
func TestS2DegenerateHash(t *testing.T) {
	f, err := store.New[store.ConstantHashKey](store.Options{
		TableSize:    1,
		LogSizeBytes: 1 << 22,
		PageSize:     1 << 12,
		RetryBudget:  512,
	}, store.DecodeConstantHashKey)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	if err := DegenerateHashUpsertRead(f, 2000); err != nil {
		t.Fatal(err)
	}
}

// TestS3ConcurrentRangeUpsert exercises S3's shape: disjoint key
// ranges upserted and read back concurrently by independent sessions.
func TestS3ConcurrentRangeUpsert(t *testing.T) {
	f := newUint64Store(t, 256, 1<<21)
	if err := ConcurrentRangeUpsert(f, 8, 128, 0x17, 5); err != nil {
		t.Fatal(err)
	}
}

// TestS4ConcurrentIncrementTriggersGrow exercises S4's shape at a
// reduced scale, then verifies the per-key total against the closed
// form the scenario describes: each key in [0, keyRange) is visited
// rmwsPerThread/keyRange times per thread (assuming the range divides
// the per-thread count evenly), and every thread's visits land on the
// same set of keys, so the final value is
// (rmwsPerThread/keyRange) * sum(delta(t) for t in threads).
func TestS4ConcurrentIncrementTriggersGrow(t *testing.T) {
	f := newUint64Store(t, 16, 1<<22)
	const threads = 8
	const rmwsPerThread = 256
	const keyRange = 64

	sizeBefore := f.IndexSize()
	res, err := ConcurrentIncrement(f, threads, rmwsPerThread, keyRange, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.IndexSizeAfter <= sizeBefore {
		t.Fatalf("index size after = %d, want > %d (grow_index should have run)", res.IndexSizeAfter, sizeBefore)
	}

	var sumDeltas uint64
	for t := 0; t < threads; t++ {
		sumDeltas += uint64(2 * t)
	}
	visitsPerKey := uint64(rmwsPerThread / keyRange)
	want := visitsPerKey * sumDeltas

	s, err := newSession(t, f)
	if err != nil {
		t.Fatal(err)
	}
	defer s.StopSession()
	for key := uint64(0); key < keyRange; key++ {
		rc := NewReadCounterCtx(store.Uint64Key(key))
		if st := s.Read(rc); !st.IsOk() {
			t.Fatalf("read key %d: %s", key, st)
		}
		if rc.Value != want {
			t.Fatalf("key %d = %d, want %d", key, rc.Value, want)
		}
	}
}

// TestS5VariableLengthRmw exercises S5's shape: concurrent resizing
// rmws against one key, each thread applying the same delta at the
// same new length, so the result is deterministic regardless of
// interleaving.
func TestS5VariableLengthRmw(t *testing.T) {
	f := newUint64Store(t, 16, 1<<20)
	key := store.Uint64Key(1)

	if err := VariableLengthRmw(f, 8, key, 5, 3); err != nil {
		t.Fatal(err)
	}

	s, err := newSession(t, f)
	if err != nil {
		t.Fatal(err)
	}
	defer s.StopSession()

	rc := NewBufferReadCtx(key)
	if st := s.Read(rc); !st.IsOk() {
		t.Fatalf("read: %s", st)
	}
	if len(rc.Out) != 5 {
		t.Fatalf("length = %d, want 5", len(rc.Out))
	}
	for i, b := range rc.Out {
		if b != 8*3 {
			t.Fatalf("byte %d = %d, want %d", i, b, 8*3)
		}
	}
}

// TestS5VariableLengthReplace exercises S5's second wave: a value
// grown once already gets replaced at a different length. Exactly one
// thread's copy-install CAS wins and runs RmwCopy (copying the old
// value into the new-length buffer and applying delta to both the
// overlap and the grown tail); every other thread then finds the
// value already at the target length and falls to RmwAtomic, adding
// delta across the whole buffer. The result is deterministic
// regardless of which thread wins the install:
//
//	overlap = firstWaveValue + delta2 + (nThreads-1)*delta2
//	tail    = delta2 + (nThreads-1)*delta2 = nThreads*delta2
func TestS5VariableLengthReplace(t *testing.T) {
	f := newUint64Store(t, 16, 1<<20)
	key := store.Uint64Key(2)

	if err := VariableLengthRmw(f, 8, key, 5, 3); err != nil {
		t.Fatal(err)
	}
	if err := VariableLengthRmw(f, 8, key, 8, -4); err != nil {
		t.Fatal(err)
	}

	s, err := newSession(t, f)
	if err != nil {
		t.Fatal(err)
	}
	defer s.StopSession()

	rc := NewBufferReadCtx(key)
	if st := s.Read(rc); !st.IsOk() {
		t.Fatalf("read: %s", st)
	}
	if len(rc.Out) != 8 {
		t.Fatalf("length = %d, want 8", len(rc.Out))
	}

	const overlap = int8(8*3) - 4 - 7*4 // 24 - 4 - 28 = -8
	const tail = int8(-4) - 7*4         // -4 - 28 = -32
	for i, b := range rc.Out[:5] {
		if int8(b) != overlap {
			t.Fatalf("overlap byte %d = %d, want %d", i, int8(b), overlap)
		}
	}
	for i, b := range rc.Out[5:] {
		if int8(b) != tail {
			t.Fatalf("tail byte %d = %d, want %d", i, int8(b), tail)
		}
	}
}

// TestS6ResizeUnderLoad exercises S6's shape: the same concurrent
// increment workload as S4 but at a larger rmw count, asserting the
// table still ends up larger than it started.
func TestS6ResizeUnderLoad(t *testing.T) {
	f := newUint64Store(t, 16, 1<<23)
	sizeBefore := f.IndexSize()

	res, err := ConcurrentIncrement(f, 8, 4096, 64, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.IndexSizeAfter <= sizeBefore {
		t.Fatalf("index size after = %d, want > %d", res.IndexSizeAfter, sizeBefore)
	}
}
