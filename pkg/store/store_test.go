package store

import (
	"encoding/binary"
	"testing"

	"fasterkv/pkg/status"
)

// uint64Ctx bundles the minimal Read/Upsert/Rmw hooks this file's
// tests need against Uint64Key, writing and reading back an 8-byte
// little-endian counter.
type uint64Ctx struct {
	key   Uint64Key
	value uint64
	delta uint64
	out   uint64
}

func (c *uint64Ctx) Key() Uint64Key { return c.key }

func (c *uint64Ctx) Get(value []byte)       { c.out = binary.LittleEndian.Uint64(value) }
func (c *uint64Ctx) GetAtomic(value []byte) { c.out = binary.LittleEndian.Uint64(value) }

func (c *uint64Ctx) ValueSize() int { return 8 }
func (c *uint64Ctx) Put(value []byte) {
	binary.LittleEndian.PutUint64(value, c.value)
}
func (c *uint64Ctx) PutAtomic(value []byte) bool {
	binary.LittleEndian.PutUint64(value, c.value)
	return true
}

func (c *uint64Ctx) InitialSize() int { return 8 }
func (c *uint64Ctx) RmwInitial(value []byte) {
	binary.LittleEndian.PutUint64(value, c.delta)
}
func (c *uint64Ctx) CopySize(oldValue []byte) int { return 8 }
func (c *uint64Ctx) RmwCopy(oldValue, newValue []byte) {
	v := binary.LittleEndian.Uint64(oldValue) + c.delta
	binary.LittleEndian.PutUint64(newValue, v)
}
func (c *uint64Ctx) RmwAtomic(value []byte) bool {
	v := binary.LittleEndian.Uint64(value) + c.delta
	binary.LittleEndian.PutUint64(value, v)
	return true
}

func newTestStore(t *testing.T) *FasterKv[Uint64Key] {
	t.Helper()
	f, err := New[Uint64Key](Options{
		TableSize:    8,
		LogSizeBytes: 1 << 20,
		PageSize:     1 << 12,
		RetryBudget:  256,
	}, DecodeUint64Key)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func TestReadMissReportsNotFound(t *testing.T) {
	f := newTestStore(t)
	ctx := &uint64Ctx{key: 1}
	if st := f.Read(ctx); st != status.NotFound {
		t.Fatalf("Read on empty store = %v, want NotFound", st)
	}
}

func TestUpsertThenRead(t *testing.T) {
	f := newTestStore(t)
	key := Uint64Key(42)

	if st := f.Upsert(&uint64Ctx{key: key, value: 23}); !st.IsOk() {
		t.Fatalf("Upsert: %v", st)
	}
	read := &uint64Ctx{key: key}
	if st := f.Read(read); !st.IsOk() {
		t.Fatalf("Read: %v", st)
	}
	if read.out != 23 {
		t.Fatalf("Read value = %d, want 23", read.out)
	}

	// Second upsert, same value size: exercises the in-place atomic
	// path since the record is still in the mutable region.
	if st := f.Upsert(&uint64Ctx{key: key, value: 42}); !st.IsOk() {
		t.Fatalf("second Upsert: %v", st)
	}
	read2 := &uint64Ctx{key: key}
	if st := f.Read(read2); !st.IsOk() {
		t.Fatalf("second Read: %v", st)
	}
	if read2.out != 42 {
		t.Fatalf("second Read value = %d, want 42", read2.out)
	}
}

func TestRmwSequenceFoldsDeltas(t *testing.T) {
	f := newTestStore(t)
	key := Uint64Key(7)

	deltas := []uint64{1, 2, 3, 4, 5}
	var want uint64
	for i, d := range deltas {
		if i == 0 {
			want = d // RmwInitial seeds at the first delta, no prior value to fold
		} else {
			want += d
		}
		if st := f.Rmw(&uint64Ctx{key: key, delta: d}); !st.IsOk() {
			t.Fatalf("Rmw(%d): %v", d, st)
		}
	}

	read := &uint64Ctx{key: key}
	if st := f.Read(read); !st.IsOk() {
		t.Fatalf("Read: %v", st)
	}
	if read.out != want {
		t.Fatalf("folded value = %d, want %d", read.out, want)
	}
}

func TestDegenerateHashChainWalkDisambiguatesKeys(t *testing.T) {
	f, err := New[ConstantHashKey](Options{
		TableSize:    1,
		LogSizeBytes: 1 << 21,
		PageSize:     1 << 12,
		RetryBudget:  256,
	}, DecodeConstantHashKey)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const n = 200
	for id := uint64(0); id < n; id++ {
		c := &constHashCtx{key: ConstantHashKey(id), value: id}
		if st := f.Upsert(c); !st.IsOk() {
			t.Fatalf("Upsert(%d): %v", id, st)
		}
	}
	for id := uint64(0); id < n; id++ {
		c := &constHashCtx{key: ConstantHashKey(id)}
		if st := f.Read(c); !st.IsOk() {
			t.Fatalf("Read(%d): %v", id, st)
		}
		if c.out != id {
			t.Fatalf("Read(%d) = %d, want %d", id, c.out, id)
		}
	}
}

type constHashCtx struct {
	key   ConstantHashKey
	value uint64
	out   uint64
}

func (c *constHashCtx) Key() ConstantHashKey { return c.key }
func (c *constHashCtx) Get(value []byte)       { c.out = binary.LittleEndian.Uint64(value) }
func (c *constHashCtx) GetAtomic(value []byte) { c.out = binary.LittleEndian.Uint64(value) }
func (c *constHashCtx) ValueSize() int         { return 8 }
func (c *constHashCtx) Put(value []byte) {
	binary.LittleEndian.PutUint64(value, c.value)
}
func (c *constHashCtx) PutAtomic(value []byte) bool {
	binary.LittleEndian.PutUint64(value, c.value)
	return true
}
