// Package workload implements the value types and concurrent
// scenario runners used to exercise a FasterKv end to end: a fixed
// pattern buffer for plain upsert/read traffic, and a counter that
// grows through RmwInitial/RmwCopy/RmwAtomic. The contexts are generic
// over the key type so the same value types serve both the ordinary
// hashing workloads and the degenerate-hash scenario, which needs a
// distinct key type whose Hash is constant.
package workload

import (
	"encoding/binary"

	"fasterkv/pkg/store"
)

// BufferUpsertCtx upserts a fixed-length byte buffer filled with a
// single repeated pattern byte, with an in-place atomic path guarded
// by a one-byte self-lock ahead of the store's own generation lock,
// matching the original benchmark's belt-and-suspenders value type.
type BufferUpsertCtx[K store.Key[K]] struct {
	key     K
	pattern byte
	length  int
}

func NewBufferUpsertCtx[K store.Key[K]](key K, pattern byte, length int) *BufferUpsertCtx[K] {
	return &BufferUpsertCtx[K]{key: key, pattern: pattern, length: length}
}

func (c *BufferUpsertCtx[K]) Key() K       { return c.key }
func (c *BufferUpsertCtx[K]) ValueSize() int { return c.length }

func (c *BufferUpsertCtx[K]) Put(value []byte) {
	fillPattern(value, c.pattern)
}

func (c *BufferUpsertCtx[K]) PutAtomic(value []byte) bool {
	if len(value) != c.length {
		return false
	}
	lockSelf(value)
	fillPattern(value[1:], c.pattern)
	unlockSelf(value, c.pattern)
	return true
}

// lockedSentinel marks value[0] as "being written", distinct from any
// real pattern byte a caller would choose (0xFF, per the benchmark
// this scenario is modelled on).
const lockedSentinel = 0xFF

func lockSelf(value []byte) {
	for {
		if value[0] != lockedSentinel {
			value[0] = lockedSentinel
			return
		}
	}
}

func unlockSelf(value []byte, pattern byte) {
	value[0] = pattern
}

func fillPattern(value []byte, pattern byte) {
	for i := range value {
		value[i] = pattern
	}
}

// BufferReadCtx reads a key written by BufferUpsertCtx back into Out.
type BufferReadCtx[K store.Key[K]] struct {
	key K
	Out []byte
}

func NewBufferReadCtx[K store.Key[K]](key K) *BufferReadCtx[K] {
	return &BufferReadCtx[K]{key: key}
}

func (c *BufferReadCtx[K]) Key() K               { return c.key }
func (c *BufferReadCtx[K]) Get(value []byte)       { c.Out = append(c.Out[:0], value...) }
func (c *BufferReadCtx[K]) GetAtomic(value []byte) { c.Out = append(c.Out[:0], value...) }

// IncrementCtx is an Rmw value type: an 8-byte little-endian counter
// that RmwInitial seeds at Delta and RmwCopy/RmwAtomic both advance by
// Delta, used for the resize-triggering concurrent increment
// scenarios.
type IncrementCtx[K store.Key[K]] struct {
	key   K
	delta uint64
}

func NewIncrementCtx[K store.Key[K]](key K, delta uint64) *IncrementCtx[K] {
	return &IncrementCtx[K]{key: key, delta: delta}
}

func (c *IncrementCtx[K]) Key() K          { return c.key }
func (c *IncrementCtx[K]) InitialSize() int { return 8 }

func (c *IncrementCtx[K]) RmwInitial(value []byte) {
	binary.LittleEndian.PutUint64(value, c.delta)
}

func (c *IncrementCtx[K]) CopySize(oldValue []byte) int { return 8 }

func (c *IncrementCtx[K]) RmwCopy(oldValue, newValue []byte) {
	v := binary.LittleEndian.Uint64(oldValue) + c.delta
	binary.LittleEndian.PutUint64(newValue, v)
}

func (c *IncrementCtx[K]) RmwAtomic(value []byte) bool {
	v := binary.LittleEndian.Uint64(value) + c.delta
	binary.LittleEndian.PutUint64(value, v)
	return true
}

// ReadCounterCtx reads back the 8-byte counter IncrementCtx maintains.
type ReadCounterCtx[K store.Key[K]] struct {
	key   K
	Value uint64
}

func NewReadCounterCtx[K store.Key[K]](key K) *ReadCounterCtx[K] {
	return &ReadCounterCtx[K]{key: key}
}

func (c *ReadCounterCtx[K]) Key() K               { return c.key }
func (c *ReadCounterCtx[K]) Get(value []byte)       { c.Value = binary.LittleEndian.Uint64(value) }
func (c *ReadCounterCtx[K]) GetAtomic(value []byte) { c.Value = binary.LittleEndian.Uint64(value) }

// ResizeRmwCtx is the variable-length Rmw value type for S5: a buffer
// whose length and per-byte delta can change between generations,
// exercising the copy-on-grow path rather than a fixed-width counter.
type ResizeRmwCtx[K store.Key[K]] struct {
	key       K
	newLength int
	delta     int8
}

func NewResizeRmwCtx[K store.Key[K]](key K, newLength int, delta int8) *ResizeRmwCtx[K] {
	return &ResizeRmwCtx[K]{key: key, newLength: newLength, delta: delta}
}

func (c *ResizeRmwCtx[K]) Key() K          { return c.key }
func (c *ResizeRmwCtx[K]) InitialSize() int { return c.newLength }

func (c *ResizeRmwCtx[K]) RmwInitial(value []byte) {
	applyDelta(value, c.delta)
}

func (c *ResizeRmwCtx[K]) CopySize(oldValue []byte) int { return c.newLength }

func (c *ResizeRmwCtx[K]) RmwCopy(oldValue, newValue []byte) {
	n := copy(newValue, oldValue)
	applyDelta(newValue[:n], c.delta)
	applyDelta(newValue[n:], c.delta)
}

func (c *ResizeRmwCtx[K]) RmwAtomic(value []byte) bool {
	if len(value) != c.newLength {
		return false
	}
	applyDelta(value, c.delta)
	return true
}

func applyDelta(value []byte, delta int8) {
	for i := range value {
		value[i] = byte(int8(value[i]) + delta)
	}
}
