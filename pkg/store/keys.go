package store

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// BytesKey is the default variable-length key type: an opaque byte
// slice, hashed with xxhash and compared byte-for-byte. Most callers
// that don't have a more specific key shape can use this directly.
type BytesKey []byte

func (k BytesKey) Hash() uint64        { return xxhash.Sum64(k) }
func (k BytesKey) Equals(o BytesKey) bool { return string(k) == string(o) }
func (k BytesKey) Size() int           { return len(k) }
func (k BytesKey) WriteTo(dst []byte)  { copy(dst, k) }

// DecodeBytesKey is the DecodeKey callback for BytesKey: the encoded
// form is exactly the key's bytes, so decoding just has to not alias
// the record log's backing storage, since a caller may hold the
// decoded key past the epoch that makes that page reclaimable.
func DecodeBytesKey(encoded []byte) BytesKey {
	k := make(BytesKey, len(encoded))
	copy(k, encoded)
	return k
}

// Uint64Key is a fixed-size key type for workloads keyed by a single
// integer, avoiding BytesKey's allocation on every decode.
type Uint64Key uint64

func (k Uint64Key) Hash() uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(k))
	return xxhash.Sum64(b[:])
}

func (k Uint64Key) Equals(o Uint64Key) bool { return k == o }
func (k Uint64Key) Size() int               { return 8 }
func (k Uint64Key) WriteTo(dst []byte)      { binary.LittleEndian.PutUint64(dst, uint64(k)) }

// DecodeUint64Key is the DecodeKey callback for Uint64Key.
func DecodeUint64Key(encoded []byte) Uint64Key {
	return Uint64Key(binary.LittleEndian.Uint64(encoded))
}

// ConstantHashKey wraps Uint64Key with a Hash that ignores its value
// entirely, so every key routes to the same bucket and the same tag
// regardless of how many distinct keys are in play. It exists to
// exercise the previous_address chain walk's full-key disambiguation
// under the degenerate worst case, not for production use.
type ConstantHashKey Uint64Key

func (k ConstantHashKey) Hash() uint64                  { return 0 }
func (k ConstantHashKey) Equals(o ConstantHashKey) bool { return k == o }
func (k ConstantHashKey) Size() int                     { return 8 }
func (k ConstantHashKey) WriteTo(dst []byte)            { Uint64Key(k).WriteTo(dst) }

// DecodeConstantHashKey is the DecodeKey callback for ConstantHashKey.
func DecodeConstantHashKey(encoded []byte) ConstantHashKey {
	return ConstantHashKey(DecodeUint64Key(encoded))
}
