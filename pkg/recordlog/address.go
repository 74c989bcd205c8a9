package recordlog

// Address is a logical offset into the record log's address space.
// Only the lower 48 bits are significant; callers that pack a tag
// alongside an address (the hash index does) own the upper bits
// themselves — Address never carries a tag.
type Address uint64

// AddressBits is the width of a logical address. The record log's
// capacity must fit in this many bits so that a hash bucket entry can
// pack a 14-bit tag alongside the full address in one 64-bit word.
const AddressBits = 48

// MaxAddress is the largest representable logical address.
const MaxAddress = Address(1)<<AddressBits - 1

// Invalid is the sentinel address meaning "no record" — the end of a
// hash chain, or an as-yet-unset previous_address.
const Invalid Address = 0

// Valid reports whether a is a real, in-range address (i.e. not the
// Invalid sentinel, and within the 48-bit address space).
func (a Address) Valid() bool {
	return a != Invalid && a <= MaxAddress
}
