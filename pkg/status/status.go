// Package status defines the closed set of outcomes returned by store
// operations. These are ordinary values, not errors: a NotFound or a
// Pending is an expected outcome for a well-formed call, so the type
// satisfies fmt.Stringer rather than the error interface.
package status

// Status is the result of a single Read, Upsert, or Rmw call.
type Status uint8

const (
	// Ok means the operation linearised: for Read, a value was produced;
	// for Upsert/Rmw, the new value is now reachable.
	Ok Status = iota

	// NotFound means a Read found no record for the key. Rmw never
	// returns NotFound, since a missing key simply triggers Phase C.
	NotFound

	// Pending means the operation could not complete synchronously and
	// was parked on the session's pending list. Under the in-memory
	// device this is never observed; it exists for pluggable backends.
	Pending

	// OutOfMemory means the record log's tail would exceed its capacity.
	OutOfMemory

	// Aborted means the operation exceeded its bounded CAS retry budget
	// under contention and gave up rather than spin forever.
	Aborted

	// NotInMemory means the chain walk crossed below head without a
	// match. Unreachable with the in-memory device; a real device would
	// need to issue an async read here.
	NotInMemory

	// TooManyThreads means every epoch slot is already reserved.
	TooManyThreads
)

func (s Status) String() string {
	switch s {
	case Ok:
		return "Ok"
	case NotFound:
		return "NotFound"
	case Pending:
		return "Pending"
	case OutOfMemory:
		return "OutOfMemory"
	case Aborted:
		return "Aborted"
	case NotInMemory:
		return "NotInMemory"
	case TooManyThreads:
		return "TooManyThreads"
	default:
		return "Unknown"
	}
}

// IsOk reports whether the status represents a linearised, successful
// completion (as opposed to NotFound, which is also a "successful" call
// in the sense that no error occurred, but is handled separately by most
// callers).
func (s Status) IsOk() bool { return s == Ok }
