package recordlog

import "errors"

// ErrOutOfMemory is returned by Allocate when advancing the tail would
// make the live span (tail - head) exceed the log's capacity.
var ErrOutOfMemory = errors.New("recordlog: allocation would exceed log capacity")

// ErrNotInMemory is returned by At when addr is below head: the record
// is unreachable in the in-memory ring and, with a real device, would
// need to be read back from storage.
var ErrNotInMemory = errors.New("recordlog: address below head is not resident")

// ErrAborted is returned by Allocate when its bounded CAS retry budget
// on the tail pointer is exceeded.
var ErrAborted = errors.New("recordlog: allocation retry budget exceeded")
