package device

// InMemoryDevice is the reference Device backend: it never touches
// storage and completes every request synchronously, on the caller's
// goroutine, before the call returns. TryComplete therefore always has
// nothing to do.
//
// alignment/sectorSize are fixed at 64 bytes, matching the hash
// bucket's cache-line size — there is no disk geometry to report, so
// this is just a stable, documented default a caller can rely on.
type InMemoryDevice struct{}

// NewInMemoryDevice returns the reference in-memory Device.
func NewInMemoryDevice() *InMemoryDevice {
	return &InMemoryDevice{}
}

func (d *InMemoryDevice) Alignment() uint32  { return 64 }
func (d *InMemoryDevice) SectorSize() uint32 { return 64 }

func (d *InMemoryDevice) ReadAsync(source uint64, dest []byte, length uint32, callback func(err error, bytesTransferred uint32), context any) {
	callback(nil, length)
}

func (d *InMemoryDevice) WriteAsync(source []byte, dest uint64, length uint32, callback func(err error, bytesTransferred uint32), context any) {
	callback(nil, length)
}

func (d *InMemoryDevice) TryComplete() bool { return false }

// WriteMetadata and ReadMetadata implement Checkpointer by always
// failing: the in-memory configuration never checkpoints, and a caller
// that reaches this code path has mis-wired a real device's lifecycle.
func (d *InMemoryDevice) WriteMetadata(data []byte) error { return ErrCheckpointUnsupported }
func (d *InMemoryDevice) ReadMetadata() ([]byte, error)   { return nil, ErrCheckpointUnsupported }
