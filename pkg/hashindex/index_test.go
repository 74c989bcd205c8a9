package hashindex

import (
	"sync"
	"testing"

	"fasterkv/pkg/epoch"
	"fasterkv/pkg/recordlog"
)

// syntheticHash builds a hash with an exact, caller-chosen tag and
// bucket routing so these index-only tests can exercise tag/overflow
// mechanics deterministically, without needing a real key type or
// record log. Tag collisions across distinct ids would be a correct
// but different scenario (tested separately); these helpers avoid
// them by construction so "Found" can be read as "this exact id was
// installed before".
func syntheticHash(bucketBits, id uint64) uint64 {
	tag := id & tagMask
	return tag<<50 | (bucketBits & (uint64(1)<<50 - 1))
}

// idStore hands out addresses for synthetic ids and remembers which
// id owns which address, purely for test assertions.
type idStore struct {
	mu       sync.Mutex
	next     uint64
	addrToID map[recordlog.Address]uint64
}

func newIDStore() *idStore {
	return &idStore{next: 1, addrToID: make(map[recordlog.Address]uint64)}
}

func (s *idStore) alloc(id uint64) recordlog.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr := recordlog.Address(s.next)
	s.next++
	s.addrToID[addr] = id
	return addr
}

func (s *idStore) idAt(addr recordlog.Address) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addrToID[addr]
}

func TestFindReportsFreeSlotWhenTagUnused(t *testing.T) {
	idx := New(8, epoch.New())
	res := idx.Find(syntheticHash(0, 1))
	if res.Found {
		t.Fatalf("fresh index reported an existing entry")
	}
	if !res.HasFreeSlot {
		t.Fatalf("expected a free slot in an empty bucket")
	}
}

func TestInstallNewThenFind(t *testing.T) {
	idx := New(8, epoch.New())
	s := newIDStore()

	hash := syntheticHash(0, 1)
	res := idx.Find(hash)
	addr := s.alloc(1)
	if !idx.InstallNew(res, addr) {
		t.Fatalf("InstallNew failed uncontended")
	}

	res2 := idx.Find(hash)
	if !res2.Found || res2.Address != addr {
		t.Fatalf("Find after install: found=%v addr=%v want=%v", res2.Found, res2.Address, addr)
	}
}

func TestUpdateExistingOverwritesAddress(t *testing.T) {
	idx := New(8, epoch.New())
	s := newIDStore()

	hash := syntheticHash(0, 1)
	res := idx.Find(hash)
	addr1 := s.alloc(1)
	idx.InstallNew(res, addr1)

	res2 := idx.Find(hash)
	addr2 := s.alloc(1)
	if !idx.UpdateExisting(res2, addr2) {
		t.Fatalf("UpdateExisting failed uncontended")
	}

	res3 := idx.Find(hash)
	if res3.Address != addr2 {
		t.Fatalf("Find after update: addr=%v want=%v", res3.Address, addr2)
	}
}

func TestOverflowChainHoldsMoreThanSevenTagsPerBucket(t *testing.T) {
	idx := New(2, epoch.New())
	s := newIDStore()

	const n = 50 // far more than EntriesPerBucket, all routed to bucket 0
	for id := uint64(0); id < n; id++ {
		hash := syntheticHash(0, id)
		res := idx.Find(hash)
		if res.Found {
			t.Fatalf("id %d: unexpected pre-existing entry", id)
		}
		addr := s.alloc(id)
		if !idx.InstallNew(res, addr) {
			t.Fatalf("id %d: InstallNew failed", id)
		}
	}

	for id := uint64(0); id < n; id++ {
		hash := syntheticHash(0, id)
		res := idx.Find(hash)
		if !res.Found {
			t.Fatalf("id %d: lost after overflow chaining", id)
		}
		if got := s.idAt(res.Address); got != id {
			t.Fatalf("id %d: address resolved to id %d instead", id, got)
		}
	}
}

func TestConcurrentInstallsAllSurvive(t *testing.T) {
	idx := New(4, epoch.New())
	s := newIDStore()

	const nGoroutines = 16
	const perGoroutine = 64

	var wg sync.WaitGroup
	for g := 0; g < nGoroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				id := uint64(g*perGoroutine + i)
				hash := syntheticHash(id, id)
				for {
					res := idx.Find(hash)
					if res.Found {
						break
					}
					addr := s.alloc(id)
					if idx.InstallNew(res, addr) {
						break
					}
				}
			}
		}(g)
	}
	wg.Wait()

	for id := uint64(0); id < nGoroutines*perGoroutine; id++ {
		hash := syntheticHash(id, id)
		res := idx.Find(hash)
		if !res.Found {
			t.Fatalf("id %d lost under concurrent insert", id)
		}
	}
}

// hashAtFor builds the HashAt callback resize needs, given the
// synthetic scheme's id-to-bucket-bits convention used by each test.
func hashAtFor(s *idStore, bucketBitsOf func(id uint64) uint64) HashAt {
	return func(addr recordlog.Address) (uint64, bool) {
		id := s.idAt(addr)
		return syntheticHash(bucketBitsOf(id), id), true
	}
}

func TestGrowPreservesAllEntries(t *testing.T) {
	idx := New(4, epoch.New())
	s := newIDStore()

	const n = 200
	for id := uint64(0); id < n; id++ {
		hash := syntheticHash(id, id)
		res := idx.Find(hash)
		addr := s.alloc(id)
		idx.InstallNew(res, addr)
	}

	sizeBefore := idx.Size()
	hashAt := hashAtFor(s, func(id uint64) uint64 { return id })
	if err := idx.Grow(hashAt); err != nil {
		t.Fatalf("Grow: %v", err)
	}
	if idx.Size() != sizeBefore*2 {
		t.Fatalf("Size after grow = %d, want %d", idx.Size(), sizeBefore*2)
	}

	for id := uint64(0); id < n; id++ {
		res := idx.Find(syntheticHash(id, id))
		if !res.Found {
			t.Fatalf("id %d lost after grow", id)
		}
		if got := s.idAt(res.Address); got != id {
			t.Fatalf("id %d resolved to %d after grow", id, got)
		}
	}
}

func TestShrinkPreservesAllEntries(t *testing.T) {
	idx := New(16, epoch.New())
	s := newIDStore()

	const n = 100
	for id := uint64(0); id < n; id++ {
		hash := syntheticHash(id, id)
		res := idx.Find(hash)
		addr := s.alloc(id)
		idx.InstallNew(res, addr)
	}

	hashAt := hashAtFor(s, func(id uint64) uint64 { return id })
	if err := idx.Shrink(hashAt); err != nil {
		t.Fatalf("Shrink: %v", err)
	}
	if idx.Size() != 8 {
		t.Fatalf("Size after shrink = %d, want 8", idx.Size())
	}

	for id := uint64(0); id < n; id++ {
		res := idx.Find(syntheticHash(id, id))
		if !res.Found {
			t.Fatalf("id %d lost after shrink", id)
		}
	}
}

// TestInstallDuringGrowIsNotLost reproduces the race a bare
// active-table check would miss: a goroutine inserting a brand-new key
// concurrently with Grow, racing the exact window between a bucket's
// split snapshot and the active-table flip. InstallNew's retry-on-false
// contract means every insert here must eventually land, whichever side
// of the flip it lands on.
func TestInstallDuringGrowIsNotLost(t *testing.T) {
	idx := New(4, epoch.New())
	s := newIDStore()

	const preexisting = 200
	for id := uint64(0); id < preexisting; id++ {
		hash := syntheticHash(id, id)
		res := idx.Find(hash)
		addr := s.alloc(id)
		idx.InstallNew(res, addr)
	}

	hashAt := hashAtFor(s, func(id uint64) uint64 { return id })

	const nInserters = 16
	const perInserter = 32
	firstNewID := uint64(preexisting)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := idx.Grow(hashAt); err != nil {
			t.Errorf("Grow: %v", err)
		}
	}()
	for g := 0; g < nInserters; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perInserter; i++ {
				id := firstNewID + uint64(g*perInserter+i)
				hash := syntheticHash(id, id)
				for {
					res := idx.Find(hash)
					if res.Found {
						break
					}
					addr := s.alloc(id)
					if idx.InstallNew(res, addr) {
						break
					}
				}
			}
		}(g)
	}
	wg.Wait()

	for id := uint64(0); id < firstNewID+nInserters*perInserter; id++ {
		res := idx.Find(syntheticHash(id, id))
		if !res.Found {
			t.Fatalf("id %d lost to a concurrent grow", id)
		}
		if got := s.idAt(res.Address); got != id {
			t.Fatalf("id %d resolved to %d after concurrent grow", id, got)
		}
	}
}

func TestConcurrentHelpersDuringGrow(t *testing.T) {
	idx := New(4, epoch.New())
	s := newIDStore()

	const n = 300
	for id := uint64(0); id < n; id++ {
		hash := syntheticHash(id, id)
		res := idx.Find(hash)
		addr := s.alloc(id)
		idx.InstallNew(res, addr)
	}

	hashAt := hashAtFor(s, func(id uint64) uint64 { return id })

	var wg sync.WaitGroup
	var growErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		growErr = idx.Grow(hashAt)
	}()
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx.HelpSplit(hashAt) {
			}
		}()
	}
	wg.Wait()

	if growErr != nil {
		t.Fatalf("Grow: %v", growErr)
	}
	for id := uint64(0); id < n; id++ {
		res := idx.Find(syntheticHash(id, id))
		if !res.Found {
			t.Fatalf("id %d lost during helped grow", id)
		}
	}
}

