package recordlog

import "sync"

// page is one fixed-size slot of the log's ring. Pages are recycled
// through a sync.Pool once head moves past them, the same lazy
// allocate-reuse-clear pattern as a chunked mmap arena, minus the file
// backing: this log never touches a disk, so "allocating a page" just
// means pulling a zeroed byte slice out of the pool.
type page struct {
	data []byte
}

func newPagePool(pageSize int) *sync.Pool {
	return &sync.Pool{
		New: func() any {
			return &page{data: make([]byte, pageSize)}
		},
	}
}

func acquirePage(pool *sync.Pool) *page {
	p := pool.Get().(*page)
	clear(p.data)
	return p
}

func releasePage(pool *sync.Pool, p *page) {
	pool.Put(p)
}
