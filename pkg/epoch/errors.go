package epoch

import "errors"

// ErrTooManyThreads is returned by Acquire when every slot in the table
// is already reserved.
var ErrTooManyThreads = errors.New("too many threads: no free epoch slot")
