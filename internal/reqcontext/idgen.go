package reqcontext

import (
	"fmt"
	"sync/atomic"
	"time"
)

// requestCounter is a process-wide monotonic counter used to mint request
// ids when no correlation header is present. An atomic counter is
// preferred over a timestamp per spec: it is strictly increasing and
// unique across the process even under clock regressions, whereas two
// requests landing in the same timestamp tick would collide.
var requestCounter atomic.Uint64

// processEpoch is mixed into generated ids so that ids minted by two
// separate process lifetimes of this binary don't collide in shared logs.
var processEpoch = time.Now().UnixNano()

// nextRequestID mints a process-unique, non-empty id.
func nextRequestID() string {
	n := requestCounter.Add(1)
	return fmt.Sprintf("%016x-%08x", processEpoch, n)
}
