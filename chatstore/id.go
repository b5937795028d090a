package chatstore

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
)

// NewID returns a lowercase ULID. Ids created in the same millisecond keep
// their creation order.
func NewID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	if entropy == nil {
		entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	}
	id := ulid.MustNew(ulid.Timestamp(now), entropy)
	return strings.ToLower(id.String())
}
