package testutil

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"dupi-go/internal/dupi"
)

// StubClock is a manually advanced dupi.Clock. Scan workers and the
// catalog writer read it concurrently, so access is locked.
type StubClock struct {
	mu  sync.RWMutex
	now time.Time
}

var _ dupi.Clock = (*StubClock)(nil)

func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock starts at 2024-01-15 10:30:00 UTC.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))
}

func (c *StubClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// StubIDGenerator hands out "id-1", "id-2", ... so root IDs and run
// tokens are predictable.
type StubIDGenerator struct {
	n atomic.Int64
}

var _ dupi.IDGenerator = (*StubIDGenerator)(nil)

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	return "id-" + strconv.FormatInt(g.n.Add(1), 10)
}
