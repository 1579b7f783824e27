package status

import (
	"sync"

	"github.com/google/uuid"
)

// Handle identifies one admitted critical action. It is returned by
// Tracker.RegisterAction and must be passed to DeregisterAction to
// release it. Handles are opaque UUIDs so double-release and
// use-after-release bugs are loggable rather than silent pointer
// aliasing.
type Handle uuid.UUID

func (h Handle) String() string {
	return uuid.UUID(h).String()
}

// actionCounter is the non-negative counter plus locked_for_restart
// flag of spec §3's CriticalActionsCounter. Admission and the
// counter/lock pair are updated under a single mutex so the
// check-and-increment is atomic, per spec §5.
type actionCounter struct {
	mu     sync.Mutex
	count  int
	locked bool
	live   map[Handle]struct{}
}

func newActionCounter() *actionCounter {
	return &actionCounter{live: make(map[Handle]struct{})}
}

// tryAcquire admits a new action if the counter is not locked. It
// returns the zero Handle and false if locked.
func (c *actionCounter) tryAcquire() (Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locked {
		return Handle{}, false
	}
	h := Handle(uuid.New())
	c.live[h] = struct{}{}
	c.count++
	return h, true
}

// release decrements the counter for h. It is idempotent: releasing a
// handle that is not currently live (already released, or never
// issued) is a no-op and never underflows the counter.
func (c *actionCounter) release(h Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.live[h]; !ok {
		return
	}
	delete(c.live, h)
	c.count--
}

// lock sets locked_for_restart. Once set, tryAcquire always denies;
// the counter itself may still only decrease via release.
func (c *actionCounter) lock() {
	c.mu.Lock()
	c.locked = true
	c.mu.Unlock()
}

func (c *actionCounter) isZero() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count == 0
}

func (c *actionCounter) snapshot() (count int, locked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count, c.locked
}
