package status

import (
	"fmt"
)

// ErrActionsDenied is returned by RegisterAction once the drain
// barrier has been crossed: after Set(PendingRestart) or later, no new
// critical action is ever admitted again for this Tracker's lifetime
// (spec §4.4's admission monotonicity).
var ErrActionsDenied = fmt.Errorf("critical actions are no longer admitted: update is draining or restarting")

// Tracker is the C4 "Updater handle" of spec §4.4: it owns the current
// Status, the broadcast Bus fanning transitions out to subscribers,
// and the critical-actions counter gating the drain barrier. It has no
// knowledge of HTTP, verification, or self-replacement — those live in
// the client and verify/selfupdate packages, which drive a Tracker
// through its transitions.
type Tracker struct {
	bus     *Bus
	actions *actionCounter
}

// NewTracker creates a Tracker starting in Idle.
func NewTracker() *Tracker {
	return &Tracker{
		bus:     NewBus(New(Idle)),
		actions: newActionCounter(),
	}
}

// Status returns the current status. A single mutex-guarded load.
func (t *Tracker) Status() Status {
	return t.bus.Current()
}

// Subscribe returns a new fan-out receiver.
func (t *Tracker) Subscribe() *Subscription {
	return t.bus.Subscribe()
}

// Set publishes a new status. Transitions are expected to be monotone
// within a single update attempt (spec §3); the Tracker does not
// itself enforce the state machine shape — that is the updater loop's
// responsibility — but it does enforce the drain barrier: once a
// PendingRestart or later status is set, action admission is denied
// forever after.
func (t *Tracker) Set(s Status) {
	if s.Kind == PendingRestart {
		t.actions.lock()
	}
	t.bus.Publish(s)
}

// Close tears the Tracker's bus down without publishing a further
// status. Used on cancellation, when no terminal status was reached.
func (t *Tracker) Close() {
	t.bus.Close()
}

// RegisterAction admits a new critical action if the current status
// permits it (spec §4.4: admitted in Idle, Checking, UpdateAvailable,
// Downloading, Installing; denied in PendingRestart, Restarting,
// Error) and the drain barrier has not been crossed. On success it
// returns a Handle that must be passed to DeregisterAction exactly
// once when the action completes.
func (t *Tracker) RegisterAction() (Handle, error) {
	current := t.bus.Current()
	if !current.Kind.AdmitsActions() {
		return Handle{}, ErrActionsDenied
	}
	h, ok := t.actions.tryAcquire()
	if !ok {
		return Handle{}, ErrActionsDenied
	}
	return h, nil
}

// DeregisterAction releases h. Idempotent: releasing an already
// released (or unknown) handle never underflows the counter.
func (t *Tracker) DeregisterAction(h Handle) {
	t.actions.release(h)
}

// IsSafeToUpdate reports whether the critical-actions counter has
// drained to zero, so the drain barrier is clear to transition to
// Restarting.
func (t *Tracker) IsSafeToUpdate() bool {
	return t.actions.isZero()
}

// ActionCount and ActionsLocked expose the counter's snapshot for
// diagnostics and tests.
func (t *Tracker) ActionCount() int {
	count, _ := t.actions.snapshot()
	return count
}

func (t *Tracker) ActionsLocked() bool {
	_, locked := t.actions.snapshot()
	return locked
}
