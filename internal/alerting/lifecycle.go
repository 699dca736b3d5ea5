package alerting

import (
	"fmt"
	"time"
)

// rank orders statuses along the forward path.
func (s Status) rank() int {
	switch s {
	case StatusOpen:
		return 0
	case StatusInProgress:
		return 1
	case StatusResolved:
		return 2
	case StatusClosed:
		return 3
	}
	return -1
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return s.rank() >= 0 }

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool { return s == StatusClosed }

// Transition moves a through the lifecycle. Forward moves are always allowed;
// moving back to open is the explicit reopen and is allowed from in_progress
// and resolved. A move into a state the alert has already passed on its way
// to closed is a no-op. It reports whether the alert changed.
func Transition(a *Alert, to Status, now time.Time) (bool, error) {
	if !to.Valid() {
		return false, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	from := a.Status
	switch {
	case from == to:
		return false, nil
	case from == StatusClosed && to == StatusResolved:
		return false, nil
	case from.Terminal():
		return false, fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
	case to == StatusOpen:
		// reopen
	case to.rank() < from.rank():
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	a.Status = to
	a.UpdatedAt = now
	switch to {
	case StatusResolved, StatusClosed:
		if a.ResolvedAt == nil {
			t := now
			a.ResolvedAt = &t
		}
	case StatusOpen, StatusInProgress:
		a.ResolvedAt = nil
	}
	return true, nil
}
