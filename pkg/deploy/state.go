package deploy

import "fmt"

// State is a device's position in the deployment state machine.
//
// Pending → Connected → PreCheck → Applying → Verifying → Committed
// with RolledBack / Failed as failure terminals and Skipped for
// devices never scheduled (max_deploy cutoff or an aborted run).
// Deferred ends a dont_commit run on a vendor with a commit phase:
// the commands were applied but the candidate was left uncommitted.
type State int

const (
	StatePending State = iota
	StateConnected
	StatePreCheck
	StateApplying
	StateVerifying
	StateCommitted
	StateDeferred
	StateRolledBack
	StateFailed
	StateSkipped
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateConnected:
		return "Connected"
	case StatePreCheck:
		return "PreCheck"
	case StateApplying:
		return "Applying"
	case StateVerifying:
		return "Verifying"
	case StateCommitted:
		return "Committed"
	case StateDeferred:
		return "Deferred"
	case StateRolledBack:
		return "RolledBack"
	case StateFailed:
		return "Failed"
	case StateSkipped:
		return "Skipped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether the state ends a device's run.
func (s State) Terminal() bool {
	switch s {
	case StateCommitted, StateDeferred, StateRolledBack, StateFailed, StateSkipped:
		return true
	}
	return false
}

// ConcurrentModificationError means the pre-check found the device's
// live configuration drifted from the state the patch was computed
// against. The device is aborted before any command is sent.
type ConcurrentModificationError struct {
	Device string
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("device %s changed since the patch was computed", e.Device)
}
