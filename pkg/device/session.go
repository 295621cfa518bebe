// Package device defines the narrow session interface the deployment
// orchestrator drives, plus an in-memory device simulator.
//
// Real wire transports (SSH, console servers, vendor APIs) live behind
// the Dialer seam and are provided by external adapters; the core only
// ever sees Session.
package device

import (
	"context"
	"fmt"

	"github.com/dkoval/netpatch/pkg/inventory"
)

// Session is an exclusive connection to one device. The orchestrator
// assigns each session to exactly one worker for the run's duration.
type Session interface {
	// Fetch retrieves the device's current configuration text.
	Fetch(ctx context.Context) (string, error)
	// Apply executes the command sequence strictly in order.
	Apply(ctx context.Context, commands []string) error
	// Commit confirms previously applied commands on vendors with a
	// commit phase.
	Commit(ctx context.Context) error
	Close() error
}

// Dialer opens sessions to devices.
type Dialer interface {
	Dial(ctx context.Context, dev inventory.Device) (Session, error)
}

// TransportError wraps any session failure. The orchestrator treats it
// as a device-level failure, triggering rollback-or-fail for that
// device only.
type TransportError struct {
	Device string
	Op     string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s on %s: %v", e.Op, e.Device, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
