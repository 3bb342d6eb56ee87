package detector

import "fmt"

// State is the lifecycle state of a Detector.
type State int32

const (
	// Uninitialized is the state before Start.
	Uninitialized State = iota
	// Validating covers model loading, schema check and tensor allocation.
	Validating
	// Ready means the model is bound and no cycle has run yet.
	Ready
	// Running means cycles are being executed.
	Running
	// Halted is terminal: startup failed and no cycle will ever run.
	Halted
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Validating:
		return "validating"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Halted:
		return "halted"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// FatalError is the startup failure that halted a detector.
type FatalError struct {
	// State is the state the detector was in when the failure occurred.
	State State
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("detector halted while %s: %v", e.State, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
