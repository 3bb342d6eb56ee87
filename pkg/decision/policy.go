// Package decision turns a model output into a footstep event.
package decision

import (
	"time"

	"github.com/google/uuid"
)

// Threshold is the probability a model output must strictly exceed to count
// as a footstep.
const Threshold float32 = 0.5

// Kind identifies a decision event.
type Kind string

// FootstepDetected is raised when a frame scores above the threshold.
const FootstepDetected Kind = "footstep_detected"

// Event is one positive decision.
type Event struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Probability float32   `json:"probability"`
	Cycle       uint64    `json:"cycle"`
	Time        time.Time `json:"time"`
}

// Policy is a stateless threshold rule: no hysteresis, no debounce. Two
// consecutive positive frames raise two events.
type Policy struct {
	Threshold float32
}

// Default returns the policy with the compiled-in threshold.
func Default() Policy {
	return Policy{Threshold: Threshold}
}

// Detected reports whether p exceeds the threshold. NaN never does.
func (p Policy) Detected(prob float32) bool {
	return prob > p.Threshold
}

// Evaluate returns a footstep event for cycle when prob exceeds the threshold.
func (p Policy) Evaluate(prob float32, cycle uint64) (Event, bool) {
	if !p.Detected(prob) {
		return Event{}, false
	}
	return Event{
		ID:          uuid.NewString(),
		Kind:        FootstepDetected,
		Probability: prob,
		Cycle:       cycle,
		Time:        time.Now(),
	}, true
}
