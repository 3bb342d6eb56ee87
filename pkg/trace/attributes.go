package trace

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Span names.
const (
	SpanStartup = "detector.startup"
	SpanCycle   = "detector.cycle"
)

// Attribute keys used on detector spans.
const (
	// Model attributes
	AttrModelSchema = "model.schema_version"
	AttrModelOpset  = "model.opset_version"
	AttrModelOps    = "model.ops"
	AttrModelGraph  = "model.graph"
	AttrEngine      = "engine.backend"
	AttrArenaUsed   = "engine.arena_used"
	AttrArenaSize   = "engine.arena_size"

	// Cycle attributes
	AttrCycle         = "detector.cycle"
	AttrProbability   = "detector.probability"
	AttrDetected      = "detector.detected"
	AttrFailureStreak = "detector.failure_streak"
	AttrOverrun       = "detector.overrun"
	AttrState         = "detector.state"

	// Error attributes
	AttrErrorType = "error.type"
)

// Event names.
const (
	EventStateChange = "state_change"
	EventDetection   = "footstep_detected"
)

// ModelAttrs describes a loaded model and the memory it was given.
func ModelAttrs(graph string, schema, opset int64, ops []string, backend string, arenaUsed, arenaSize int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrModelGraph, graph),
		attribute.Int64(AttrModelSchema, schema),
		attribute.Int64(AttrModelOpset, opset),
		attribute.StringSlice(AttrModelOps, ops),
		attribute.String(AttrEngine, backend),
		attribute.Int(AttrArenaUsed, arenaUsed),
		attribute.Int(AttrArenaSize, arenaSize),
	}
}

// CycleAttrs describes the outcome of one cycle.
func CycleAttrs(cycle uint64, probability float32, detected bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(AttrCycle, int64(cycle)),
		attribute.Float64(AttrProbability, float64(probability)),
		attribute.Bool(AttrDetected, detected),
	}
}

// StateAttrs describes a state transition.
func StateAttrs(from, to string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("from", from),
		attribute.String(AttrState, to),
	}
}

// FailureStreakAttr is the number of consecutive failed cycles.
func FailureStreakAttr(streak uint64) attribute.KeyValue {
	return attribute.Int64(AttrFailureStreak, int64(streak))
}

// OverrunAttr is the processing time of a cycle that exceeded its budget.
func OverrunAttr(elapsed time.Duration) attribute.KeyValue {
	return attribute.String(AttrOverrun, elapsed.String())
}
