package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a step failure by how the orchestrator should react.
// Every oracle-dependent step classifies its own failures into this taxonomy
// before returning; the orchestrator inspects only the kind, never raw error
// content, when deciding transitions.
type ErrorKind string

const (
	// KindOracleUnavailable indicates the generation oracle could not be
	// reached. Recoverable: retried next cycle.
	KindOracleUnavailable ErrorKind = "oracle_unavailable"

	// KindOracleTimeout indicates an oracle call exceeded its per-call
	// timeout. Recoverable, but repeated timeouts of the same call class
	// escalate to an aborted chain.
	KindOracleTimeout ErrorKind = "oracle_timeout"

	// KindGapUnparseable indicates the gap-analysis response could not be
	// parsed into requirements. Recoverable: gap filling is deferred to
	// the next cycle.
	KindGapUnparseable ErrorKind = "gap_unparseable"

	// KindSynthesisValidation indicates a generated module failed
	// validation or integration. Recoverable: the gap stays open,
	// bounded by the task's max cycles.
	KindSynthesisValidation ErrorKind = "synthesis_validation"

	// KindExecutorTimeout indicates delegated execution hit its deadline.
	// Surfaces as an unsuccessful outcome, not a chain failure.
	KindExecutorTimeout ErrorKind = "executor_timeout"

	// KindExecutorFatal indicates the task executor failed in a
	// non-retryable way. Aborts the chain immediately.
	KindExecutorFatal ErrorKind = "executor_fatal"

	// KindEvaluationUnparseable indicates the self-assessment could not be
	// parsed. Non-fatal: confidence is forced to 0.0.
	KindEvaluationUnparseable ErrorKind = "evaluation_unparseable"

	// KindFeedbackLowQuality flags feedback below the quality floor.
	// Non-fatal: the record is stored but down-weighted.
	KindFeedbackLowQuality ErrorKind = "feedback_low_quality"
)

// Classified is an error carrying its taxonomy kind. It wraps the
// underlying cause so errors.Is/As still see transport errors.
type Classified struct {
	Kind  ErrorKind
	Msg   string
	Cause error
}

func (e *Classified) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Classified) Unwrap() error {
	return e.Cause
}

// Recoverable reports whether the orchestrator may continue the chain
// after this failure.
func (e *Classified) Recoverable() bool {
	return e.Kind != KindExecutorFatal
}

// Classify wraps an error with a taxonomy kind.
func Classify(kind ErrorKind, msg string, cause error) *Classified {
	return &Classified{Kind: kind, Msg: msg, Cause: cause}
}

// KindOf extracts the taxonomy kind from an error chain. Unclassified
// errors report as executor-fatal: an unknown failure must never be
// mistaken for a recoverable one.
func KindOf(err error) ErrorKind {
	var c *Classified
	if errors.As(err, &c) {
		return c.Kind
	}
	return KindExecutorFatal
}

// IsRecoverable reports whether the chain may continue after err.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	var c *Classified
	if errors.As(err, &c) {
		return c.Recoverable()
	}
	return false
}
