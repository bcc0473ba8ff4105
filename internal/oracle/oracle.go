// Package oracle provides the generation oracle client used by gap
// analysis, synthesis, execution, evaluation, and feedback interpretation.
// All oracle-dependent steps share one interface so tests can swap in
// scripted implementations.
package oracle

import (
	"context"
	"errors"
	"time"

	"forgeloop/internal/types"
)

// Oracle is the generation backend. Implementations must be safe for
// concurrent use.
type Oracle interface {
	// Complete sends a prompt and returns the raw response text.
	Complete(ctx context.Context, prompt string) (string, error)

	// CompleteWithSystem sends a prompt with a system instruction.
	CompleteWithSystem(ctx context.Context, system, prompt string) (string, error)
}

// Timed wraps an Oracle with a per-call timeout and classifies failures.
// Deadline expiry maps to an oracle-timeout error, everything else to
// oracle-unavailable, so callers can distinguish retryable slowness from
// a dead backend.
type Timed struct {
	inner   Oracle
	timeout time.Duration
}

// NewTimed wraps inner with a per-call timeout. A non-positive timeout
// disables the deadline but still classifies errors.
func NewTimed(inner Oracle, timeout time.Duration) *Timed {
	return &Timed{inner: inner, timeout: timeout}
}

func (t *Timed) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := t.withDeadline(ctx)
	defer cancel()

	out, err := t.inner.Complete(ctx, prompt)
	if err != nil {
		return "", t.classify(ctx, err)
	}
	return out, nil
}

func (t *Timed) CompleteWithSystem(ctx context.Context, system, prompt string) (string, error) {
	ctx, cancel := t.withDeadline(ctx)
	defer cancel()

	out, err := t.inner.CompleteWithSystem(ctx, system, prompt)
	if err != nil {
		return "", t.classify(ctx, err)
	}
	return out, nil
}

func (t *Timed) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, t.timeout)
}

func (t *Timed) classify(ctx context.Context, err error) error {
	var cls *types.Classified
	if errors.As(err, &cls) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return types.Classify(types.KindOracleTimeout, "oracle call exceeded deadline", err)
	}
	return types.Classify(types.KindOracleUnavailable, "oracle call failed", err)
}
