// Package executor delegates task execution to a collaborator and
// normalizes whatever comes back into an ExecutionOutcome the orchestrator
// can reason about. Collaborator errors are classified, never swallowed.
package executor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"forgeloop/internal/logging"
	"forgeloop/internal/types"
)

// TaskExecutor is the collaborator that attempts a task. snapshot lists
// the capabilities integrated so far so the executor can lean on them.
type TaskExecutor interface {
	Run(ctx context.Context, task types.Task, framing string, snapshot []types.CapabilitySummary) (string, error)
}

// Adapter wraps a TaskExecutor and produces normalized outcomes.
type Adapter struct {
	executor TaskExecutor
	logger   *zap.Logger
}

// NewAdapter wraps exec.
func NewAdapter(exec TaskExecutor) *Adapter {
	return &Adapter{executor: exec, logger: logging.Get(logging.CategoryExecutor)}
}

// Execute runs one attempt. Timeouts become failed outcomes carrying an
// executor-timeout classification so the cycle can continue; fatal errors
// are returned so the chain aborts. The duration is recorded either way.
func (a *Adapter) Execute(ctx context.Context, task types.Task, cycleID, framing string, snapshot []types.CapabilitySummary) (types.ExecutionOutcome, error) {
	start := time.Now()
	result, err := a.executor.Run(ctx, task, framing, snapshot)
	outcome := types.ExecutionOutcome{
		CycleID:  cycleID,
		Duration: time.Since(start),
	}

	if err == nil {
		outcome.Success = true
		outcome.Result = result
		a.logger.Debug("execution succeeded",
			zap.String("cycle_id", cycleID),
			zap.Duration("duration", outcome.Duration))
		return outcome, nil
	}

	classified := classifyExecutionError(ctx, err)
	outcome.Err = classified

	if types.KindOf(classified) == types.KindExecutorFatal {
		a.logger.Error("execution failed fatally",
			zap.String("cycle_id", cycleID),
			zap.Error(classified))
		return outcome, classified
	}

	a.logger.Warn("execution failed, recoverable",
		zap.String("cycle_id", cycleID),
		zap.String("kind", string(types.KindOf(classified))),
		zap.Duration("duration", outcome.Duration),
		zap.Error(classified))
	return outcome, nil
}

// classifyExecutionError maps collaborator errors into the taxonomy.
// Already-classified errors pass through untouched.
func classifyExecutionError(ctx context.Context, err error) error {
	var cls *types.Classified
	if errors.As(err, &cls) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return types.Classify(types.KindExecutorTimeout, "execution exceeded deadline", err)
	}
	return types.Classify(types.KindExecutorFatal, "execution failed", err)
}
