// Package cycle drives the improvement loop: a chain of bounded attempt
// cycles per task, each analyzing capability gaps, synthesizing modules,
// executing, evaluating, and deciding whether to retry, succeed, or stop.
package cycle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"forgeloop/internal/confidence"
	"forgeloop/internal/logging"
	"forgeloop/internal/types"
)

// Collaborator interfaces. The concrete implementations live in their own
// packages; chains only see these shapes so tests can script every step.

// GapAnalyzer finds missing capabilities for a task.
type GapAnalyzer interface {
	Analyze(ctx context.Context, task types.Task, available []types.CapabilitySummary) ([]types.CapabilityGap, error)
}

// ModuleSynthesizer fills one capability gap.
type ModuleSynthesizer interface {
	Synthesize(ctx context.Context, gap types.CapabilityGap, cycleIndex int) (*types.GeneratedModule, error)
}

// Executor attempts the task once.
type Executor interface {
	Execute(ctx context.Context, task types.Task, cycleID, framing string, snapshot []types.CapabilitySummary) (types.ExecutionOutcome, error)
}

// ConfidenceEvaluator scores one outcome.
type ConfidenceEvaluator interface {
	Evaluate(ctx context.Context, task types.Task, outcome types.ExecutionOutcome) (confidence.Evaluation, error)
}

// CapabilitySource exposes the current integrated capability set.
type CapabilitySource interface {
	Snapshot() []types.CapabilitySummary
}

// LedgerAppender records cycle transitions.
type LedgerAppender interface {
	Append(entry types.LedgerEntry) (int64, error)
}

// Deps bundles everything a chain needs.
type Deps struct {
	Gaps         GapAnalyzer
	Synth        ModuleSynthesizer
	Executor     Executor
	Evaluator    ConfidenceEvaluator
	Capabilities CapabilitySource
	Ledger       LedgerAppender

	// LedgerMu serializes ledger writes across chains sharing one ledger.
	LedgerMu *sync.Mutex
}

// ChainStatus is the externally visible snapshot of one chain. After the
// chain reaches a terminal state the snapshot never changes again.
type ChainStatus struct {
	ChainID       string        `json:"chain_id"`
	Task          types.Task    `json:"task"`
	ParentChainID string        `json:"parent_chain_id,omitempty"`
	State         string        `json:"state"`
	CycleIndex    int           `json:"cycle_index"`
	Confidence    float64       `json:"confidence"`
	Rationale     string        `json:"rationale"`
	Modules       []string      `json:"modules,omitempty"`
	Cycles        []types.Cycle `json:"cycles"`
	StartedAt     time.Time     `json:"started_at"`
	EndedAt       time.Time     `json:"ended_at,omitempty"`
}

// evaluatorFailureLimit is how many consecutive same-kind oracle failures
// the Evaluating step tolerates before the chain aborts.
const evaluatorFailureLimit = 2

// chain owns one task's sequential improvement cycles.
type chain struct {
	id       string
	parentID string
	task     types.Task
	deps     Deps

	mu      sync.Mutex
	status  ChainStatus
	framing []string // revision directives folded into the next attempt

	// pendingFeedback receives raw feedback for this task; drained only
	// at cycle boundaries.
	pendingFeedback func() []types.FeedbackRecord

	logger *zap.Logger
}

func newChain(id, parentID string, task types.Task, deps Deps, pending func() []types.FeedbackRecord) *chain {
	c := &chain{
		id:              id,
		parentID:        parentID,
		task:            task,
		deps:            deps,
		pendingFeedback: pending,
		logger: logging.Get(logging.CategoryOrchestrator).With(
			zap.String("chain_id", id),
			zap.String("task_id", task.ID)),
	}
	c.status = ChainStatus{
		ChainID:       id,
		Task:          task,
		ParentChainID: parentID,
		State:         StateAnalyzing.String(),
		StartedAt:     time.Now(),
	}
	return c
}

// Status returns a defensive copy of the chain snapshot.
func (c *chain) Status() ChainStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.status
	out.Modules = append([]string(nil), c.status.Modules...)
	out.Cycles = append([]types.Cycle(nil), c.status.Cycles...)
	return out
}

// run executes the chain to a terminal state. Cancellation is honored
// between cycles, never inside one, so the registry is never left
// half-synthesized.
func (c *chain) run(ctx context.Context) {
	evalFailures := make(map[types.ErrorKind]int)

	for index := 1; index <= c.task.MaxCycles; index++ {
		if err := ctx.Err(); err != nil {
			c.terminate(StateAborted, index-1, 0, "cancelled between cycles")
			return
		}

		cyc := types.Cycle{
			TaskID:    c.task.ID,
			Index:     index,
			StartedAt: time.Now(),
			Status:    types.CycleRunning,
		}
		cycleID := fmt.Sprintf("%s-%d", c.id, index)
		c.enter(StateAnalyzing, index)

		// Analyzing. Oracle failure here is recoverable: skip gap filling
		// this cycle and let execution proceed with what exists.
		gaps, err := c.deps.Gaps.Analyze(ctx, c.task, c.deps.Capabilities.Snapshot())
		if err != nil {
			if !types.IsRecoverable(err) {
				c.abort(cyc, "gap analysis failed fatally: "+err.Error())
				return
			}
			c.logger.Warn("gap analysis failed, deferring to next cycle", zap.Error(err))
			gaps = nil
		}

		// Synthesizing. A rejected module leaves its gap open; the cycle
		// budget bounds the retries.
		if len(gaps) > 0 {
			c.enter(StateSynthesizing, index)
			for _, g := range gaps {
				mod, err := c.deps.Synth.Synthesize(ctx, g, index)
				if err != nil {
					if !types.IsRecoverable(err) {
						c.abort(cyc, "synthesis failed fatally: "+err.Error())
						return
					}
					c.logger.Warn("gap left open",
						zap.String("gap", g.Name),
						zap.Error(err))
					continue
				}
				c.addModule(mod.Ref())
			}
		}

		// Executing.
		c.enter(StateExecuting, index)
		outcome, err := c.deps.Executor.Execute(ctx, c.task, cycleID, c.currentFraming(), c.deps.Capabilities.Snapshot())
		if err != nil {
			c.abort(cyc, "execution failed: "+err.Error())
			return
		}

		// Evaluating. Oracle hiccups retry in place; the second consecutive
		// failure of the same kind means the evaluator is unreachable and
		// the chain cannot trust any further scores.
		c.enter(StateEvaluating, index)
		c.appendLedger(index, StateEvaluating, 0, "")

		eval, aborted := c.evaluate(ctx, outcome, evalFailures)
		if aborted {
			c.abort(cyc, "evaluator-unreachable")
			return
		}

		// Deciding.
		c.enter(StateDeciding, index)
		c.appendLedger(index, StateDeciding, eval.Score, eval.Rationale)

		cyc.EndedAt = time.Now()
		cyc.Confidence = eval.Score
		cyc.Rationale = eval.Rationale

		switch {
		case eval.Score >= c.task.TargetConfidence:
			cyc.Status = types.CycleSucceeded
			c.recordCycle(cyc)
			c.terminate(StateSucceeded, index, eval.Score,
				fmt.Sprintf("confidence %.2f reached target %.2f after %d cycle(s)",
					eval.Score, c.task.TargetConfidence, index))
			return
		case index == c.task.MaxCycles:
			cyc.Status = types.CycleExhausted
			c.recordCycle(cyc)
			c.terminate(StateExhausted, index, eval.Score,
				fmt.Sprintf("cycle budget exhausted: %d of %d cycles used, last confidence %.2f below target %.2f",
					index, c.task.MaxCycles, eval.Score, c.task.TargetConfidence))
			return
		default:
			cyc.Status = types.CycleRunning
			c.recordCycle(cyc)
			c.foldRevisions(eval)
		}
	}
}

// evaluate runs the confidence evaluator with in-cycle retries. Returns
// the evaluation and whether the chain must abort.
func (c *chain) evaluate(ctx context.Context, outcome types.ExecutionOutcome, failures map[types.ErrorKind]int) (confidence.Evaluation, bool) {
	for {
		eval, err := c.deps.Evaluator.Evaluate(ctx, c.task, outcome)
		if err == nil {
			clearCounters(failures)
			return eval, false
		}

		kind := types.KindOf(err)
		switch kind {
		case types.KindEvaluationUnparseable:
			// Fail-closed: the evaluator already returned score 0.0 with
			// the parse-failure rationale. Not an evaluator outage.
			clearCounters(failures)
			return eval, false
		case types.KindOracleTimeout, types.KindOracleUnavailable:
			failures[kind]++
			if failures[kind] >= evaluatorFailureLimit {
				return confidence.Evaluation{}, true
			}
			c.logger.Warn("evaluation oracle failure, retrying",
				zap.String("kind", string(kind)),
				zap.Int("consecutive", failures[kind]))
		default:
			return confidence.Evaluation{}, true
		}
	}
}

func clearCounters(m map[types.ErrorKind]int) {
	for k := range m {
		delete(m, k)
	}
}

// foldRevisions composes the next cycle's framing from the evaluation
// rationale and any feedback that arrived since the last boundary.
// Low-quality feedback is down-weighted, not dropped.
func (c *chain) foldRevisions(eval confidence.Evaluation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if eval.Rationale != "" && eval.Rationale != confidence.UnparseableRationale {
		c.framing = append(c.framing, "Previous attempt judged insufficient: "+eval.Rationale)
	}

	if c.pendingFeedback == nil {
		return
	}
	for _, rec := range c.pendingFeedback() {
		for _, directive := range rec.RevisionDirectives {
			if rec.LowQuality {
				directive = "(weak signal) " + directive
			}
			c.framing = append(c.framing, directive)
		}
	}
}

func (c *chain) currentFraming() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.framing, "\n")
}

func (c *chain) enter(s State, index int) {
	c.mu.Lock()
	c.status.State = s.String()
	c.status.CycleIndex = index
	c.mu.Unlock()
	c.logger.Debug("state entered",
		zap.String("state", s.String()),
		zap.Int("cycle", index))
}

func (c *chain) addModule(ref string) {
	c.mu.Lock()
	c.status.Modules = append(c.status.Modules, ref)
	c.mu.Unlock()
}

func (c *chain) recordCycle(cyc types.Cycle) {
	c.mu.Lock()
	c.status.Cycles = append(c.status.Cycles, cyc)
	c.mu.Unlock()
}

func (c *chain) abort(cyc types.Cycle, rationale string) {
	cyc.EndedAt = time.Now()
	cyc.Status = types.CycleAborted
	cyc.Rationale = rationale
	c.recordCycle(cyc)
	c.terminate(StateAborted, cyc.Index, cyc.Confidence, rationale)
}

// terminate moves the chain into a terminal state and writes the terminal
// ledger entry. The status snapshot is frozen from here on.
func (c *chain) terminate(s State, index int, conf float64, rationale string) {
	c.mu.Lock()
	c.status.State = s.String()
	c.status.CycleIndex = index
	c.status.Confidence = conf
	c.status.Rationale = rationale
	c.status.EndedAt = time.Now()
	c.mu.Unlock()

	c.appendLedger(index, s, conf, rationale)
	c.logger.Info("chain terminated",
		zap.String("state", s.String()),
		zap.Int("cycles", index),
		zap.Float64("confidence", conf),
		zap.String("rationale", rationale))
}

func (c *chain) appendLedger(index int, s State, conf float64, rationale string) {
	if c.deps.Ledger == nil {
		return
	}
	if c.deps.LedgerMu != nil {
		c.deps.LedgerMu.Lock()
		defer c.deps.LedgerMu.Unlock()
	}

	c.mu.Lock()
	modules := append([]string(nil), c.status.Modules...)
	c.mu.Unlock()

	_, err := c.deps.Ledger.Append(types.LedgerEntry{
		TaskID:     c.task.ID,
		CycleIndex: index,
		State:      s.String(),
		Confidence: conf,
		Rationale:  rationale,
		Modules:    modules,
	})
	if err != nil {
		c.logger.Error("ledger append failed", zap.Error(err))
	}
}
