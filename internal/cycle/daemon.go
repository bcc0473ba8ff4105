package cycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"forgeloop/internal/logging"
	"forgeloop/internal/types"
)

// FeedbackSource is the channel the daemon polls for new raw feedback.
type FeedbackSource interface {
	PollPending() []string
}

// Daemon runs continuous improvement: after a chain reaches a terminal
// state, new feedback spawns a parent-linked derived chain, up to an
// overall run ceiling. The loop is a cooperative fixed-interval poll;
// cancellation is honored only at iteration boundaries.
type Daemon struct {
	manager     *Manager
	source      FeedbackSource
	interpreter FeedbackInterpreter
	interval    time.Duration
	maxRuns     int
	logger      *zap.Logger
}

// NewDaemon creates the continuous-mode loop. maxRuns caps the total
// number of chains including the first; non-positive means 1.
func NewDaemon(manager *Manager, source FeedbackSource, interpreter FeedbackInterpreter, interval time.Duration, maxRuns int) *Daemon {
	if maxRuns < 1 {
		maxRuns = 1
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Daemon{
		manager:     manager,
		source:      source,
		interpreter: interpreter,
		interval:    interval,
		maxRuns:     maxRuns,
		logger:      logging.Get(logging.CategoryOrchestrator).Named("daemon"),
	}
}

// Run starts the seed task and keeps the improvement loop alive until the
// run ceiling is reached or ctx is cancelled at a loop boundary. Returns
// the status of the last completed chain.
func (d *Daemon) Run(ctx context.Context, seed types.Task) (ChainStatus, error) {
	chainID, err := d.manager.StartCycleChain(ctx, seed)
	if err != nil {
		return ChainStatus{}, err
	}
	last, err := d.manager.WaitFor(ctx, chainID)
	if err != nil {
		return last, err
	}
	runs := 1

	current := seed
	for runs < d.maxRuns {
		select {
		case <-ctx.Done():
			d.logger.Info("daemon stopped at loop boundary", zap.Int("runs", runs))
			return last, nil
		case <-time.After(d.interval):
		}

		raws := d.source.PollPending()
		if len(raws) == 0 {
			continue
		}

		derived, ok := d.deriveTask(ctx, current, last.ChainID, raws)
		if !ok {
			d.logger.Info("feedback below quality floor, no derived chain",
				zap.Int("feedback_items", len(raws)))
			continue
		}

		chainID, err := d.manager.StartCycleChain(ctx, derived)
		if err != nil {
			d.logger.Warn("failed to start derived chain", zap.Error(err))
			continue
		}
		d.logger.Info("derived chain started",
			zap.String("chain_id", chainID),
			zap.String("parent_chain_id", last.ChainID),
			zap.Int("run", runs+1))

		last, err = d.manager.WaitFor(ctx, chainID)
		if err != nil {
			return last, err
		}
		current = derived
		runs++
	}

	d.logger.Info("run ceiling reached", zap.Int("runs", runs))
	return last, nil
}

// deriveTask builds the follow-up task: the original description plus the
// revision directives interpreted from feedback, linked to the parent
// chain. Reports false when no usable directives survive interpretation.
func (d *Daemon) deriveTask(ctx context.Context, parent types.Task, parentChainID string, raws []string) (types.Task, bool) {
	var directives []string
	usable := false
	for _, raw := range raws {
		rec := d.interpreter.Interpret(ctx, parent.Description, raw)
		for _, dir := range rec.RevisionDirectives {
			if rec.LowQuality {
				dir = "(weak signal) " + dir
			} else {
				usable = true
			}
			directives = append(directives, dir)
		}
		if !rec.LowQuality && len(rec.LearningPoints) > 0 {
			usable = true
		}
	}
	if !usable {
		return types.Task{}, false
	}

	description := parent.Description
	if len(directives) > 0 {
		description = fmt.Sprintf("%s\n\nIncorporate this feedback:\n- %s",
			parent.Description, strings.Join(directives, "\n- "))
	}
	return types.Task{
		ID:               uuid.NewString(),
		Description:      description,
		TargetConfidence: parent.TargetConfidence,
		MaxCycles:        parent.MaxCycles,
		ParentChainID:    parentChainID,
	}, true
}
