package cycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"forgeloop/internal/logging"
	"forgeloop/internal/types"
)

// FeedbackInterpreter converts raw feedback text into structured records.
type FeedbackInterpreter interface {
	Interpret(ctx context.Context, taskDescription, raw string) types.FeedbackRecord
}

// ResourceProfile is the read-only collaborator that caps concurrent
// chains.
type ResourceProfile interface {
	MaxConcurrentChains() int
}

// StaticProfile is a fixed-ceiling ResourceProfile.
type StaticProfile int

func (s StaticProfile) MaxConcurrentChains() int { return int(s) }

// Manager starts and tracks cycle chains. One chain per task at a time;
// independent tasks run concurrently up to the resource profile's ceiling.
type Manager struct {
	deps        Deps
	interpreter FeedbackInterpreter
	sem         *semaphore.Weighted
	logger      *zap.Logger

	mu       sync.Mutex
	chains   map[string]*chain   // chain id -> chain
	active   map[string]string   // task id -> running chain id
	feedback map[string][]string // task id -> raw feedback pending interpretation
	wg       sync.WaitGroup
}

// NewManager creates a chain manager. profile bounds concurrency; a nil or
// non-positive profile falls back to 1.
func NewManager(deps Deps, interpreter FeedbackInterpreter, profile ResourceProfile) *Manager {
	limit := 1
	if profile != nil && profile.MaxConcurrentChains() > 0 {
		limit = profile.MaxConcurrentChains()
	}
	if deps.LedgerMu == nil {
		deps.LedgerMu = &sync.Mutex{}
	}
	return &Manager{
		deps:        deps,
		interpreter: interpreter,
		sem:         semaphore.NewWeighted(int64(limit)),
		logger:      logging.Get(logging.CategoryOrchestrator),
		chains:      make(map[string]*chain),
		active:      make(map[string]string),
		feedback:    make(map[string][]string),
	}
}

// StartCycleChain validates the task and starts its chain asynchronously,
// returning the chain ID for status polling. A task with a chain still
// running is rejected; finished chains may be re-run.
func (m *Manager) StartCycleChain(ctx context.Context, task types.Task) (string, error) {
	return m.startChain(ctx, task, "")
}

func (m *Manager) startChain(ctx context.Context, task types.Task, parentChainID string) (string, error) {
	if err := task.Validate(); err != nil {
		return "", fmt.Errorf("invalid task: %w", err)
	}
	if parentChainID == "" {
		parentChainID = task.ParentChainID
	}

	m.mu.Lock()
	if runningID, ok := m.active[task.ID]; ok {
		m.mu.Unlock()
		return "", fmt.Errorf("task %q already has a running chain %s", task.ID, runningID)
	}

	chainID := uuid.NewString()
	ch := newChain(chainID, parentChainID, task, m.deps, func() []types.FeedbackRecord {
		return m.drainFeedback(ctx, task)
	})
	m.chains[chainID] = ch
	m.active[task.ID] = chainID
	m.mu.Unlock()

	m.logger.Info("chain started",
		zap.String("chain_id", chainID),
		zap.String("task_id", task.ID),
		zap.Float64("target", task.TargetConfidence),
		zap.Int("max_cycles", task.MaxCycles))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.sem.Acquire(ctx, 1); err != nil {
			ch.terminate(StateAborted, 0, 0, "cancelled before start")
		} else {
			ch.run(ctx)
			m.sem.Release(1)
		}
		m.mu.Lock()
		if m.active[task.ID] == chainID {
			delete(m.active, task.ID)
		}
		m.mu.Unlock()
	}()
	return chainID, nil
}

// GetStatus returns the chain snapshot. Once the chain is terminal, the
// snapshot is stable across repeated calls.
func (m *Manager) GetStatus(chainID string) (ChainStatus, error) {
	m.mu.Lock()
	ch, ok := m.chains[chainID]
	m.mu.Unlock()
	if !ok {
		return ChainStatus{}, fmt.Errorf("unknown chain %q", chainID)
	}
	return ch.Status(), nil
}

// SubmitFeedback queues raw feedback for a task. It is interpreted and
// folded in at the next cycle boundary, never mid-cycle.
func (m *Manager) SubmitFeedback(taskID, raw string) {
	if raw == "" {
		return
	}
	m.mu.Lock()
	m.feedback[taskID] = append(m.feedback[taskID], raw)
	m.mu.Unlock()
}

// drainFeedback interprets and removes everything queued for a task.
func (m *Manager) drainFeedback(ctx context.Context, task types.Task) []types.FeedbackRecord {
	m.mu.Lock()
	raws := m.feedback[task.ID]
	delete(m.feedback, task.ID)
	m.mu.Unlock()

	if len(raws) == 0 || m.interpreter == nil {
		return nil
	}
	records := make([]types.FeedbackRecord, 0, len(raws))
	for _, raw := range raws {
		records = append(records, m.interpreter.Interpret(ctx, task.Description, raw))
	}
	return records
}

// Wait blocks until every started chain has terminated.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// WaitFor blocks until the given chain terminates or ctx ends, returning
// the final status.
func (m *Manager) WaitFor(ctx context.Context, chainID string) (ChainStatus, error) {
	for {
		status, err := m.GetStatus(chainID)
		if err != nil {
			return ChainStatus{}, err
		}
		if isTerminal(status.State) {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-pollTick():
		}
	}
}

func pollTick() <-chan time.Time {
	return time.After(20 * time.Millisecond)
}

func isTerminal(state string) bool {
	return state == StateSucceeded.String() ||
		state == StateExhausted.String() ||
		state == StateAborted.String()
}
