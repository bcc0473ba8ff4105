// Package types holds the shared data model for the forgeloop improvement engine:
// tasks, cycles, capability gaps, generated modules, execution outcomes,
// feedback records, and ledger entries. Components exchange these types;
// behavior lives in the packages that own each concern.
package types

import (
	"fmt"
	"time"
)

// Task is one unit of work submitted to the engine. Immutable once a
// cycle chain has started.
type Task struct {
	ID               string  `json:"id"`
	Description      string  `json:"description"`
	TargetConfidence float64 `json:"target_confidence"` // 0.0 - 1.0
	MaxCycles        int     `json:"max_cycles"`        // >= 1

	// ParentChainID links tasks derived from feedback in continuous mode
	// back to the chain that produced them.
	ParentChainID string `json:"parent_chain_id,omitempty"`
}

// Validate checks the task invariants before a chain starts.
func (t Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task id required")
	}
	if t.Description == "" {
		return fmt.Errorf("task description required")
	}
	if t.TargetConfidence < 0 || t.TargetConfidence > 1 {
		return fmt.Errorf("target confidence %.2f outside [0,1]", t.TargetConfidence)
	}
	if t.MaxCycles < 1 {
		return fmt.Errorf("max cycles must be >= 1, got %d", t.MaxCycles)
	}
	return nil
}

// CycleStatus is the lifecycle state of a single cycle.
type CycleStatus string

const (
	CycleRunning   CycleStatus = "running"
	CycleSucceeded CycleStatus = "succeeded"
	CycleExhausted CycleStatus = "exhausted"
	CycleAborted   CycleStatus = "aborted"
)

// Cycle is one attempt at a task within a bounded improvement chain.
// Index is 1-based and strictly increasing with no gaps.
type Cycle struct {
	TaskID     string      `json:"task_id"`
	Index      int         `json:"index"`
	StartedAt  time.Time   `json:"started_at"`
	EndedAt    time.Time   `json:"ended_at,omitempty"`
	Confidence float64     `json:"confidence"` // 0.0 - 1.0
	Rationale  string      `json:"rationale"`
	Status     CycleStatus `json:"status"`
}

// CapabilityGap is a missing functional building block inferred from a
// task description. Transient: never persisted beyond its cycle.
type CapabilityGap struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	RequiredBy  string `json:"required_by"` // task id
}

// ModuleStatus tracks how far a generated module got through integration.
type ModuleStatus string

const (
	ModulePending    ModuleStatus = "pending"
	ModuleIntegrated ModuleStatus = "integrated"
	ModuleRejected   ModuleStatus = "rejected"
	ModuleSuperseded ModuleStatus = "superseded"
)

// CapabilitySummary is the registry's view of one integrated module, as
// exposed to gap analysis.
type CapabilitySummary struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Aliases     []string `json:"aliases,omitempty"`
}

// GeneratedModule is a runtime-synthesized capability implementation.
// Owned by the capability registry; a name has at most one integrated
// module at any time, and supersession is explicit.
type GeneratedModule struct {
	Name           string       `json:"name"`
	Description    string       `json:"description"`
	Source         string       `json:"source"`
	Status         ModuleStatus `json:"status"`
	Version        int          `json:"version"`
	CreatedInCycle int          `json:"created_in_cycle"`
	CreatedAt      time.Time    `json:"created_at"`
	SupersededBy   string       `json:"superseded_by,omitempty"` // name@version of the successor
	Aliases        []string     `json:"aliases,omitempty"`
	RejectReason   string       `json:"reject_reason,omitempty"`
}

// Ref returns the name@version reference used in supersession records
// and ledger entries.
func (m GeneratedModule) Ref() string {
	return fmt.Sprintf("%s@%d", m.Name, m.Version)
}

// ExecutionOutcome is the normalized result of delegated task execution.
type ExecutionOutcome struct {
	CycleID  string        `json:"cycle_id"`
	Success  bool          `json:"success"`
	Result   string        `json:"result"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// FeedbackRecord is structured feedback derived from free text. It
// influences only future cycles, never past ones.
type FeedbackRecord struct {
	ReceivedAt         time.Time `json:"received_at"`
	RawText            string    `json:"raw_text"`
	LearningPoints     []string  `json:"learning_points"`
	RevisionDirectives []string  `json:"revision_directives"`
	Quality            float64   `json:"quality"` // 0.0 - 1.0
	LowQuality         bool      `json:"low_quality"`
}

// LedgerEntry is one append-only record of a cycle transition.
type LedgerEntry struct {
	Seq        int64     `json:"seq"`
	TaskID     string    `json:"task_id"`
	CycleIndex int       `json:"cycle_index"`
	State      string    `json:"state"` // state transitioned into
	Confidence float64   `json:"confidence"`
	Rationale  string    `json:"rationale"`
	Modules    []string  `json:"modules,omitempty"` // touched module refs
	RecordedAt time.Time `json:"recorded_at"`
}

// Clamp01 bounds a score into [0,1]. Confidence and quality scores pass
// through this before they are stored or compared.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
