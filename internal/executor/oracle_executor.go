package executor

import (
	"context"
	"fmt"
	"strings"

	"forgeloop/internal/oracle"
	"forgeloop/internal/types"
)

const executeSystemPrompt = `You are a task executor. Complete the task directly and output the work product itself.
Do not describe what you would do; do the task. Use the listed capabilities as context for what tooling exists.`

// OracleExecutor is the reference TaskExecutor: it runs the task
// description, the current framing, and the capability snapshot through
// the oracle and returns the raw work product.
type OracleExecutor struct {
	oracle oracle.Oracle
}

// NewOracleExecutor creates the oracle-backed executor.
func NewOracleExecutor(o oracle.Oracle) *OracleExecutor {
	return &OracleExecutor{oracle: o}
}

func (e *OracleExecutor) Run(ctx context.Context, task types.Task, framing string, snapshot []types.CapabilitySummary) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n", task.Description)
	if framing != "" {
		fmt.Fprintf(&sb, "\nRevision guidance from previous attempts:\n%s\n", framing)
	}
	if len(snapshot) > 0 {
		sb.WriteString("\nIntegrated capabilities:\n")
		for _, c := range snapshot {
			fmt.Fprintf(&sb, "- %s: %s\n", c.Name, c.Description)
		}
	}

	out, err := e.oracle.CompleteWithSystem(ctx, executeSystemPrompt, sb.String())
	if err != nil {
		return "", fmt.Errorf("executor oracle call failed: %w", err)
	}
	return out, nil
}
