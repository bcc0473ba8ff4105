package confidence

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forgeloop/internal/types"
)

type scriptedOracle struct {
	CompleteWithSystemFunc func(ctx context.Context, system, prompt string) (string, error)
}

func (s *scriptedOracle) Complete(ctx context.Context, prompt string) (string, error) {
	return "", nil
}

func (s *scriptedOracle) CompleteWithSystem(ctx context.Context, system, prompt string) (string, error) {
	if s.CompleteWithSystemFunc != nil {
		return s.CompleteWithSystemFunc(ctx, system, prompt)
	}
	return "", nil
}

func respondWith(text string) *scriptedOracle {
	return &scriptedOracle{
		CompleteWithSystemFunc: func(ctx context.Context, system, prompt string) (string, error) {
			return text, nil
		},
	}
}

func evaluate(t *testing.T, response string) (Evaluation, error) {
	t.Helper()
	e := NewEvaluator(respondWith(response))
	return e.Evaluate(context.Background(), types.Task{ID: "t1", Description: "d"},
		types.ExecutionOutcome{Success: true, Result: "result"})
}

func TestEvaluateStructuredJSON(t *testing.T) {
	eval, err := evaluate(t, `{"confidence": 0.82, "rationale": "covers all cases"}`)
	require.NoError(t, err)
	assert.Equal(t, 0.82, eval.Score)
	assert.Equal(t, "covers all cases", eval.Rationale)
}

func TestEvaluateJSONWrappedInProse(t *testing.T) {
	eval, err := evaluate(t, "Sure!\n```json\n{\"confidence\": 0.46, \"rationale\": \"partial\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, 0.46, eval.Score)
}

func TestEvaluateRegexFallback(t *testing.T) {
	eval, err := evaluate(t, "I would put the confidence: 0.7 on this attempt.")
	require.NoError(t, err)
	assert.Equal(t, 0.7, eval.Score)

	eval, err = evaluate(t, "Score: 0.9/1")
	require.NoError(t, err)
	assert.Equal(t, 0.9, eval.Score)
}

func TestEvaluateFailsClosed(t *testing.T) {
	eval, err := evaluate(t, "This attempt seems fine to me overall.")
	require.Error(t, err)
	assert.Equal(t, types.KindEvaluationUnparseable, types.KindOf(err))
	assert.True(t, types.IsRecoverable(err))
	assert.Equal(t, 0.0, eval.Score)
	assert.Equal(t, UnparseableRationale, eval.Rationale)
}

func TestEvaluateClampsScore(t *testing.T) {
	eval, err := evaluate(t, `{"confidence": 1.7, "rationale": "overshoot"}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, eval.Score)
}

func TestEvaluateOracleErrorPropagates(t *testing.T) {
	e := NewEvaluator(&scriptedOracle{
		CompleteWithSystemFunc: func(ctx context.Context, system, prompt string) (string, error) {
			return "", types.Classify(types.KindOracleTimeout, "deadline", errors.New("timeout"))
		},
	})
	_, err := e.Evaluate(context.Background(), types.Task{ID: "t1"}, types.ExecutionOutcome{Success: true})
	require.Error(t, err)
	assert.Equal(t, types.KindOracleTimeout, types.KindOf(err))
}

func TestEvaluateFailedOutcomeStillScored(t *testing.T) {
	var seenPrompt string
	e := NewEvaluator(&scriptedOracle{
		CompleteWithSystemFunc: func(ctx context.Context, system, prompt string) (string, error) {
			seenPrompt = prompt
			return `{"confidence": 0.05, "rationale": "attempt failed"}`, nil
		},
	})
	outcome := types.ExecutionOutcome{
		Success: false,
		Err:     types.Classify(types.KindExecutorTimeout, "timed out", nil),
	}
	eval, err := e.Evaluate(context.Background(), types.Task{ID: "t1", Description: "d"}, outcome)
	require.NoError(t, err)
	assert.Equal(t, 0.05, eval.Score)
	assert.Contains(t, seenPrompt, "execution failed")
}

func TestParseEvaluationMissingConfidenceKey(t *testing.T) {
	_, ok := parseEvaluation(`{"rationale": "no score here"}`)
	assert.False(t, ok)
}
