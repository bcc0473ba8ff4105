package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forgeloop/internal/types"
)

// scriptedOracle is a function-field mock for Oracle.
type scriptedOracle struct {
	CompleteFunc           func(ctx context.Context, prompt string) (string, error)
	CompleteWithSystemFunc func(ctx context.Context, system, prompt string) (string, error)
}

func (s *scriptedOracle) Complete(ctx context.Context, prompt string) (string, error) {
	if s.CompleteFunc != nil {
		return s.CompleteFunc(ctx, prompt)
	}
	return "", nil
}

func (s *scriptedOracle) CompleteWithSystem(ctx context.Context, system, prompt string) (string, error) {
	if s.CompleteWithSystemFunc != nil {
		return s.CompleteWithSystemFunc(ctx, system, prompt)
	}
	return "", nil
}

func TestTimedPassesThroughSuccess(t *testing.T) {
	inner := &scriptedOracle{
		CompleteFunc: func(ctx context.Context, prompt string) (string, error) {
			return "answer", nil
		},
	}
	timed := NewTimed(inner, time.Second)

	out, err := timed.Complete(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "answer", out)
}

func TestTimedClassifiesDeadline(t *testing.T) {
	inner := &scriptedOracle{
		CompleteFunc: func(ctx context.Context, prompt string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	timed := NewTimed(inner, 10*time.Millisecond)

	_, err := timed.Complete(context.Background(), "slow")
	require.Error(t, err)
	assert.Equal(t, types.KindOracleTimeout, types.KindOf(err))
	assert.True(t, types.IsRecoverable(err))
}

func TestTimedClassifiesFailureAsUnavailable(t *testing.T) {
	inner := &scriptedOracle{
		CompleteWithSystemFunc: func(ctx context.Context, system, prompt string) (string, error) {
			return "", errors.New("connection refused")
		},
	}
	timed := NewTimed(inner, time.Second)

	_, err := timed.CompleteWithSystem(context.Background(), "sys", "q")
	require.Error(t, err)
	assert.Equal(t, types.KindOracleUnavailable, types.KindOf(err))
}

func TestTimedPreservesClassifiedErrors(t *testing.T) {
	inner := &scriptedOracle{
		CompleteFunc: func(ctx context.Context, prompt string) (string, error) {
			return "", types.Classify(types.KindOracleTimeout, "inner timeout", nil)
		},
	}
	timed := NewTimed(inner, time.Second)

	_, err := timed.Complete(context.Background(), "q")
	assert.Equal(t, types.KindOracleTimeout, types.KindOf(err))
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"confidence": 0.9}`, `{"confidence": 0.9}`},
		{"prose wrapped", `Here you go: {"a": 1} done`, `{"a": 1}`},
		{"nested", `{"a": {"b": [1, 2]}}`, `{"a": {"b": [1, 2]}}`},
		{"braces in strings", `{"msg": "use { and }"}`, `{"msg": "use { and }"}`},
		{"array", `result [1, 2, 3] end`, `[1, 2, 3]`},
		{"unbalanced", `{"a": 1`, ""},
		{"no json", `just words`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.in))
		})
	}
}

func TestExtractCodeBlock(t *testing.T) {
	fenced := "intro\n```go\npackage main\n```\ntrailer"
	assert.Equal(t, "package main", ExtractCodeBlock(fenced, "go"))

	bare := "package main"
	assert.Equal(t, "package main", ExtractCodeBlock(bare, "go"))

	plain := "before\n```\nx := 1\n```"
	assert.Equal(t, "x := 1", ExtractCodeBlock(plain, "go"))
}
