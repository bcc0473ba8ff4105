package gap

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forgeloop/internal/types"
)

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

func respondWith(json string) *scriptedOracle {
	return &scriptedOracle{
		CompleteWithSystemFunc: func(ctx context.Context, system, prompt string) (string, error) {
			return json, nil
		},
	}
}

func TestAnalyzeFindsGaps(t *testing.T) {
	o := respondWith(`Here you go:
[{"name": "parse_csv", "description": "Parse CSV text into records"},
 {"name": "summarize_text", "description": "Summarize long text"}]`)
	a := NewAnalyzer(o, 0.5)

	task := types.Task{ID: "t1", Description: "Summarize the attached CSV report"}
	gaps, err := a.Analyze(context.Background(), task, nil)
	require.NoError(t, err)

	require.Len(t, gaps, 2)
	assert.Equal(t, "parse_csv", gaps[0].Name)
	assert.Equal(t, "summarize_text", gaps[1].Name)
	assert.Equal(t, "t1", gaps[0].RequiredBy)
}

func TestAnalyzeSkipsCoveredCapabilities(t *testing.T) {
	o := respondWith(`[{"name": "parse_csv", "description": "Parse CSV text"},
 {"name": "render_chart", "description": "Render a bar chart image"}]`)
	a := NewAnalyzer(o, 0.5)

	available := []types.CapabilitySummary{
		{Name: "parse_csv", Description: "Parses CSV input into records"},
	}
	gaps, err := a.Analyze(context.Background(), types.Task{ID: "t1", Description: "d"}, available)
	require.NoError(t, err)

	require.Len(t, gaps, 1)
	assert.Equal(t, "render_chart", gaps[0].Name)
}

func TestAnalyzeAmbiguousMatchStaysGap(t *testing.T) {
	o := respondWith(`[{"name": "parse_json_config", "description": "Parse JSON configuration files"}]`)
	a := NewAnalyzer(o, 0.5)

	// Shares one token ("parse") out of many, well below threshold.
	available := []types.CapabilitySummary{
		{Name: "parse_csv", Description: "Parses comma separated records"},
	}
	gaps, err := a.Analyze(context.Background(), types.Task{ID: "t1", Description: "d"}, available)
	require.NoError(t, err)
	require.Len(t, gaps, 1)
	assert.Equal(t, "parse_json_config", gaps[0].Name)
}

func TestAnalyzeDeduplicates(t *testing.T) {
	o := respondWith(`[{"name": "parse_csv", "description": "a"},
 {"name": "csv_parse", "description": "b"},
 {"name": "parse_csv", "description": "c"}]`)
	a := NewAnalyzer(o, 0.5)

	gaps, err := a.Analyze(context.Background(), types.Task{ID: "t1", Description: "d"}, nil)
	require.NoError(t, err)

	// parse_csv and csv_parse normalize to the same token set.
	require.Len(t, gaps, 1)
	assert.Equal(t, "parse_csv", gaps[0].Name)
}

func TestAnalyzeOracleErrorPropagates(t *testing.T) {
	o := &scriptedOracle{
		CompleteWithSystemFunc: func(ctx context.Context, system, prompt string) (string, error) {
			return "", types.Classify(types.KindOracleUnavailable, "down", errors.New("refused"))
		},
	}
	a := NewAnalyzer(o, 0.5)

	_, err := a.Analyze(context.Background(), types.Task{ID: "t1", Description: "d"}, nil)
	require.Error(t, err)
	assert.Equal(t, types.KindOracleUnavailable, types.KindOf(err))
	assert.True(t, types.IsRecoverable(err))
}

func TestAnalyzeUnparseableResponse(t *testing.T) {
	o := respondWith(`I cannot produce JSON today.`)
	a := NewAnalyzer(o, 0.5)

	_, err := a.Analyze(context.Background(), types.Task{ID: "t1", Description: "d"}, nil)
	require.Error(t, err)
	assert.Equal(t, types.KindGapUnparseable, types.KindOf(err))
	assert.True(t, types.IsRecoverable(err))
}

func TestTokenSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, tokenSimilarity("parse_csv", "parse csv"))
	assert.Equal(t, 0.0, tokenSimilarity("parse_csv", "render_chart"))
	assert.InDelta(t, 1.0/3.0, tokenSimilarity("parse_csv", "parse_json"), 1e-9)
	assert.Equal(t, 0.0, tokenSimilarity("", "anything"))
}
