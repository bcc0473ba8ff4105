package feedback

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func TestInterpretStructuredResponse(t *testing.T) {
	o := &scriptedOracle{
		CompleteWithSystemFunc: func(ctx context.Context, system, prompt string) (string, error) {
			return `{"learning_points": ["cite sources"], "revision_directives": ["add citations to every claim"], "quality": 0.8}`, nil
		},
	}
	in := NewInterpreter(o, 0.3)

	rec := in.Interpret(context.Background(), "write a report", "needs citations")
	assert.Equal(t, []string{"cite sources"}, rec.LearningPoints)
	assert.Equal(t, []string{"add citations to every claim"}, rec.RevisionDirectives)
	assert.Equal(t, 0.8, rec.Quality)
	assert.False(t, rec.LowQuality)
	assert.Equal(t, "needs citations", rec.RawText)
}

func TestInterpretFlagsLowQuality(t *testing.T) {
	o := &scriptedOracle{
		CompleteWithSystemFunc: func(ctx context.Context, system, prompt string) (string, error) {
			return `{"learning_points": [], "revision_directives": [], "quality": 0.1}`, nil
		},
	}
	in := NewInterpreter(o, 0.3)

	rec := in.Interpret(context.Background(), "task", "bad")
	assert.True(t, rec.LowQuality)
	assert.Equal(t, 0.1, rec.Quality)
}

func TestInterpretHeuristicFallbackOnOracleError(t *testing.T) {
	o := &scriptedOracle{
		CompleteWithSystemFunc: func(ctx context.Context, system, prompt string) (string, error) {
			return "", errors.New("oracle down")
		},
	}
	in := NewInterpreter(o, 0.3)

	raw := "Use shorter paragraphs.\nAdd a summary section at the top.\nThe tone was fine."
	rec := in.Interpret(context.Background(), "task", raw)

	assert.Len(t, rec.LearningPoints, 3)
	assert.Equal(t, []string{"Use shorter paragraphs.", "Add a summary section at the top."},
		rec.RevisionDirectives)
	assert.Greater(t, rec.Quality, 0.0)
}

func TestHeuristicScoresVagueFeedbackLow(t *testing.T) {
	parsed := heuristicInterpret("meh")
	assert.Equal(t, 0.0, parsed.Quality)

	parsed = heuristicInterpret("it was ok I guess")
	assert.LessOrEqual(t, parsed.Quality, 0.3)
}

func TestChannelSubmitAndPoll(t *testing.T) {
	c, err := NewChannel("")
	require.NoError(t, err)
	defer c.Close()

	assert.Empty(t, c.PollPending())

	c.Submit("first")
	c.Submit("  ")
	c.Submit("second")

	got := c.PollPending()
	assert.Equal(t, []string{"first", "second"}, got)
	assert.Empty(t, c.PollPending(), "poll drains the buffer")
}

func TestChannelPicksUpInboxFiles(t *testing.T) {
	dir := t.TempDir()

	// File written before the watcher exists; the rescan must find it.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "early.txt"), []byte("early feedback"), 0644))

	c, err := NewChannel(dir)
	require.NoError(t, err)
	defer c.Close()

	got := c.PollPending()
	assert.Equal(t, []string{"early feedback"}, got)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "late.txt"), []byte("late feedback"), 0644))

	// The watcher or the rescan picks it up; either way the poll sees it.
	deadline := time.After(2 * time.Second)
	for {
		if got := c.PollPending(); len(got) > 0 {
			assert.Equal(t, []string{"late feedback"}, got)
			return
		}
		select {
		case <-deadline:
			t.Fatal("feedback file never surfaced")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestChannelIngestsEachFileOnce(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.txt"), []byte("just once"), 0644))

	c, err := NewChannel(dir)
	require.NoError(t, err)
	defer c.Close()

	assert.Len(t, c.PollPending(), 1)
	assert.Empty(t, c.PollPending())
	assert.Empty(t, c.PollPending())
}

func TestChannelIgnoresHiddenFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("nope"), 0644))

	c, err := NewChannel(dir)
	require.NoError(t, err)
	defer c.Close()

	assert.Empty(t, c.PollPending())
}
