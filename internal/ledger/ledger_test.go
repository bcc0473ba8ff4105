package ledger

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forgeloop/internal/types"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "forge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestAppendAssignsIncreasingSeq(t *testing.T) {
	l := openTestLedger(t)

	seq1, err := l.Append(types.LedgerEntry{TaskID: "t1", CycleIndex: 1, State: "evaluating", Confidence: 0.4})
	require.NoError(t, err)
	seq2, err := l.Append(types.LedgerEntry{TaskID: "t1", CycleIndex: 1, State: "deciding", Confidence: 0.4})
	require.NoError(t, err)

	assert.Greater(t, seq2, seq1)
}

func TestAppendRequiresTaskID(t *testing.T) {
	l := openTestLedger(t)
	_, err := l.Append(types.LedgerEntry{State: "deciding"})
	assert.Error(t, err)
}

func TestEntriesFilterAndOrder(t *testing.T) {
	l := openTestLedger(t)

	entries := []types.LedgerEntry{
		{TaskID: "t1", CycleIndex: 1, State: "evaluating", Confidence: 0.3},
		{TaskID: "t2", CycleIndex: 1, State: "evaluating", Confidence: 0.5},
		{TaskID: "t1", CycleIndex: 1, State: "deciding", Confidence: 0.3, Rationale: "below target"},
		{TaskID: "t1", CycleIndex: 2, State: "succeeded", Confidence: 0.9,
			Modules: []string{"parse_csv@1"}},
	}
	for _, e := range entries {
		_, err := l.Append(e)
		require.NoError(t, err)
	}

	got, err := l.Entries("t1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "evaluating", got[0].State)
	assert.Equal(t, "deciding", got[1].State)
	assert.Equal(t, "below target", got[1].Rationale)
	assert.Equal(t, []string{"parse_csv@1"}, got[2].Modules)

	all, err := l.Entries("")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestLast(t *testing.T) {
	l := openTestLedger(t)

	last, err := l.Last("missing")
	require.NoError(t, err)
	assert.Nil(t, last)

	_, err = l.Append(types.LedgerEntry{TaskID: "t1", CycleIndex: 1, State: "evaluating", Confidence: 0.2})
	require.NoError(t, err)
	_, err = l.Append(types.LedgerEntry{TaskID: "t1", CycleIndex: 3, State: "exhausted", Confidence: 0.6})
	require.NoError(t, err)

	last, err = l.Last("t1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "exhausted", last.State)
	assert.Equal(t, 3, last.CycleIndex)
}

func TestLedgerSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forge.db")

	l, err := Open(path)
	require.NoError(t, err)
	_, err = l.Append(types.LedgerEntry{TaskID: "t1", CycleIndex: 1, State: "aborted", Confidence: 0})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l2, err := Open(path)
	require.NoError(t, err)
	defer l2.Close()

	got, err := l2.Entries("t1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "aborted", got[0].State)
}

func TestExportIsReplayStable(t *testing.T) {
	l := openTestLedger(t)

	for i := 1; i <= 3; i++ {
		_, err := l.Append(types.LedgerEntry{TaskID: "t1", CycleIndex: i, State: "deciding", Confidence: 0.1 * float64(i)})
		require.NoError(t, err)
	}

	first, err := l.Entries("t1")
	require.NoError(t, err)
	second, err := l.Entries("t1")
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("repeated export mismatch (-want +got):\n%s", diff)
	}
}
