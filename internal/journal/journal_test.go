package journal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/redispatch/internal/dispatch"
	"github.com/mattjoyce/redispatch/internal/log"
	"github.com/mattjoyce/redispatch/internal/storage"
	"github.com/mattjoyce/redispatch/internal/unit"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

func openJournal(t *testing.T) *Journal {
	t.Helper()

	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestJournalRecordAndList(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t)

	runID, err := j.StartRun(ctx, "redispatch", "blake3:abc")
	require.NoError(t, err)

	escalated := &unit.EscalationError{
		Wrapper: unit.KindRetryOnce,
		Err:     &unit.EscalationError{Wrapper: unit.KindRetryTwice, Err: unit.Fail("io", "disk gone")},
	}
	j.LogFunc(ctx, runID)(escalated)
	_, err = j.Record(ctx, runID, errors.New("plain"))
	require.NoError(t, err)

	entries, err := j.Entries(ctx, runID)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, unit.FailureRetryEscalation, entries[0].FailureKind)
	assert.Equal(t, 2, entries[0].Depth)
	assert.Contains(t, entries[0].Message, "disk gone")

	assert.Equal(t, unit.FailureUnclassified, entries[1].FailureKind)
	assert.Equal(t, 0, entries[1].Depth)
}

func TestJournalRecordNil(t *testing.T) {
	j := openJournal(t)
	_, err := j.Record(context.Background(), "run", nil)
	assert.Error(t, err)
}

func TestJournalRuns(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t)

	runID, err := j.StartRun(ctx, "redispatch", "blake3:abc")
	require.NoError(t, err)
	require.NoError(t, j.FinishRun(ctx, runID, dispatch.Stats{Executed: 4, Succeeded: 1, Failed: 3, Handled: 2, Dropped: 1}))

	runs, err := j.Runs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	r := runs[0]
	assert.Equal(t, runID, r.ID)
	assert.Equal(t, "blake3:abc", r.Fingerprint)
	assert.NotNil(t, r.FinishedAt)
	assert.Equal(t, 4, r.Stats.Executed)
	assert.Equal(t, 3, r.Stats.Failed)
	assert.Equal(t, 1, r.Stats.Succeeded)
	assert.Equal(t, 2, r.Stats.Handled)
	assert.Equal(t, 1, r.Stats.Dropped)
}

func TestJournalFinishUnknownRun(t *testing.T) {
	j := openJournal(t)
	err := j.FinishRun(context.Background(), "missing", dispatch.Stats{})
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestJournalRunLookup(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t)

	runID, err := j.StartRun(ctx, "redispatch", "")
	require.NoError(t, err)

	r, err := j.Run(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, "redispatch", r.Service)
	assert.Nil(t, r.FinishedAt, "unfinished run")

	_, err = j.Run(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestJournalLogFuncSurvivesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	j := openJournal(t)

	runID, err := j.StartRun(ctx, "redispatch", "")
	require.NoError(t, err)

	logFn := j.LogFunc(ctx, runID)
	cancel()
	logFn(unit.Fail("timeout", "fetch attempt 3 failed"))

	entries, err := j.Entries(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, unit.FailureKind("timeout"), entries[0].FailureKind)
}
