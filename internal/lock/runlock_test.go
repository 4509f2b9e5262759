package lock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireStampsPID(t *testing.T) {
	journal := filepath.Join(t.TempDir(), "journal.db")

	l, err := Acquire(journal)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Release() })

	assert.Equal(t, journal+".lock", l.Path())
	pid, err := Holder(journal)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestAcquireRejectsSecondHolder(t *testing.T) {
	journal := filepath.Join(t.TempDir(), "journal.db")

	first, err := Acquire(journal)
	require.NoError(t, err)

	_, err = Acquire(journal)
	require.ErrorIs(t, err, ErrHeld)

	require.NoError(t, first.Release())
	require.NoError(t, first.Release(), "second release is a no-op")

	again, err := Acquire(journal)
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestAcquireEmptyPath(t *testing.T) {
	_, err := Acquire("")
	assert.Error(t, err)
}
