package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordTradeIdempotent(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.RecordTrade(ctx, "c1", "t1", 1700000000000))
	require.NoError(t, j.RecordTrade(ctx, "c1", "t1", 1700000000000), "re-recording must not fail")

	has, err := j.HasTrade(ctx, "c1", "t1")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = j.HasTrade(ctx, "c1", "t2")
	require.NoError(t, err)
	assert.False(t, has)

	// Same trade ID under another order is a distinct record.
	has, err = j.HasTrade(ctx, "c2", "t1")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestCursorMovesForwardOnly(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	ts, err := j.LoadCursor(ctx)
	require.NoError(t, err)
	assert.Zero(t, ts)

	require.NoError(t, j.SaveCursor(ctx, 1700000000500))
	require.NoError(t, j.SaveCursor(ctx, 1700000000100), "older timestamps must not rewind the cursor")

	ts, err = j.LoadCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000500), ts)
}

func TestPruneBefore(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.RecordTrade(ctx, "c1", "t1", 100))
	require.NoError(t, j.RecordTrade(ctx, "c1", "t2", 200))
	require.NoError(t, j.PruneBefore(ctx, 150))

	has, err := j.HasTrade(ctx, "c1", "t1")
	require.NoError(t, err)
	assert.False(t, has)

	has, err = j.HasTrade(ctx, "c1", "t2")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestJournalSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.db")
	ctx := context.Background()

	j, err := NewJournal(path)
	require.NoError(t, err)
	require.NoError(t, j.RecordTrade(ctx, "c1", "t1", 100))
	require.NoError(t, j.SaveCursor(ctx, 100))
	require.NoError(t, j.Close())

	j2, err := NewJournal(path)
	require.NoError(t, err)
	defer j2.Close()

	has, err := j2.HasTrade(ctx, "c1", "t1")
	require.NoError(t, err)
	assert.True(t, has)

	ts, err := j2.LoadCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(100), ts)
}
