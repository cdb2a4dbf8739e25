package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openStoreAt(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(context.Background(), path, zap.NewNop())
	require.NoError(t, err)
	return s
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s := openStoreAt(t, filepath.Join(t.TempDir(), "records.db"))
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestStore_FillAndRead(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	for i := 1; i <= 105; i++ {
		require.NoError(t, s.InsertRecord(ctx, fmt.Sprintf("Etudiant %d", i)))
	}

	value, err := s.ReadRecord(ctx, 41)
	require.NoError(t, err)
	require.Equal(t, "Etudiant 42", value)

	page0, err := s.GetPage(ctx, 0)
	require.NoError(t, err)
	require.Len(t, page0, 40)
	require.Equal(t, "Etudiant 1", page0[0])
	require.Equal(t, "Etudiant 40", page0[39])

	page2, err := s.GetPage(ctx, 2)
	require.NoError(t, err)
	require.Len(t, page2, 25)
	require.Equal(t, "Etudiant 81", page2[0])
	require.Equal(t, "Etudiant 105", page2[24])

	count, err := s.RecordCount(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(105), count)
}

func TestStore_Rollback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.InsertRecord(ctx, "Etudiant 200"))
	require.NoError(t, s.InsertRecord(ctx, "Etudiant 201"))
	require.NoError(t, s.Rollback(ctx))

	count, err := s.RecordCount(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(0), count)

	page0, err := s.GetPage(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, page0)
}

func TestStore_Commit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.InsertRecord(ctx, "Etudiant 202"))
	require.NoError(t, s.InsertRecord(ctx, "Etudiant 203"))
	require.NoError(t, s.Commit(ctx))

	v0, err := s.ReadRecord(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, "Etudiant 202", v0)

	v1, err := s.ReadRecord(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "Etudiant 203", v1)
}

func TestStore_TransactionalReadIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.InsertRecord(ctx, "A"))

	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.UpdateRecord(ctx, 0, "A_MOD"))

	seen, err := s.ReadRecord(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, "A", seen)

	require.NoError(t, s.Rollback(ctx))

	after, err := s.ReadRecord(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, "A", after)
}

func TestStore_CrashAndRecover(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "records.db")
	s := openStoreAt(t, path)

	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.InsertRecord(ctx, "Record_A"))
	require.NoError(t, s.Commit(ctx))

	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.InsertRecord(ctx, "Record_B"))
	require.NoError(t, s.Commit(ctx))

	require.NoError(t, s.Checkpoint(ctx))

	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.UpdateRecord(ctx, 1, "Record_B_FINAL"))
	require.NoError(t, s.Commit(ctx))

	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.InsertRecord(ctx, "Record_C_FANTOME"))
	// No commit - this transaction is in flight when the crash hits.

	s.Crash(ctx)
	require.NoError(t, s.Close(ctx))

	reopened := openStoreAt(t, path)
	t.Cleanup(func() { _ = reopened.Close(ctx) })

	require.NoError(t, reopened.Recover(ctx))

	count, err := reopened.RecordCount(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), count)

	v0, err := reopened.ReadRecord(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, "Record_A", v0)

	v1, err := reopened.ReadRecord(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "Record_B_FINAL", v1)

	v2, err := reopened.ReadRecord(ctx, 2)
	require.NoError(t, err)
	require.NotEqual(t, "Record_C_FANTOME", v2)
}

func TestStore_ImplicitCommitOnDoubleBegin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.InsertRecord(ctx, "X"))
	require.NoError(t, s.Begin(ctx)) // implicit commit of the first transaction
	require.NoError(t, s.Rollback(ctx))

	v0, err := s.ReadRecord(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, "X", v0)
}

func TestStore_ReadRecordPastEndIsOutOfBounds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	_, err := s.ReadRecord(ctx, 0)
	require.ErrorIs(t, err, ErrOutOfBounds)
}

func TestStore_UpdateRequiresActiveTransaction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.InsertRecord(ctx, "A"))
	err := s.UpdateRecord(ctx, 0, "B")
	require.ErrorIs(t, err, ErrNoActiveTransaction)
}

func TestStore_ExactWidthValueRoundTrips(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	value := make([]byte, RecordSize)
	for i := range value {
		value[i] = 'x'
	}
	require.NoError(t, s.InsertRecord(ctx, string(value)))

	got, err := s.ReadRecord(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, string(value), got)
}

func TestStore_InsertAcrossPageBoundaryNeverWritesPadding(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	for i := 0; i < RecordsPerPage+1; i++ {
		require.NoError(t, s.InsertRecord(ctx, fmt.Sprintf("r%d", i)))
	}

	page, err := s.GetPage(ctx, 0)
	require.NoError(t, err)
	require.Len(t, page, RecordsPerPage)

	frame, err := s.pool.Fix(0)
	require.NoError(t, err)
	defer s.pool.Unfix(0)
	tail := frame.data[RecordsPerPage*RecordSize:]
	require.True(t, isAllZero(tail))
}

func TestStore_InsertRecordSyncFillsFirstEmptySlot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.InsertRecord(ctx, "a"))
	require.NoError(t, s.InsertRecord(ctx, "b"))
	require.NoError(t, s.InsertRecord(ctx, "c"))

	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.UpdateRecord(ctx, 1, ""))
	require.NoError(t, s.Commit(ctx))

	require.NoError(t, s.InsertRecordSync(ctx, "d"))

	v1, err := s.ReadRecord(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "d", v1)
}

func TestStore_GetPageNeverExceedsRemainingCount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.InsertRecord(ctx, fmt.Sprintf("r%d", i)))
	}

	page, err := s.GetPage(ctx, 0)
	require.NoError(t, err)
	require.Len(t, page, 5)

	empty, err := s.GetPage(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, empty)
}
