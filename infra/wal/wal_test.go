package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"matchd/domain/book"
)

func testResult(orderID int64) *book.MatchResult {
	qty := decimal.NewFromInt(5)
	return &book.MatchResult{
		TakerOrder: &book.Order{
			OrderID:          orderID,
			UserID:           1,
			InstrumentID:     7,
			Side:             book.SideBuy,
			Type:             book.TypeMarket,
			Quantity:         qty,
			OriginalQuantity: qty,
			SubmittedAt:      time.Now(),
		},
		Updates: []book.OrderUpdate{
			{OrderID: orderID, Remaining: qty, Role: book.RoleTaker},
		},
	}
}

func appendOne(t *testing.T, w *WAL, orderID int64) *Entry {
	t.Helper()
	entries, err := w.Append([]AppendRequest{{Result: testResult(orderID)}})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return entries[0]
}

func TestWAL_AppendAssignsGaplessSequence(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 7, zap.NewNop())
	require.NoError(t, err)
	defer w.Close()

	for i := int64(1); i <= 5; i++ {
		entry := appendOne(t, w, i)
		assert.Equal(t, uint64(i), entry.Seq)
	}
	assert.Equal(t, uint64(5), w.LastSeq())
}

func TestWAL_BatchAppendIsAtomicInOrder(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 7, zap.NewNop())
	require.NoError(t, err)
	defer w.Close()

	entries, err := w.Append([]AppendRequest{
		{Result: testResult(1)},
		{Result: testResult(2)},
		{Result: testResult(3)},
	})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, entry := range entries {
		assert.Equal(t, uint64(i+1), entry.Seq)
	}
}

func TestWAL_LoadExistingRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 7, zap.NewNop())
	require.NoError(t, err)
	partition := int32(2)
	offset := int64(40)
	_, err = w.Append([]AppendRequest{
		{Result: testResult(1)},
		{Result: testResult(2), Partition: &partition, Offset: &offset},
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	reopened, err := Open(dir, 7, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()
	require.NoError(t, reopened.LoadExisting())

	assert.Equal(t, uint64(2), reopened.LastSeq())
	loaded := reopened.ReadFrom(1)
	require.Len(t, loaded, 2)
	assert.Equal(t, int64(1), loaded[0].MatchResult.TakerOrder.OrderID)
	require.NotNil(t, loaded[1].Partition)
	assert.Equal(t, int32(2), *loaded[1].Partition)
	require.NotNil(t, loaded[1].Offset)
	assert.Equal(t, int64(40), *loaded[1].Offset)

	// New appends continue the sequence.
	entry := appendOne(t, reopened, 3)
	assert.Equal(t, uint64(3), entry.Seq)
}

func TestWAL_ReadFrom(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 7, zap.NewNop())
	require.NoError(t, err)
	defer w.Close()
	for i := int64(1); i <= 5; i++ {
		appendOne(t, w, i)
	}

	tail := w.ReadFrom(4)
	require.Len(t, tail, 2)
	assert.Equal(t, uint64(4), tail[0].Seq)
	assert.Nil(t, w.ReadFrom(6))
}

func TestWAL_LoadFailsOnCorruptLine(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 7, zap.NewNop())
	require.NoError(t, err)
	appendOne(t, w, 1)
	require.NoError(t, w.Close())

	path := filepath.Join(dir, FileName(7))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := Open(dir, 7, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()
	require.ErrorIs(t, reopened.LoadExisting(), ErrCorruptEntry)
}

func TestWAL_LoadFailsOnSequenceGap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName(7))
	var lines string
	for _, seq := range []uint64{1, 3} {
		lines += fmt.Sprintf(`{"seq":%d,"partition":null,"offset":null,"matchResult":null,"depthSnapshot":null,"appendedAt":"2026-01-01T00:00:00Z"}`+"\n", seq)
	}
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o644))

	w, err := Open(dir, 7, zap.NewNop())
	require.NoError(t, err)
	defer w.Close()
	require.ErrorIs(t, w.LoadExisting(), ErrCorruptEntry)
}

func TestWAL_LoadMissingFileIsEmpty(t *testing.T) {
	w, err := Open(t.TempDir(), 7, zap.NewNop())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.LoadExisting())
	assert.Equal(t, uint64(0), w.LastSeq())
}

func TestWAL_AppendAfterClose(t *testing.T) {
	w, err := Open(t.TempDir(), 7, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = w.Append([]AppendRequest{{Result: testResult(1)}})
	require.ErrorIs(t, err, ErrClosed)
}

func TestParseFileName(t *testing.T) {
	id, ok := ParseFileName("wal-42.wal")
	require.True(t, ok)
	assert.Equal(t, int64(42), id)

	for _, name := range []string{"wal-.wal", "snapshot-42.json", "wal-42.wal.bak", "orders.txt"} {
		_, ok := ParseFileName(name)
		assert.False(t, ok, name)
	}
}
