package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"matchd/domain/book"
	"matchd/domain/instrument"
)

func newTestEngine(t *testing.T, dir string) *Engine {
	t.Helper()
	cache := instrument.NewCache()
	for _, id := range []int64{testInstrumentID, 8} {
		require.NoError(t, cache.Put(instrument.Instrument{
			InstrumentID: id,
			Symbol:       "TEST",
			QuoteAsset:   "USDT",
			ContractSize: decimal.NewFromInt(1),
		}))
	}
	return NewEngine(EngineConfig{
		DataDir: dir,
		Meta:    cache,
		Logger:  zap.NewNop(),
	})
}

func envelopeFor(instrumentID, orderID int64, side book.Side, px, qty string) Envelope {
	env := limitEnvelope(orderID, side, px, qty)
	env.Order.InstrumentID = instrumentID
	return env
}

func TestEngine_RoutesBatchPerInstrument(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, dir)

	require.NoError(t, e.ProcessBatch([]Envelope{
		envelopeFor(testInstrumentID, 1, book.SideBuy, "100", "1"),
		envelopeFor(8, 2, book.SideBuy, "50", "1"),
		envelopeFor(testInstrumentID, 3, book.SideSell, "100", "1"),
	}))
	e.Shutdown()

	require.Len(t, e.processors, 2)
	// Orders 1 and 3 crossed on instrument 7; order 2 rests on 8.
	assert.Equal(t, uint64(2), e.processors[testInstrumentID].LastSeq())
	assert.Equal(t, 0, e.processors[testInstrumentID].Book().OpenOrderCount())
	assert.Equal(t, uint64(1), e.processors[8].LastSeq())
	assert.True(t, e.processors[8].Book().Resting(2))
}

func TestEngine_RecoverExistingBringsUpLanes(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, dir)
	partition := int32(1)
	offset := int64(5)
	env := envelopeFor(testInstrumentID, 1, book.SideBuy, "100", "1")
	env.Partition, env.Offset = &partition, &offset
	require.NoError(t, e.ProcessBatch([]Envelope{env}))
	e.Shutdown()

	restarted := newTestEngine(t, dir)
	require.NoError(t, restarted.RecoverExisting())
	defer restarted.Shutdown()

	require.Len(t, restarted.processors, 1)
	assert.Equal(t, uint64(1), restarted.processors[testInstrumentID].LastSeq())
	assert.Equal(t, int64(5), restarted.OffsetForPartition(1))
	assert.Equal(t, int64(-1), restarted.OffsetForPartition(0))
}

func TestEngine_RecoverExistingEmptyDir(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	require.NoError(t, e.RecoverExisting())
	assert.Empty(t, e.processors)

	// A missing directory is a cold start, not an error.
	missing := newTestEngine(t, t.TempDir()+"/nope")
	require.NoError(t, missing.RecoverExisting())
}

func TestEngine_OffsetAcrossLanes(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, dir)
	defer e.Shutdown()

	partition := int32(0)
	low, high := int64(3), int64(9)
	envA := envelopeFor(testInstrumentID, 1, book.SideBuy, "100", "1")
	envA.Partition, envA.Offset = &partition, &low
	envB := envelopeFor(8, 2, book.SideBuy, "50", "1")
	envB.Partition, envB.Offset = &partition, &high
	require.NoError(t, e.ProcessBatch([]Envelope{envA, envB}))

	// Wait for both lanes to drain.
	require.Eventually(t, func() bool {
		return e.OffsetForPartition(0) == high
	}, 2*time.Second, 10*time.Millisecond)
}
