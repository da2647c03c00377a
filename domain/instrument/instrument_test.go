package instrument

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validInstrument() Instrument {
	return Instrument{
		InstrumentID: 7,
		Symbol:       "BTC-USDT",
		QuoteAsset:   "USDT",
		MakerFeeRate: decimal.RequireFromString("0.001"),
		TakerFeeRate: decimal.RequireFromString("0.002"),
		ContractSize: decimal.NewFromInt(1),
	}
}

func TestCache_PutGet(t *testing.T) {
	c := NewCache()
	require.NoError(t, c.Put(validInstrument()))

	got, err := c.Get(7)
	require.NoError(t, err)
	assert.Equal(t, "USDT", got.QuoteAsset)

	_, err = c.Get(99)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCache_RejectsIncompleteMetadata(t *testing.T) {
	cases := map[string]func(i *Instrument){
		"missing quote asset":   func(i *Instrument) { i.QuoteAsset = "" },
		"zero contract size":    func(i *Instrument) { i.ContractSize = decimal.Zero },
		"negative maker fee":    func(i *Instrument) { i.MakerFeeRate = decimal.NewFromInt(-1) },
		"non-positive id":       func(i *Instrument) { i.InstrumentID = 0 },
		"negative contractSize": func(i *Instrument) { i.ContractSize = decimal.NewFromInt(-2) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := NewCache()
			inst := validInstrument()
			mutate(&inst)
			require.ErrorIs(t, c.Put(inst), ErrIncomplete)
			assert.Equal(t, 0, c.Len())
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "instruments.json")
	doc := `[
	  {"instrumentId": 7, "symbol": "BTC-USDT", "quoteAsset": "USDT",
	   "makerFeeRate": "0.001", "takerFeeRate": "0.002", "contractSize": "1"},
	  {"instrumentId": 8, "symbol": "ETH-USDT", "quoteAsset": "USDT",
	   "makerFeeRate": "0", "takerFeeRate": "0", "contractSize": "0.1"}
	]`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	instruments, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, instruments, 2)
	assert.Equal(t, int64(8), instruments[1].InstrumentID)
	assert.True(t, instruments[1].ContractSize.Equal(decimal.RequireFromString("0.1")))

	c := NewCache()
	require.NoError(t, c.PutAll(instruments))
	assert.Equal(t, 2, c.Len())
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}
