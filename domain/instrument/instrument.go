package instrument

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound   = errors.New("instrument not found")
	ErrIncomplete = errors.New("instrument metadata incomplete")
)

// Instrument is the read-only metadata the matching core consumes.
type Instrument struct {
	InstrumentID int64           `json:"instrumentId"`
	Symbol       string          `json:"symbol"`
	QuoteAsset   string          `json:"quoteAsset"`
	MakerFeeRate decimal.Decimal `json:"makerFeeRate"`
	TakerFeeRate decimal.Decimal `json:"takerFeeRate"`
	ContractSize decimal.Decimal `json:"contractSize"`
}

func (i Instrument) validate() error {
	if i.InstrumentID <= 0 {
		return fmt.Errorf("%w: instrumentId %d", ErrIncomplete, i.InstrumentID)
	}
	if i.QuoteAsset == "" {
		return fmt.Errorf("%w: instrument %d has no quote asset", ErrIncomplete, i.InstrumentID)
	}
	if i.ContractSize.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: instrument %d contractSize %s", ErrIncomplete, i.InstrumentID, i.ContractSize)
	}
	if i.MakerFeeRate.IsNegative() || i.TakerFeeRate.IsNegative() {
		return fmt.Errorf("%w: instrument %d has negative fee rate", ErrIncomplete, i.InstrumentID)
	}
	return nil
}

// Cache holds instrument metadata. It must be populated before any lane
// begins matching; lanes only ever read from it.
type Cache struct {
	mu   sync.RWMutex
	byID map[int64]Instrument
}

func NewCache() *Cache {
	return &Cache{byID: make(map[int64]Instrument)}
}

func (c *Cache) Put(inst Instrument) error {
	if err := inst.validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[inst.InstrumentID] = inst
	return nil
}

func (c *Cache) PutAll(instruments []Instrument) error {
	for _, inst := range instruments {
		if err := c.Put(inst); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) Get(instrumentID int64) (Instrument, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	inst, ok := c.byID[instrumentID]
	if !ok {
		return Instrument{}, fmt.Errorf("%w: %d", ErrNotFound, instrumentID)
	}
	return inst, nil
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

// LoadFile reads a JSON array of instruments, the bootstrap source when
// no admin service feeds the cache.
func LoadFile(path string) ([]Instrument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read instrument file: %w", err)
	}
	var instruments []Instrument
	if err := json.Unmarshal(data, &instruments); err != nil {
		return nil, fmt.Errorf("parse instrument file %s: %w", path, err)
	}
	return instruments, nil
}
