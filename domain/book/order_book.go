package book

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"matchd/domain/instrument"
)

// priceLevel is a FIFO queue of resting order ids at one price. The
// queue stores ids only; the book owns the order records in its index.
type priceLevel struct {
	price decimal.Decimal
	queue []int64
}

// OrderBook is the price-time-priority index of resting orders for one
// instrument. It is single-writer: the owning lane's worker is the only
// goroutine that touches it, so no locking is needed.
type OrderBook struct {
	instrumentID int64
	meta         *instrument.Cache

	bids *btree.BTreeG[*priceLevel] // best (highest) price first
	asks *btree.BTreeG[*priceLevel] // best (lowest) price first

	orders    map[int64]*Order
	processed *processedSet
}

func NewOrderBook(instrumentID int64, meta *instrument.Cache, processedCapacity int) *OrderBook {
	return &OrderBook{
		instrumentID: instrumentID,
		meta:         meta,
		bids: btree.NewBTreeG(func(a, b *priceLevel) bool {
			return a.price.GreaterThan(b.price)
		}),
		asks: btree.NewBTreeG(func(a, b *priceLevel) bool {
			return a.price.LessThan(b.price)
		}),
		orders:    make(map[int64]*Order, 1024),
		processed: newProcessedSet(processedCapacity),
	}
}

// Match computes the result of crossing taker against resting liquidity.
// It mutates nothing; the result takes effect only through Apply, after
// the WAL has made it durable. The only error condition is missing or
// incomplete instrument metadata, which is fatal for the order.
func (b *OrderBook) Match(taker *Order) (*MatchResult, error) {
	result := &MatchResult{TakerOrder: taker}
	remaining := taker.Quantity
	opposing := b.asks
	if !taker.IsBuy() {
		opposing = b.bids
	}

	var (
		inst     instrument.Instrument
		haveInst bool
		matchErr error
	)
	now := time.Now()

	opposing.Scan(func(level *priceLevel) bool {
		if remaining.LessThanOrEqual(decimal.Zero) || !b.crossed(taker, level.price) {
			return false
		}
		for _, makerID := range level.queue {
			if remaining.LessThanOrEqual(decimal.Zero) {
				break
			}
			maker, ok := b.orders[makerID]
			if !ok {
				continue
			}
			fill := decimal.Min(remaining, maker.Quantity)

			if !haveInst {
				inst, matchErr = b.meta.Get(b.instrumentID)
				if matchErr != nil {
					return false
				}
				haveInst = true
			}
			result.Trades = append(result.Trades, buildTrade(taker, maker, inst, level.price, fill, now))

			makerRemaining := maker.Quantity.Sub(fill)
			if makerRemaining.IsNegative() {
				makerRemaining = decimal.Zero
			}
			result.Updates = append(result.Updates, OrderUpdate{
				OrderID:   maker.OrderID,
				Remaining: makerRemaining,
				Role:      RoleMaker,
			})
			remaining = remaining.Sub(fill)
		}
		return true
	})
	if matchErr != nil {
		return nil, fmt.Errorf("match order %d: %w", taker.OrderID, matchErr)
	}

	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	result.Updates = append(result.Updates, OrderUpdate{
		OrderID:   taker.OrderID,
		Remaining: remaining,
		Role:      RoleTaker,
	})
	return result, nil
}

// Apply mutates the book according to a match result. It must run only
// after the result is durably logged. Updates carry absolute remaining
// quantities, so re-applying the same result during replay converges on
// the same state.
func (b *OrderBook) Apply(result *MatchResult) {
	for _, update := range result.Updates {
		switch update.Role {
		case RoleTaker:
			taker := result.TakerOrder
			// A market order with leftover quantity is dropped, never
			// rested: market orders take liquidity, they do not quote.
			if update.Remaining.GreaterThan(decimal.Zero) && taker.Type == TypeLimit && taker.Price != nil {
				taker.Quantity = update.Remaining
				b.Insert(taker)
			}
		case RoleMaker:
			maker, ok := b.orders[update.OrderID]
			if !ok {
				continue
			}
			maker.Quantity = update.Remaining
			if maker.Quantity.LessThanOrEqual(decimal.Zero) {
				b.remove(maker)
			}
		}
	}
}

// Insert rests an order at the tail of its side/price queue.
func (b *OrderBook) Insert(order *Order) {
	tree := b.asks
	if order.IsBuy() {
		tree = b.bids
	}
	probe := &priceLevel{price: *order.Price}
	level, ok := tree.Get(probe)
	if !ok {
		level = probe
		tree.Set(level)
	}
	level.queue = append(level.queue, order.OrderID)
	b.orders[order.OrderID] = order
}

// Restore re-inserts an order during snapshot or WAL recovery. Callers
// must feed orders in their original resting order to preserve time
// priority.
func (b *OrderBook) Restore(order *Order) {
	b.Insert(order)
}

func (b *OrderBook) remove(order *Order) {
	tree := b.asks
	if order.IsBuy() {
		tree = b.bids
	}
	delete(b.orders, order.OrderID)
	if order.Price == nil {
		return
	}
	level, ok := tree.Get(&priceLevel{price: *order.Price})
	if !ok {
		return
	}
	kept := level.queue[:0]
	for _, id := range level.queue {
		if id != order.OrderID {
			kept = append(kept, id)
		}
	}
	level.queue = kept
	if len(level.queue) == 0 {
		tree.Delete(level)
	}
}

// Depth aggregates the top price levels per side. Zero-quantity levels
// are omitted. It is an outward-facing artifact only.
func (b *OrderBook) Depth(depth int) *DepthSnapshot {
	snap := &DepthSnapshot{
		InstrumentID: b.instrumentID,
		Bids:         b.topLevels(b.bids, depth),
		Asks:         b.topLevels(b.asks, depth),
		CapturedAt:   time.Now(),
	}
	if len(snap.Bids) > 0 {
		best := snap.Bids[0].Price
		snap.BestBid = &best
	}
	if len(snap.Asks) > 0 {
		best := snap.Asks[0].Price
		snap.BestAsk = &best
	}
	if snap.BestBid != nil && snap.BestAsk != nil {
		mid := snap.BestBid.Add(*snap.BestAsk).Div(decimal.NewFromInt(2))
		snap.Mid = &mid
	}
	return snap
}

func (b *OrderBook) topLevels(tree *btree.BTreeG[*priceLevel], depth int) []DepthLevel {
	levels := make([]DepthLevel, 0, depth)
	tree.Scan(func(level *priceLevel) bool {
		if len(levels) >= depth {
			return false
		}
		total := decimal.Zero
		for _, id := range level.queue {
			if o, ok := b.orders[id]; ok {
				total = total.Add(o.Quantity)
			}
		}
		if total.GreaterThan(decimal.Zero) {
			levels = append(levels, DepthLevel{Price: level.price, Quantity: total})
		}
		return true
	})
	return levels
}

// DumpOpenOrders lists every resting order, bids first (best price to
// worst, FIFO within a price), then asks, so a restore in the same
// order reproduces time priority exactly.
func (b *OrderBook) DumpOpenOrders() []*Order {
	orders := make([]*Order, 0, len(b.orders))
	for _, tree := range []*btree.BTreeG[*priceLevel]{b.bids, b.asks} {
		tree.Scan(func(level *priceLevel) bool {
			for _, id := range level.queue {
				if o, ok := b.orders[id]; ok {
					orders = append(orders, o)
				}
			}
			return true
		})
	}
	return orders
}

// OpenOrderCount reports how many orders are resting.
func (b *OrderBook) OpenOrderCount() int {
	return len(b.orders)
}

// Resting reports whether an order id currently rests in the book.
func (b *OrderBook) Resting(orderID int64) bool {
	_, ok := b.orders[orderID]
	return ok
}

func (b *OrderBook) AlreadyProcessed(orderID int64) bool {
	return b.processed.Contains(orderID)
}

func (b *OrderBook) MarkProcessed(orderID int64) {
	b.processed.Mark(orderID)
}

func (b *OrderBook) DumpProcessedIDs() []int64 {
	return b.processed.Dump()
}

func (b *OrderBook) RestoreProcessedIDs(orderIDs []int64) {
	b.processed.Restore(orderIDs)
}

func (b *OrderBook) crossed(taker *Order, levelPrice decimal.Decimal) bool {
	if taker.Price == nil {
		return true
	}
	if taker.IsBuy() {
		return taker.Price.GreaterThanOrEqual(levelPrice)
	}
	return taker.Price.LessThanOrEqual(levelPrice)
}

func buildTrade(taker, maker *Order, inst instrument.Instrument, price, quantity decimal.Decimal, executedAt time.Time) Trade {
	totalValue := price.Mul(quantity)
	return Trade{
		TradeID:      uuid.New(),
		InstrumentID: taker.InstrumentID,
		QuoteAsset:   inst.QuoteAsset,
		MakerUserID:  maker.UserID,
		TakerUserID:  taker.UserID,
		MakerOrderID: maker.OrderID,
		TakerOrderID: taker.OrderID,
		Price:        price,
		Quantity:     quantity,
		TotalValue:   totalValue,
		MakerFee:     totalValue.Mul(inst.MakerFeeRate),
		TakerFee:     totalValue.Mul(inst.TakerFeeRate),
		ExecutedAt:   executedAt,
	}
}
