package book

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Trade is the immutable record of one fill. The execution price is
// always the maker's resting price.
type Trade struct {
	TradeID      uuid.UUID       `json:"tradeId"`
	InstrumentID int64           `json:"instrumentId"`
	QuoteAsset   string          `json:"quoteAsset"`
	MakerUserID  int64           `json:"makerUserId"`
	TakerUserID  int64           `json:"takerUserId"`
	MakerOrderID int64           `json:"makerOrderId"`
	TakerOrderID int64           `json:"takerOrderId"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	TotalValue   decimal.Decimal `json:"totalValue"`
	MakerFee     decimal.Decimal `json:"makerFee"`
	TakerFee     decimal.Decimal `json:"takerFee"`
	ExecutedAt   time.Time       `json:"executedAt"`
}

// UpdateRole discriminates who an OrderUpdate belongs to.
type UpdateRole string

const (
	RoleMaker UpdateRole = "MAKER"
	RoleTaker UpdateRole = "TAKER"
)

// OrderUpdate instructs apply() to set an order's remaining quantity
// to an absolute value. Absolute quantities keep replay idempotent.
type OrderUpdate struct {
	OrderID   int64           `json:"orderId"`
	Remaining decimal.Decimal `json:"remainingQuantity"`
	Role      UpdateRole      `json:"role"`
}

// MatchResult is the aggregate outcome of matching one taker order.
// It has no side effects until applied to the book.
type MatchResult struct {
	TakerOrder *Order        `json:"takerOrder"`
	Trades     []Trade       `json:"trades"`
	Updates    []OrderUpdate `json:"updates"`
}

// FilledQuantity is the total quantity traded by the taker.
func (r *MatchResult) FilledQuantity() decimal.Decimal {
	total := decimal.Zero
	for _, t := range r.Trades {
		total = total.Add(t.Quantity)
	}
	return total
}

// TakerRemaining returns the taker's remaining quantity after the match.
func (r *MatchResult) TakerRemaining() decimal.Decimal {
	for _, u := range r.Updates {
		if u.Role == RoleTaker {
			return u.Remaining
		}
	}
	return decimal.Zero
}
