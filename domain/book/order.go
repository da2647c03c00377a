package book

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderType string

const (
	TypeLimit  OrderType = "LIMIT"
	TypeMarket OrderType = "MARKET"
)

var ErrMalformedOrder = errors.New("malformed order")

// Order is a single matching instruction. Quantity is the mutable
// remaining amount; OriginalQuantity never changes after acceptance.
type Order struct {
	OrderID          int64            `json:"orderId"`
	UserID           int64            `json:"userId"`
	InstrumentID     int64            `json:"instrumentId"`
	ClientOrderID    string           `json:"clientOrderId,omitempty"`
	Side             Side             `json:"side"`
	Type             OrderType        `json:"type"`
	Price            *decimal.Decimal `json:"price,omitempty"`
	Quantity         decimal.Decimal  `json:"quantity"`
	OriginalQuantity decimal.Decimal  `json:"originalQuantity"`
	SubmittedAt      time.Time        `json:"submittedAt"`
}

func (o *Order) IsBuy() bool {
	return o.Side == SideBuy
}

// Validate rejects orders that must never reach the matching loop.
func (o *Order) Validate() error {
	if o == nil {
		return fmt.Errorf("%w: nil order", ErrMalformedOrder)
	}
	if o.OrderID <= 0 {
		return fmt.Errorf("%w: orderId %d", ErrMalformedOrder, o.OrderID)
	}
	if o.Side != SideBuy && o.Side != SideSell {
		return fmt.Errorf("%w: side %q", ErrMalformedOrder, o.Side)
	}
	if o.Type != TypeLimit && o.Type != TypeMarket {
		return fmt.Errorf("%w: type %q", ErrMalformedOrder, o.Type)
	}
	if o.Quantity.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: quantity %s", ErrMalformedOrder, o.Quantity)
	}
	if o.Type == TypeLimit {
		if o.Price == nil || o.Price.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("%w: limit order %d without positive price", ErrMalformedOrder, o.OrderID)
		}
	}
	return nil
}
