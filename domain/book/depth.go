package book

import (
	"time"

	"github.com/shopspring/decimal"
)

// DepthLevel is one aggregated price level of a depth snapshot.
type DepthLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// DepthSnapshot is the outward-facing top-of-book view emitted after
// every processed order. It plays no role in matching.
type DepthSnapshot struct {
	InstrumentID int64            `json:"instrumentId"`
	Bids         []DepthLevel     `json:"bids"`
	Asks         []DepthLevel     `json:"asks"`
	BestBid      *decimal.Decimal `json:"bestBid,omitempty"`
	BestAsk      *decimal.Decimal `json:"bestAsk,omitempty"`
	Mid          *decimal.Decimal `json:"mid,omitempty"`
	CapturedAt   time.Time        `json:"capturedAt"`
}
