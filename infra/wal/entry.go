package wal

import (
	"time"

	"matchd/domain/book"
)

// Entry is one durable matching decision. Entries are append-only and
// immutable: sequence numbers are gapless and start at 1 per
// instrument. Partition and Offset correlate the entry with the
// upstream bus position that delivered the taker order; they are nil
// for orders that arrived outside the bus.
type Entry struct {
	Seq           uint64              `json:"seq"`
	Partition     *int32              `json:"partition"`
	Offset        *int64              `json:"offset"`
	MatchResult   *book.MatchResult   `json:"matchResult"`
	DepthSnapshot *book.DepthSnapshot `json:"depthSnapshot"`
	AppendedAt    time.Time           `json:"appendedAt"`
}

// AppendRequest carries one match result into Append.
type AppendRequest struct {
	Result    *book.MatchResult
	Depth     *book.DepthSnapshot
	Partition *int32
	Offset    *int64
}
