package snapshot

import (
	"time"

	"matchd/domain/book"
)

// State is a full checkpoint of one instrument's book, consistent with
// WAL sequence LastSeq. Open orders are listed bids first then asks, in
// resting order, so restoring them in sequence reproduces time
// priority. PartitionOffsets records the highest upstream bus offset
// folded into the checkpoint per partition, for consumer repositioning.
type State struct {
	LastSeq           uint64          `json:"lastSeq"`
	OpenOrders        []*book.Order   `json:"openOrders"`
	ProcessedOrderIDs []int64         `json:"processedOrderIds"`
	PartitionOffsets  map[int32]int64 `json:"partitionOffsets,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
}
