package book

import "container/list"

// DefaultProcessedCapacity bounds the duplicate-suppression set.
const DefaultProcessedCapacity = 1_000_000

// processedSet is a bounded, recency-ordered set of order ids. Marking
// an id refreshes its recency; the least recently seen id is evicted
// once the capacity is exceeded. Not safe for concurrent use: it is
// owned by the lane's single worker, like the book itself.
type processedSet struct {
	capacity int
	order    *list.List // front = least recent
	index    map[int64]*list.Element
}

func newProcessedSet(capacity int) *processedSet {
	if capacity <= 0 {
		capacity = DefaultProcessedCapacity
	}
	return &processedSet{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[int64]*list.Element, 1024),
	}
}

func (s *processedSet) Contains(orderID int64) bool {
	el, ok := s.index[orderID]
	if ok {
		s.order.MoveToBack(el)
	}
	return ok
}

func (s *processedSet) Mark(orderID int64) {
	if el, ok := s.index[orderID]; ok {
		s.order.MoveToBack(el)
		return
	}
	s.index[orderID] = s.order.PushBack(orderID)
	for s.order.Len() > s.capacity {
		eldest := s.order.Front()
		s.order.Remove(eldest)
		delete(s.index, eldest.Value.(int64))
	}
}

// Dump returns all ids from least to most recent, so a restore replays
// them in the same recency order.
func (s *processedSet) Dump() []int64 {
	out := make([]int64, 0, s.order.Len())
	for el := s.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(int64))
	}
	return out
}

func (s *processedSet) Restore(orderIDs []int64) {
	for _, id := range orderIDs {
		s.Mark(id)
	}
}

func (s *processedSet) Len() int {
	return s.order.Len()
}
