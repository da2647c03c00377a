package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"matchd/domain/book"
)

// DefaultInterval is how many WAL sequences may pass between
// checkpoints.
const DefaultInterval = 1000

// FileName returns the snapshot file name for an instrument.
func FileName(instrumentID int64) string {
	return fmt.Sprintf("snapshot-%d.json", instrumentID)
}

// Store checkpoints one instrument's book to bound WAL replay on
// recovery. Writes are atomic: the state is written to a temp file,
// synced, then renamed over the previous snapshot, so a crash mid-write
// leaves the old checkpoint intact.
type Store struct {
	instrumentID int64
	path         string
	interval     uint64
	lastSnapSeq  uint64
	log          *zap.Logger
}

func NewStore(dir string, instrumentID int64, interval uint64, log *zap.Logger) *Store {
	if interval == 0 {
		interval = DefaultInterval
	}
	return &Store{
		instrumentID: instrumentID,
		path:         filepath.Join(dir, FileName(instrumentID)),
		interval:     interval,
		log:          log.Named("snapshot").With(zap.Int64("instrumentId", instrumentID)),
	}
}

// Load returns the persisted checkpoint, or nil on cold start. A
// snapshot that exists but cannot be parsed is an error: recovery must
// not silently fall back to a full replay against a half-read state.
func (s *Store) Load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("snapshot: read %s: %w", s.path, err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("snapshot: parse %s: %w", s.path, err)
	}
	s.lastSnapSeq = state.LastSeq
	return &state, nil
}

// MaybeSnapshot checkpoints only when currentSeq has advanced at least
// the configured interval past the last checkpoint.
func (s *Store) MaybeSnapshot(currentSeq uint64, b *book.OrderBook, offsets map[int32]int64) error {
	if currentSeq < s.lastSnapSeq+s.interval {
		return nil
	}
	return s.WriteSnapshot(currentSeq, b, offsets)
}

// WriteSnapshot captures and persists the full book state. The
// in-memory marker advances only after the file is durably in place.
func (s *Store) WriteSnapshot(currentSeq uint64, b *book.OrderBook, offsets map[int32]int64) error {
	state := State{
		LastSeq:           currentSeq,
		OpenOrders:        b.DumpOpenOrders(),
		ProcessedOrderIDs: b.DumpProcessedIDs(),
		PartitionOffsets:  offsets,
		CreatedAt:         time.Now(),
	}
	data, err := json.MarshalIndent(&state, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("snapshot: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), FileName(s.instrumentID)+".tmp-")
	if err != nil {
		return fmt.Errorf("snapshot: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("snapshot: replace %s: %w", s.path, err)
	}

	s.lastSnapSeq = currentSeq
	s.log.Info("snapshot written",
		zap.Uint64("lastSeq", currentSeq),
		zap.Int("openOrders", len(state.OpenOrders)))
	return nil
}

// LastSnapshotSeq reports the sequence of the newest durable snapshot.
func (s *Store) LastSnapshotSeq() uint64 {
	return s.lastSnapSeq
}
