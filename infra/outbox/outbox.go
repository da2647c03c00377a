package outbox

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

// State tracks an event through publication.
type State uint8

const (
	StatePending State = iota
	StateSent
	StateAcked
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	default:
		return "UNKNOWN"
	}
}

// Record is one enqueued outbound event.
type Record struct {
	InstrumentID int64
	Seq          uint64
	State        State
	Retries      uint32
	LastAttempt  int64
	Payload      []byte
}

// value encoding: [state:1][retries:4][lastAttempt:8][payload]
const headerLen = 1 + 4 + 8

func encodeValue(r *Record) []byte {
	buf := make([]byte, headerLen+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	copy(buf[headerLen:], r.Payload)
	return buf
}

func decodeValue(b []byte, r *Record) error {
	if len(b) < headerLen {
		return errors.New("outbox: record too short")
	}
	r.State = State(b[0])
	r.Retries = binary.BigEndian.Uint32(b[1:5])
	r.LastAttempt = int64(binary.BigEndian.Uint64(b[5:13]))
	r.Payload = append([]byte(nil), b[headerLen:]...)
	return nil
}

// Journal is the durable publish queue between the matching lanes and
// the bus. Lanes enqueue one record per applied WAL entry; the
// broadcaster drains pending records and marks them acked once the
// broker confirms. Records survive restarts, so event publication is
// at-least-once and consumers dedupe by (instrumentId, seq).
type Journal struct {
	db *pebble.DB
}

func Open(dir string) (*Journal, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("outbox: open %s: %w", dir, err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Enqueue records a new pending event. Enqueueing a seq that already
// exists is a no-op, which makes recovery reconciliation idempotent.
func (j *Journal) Enqueue(instrumentID int64, seq uint64, payload []byte) error {
	key := keyFor(instrumentID, seq)
	if _, closer, err := j.db.Get(key); err == nil {
		closer.Close()
		return nil
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("outbox: lookup: %w", err)
	}
	rec := &Record{
		InstrumentID: instrumentID,
		Seq:          seq,
		State:        StatePending,
		Payload:      payload,
	}
	if err := j.db.Set(key, encodeValue(rec), pebble.Sync); err != nil {
		return fmt.Errorf("outbox: enqueue seq %d: %w", seq, err)
	}
	return nil
}

// Seen reports whether the journal holds a record for this sequence,
// in any state.
func (j *Journal) Seen(instrumentID int64, seq uint64) bool {
	_, closer, err := j.db.Get(keyFor(instrumentID, seq))
	if err != nil {
		return false
	}
	closer.Close()
	return true
}

func (j *Journal) MarkSent(instrumentID int64, seq uint64) error {
	return j.transition(instrumentID, seq, StateSent, true)
}

func (j *Journal) MarkAcked(instrumentID int64, seq uint64) error {
	return j.transition(instrumentID, seq, StateAcked, false)
}

func (j *Journal) transition(instrumentID int64, seq uint64, state State, countAttempt bool) error {
	key := keyFor(instrumentID, seq)
	val, closer, err := j.db.Get(key)
	if err != nil {
		return fmt.Errorf("outbox: mark %s seq %d: %w", state, seq, err)
	}
	var rec Record
	decodeErr := decodeValue(val, &rec)
	closer.Close()
	if decodeErr != nil {
		return decodeErr
	}
	rec.State = state
	rec.LastAttempt = time.Now().UnixNano()
	if countAttempt {
		rec.Retries++
	}
	if err := j.db.Set(key, encodeValue(&rec), pebble.Sync); err != nil {
		return fmt.Errorf("outbox: mark %s seq %d: %w", state, seq, err)
	}
	return nil
}

// ScanUnacked visits every record not yet acked, oldest first per
// instrument. Records stuck in SENT are revisited: a crash between
// publish and ack means the event may or may not have reached the
// broker, and re-publishing is the safe side of at-least-once.
func (j *Journal) ScanUnacked(fn func(rec *Record) error) error {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return fmt.Errorf("outbox: iter: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var rec Record
		if err := decodeValue(iter.Value(), &rec); err != nil {
			return err
		}
		if rec.State == StateAcked {
			continue
		}
		instrumentID, seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		rec.InstrumentID = instrumentID
		rec.Seq = seq
		if err := fn(&rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

// PurgeAcked deletes acked records up to and including seq for one
// instrument. Called after a snapshot bounds recovery for that range.
func (j *Journal) PurgeAcked(instrumentID int64, upToSeq uint64) error {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(fmt.Sprintf("%s%020d/", keyPrefix, instrumentID)),
		UpperBound: keyFor(instrumentID, upToSeq+1),
	})
	if err != nil {
		return fmt.Errorf("outbox: iter: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var rec Record
		if err := decodeValue(iter.Value(), &rec); err != nil {
			return err
		}
		if rec.State != StateAcked {
			continue
		}
		key := append([]byte(nil), iter.Key()...)
		if err := j.db.Delete(key, pebble.NoSync); err != nil {
			return fmt.Errorf("outbox: purge: %w", err)
		}
	}
	return iter.Error()
}

const keyPrefix = "event/"

func keyFor(instrumentID int64, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d/%020d", keyPrefix, instrumentID, seq))
}

func parseKey(key []byte) (int64, uint64, error) {
	var instrumentID int64
	var seq uint64
	if _, err := fmt.Sscanf(string(key), keyPrefix+"%d/%d", &instrumentID, &seq); err != nil {
		return 0, 0, fmt.Errorf("outbox: bad key %q: %w", key, err)
	}
	return instrumentID, seq, nil
}
