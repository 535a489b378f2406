package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperport/pkg/settlement"
)

// PebbleStore persists order statuses, counters and contract nonces, and
// keeps an append-only log of settlement events.
type PebbleStore struct {
	db     *pebble.DB
	logger *zap.Logger

	mu      sync.Mutex // guards nextSeq
	nextSeq uint64
}

// NewPebbleStore opens a Pebble database at the given path
func NewPebbleStore(path string, logger *zap.Logger) (*PebbleStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}
	defer opts.Cache.Unref()

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	s := &PebbleStore{db: db, logger: logger.Named("store")}
	if s.nextSeq, err = s.lastSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) lastSeq() (uint64, error) {
	prefix := []byte(prefixEvent)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to open event iterator: %w", err)
	}
	defer iter.Close()
	if !iter.Last() {
		return 0, nil
	}
	return eventSeq(iter.Key()) + 1, nil
}

func (s *PebbleStore) get(key []byte) ([]byte, bool, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), true, nil
}

func (s *PebbleStore) LoadOrderStatus(hash common.Hash) (settlement.OrderStatus, bool, error) {
	val, ok, err := s.get(statusKey(hash))
	if err != nil {
		return settlement.OrderStatus{}, false, fmt.Errorf("failed to get order status: %w", err)
	}
	if !ok {
		return settlement.OrderStatus{}, false, nil
	}
	st, err := decodeStatus(val)
	if err != nil {
		return settlement.OrderStatus{}, false, fmt.Errorf("failed to unmarshal order status: %w", err)
	}
	return st, true, nil
}

func (s *PebbleStore) LoadCounter(offerer common.Address) (*big.Int, error) {
	return s.loadBig(counterKey(offerer))
}

func (s *PebbleStore) LoadContractNonce(offerer common.Address) (*big.Int, error) {
	return s.loadBig(nonceKey(offerer))
}

func (s *PebbleStore) loadBig(key []byte) (*big.Int, error) {
	val, ok, err := s.get(key)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if !ok {
		return new(big.Int), nil
	}
	return decodeBig(val)
}

// Commit writes the changeset in a single synced batch.
func (s *PebbleStore) Commit(cs *settlement.Changeset) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for h, st := range cs.Statuses {
		val, err := encodeStatus(st)
		if err != nil {
			return fmt.Errorf("failed to marshal order status: %w", err)
		}
		if err := batch.Set(statusKey(h), val, nil); err != nil {
			return err
		}
	}
	for addr, c := range cs.Counters {
		if err := batch.Set(counterKey(addr), encodeBig(c), nil); err != nil {
			return err
		}
	}
	for addr, n := range cs.Nonces {
		if err := batch.Set(nonceKey(addr), encodeBig(n), nil); err != nil {
			return err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit changeset: %w", err)
	}
	return nil
}

// Publish appends events to the event log. Failures are logged; the
// settlement they describe has already committed.
func (s *PebbleStore) Publish(events []settlement.Event) {
	if len(events) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()
	seq := s.nextSeq
	for _, ev := range events {
		rec, err := newEventRecord(seq, ev)
		if err != nil {
			s.logger.Error("encode event", zap.Error(err))
			return
		}
		val, err := json.Marshal(rec)
		if err != nil {
			s.logger.Error("encode event", zap.Error(err))
			return
		}
		if err := batch.Set(eventKey(seq), val, nil); err != nil {
			s.logger.Error("append event", zap.Error(err))
			return
		}
		seq++
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		s.logger.Error("append events", zap.Int("count", len(events)), zap.Error(err))
		return
	}
	s.nextSeq = seq
}

// Events returns up to limit events with sequence >= from. limit <= 0 means
// no limit.
func (s *PebbleStore) Events(from uint64, limit int) ([]EventRecord, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: eventKey(from),
		UpperBound: keyUpperBound([]byte(prefixEvent)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open event iterator: %w", err)
	}
	defer iter.Close()

	var out []EventRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var rec EventRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event %d: %w", eventSeq(iter.Key()), err)
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

var (
	_ settlement.Store     = (*PebbleStore)(nil)
	_ settlement.EventSink = (*PebbleStore)(nil)
)
