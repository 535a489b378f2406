package storage

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperport/pkg/settlement"
)

type MemoryStore struct {
	mu       sync.Mutex
	statuses map[common.Hash]settlement.OrderStatus
	counters map[common.Address]*big.Int
	nonces   map[common.Address]*big.Int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		statuses: make(map[common.Hash]settlement.OrderStatus),
		counters: make(map[common.Address]*big.Int),
		nonces:   make(map[common.Address]*big.Int),
	}
}

func (s *MemoryStore) LoadOrderStatus(h common.Hash) (settlement.OrderStatus, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[h]
	if !ok {
		return settlement.OrderStatus{}, false, nil
	}
	return st.Copy(), true, nil
}

func (s *MemoryStore) LoadCounter(addr common.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyBig(s.counters[addr]), nil
}

func (s *MemoryStore) LoadContractNonce(addr common.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyBig(s.nonces[addr]), nil
}

func (s *MemoryStore) Commit(cs *settlement.Changeset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, st := range cs.Statuses {
		s.statuses[h] = st.Copy()
	}
	for addr, c := range cs.Counters {
		s.counters[addr] = copyBig(c)
	}
	for addr, n := range cs.Nonces {
		s.nonces[addr] = copyBig(n)
	}
	return nil
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

var _ settlement.Store = (*MemoryStore)(nil)
