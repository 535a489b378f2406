package settlement

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Store persists engine-owned state: order statuses, offerer counters and
// contract offerer nonces. Reads return committed values; Commit applies a
// changeset atomically.
type Store interface {
	LoadOrderStatus(hash common.Hash) (OrderStatus, bool, error)
	LoadCounter(offerer common.Address) (*big.Int, error)
	LoadContractNonce(offerer common.Address) (*big.Int, error)
	Commit(cs *Changeset) error
}

// Changeset is the set of writes produced by one entry point call.
type Changeset struct {
	Statuses map[common.Hash]OrderStatus
	Counters map[common.Address]*big.Int
	Nonces   map[common.Address]*big.Int
}

func NewChangeset() *Changeset {
	return &Changeset{
		Statuses: make(map[common.Hash]OrderStatus),
		Counters: make(map[common.Address]*big.Int),
		Nonces:   make(map[common.Address]*big.Int),
	}
}

// Empty reports whether the changeset has no writes.
func (cs *Changeset) Empty() bool {
	return len(cs.Statuses) == 0 && len(cs.Counters) == 0 && len(cs.Nonces) == 0
}

// txn overlays uncommitted writes on a Store for the duration of a call.
type txn struct {
	store Store
	cs    *Changeset
}

func newTxn(store Store) *txn {
	return &txn{store: store, cs: NewChangeset()}
}

func (t *txn) status(hash common.Hash) (OrderStatus, error) {
	if st, ok := t.cs.Statuses[hash]; ok {
		return st.Copy(), nil
	}
	st, ok, err := t.store.LoadOrderStatus(hash)
	if err != nil {
		return OrderStatus{}, err
	}
	if !ok {
		return NewOrderStatus(), nil
	}
	return st.Copy(), nil
}

func (t *txn) setStatus(hash common.Hash, st OrderStatus) {
	t.cs.Statuses[hash] = st.Copy()
}

func (t *txn) counter(offerer common.Address) (*big.Int, error) {
	if c, ok := t.cs.Counters[offerer]; ok {
		return new(big.Int).Set(c), nil
	}
	c, err := t.store.LoadCounter(offerer)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(bigOrZero(c)), nil
}

func (t *txn) setCounter(offerer common.Address, v *big.Int) {
	t.cs.Counters[offerer] = new(big.Int).Set(v)
}

func (t *txn) nonce(offerer common.Address) (*big.Int, error) {
	if n, ok := t.cs.Nonces[offerer]; ok {
		return new(big.Int).Set(n), nil
	}
	n, err := t.store.LoadContractNonce(offerer)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(bigOrZero(n)), nil
}

func (t *txn) setNonce(offerer common.Address, v *big.Int) {
	t.cs.Nonces[offerer] = new(big.Int).Set(v)
}
