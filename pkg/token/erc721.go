package token

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperport/pkg/chain"
)

type operatorKey struct {
	owner, operator common.Address
}

// ERC721 is a non-fungible token ledger.
type ERC721 struct {
	Name   string
	Symbol string

	state     *chain.State
	mu        sync.Mutex
	owners    map[string]common.Address
	approvals map[string]common.Address
	operators map[operatorKey]bool
}

func NewERC721(state *chain.State, name, symbol string) *ERC721 {
	return &ERC721{
		Name:      name,
		Symbol:    symbol,
		state:     state,
		owners:    make(map[string]common.Address),
		approvals: make(map[string]common.Address),
		operators: make(map[operatorKey]bool),
	}
}

func (t *ERC721) OwnerOf(id *big.Int) (common.Address, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	owner, ok := t.owners[idKey(id)]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s #%s", ErrNonexistentToken, t.Symbol, id)
	}
	return owner, nil
}

// BalanceOf counts the tokens held by owner.
func (t *ERC721) BalanceOf(owner common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := int64(0)
	for _, o := range t.owners {
		if o == owner {
			n++
		}
	}
	return big.NewInt(n)
}

func (t *ERC721) GetApproved(id *big.Int) common.Address {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.approvals[idKey(id)]
}

func (t *ERC721) IsApprovedForAll(owner, operator common.Address) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.operators[operatorKey{owner, operator}]
}

func setMapEntry[K comparable, V any](state *chain.State, mu *sync.Mutex, m map[K]V, k K, v V) {
	prev, existed := m[k]
	m[k] = v
	state.Record(func() {
		mu.Lock()
		defer mu.Unlock()
		if existed {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
}

func deleteMapEntry[K comparable, V any](state *chain.State, mu *sync.Mutex, m map[K]V, k K) {
	prev, existed := m[k]
	if !existed {
		return
	}
	delete(m, k)
	state.Record(func() {
		mu.Lock()
		defer mu.Unlock()
		m[k] = prev
	})
}

// Mint creates token id owned by to.
func (t *ERC721) Mint(to common.Address, id *big.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("mint: %w", ErrZeroAddress)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	k := idKey(id)
	if _, ok := t.owners[k]; ok {
		return fmt.Errorf("token %s #%s already minted", t.Symbol, id)
	}
	setMapEntry(t.state, &t.mu, t.owners, k, to)
	return nil
}

// Approve lets to transfer token id. caller must own it or be an operator.
func (t *ERC721) Approve(caller, to common.Address, id *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := idKey(id)
	owner, ok := t.owners[k]
	if !ok {
		return fmt.Errorf("%w: %s #%s", ErrNonexistentToken, t.Symbol, id)
	}
	if caller != owner && !t.operators[operatorKey{owner, caller}] {
		return fmt.Errorf("approve: %w", ErrNotApproved)
	}
	setMapEntry(t.state, &t.mu, t.approvals, k, to)
	return nil
}

// SetApprovalForAll grants or revokes operator rights over all of owner's tokens.
func (t *ERC721) SetApprovalForAll(owner, operator common.Address, approved bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	setMapEntry(t.state, &t.mu, t.operators, operatorKey{owner, operator}, approved)
}

// TransferFrom moves token id; operator must be the owner, the approved
// address or an approved operator.
func (t *ERC721) TransferFrom(operator, from, to common.Address, id *big.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("transfer: %w", ErrZeroAddress)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	k := idKey(id)
	owner, ok := t.owners[k]
	if !ok {
		return fmt.Errorf("%w: %s #%s", ErrNonexistentToken, t.Symbol, id)
	}
	if owner != from {
		return fmt.Errorf("%w: %s #%s owned by %s", ErrNotOwner, t.Symbol, id, owner.Hex())
	}
	if operator != owner && t.approvals[k] != operator && !t.operators[operatorKey{owner, operator}] {
		return fmt.Errorf("%w: %s for %s #%s", ErrNotApproved, operator.Hex(), t.Symbol, id)
	}
	deleteMapEntry(t.state, &t.mu, t.approvals, k)
	setMapEntry(t.state, &t.mu, t.owners, k, to)
	return nil
}
