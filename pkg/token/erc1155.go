package token

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperport/pkg/chain"
)

type balanceKey struct {
	owner common.Address
	id    string
}

// ERC1155 is a semi-fungible token ledger.
type ERC1155 struct {
	URI string

	state     *chain.State
	mu        sync.Mutex
	balances  map[balanceKey]*big.Int
	operators map[operatorKey]bool
}

func NewERC1155(state *chain.State, uri string) *ERC1155 {
	return &ERC1155{
		URI:       uri,
		state:     state,
		balances:  make(map[balanceKey]*big.Int),
		operators: make(map[operatorKey]bool),
	}
}

func (t *ERC1155) BalanceOf(owner common.Address, id *big.Int) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.balanceLocked(owner, id))
}

func (t *ERC1155) balanceLocked(owner common.Address, id *big.Int) *big.Int {
	if b, ok := t.balances[balanceKey{owner, idKey(id)}]; ok {
		return b
	}
	return new(big.Int)
}

func (t *ERC1155) IsApprovedForAll(owner, operator common.Address) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.operators[operatorKey{owner, operator}]
}

func (t *ERC1155) SetApprovalForAll(owner, operator common.Address, approved bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	setMapEntry(t.state, &t.mu, t.operators, operatorKey{owner, operator}, approved)
}

// Mint credits to with amount units of id.
func (t *ERC1155) Mint(to common.Address, id, amount *big.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("mint: %w", ErrZeroAddress)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	setMapEntry(t.state, &t.mu, t.balances, balanceKey{to, idKey(id)}, new(big.Int).Add(t.balanceLocked(to, id), amount))
	return nil
}

// SafeTransferFrom moves amount units of id. operator must be from or an
// approved operator.
func (t *ERC1155) SafeTransferFrom(operator, from, to common.Address, id, amount *big.Int, data []byte) error {
	if to == (common.Address{}) {
		return fmt.Errorf("transfer: %w", ErrZeroAddress)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if operator != from && !t.operators[operatorKey{from, operator}] {
		return fmt.Errorf("%w: %s for %s", ErrNotApproved, operator.Hex(), from.Hex())
	}
	have := t.balanceLocked(from, id)
	if have.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s of #%s, needs %s", ErrInsufficientBalance, from.Hex(), have, id, amount)
	}
	if from == to {
		return nil
	}
	setMapEntry(t.state, &t.mu, t.balances, balanceKey{from, idKey(id)}, new(big.Int).Sub(have, amount))
	setMapEntry(t.state, &t.mu, t.balances, balanceKey{to, idKey(id)}, new(big.Int).Add(t.balanceLocked(to, id), amount))
	return nil
}
