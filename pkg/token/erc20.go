package token

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/uhyunpark/hyperport/pkg/chain"
)

type allowanceKey struct {
	owner, spender common.Address
}

// ERC20 is a fungible token ledger. An allowance of 2^256-1 is treated as
// infinite and never decremented.
type ERC20 struct {
	Name     string
	Symbol   string
	Decimals uint8

	state      *chain.State
	mu         sync.Mutex
	supply     *big.Int
	balances   map[common.Address]*big.Int
	allowances map[allowanceKey]*big.Int
}

func NewERC20(state *chain.State, name, symbol string, decimals uint8) *ERC20 {
	return &ERC20{
		Name:       name,
		Symbol:     symbol,
		Decimals:   decimals,
		state:      state,
		supply:     new(big.Int),
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
	}
}

func (t *ERC20) TotalSupply() *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.supply)
}

func (t *ERC20) BalanceOf(owner common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.balanceLocked(owner))
}

func (t *ERC20) Allowance(owner, spender common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.allowanceLocked(owner, spender))
}

func (t *ERC20) balanceLocked(owner common.Address) *big.Int {
	if b, ok := t.balances[owner]; ok {
		return b
	}
	return new(big.Int)
}

func (t *ERC20) allowanceLocked(owner, spender common.Address) *big.Int {
	if a, ok := t.allowances[allowanceKey{owner, spender}]; ok {
		return a
	}
	return new(big.Int)
}

func (t *ERC20) setBalanceLocked(owner common.Address, v *big.Int) {
	prev, existed := t.balances[owner]
	t.balances[owner] = v
	t.state.Record(func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if existed {
			t.balances[owner] = prev
		} else {
			delete(t.balances, owner)
		}
	})
}

func (t *ERC20) setAllowanceLocked(owner, spender common.Address, v *big.Int) {
	k := allowanceKey{owner, spender}
	prev, existed := t.allowances[k]
	t.allowances[k] = v
	t.state.Record(func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if existed {
			t.allowances[k] = prev
		} else {
			delete(t.allowances, k)
		}
	})
}

// Mint credits to with amount new tokens.
func (t *ERC20) Mint(to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("mint: %w", ErrZeroAddress)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	prevSupply := t.supply
	t.supply = new(big.Int).Add(t.supply, amount)
	t.state.Record(func() {
		t.mu.Lock()
		t.supply = prevSupply
		t.mu.Unlock()
	})
	t.setBalanceLocked(to, new(big.Int).Add(t.balanceLocked(to), amount))
	return nil
}

// Approve sets spender's allowance over owner's tokens.
func (t *ERC20) Approve(owner, spender common.Address, amount *big.Int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setAllowanceLocked(owner, spender, new(big.Int).Set(amount))
	return true
}

// Transfer moves tokens the caller owns.
func (t *ERC20) Transfer(from, to common.Address, amount *big.Int) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.moveLocked(from, to, amount); err != nil {
		return false, err
	}
	return true, nil
}

// TransferFrom moves amount from from to to on behalf of operator, spending
// operator's allowance unless operator is from.
func (t *ERC20) TransferFrom(operator, from, to common.Address, amount *big.Int) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if operator != from {
		allowed := t.allowanceLocked(from, operator)
		if allowed.Cmp(amount) < 0 {
			return false, fmt.Errorf("%w: %s allows %s, needs %s", ErrInsufficientAllowance, operator.Hex(), allowed, amount)
		}
		if allowed.Cmp(math.MaxBig256) != 0 {
			t.setAllowanceLocked(from, operator, new(big.Int).Sub(allowed, amount))
		}
	}
	if err := t.moveLocked(from, to, amount); err != nil {
		return false, err
	}
	return true, nil
}

func (t *ERC20) moveLocked(from, to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("transfer: %w", ErrZeroAddress)
	}
	have := t.balanceLocked(from)
	if have.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s %s, needs %s", ErrInsufficientBalance, from.Hex(), have, t.Symbol, amount)
	}
	if from == to {
		return nil
	}
	t.setBalanceLocked(from, new(big.Int).Sub(have, amount))
	t.setBalanceLocked(to, new(big.Int).Add(t.balanceLocked(to), amount))
	return nil
}
