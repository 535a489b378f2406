// Package chain is a small journaled world state: native balances and a
// registry of in-process contracts, with nested snapshots that can be
// reverted as a unit.
package chain

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance = errors.New("insufficient native balance")
	ErrAddressInUse        = errors.New("address already has code")
	ErrBadSnapshot         = errors.New("unknown snapshot")
)

// State holds native balances and deployed contracts. Every mutation made
// while a snapshot is open is recorded as an undo entry in the journal.
//
// Undo entries run without the state lock held so that token ledgers can
// record their own entries and restore themselves under their own locks.
type State struct {
	mu        sync.Mutex
	journal   []func()
	snapshots []int // journal length at each open snapshot
	balances  map[common.Address]*big.Int
	contracts map[common.Address]any
}

// NewState creates an empty world state
func NewState() *State {
	return &State{
		balances:  make(map[common.Address]*big.Int),
		contracts: make(map[common.Address]any),
	}
}

// Begin opens a nested snapshot and returns its id.
func (s *State) Begin() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, len(s.journal))
	return len(s.snapshots) - 1
}

// Commit closes snapshot id (and any snapshot nested inside it), keeping
// its changes. Closing the outermost snapshot discards the journal.
func (s *State) Commit(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("%w: %d", ErrBadSnapshot, id)
	}
	s.snapshots = s.snapshots[:id]
	if len(s.snapshots) == 0 {
		s.journal = nil
	}
	return nil
}

// Revert undoes every change recorded since snapshot id was opened, newest
// first, and closes it.
func (s *State) Revert(id int) error {
	s.mu.Lock()
	if id < 0 || id >= len(s.snapshots) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrBadSnapshot, id)
	}
	mark := s.snapshots[id]
	undo := append([]func(){}, s.journal[mark:]...)
	s.journal = s.journal[:mark]
	s.snapshots = s.snapshots[:id]
	s.mu.Unlock()

	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}

	// Undo closures may not record, but drop anything they did.
	s.mu.Lock()
	if len(s.journal) > mark {
		s.journal = s.journal[:mark]
	}
	s.mu.Unlock()
	return nil
}

// Depth returns the number of open snapshots.
func (s *State) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

// Record appends an undo entry. Outside of any snapshot changes are final
// and the entry is dropped.
func (s *State) Record(undo func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordLocked(undo)
}

func (s *State) recordLocked(undo func()) {
	if len(s.snapshots) == 0 {
		return
	}
	s.journal = append(s.journal, undo)
}

// Deploy registers contract at addr.
func (s *State) Deploy(addr common.Address, contract any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contracts[addr]; ok {
		return fmt.Errorf("%w: %s", ErrAddressInUse, addr.Hex())
	}
	s.contracts[addr] = contract
	s.recordLocked(func() {
		s.mu.Lock()
		delete(s.contracts, addr)
		s.mu.Unlock()
	})
	return nil
}

// Contract returns the contract deployed at addr.
func (s *State) Contract(addr common.Address) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[addr]
	return c, ok
}

// IsContract reports whether addr has code.
func (s *State) IsContract(addr common.Address) bool {
	_, ok := s.Contract(addr)
	return ok
}

// ContractAs returns the contract at addr if it implements T.
func ContractAs[T any](s *State, addr common.Address) (T, bool) {
	var zero T
	c, ok := s.Contract(addr)
	if !ok {
		return zero, false
	}
	t, ok := c.(T)
	return t, ok
}

// NativeBalance returns a copy of addr's native balance.
func (s *State) NativeBalance(addr common.Address) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.balanceLocked(addr))
}

func (s *State) balanceLocked(addr common.Address) *big.Int {
	if b, ok := s.balances[addr]; ok {
		return b
	}
	return new(big.Int)
}

func (s *State) setBalanceLocked(addr common.Address, v *big.Int) {
	prev, existed := s.balances[addr]
	s.balances[addr] = v
	s.recordLocked(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if existed {
			s.balances[addr] = prev
		} else {
			delete(s.balances, addr)
		}
	})
}

// Mint credits addr with amount of native currency.
func (s *State) Mint(addr common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("mint amount must not be negative: %s", amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setBalanceLocked(addr, new(big.Int).Add(s.balanceLocked(addr), amount))
	return nil
}

// TransferNative moves amount of native currency from one account to another.
func (s *State) TransferNative(from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("transfer amount must not be negative: %s", amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	have := s.balanceLocked(from)
	if have.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), have, amount)
	}
	if from == to || amount.Sign() == 0 {
		return nil
	}
	s.setBalanceLocked(from, new(big.Int).Sub(have, amount))
	s.setBalanceLocked(to, new(big.Int).Add(s.balanceLocked(to), amount))
	return nil
}
