// Package token contains in-memory ERC20, ERC721 and ERC1155 ledgers backed
// by the chain journal, and the transfer executor shared by the settlement
// engine and conduits.
package token

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance         = errors.New("insufficient token balance")
	ErrInsufficientAllowance       = errors.New("insufficient allowance")
	ErrNotOwner                    = errors.New("from is not the token owner")
	ErrNotApproved                 = errors.New("operator not approved")
	ErrNonexistentToken            = errors.New("nonexistent token")
	ErrZeroAddress                 = errors.New("zero address")
	ErrNoContract                  = errors.New("token has no contract")
	ErrBadReturnValue              = errors.New("token transfer returned false")
	ErrInvalidERC721TransferAmount = errors.New("ERC721 transfer amount must be 1")
	ErrUnsupportedKind             = errors.New("unsupported transfer kind")
)

// Fungible is the ERC20 surface the engine relies on.
type Fungible interface {
	BalanceOf(owner common.Address) *big.Int
	TransferFrom(operator, from, to common.Address, amount *big.Int) (bool, error)
}

// NonFungible is the ERC721 surface the engine relies on.
type NonFungible interface {
	OwnerOf(id *big.Int) (common.Address, error)
	TransferFrom(operator, from, to common.Address, id *big.Int) error
}

// SemiFungible is the ERC1155 surface the engine relies on.
type SemiFungible interface {
	BalanceOf(owner common.Address, id *big.Int) *big.Int
	SafeTransferFrom(operator, from, to common.Address, id, amount *big.Int, data []byte) error
}

func idKey(id *big.Int) string { return id.Text(16) }
