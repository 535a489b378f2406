package token

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperport/pkg/chain"
)

// Kind selects the ledger interface a transfer goes through.
type Kind uint8

const (
	KindNative Kind = iota
	KindERC20
	KindERC721
	KindERC1155
)

func (k Kind) String() string {
	switch k {
	case KindNative:
		return "native"
	case KindERC20:
		return "erc20"
	case KindERC721:
		return "erc721"
	case KindERC1155:
		return "erc1155"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Transfer is one token movement executed by an operator.
type Transfer struct {
	Kind       Kind
	Token      common.Address
	From       common.Address
	To         common.Address
	Identifier *big.Int
	Amount     *big.Int
}

// Execute performs tr with operator as msg.sender of the ledger call.
// Native transfers are not token calls and are rejected.
func Execute(state *chain.State, operator common.Address, tr Transfer) error {
	switch tr.Kind {
	case KindERC20:
		ledger, ok := chain.ContractAs[Fungible](state, tr.Token)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNoContract, tr.Token.Hex())
		}
		ok, err := ledger.TransferFrom(operator, tr.From, tr.To, tr.Amount)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrBadReturnValue, tr.Token.Hex())
		}
		return nil
	case KindERC721:
		if tr.Amount == nil || tr.Amount.Cmp(big.NewInt(1)) != 0 {
			return fmt.Errorf("%w: got %v", ErrInvalidERC721TransferAmount, tr.Amount)
		}
		ledger, ok := chain.ContractAs[NonFungible](state, tr.Token)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNoContract, tr.Token.Hex())
		}
		return ledger.TransferFrom(operator, tr.From, tr.To, tr.Identifier)
	case KindERC1155:
		ledger, ok := chain.ContractAs[SemiFungible](state, tr.Token)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNoContract, tr.Token.Hex())
		}
		return ledger.SafeTransferFrom(operator, tr.From, tr.To, tr.Identifier, tr.Amount, nil)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedKind, tr.Kind)
	}
}
