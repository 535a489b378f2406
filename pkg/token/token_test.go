package token

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/uhyunpark/hyperport/pkg/chain"
)

var (
	alice    = common.HexToAddress("0xa11ce00000000000000000000000000000000000")
	bob      = common.HexToAddress("0xb0b0000000000000000000000000000000000000")
	operator = common.HexToAddress("0x0be7a70000000000000000000000000000000000")
	erc20At  = common.HexToAddress("0x2000000000000000000000000000000000000000")
	erc721At = common.HexToAddress("0x7210000000000000000000000000000000000000")
	erc115At = common.HexToAddress("0x1155000000000000000000000000000000000000")
)

func deployAll(t *testing.T) (*chain.State, *ERC20, *ERC721, *ERC1155) {
	t.Helper()
	s := chain.NewState()
	ft := NewERC20(s, "Test", "TST", 18)
	nft := NewERC721(s, "Art", "ART")
	sft := NewERC1155(s, "ipfs://")
	for addr, c := range map[common.Address]any{erc20At: ft, erc721At: nft, erc115At: sft} {
		if err := s.Deploy(addr, c); err != nil {
			t.Fatalf("deploy: %v", err)
		}
	}
	return s, ft, nft, sft
}

func TestERC20Allowance(t *testing.T) {
	s, ft, _, _ := deployAll(t)
	_ = ft.Mint(alice, big.NewInt(100))

	tr := Transfer{Kind: KindERC20, Token: erc20At, From: alice, To: bob, Identifier: new(big.Int), Amount: big.NewInt(10)}
	if err := Execute(s, operator, tr); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("err = %v, want ErrInsufficientAllowance", err)
	}

	ft.Approve(alice, operator, big.NewInt(15))
	if err := Execute(s, operator, tr); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := ft.Allowance(alice, operator); got.Int64() != 5 {
		t.Errorf("allowance = %s, want 5", got)
	}

	ft.Approve(alice, operator, math.MaxBig256)
	if err := Execute(s, operator, tr); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := ft.Allowance(alice, operator); got.Cmp(math.MaxBig256) != 0 {
		t.Errorf("infinite allowance was decremented to %s", got)
	}
	if got := ft.BalanceOf(bob); got.Int64() != 20 {
		t.Errorf("bob = %s, want 20", got)
	}
}

func TestERC721Permissions(t *testing.T) {
	s, _, nft, _ := deployAll(t)
	id := big.NewInt(7)
	_ = nft.Mint(alice, id)

	tr := Transfer{Kind: KindERC721, Token: erc721At, From: alice, To: bob, Identifier: id, Amount: big.NewInt(1)}
	if err := Execute(s, operator, tr); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("err = %v, want ErrNotApproved", err)
	}

	bad := tr
	bad.Amount = big.NewInt(2)
	if err := Execute(s, alice, bad); !errors.Is(err, ErrInvalidERC721TransferAmount) {
		t.Fatalf("err = %v, want ErrInvalidERC721TransferAmount", err)
	}

	nft.SetApprovalForAll(alice, operator, true)
	if err := Execute(s, operator, tr); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	owner, _ := nft.OwnerOf(id)
	if owner != bob {
		t.Errorf("owner = %s, want bob", owner.Hex())
	}
	if err := Execute(s, operator, tr); !errors.Is(err, ErrNotOwner) {
		t.Errorf("second transfer err = %v, want ErrNotOwner", err)
	}
}

func TestERC1155Transfer(t *testing.T) {
	s, _, _, sft := deployAll(t)
	id := big.NewInt(3)
	_ = sft.Mint(alice, id, big.NewInt(10))
	sft.SetApprovalForAll(alice, operator, true)

	tr := Transfer{Kind: KindERC1155, Token: erc115At, From: alice, To: bob, Identifier: id, Amount: big.NewInt(4)}
	if err := Execute(s, operator, tr); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := sft.BalanceOf(bob, id); got.Int64() != 4 {
		t.Errorf("bob = %s, want 4", got)
	}
	tr.Amount = big.NewInt(7)
	if err := Execute(s, operator, tr); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("err = %v, want ErrInsufficientBalance", err)
	}
}

func TestLedgersRevertWithState(t *testing.T) {
	s, ft, nft, sft := deployAll(t)
	_ = ft.Mint(alice, big.NewInt(50))
	_ = nft.Mint(alice, big.NewInt(1))
	_ = sft.Mint(alice, big.NewInt(2), big.NewInt(5))

	id := s.Begin()
	_, _ = ft.Transfer(alice, bob, big.NewInt(20))
	_ = nft.TransferFrom(alice, alice, bob, big.NewInt(1))
	_ = sft.SafeTransferFrom(alice, alice, bob, big.NewInt(2), big.NewInt(5), nil)
	_ = ft.Mint(bob, big.NewInt(1000))
	if err := s.Revert(id); err != nil {
		t.Fatalf("revert: %v", err)
	}

	if got := ft.BalanceOf(alice); got.Int64() != 50 {
		t.Errorf("erc20 alice = %s, want 50", got)
	}
	if got := ft.TotalSupply(); got.Int64() != 50 {
		t.Errorf("supply = %s, want 50", got)
	}
	if owner, _ := nft.OwnerOf(big.NewInt(1)); owner != alice {
		t.Errorf("erc721 owner = %s, want alice", owner.Hex())
	}
	if got := sft.BalanceOf(bob, big.NewInt(2)); got.Sign() != 0 {
		t.Errorf("erc1155 bob = %s, want 0", got)
	}
}

func TestExecuteMissingContract(t *testing.T) {
	s := chain.NewState()
	tr := Transfer{Kind: KindERC20, Token: erc20At, From: alice, To: bob, Identifier: new(big.Int), Amount: big.NewInt(1)}
	if err := Execute(s, alice, tr); !errors.Is(err, ErrNoContract) {
		t.Errorf("err = %v, want ErrNoContract", err)
	}
	tr.Kind = KindNative
	if err := Execute(s, alice, tr); !errors.Is(err, ErrUnsupportedKind) {
		t.Errorf("err = %v, want ErrUnsupportedKind", err)
	}
}
