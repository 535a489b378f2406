// Package wallet is a minimal smart-contract account that confirms
// signatures of a single owner key through EIP-1271.
package wallet

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperport/pkg/chain"
	"github.com/uhyunpark/hyperport/pkg/crypto"
)

var (
	// MagicValue is the selector of isValidSignature(bytes32,bytes).
	MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}
	// LegacyMagicValue is the selector of isValidSignature(bytes,bytes).
	LegacyMagicValue = [4]byte{0x20, 0xc1, 0x3b, 0x0b}
)

// Wallet accepts signatures made by its owner key over the queried digest.
type Wallet struct {
	address common.Address
	owner   common.Address
}

// LegacyWallet only answers the pre-standard bytes form of the call.
type LegacyWallet struct {
	address common.Address
	owner   common.Address
}

// Deploy creates a wallet at address controlled by owner.
func Deploy(state *chain.State, address, owner common.Address) (*Wallet, error) {
	w := &Wallet{address: address, owner: owner}
	if err := state.Deploy(address, w); err != nil {
		return nil, fmt.Errorf("deploy wallet: %w", err)
	}
	return w, nil
}

// DeployLegacy creates a legacy-only wallet at address controlled by owner.
func DeployLegacy(state *chain.State, address, owner common.Address) (*LegacyWallet, error) {
	w := &LegacyWallet{address: address, owner: owner}
	if err := state.Deploy(address, w); err != nil {
		return nil, fmt.Errorf("deploy wallet: %w", err)
	}
	return w, nil
}

func (w *Wallet) Address() common.Address { return w.address }
func (w *Wallet) Owner() common.Address   { return w.owner }

// IsValidSignature returns MagicValue when signature is the owner's
// signature of hash.
func (w *Wallet) IsValidSignature(hash common.Hash, signature []byte) ([4]byte, error) {
	return confirm(w.owner, hash.Bytes(), signature, MagicValue)
}

// IsValidSignatureData answers the legacy form, where data is the digest.
func (w *Wallet) IsValidSignatureData(data []byte, signature []byte) ([4]byte, error) {
	return confirm(w.owner, data, signature, LegacyMagicValue)
}

func (w *LegacyWallet) Address() common.Address { return w.address }

func (w *LegacyWallet) IsValidSignatureData(data []byte, signature []byte) ([4]byte, error) {
	return confirm(w.owner, data, signature, LegacyMagicValue)
}

func confirm(owner common.Address, digest, signature []byte, magic [4]byte) ([4]byte, error) {
	recovered, err := crypto.RecoverAddress(digest, signature)
	if err != nil {
		return [4]byte{}, err
	}
	if recovered != owner {
		return [4]byte{}, nil
	}
	return magic, nil
}
