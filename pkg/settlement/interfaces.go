package settlement

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/hyperport/pkg/token"
)

func selector(signature string) [4]byte {
	var out [4]byte
	copy(out[:], crypto.Keccak256([]byte(signature))[:4])
	return out
}

var (
	// ERC1271MagicValue is the selector of isValidSignature(bytes32,bytes).
	ERC1271MagicValue = selector("isValidSignature(bytes32,bytes)")
	// LegacyERC1271MagicValue is the selector of isValidSignature(bytes,bytes).
	LegacyERC1271MagicValue = selector("isValidSignature(bytes,bytes)")
	// ValidateOrderMagic must be returned by a zone that approves an order.
	ValidateOrderMagic = selector("validateOrder((bytes32,address,address,(uint8,address,uint256,uint256)[],(uint8,address,uint256,uint256,address)[],bytes,bytes32[],uint256,uint256,bytes32))")
	// RatifyOrderMagic must be returned by a contract offerer that ratifies an order.
	RatifyOrderMagic = selector("ratifyOrder((uint8,address,uint256,uint256)[],(uint8,address,uint256,uint256,address)[],bytes,bytes32[],uint256)")
)

// ZoneParameters is what a zone sees when asked to approve a restricted order.
type ZoneParameters struct {
	OrderHash     common.Hash
	Fulfiller     common.Address
	Offerer       common.Address
	Offer         []SpentItem
	Consideration []ReceivedItem
	ExtraData     []byte
	OrderHashes   []common.Hash
	StartTime     *big.Int
	EndTime       *big.Int
	ZoneHash      common.Hash
}

// Zone approves restricted orders after their transfers.
type Zone interface {
	ValidateOrder(ctx context.Context, params ZoneParameters) ([4]byte, error)
}

// ContractOfferer produces orders on demand.
type ContractOfferer interface {
	GenerateOrder(ctx context.Context, fulfiller common.Address, minimumReceived, maximumSpent []SpentItem, extraData []byte) ([]SpentItem, []ReceivedItem, error)
	RatifyOrder(ctx context.Context, offer []SpentItem, consideration []ReceivedItem, extraData []byte, orderHashes []common.Hash, contractNonce *big.Int) ([4]byte, error)
}

// ERC1271 is the versioned signature confirmation call.
type ERC1271 interface {
	IsValidSignature(hash common.Hash, signature []byte) ([4]byte, error)
}

// LegacyERC1271 is the pre-standard form taking the digest as bytes.
type LegacyERC1271 interface {
	IsValidSignatureData(data []byte, signature []byte) ([4]byte, error)
}

// ConduitRegistry resolves conduit keys to conduit addresses.
type ConduitRegistry interface {
	Address() common.Address
	GetConduit(key common.Hash) (common.Address, bool)
}

// Metrics observes engine activity.
type Metrics interface {
	ObserveCall(op string, orders int, elapsed time.Duration, err error)
	ObserveTransfer(kind token.Kind, viaConduit bool)
}

type nopMetrics struct{}

func (nopMetrics) ObserveCall(string, int, time.Duration, error) {}
func (nopMetrics) ObserveTransfer(token.Kind, bool)               {}
