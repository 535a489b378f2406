package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	DomainName    = "Seaport"
	DomainVersion = "1.5"

	offerItemType         = "OfferItem(uint8 itemType,address token,uint256 identifierOrCriteria,uint256 startAmount,uint256 endAmount)"
	considerationItemType = "ConsiderationItem(uint8 itemType,address token,uint256 identifierOrCriteria,uint256 startAmount,uint256 endAmount,address recipient)"
	orderComponentsType   = "OrderComponents(address offerer,address zone,OfferItem[] offer,ConsiderationItem[] consideration,uint8 orderType,uint256 startTime,uint256 endTime,bytes32 zoneHash,uint256 salt,bytes32 conduitKey,uint256 counter)"
)

// Pre-computed type hashes. Referenced struct types are appended in
// alphabetical order after the primary type.
var (
	OfferItemTypeHash         = crypto.Keccak256Hash([]byte(offerItemType))
	ConsiderationItemTypeHash = crypto.Keccak256Hash([]byte(considerationItemType))
	OrderTypeHash             = crypto.Keccak256Hash([]byte(orderComponentsType + considerationItemType + offerItemType))
)

var (
	bytes32Type, _ = abi.NewType("bytes32", "", nil)
	uint256Type, _ = abi.NewType("uint256", "", nil)
	uint8Type, _   = abi.NewType("uint8", "", nil)
	addressType, _ = abi.NewType("address", "", nil)
)

// EIP712Domain represents the domain separator for EIP-712 typed data
// This prevents replay attacks across different chains/engines
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address // settlement engine address
}

// OfferItemEIP712 is the signed form of an offer item.
type OfferItemEIP712 struct {
	ItemType             uint8
	Token                common.Address
	IdentifierOrCriteria *big.Int
	StartAmount          *big.Int
	EndAmount            *big.Int
}

// ConsiderationItemEIP712 is the signed form of a consideration item.
type ConsiderationItemEIP712 struct {
	ItemType             uint8
	Token                common.Address
	IdentifierOrCriteria *big.Int
	StartAmount          *big.Int
	EndAmount            *big.Int
	Recipient            common.Address
}

// OrderEIP712 represents the order components a wallet signs
// (eth_signTypedData_v4, primary type OrderComponents)
type OrderEIP712 struct {
	Offerer       common.Address
	Zone          common.Address
	Offer         []OfferItemEIP712
	Consideration []ConsiderationItemEIP712
	OrderType     uint8
	StartTime     *big.Int
	EndTime       *big.Int
	ZoneHash      common.Hash
	Salt          *big.Int
	ConduitKey    common.Hash
	Counter       *big.Int
}

// CancelEIP712 represents a signed off-engine cancel request
type CancelEIP712 struct {
	OrderHash common.Hash
	Offerer   common.Address
	Counter   *big.Int
}

// EIP712Signer handles EIP-712 typed data hashing and signing for orders
type EIP712Signer struct {
	domain          EIP712Domain
	domainSeparator common.Hash
}

// NewEIP712Signer creates a new EIP-712 signer with given domain
func NewEIP712Signer(domain EIP712Domain) (*EIP712Signer, error) {
	e := &EIP712Signer{domain: domain}
	sep, err := e.hashDomain()
	if err != nil {
		return nil, err
	}
	e.domainSeparator = sep
	return e, nil
}

// NewDomain returns the settlement domain for an engine deployed at
// verifyingContract on chainID.
func NewDomain(chainID *big.Int, verifyingContract common.Address) EIP712Domain {
	return EIP712Domain{
		Name:              DomainName,
		Version:           DomainVersion,
		ChainID:           chainID,
		VerifyingContract: verifyingContract,
	}
}

// Domain returns the signer's domain.
func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

// DomainSeparator returns the cached domain separator hash.
func (e *EIP712Signer) DomainSeparator() common.Hash { return e.domainSeparator }

func (e *EIP712Signer) typedDomain() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              e.domain.Name,
		Version:           e.domain.Version,
		ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
		VerifyingContract: e.domain.VerifyingContract.Hex(),
	}
}

func domainTypes() []apitypes.Type {
	return []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	}
}

func (e *EIP712Signer) hashDomain() (common.Hash, error) {
	if e.domain.ChainID == nil {
		return common.Hash{}, fmt.Errorf("domain chain id is nil")
	}
	typedData := apitypes.TypedData{
		Types:  apitypes.Types{"EIP712Domain": domainTypes()},
		Domain: e.typedDomain(),
	}
	sep, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}
	return common.BytesToHash(sep), nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// Hash computes the struct hash of an offer item
func (o *OfferItemEIP712) Hash() (common.Hash, error) {
	arguments := abi.Arguments{
		{Type: bytes32Type},
		{Type: uint8Type},
		{Type: addressType},
		{Type: uint256Type},
		{Type: uint256Type},
		{Type: uint256Type},
	}
	encoded, err := arguments.Pack(
		OfferItemTypeHash,
		o.ItemType,
		o.Token,
		orZero(o.IdentifierOrCriteria),
		orZero(o.StartAmount),
		orZero(o.EndAmount),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode offer item: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// Hash computes the struct hash of a consideration item
func (c *ConsiderationItemEIP712) Hash() (common.Hash, error) {
	arguments := abi.Arguments{
		{Type: bytes32Type},
		{Type: uint8Type},
		{Type: addressType},
		{Type: uint256Type},
		{Type: uint256Type},
		{Type: uint256Type},
		{Type: addressType},
	}
	encoded, err := arguments.Pack(
		ConsiderationItemTypeHash,
		c.ItemType,
		c.Token,
		orZero(c.IdentifierOrCriteria),
		orZero(c.StartAmount),
		orZero(c.EndAmount),
		c.Recipient,
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode consideration item: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// HashOrder computes the OrderComponents struct hash. This is the order
// hash used as the status key; the signed digest wraps it with the domain.
func (e *EIP712Signer) HashOrder(order *OrderEIP712) (common.Hash, error) {
	offerHashes := make([]byte, 0, 32*len(order.Offer))
	for i := range order.Offer {
		h, err := order.Offer[i].Hash()
		if err != nil {
			return common.Hash{}, err
		}
		offerHashes = append(offerHashes, h.Bytes()...)
	}
	considerationHashes := make([]byte, 0, 32*len(order.Consideration))
	for i := range order.Consideration {
		h, err := order.Consideration[i].Hash()
		if err != nil {
			return common.Hash{}, err
		}
		considerationHashes = append(considerationHashes, h.Bytes()...)
	}

	arguments := abi.Arguments{
		{Type: bytes32Type}, // typeHash
		{Type: addressType}, // offerer
		{Type: addressType}, // zone
		{Type: bytes32Type}, // offer
		{Type: bytes32Type}, // consideration
		{Type: uint8Type},   // orderType
		{Type: uint256Type}, // startTime
		{Type: uint256Type}, // endTime
		{Type: bytes32Type}, // zoneHash
		{Type: uint256Type}, // salt
		{Type: bytes32Type}, // conduitKey
		{Type: uint256Type}, // counter
	}
	encoded, err := arguments.Pack(
		OrderTypeHash,
		order.Offerer,
		order.Zone,
		crypto.Keccak256Hash(offerHashes),
		crypto.Keccak256Hash(considerationHashes),
		order.OrderType,
		orZero(order.StartTime),
		orZero(order.EndTime),
		order.ZoneHash,
		orZero(order.Salt),
		order.ConduitKey,
		orZero(order.Counter),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode order: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// Digest wraps a struct hash with the domain separator:
// keccak256("\x19\x01" || domainSeparator || structHash)
func (e *EIP712Signer) Digest(structHash common.Hash) common.Hash {
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, e.domainSeparator.Bytes(), structHash.Bytes())
}

// SignOrder signs an order and returns the signature
func (e *EIP712Signer) SignOrder(signer *Signer, order *OrderEIP712) ([]byte, error) {
	hash, err := e.HashOrder(order)
	if err != nil {
		return nil, fmt.Errorf("failed to hash order: %w", err)
	}

	signature, err := signer.Sign(e.Digest(hash).Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to sign order: %w", err)
	}

	return signature, nil
}

// RecoverOrderSigner recovers the address that signed an order
func (e *EIP712Signer) RecoverOrderSigner(order *OrderEIP712, signature []byte) (common.Address, error) {
	hash, err := e.HashOrder(order)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash order: %w", err)
	}

	return RecoverAddress(e.Digest(hash).Bytes(), signature)
}

// VerifyOrderSignature verifies that an order signature was produced by the offerer
func (e *EIP712Signer) VerifyOrderSignature(order *OrderEIP712, signature []byte) (bool, error) {
	recoveredAddr, err := e.RecoverOrderSigner(order, signature)
	if err != nil {
		return false, fmt.Errorf("failed to recover address: %w", err)
	}
	return recoveredAddr == order.Offerer, nil
}

// OrderToJSON converts an order to JSON for frontend/wallet signing
// MetaMask and other wallets use this format for eth_signTypedData_v4
func (e *EIP712Signer) OrderToJSON(order *OrderEIP712) (string, error) {
	offer := make([]map[string]interface{}, 0, len(order.Offer))
	for _, item := range order.Offer {
		offer = append(offer, map[string]interface{}{
			"itemType":             item.ItemType,
			"token":                item.Token.Hex(),
			"identifierOrCriteria": orZero(item.IdentifierOrCriteria).String(),
			"startAmount":          orZero(item.StartAmount).String(),
			"endAmount":            orZero(item.EndAmount).String(),
		})
	}
	consideration := make([]map[string]interface{}, 0, len(order.Consideration))
	for _, item := range order.Consideration {
		consideration = append(consideration, map[string]interface{}{
			"itemType":             item.ItemType,
			"token":                item.Token.Hex(),
			"identifierOrCriteria": orZero(item.IdentifierOrCriteria).String(),
			"startAmount":          orZero(item.StartAmount).String(),
			"endAmount":            orZero(item.EndAmount).String(),
			"recipient":            item.Recipient.Hex(),
		})
	}

	itemFields := []map[string]string{
		{"name": "itemType", "type": "uint8"},
		{"name": "token", "type": "address"},
		{"name": "identifierOrCriteria", "type": "uint256"},
		{"name": "startAmount", "type": "uint256"},
		{"name": "endAmount", "type": "uint256"},
	}
	typedData := map[string]interface{}{
		"types": map[string]interface{}{
			"EIP712Domain": []map[string]string{
				{"name": "name", "type": "string"},
				{"name": "version", "type": "string"},
				{"name": "chainId", "type": "uint256"},
				{"name": "verifyingContract", "type": "address"},
			},
			"OrderComponents": []map[string]string{
				{"name": "offerer", "type": "address"},
				{"name": "zone", "type": "address"},
				{"name": "offer", "type": "OfferItem[]"},
				{"name": "consideration", "type": "ConsiderationItem[]"},
				{"name": "orderType", "type": "uint8"},
				{"name": "startTime", "type": "uint256"},
				{"name": "endTime", "type": "uint256"},
				{"name": "zoneHash", "type": "bytes32"},
				{"name": "salt", "type": "uint256"},
				{"name": "conduitKey", "type": "bytes32"},
				{"name": "counter", "type": "uint256"},
			},
			"OfferItem":         itemFields,
			"ConsiderationItem": append(append([]map[string]string{}, itemFields...), map[string]string{"name": "recipient", "type": "address"}),
		},
		"primaryType": "OrderComponents",
		"domain": map[string]interface{}{
			"name":              e.domain.Name,
			"version":           e.domain.Version,
			"chainId":           e.domain.ChainID.String(),
			"verifyingContract": e.domain.VerifyingContract.Hex(),
		},
		"message": map[string]interface{}{
			"offerer":       order.Offerer.Hex(),
			"zone":          order.Zone.Hex(),
			"offer":         offer,
			"consideration": consideration,
			"orderType":     order.OrderType,
			"startTime":     orZero(order.StartTime).String(),
			"endTime":       orZero(order.EndTime).String(),
			"zoneHash":      order.ZoneHash.Hex(),
			"salt":          orZero(order.Salt).String(),
			"conduitKey":    order.ConduitKey.Hex(),
			"counter":       orZero(order.Counter).String(),
		},
	}

	jsonBytes, err := json.MarshalIndent(typedData, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}

	return string(jsonBytes), nil
}

// HashCancel hashes a cancel request according to EIP-712
// Returns the digest that should be signed
func (e *EIP712Signer) HashCancel(cancel *CancelEIP712) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainTypes(),
			"CancelOrder": []apitypes.Type{
				{Name: "orderHash", Type: "bytes32"},
				{Name: "offerer", Type: "address"},
				{Name: "counter", Type: "uint256"},
			},
		},
		PrimaryType: "CancelOrder",
		Domain:      e.typedDomain(),
		Message: apitypes.TypedDataMessage{
			"orderHash": cancel.OrderHash.Hex(),
			"offerer":   cancel.Offerer.Hex(),
			"counter":   orZero(cancel.Counter).String(),
		},
	}

	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	return e.Digest(common.BytesToHash(typedDataHash)).Bytes(), nil
}

// VerifyCancelSignature verifies that a cancel request was signed by its offerer
func (e *EIP712Signer) VerifyCancelSignature(cancel *CancelEIP712, signature []byte) (bool, error) {
	hash, err := e.HashCancel(cancel)
	if err != nil {
		return false, fmt.Errorf("failed to hash cancel: %w", err)
	}

	recoveredAddr, err := RecoverAddress(hash, signature)
	if err != nil {
		return false, fmt.Errorf("failed to recover address: %w", err)
	}

	return recoveredAddr == cancel.Offerer, nil
}
