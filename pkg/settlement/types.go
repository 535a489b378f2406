// Package settlement is the order settlement engine: it validates signed
// orders, resolves their current item amounts, routes the resulting token
// transfers directly or through conduits and records fill state.
package settlement

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperport/pkg/token"
)

// ItemType identifies the asset class of an item.
type ItemType uint8

const (
	ItemNative ItemType = iota
	ItemERC20
	ItemERC721
	ItemERC1155
	ItemERC721WithCriteria
	ItemERC1155WithCriteria
)

func (t ItemType) String() string {
	switch t {
	case ItemNative:
		return "NATIVE"
	case ItemERC20:
		return "ERC20"
	case ItemERC721:
		return "ERC721"
	case ItemERC1155:
		return "ERC1155"
	case ItemERC721WithCriteria:
		return "ERC721_WITH_CRITERIA"
	case ItemERC1155WithCriteria:
		return "ERC1155_WITH_CRITERIA"
	default:
		return fmt.Sprintf("ItemType(%d)", uint8(t))
	}
}

func (t ItemType) Valid() bool { return t <= ItemERC1155WithCriteria }

// IsCriteria reports whether items of this type carry a criteria root
// instead of a concrete identifier.
func (t ItemType) IsCriteria() bool {
	return t == ItemERC721WithCriteria || t == ItemERC1155WithCriteria
}

// resolved returns the concrete type a criteria type resolves to.
func (t ItemType) resolved() ItemType {
	switch t {
	case ItemERC721WithCriteria:
		return ItemERC721
	case ItemERC1155WithCriteria:
		return ItemERC1155
	default:
		return t
	}
}

func (t ItemType) kind() token.Kind {
	switch t.resolved() {
	case ItemERC20:
		return token.KindERC20
	case ItemERC721:
		return token.KindERC721
	case ItemERC1155:
		return token.KindERC1155
	default:
		return token.KindNative
	}
}

// OrderType selects fill and restriction rules.
type OrderType uint8

const (
	OrderFullOpen OrderType = iota
	OrderPartialOpen
	OrderFullRestricted
	OrderPartialRestricted
	OrderContract
)

func (t OrderType) String() string {
	switch t {
	case OrderFullOpen:
		return "FULL_OPEN"
	case OrderPartialOpen:
		return "PARTIAL_OPEN"
	case OrderFullRestricted:
		return "FULL_RESTRICTED"
	case OrderPartialRestricted:
		return "PARTIAL_RESTRICTED"
	case OrderContract:
		return "CONTRACT"
	default:
		return fmt.Sprintf("OrderType(%d)", uint8(t))
	}
}

func (t OrderType) Valid() bool { return t <= OrderContract }

// Restricted orders must be approved by their zone.
func (t OrderType) Restricted() bool {
	return t == OrderFullRestricted || t == OrderPartialRestricted
}

// PartialFills reports whether fractions other than 1/1 are allowed.
func (t OrderType) PartialFills() bool {
	return t == OrderPartialOpen || t == OrderPartialRestricted
}

// Side distinguishes offer items from consideration items.
type Side uint8

const (
	SideOffer Side = iota
	SideConsideration
)

func (s Side) String() string {
	if s == SideOffer {
		return "offer"
	}
	return "consideration"
}

// OfferItem is an asset the offerer gives up.
type OfferItem struct {
	ItemType             ItemType       `json:"itemType"`
	Token                common.Address `json:"token"`
	IdentifierOrCriteria *big.Int       `json:"identifierOrCriteria"`
	StartAmount          *big.Int       `json:"startAmount"`
	EndAmount            *big.Int       `json:"endAmount"`
}

// ConsiderationItem is an asset the offerer requires, paid to Recipient.
type ConsiderationItem struct {
	ItemType             ItemType       `json:"itemType"`
	Token                common.Address `json:"token"`
	IdentifierOrCriteria *big.Int       `json:"identifierOrCriteria"`
	StartAmount          *big.Int       `json:"startAmount"`
	EndAmount            *big.Int       `json:"endAmount"`
	Recipient            common.Address `json:"recipient"`
}

// SpentItem is a resolved offer item.
type SpentItem struct {
	ItemType   ItemType       `json:"itemType"`
	Token      common.Address `json:"token"`
	Identifier *big.Int       `json:"identifier"`
	Amount     *big.Int       `json:"amount"`
}

// ReceivedItem is a resolved consideration item.
type ReceivedItem struct {
	ItemType   ItemType       `json:"itemType"`
	Token      common.Address `json:"token"`
	Identifier *big.Int       `json:"identifier"`
	Amount     *big.Int       `json:"amount"`
	Recipient  common.Address `json:"recipient"`
}

// OrderParameters are the signed terms of an order.
//
// Counter is the offerer epoch the components were signed under. Fulfillment
// always hashes with the offerer's current counter, so Counter only matters
// to GetOrderHash and Cancel.
//
// Consideration items past TotalOriginalConsiderationItems are tips added by
// the fulfiller and are not part of the order hash. Zero means every item
// is original.
type OrderParameters struct {
	Offerer                         common.Address      `json:"offerer"`
	Zone                            common.Address      `json:"zone"`
	Offer                           []OfferItem         `json:"offer"`
	Consideration                   []ConsiderationItem `json:"consideration"`
	OrderType                       OrderType           `json:"orderType"`
	StartTime                       *big.Int            `json:"startTime"`
	EndTime                         *big.Int            `json:"endTime"`
	ZoneHash                        common.Hash         `json:"zoneHash"`
	Salt                            *big.Int            `json:"salt"`
	ConduitKey                      common.Hash         `json:"conduitKey"`
	Counter                         *big.Int            `json:"counter"`
	TotalOriginalConsiderationItems int                 `json:"totalOriginalConsiderationItems"`
}

func (p *OrderParameters) originalConsiderationCount() (int, error) {
	if p.TotalOriginalConsiderationItems == 0 {
		return len(p.Consideration), nil
	}
	if p.TotalOriginalConsiderationItems > len(p.Consideration) || p.TotalOriginalConsiderationItems < 0 {
		return 0, fmt.Errorf("%w: %d original, %d present", ErrMissingOriginalConsiderationItems,
			p.TotalOriginalConsiderationItems, len(p.Consideration))
	}
	return p.TotalOriginalConsiderationItems, nil
}

// Order is a signed order filled in full.
type Order struct {
	Parameters OrderParameters `json:"parameters"`
	Signature  []byte          `json:"signature"`
}

// AdvancedOrder is an order filled by Numerator/Denominator, with extra
// data passed to zones and contract offerers.
type AdvancedOrder struct {
	Parameters  OrderParameters `json:"parameters"`
	Numerator   *big.Int        `json:"numerator"`
	Denominator *big.Int        `json:"denominator"`
	Signature   []byte          `json:"signature"`
	ExtraData   []byte          `json:"extraData"`
}

// Advanced converts o into a 1/1 advanced order.
func (o Order) Advanced() AdvancedOrder {
	return AdvancedOrder{
		Parameters:  o.Parameters,
		Numerator:   big.NewInt(1),
		Denominator: big.NewInt(1),
		Signature:   o.Signature,
	}
}

// OrderStatus is the persisted fill state of an order hash.
type OrderStatus struct {
	IsValidated bool     `json:"isValidated"`
	IsCancelled bool     `json:"isCancelled"`
	TotalFilled *big.Int `json:"totalFilled"`
	TotalSize   *big.Int `json:"totalSize"`
}

// NewOrderStatus returns the status of an order never seen before.
func NewOrderStatus() OrderStatus {
	return OrderStatus{TotalFilled: new(big.Int), TotalSize: new(big.Int)}
}

// Copy returns a deep copy of s.
func (s OrderStatus) Copy() OrderStatus {
	out := s
	out.TotalFilled = new(big.Int)
	out.TotalSize = new(big.Int)
	if s.TotalFilled != nil {
		out.TotalFilled.Set(s.TotalFilled)
	}
	if s.TotalSize != nil {
		out.TotalSize.Set(s.TotalSize)
	}
	return out
}

// FullyFilled reports whether nothing remains to be filled.
func (s OrderStatus) FullyFilled() bool {
	return s.TotalSize != nil && s.TotalSize.Sign() > 0 && s.TotalFilled.Cmp(s.TotalSize) >= 0
}

// FulfillmentComponent points at one item of one order.
type FulfillmentComponent struct {
	OrderIndex int `json:"orderIndex"`
	ItemIndex  int `json:"itemIndex"`
}

// Fulfillment nets a set of offer items against a set of consideration items.
type Fulfillment struct {
	OfferComponents         []FulfillmentComponent `json:"offerComponents"`
	ConsiderationComponents []FulfillmentComponent `json:"considerationComponents"`
}

// CriteriaResolver supplies the concrete identifier for a criteria item and
// its inclusion proof against the item's criteria root.
type CriteriaResolver struct {
	OrderIndex    int           `json:"orderIndex"`
	Side          Side          `json:"side"`
	Index         int           `json:"index"`
	Identifier    *big.Int      `json:"identifier"`
	CriteriaProof []common.Hash `json:"criteriaProof"`
}

// Execution is one transfer produced by a multi-order settlement.
type Execution struct {
	Item       ReceivedItem   `json:"item"`
	Offerer    common.Address `json:"offerer"`
	ConduitKey common.Hash    `json:"conduitKey"`

	source *itemRef
}

// itemRef points at the order item an execution was drawn from.
type itemRef struct {
	hash  common.Hash
	order int
	side  Side
	item  int
}

// Call identifies who invokes an entry point and how much native currency
// they attach to it.
type Call struct {
	Caller common.Address
	Value  *big.Int
}

func (c Call) value() *big.Int {
	if c.Value == nil {
		return new(big.Int)
	}
	return c.Value
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
