package settlement

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperport/pkg/conduit"
	"github.com/uhyunpark/hyperport/pkg/token"
)

var (
	ErrInvalidTime                       = errors.New("invalid time")
	ErrOrderAlreadyFilled                = errors.New("order already filled")
	ErrOrderIsCancelled                  = errors.New("order is cancelled")
	ErrBadFraction                       = errors.New("bad fraction")
	ErrPartialFillsNotEnabled            = errors.New("partial fills not enabled for order")
	ErrCannotCancelOrder                 = errors.New("cannot cancel order")
	ErrInvalidCanceller                  = errors.New("invalid canceller")
	ErrInvalidSigner                     = errors.New("invalid signer")
	ErrInvalidSignature                  = errors.New("invalid signature")
	ErrInvalidRestrictedOrder            = errors.New("restricted order validation failed")
	ErrInvalidConduit                    = errors.New("invalid conduit")
	ErrMissingItemAmount                 = errors.New("missing item amount")
	ErrUnusedItemParameters              = errors.New("unused item parameters")
	ErrInsufficientNativeTokensSupplied  = errors.New("insufficient native tokens supplied")
	ErrInvalidNativeOfferItem            = errors.New("invalid native offer item")
	ErrCriteriaNotMet                    = errors.New("criteria not met")
	ErrInvalidProof                      = errors.New("invalid proof")
	ErrUnresolvedOfferCriteria           = errors.New("unresolved offer criteria")
	ErrUnresolvedConsiderationCriteria   = errors.New("unresolved consideration criteria")
	ErrCriteriaNotEnabledForItem         = errors.New("criteria not enabled for item")
	ErrOrderCriteriaResolverOutOfRange   = errors.New("order criteria resolver out of range")
	ErrCriteriaResolverItemOutOfRange    = errors.New("criteria resolver item index out of range")
	ErrInvalidContractOrder              = errors.New("invalid contract order")
	ErrInvalidContractOrderNonce         = errors.New("contract order nonce mismatch")
	ErrNoReentrantCalls                  = errors.New("no reentrant calls")
	ErrMissingOriginalConsiderationItems = errors.New("missing original consideration items")
	ErrConsiderationNotMet               = errors.New("consideration not met")
	ErrNoSpecifiedOrdersAvailable        = errors.New("no specified orders available")
	ErrInvalidItemType                   = errors.New("invalid item type")
	ErrInvalidOrderType                  = errors.New("invalid order type")

	ErrOfferAndConsiderationRequiredOnFulfillment          = errors.New("offer and consideration required on fulfillment")
	ErrMismatchedFulfillmentOfferAndConsiderationComponents = errors.New("mismatched fulfillment offer and consideration components")
	ErrInvalidFulfillmentComponentData                     = errors.New("invalid fulfillment component data")
	ErrMissingFulfillmentComponentOnAggregation            = errors.New("missing fulfillment component on aggregation")

	// ErrRestrictedOrderValidationFailed is the zone rejection error.
	ErrRestrictedOrderValidationFailed = ErrInvalidRestrictedOrder
	// ErrConduitKeyInvalid is returned when a conduit key was not created by its holder.
	ErrConduitKeyInvalid = conduit.ErrConduitKeyInvalid
	// ErrChannelClosed is reported wrapped in ErrInvalidConduit.
	ErrChannelClosed = conduit.ErrChannelClosed
	// ErrInvalidERC721TransferAmount is returned for ERC721 amounts other than 1.
	ErrInvalidERC721TransferAmount = token.ErrInvalidERC721TransferAmount
	// ErrBadReturnValue is returned when an ERC20 transfer returns false.
	ErrBadReturnValue = token.ErrBadReturnValue
)

// OrderError locates a settlement failure: the entry point, the order and,
// when known, the offending item. Err is the underlying sentinel or ledger
// error.
type OrderError struct {
	Op         string
	OrderHash  common.Hash
	OrderIndex int // -1 when the failure is not tied to one order
	Side       Side
	ItemIndex  int // -1 when the failure is not tied to one item
	Err        error
}

func (e *OrderError) Error() string {
	switch {
	case e.ItemIndex >= 0:
		return fmt.Sprintf("%s: order %d (%s) %s item %d: %v", e.Op, e.OrderIndex, e.OrderHash.Hex(), e.Side, e.ItemIndex, e.Err)
	case e.OrderIndex >= 0:
		return fmt.Sprintf("%s: order %d (%s): %v", e.Op, e.OrderIndex, e.OrderHash.Hex(), e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *OrderError) Unwrap() error { return e.Err }

func orderErr(op string, hash common.Hash, index int, err error) error {
	var oe *OrderError
	if errors.As(err, &oe) {
		return err
	}
	return &OrderError{Op: op, OrderHash: hash, OrderIndex: index, ItemIndex: -1, Err: err}
}

func itemErr(op string, hash common.Hash, index int, side Side, item int, err error) error {
	var oe *OrderError
	if errors.As(err, &oe) {
		return err
	}
	return &OrderError{Op: op, OrderHash: hash, OrderIndex: index, Side: side, ItemIndex: item, Err: err}
}

func callErr(op string, err error) error {
	var oe *OrderError
	if errors.As(err, &oe) {
		if oe.Op == "" {
			oe.Op = op
		}
		return err
	}
	return &OrderError{Op: op, OrderIndex: -1, ItemIndex: -1, Err: err}
}

// IsOrderError reports whether err carries order diagnostics and returns them.
func IsOrderError(err error) (*OrderError, bool) {
	var oe *OrderError
	ok := errors.As(err, &oe)
	return oe, ok
}
