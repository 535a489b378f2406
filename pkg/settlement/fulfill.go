package settlement

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// FulfillOrder fills order in full for the caller, who receives the offer.
// Consideration is paid from the caller through fulfillerConduitKey.
func (e *Engine) FulfillOrder(ctx context.Context, call Call, order Order, fulfillerConduitKey common.Hash) (common.Hash, error) {
	var hash common.Hash
	adv := order.Advanced()
	err := e.run(ctx, call, "fulfillOrder", func(x *execution) error {
		h, err := x.fulfillAdvanced(&adv, nil, fulfillerConduitKey, call.Caller)
		hash = h
		return err
	})
	return hash, err
}

// FulfillAdvancedOrder fills order.Numerator/order.Denominator of order,
// sending the offer to recipient (the caller when zero).
func (e *Engine) FulfillAdvancedOrder(ctx context.Context, call Call, order AdvancedOrder, resolvers []CriteriaResolver, fulfillerConduitKey common.Hash, recipient common.Address) (common.Hash, error) {
	if recipient == (common.Address{}) {
		recipient = call.Caller
	}
	var hash common.Hash
	err := e.run(ctx, call, "fulfillAdvancedOrder", func(x *execution) error {
		h, err := x.fulfillAdvanced(&order, resolvers, fulfillerConduitKey, recipient)
		hash = h
		return err
	})
	return hash, err
}

func (x *execution) fulfillAdvanced(order *AdvancedOrder, resolvers []CriteriaResolver, fulfillerConduitKey common.Hash, recipient common.Address) (common.Hash, error) {
	x.orders = 1
	po, err := x.prepareOrder(0, order, true)
	if err != nil {
		return common.Hash{}, err
	}
	orders := []*preparedOrder{po}
	if err := applyCriteriaResolvers(orders, resolvers); err != nil {
		return po.hash, err
	}
	if err := x.resolveItems(po); err != nil {
		return po.hash, err
	}
	for j, it := range po.offer {
		if it.ItemType == ItemNative {
			return po.hash, itemErr("fulfill", po.hash, 0, SideOffer, j, ErrInvalidNativeOfferItem)
		}
	}

	for j, it := range po.consideration {
		if err := x.router.transfer(it, x.call.Caller, fulfillerConduitKey); err != nil {
			return po.hash, itemErr("transfer", po.hash, 0, SideConsideration, j, err)
		}
	}
	for j, it := range po.offer {
		received := ReceivedItem{
			ItemType:   it.ItemType,
			Token:      it.Token,
			Identifier: it.Identifier,
			Amount:     it.Amount,
			Recipient:  recipient,
		}
		if err := x.router.transfer(received, po.params.Offerer, po.params.ConduitKey); err != nil {
			return po.hash, itemErr("transfer", po.hash, 0, SideOffer, j, err)
		}
	}
	if err := x.router.flush(); err != nil {
		return po.hash, orderErr("transfer", po.hash, 0, err)
	}
	if err := x.finalize(orders); err != nil {
		return po.hash, err
	}

	x.emit(OrderFulfilled{
		OrderHash:     po.hash,
		Offerer:       po.params.Offerer,
		Zone:          po.params.Zone,
		Fulfiller:     x.call.Caller,
		Recipient:     recipient,
		Offer:         po.offer,
		Consideration: po.consideration,
	})
	x.e.logger.Info("order fulfilled",
		zap.String("order_hash", po.hash.Hex()),
		zap.String("offerer", po.params.Offerer.Hex()),
		zap.String("fulfiller", x.call.Caller.Hex()),
		zap.String("mode", x.op))
	return po.hash, nil
}
