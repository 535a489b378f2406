package settlement

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// MatchOrders settles orders against each other in full following
// fulfillments. Leftover offer items go to the caller.
func (e *Engine) MatchOrders(ctx context.Context, call Call, orders []Order, fulfillments []Fulfillment) ([]Execution, error) {
	advanced := make([]AdvancedOrder, len(orders))
	for i, o := range orders {
		advanced[i] = o.Advanced()
	}
	var executions []Execution
	err := e.run(ctx, call, "matchOrders", func(x *execution) error {
		var err error
		executions, err = x.matchAdvanced(advanced, nil, fulfillments, call.Caller)
		return err
	})
	return executions, err
}

// MatchAdvancedOrders settles partially filled, criteria-based or contract
// orders against each other. Leftover offer items go to recipient (the
// caller when zero); consideration no fulfillment covers is paid by the
// caller.
func (e *Engine) MatchAdvancedOrders(ctx context.Context, call Call, orders []AdvancedOrder, resolvers []CriteriaResolver, fulfillments []Fulfillment, recipient common.Address) ([]Execution, error) {
	if recipient == (common.Address{}) {
		recipient = call.Caller
	}
	var executions []Execution
	err := e.run(ctx, call, "matchAdvancedOrders", func(x *execution) error {
		var err error
		executions, err = x.matchAdvanced(orders, resolvers, fulfillments, recipient)
		return err
	})
	return executions, err
}

// prepareAll validates and resolves orders, applying criteria resolvers.
func (x *execution) prepareAll(orders []AdvancedOrder, resolvers []CriteriaResolver, revertOnInvalid bool, maximumFulfilled int) ([]*preparedOrder, error) {
	x.orders = len(orders)
	prepared := make([]*preparedOrder, len(orders))
	fulfilled := 0
	for i := range orders {
		if fulfilled >= maximumFulfilled {
			prepared[i] = unavailable(i, &orders[i])
			continue
		}
		po, err := x.prepareOrder(i, &orders[i], revertOnInvalid)
		if err != nil {
			return nil, err
		}
		if po.available {
			fulfilled++
		}
		prepared[i] = po
	}
	if err := applyCriteriaResolvers(prepared, resolvers); err != nil {
		return nil, err
	}
	for _, po := range prepared {
		if err := x.resolveItems(po); err != nil {
			return nil, err
		}
	}
	return prepared, nil
}

func (x *execution) matchAdvanced(orders []AdvancedOrder, resolvers []CriteriaResolver, fulfillments []Fulfillment, recipient common.Address) ([]Execution, error) {
	prepared, err := x.prepareAll(orders, resolvers, true, len(orders))
	if err != nil {
		return nil, err
	}

	// Netting works on remaining amounts; keep the resolved items for events.
	offers, considerations := remainingAmounts(prepared)

	var executions []Execution
	for i, f := range fulfillments {
		ex, err := applyFulfillment(prepared, offers, considerations, f)
		if err != nil {
			return nil, fmt.Errorf("fulfillment %d: %w", i, err)
		}
		executions = appendExecution(executions, ex)
	}

	for _, po := range prepared {
		for j, it := range po.offer {
			left := offers[po.index][j]
			if left.Sign() == 0 {
				continue
			}
			executions = appendExecution(executions, Execution{
				Item: ReceivedItem{
					ItemType:   it.ItemType,
					Token:      it.Token,
					Identifier: it.Identifier,
					Amount:     new(big.Int).Set(left),
					Recipient:  recipient,
				},
				Offerer:    po.params.Offerer,
				ConduitKey: po.params.ConduitKey,
				source:     &itemRef{hash: po.hash, order: po.index, side: SideOffer, item: j},
			})
		}
		for j, it := range po.consideration {
			left := considerations[po.index][j]
			if left.Sign() == 0 {
				continue
			}
			item := it
			item.Amount = new(big.Int).Set(left)
			executions = appendExecution(executions, Execution{
				Item:    item,
				Offerer: x.call.Caller,
				source:  &itemRef{hash: po.hash, order: po.index, side: SideConsideration, item: j},
			})
		}
	}

	if err := x.execute(executions); err != nil {
		return nil, err
	}
	if err := x.finalize(prepared); err != nil {
		return nil, err
	}

	hashes := availableHashes(prepared)
	for _, po := range prepared {
		x.emit(OrderFulfilled{
			OrderHash:     po.hash,
			Offerer:       po.params.Offerer,
			Zone:          po.params.Zone,
			Fulfiller:     x.call.Caller,
			Offer:         po.offer,
			Consideration: po.consideration,
		})
	}
	x.emit(OrdersMatched{OrderHashes: hashes})
	x.e.logger.Info("orders matched",
		zap.Int("orders", len(prepared)),
		zap.Int("executions", len(executions)),
		zap.String("mode", x.op))
	return executions, nil
}

func remainingAmounts(prepared []*preparedOrder) (offers, considerations [][]*big.Int) {
	offers = make([][]*big.Int, len(prepared))
	considerations = make([][]*big.Int, len(prepared))
	for i, po := range prepared {
		offers[i] = make([]*big.Int, len(po.offer))
		for j, it := range po.offer {
			offers[i][j] = new(big.Int).Set(it.Amount)
		}
		considerations[i] = make([]*big.Int, len(po.consideration))
		for j, it := range po.consideration {
			considerations[i][j] = new(big.Int).Set(it.Amount)
		}
	}
	return offers, considerations
}

// appendExecution drops executions that move nothing or move an item to
// its own source.
func appendExecution(executions []Execution, ex Execution) []Execution {
	if ex.Item.Amount == nil || ex.Item.Amount.Sign() == 0 {
		return executions
	}
	if ex.Item.Recipient == ex.Offerer {
		return executions
	}
	return append(executions, ex)
}

// execute performs executions in order. A failed transfer is reported
// against the item the execution was drawn from.
func (x *execution) execute(executions []Execution) error {
	for i, ex := range executions {
		// a pending conduit batch fails on its own, not on this execution
		if ex.ConduitKey != x.router.pendingKey {
			if err := x.router.flush(); err != nil {
				return err
			}
		}
		if err := x.router.transfer(ex.Item, ex.Offerer, ex.ConduitKey); err != nil {
			err = fmt.Errorf("execution %d: %w", i, err)
			if src := ex.source; src != nil {
				return itemErr(x.op, src.hash, src.order, src.side, src.item, err)
			}
			return err
		}
	}
	return x.router.flush()
}

type offerAggregate struct {
	offerer    common.Address
	conduitKey common.Hash
	item       SpentItem
	amount     *big.Int
	first      *big.Int
	source     *itemRef
}

type considerationAggregate struct {
	item   ReceivedItem
	amount *big.Int
	first  *big.Int
	source *itemRef
}

// aggregateOffer sums the offer components, zeroing them. Components of
// unavailable orders are ignored; ok is false when none remain.
func aggregateOffer(prepared []*preparedOrder, offers [][]*big.Int, components []FulfillmentComponent) (agg offerAggregate, ok bool, err error) {
	for _, c := range components {
		if c.OrderIndex < 0 || c.OrderIndex >= len(prepared) {
			return agg, false, fmt.Errorf("%w: offer order index %d", ErrInvalidFulfillmentComponentData, c.OrderIndex)
		}
		po := prepared[c.OrderIndex]
		if !po.available {
			continue
		}
		if c.ItemIndex < 0 || c.ItemIndex >= len(po.offer) {
			return agg, false, fmt.Errorf("%w: offer item index %d of order %d", ErrInvalidFulfillmentComponentData, c.ItemIndex, c.OrderIndex)
		}
		it := po.offer[c.ItemIndex]
		amount := offers[c.OrderIndex][c.ItemIndex]
		if !ok {
			agg = offerAggregate{
				offerer:    po.params.Offerer,
				conduitKey: po.params.ConduitKey,
				item:       it,
				amount:     new(big.Int),
				first:      amount,
				source:     &itemRef{hash: po.hash, order: po.index, side: SideOffer, item: c.ItemIndex},
			}
			ok = true
		} else if po.params.Offerer != agg.offerer || po.params.ConduitKey != agg.conduitKey ||
			!sameItem(it.ItemType, it.Token, it.Identifier, agg.item.ItemType, agg.item.Token, agg.item.Identifier) {
			return agg, false, fmt.Errorf("%w: offer component %d/%d differs from the first", ErrInvalidFulfillmentComponentData, c.OrderIndex, c.ItemIndex)
		}
		agg.amount.Add(agg.amount, amount)
		amount.SetInt64(0)
	}
	return agg, ok, nil
}

// aggregateConsideration is aggregateOffer for consideration components.
func aggregateConsideration(prepared []*preparedOrder, considerations [][]*big.Int, components []FulfillmentComponent) (agg considerationAggregate, ok bool, err error) {
	for _, c := range components {
		if c.OrderIndex < 0 || c.OrderIndex >= len(prepared) {
			return agg, false, fmt.Errorf("%w: consideration order index %d", ErrInvalidFulfillmentComponentData, c.OrderIndex)
		}
		po := prepared[c.OrderIndex]
		if !po.available {
			continue
		}
		if c.ItemIndex < 0 || c.ItemIndex >= len(po.consideration) {
			return agg, false, fmt.Errorf("%w: consideration item index %d of order %d", ErrInvalidFulfillmentComponentData, c.ItemIndex, c.OrderIndex)
		}
		it := po.consideration[c.ItemIndex]
		amount := considerations[c.OrderIndex][c.ItemIndex]
		if !ok {
			agg = considerationAggregate{
				item:   it,
				amount: new(big.Int),
				first:  amount,
				source: &itemRef{hash: po.hash, order: po.index, side: SideConsideration, item: c.ItemIndex},
			}
			ok = true
		} else if it.Recipient != agg.item.Recipient ||
			!sameItem(it.ItemType, it.Token, it.Identifier, agg.item.ItemType, agg.item.Token, agg.item.Identifier) {
			return agg, false, fmt.Errorf("%w: consideration component %d/%d differs from the first", ErrInvalidFulfillmentComponentData, c.OrderIndex, c.ItemIndex)
		}
		agg.amount.Add(agg.amount, amount)
		amount.SetInt64(0)
	}
	return agg, ok, nil
}

// applyFulfillment nets one fulfillment: the smaller side moves from the
// offerer to the consideration recipient and the difference is written
// back to the first component of the larger side.
func applyFulfillment(prepared []*preparedOrder, offers, considerations [][]*big.Int, f Fulfillment) (Execution, error) {
	if len(f.OfferComponents) == 0 || len(f.ConsiderationComponents) == 0 {
		return Execution{}, ErrOfferAndConsiderationRequiredOnFulfillment
	}
	cAgg, cOK, err := aggregateConsideration(prepared, considerations, f.ConsiderationComponents)
	if err != nil {
		return Execution{}, err
	}
	oAgg, oOK, err := aggregateOffer(prepared, offers, f.OfferComponents)
	if err != nil {
		return Execution{}, err
	}
	if !cOK || !oOK {
		return Execution{}, ErrMissingFulfillmentComponentOnAggregation
	}
	if !sameItem(oAgg.item.ItemType, oAgg.item.Token, oAgg.item.Identifier, cAgg.item.ItemType, cAgg.item.Token, cAgg.item.Identifier) {
		return Execution{}, ErrMismatchedFulfillmentOfferAndConsiderationComponents
	}

	moved := new(big.Int)
	if oAgg.amount.Cmp(cAgg.amount) > 0 {
		moved.Set(cAgg.amount)
		oAgg.first.Sub(oAgg.amount, cAgg.amount)
	} else {
		moved.Set(oAgg.amount)
		cAgg.first.Sub(cAgg.amount, oAgg.amount)
	}

	return Execution{
		Item: ReceivedItem{
			ItemType:   cAgg.item.ItemType,
			Token:      cAgg.item.Token,
			Identifier: cAgg.item.Identifier,
			Amount:     moved,
			Recipient:  cAgg.item.Recipient,
		},
		Offerer:    oAgg.offerer,
		ConduitKey: oAgg.conduitKey,
		source:     oAgg.source,
	}, nil
}
