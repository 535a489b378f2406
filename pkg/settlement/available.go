package settlement

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// FulfillAvailableOrders fills as many of orders as are fillable, up to
// maximumFulfilled, skipping the rest. Offer aggregations go to the caller
// and consideration aggregations are paid by the caller.
func (e *Engine) FulfillAvailableOrders(ctx context.Context, call Call, orders []Order, offerFulfillments, considerationFulfillments [][]FulfillmentComponent, fulfillerConduitKey common.Hash, maximumFulfilled int) ([]bool, []Execution, error) {
	advanced := make([]AdvancedOrder, len(orders))
	for i, o := range orders {
		advanced[i] = o.Advanced()
	}
	var (
		available  []bool
		executions []Execution
	)
	err := e.run(ctx, call, "fulfillAvailableOrders", func(x *execution) error {
		var err error
		available, executions, err = x.fulfillAvailable(advanced, nil, offerFulfillments, considerationFulfillments, fulfillerConduitKey, call.Caller, maximumFulfilled)
		return err
	})
	return available, executions, err
}

// FulfillAvailableAdvancedOrders is FulfillAvailableOrders for advanced
// orders, sending offer aggregations to recipient (the caller when zero).
func (e *Engine) FulfillAvailableAdvancedOrders(ctx context.Context, call Call, orders []AdvancedOrder, resolvers []CriteriaResolver, offerFulfillments, considerationFulfillments [][]FulfillmentComponent, fulfillerConduitKey common.Hash, recipient common.Address, maximumFulfilled int) ([]bool, []Execution, error) {
	if recipient == (common.Address{}) {
		recipient = call.Caller
	}
	var (
		available  []bool
		executions []Execution
	)
	err := e.run(ctx, call, "fulfillAvailableAdvancedOrders", func(x *execution) error {
		var err error
		available, executions, err = x.fulfillAvailable(orders, resolvers, offerFulfillments, considerationFulfillments, fulfillerConduitKey, recipient, maximumFulfilled)
		return err
	})
	return available, executions, err
}

func (x *execution) fulfillAvailable(orders []AdvancedOrder, resolvers []CriteriaResolver, offerFulfillments, considerationFulfillments [][]FulfillmentComponent, fulfillerConduitKey common.Hash, recipient common.Address, maximumFulfilled int) ([]bool, []Execution, error) {
	if maximumFulfilled <= 0 || maximumFulfilled > len(orders) {
		maximumFulfilled = len(orders)
	}
	prepared, err := x.prepareAll(orders, resolvers, false, maximumFulfilled)
	if err != nil {
		return nil, nil, err
	}

	available := make([]bool, len(prepared))
	found := false
	for i, po := range prepared {
		available[i] = po.available
		found = found || po.available
	}
	if !found {
		return nil, nil, ErrNoSpecifiedOrdersAvailable
	}

	offers, considerations := remainingAmounts(prepared)

	var executions []Execution
	for i, components := range offerFulfillments {
		agg, ok, err := aggregateOffer(prepared, offers, components)
		if err != nil {
			return nil, nil, fmt.Errorf("offer fulfillment %d: %w", i, err)
		}
		if !ok {
			continue
		}
		executions = appendExecution(executions, Execution{
			Item: ReceivedItem{
				ItemType:   agg.item.ItemType,
				Token:      agg.item.Token,
				Identifier: agg.item.Identifier,
				Amount:     agg.amount,
				Recipient:  recipient,
			},
			Offerer:    agg.offerer,
			ConduitKey: agg.conduitKey,
			source:     agg.source,
		})
	}
	for i, components := range considerationFulfillments {
		agg, ok, err := aggregateConsideration(prepared, considerations, components)
		if err != nil {
			return nil, nil, fmt.Errorf("consideration fulfillment %d: %w", i, err)
		}
		if !ok {
			continue
		}
		item := agg.item
		item.Amount = agg.amount
		executions = appendExecution(executions, Execution{
			Item:       item,
			Offerer:    x.call.Caller,
			ConduitKey: fulfillerConduitKey,
			source:     agg.source,
		})
	}

	for _, po := range prepared {
		if !po.available {
			continue
		}
		for j, left := range considerations[po.index] {
			if left.Sign() != 0 {
				return nil, nil, itemErr("fulfillAvailable", po.hash, po.index, SideConsideration, j,
					fmt.Errorf("%w: %s unpaid", ErrConsiderationNotMet, left))
			}
		}
	}

	if err := x.execute(executions); err != nil {
		return nil, nil, err
	}
	if err := x.finalize(prepared); err != nil {
		return nil, nil, err
	}

	for _, po := range prepared {
		if !po.available {
			continue
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
	}
	x.e.logger.Info("available orders fulfilled",
		zap.Int("orders", len(prepared)),
		zap.Int("executions", len(executions)),
		zap.String("mode", x.op))
	return available, executions, nil
}
