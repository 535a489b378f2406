package settlement

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Cancel cancels orders given by their components (with the counter they
// were signed under). Only the offerer or the zone may cancel, and contract
// orders cannot be cancelled.
func (e *Engine) Cancel(ctx context.Context, call Call, orders []OrderParameters) error {
	return e.run(ctx, call, "cancel", func(x *execution) error {
		x.orders = len(orders)
		for i := range orders {
			p := &orders[i]
			if p.OrderType == OrderContract {
				return orderErr("cancel", common.Hash{}, i, ErrCannotCancelOrder)
			}
			if x.call.Caller != p.Offerer && x.call.Caller != p.Zone {
				return orderErr("cancel", common.Hash{}, i, ErrInvalidCanceller)
			}
			hash, err := x.e.hashOrder(p, p.Counter)
			if err != nil {
				return orderErr("cancel", hash, i, err)
			}
			status, err := x.tx.status(hash)
			if err != nil {
				return err
			}
			status.IsValidated = false
			status.IsCancelled = true
			x.tx.setStatus(hash, status)
			x.emit(OrderCancelled{OrderHash: hash, Offerer: p.Offerer, Zone: p.Zone})
			x.e.logger.Info("order cancelled",
				zap.String("order_hash", hash.Hex()),
				zap.String("offerer", p.Offerer.Hex()))
		}
		return nil
	})
}

// Validate marks orders as validated so later fills skip the signature
// check. Already validated orders are left alone.
func (e *Engine) Validate(ctx context.Context, call Call, orders []Order) error {
	return e.run(ctx, call, "validate", func(x *execution) error {
		x.orders = len(orders)
		for i := range orders {
			p := &orders[i].Parameters
			if p.OrderType == OrderContract {
				return orderErr("validate", common.Hash{}, i, fmt.Errorf("%w: contract orders cannot be validated", ErrInvalidContractOrder))
			}
			counter, err := x.tx.counter(p.Offerer)
			if err != nil {
				return err
			}
			hash, err := x.e.hashOrder(p, counter)
			if err != nil {
				return orderErr("validate", hash, i, err)
			}
			status, err := x.tx.status(hash)
			if err != nil {
				return err
			}
			if status.IsCancelled {
				return orderErr("validate", hash, i, ErrOrderIsCancelled)
			}
			if status.FullyFilled() {
				return orderErr("validate", hash, i, ErrOrderAlreadyFilled)
			}
			if status.IsValidated {
				continue
			}
			if err := x.verifySignature(p.Offerer, hash, orders[i].Signature); err != nil {
				return orderErr("validate", hash, i, err)
			}
			status.IsValidated = true
			x.tx.setStatus(hash, status)
			x.emit(OrderValidated{OrderHash: hash, Parameters: copyParameters(*p)})
		}
		return nil
	})
}

// IncrementCounter invalidates every order the caller signed so far and
// returns the new counter.
func (e *Engine) IncrementCounter(ctx context.Context, call Call) (*big.Int, error) {
	var next *big.Int
	err := e.run(ctx, call, "incrementCounter", func(x *execution) error {
		current, err := x.tx.counter(x.call.Caller)
		if err != nil {
			return err
		}
		next = new(big.Int).Add(current, big.NewInt(1))
		x.tx.setCounter(x.call.Caller, next)
		x.emit(CounterIncremented{NewCounter: new(big.Int).Set(next), Offerer: x.call.Caller})
		x.e.logger.Info("counter incremented",
			zap.String("offerer", x.call.Caller.Hex()),
			zap.String("counter", next.String()))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}
