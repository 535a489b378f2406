package settlement

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperport/pkg/chain"
	"github.com/uhyunpark/hyperport/pkg/conduit"
	"github.com/uhyunpark/hyperport/pkg/token"
)

// router executes item transfers for one call. Consecutive conduit
// transfers under the same key are accumulated and sent as one batch;
// any other transfer flushes the batch first so execution order is kept.
//
// Native currency attached to the call sits in the engine's balance and is
// paid out from there; whatever is left above base is refunded.
type router struct {
	x    *execution
	base *big.Int

	pendingKey common.Hash
	pending    []token.Transfer
}

func newRouter(x *execution, base *big.Int) *router {
	return &router{x: x, base: base}
}

// transfer moves item from from to item.Recipient using conduitKey.
func (r *router) transfer(item ReceivedItem, from common.Address, conduitKey common.Hash) error {
	if item.ItemType.IsCriteria() {
		return ErrCriteriaNotMet
	}
	amount := bigOrZero(item.Amount)
	identifier := bigOrZero(item.Identifier)

	switch item.ItemType {
	case ItemNative:
		if item.Token != (common.Address{}) || identifier.Sign() != 0 {
			return ErrUnusedItemParameters
		}
		if from != r.x.call.Caller {
			return fmt.Errorf("%w: native items can only be supplied by the caller", ErrInvalidNativeOfferItem)
		}
		if err := r.flush(); err != nil {
			return err
		}
		return r.payNative(item.Recipient, amount)
	case ItemERC20:
		if identifier.Sign() != 0 {
			return ErrUnusedItemParameters
		}
	case ItemERC721:
		if amount.Cmp(big.NewInt(1)) != 0 {
			return fmt.Errorf("%w: got %s", ErrInvalidERC721TransferAmount, amount)
		}
	case ItemERC1155:
	default:
		return fmt.Errorf("%w: %d", ErrInvalidItemType, item.ItemType)
	}

	tr := token.Transfer{
		Kind:       item.ItemType.kind(),
		Token:      item.Token,
		From:       from,
		To:         item.Recipient,
		Identifier: new(big.Int).Set(identifier),
		Amount:     new(big.Int).Set(amount),
	}

	if conduitKey == (common.Hash{}) {
		if err := r.flush(); err != nil {
			return err
		}
		r.x.e.metrics.ObserveTransfer(tr.Kind, false)
		return token.Execute(r.x.e.state, r.x.e.address, tr)
	}

	if len(r.pending) > 0 && r.pendingKey != conduitKey {
		if err := r.flush(); err != nil {
			return err
		}
	}
	r.pendingKey = conduitKey
	r.pending = append(r.pending, tr)
	return nil
}

func (r *router) payNative(to common.Address, amount *big.Int) error {
	e := r.x.e
	available := new(big.Int).Sub(e.state.NativeBalance(e.address), r.base)
	if available.Cmp(amount) < 0 {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientNativeTokensSupplied, amount, available)
	}
	r.x.e.metrics.ObserveTransfer(token.KindNative, false)
	return e.state.TransferNative(e.address, to, amount)
}

// flush sends the accumulated conduit batch.
func (r *router) flush() error {
	if len(r.pending) == 0 {
		return nil
	}
	key := r.pendingKey
	batch := r.pending
	r.pending = nil
	r.pendingKey = common.Hash{}

	e := r.x.e
	addr, ok := e.conduits.GetConduit(key)
	if !ok {
		return fmt.Errorf("%w: no conduit for key %s", ErrInvalidConduit, key.Hex())
	}
	exec, ok := chain.ContractAs[conduit.Executor](e.state, addr)
	if !ok {
		return fmt.Errorf("%w: no code at %s", ErrInvalidConduit, addr.Hex())
	}
	magic, err := exec.Execute(r.x.ctx, e.address, batch)
	if err != nil {
		if errors.Is(err, conduit.ErrChannelClosed) {
			return fmt.Errorf("%w: %w", ErrInvalidConduit, err)
		}
		return err
	}
	if magic != conduit.ExecuteMagic {
		return fmt.Errorf("%w: conduit %s returned %x", ErrInvalidConduit, addr.Hex(), magic)
	}
	for _, tr := range batch {
		e.metrics.ObserveTransfer(tr.Kind, true)
	}
	e.logger.Debug("conduit batch executed",
		zap.String("conduit", addr.Hex()),
		zap.Int("transfers", len(batch)))
	return nil
}

// refund returns unspent native currency to the caller.
func (r *router) refund() error {
	e := r.x.e
	excess := new(big.Int).Sub(e.state.NativeBalance(e.address), r.base)
	if excess.Sign() <= 0 {
		return nil
	}
	return e.state.TransferNative(e.address, r.x.call.Caller, excess)
}
