package settlement

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperport/pkg/chain"
)

// prepareContractOrder asks a contract offerer to generate the order for
// this fill. The offerer's nonce is read and incremented before the call so
// every contract order settled in the same call gets a distinct hash.
func (x *execution) prepareContractOrder(index int, order *AdvancedOrder, revertOnInvalid bool) (*preparedOrder, error) {
	p := &order.Parameters
	offerer, ok := chain.ContractAs[ContractOfferer](x.e.state, p.Offerer)
	if !ok {
		err := orderErr("generate", common.Hash{}, index, fmt.Errorf("%w: %s is not a contract offerer", ErrInvalidContractOrder, p.Offerer.Hex()))
		if revertOnInvalid {
			return nil, err
		}
		return unavailable(index, order), nil
	}

	nonce, err := x.tx.nonce(p.Offerer)
	if err != nil {
		return nil, err
	}
	hash := ContractOrderHash(p.Offerer, nonce)
	x.tx.setNonce(p.Offerer, new(big.Int).Add(nonce, big.NewInt(1)))

	minimumReceived := make([]SpentItem, len(p.Offer))
	for i, it := range p.Offer {
		minimumReceived[i] = SpentItem{
			ItemType:   it.ItemType,
			Token:      it.Token,
			Identifier: new(big.Int).Set(bigOrZero(it.IdentifierOrCriteria)),
			Amount:     new(big.Int).Set(bigOrZero(it.StartAmount)),
		}
	}
	maximumSpent := make([]SpentItem, len(p.Consideration))
	for i, it := range p.Consideration {
		maximumSpent[i] = SpentItem{
			ItemType:   it.ItemType,
			Token:      it.Token,
			Identifier: new(big.Int).Set(bigOrZero(it.IdentifierOrCriteria)),
			Amount:     new(big.Int).Set(bigOrZero(it.StartAmount)),
		}
	}

	offer, consideration, err := offerer.GenerateOrder(x.ctx, x.call.Caller, minimumReceived, maximumSpent, order.ExtraData)
	if err == nil {
		err = checkGeneratedOrder(minimumReceived, maximumSpent, offer, consideration)
	}
	if err == nil {
		err = x.checkNonceAfterCallback(p.Offerer, nonce)
	}
	if err != nil {
		err = orderErr("generate", hash, index, fmt.Errorf("%w: %w", ErrInvalidContractOrder, err))
		if revertOnInvalid {
			return nil, err
		}
		x.e.logger.Debug("contract order skipped", zap.Int("index", index), zap.Error(err))
		return unavailable(index, order), nil
	}

	params := copyParameters(*p)
	params.Offer = make([]OfferItem, len(offer))
	for i, it := range offer {
		params.Offer[i] = OfferItem{
			ItemType:             it.ItemType,
			Token:                it.Token,
			IdentifierOrCriteria: new(big.Int).Set(bigOrZero(it.Identifier)),
			StartAmount:          new(big.Int).Set(bigOrZero(it.Amount)),
			EndAmount:            new(big.Int).Set(bigOrZero(it.Amount)),
		}
	}
	params.Consideration = make([]ConsiderationItem, len(consideration))
	for i, it := range consideration {
		params.Consideration[i] = ConsiderationItem{
			ItemType:             it.ItemType,
			Token:                it.Token,
			IdentifierOrCriteria: new(big.Int).Set(bigOrZero(it.Identifier)),
			StartAmount:          new(big.Int).Set(bigOrZero(it.Amount)),
			EndAmount:            new(big.Int).Set(bigOrZero(it.Amount)),
			Recipient:            it.Recipient,
		}
	}
	params.TotalOriginalConsiderationItems = 0

	status := NewOrderStatus()
	status.IsValidated = true
	status.TotalFilled.SetInt64(1)
	status.TotalSize.SetInt64(1)
	x.tx.setStatus(hash, status)

	x.e.logger.Debug("contract order generated",
		zap.String("order_hash", hash.Hex()),
		zap.String("offerer", p.Offerer.Hex()),
		zap.String("nonce", nonce.String()))

	return &preparedOrder{
		index:       index,
		hash:        hash,
		params:      params,
		numerator:   big.NewInt(1),
		denominator: big.NewInt(1),
		extraData:   order.ExtraData,
		available:   true,
		contract:    true,
		nonce:       nonce,
	}, nil
}

func sameItem(aType ItemType, aToken common.Address, aID *big.Int, bType ItemType, bToken common.Address, bID *big.Int) bool {
	return aType == bType && aToken == bToken && bigOrZero(aID).Cmp(bigOrZero(bID)) == 0
}

// checkGeneratedOrder enforces that a generated order gives at least the
// minimum offer and asks for no more than the maximum consideration.
func checkGeneratedOrder(minimumReceived, maximumSpent, offer []SpentItem, consideration []ReceivedItem) error {
	if len(offer) < len(minimumReceived) {
		return fmt.Errorf("offer has %d items, minimum is %d", len(offer), len(minimumReceived))
	}
	for i, want := range minimumReceived {
		got := offer[i]
		if !sameItem(got.ItemType, got.Token, got.Identifier, want.ItemType, want.Token, want.Identifier) {
			return fmt.Errorf("offer item %d does not match the requested item", i)
		}
		if bigOrZero(got.Amount).Cmp(want.Amount) < 0 {
			return fmt.Errorf("offer item %d amount %s below minimum %s", i, got.Amount, want.Amount)
		}
	}
	if len(consideration) > len(maximumSpent) {
		return fmt.Errorf("consideration has %d items, maximum is %d", len(consideration), len(maximumSpent))
	}
	for i, got := range consideration {
		limit := maximumSpent[i]
		if !sameItem(got.ItemType, got.Token, got.Identifier, limit.ItemType, limit.Token, limit.Identifier) {
			return fmt.Errorf("consideration item %d does not match the offered item", i)
		}
		if bigOrZero(got.Amount).Cmp(limit.Amount) > 0 {
			return fmt.Errorf("consideration item %d amount %s above maximum %s", i, got.Amount, limit.Amount)
		}
	}
	return nil
}

// ratifyContractOrder lets the offerer confirm the settled order.
func (x *execution) ratifyContractOrder(po *preparedOrder, orderHashes []common.Hash) error {
	offerer, ok := chain.ContractAs[ContractOfferer](x.e.state, po.params.Offerer)
	if !ok {
		return orderErr("ratify", po.hash, po.index, ErrInvalidContractOrder)
	}
	magic, err := offerer.RatifyOrder(x.ctx, po.offer, po.consideration, po.extraData, orderHashes, new(big.Int).Set(po.nonce))
	if err != nil {
		return orderErr("ratify", po.hash, po.index, fmt.Errorf("%w: %w", ErrInvalidContractOrder, err))
	}
	if magic != RatifyOrderMagic {
		return orderErr("ratify", po.hash, po.index, fmt.Errorf("%w: ratify returned %x", ErrInvalidContractOrder, magic))
	}
	return nil
}

// checkNonceAfterCallback re-reads the offerer nonce after an external call.
func (x *execution) checkNonceAfterCallback(offerer common.Address, used *big.Int) error {
	current, err := x.tx.nonce(offerer)
	if err != nil {
		return err
	}
	if want := new(big.Int).Add(used, big.NewInt(1)); current.Cmp(want) != 0 {
		return fmt.Errorf("%w: expected %s, found %s", ErrInvalidContractOrderNonce, want, current)
	}
	return nil
}
