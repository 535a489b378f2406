package settlement

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperport/pkg/chain"
	"github.com/uhyunpark/hyperport/pkg/crypto"
)

// preparedOrder is an order that passed validation for this call, with its
// fill fraction fixed and its items resolved.
type preparedOrder struct {
	index       int
	hash        common.Hash
	params      OrderParameters
	numerator   *big.Int
	denominator *big.Int
	extraData   []byte
	available   bool

	contract bool
	nonce    *big.Int

	offer         []SpentItem
	consideration []ReceivedItem
}

func copyParameters(p OrderParameters) OrderParameters {
	out := p
	out.Offer = make([]OfferItem, len(p.Offer))
	for i, it := range p.Offer {
		it.IdentifierOrCriteria = new(big.Int).Set(bigOrZero(it.IdentifierOrCriteria))
		out.Offer[i] = it
	}
	out.Consideration = make([]ConsiderationItem, len(p.Consideration))
	for i, it := range p.Consideration {
		it.IdentifierOrCriteria = new(big.Int).Set(bigOrZero(it.IdentifierOrCriteria))
		out.Consideration[i] = it
	}
	return out
}

func unavailable(index int, order *AdvancedOrder) *preparedOrder {
	return &preparedOrder{index: index, params: copyParameters(order.Parameters)}
}

// prepareOrder validates order and records its fill. When revertOnInvalid is
// false, expired, cancelled or filled orders (and contract orders the
// offerer declines) come back unavailable instead of failing the call.
func (x *execution) prepareOrder(index int, order *AdvancedOrder, revertOnInvalid bool) (*preparedOrder, error) {
	p := &order.Parameters
	skip := func(err error) (*preparedOrder, error) {
		if revertOnInvalid {
			return nil, err
		}
		x.e.logger.Debug("order skipped", zap.Int("index", index), zap.Error(err))
		return unavailable(index, order), nil
	}

	if !p.OrderType.Valid() {
		return nil, orderErr("validate", common.Hash{}, index, fmt.Errorf("%w: %d", ErrInvalidOrderType, p.OrderType))
	}
	if err := x.checkTime(p); err != nil {
		return skip(orderErr("validate", common.Hash{}, index, err))
	}

	num, den := order.Numerator, order.Denominator
	if num == nil || den == nil || num.Sign() <= 0 || den.Sign() <= 0 || num.Cmp(den) > 0 {
		return nil, orderErr("validate", common.Hash{}, index, fmt.Errorf("%w: %v/%v", ErrBadFraction, num, den))
	}

	if p.OrderType == OrderContract {
		if num.Cmp(den) != 0 {
			return nil, orderErr("validate", common.Hash{}, index, fmt.Errorf("%w: contract orders must be filled 1/1", ErrBadFraction))
		}
		return x.prepareContractOrder(index, order, revertOnInvalid)
	}
	if num.Cmp(den) < 0 && !p.OrderType.PartialFills() {
		return nil, orderErr("validate", common.Hash{}, index, ErrPartialFillsNotEnabled)
	}

	counter, err := x.tx.counter(p.Offerer)
	if err != nil {
		return nil, err
	}
	hash, err := x.e.hashOrder(p, counter)
	if err != nil {
		return nil, orderErr("validate", common.Hash{}, index, err)
	}
	status, err := x.tx.status(hash)
	if err != nil {
		return nil, err
	}
	if status.IsCancelled {
		return skip(orderErr("validate", hash, index, ErrOrderIsCancelled))
	}
	if status.FullyFilled() {
		return skip(orderErr("validate", hash, index, ErrOrderAlreadyFilled))
	}

	if !status.IsValidated {
		if err := x.verifySignature(p.Offerer, hash, order.Signature); err != nil {
			return nil, orderErr("validate", hash, index, err)
		}
	}

	fillNum, fillDen, filled := applyFill(status.TotalFilled, status.TotalSize, num, den)
	status.IsValidated = true
	status.TotalFilled = filled
	status.TotalSize = fillDen
	x.tx.setStatus(hash, status)

	return &preparedOrder{
		index:       index,
		hash:        hash,
		params:      copyParameters(*p),
		numerator:   fillNum,
		denominator: fillDen,
		extraData:   order.ExtraData,
		available:   true,
	}, nil
}

func (x *execution) checkTime(p *OrderParameters) error {
	start, end := bigOrZero(p.StartTime), bigOrZero(p.EndTime)
	if start.Cmp(x.now) > 0 || end.Cmp(x.now) <= 0 {
		return fmt.Errorf("%w: now %s outside [%s, %s)", ErrInvalidTime, x.now, start, end)
	}
	return nil
}

// applyFill combines a requested fraction num/den with what was already
// filled (filled/size, size zero when untouched). It returns the fraction
// to fill now, the new denominator and the new filled numerator. A request
// of 1/1 fills the remainder; requests exceeding the remainder are clamped.
func applyFill(filled, size, num, den *big.Int) (fillNum, fillDen, newFilled *big.Int) {
	num = new(big.Int).Set(num)
	den = new(big.Int).Set(den)
	if size == nil || size.Sign() == 0 {
		g := new(big.Int).GCD(nil, nil, num, den)
		num.Div(num, g)
		den.Div(den, g)
		return num, den, new(big.Int).Set(num)
	}

	curNum := new(big.Int).Set(filled)
	curDen := new(big.Int).Set(size)
	if den.Cmp(big.NewInt(1)) == 0 {
		num.Set(curDen)
		den.Set(curDen)
	} else if curDen.Cmp(den) != 0 {
		curNum.Mul(curNum, den)
		num.Mul(num, curDen)
		den.Mul(den, curDen)
	}

	if sum := new(big.Int).Add(curNum, num); sum.Cmp(den) > 0 {
		num.Sub(den, curNum)
	}
	curNum.Add(curNum, num)

	g := new(big.Int).GCD(nil, nil, num, den)
	g.GCD(nil, nil, g, curNum)
	num.Div(num, g)
	den.Div(den, g)
	curNum.Div(curNum, g)
	return num, den, curNum
}

// verifySignature checks that signature authorises orderHash for offerer.
// The offerer calling the engine itself needs no signature.
func (x *execution) verifySignature(offerer common.Address, orderHash common.Hash, signature []byte) error {
	if offerer == x.call.Caller {
		return nil
	}
	digest := x.e.signer.Digest(orderHash)

	if x.e.state.IsContract(offerer) {
		if w, ok := chain.ContractAs[ERC1271](x.e.state, offerer); ok {
			magic, err := w.IsValidSignature(digest, signature)
			if err == nil && magic == ERC1271MagicValue {
				return nil
			}
		}
		if w, ok := chain.ContractAs[LegacyERC1271](x.e.state, offerer); ok {
			magic, err := w.IsValidSignatureData(digest.Bytes(), signature)
			if err == nil && magic == LegacyERC1271MagicValue {
				return nil
			}
		}
		return fmt.Errorf("%w: contract %s did not confirm the signature", ErrInvalidSigner, offerer.Hex())
	}

	if len(signature) != 64 && len(signature) != 65 {
		return fmt.Errorf("%w: length %d", ErrInvalidSignature, len(signature))
	}
	recovered, err := crypto.RecoverAddress(digest.Bytes(), signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if recovered != offerer {
		return fmt.Errorf("%w: recovered %s", ErrInvalidSigner, recovered.Hex())
	}
	return nil
}

// resolveItems computes the concrete amounts of an available order.
func (x *execution) resolveItems(po *preparedOrder) error {
	if !po.available {
		return nil
	}
	p := &po.params
	po.offer = make([]SpentItem, len(p.Offer))
	for j, it := range p.Offer {
		spent, err := resolveOffer(it, p, x.now, po.numerator, po.denominator)
		if err != nil {
			return itemErr("resolve", po.hash, po.index, SideOffer, j, err)
		}
		po.offer[j] = spent
	}
	po.consideration = make([]ReceivedItem, len(p.Consideration))
	for j, it := range p.Consideration {
		received, err := resolveConsideration(it, p, x.now, po.numerator, po.denominator)
		if err != nil {
			return itemErr("resolve", po.hash, po.index, SideConsideration, j, err)
		}
		po.consideration[j] = received
	}
	return nil
}

// checkZone asks the zone of a restricted order to approve it.
func (x *execution) checkZone(po *preparedOrder, orderHashes []common.Hash) error {
	p := &po.params
	if !p.OrderType.Restricted() || x.call.Caller == p.Zone {
		return nil
	}
	zone, ok := chain.ContractAs[Zone](x.e.state, p.Zone)
	if !ok {
		return orderErr("zone", po.hash, po.index, fmt.Errorf("%w: zone %s has no code", ErrInvalidRestrictedOrder, p.Zone.Hex()))
	}
	magic, err := zone.ValidateOrder(x.ctx, ZoneParameters{
		OrderHash:     po.hash,
		Fulfiller:     x.call.Caller,
		Offerer:       p.Offerer,
		Offer:         po.offer,
		Consideration: po.consideration,
		ExtraData:     po.extraData,
		OrderHashes:   orderHashes,
		StartTime:     bigOrZero(p.StartTime),
		EndTime:       bigOrZero(p.EndTime),
		ZoneHash:      p.ZoneHash,
	})
	if err != nil {
		return orderErr("zone", po.hash, po.index, fmt.Errorf("%w: %w", ErrInvalidRestrictedOrder, err))
	}
	if magic != ValidateOrderMagic {
		return orderErr("zone", po.hash, po.index, fmt.Errorf("%w: zone returned %x", ErrInvalidRestrictedOrder, magic))
	}
	return nil
}

// finalize runs the post-transfer checks of every available order.
func (x *execution) finalize(orders []*preparedOrder) error {
	hashes := availableHashes(orders)
	for _, po := range orders {
		if !po.available {
			continue
		}
		var err error
		if po.contract {
			err = x.ratifyContractOrder(po, hashes)
		} else {
			err = x.checkZone(po, hashes)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func availableHashes(orders []*preparedOrder) []common.Hash {
	hashes := make([]common.Hash, 0, len(orders))
	for _, po := range orders {
		if po.available {
			hashes = append(hashes, po.hash)
		}
	}
	return hashes
}
