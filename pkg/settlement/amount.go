package settlement

import (
	"fmt"
	"math/big"
)

// ResolveAmount returns the amount of an item at time now when filling
// numerator/denominator of its order.
//
// Between startTime and endTime the amount moves linearly from startAmount
// to endAmount. Interpolation and fraction are applied as one rational,
//
//	(startAmount*remaining + endAmount*elapsed) * numerator / (duration * denominator)
//
// so the result is rounded once: down for offer items, up for
// consideration items (roundUp).
func ResolveAmount(startAmount, endAmount, startTime, endTime, now, numerator, denominator *big.Int, roundUp bool) (*big.Int, error) {
	if startTime == nil || endTime == nil || endTime.Cmp(startTime) <= 0 {
		return nil, fmt.Errorf("%w: end %v not after start %v", ErrInvalidTime, endTime, startTime)
	}
	if numerator == nil || denominator == nil || numerator.Sign() <= 0 || denominator.Sign() <= 0 || numerator.Cmp(denominator) > 0 {
		return nil, fmt.Errorf("%w: %v/%v", ErrBadFraction, numerator, denominator)
	}
	start := bigOrZero(startAmount)
	end := bigOrZero(endAmount)

	var value, divisor *big.Int
	if start.Cmp(end) == 0 {
		value = new(big.Int).Mul(start, numerator)
		divisor = new(big.Int).Set(denominator)
	} else {
		duration := new(big.Int).Sub(endTime, startTime)
		elapsed := new(big.Int).Sub(now, startTime)
		if elapsed.Sign() < 0 {
			elapsed.SetInt64(0)
		}
		if elapsed.Cmp(duration) > 0 {
			elapsed.Set(duration)
		}
		remaining := new(big.Int).Sub(duration, elapsed)

		value = new(big.Int).Mul(start, remaining)
		value.Add(value, new(big.Int).Mul(end, elapsed))
		value.Mul(value, numerator)
		divisor = new(big.Int).Mul(duration, denominator)
	}

	q, r := new(big.Int).QuoRem(value, divisor, new(big.Int))
	if roundUp && r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q, nil
}

func resolveOffer(item OfferItem, p *OrderParameters, now, num, den *big.Int) (SpentItem, error) {
	amount, err := ResolveAmount(item.StartAmount, item.EndAmount, p.StartTime, p.EndTime, now, num, den, false)
	if err != nil {
		return SpentItem{}, err
	}
	if amount.Sign() == 0 {
		return SpentItem{}, ErrMissingItemAmount
	}
	return SpentItem{
		ItemType:   item.ItemType,
		Token:      item.Token,
		Identifier: new(big.Int).Set(bigOrZero(item.IdentifierOrCriteria)),
		Amount:     amount,
	}, nil
}

func resolveConsideration(item ConsiderationItem, p *OrderParameters, now, num, den *big.Int) (ReceivedItem, error) {
	amount, err := ResolveAmount(item.StartAmount, item.EndAmount, p.StartTime, p.EndTime, now, num, den, true)
	if err != nil {
		return ReceivedItem{}, err
	}
	if amount.Sign() == 0 {
		return ReceivedItem{}, ErrMissingItemAmount
	}
	return ReceivedItem{
		ItemType:   item.ItemType,
		Token:      item.Token,
		Identifier: new(big.Int).Set(bigOrZero(item.IdentifierOrCriteria)),
		Amount:     amount,
		Recipient:  item.Recipient,
	}, nil
}
