package settlement

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperport/pkg/crypto"
)

// ToEIP712 converts order parameters into the typed-data components that
// are signed, using counter as the offerer counter. Tip consideration items
// are left out.
func ToEIP712(p *OrderParameters, counter *big.Int) (*crypto.OrderEIP712, error) {
	original, err := p.originalConsiderationCount()
	if err != nil {
		return nil, err
	}
	out := &crypto.OrderEIP712{
		Offerer:       p.Offerer,
		Zone:          p.Zone,
		Offer:         make([]crypto.OfferItemEIP712, 0, len(p.Offer)),
		Consideration: make([]crypto.ConsiderationItemEIP712, 0, original),
		OrderType:     uint8(p.OrderType),
		StartTime:     bigOrZero(p.StartTime),
		EndTime:       bigOrZero(p.EndTime),
		ZoneHash:      p.ZoneHash,
		Salt:          bigOrZero(p.Salt),
		ConduitKey:    p.ConduitKey,
		Counter:       bigOrZero(counter),
	}
	for _, it := range p.Offer {
		out.Offer = append(out.Offer, crypto.OfferItemEIP712{
			ItemType:             uint8(it.ItemType),
			Token:                it.Token,
			IdentifierOrCriteria: bigOrZero(it.IdentifierOrCriteria),
			StartAmount:          bigOrZero(it.StartAmount),
			EndAmount:            bigOrZero(it.EndAmount),
		})
	}
	for _, it := range p.Consideration[:original] {
		out.Consideration = append(out.Consideration, crypto.ConsiderationItemEIP712{
			ItemType:             uint8(it.ItemType),
			Token:                it.Token,
			IdentifierOrCriteria: bigOrZero(it.IdentifierOrCriteria),
			StartAmount:          bigOrZero(it.StartAmount),
			EndAmount:            bigOrZero(it.EndAmount),
			Recipient:            it.Recipient,
		})
	}
	return out, nil
}

// ContractOrderHash is the identity of a contract order: the offerer
// address in the high 20 bytes and the nonce big-endian in the low 12.
func ContractOrderHash(offerer common.Address, nonce *big.Int) common.Hash {
	var h common.Hash
	copy(h[:20], offerer.Bytes())
	n := bigOrZero(nonce).Bytes()
	if len(n) > 12 {
		n = n[len(n)-12:]
	}
	copy(h[32-len(n):], n)
	return h
}

func (e *Engine) hashOrder(p *OrderParameters, counter *big.Int) (common.Hash, error) {
	if !p.OrderType.Valid() {
		return common.Hash{}, fmt.Errorf("%w: %d", ErrInvalidOrderType, p.OrderType)
	}
	components, err := ToEIP712(p, counter)
	if err != nil {
		return common.Hash{}, err
	}
	return e.signer.HashOrder(components)
}
