package settlement_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperport/pkg/settlement"
	"github.com/uhyunpark/hyperport/pkg/wallet"
)

func TestCancelIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	seller := newSigner(t)
	buyer := common.HexToAddress("0x00000000000000000000000000000000000b0c01")
	stranger := common.HexToAddress("0x00000000000000000000000000000000000b0c02")
	env.mintNFT(seller.Address(), 1)
	env.fund(buyer, 100)

	p := env.params(seller.Address(), settlement.OrderFullOpen,
		[]settlement.OfferItem{nftOffer(1)},
		[]settlement.ConsiderationItem{erc20Pay(100, seller.Address())})
	order := env.order(seller, p)

	err := env.engine.Cancel(env.ctx, call(stranger), []settlement.OrderParameters{p})
	require.ErrorIs(t, err, settlement.ErrInvalidCanceller)

	require.NoError(t, env.engine.Cancel(env.ctx, call(seller.Address()), []settlement.OrderParameters{p}))
	hash, err := env.engine.GetOrderHash(p)
	require.NoError(t, err)
	st := env.status(hash)
	require.True(t, st.IsCancelled)
	require.False(t, st.IsValidated)

	_, err = env.engine.FulfillOrder(env.ctx, call(buyer), order, common.Hash{})
	require.ErrorIs(t, err, settlement.ErrOrderIsCancelled)

	err = env.engine.Validate(env.ctx, call(buyer), []settlement.Order{order})
	require.ErrorIs(t, err, settlement.ErrOrderIsCancelled)

	require.Equal(t, []string{"OrderCancelled"}, eventNames(env.events.Events()))
}

func TestZoneMayCancel(t *testing.T) {
	env := newTestEnv(t)
	seller := newSigner(t)
	zone := common.HexToAddress("0x00000000000000000000000000000000000b0c03")

	p := env.params(seller.Address(), settlement.OrderFullRestricted,
		[]settlement.OfferItem{nftOffer(1)},
		[]settlement.ConsiderationItem{erc20Pay(100, seller.Address())})
	p.Zone = zone
	require.NoError(t, env.engine.Cancel(env.ctx, call(zone), []settlement.OrderParameters{p}))

	p.OrderType = settlement.OrderContract
	err := env.engine.Cancel(env.ctx, call(seller.Address()), []settlement.OrderParameters{p})
	require.ErrorIs(t, err, settlement.ErrCannotCancelOrder)
}

func TestIncrementCounterInvalidatesOrders(t *testing.T) {
	env := newTestEnv(t)
	seller := newSigner(t)
	buyer := common.HexToAddress("0x00000000000000000000000000000000000b0c04")
	env.mintNFT(seller.Address(), 2)
	env.fund(buyer, 100)

	p := env.params(seller.Address(), settlement.OrderFullOpen,
		[]settlement.OfferItem{nftOffer(2)},
		[]settlement.ConsiderationItem{erc20Pay(100, seller.Address())})
	order := env.order(seller, p)

	next, err := env.engine.IncrementCounter(env.ctx, call(seller.Address()))
	require.NoError(t, err)
	require.Equal(t, int64(1), next.Int64())

	counter, err := env.engine.GetCounter(seller.Address())
	require.NoError(t, err)
	require.Equal(t, int64(1), counter.Int64())

	_, err = env.engine.FulfillOrder(env.ctx, call(buyer), order, common.Hash{})
	require.ErrorIs(t, err, settlement.ErrInvalidSigner)

	// re-signed under the new counter it fills
	fresh := env.params(seller.Address(), settlement.OrderFullOpen,
		[]settlement.OfferItem{nftOffer(2)},
		[]settlement.ConsiderationItem{erc20Pay(100, seller.Address())})
	require.Equal(t, int64(1), fresh.Counter.Int64())
	_, err = env.engine.FulfillOrder(env.ctx, call(buyer), env.order(seller, fresh), common.Hash{})
	require.NoError(t, err)

	events := env.events.Events()
	require.Equal(t, []string{"CounterIncremented", "OrderFulfilled"}, eventNames(events))
	inc := events[0].(settlement.CounterIncremented)
	require.Equal(t, seller.Address(), inc.Offerer)
}

func TestPartialFills(t *testing.T) {
	env := newTestEnv(t)
	seller := newSigner(t)
	buyer := common.HexToAddress("0x00000000000000000000000000000000000b0c05")
	env.mint1155(seller.Address(), 5, 10)
	env.fund(buyer, 1000)

	p := env.params(seller.Address(), settlement.OrderPartialOpen,
		[]settlement.OfferItem{{
			ItemType:             settlement.ItemERC1155,
			Token:                erc1155Addr,
			IdentifierOrCriteria: big.NewInt(5),
			StartAmount:          big.NewInt(10),
			EndAmount:            big.NewInt(10),
		}},
		[]settlement.ConsiderationItem{erc20Pay(100, seller.Address())})
	sig := env.sign(seller, p)
	fill := func(num, den int64) (common.Hash, error) {
		return env.engine.FulfillAdvancedOrder(env.ctx, call(buyer), settlement.AdvancedOrder{
			Parameters:  p,
			Numerator:   big.NewInt(num),
			Denominator: big.NewInt(den),
			Signature:   sig,
		}, nil, common.Hash{}, common.Address{})
	}

	hash, err := fill(1, 2)
	require.NoError(t, err)
	require.Equal(t, int64(5), env.erc1155.BalanceOf(buyer, big.NewInt(5)).Int64())
	require.Equal(t, int64(50), env.balance(seller.Address()))
	st := env.status(hash)
	require.Equal(t, int64(1), st.TotalFilled.Int64())
	require.Equal(t, int64(2), st.TotalSize.Int64())

	// 1/1 fills whatever remains
	_, err = fill(1, 1)
	require.NoError(t, err)
	require.Equal(t, int64(10), env.erc1155.BalanceOf(buyer, big.NewInt(5)).Int64())
	require.Equal(t, int64(100), env.balance(seller.Address()))
	st = env.status(hash)
	require.True(t, st.FullyFilled())
	require.Zero(t, st.TotalFilled.Cmp(st.TotalSize))

	_, err = fill(1, 4)
	require.ErrorIs(t, err, settlement.ErrOrderAlreadyFilled)
}

func TestPartialFillRequiresPartialType(t *testing.T) {
	env := newTestEnv(t)
	seller := newSigner(t)
	buyer := common.HexToAddress("0x00000000000000000000000000000000000b0c06")
	env.mint1155(seller.Address(), 5, 10)
	env.fund(buyer, 100)

	p := env.params(seller.Address(), settlement.OrderFullOpen,
		[]settlement.OfferItem{{ItemType: settlement.ItemERC1155, Token: erc1155Addr, IdentifierOrCriteria: big.NewInt(5), StartAmount: big.NewInt(10), EndAmount: big.NewInt(10)}},
		[]settlement.ConsiderationItem{erc20Pay(100, seller.Address())})
	_, err := env.engine.FulfillAdvancedOrder(env.ctx, call(buyer), settlement.AdvancedOrder{
		Parameters: p, Numerator: big.NewInt(1), Denominator: big.NewInt(2), Signature: env.sign(seller, p),
	}, nil, common.Hash{}, common.Address{})
	require.ErrorIs(t, err, settlement.ErrPartialFillsNotEnabled)

	_, err = env.engine.FulfillAdvancedOrder(env.ctx, call(buyer), settlement.AdvancedOrder{
		Parameters: p, Numerator: big.NewInt(3), Denominator: big.NewInt(2), Signature: env.sign(seller, p),
	}, nil, common.Hash{}, common.Address{})
	require.ErrorIs(t, err, settlement.ErrBadFraction)
}

func TestValidateSkipsSignatureLater(t *testing.T) {
	env := newTestEnv(t)
	seller := newSigner(t)
	buyer := common.HexToAddress("0x00000000000000000000000000000000000b0c07")
	env.mintNFT(seller.Address(), 3)
	env.fund(buyer, 100)

	p := env.params(seller.Address(), settlement.OrderFullOpen,
		[]settlement.OfferItem{nftOffer(3)},
		[]settlement.ConsiderationItem{erc20Pay(100, seller.Address())})
	require.NoError(t, env.engine.Validate(env.ctx, call(buyer), []settlement.Order{env.order(seller, p)}))

	hash, err := env.engine.GetOrderHash(p)
	require.NoError(t, err)
	st := env.status(hash)
	require.True(t, st.IsValidated)
	require.Zero(t, st.TotalSize.Sign())

	_, err = env.engine.FulfillOrder(env.ctx, call(buyer), settlement.Order{Parameters: p}, common.Hash{})
	require.NoError(t, err)
	require.Equal(t, []string{"OrderValidated", "OrderFulfilled"}, eventNames(env.events.Events()))
}

// testZone approves orders unless told to reject, and remembers what it saw.
type testZone struct {
	reject bool
	seen   []settlement.ZoneParameters
	hook   func(ctx context.Context) error
}

func (z *testZone) ValidateOrder(ctx context.Context, params settlement.ZoneParameters) ([4]byte, error) {
	z.seen = append(z.seen, params)
	if z.hook != nil {
		if err := z.hook(ctx); err != nil {
			return [4]byte{}, err
		}
	}
	if z.reject {
		return [4]byte{}, nil
	}
	return settlement.ValidateOrderMagic, nil
}

func TestRestrictedOrderZone(t *testing.T) {
	env := newTestEnv(t)
	seller := newSigner(t)
	buyer := common.HexToAddress("0x00000000000000000000000000000000000b0c08")
	zoneAddr := common.HexToAddress("0x00000000000000000000000000000000000020e1")
	zone := &testZone{reject: true}
	require.NoError(t, env.state.Deploy(zoneAddr, zone))
	env.mintNFT(seller.Address(), 4)
	env.fund(buyer, 100)

	p := env.params(seller.Address(), settlement.OrderFullRestricted,
		[]settlement.OfferItem{nftOffer(4)},
		[]settlement.ConsiderationItem{erc20Pay(100, seller.Address())})
	p.Zone = zoneAddr
	p.ZoneHash = common.HexToHash("0x2a")
	order := env.order(seller, p)

	_, err := env.engine.FulfillOrder(env.ctx, call(buyer), order, common.Hash{})
	require.ErrorIs(t, err, settlement.ErrInvalidRestrictedOrder)
	require.ErrorIs(t, err, settlement.ErrRestrictedOrderValidationFailed)
	require.Equal(t, seller.Address(), env.nftOwner(4))
	require.Equal(t, int64(100), env.balance(buyer))

	// the zone ran after the transfers and saw the resolved items
	require.Len(t, zone.seen, 1)
	require.Equal(t, buyer, zone.seen[0].Fulfiller)
	require.Equal(t, p.ZoneHash, zone.seen[0].ZoneHash)
	require.Len(t, zone.seen[0].OrderHashes, 1)

	zone.reject = false
	hash, err := env.engine.FulfillOrder(env.ctx, call(buyer), order, common.Hash{})
	require.NoError(t, err)
	require.Equal(t, hash, zone.seen[1].OrderHash)
	require.Equal(t, buyer, env.nftOwner(4))
}

func TestReentrantCallbackRejected(t *testing.T) {
	env := newTestEnv(t)
	seller := newSigner(t)
	buyer := common.HexToAddress("0x00000000000000000000000000000000000b0c09")
	zoneAddr := common.HexToAddress("0x00000000000000000000000000000000000020e2")

	var inner error
	zone := &testZone{hook: func(ctx context.Context) error {
		_, inner = env.engine.IncrementCounter(ctx, call(zoneAddr))
		return inner
	}}
	require.NoError(t, env.state.Deploy(zoneAddr, zone))
	env.mintNFT(seller.Address(), 5)
	env.fund(buyer, 100)

	p := env.params(seller.Address(), settlement.OrderFullRestricted,
		[]settlement.OfferItem{nftOffer(5)},
		[]settlement.ConsiderationItem{erc20Pay(100, seller.Address())})
	p.Zone = zoneAddr

	_, err := env.engine.FulfillOrder(env.ctx, call(buyer), env.order(seller, p), common.Hash{})
	require.ErrorIs(t, inner, settlement.ErrNoReentrantCalls)
	require.ErrorIs(t, err, settlement.ErrNoReentrantCalls)
	require.Equal(t, seller.Address(), env.nftOwner(5))

	counter, err := env.engine.GetCounter(zoneAddr)
	require.NoError(t, err)
	require.Zero(t, counter.Sign())
}

func TestContractWalletSignatures(t *testing.T) {
	env := newTestEnv(t)
	owner := newSigner(t)
	buyer := common.HexToAddress("0x00000000000000000000000000000000000b0c0a")
	walletAddr := common.HexToAddress("0x000000000000000000000000000000000000ca11")
	legacyAddr := common.HexToAddress("0x000000000000000000000000000000000000ca12")

	_, err := wallet.Deploy(env.state, walletAddr, owner.Address())
	require.NoError(t, err)
	_, err = wallet.DeployLegacy(env.state, legacyAddr, owner.Address())
	require.NoError(t, err)
	env.mintNFT(walletAddr, 6)
	env.mintNFT(legacyAddr, 7)
	env.fund(buyer, 200)

	for _, tc := range []struct {
		name    string
		offerer common.Address
		id      int64
	}{
		{"versioned", walletAddr, 6},
		{"legacy", legacyAddr, 7},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := env.params(tc.offerer, settlement.OrderFullOpen,
				[]settlement.OfferItem{nftOffer(tc.id)},
				[]settlement.ConsiderationItem{erc20Pay(100, tc.offerer)})

			// the wallet owner's signature is confirmed by the wallet
			_, err := env.engine.FulfillOrder(env.ctx, call(buyer), settlement.Order{Parameters: p, Signature: env.sign(owner, p)}, common.Hash{})
			require.NoError(t, err)
			require.Equal(t, buyer, env.nftOwner(tc.id))
		})
	}

	stranger := newSigner(t)
	env.mintNFT(walletAddr, 8)
	p := env.params(walletAddr, settlement.OrderFullOpen,
		[]settlement.OfferItem{nftOffer(8)},
		[]settlement.ConsiderationItem{erc20Pay(100, walletAddr)})
	_, err = env.engine.FulfillOrder(env.ctx, call(buyer), settlement.Order{Parameters: p, Signature: env.sign(stranger, p)}, common.Hash{})
	require.True(t, errors.Is(err, settlement.ErrInvalidSigner))
}
