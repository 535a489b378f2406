package settlement_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/uhyunpark/hyperport/pkg/chain"
	"github.com/uhyunpark/hyperport/pkg/conduit"
	"github.com/uhyunpark/hyperport/pkg/crypto"
	"github.com/uhyunpark/hyperport/pkg/settlement"
	"github.com/uhyunpark/hyperport/pkg/storage"
	"github.com/uhyunpark/hyperport/pkg/token"
	"github.com/uhyunpark/hyperport/pkg/util"
)

var (
	engineAddr     = common.HexToAddress("0x00000000000000ADc04C56Bf30aC9d3c0aAF14dC")
	controllerAddr = common.HexToAddress("0x00000000F9490004C11Cef243f5400493c00Ad63")
	erc20Addr      = common.HexToAddress("0x0000000000000000000000000000000000e20020")
	erc721Addr     = common.HexToAddress("0x0000000000000000000000000000000000e72172")
	erc1155Addr    = common.HexToAddress("0x0000000000000000000000000000000000e11550")
	conduitOwner   = common.HexToAddress("0x00000000000000000000000000000000000c0de1")
	feeRecipient   = common.HexToAddress("0x0000000000000000000000000000000000000fee")
	matcher        = common.HexToAddress("0x000000000000000000000000000000000000aaaa")

	testChainID = big.NewInt(31337)
	genesis     = time.Unix(1_700_000_000, 0)
)

// testEnv is one isolated ledger with an engine, a conduit and three tokens.
type testEnv struct {
	t          *testing.T
	ctx        context.Context
	state      *chain.State
	store      *storage.MemoryStore
	controller *conduit.Controller
	engine     *settlement.Engine
	clock      *util.ManualClock
	events     *settlement.Recorder

	erc20   *token.ERC20
	erc721  *token.ERC721
	erc1155 *token.ERC1155

	conduitKey  common.Hash
	conduitAddr common.Address
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	state := chain.NewState()
	logger := zaptest.NewLogger(t)

	controller, err := conduit.NewController(state, controllerAddr, logger)
	require.NoError(t, err)

	env := &testEnv{
		t:          t,
		ctx:        context.Background(),
		state:      state,
		store:      storage.NewMemoryStore(),
		controller: controller,
		clock:      util.NewManualClock(genesis),
		events:     &settlement.Recorder{},
		erc20:      token.NewERC20(state, "Test Token", "TST", 18),
		erc721:     token.NewERC721(state, "Test NFT", "TNFT"),
		erc1155:    token.NewERC1155(state, "ipfs://test/{id}"),
	}
	require.NoError(t, state.Deploy(erc20Addr, env.erc20))
	require.NoError(t, state.Deploy(erc721Addr, env.erc721))
	require.NoError(t, state.Deploy(erc1155Addr, env.erc1155))

	env.engine, err = settlement.New(settlement.Config{
		Address:  engineAddr,
		ChainID:  testChainID,
		State:    state,
		Store:    env.store,
		Conduits: controller,
		Clock:    env.clock,
		Sink:     env.events,
		Logger:   logger,
	})
	require.NoError(t, err)

	copy(env.conduitKey[:20], conduitOwner.Bytes())
	env.conduitKey[31] = 1
	env.conduitAddr, err = controller.CreateConduit(conduitOwner, env.conduitKey, conduitOwner)
	require.NoError(t, err)
	require.NoError(t, controller.UpdateChannel(conduitOwner, env.conduitAddr, engineAddr, true))
	return env
}

func newSigner(t *testing.T) *crypto.Signer {
	t.Helper()
	s, err := crypto.GenerateKey()
	require.NoError(t, err)
	return s
}

// fund mints fungible tokens to owner and approves the engine and the conduit.
func (e *testEnv) fund(owner common.Address, amount int64) {
	require.NoError(e.t, e.erc20.Mint(owner, big.NewInt(amount)))
	e.erc20.Approve(owner, engineAddr, math.MaxBig256)
	e.erc20.Approve(owner, e.conduitAddr, math.MaxBig256)
}

// mintNFT mints id to owner and approves the engine and the conduit.
func (e *testEnv) mintNFT(owner common.Address, id int64) {
	require.NoError(e.t, e.erc721.Mint(owner, big.NewInt(id)))
	e.erc721.SetApprovalForAll(owner, engineAddr, true)
	e.erc721.SetApprovalForAll(owner, e.conduitAddr, true)
}

func (e *testEnv) mint1155(owner common.Address, id, amount int64) {
	require.NoError(e.t, e.erc1155.Mint(owner, big.NewInt(id), big.NewInt(amount)))
	e.erc1155.SetApprovalForAll(owner, engineAddr, true)
	e.erc1155.SetApprovalForAll(owner, e.conduitAddr, true)
}

func (e *testEnv) balance(owner common.Address) int64 {
	return e.erc20.BalanceOf(owner).Int64()
}

func (e *testEnv) nftOwner(id int64) common.Address {
	owner, err := e.erc721.OwnerOf(big.NewInt(id))
	require.NoError(e.t, err)
	return owner
}

func (e *testEnv) native(owner common.Address) int64 {
	return e.state.NativeBalance(owner).Int64()
}

func nftOffer(id int64) settlement.OfferItem {
	return settlement.OfferItem{
		ItemType:             settlement.ItemERC721,
		Token:                erc721Addr,
		IdentifierOrCriteria: big.NewInt(id),
		StartAmount:          big.NewInt(1),
		EndAmount:            big.NewInt(1),
	}
}

func erc20Offer(amount int64) settlement.OfferItem {
	return settlement.OfferItem{
		ItemType:             settlement.ItemERC20,
		Token:                erc20Addr,
		IdentifierOrCriteria: big.NewInt(0),
		StartAmount:          big.NewInt(amount),
		EndAmount:            big.NewInt(amount),
	}
}

func erc20Pay(amount int64, to common.Address) settlement.ConsiderationItem {
	return settlement.ConsiderationItem{
		ItemType:             settlement.ItemERC20,
		Token:                erc20Addr,
		IdentifierOrCriteria: big.NewInt(0),
		StartAmount:          big.NewInt(amount),
		EndAmount:            big.NewInt(amount),
		Recipient:            to,
	}
}

func nativePay(amount int64, to common.Address) settlement.ConsiderationItem {
	return settlement.ConsiderationItem{
		ItemType:             settlement.ItemNative,
		IdentifierOrCriteria: big.NewInt(0),
		StartAmount:          big.NewInt(amount),
		EndAmount:            big.NewInt(amount),
		Recipient:            to,
	}
}

func nftPay(id int64, to common.Address) settlement.ConsiderationItem {
	return settlement.ConsiderationItem{
		ItemType:             settlement.ItemERC721,
		Token:                erc721Addr,
		IdentifierOrCriteria: big.NewInt(id),
		StartAmount:          big.NewInt(1),
		EndAmount:            big.NewInt(1),
		Recipient:            to,
	}
}

var saltSeq int64

// params builds order parameters valid from one minute ago for a day.
func (e *testEnv) params(offerer common.Address, orderType settlement.OrderType, offer []settlement.OfferItem, consideration []settlement.ConsiderationItem) settlement.OrderParameters {
	counter, err := e.engine.GetCounter(offerer)
	require.NoError(e.t, err)
	saltSeq++
	now := e.clock.Now().Unix()
	return settlement.OrderParameters{
		Offerer:       offerer,
		Offer:         offer,
		Consideration: consideration,
		OrderType:     orderType,
		StartTime:     big.NewInt(now - 60),
		EndTime:       big.NewInt(now + 86400),
		Salt:          big.NewInt(saltSeq),
		Counter:       counter,
	}
}

func (e *testEnv) sign(signer *crypto.Signer, p settlement.OrderParameters) []byte {
	components, err := settlement.ToEIP712(&p, p.Counter)
	require.NoError(e.t, err)
	sig, err := e.engine.Signer().SignOrder(signer, components)
	require.NoError(e.t, err)
	return sig
}

func (e *testEnv) order(signer *crypto.Signer, p settlement.OrderParameters) settlement.Order {
	return settlement.Order{Parameters: p, Signature: e.sign(signer, p)}
}

func (e *testEnv) status(hash common.Hash) settlement.OrderStatus {
	st, err := e.engine.GetOrderStatus(hash)
	require.NoError(e.t, err)
	return st
}

func call(caller common.Address) settlement.Call {
	return settlement.Call{Caller: caller}
}

func callWithValue(caller common.Address, value int64) settlement.Call {
	return settlement.Call{Caller: caller, Value: big.NewInt(value)}
}

func eventNames(events []settlement.Event) []string {
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.EventName()
	}
	return names
}
