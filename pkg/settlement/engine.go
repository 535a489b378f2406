package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperport/pkg/chain"
	"github.com/uhyunpark/hyperport/pkg/crypto"
	"github.com/uhyunpark/hyperport/pkg/util"
)

const Version = "1.5"

// Config wires an Engine to its collaborators. Clock, Sink, Logger and
// Metrics are optional.
type Config struct {
	Address  common.Address
	ChainID  *big.Int
	State    *chain.State
	Store    Store
	Conduits ConduitRegistry
	Clock    util.Clock
	Sink     EventSink
	Logger   *zap.Logger
	Metrics  Metrics
}

// Engine settles orders. Each entry point is one atomic unit of work: on
// error the world state is reverted and nothing is written to the Store.
type Engine struct {
	address  common.Address
	chainID  *big.Int
	state    *chain.State
	store    Store
	conduits ConduitRegistry
	clock    util.Clock
	sink     EventSink
	logger   *zap.Logger
	metrics  Metrics
	signer   *crypto.EIP712Signer

	entered atomic.Bool
}

// Information describes the engine's signing domain.
type Information struct {
	Version           string         `json:"version"`
	DomainSeparator   common.Hash    `json:"domainSeparator"`
	ConduitController common.Address `json:"conduitController"`
	Address           common.Address `json:"address"`
	ChainID           *big.Int       `json:"chainId"`
}

func New(cfg Config) (*Engine, error) {
	if cfg.State == nil {
		return nil, errors.New("settlement: state is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("settlement: store is required")
	}
	if cfg.Conduits == nil {
		return nil, errors.New("settlement: conduit registry is required")
	}
	if cfg.ChainID == nil {
		return nil, errors.New("settlement: chain id is required")
	}
	signer, err := crypto.NewEIP712Signer(crypto.NewDomain(cfg.ChainID, cfg.Address))
	if err != nil {
		return nil, fmt.Errorf("settlement: %w", err)
	}
	e := &Engine{
		address:  cfg.Address,
		chainID:  new(big.Int).Set(cfg.ChainID),
		state:    cfg.State,
		store:    cfg.Store,
		conduits: cfg.Conduits,
		clock:    cfg.Clock,
		sink:     cfg.Sink,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		signer:   signer,
	}
	if e.clock == nil {
		e.clock = util.RealClock{}
	}
	if e.sink == nil {
		e.sink = nopSink{}
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.metrics == nil {
		e.metrics = nopMetrics{}
	}
	return e, nil
}

func (e *Engine) Address() common.Address { return e.address }

// Signer returns the EIP-712 signer bound to the engine's domain.
func (e *Engine) Signer() *crypto.EIP712Signer { return e.signer }

// execution is the per-call context of an entry point.
type execution struct {
	e      *Engine
	ctx    context.Context
	call   Call
	op     string
	now    *big.Int
	tx     *txn
	router *router
	events []Event
	orders int
}

func (x *execution) emit(ev Event) { x.events = append(x.events, ev) }

// run executes fn as one atomic call.
func (e *Engine) run(ctx context.Context, call Call, op string, fn func(x *execution) error) (err error) {
	if !e.entered.CompareAndSwap(false, true) {
		return callErr(op, ErrNoReentrantCalls)
	}
	defer e.entered.Store(false)

	started := time.Now()
	x := &execution{
		e:    e,
		ctx:  ctx,
		call: call,
		op:   op,
		now:  big.NewInt(e.clock.Now().Unix()),
		tx:   newTxn(e.store),
	}
	defer func() {
		e.metrics.ObserveCall(op, x.orders, time.Since(started), err)
	}()

	snap := e.state.Begin()
	base := e.state.NativeBalance(e.address)
	x.router = newRouter(x, base)

	err = e.runLocked(x, fn)
	if err != nil {
		if rerr := e.state.Revert(snap); rerr != nil {
			e.logger.Error("state revert failed", zap.String("op", op), zap.Error(rerr))
		}
		e.logger.Debug("call reverted",
			zap.String("op", op),
			zap.String("caller", call.Caller.Hex()),
			zap.Error(err))
		return callErr(op, err)
	}
	if err = e.state.Commit(snap); err != nil {
		return callErr(op, err)
	}

	if len(x.events) > 0 {
		e.sink.Publish(x.events)
	}
	return nil
}

func (e *Engine) runLocked(x *execution, fn func(x *execution) error) error {
	if v := x.call.value(); v.Sign() > 0 {
		if err := e.state.TransferNative(x.call.Caller, e.address, v); err != nil {
			return err
		}
	}
	if err := fn(x); err != nil {
		return err
	}
	if err := x.router.flush(); err != nil {
		return err
	}
	if err := x.router.refund(); err != nil {
		return err
	}
	if x.tx.cs.Empty() {
		return nil
	}
	return e.store.Commit(x.tx.cs)
}

// GetOrderHash returns the hash of order components, using p.Counter.
func (e *Engine) GetOrderHash(p OrderParameters) (common.Hash, error) {
	return e.hashOrder(&p, p.Counter)
}

// GetOrderStatus returns the committed status of an order hash.
func (e *Engine) GetOrderStatus(hash common.Hash) (OrderStatus, error) {
	st, ok, err := e.store.LoadOrderStatus(hash)
	if err != nil {
		return OrderStatus{}, err
	}
	if !ok {
		return NewOrderStatus(), nil
	}
	return st.Copy(), nil
}

// GetCounter returns the current counter of offerer.
func (e *Engine) GetCounter(offerer common.Address) (*big.Int, error) {
	c, err := e.store.LoadCounter(offerer)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(bigOrZero(c)), nil
}

// GetContractOffererNonce returns the nonce the next contract order of
// offerer will be hashed with.
func (e *Engine) GetContractOffererNonce(offerer common.Address) (*big.Int, error) {
	n, err := e.store.LoadContractNonce(offerer)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(bigOrZero(n)), nil
}

func (e *Engine) Information() Information {
	return Information{
		Version:           Version,
		DomainSeparator:   e.signer.DomainSeparator(),
		ConduitController: e.conduits.Address(),
		Address:           e.address,
		ChainID:           new(big.Int).Set(e.chainID),
	}
}
