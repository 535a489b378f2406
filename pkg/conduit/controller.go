package conduit

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperport/pkg/chain"
)

// creationCodeHash stands in for the keccak of the conduit init code in
// the CREATE2 address derivation.
var creationCodeHash = crypto.Keccak256([]byte("Conduit"))

type properties struct {
	key            common.Hash
	owner          common.Address
	potentialOwner common.Address
	channels       []common.Address
}

// Controller deploys conduits at addresses derived from their keys and
// tracks their ownership and channels.
type Controller struct {
	address common.Address
	state   *chain.State
	logger  *zap.Logger

	mu       sync.RWMutex
	byKey    map[common.Hash]common.Address
	conduits map[common.Address]*properties
}

// NewController deploys a controller at address.
func NewController(state *chain.State, address common.Address, logger *zap.Logger) (*Controller, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		address:  address,
		state:    state,
		logger:   logger,
		byKey:    make(map[common.Hash]common.Address),
		conduits: make(map[common.Address]*properties),
	}
	if err := state.Deploy(address, c); err != nil {
		return nil, fmt.Errorf("deploy conduit controller: %w", err)
	}
	return c, nil
}

func (c *Controller) Address() common.Address { return c.address }

// ConduitAddress derives the address of the conduit for key.
func (c *Controller) ConduitAddress(key common.Hash) common.Address {
	return crypto.CreateAddress2(c.address, key, creationCodeHash)
}

// CreateConduit deploys a conduit for key owned by initialOwner. The first
// 20 bytes of key must be the caller's address.
func (c *Controller) CreateConduit(caller common.Address, key common.Hash, initialOwner common.Address) (common.Address, error) {
	if initialOwner == (common.Address{}) {
		return common.Address{}, ErrInvalidInitialOwner
	}
	if common.BytesToAddress(key[:20]) != caller {
		return common.Address{}, fmt.Errorf("%w: key %s, caller %s", ErrConduitKeyInvalid, key.Hex(), caller.Hex())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	addr := c.ConduitAddress(key)
	if _, ok := c.conduits[addr]; ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrConduitAlreadyExists, addr.Hex())
	}

	conduit := &Conduit{
		address:    addr,
		controller: c.address,
		state:      c.state,
		channels:   make(map[common.Address]bool),
	}
	if err := c.state.Deploy(addr, conduit); err != nil {
		return common.Address{}, err
	}
	c.byKey[key] = addr
	c.conduits[addr] = &properties{key: key, owner: initialOwner}
	c.state.Record(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.byKey, key)
		delete(c.conduits, addr)
	})

	c.logger.Info("conduit created",
		zap.String("conduit", addr.Hex()),
		zap.String("key", key.Hex()),
		zap.String("owner", initialOwner.Hex()))
	return addr, nil
}

func (c *Controller) ownedLocked(caller, conduit common.Address) (*properties, error) {
	p, ok := c.conduits[conduit]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoConduit, conduit.Hex())
	}
	if p.owner != caller {
		return nil, fmt.Errorf("%w: %s", ErrCallerIsNotOwner, caller.Hex())
	}
	return p, nil
}

// UpdateChannel opens or closes channel on conduit. Only the owner may call it.
func (c *Controller) UpdateChannel(caller, conduit, channel common.Address, open bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, err := c.ownedLocked(caller, conduit)
	if err != nil {
		return err
	}
	impl, ok := chain.ContractAs[*Conduit](c.state, conduit)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoConduit, conduit.Hex())
	}
	if impl.ChannelOpen(channel) == open {
		return nil
	}
	impl.updateChannel(channel, open)

	prev := p.channels
	next := make([]common.Address, 0, len(prev)+1)
	for _, ch := range prev {
		if ch != channel {
			next = append(next, ch)
		}
	}
	if open {
		next = append(next, channel)
	}
	p.channels = next
	c.state.Record(func() {
		c.mu.Lock()
		p.channels = prev
		c.mu.Unlock()
	})

	c.logger.Info("conduit channel updated",
		zap.String("conduit", conduit.Hex()),
		zap.String("channel", channel.Hex()),
		zap.Bool("open", open))
	return nil
}

// TransferOwnership nominates a new owner, who must accept.
func (c *Controller) TransferOwnership(caller, conduit, newPotentialOwner common.Address) error {
	if newPotentialOwner == (common.Address{}) {
		return ErrNewPotentialOwnerIsZero
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, err := c.ownedLocked(caller, conduit)
	if err != nil {
		return err
	}
	p.potentialOwner = newPotentialOwner
	return nil
}

// CancelOwnershipTransfer clears a pending nomination.
func (c *Controller) CancelOwnershipTransfer(caller, conduit common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, err := c.ownedLocked(caller, conduit)
	if err != nil {
		return err
	}
	p.potentialOwner = common.Address{}
	return nil
}

// AcceptOwnership completes a nomination made by TransferOwnership.
func (c *Controller) AcceptOwnership(caller, conduit common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.conduits[conduit]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoConduit, conduit.Hex())
	}
	if p.potentialOwner != caller {
		return fmt.Errorf("%w: %s", ErrCallerIsNotNewPotentialOwner, caller.Hex())
	}
	p.owner = caller
	p.potentialOwner = common.Address{}
	return nil
}

// OwnerOf returns the conduit owner.
func (c *Controller) OwnerOf(conduit common.Address) (common.Address, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.conduits[conduit]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrNoConduit, conduit.Hex())
	}
	return p.owner, nil
}

// GetConduit returns the conduit address for key and whether it exists.
func (c *Controller) GetConduit(key common.Hash) (common.Address, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	addr, ok := c.byKey[key]
	if !ok {
		return c.ConduitAddress(key), false
	}
	return addr, true
}

// GetChannels lists the open channels of conduit in the order they were opened.
func (c *Controller) GetChannels(conduit common.Address) ([]common.Address, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.conduits[conduit]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoConduit, conduit.Hex())
	}
	return append([]common.Address(nil), p.channels...), nil
}
