// Package conduit implements conduits, which move approved tokens on behalf
// of the callers their owner opened a channel for, and the controller that
// creates and administers them.
package conduit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/hyperport/pkg/chain"
	"github.com/uhyunpark/hyperport/pkg/token"
)

var (
	ErrChannelClosed                = errors.New("channel closed")
	ErrConduitKeyInvalid            = errors.New("conduit key does not start with the creator address")
	ErrConduitAlreadyExists         = errors.New("conduit already exists")
	ErrNoConduit                    = errors.New("no conduit at address")
	ErrCallerIsNotOwner             = errors.New("caller is not the conduit owner")
	ErrInvalidInitialOwner          = errors.New("invalid initial owner")
	ErrNewPotentialOwnerIsZero      = errors.New("new potential owner is the zero address")
	ErrCallerIsNotNewPotentialOwner = errors.New("caller is not the new potential owner")
)

// ExecuteMagic is returned by a successful Execute.
var ExecuteMagic = selector("execute((uint8,address,address,address,uint256,uint256)[])")

func selector(signature string) [4]byte {
	var out [4]byte
	copy(out[:], crypto.Keccak256([]byte(signature))[:4])
	return out
}

// Executor runs a batch of transfers for caller.
type Executor interface {
	Execute(ctx context.Context, caller common.Address, transfers []token.Transfer) ([4]byte, error)
}

// Conduit holds no assets; owners approve it on their token ledgers and it
// moves tokens for open channels.
type Conduit struct {
	address    common.Address
	controller common.Address
	state      *chain.State

	mu       sync.RWMutex
	channels map[common.Address]bool
}

func (c *Conduit) Address() common.Address { return c.address }

// ChannelOpen reports whether channel may call Execute.
func (c *Conduit) ChannelOpen(channel common.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels[channel]
}

// Execute performs transfers in order with the conduit as operator. The
// batch is all or nothing.
func (c *Conduit) Execute(ctx context.Context, caller common.Address, transfers []token.Transfer) ([4]byte, error) {
	if !c.ChannelOpen(caller) {
		return [4]byte{}, fmt.Errorf("%w: %s on conduit %s", ErrChannelClosed, caller.Hex(), c.address.Hex())
	}

	snap := c.state.Begin()
	for i, tr := range transfers {
		if err := ctx.Err(); err != nil {
			_ = c.state.Revert(snap)
			return [4]byte{}, err
		}
		if err := token.Execute(c.state, c.address, tr); err != nil {
			_ = c.state.Revert(snap)
			return [4]byte{}, fmt.Errorf("conduit transfer %d: %w", i, err)
		}
	}
	if err := c.state.Commit(snap); err != nil {
		return [4]byte{}, err
	}
	return ExecuteMagic, nil
}

func (c *Conduit) updateChannel(channel common.Address, open bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.channels[channel]
	if open {
		c.channels[channel] = true
	} else {
		delete(c.channels, channel)
	}
	c.state.Record(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if prev {
			c.channels[channel] = true
		} else {
			delete(c.channels, channel)
		}
	})
}
