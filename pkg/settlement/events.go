package settlement

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Event is a settlement event, published after the call that produced it
// has committed.
type Event interface {
	EventName() string
}

// OrderFulfilled lists what an order moved and who settled it. Recipient
// is zero for matched orders.
type OrderFulfilled struct {
	OrderHash     common.Hash    `json:"orderHash"`
	Offerer       common.Address `json:"offerer"`
	Zone          common.Address `json:"zone"`
	Fulfiller     common.Address `json:"fulfiller"`
	Recipient     common.Address `json:"recipient"`
	Offer         []SpentItem    `json:"offer"`
	Consideration []ReceivedItem `json:"consideration"`
}

type OrderCancelled struct {
	OrderHash common.Hash    `json:"orderHash"`
	Offerer   common.Address `json:"offerer"`
	Zone      common.Address `json:"zone"`
}

type OrderValidated struct {
	OrderHash  common.Hash     `json:"orderHash"`
	Parameters OrderParameters `json:"parameters"`
}

type CounterIncremented struct {
	NewCounter *big.Int       `json:"newCounter"`
	Offerer    common.Address `json:"offerer"`
}

type OrdersMatched struct {
	OrderHashes []common.Hash `json:"orderHashes"`
}

func (OrderFulfilled) EventName() string     { return "OrderFulfilled" }
func (OrderCancelled) EventName() string     { return "OrderCancelled" }
func (OrderValidated) EventName() string     { return "OrderValidated" }
func (CounterIncremented) EventName() string { return "CounterIncremented" }
func (OrdersMatched) EventName() string      { return "OrdersMatched" }

// EventSink receives committed events in emission order.
type EventSink interface {
	Publish(events []Event)
}

// MultiSink fans events out to several sinks.
type MultiSink []EventSink

func (m MultiSink) Publish(events []Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(events)
		}
	}
}

// Recorder keeps every published event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(events []Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Reset drops recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type nopSink struct{}

func (nopSink) Publish([]Event) {}
