package api

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/hyperport/pkg/settlement"
)

// API request and response types for REST endpoints and WebSocket messages

// ==============================
// REST Request Types
// ==============================

// SignedOrder is an order as submitted over HTTP. Signatures travel as 0x hex.
type SignedOrder struct {
	Parameters settlement.OrderParameters `json:"parameters"`
	Signature  hexutil.Bytes              `json:"signature"`
}

func (o SignedOrder) order() settlement.Order {
	return settlement.Order{Parameters: o.Parameters, Signature: o.Signature}
}

// ValidateOrdersRequest is the payload for POST /api/v1/orders/validate
type ValidateOrdersRequest struct {
	Orders []SignedOrder `json:"orders"`
}

// CancelOrderRequest is the payload for POST /api/v1/orders/cancel.
// Signature is the offerer's EIP-712 CancelOrder signature over the order
// hash, the offerer and Parameters.Counter.
type CancelOrderRequest struct {
	Parameters settlement.OrderParameters `json:"parameters"`
	Signature  hexutil.Bytes              `json:"signature"`
}

// ==============================
// REST Response Types
// ==============================

type OrderHashResponse struct {
	OrderHash common.Hash `json:"orderHash"`
}

// OrderStatusResponse is the committed fill state of an order hash
type OrderStatusResponse struct {
	OrderHash common.Hash `json:"orderHash"`
	settlement.OrderStatus
}

// OffererValueResponse carries a per-offerer counter or contract nonce
type OffererValueResponse struct {
	Address common.Address `json:"address"`
	Value   string         `json:"value"`
}

type ValidateOrdersResponse struct {
	Status      string        `json:"status"`
	OrderHashes []common.Hash `json:"orderHashes"`
}

type CancelOrderResponse struct {
	Status    string      `json:"status"`
	OrderHash common.Hash `json:"orderHash"`
}

// EventsResponse is a page of the persisted event log
type EventsResponse struct {
	Events []EventEntry `json:"events"`
	Next   uint64       `json:"next"`
}

type EventEntry struct {
	Seq  uint64          `json:"seq"`
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	// Set when the failure points at one order of a batch.
	OrderIndex *int   `json:"orderIndex,omitempty"`
	Side       string `json:"side,omitempty"`
	ItemIndex  *int   `json:"itemIndex,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by clients to manage subscriptions.
// Channels are "events" (everything) or an event name such as
// "OrderFulfilled".
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" | "unsubscribe"
	Channels []string `json:"channels"`
}

// WSEvent is pushed to subscribers after a settlement call commits
type WSEvent struct {
	Type      string          `json:"type"` // "event"
	Name      string          `json:"name"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"` // Unix milliseconds
}
