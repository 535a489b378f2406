package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperport/pkg/settlement"
)

// Key schema:
//
//	ord:<order hash hex>   → OrderStatus (JSON)
//	ctr:<offerer hex>      → counter (decimal)
//	nonce:<offerer hex>    → contract offerer nonce (decimal)
//	evt:<8-byte seq>       → EventRecord (JSON)
const (
	prefixStatus  = "ord:"
	prefixCounter = "ctr:"
	prefixNonce   = "nonce:"
	prefixEvent   = "evt:"
)

func statusKey(h common.Hash) []byte {
	return []byte(prefixStatus + h.Hex())
}

func counterKey(addr common.Address) []byte {
	return []byte(prefixCounter + addr.Hex())
}

func nonceKey(addr common.Address) []byte {
	return []byte(prefixNonce + addr.Hex())
}

func eventKey(seq uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], seq)
	return append([]byte(prefixEvent), k[:]...)
}

func eventSeq(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(prefixEvent):])
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

func encodeStatus(st settlement.OrderStatus) ([]byte, error) {
	return json.Marshal(st)
}

func decodeStatus(b []byte) (settlement.OrderStatus, error) {
	var st settlement.OrderStatus
	if err := json.Unmarshal(b, &st); err != nil {
		return settlement.OrderStatus{}, err
	}
	return st.Copy(), nil
}

func encodeBig(v *big.Int) []byte {
	if v == nil {
		return []byte("0")
	}
	return []byte(v.Text(10))
}

func decodeBig(b []byte) (*big.Int, error) {
	v, ok := new(big.Int).SetString(string(b), 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", b)
	}
	return v, nil
}

// EventRecord is one persisted settlement event.
type EventRecord struct {
	Seq  uint64          `json:"seq"`
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

func newEventRecord(seq uint64, ev settlement.Event) (EventRecord, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return EventRecord{}, fmt.Errorf("marshal %s: %w", ev.EventName(), err)
	}
	return EventRecord{Seq: seq, Name: ev.EventName(), Data: data}, nil
}
