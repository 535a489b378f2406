package settlement

import (
	"errors"
	"math/big"
	"testing"
)

func b(v int64) *big.Int { return big.NewInt(v) }

func TestResolveAmountHalfFill(t *testing.T) {
	got, err := ResolveAmount(b(1000), b(1000), b(0), b(100), b(50), b(1), b(2), false)
	if err != nil {
		t.Fatal(err)
	}
	if got.Int64() != 500 {
		t.Fatalf("got %v, want 500", got)
	}
}

func TestResolveAmountRounding(t *testing.T) {
	offer, err := ResolveAmount(b(1001), b(1001), b(0), b(100), b(10), b(1), b(3), false)
	if err != nil {
		t.Fatal(err)
	}
	consideration, err := ResolveAmount(b(1001), b(1001), b(0), b(100), b(10), b(1), b(3), true)
	if err != nil {
		t.Fatal(err)
	}
	if offer.Int64() != 333 {
		t.Errorf("offer = %v, want 333", offer)
	}
	if consideration.Int64() != 334 {
		t.Errorf("consideration = %v, want 334", consideration)
	}
}

func TestResolveAmountInterpolation(t *testing.T) {
	tests := []struct {
		now  int64
		want int64
	}{
		{now: 0, want: 1000},
		{now: 100, want: 1000},
		{now: 150, want: 750},
		{now: 200, want: 500},
		{now: 300, want: 500},
	}
	for _, tt := range tests {
		got, err := ResolveAmount(b(1000), b(500), b(100), b(200), b(tt.now), b(1), b(1), false)
		if err != nil {
			t.Fatal(err)
		}
		if got.Int64() != tt.want {
			t.Errorf("t=%d: got %v, want %d", tt.now, got, tt.want)
		}
	}
}

func TestResolveAmountMonotonic(t *testing.T) {
	prev := b(0)
	for now := int64(0); now <= 1000; now += 37 {
		got, err := ResolveAmount(b(10), b(10_000), b(0), b(1000), b(now), b(1), b(1), true)
		if err != nil {
			t.Fatal(err)
		}
		if got.Cmp(prev) < 0 {
			t.Fatalf("t=%d: %v < previous %v", now, got, prev)
		}
		if got.Cmp(b(10)) < 0 || got.Cmp(b(10_000)) > 0 {
			t.Fatalf("t=%d: %v outside [10, 10000]", now, got)
		}
		prev = got
	}
}

func TestResolveAmountErrors(t *testing.T) {
	if _, err := ResolveAmount(b(1), b(1), b(10), b(10), b(10), b(1), b(1), false); !errors.Is(err, ErrInvalidTime) {
		t.Errorf("equal times: got %v", err)
	}
	if _, err := ResolveAmount(b(1), b(1), b(0), b(10), b(5), b(2), b(1), false); !errors.Is(err, ErrBadFraction) {
		t.Errorf("numerator > denominator: got %v", err)
	}
	if _, err := ResolveAmount(b(1), b(1), b(0), b(10), b(5), b(0), b(1), false); !errors.Is(err, ErrBadFraction) {
		t.Errorf("zero numerator: got %v", err)
	}
}

func TestResolveOfferZeroAmount(t *testing.T) {
	p := &OrderParameters{StartTime: b(0), EndTime: b(10)}
	_, err := resolveOffer(OfferItem{ItemType: ItemERC20, StartAmount: b(1), EndAmount: b(1)}, p, b(5), b(1), b(2))
	if !errors.Is(err, ErrMissingItemAmount) {
		t.Fatalf("got %v, want ErrMissingItemAmount", err)
	}
	got, err := resolveConsideration(ConsiderationItem{ItemType: ItemERC20, StartAmount: b(1), EndAmount: b(1)}, p, b(5), b(1), b(2))
	if err != nil {
		t.Fatal(err)
	}
	if got.Amount.Int64() != 1 {
		t.Fatalf("consideration rounds up to 1, got %v", got.Amount)
	}
}
