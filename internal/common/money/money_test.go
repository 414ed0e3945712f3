package money

import "testing"

func TestAllocateByBasisPointsSumsToWhole(t *testing.T) {
	cases := []struct {
		amount int64
		shares []int64
	}{
		{100, []int64{3333, 3333, 3334}},
		{101, []int64{5000, 5000}},
		{1, []int64{5000, 5000}},
		{999999, []int64{5000, 3000, 2000}},
		{7, []int64{1, 1, 1}},
	}

	for _, tc := range cases {
		parts := New(tc.amount, INR).AllocateByBasisPoints(tc.shares)
		if len(parts) != len(tc.shares) {
			t.Fatalf("allocate(%d, %v): got %d parts", tc.amount, tc.shares, len(parts))
		}
		var sum int64
		for _, p := range parts {
			sum += p.AmountMinor
		}
		if sum != tc.amount {
			t.Errorf("allocate(%d, %v): parts sum to %d", tc.amount, tc.shares, sum)
		}
	}
}

func TestAllocateRemainderGoesFirst(t *testing.T) {
	parts := New(101, INR).AllocateByBasisPoints([]int64{5000, 5000})
	if parts[0].AmountMinor <= parts[1].AmountMinor {
		t.Errorf("remainder should land on the first share: %d, %d", parts[0].AmountMinor, parts[1].AmountMinor)
	}
}

func TestWithinTolerance(t *testing.T) {
	a := New(10000, INR)

	if !a.WithinTolerance(New(10100, INR)) {
		t.Error("one major unit apart should be within tolerance")
	}
	if a.WithinTolerance(New(10101, INR)) {
		t.Error("more than one major unit apart should not be within tolerance")
	}
	if a.WithinTolerance(New(10000, USD)) {
		t.Error("different currencies are never within tolerance")
	}
}

func TestShareSingleRounding(t *testing.T) {
	// 5% of a third of 10001: rounded once, not per step.
	got := New(10001, INR).Share(500, 3333)
	// 10001 * 0.05 * 0.3333 = 166.67 -> 167
	if got.AmountMinor != 167 {
		t.Errorf("share = %d, want 167", got.AmountMinor)
	}
}

func TestAddRejectsCurrencyMismatch(t *testing.T) {
	if _, err := New(100, INR).Add(New(100, USD)); err == nil {
		t.Error("expected currency mismatch error")
	}
	if _, err := New(100, INR).Sub(New(100, GBP)); err == nil {
		t.Error("expected currency mismatch error")
	}
}
