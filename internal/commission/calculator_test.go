package commission

import (
	"testing"

	"github.com/sachanni/brand-influencer-sub001/internal/common/money"
)

func testCalculator() *Calculator {
	return New(Config{CommissionBps: 500})
}

func TestComputeStageWorkedExample(t *testing.T) {
	// 100,000 INR compensation, 18% GST, 5% commission, 50% upfront.
	calc := testCalculator()
	base := money.New(100000*100, money.INR)

	b, err := calc.ComputeStage(base, "IN", 5000)
	if err != nil {
		t.Fatalf("ComputeStage: %v", err)
	}

	if got, want := b.Tax.AmountMinor, int64(18000*100); got != want {
		t.Errorf("tax = %d, want %d", got, want)
	}
	if got, want := b.TaxInclusive.AmountMinor, int64(118000*100); got != want {
		t.Errorf("tax inclusive = %d, want %d", got, want)
	}
	if got, want := b.Gross.AmountMinor, int64(59000*100); got != want {
		t.Errorf("gross = %d, want %d", got, want)
	}
	if got, want := b.Commission.AmountMinor, int64(2950*100); got != want {
		t.Errorf("commission = %d, want %d", got, want)
	}
	if got, want := b.Net.AmountMinor, int64(56050*100); got != want {
		t.Errorf("net = %d, want %d", got, want)
	}
}

func TestComputeStageConservation(t *testing.T) {
	calc := testCalculator()

	// Awkward amounts that force fractional intermediate values.
	cases := []struct {
		amountMinor int64
		region      string
		stageBps    int64
	}{
		{9999, "IN", 3333},
		{1, "IN", 10000},
		{333333, "GB", 2500},
		{1000001, "DE", 7500},
		{77777, "US", 5000},
		{50000, "FR", 1},
	}

	for _, tc := range cases {
		b, err := calc.ComputeStage(money.New(tc.amountMinor, money.INR), tc.region, tc.stageBps)
		if err != nil {
			t.Fatalf("ComputeStage(%d, %s, %d): %v", tc.amountMinor, tc.region, tc.stageBps, err)
		}
		sum := b.Commission.MustAdd(b.Net)
		if !sum.Equal(b.Gross) {
			t.Errorf("ComputeStage(%d, %s, %d): commission %d + net %d != gross %d",
				tc.amountMinor, tc.region, tc.stageBps,
				b.Commission.AmountMinor, b.Net.AmountMinor, b.Gross.AmountMinor)
		}
	}
}

func TestComputeStageDeterministic(t *testing.T) {
	calc := testCalculator()
	base := money.New(123457, money.USD)

	first, err := calc.ComputeStage(base, "GB", 3333)
	if err != nil {
		t.Fatalf("ComputeStage: %v", err)
	}
	for i := 0; i < 10; i++ {
		b, err := calc.ComputeStage(base, "GB", 3333)
		if err != nil {
			t.Fatalf("ComputeStage: %v", err)
		}
		if b != first {
			t.Fatalf("run %d differs: %+v vs %+v", i, b, first)
		}
	}
}

func TestComputeStageUnknownRegionZeroRated(t *testing.T) {
	calc := testCalculator()
	base := money.New(50000, money.EUR)

	b, err := calc.ComputeStage(base, "ZZ", 10000)
	if err != nil {
		t.Fatalf("ComputeStage: %v", err)
	}
	if !b.Tax.IsZero() {
		t.Errorf("tax = %d, want 0 for unknown region", b.Tax.AmountMinor)
	}
	if !b.TaxInclusive.Equal(base) {
		t.Errorf("tax inclusive = %d, want base %d", b.TaxInclusive.AmountMinor, base.AmountMinor)
	}
}

func TestComputeStageRejectsBadInputs(t *testing.T) {
	calc := testCalculator()

	if _, err := calc.ComputeStage(money.Zero(money.INR), "IN", 5000); err == nil {
		t.Error("expected error for zero base")
	}
	if _, err := calc.ComputeStage(money.New(-100, money.INR), "IN", 5000); err == nil {
		t.Error("expected error for negative base")
	}
	if _, err := calc.ComputeStage(money.New(10000, money.INR), "IN", 0); err == nil {
		t.Error("expected error for zero stage share")
	}
	if _, err := calc.ComputeStage(money.New(10000, money.INR), "IN", 10001); err == nil {
		t.Error("expected error for share above 100%")
	}
}

func TestSingleRoundingBeatsChainedRounding(t *testing.T) {
	// 10001 minor units at 5% commission on a 33.33% stage. Rounding the
	// commission once at the end differs from rounding the stage amount
	// first and taking 5% of that.
	calc := testCalculator()
	base := money.New(10001, money.INR)

	b, err := calc.ComputeStage(base, "US", 3333)
	if err != nil {
		t.Fatalf("ComputeStage: %v", err)
	}

	single := base.Share(500, 3333)
	if !b.Commission.Equal(single) {
		t.Errorf("commission = %d, want single-rounded %d", b.Commission.AmountMinor, single.AmountMinor)
	}
}

func TestComputeInvoiceTotals(t *testing.T) {
	calc := testCalculator()
	base := money.New(100000*100, money.INR)

	subtotal, tax, total, rate := calc.ComputeInvoiceTotals(base, "IN")
	if !subtotal.Equal(base) {
		t.Errorf("subtotal = %d, want %d", subtotal.AmountMinor, base.AmountMinor)
	}
	if got, want := tax.AmountMinor, int64(18000*100); got != want {
		t.Errorf("tax = %d, want %d", got, want)
	}
	if got, want := total.AmountMinor, int64(118000*100); got != want {
		t.Errorf("total = %d, want %d", got, want)
	}
	if rate != 1800 {
		t.Errorf("rate = %d, want 1800", rate)
	}
}
