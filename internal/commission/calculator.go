// Package commission computes tax, platform commission and creator payout
// for a single payment stage. The calculator is pure: same inputs, same
// amounts, no I/O. The orchestrator relies on that determinism when it
// recomputes a stored amount to detect drift.
package commission

import (
	"fmt"

	"github.com/sachanni/brand-influencer-sub001/internal/common/money"
)

// Config holds the injected rate tables. Rates are expressed in basis
// points so the arithmetic stays in integers until the final rounding.
type Config struct {
	// CommissionBps is the platform's cut of the tax-inclusive stage
	// amount, in basis points. 500 = 5%.
	CommissionBps int64 `envconfig:"COMMISSION_BPS" default:"500"`

	// TaxRatesBps maps a jurisdiction code to a flat tax rate in basis
	// points. A region missing from the table is taxed at zero.
	TaxRatesBps map[string]int64 `envconfig:"TAX_RATES_BPS"`
}

// DefaultTaxRatesBps is the shipped jurisdiction table. Overridable via
// configuration; tests inject their own.
func DefaultTaxRatesBps() map[string]int64 {
	return map[string]int64{
		"IN": 1800, // GST
		"GB": 2000, // VAT
		"DE": 1900, // VAT
		"FR": 2000, // VAT
		"US": 0,    // no federal sales tax at source
	}
}

// Calculator computes stage amounts from the injected configuration.
type Calculator struct {
	commissionBps int64
	taxRatesBps   map[string]int64
}

// New creates a Calculator. A nil tax table falls back to the default.
func New(cfg Config) *Calculator {
	rates := cfg.TaxRatesBps
	if rates == nil {
		rates = DefaultTaxRatesBps()
	}
	return &Calculator{
		commissionBps: cfg.CommissionBps,
		taxRatesBps:   rates,
	}
}

// TaxRateBps returns the tax rate for a jurisdiction. Unknown regions are
// zero-rated, not an error.
func (c *Calculator) TaxRateBps(region string) int64 {
	return c.taxRatesBps[region]
}

// CommissionBps returns the configured platform commission rate.
func (c *Calculator) CommissionBps() int64 {
	return c.commissionBps
}

// Breakdown is the result of computing one payment stage.
type Breakdown struct {
	// Base is the agreed compensation the computation started from.
	Base money.Money `json:"base"`
	// Tax on the full base compensation at the jurisdiction rate.
	Tax money.Money `json:"tax"`
	// TaxInclusive is base + tax; the figure the brand is invoiced on.
	TaxInclusive money.Money `json:"tax_inclusive"`
	// Gross is the tax-inclusive amount owed by the brand for this stage.
	Gross money.Money `json:"gross"`
	// Commission is the platform's cut of the stage.
	Commission money.Money `json:"commission"`
	// Net is what the creator receives: gross minus commission.
	Net money.Money `json:"net"`
	// TaxRegion and rates echo the inputs for audit records.
	TaxRegion     string `json:"tax_region"`
	TaxRateBps    int64  `json:"tax_rate_bps"`
	StageBps      int64  `json:"stage_bps"`
	CommissionBps int64  `json:"commission_bps"`
}

// ComputeStage computes the amounts for one stage of a proposal's
// compensation. stageBps is the stage's share of the total in basis points
// and must be in (0, 10000]. Net is defined as Gross - Commission, so
// Commission + Net == Gross holds for every input including fractional
// minor units.
func (c *Calculator) ComputeStage(base money.Money, taxRegion string, stageBps int64) (Breakdown, error) {
	if !base.IsPositive() {
		return Breakdown{}, fmt.Errorf("base compensation must be positive, got %d", base.AmountMinor)
	}
	if stageBps <= 0 || stageBps > 10000 {
		return Breakdown{}, fmt.Errorf("stage share must be in (0, 10000] basis points, got %d", stageBps)
	}

	taxRate := c.taxRatesBps[taxRegion]
	tax := base.Percentage(taxRate)
	taxInclusive := base.MustAdd(tax)

	gross := taxInclusive.Percentage(stageBps)
	commission := taxInclusive.Share(c.commissionBps, stageBps)
	net := gross.MustSub(commission)

	return Breakdown{
		Base:          base,
		Tax:           tax,
		TaxInclusive:  taxInclusive,
		Gross:         gross,
		Commission:    commission,
		Net:           net,
		TaxRegion:     taxRegion,
		TaxRateBps:    taxRate,
		StageBps:      stageBps,
		CommissionBps: c.commissionBps,
	}, nil
}

// ComputeInvoiceTotals computes the full (100%) compensation figures used
// when generating the proposal's invoice.
func (c *Calculator) ComputeInvoiceTotals(base money.Money, taxRegion string) (subtotal, tax, total money.Money, taxRateBps int64) {
	taxRateBps = c.taxRatesBps[taxRegion]
	tax = base.Percentage(taxRateBps)
	return base, tax, base.MustAdd(tax), taxRateBps
}
