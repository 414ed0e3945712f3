// Package money provides fixed-point monetary amounts held in minor units.
// All campaign compensation, commission and invoice arithmetic goes through
// this package; floats only appear at the display boundary.
package money

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Currency represents an ISO 4217 currency code.
type Currency string

const (
	INR Currency = "INR"
	USD Currency = "USD"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
)

// CurrencyInfo contains display metadata about a currency.
type CurrencyInfo struct {
	Code        Currency
	MinorUnits  int // number of decimal places
	Symbol      string
	SymbolFirst bool
}

var currencies = map[Currency]CurrencyInfo{
	INR: {Code: INR, MinorUnits: 2, Symbol: "₹", SymbolFirst: true},
	USD: {Code: USD, MinorUnits: 2, Symbol: "$", SymbolFirst: true},
	EUR: {Code: EUR, MinorUnits: 2, Symbol: "€", SymbolFirst: true},
	GBP: {Code: GBP, MinorUnits: 2, Symbol: "£", SymbolFirst: true},
}

// GetCurrencyInfo returns info about a currency.
func GetCurrencyInfo(c Currency) (CurrencyInfo, bool) {
	info, ok := currencies[c]
	return info, ok
}

// MajorUnit returns the number of minor units in one major unit of the
// currency (100 for two-decimal currencies). Used as the rounding tolerance
// when comparing a stored amount against a recomputed one.
func MajorUnit(c Currency) int64 {
	info, ok := currencies[c]
	if !ok {
		info = CurrencyInfo{MinorUnits: 2}
	}
	return int64(math.Pow(10, float64(info.MinorUnits)))
}

// Money represents a monetary amount in minor units (paise, cents, pence).
type Money struct {
	AmountMinor int64    `json:"amount_minor"`
	Currency    Currency `json:"currency"`
}

// New creates a Money value from minor units.
func New(amountMinor int64, currency Currency) Money {
	return Money{AmountMinor: amountMinor, Currency: currency}
}

// NewFromMajor creates Money from major units (e.g. rupees).
func NewFromMajor(amountMajor float64, currency Currency) Money {
	return Money{
		AmountMinor: int64(math.Round(amountMajor * float64(MajorUnit(currency)))),
		Currency:    currency,
	}
}

// Zero returns a zero amount for a currency.
func Zero(currency Currency) Money {
	return Money{AmountMinor: 0, Currency: currency}
}

// IsZero returns true if the amount is zero.
func (m Money) IsZero() bool { return m.AmountMinor == 0 }

// IsPositive returns true if the amount is positive.
func (m Money) IsPositive() bool { return m.AmountMinor > 0 }

// IsNegative returns true if the amount is negative.
func (m Money) IsNegative() bool { return m.AmountMinor < 0 }

// Add adds two money values (must be same currency).
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{AmountMinor: m.AmountMinor + other.AmountMinor, Currency: m.Currency}, nil
}

// MustAdd adds two money values, panics on currency mismatch.
func (m Money) MustAdd(other Money) Money {
	result, err := m.Add(other)
	if err != nil {
		panic(err)
	}
	return result
}

// Sub subtracts two money values (must be same currency).
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{AmountMinor: m.AmountMinor - other.AmountMinor, Currency: m.Currency}, nil
}

// MustSub subtracts two money values, panics on currency mismatch.
func (m Money) MustSub(other Money) Money {
	result, err := m.Sub(other)
	if err != nil {
		panic(err)
	}
	return result
}

// Percentage calculates a percentage expressed in basis points
// (basisPoints / 10000), rounded to the nearest minor unit.
func (m Money) Percentage(basisPoints int64) Money {
	return Money{
		AmountMinor: int64(math.Round(float64(m.AmountMinor) * float64(basisPoints) / 10000)),
		Currency:    m.Currency,
	}
}

// Share calculates stageBps of rateBps of the amount in a single rounding
// step. Two chained Percentage calls would round twice and can drift a minor
// unit from the proportional value.
func (m Money) Share(rateBps, stageBps int64) Money {
	return Money{
		AmountMinor: int64(math.Round(float64(m.AmountMinor) * float64(rateBps) / 10000 * float64(stageBps) / 10000)),
		Currency:    m.Currency,
	}
}

// Compare returns -1, 0, or 1.
func (m Money) Compare(other Money) (int, error) {
	if m.Currency != other.Currency {
		return 0, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	switch {
	case m.AmountMinor < other.AmountMinor:
		return -1, nil
	case m.AmountMinor > other.AmountMinor:
		return 1, nil
	}
	return 0, nil
}

// Equal checks equality.
func (m Money) Equal(other Money) bool {
	return m.AmountMinor == other.AmountMinor && m.Currency == other.Currency
}

// GreaterOrEqual checks if m >= other.
func (m Money) GreaterOrEqual(other Money) bool {
	cmp, err := m.Compare(other)
	return err == nil && cmp >= 0
}

// WithinTolerance reports whether the two amounts differ by at most one
// major currency unit.
func (m Money) WithinTolerance(other Money) bool {
	if m.Currency != other.Currency {
		return false
	}
	diff := m.AmountMinor - other.AmountMinor
	if diff < 0 {
		diff = -diff
	}
	return diff <= MajorUnit(m.Currency)
}

// ToMajor converts to major units as float. Display only.
func (m Money) ToMajor() float64 {
	return float64(m.AmountMinor) / float64(MajorUnit(m.Currency))
}

// String returns a human-readable representation.
func (m Money) String() string {
	info, ok := currencies[m.Currency]
	if !ok {
		return fmt.Sprintf("%d %s (minor)", m.AmountMinor, m.Currency)
	}
	major := m.ToMajor()
	format := fmt.Sprintf("%%.%df", info.MinorUnits)
	if info.SymbolFirst {
		return fmt.Sprintf("%s"+format, info.Symbol, major)
	}
	return fmt.Sprintf(format+"%s", major, info.Symbol)
}

// MarshalJSON implements json.Marshaler.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		AmountMinor int64  `json:"amount_minor"`
		Currency    string `json:"currency"`
	}{
		AmountMinor: m.AmountMinor,
		Currency:    string(m.Currency),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Money) UnmarshalJSON(data []byte) error {
	var v struct {
		AmountMinor int64  `json:"amount_minor"`
		Currency    string `json:"currency"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	m.AmountMinor = v.AmountMinor
	m.Currency = Currency(v.Currency)
	return nil
}

// Scan implements sql.Scanner.
func (m *Money) Scan(src interface{}) error {
	if src == nil {
		*m = Money{}
		return nil
	}
	switch v := src.(type) {
	case int64:
		m.AmountMinor = v
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return errors.New("cannot scan into Money")
	}
}

// Value implements driver.Valuer.
func (m Money) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// AllocateByBasisPoints splits an amount into shares proportional to the
// given basis points, assigning any rounding remainder to the first share so
// the parts always sum back to the whole.
func (m Money) AllocateByBasisPoints(shares []int64) []Money {
	if len(shares) == 0 {
		return nil
	}

	var total int64
	for _, s := range shares {
		total += s
	}
	if total == 0 {
		return nil
	}

	result := make([]Money, len(shares))
	var allocated int64

	for i, s := range shares {
		part := int64(math.Round(float64(m.AmountMinor) * float64(s) / float64(total)))
		result[i] = Money{AmountMinor: part, Currency: m.Currency}
		allocated += part
	}

	if diff := m.AmountMinor - allocated; diff != 0 {
		result[0].AmountMinor += diff
	}

	return result
}

// Sum adds up multiple money values.
func Sum(amounts ...Money) (Money, error) {
	if len(amounts) == 0 {
		return Money{}, nil
	}

	result := amounts[0]
	for _, a := range amounts[1:] {
		var err error
		result, err = result.Add(a)
		if err != nil {
			return Money{}, err
		}
	}
	return result, nil
}
