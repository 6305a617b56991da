/*
money.go - Fixed-precision monetary amounts

PURPOSE:
  Every amount the engine touches (invoice totals, margins, withholding,
  split allocations) is a Money. The value is a decimal.Decimal so that
  percentage conversions never drift the way binary floats do.

ROUNDING:
  Round() rounds half away from zero to the currency's minor unit.
  For the non-negative amounts this engine produces that is round-half-up:
    10.005 USD -> 10.01
    10.004 USD -> 10.00
  Percentages are not Money and are rounded separately (see PercentPlaces).

BOUNDARY FORMAT:
  Money crosses JSON, SQL and payment metadata as a decimal string
  ("1234.50"), never as a float.

SEE ALSO:
  - types.go: Entities carrying Money fields
  - margin/calculator.go: Percentage <-> amount conversions
*/
package billing

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency is an ISO 4217 currency code.
type Currency string

const (
	USD Currency = "USD"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
	JPY Currency = "JPY"
	KRW Currency = "KRW"
)

// DefaultCurrency is used when an invoice does not carry a currency code.
const DefaultCurrency = USD

// PercentPlaces is the precision derived percentages are rounded to. It is
// wide enough that re-deriving an amount from a stored percentage stays
// within a minor unit for any realistic invoice.
const PercentPlaces int32 = 10

var zeroDecimalCurrencies = map[Currency]bool{
	JPY: true,
	KRW: true,
}

// MinorUnits returns the number of decimal places of the currency's
// smallest unit.
func (c Currency) MinorUnits() int32 {
	if zeroDecimalCurrencies[c] {
		return 0
	}
	return 2
}

var hundred = decimal.NewFromInt(100)

// =============================================================================
// MONEY
// =============================================================================

type Money struct {
	Value    decimal.Decimal
	Currency Currency
}

func NewMoney(value decimal.Decimal, currency Currency) Money {
	if currency == "" {
		currency = DefaultCurrency
	}
	return Money{Value: value, Currency: currency}
}

func NewMoneyFromInt(value int64, currency Currency) Money {
	return NewMoney(decimal.NewFromInt(value), currency)
}

// ParseMoney parses a decimal string such as "1250.00".
func ParseMoney(s string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return NewMoney(d, currency), nil
}

// MustParseMoney is ParseMoney for literals known to be valid.
func MustParseMoney(s string, currency Currency) Money {
	m, err := ParseMoney(s, currency)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Zero() Money {
	return Money{Value: decimal.Zero, Currency: m.Currency}
}

func (m Money) Add(o Money) Money {
	return Money{Value: m.Value.Add(o.Value), Currency: m.Currency}
}

func (m Money) Sub(o Money) Money {
	return Money{Value: m.Value.Sub(o.Value), Currency: m.Currency}
}

func (m Money) Mul(f decimal.Decimal) Money {
	return Money{Value: m.Value.Mul(f), Currency: m.Currency}
}

func (m Money) Div(f decimal.Decimal) Money {
	return Money{Value: m.Value.Div(f), Currency: m.Currency}
}

func (m Money) Neg() Money {
	return Money{Value: m.Value.Neg(), Currency: m.Currency}
}

func (m Money) IsZero() bool {
	return m.Value.IsZero()
}

func (m Money) IsNegative() bool {
	return m.Value.IsNegative()
}

func (m Money) IsPositive() bool {
	return m.Value.IsPositive()
}

func (m Money) Equal(o Money) bool {
	return m.Value.Equal(o.Value)
}

func (m Money) GreaterThan(o Money) bool {
	return m.Value.GreaterThan(o.Value)
}

func (m Money) LessThan(o Money) bool {
	return m.Value.LessThan(o.Value)
}

// Round rounds to the currency's minor unit, half away from zero.
func (m Money) Round() Money {
	return Money{Value: m.Value.Round(m.Currency.MinorUnits()), Currency: m.Currency}
}

// Percent returns m * pct / 100, rounded to the minor unit.
func (m Money) Percent(pct decimal.Decimal) Money {
	return m.Mul(pct).Div(hundred).Round()
}

// PercentOf returns m / base * 100 rounded to PercentPlaces.
// A zero base yields zero rather than a division error.
func (m Money) PercentOf(base Money) decimal.Decimal {
	if base.IsZero() {
		return decimal.Zero
	}
	return m.Value.Div(base.Value).Mul(hundred).Round(PercentPlaces)
}

// WithinTolerance reports whether |m - o| <= tol.
func (m Money) WithinTolerance(o Money, tol decimal.Decimal) bool {
	return m.Value.Sub(o.Value).Abs().LessThanOrEqual(tol)
}

// String renders the value at the currency's precision.
func (m Money) String() string {
	return m.Value.StringFixed(m.Currency.MinorUnits())
}

type moneyJSON struct {
	Amount   string   `json:"amount"`
	Currency Currency `json:"currency"`
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.String(), Currency: m.Currency})
}

func (m *Money) UnmarshalJSON(b []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := ParseMoney(raw.Amount, raw.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
