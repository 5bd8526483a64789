// Package money converts bank-statement amounts into signed integer minor
// units using go-money's ISO-4217 table and shopspring/decimal for parsing.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Common currency codes (ISO-4217)
const (
	USD = "USD"
	EUR = "EUR"
	GBP = "GBP"
	JPY = "JPY" // no minor unit
)

// Money is a signed amount in minor units with its currency.
type Money struct {
	m *money.Money
}

// New creates Money from minor units.
func New(amountMinor int64, currencyCode string) *Money {
	return &Money{m: money.New(amountMinor, Code(currencyCode))}
}

// ErrOutOfRange is returned for amounts whose minor units do not fit an int64.
var ErrOutOfRange = errors.New("amount out of range")

var (
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

// NewFromDecimal rounds amount half away from zero to the currency minor unit.
func NewFromDecimal(amount decimal.Decimal, currencyCode string) (*Money, error) {
	minor, err := RoundToMinor(amount, currencyCode)
	if err != nil {
		return nil, err
	}
	return New(minor, currencyCode), nil
}

// Parse reads a statement amount such as "-1,234.56", "1.234,56" (european)
// or "£12.00" and rounds it to the currency minor unit.
func Parse(amount, currencyCode string, europeanFormat bool) (*Money, error) {
	d, err := ParseDecimal(amount, europeanFormat)
	if err != nil {
		return nil, err
	}
	return NewFromDecimal(d, currencyCode)
}

// ParseDecimal parses a statement amount without rounding.
func ParseDecimal(amount string, europeanFormat bool) (decimal.Decimal, error) {
	amount = strings.TrimSpace(amount)
	amount = strings.ReplaceAll(amount, " ", "")
	for _, sym := range []string{"$", "€", "£", "¥"} {
		amount = strings.ReplaceAll(amount, sym, "")
	}

	// Accounting negatives: (12.50)
	if strings.HasPrefix(amount, "(") && strings.HasSuffix(amount, ")") {
		amount = "-" + strings.Trim(amount, "()")
	}

	if europeanFormat {
		amount = strings.ReplaceAll(amount, ".", "")
		amount = strings.ReplaceAll(amount, ",", ".")
	} else {
		amount = strings.ReplaceAll(amount, ",", "")
	}

	if amount == "" {
		return decimal.Zero, fmt.Errorf("invalid amount: empty")
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount: %w", err)
	}
	return d, nil
}

// Code normalizes a currency code, falling back to USD for unknown codes.
func Code(currencyCode string) string {
	code := strings.ToUpper(strings.TrimSpace(currencyCode))
	if money.GetCurrency(code) == nil {
		return USD
	}
	return code
}

// Fraction returns the number of minor-unit digits of the currency.
func Fraction(currencyCode string) int {
	return money.GetCurrency(Code(currencyCode)).Fraction
}

// RoundToMinor converts a decimal amount to minor units of the currency.
func RoundToMinor(amount decimal.Decimal, currencyCode string) (int64, error) {
	minor := amount.Shift(int32(Fraction(currencyCode))).Round(0)
	if minor.GreaterThan(maxMinor) || minor.LessThan(minMinor) {
		return 0, fmt.Errorf("invalid amount %s: %w", amount.String(), ErrOutOfRange)
	}
	return minor.IntPart(), nil
}

// Amount returns the amount in minor units
func (m *Money) Amount() int64 {
	if m == nil || m.m == nil {
		return 0
	}
	return m.m.Amount()
}

// Currency returns the ISO-4217 currency code
func (m *Money) Currency() string {
	if m == nil || m.m == nil {
		return ""
	}
	return m.m.Currency().Code
}

// Sub returns m - other. Both must share a currency.
func (m *Money) Sub(other *Money) (*Money, error) {
	res, err := m.m.Subtract(other.m)
	if err != nil {
		return nil, fmt.Errorf("subtract %s from %s: %w", other.Currency(), m.Currency(), err)
	}
	return &Money{m: res}, nil
}

// ToDecimal returns the amount in major units.
func (m *Money) ToDecimal() decimal.Decimal {
	if m == nil || m.m == nil {
		return decimal.Zero
	}
	return decimal.New(m.m.Amount(), -int32(m.m.Currency().Fraction))
}

// Display formats the amount with the currency symbol, e.g. "£12.50".
func (m *Money) Display() string {
	if m == nil || m.m == nil {
		return ""
	}
	return m.m.Display()
}
