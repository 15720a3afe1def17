package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Currency is a validated ISO 4217 currency with its standard minor units.
type Currency struct {
	unit       currency.Unit
	minorUnits int32
}

// ParseCurrency validates an ISO 4217 code.
func ParseCurrency(code string) (Currency, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return Currency{}, fmt.Errorf("money: unknown currency %q: %w", code, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return Currency{unit: unit, minorUnits: int32(scale)}, nil
}

// Code returns the ISO code.
func (c Currency) Code() string { return c.unit.String() }

// MinorUnits returns the number of decimal places amounts are rounded to.
func (c Currency) MinorUnits() int32 { return c.minorUnits }

// Round rounds half up to the currency's minor units.
func (c Currency) Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(c.minorUnits)
}

// Formatter renders amounts for display in one locale.
type Formatter struct {
	printer *message.Printer
}

// NewFormatter builds a Formatter for a BCP 47 locale, falling back to English when the tag
// cannot be parsed.
func NewFormatter(locale string) *Formatter {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		tag = language.English
	}
	return &Formatter{printer: message.NewPrinter(tag)}
}

// Symbol renders the amount with the locale's currency symbol, e.g. "€ 12.50".
func (f *Formatter) Symbol(c Currency, amount decimal.Decimal) string {
	return f.printer.Sprint(currency.Symbol(c.unit.Amount(c.Round(amount).InexactFloat64())))
}

// ISO renders the amount with the ISO code, e.g. "EUR 12.50".
func (f *Formatter) ISO(c Currency, amount decimal.Decimal) string {
	return f.printer.Sprint(currency.ISO(c.unit.Amount(c.Round(amount).InexactFloat64())))
}
