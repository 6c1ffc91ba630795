package actionserver

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"

	"github.com/Olympe-Studio/ferndev/internal/cart"
	"github.com/Olympe-Studio/ferndev/internal/format"
)

// Shop holds the shop-wide settings used for pricing and display.
type Shop struct {
	Name         string
	Locale       language.Tag
	Currency     currency.Unit
	TaxRate      decimal.Decimal
	FlatShipping decimal.Decimal
	// Coupons maps upper-case codes to a percentage off the subtotal.
	Coupons map[string]decimal.Decimal
}

// DefaultShop is a US shop with 10% tax, flat shipping and two coupons.
func DefaultShop() Shop {
	return Shop{
		Name:         "Fern Dev Shop",
		Locale:       language.AmericanEnglish,
		Currency:     currency.USD,
		TaxRate:      decimal.RequireFromString("0.10"),
		FlatShipping: decimal.RequireFromString("5.00"),
		Coupons: map[string]decimal.Decimal{
			"WELCOME10": decimal.NewFromInt(10),
			"HALFOFF":   decimal.NewFromInt(50),
		},
	}
}

var currencySymbols = map[string]string{
	"USD": "$",
	"CAD": "$",
	"AUD": "$",
	"EUR": "€",
	"GBP": "£",
	"JPY": "¥",
	"CHF": "CHF",
}

// decimals is the ISO minor unit count of the shop currency.
func (s Shop) decimals() int32 {
	scale, _ := currency.Standard.Rounding(s.Currency)
	return int32(scale)
}

func (s Shop) amount(d decimal.Decimal) cart.Amount {
	return cart.Amount(d.Round(s.decimals()).StringFixed(s.decimals()))
}

func (s Shop) config(pageURL string) cart.ShopConfig {
	code := s.Currency.String()
	symbol, ok := currencySymbols[code]
	if !ok {
		symbol = code
	}
	decimals := int(s.decimals())
	decimalSep, thousandSep, position := ".", ",", format.PositionLeft
	base, _ := s.Locale.Base()
	switch base.String() {
	case "fr", "de", "es", "it", "nl", "pt":
		decimalSep, thousandSep, position = ",", ".", format.PositionRightSpace
		if base.String() == "fr" {
			thousandSep = " "
		}
	}
	if code == "CHF" {
		position = format.PositionLeftSpace
	}

	cfg := cart.ShopConfig{
		PriceDecimals:     &decimals,
		DecimalSeparator:  &decimalSep,
		ThousandSeparator: &thousandSep,
		CurrencySymbol:    &symbol,
		CurrencyPosition:  &position,
		CurrencyCode:      code,
		TaxDisplayShop:    "excl",
		TaxDisplayCart:    "excl",
		StoreName:         s.Name,
		Locale:            strings.ReplaceAll(s.Locale.String(), "-", "_"),
		CartURL:           pageURL,
		CouponsEnabled:    len(s.Coupons) > 0,
		Extra: map[string]any{
			"tax_rate": s.TaxRate.String(),
		},
	}
	return cfg
}
