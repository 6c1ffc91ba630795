package cart

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Olympe-Studio/ferndev/internal/fault"
	"github.com/Olympe-Studio/ferndev/internal/format"
)

// Amount is a server-computed decimal amount kept in its string form.
type Amount string

// UnmarshalJSON accepts JSON strings, numbers and null.
func (a *Amount) UnmarshalJSON(b []byte) error {
	raw := bytes.TrimSpace(b)
	switch {
	case bytes.Equal(raw, []byte("null")):
		*a = ""
		return nil
	case len(raw) > 0 && raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		*a = Amount(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return fmt.Errorf("cart: amount %s: %w", raw, err)
	}
	*a = Amount(n.String())
	return nil
}

// Decimal parses the amount. The empty amount is zero.
func (a Amount) Decimal() (decimal.Decimal, error) {
	if strings.TrimSpace(string(a)) == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(string(a))
}

// Price is the unit price breakdown of a cart line.
type Price struct {
	Regular  Amount `json:"regular_price"`
	Sale     Amount `json:"sale_price"`
	Price    Amount `json:"price"`
	OnSale   bool   `json:"on_sale"`
	Currency string `json:"currency,omitempty"`
}

// Item is one cart line. Key is unique per product, variation and meta combination.
type Item struct {
	Key         string         `json:"key"`
	ProductID   int64          `json:"product_id"`
	VariationID int64          `json:"variation_id,omitempty"`
	Quantity    int            `json:"quantity"`
	Name        string         `json:"name,omitempty"`
	Price       Price          `json:"price"`
	Subtotal    Amount         `json:"subtotal"`
	Total       Amount         `json:"total"`
	Variation   map[string]any `json:"variation,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// Coupon is an applied discount code.
type Coupon struct {
	Code     string `json:"code"`
	Discount Amount `json:"discount"`
}

// Cart mirrors the server cart. Aggregates are server-computed and never
// recalculated locally.
type Cart struct {
	Items         []Item   `json:"items"`
	ItemCount     int      `json:"item_count"`
	Subtotal      Amount   `json:"subtotal"`
	DiscountTotal Amount   `json:"discount_total"`
	TaxTotal      Amount   `json:"tax_total"`
	ShippingTotal Amount   `json:"shipping_total"`
	Total         Amount   `json:"total"`
	Currency      string   `json:"currency,omitempty"`
	NeedsShipping bool     `json:"needs_shipping"`
	Coupons       []Coupon `json:"coupons,omitempty"`
}

// DefaultCart is the empty cart shape used before initialization and as the
// base malformed carts are merged over.
func DefaultCart() Cart {
	return Cart{
		Items:         []Item{},
		Subtotal:      "0",
		DiscountTotal: "0",
		TaxTotal:      "0",
		ShippingTotal: "0",
		Total:         "0",
	}
}

// Find returns the line with key.
func (c Cart) Find(key string) (Item, bool) {
	for _, item := range c.Items {
		if item.Key == key {
			return item, true
		}
	}
	return Item{}, false
}

// Clone returns a deep copy.
func (c Cart) Clone() Cart {
	out := c
	if c.Items != nil {
		out.Items = make([]Item, len(c.Items))
		for i, item := range c.Items {
			item.Variation = cloneMap(item.Variation)
			item.Meta = cloneMap(item.Meta)
			out.Items[i] = item
		}
	}
	if c.Coupons != nil {
		out.Coupons = append([]Coupon(nil), c.Coupons...)
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// ShopConfig is the shop-wide configuration fetched at initialization. The
// price formatting fields are pointers so an absent value can be told apart
// from a zero one.
type ShopConfig struct {
	PriceDecimals     *int    `json:"price_decimals,omitempty"`
	DecimalSeparator  *string `json:"decimal_separator,omitempty"`
	ThousandSeparator *string `json:"thousand_separator,omitempty"`
	CurrencySymbol    *string `json:"currency_symbol,omitempty"`
	CurrencyPosition  *string `json:"currency_position,omitempty"`
	CurrencyCode      string  `json:"currency_code,omitempty"`

	PricesIncludeTax bool   `json:"prices_include_tax"`
	TaxDisplayShop   string `json:"tax_display_shop,omitempty"`
	TaxDisplayCart   string `json:"tax_display_cart,omitempty"`

	StoreName      string `json:"store_name,omitempty"`
	Locale         string `json:"locale,omitempty"`
	CartURL        string `json:"cart_url,omitempty"`
	CheckoutURL    string `json:"checkout_url,omitempty"`
	CouponsEnabled bool   `json:"coupons_enabled"`

	// Extra holds every other key of the record.
	Extra map[string]any `json:"-"`
}

type shopConfigFields ShopConfig

var shopConfigKeys = []string{
	"price_decimals", "decimal_separator", "thousand_separator", "currency_symbol",
	"currency_position", "currency_code", "prices_include_tax", "tax_display_shop",
	"tax_display_cart", "store_name", "locale", "cart_url", "checkout_url", "coupons_enabled",
}

// UnmarshalJSON decodes the known fields and keeps the rest in Extra.
func (c *ShopConfig) UnmarshalJSON(b []byte) error {
	var fields shopConfigFields
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	for _, key := range shopConfigKeys {
		delete(all, key)
	}
	*c = ShopConfig(fields)
	if len(all) > 0 {
		c.Extra = all
	}
	return nil
}

// MarshalJSON writes the known fields and Extra side by side.
func (c ShopConfig) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(shopConfigFields(c))
	if err != nil {
		return nil, err
	}
	if len(c.Extra) == 0 {
		return raw, nil
	}
	merged := make(map[string]any, len(c.Extra)+len(shopConfigKeys))
	for k, v := range c.Extra {
		merged[k] = v
	}
	var known map[string]any
	if err := json.Unmarshal(raw, &known); err != nil {
		return nil, err
	}
	for k, v := range known {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Clone returns a deep copy. Clone of nil is nil.
func (c *ShopConfig) Clone() *ShopConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.PriceDecimals = clonePtr(c.PriceDecimals)
	out.DecimalSeparator = clonePtr(c.DecimalSeparator)
	out.ThousandSeparator = clonePtr(c.ThousandSeparator)
	out.CurrencySymbol = clonePtr(c.CurrencySymbol)
	out.CurrencyPosition = clonePtr(c.CurrencyPosition)
	out.Extra = cloneMap(c.Extra)
	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// PriceFormat extracts the formatting rules. Every rule must be present.
func (c *ShopConfig) PriceFormat() (format.PriceFormat, error) {
	if c == nil {
		return format.PriceFormat{}, errNotInitialized
	}
	var missing []string
	if c.PriceDecimals == nil {
		missing = append(missing, "price_decimals")
	}
	if c.DecimalSeparator == nil {
		missing = append(missing, "decimal_separator")
	}
	if c.ThousandSeparator == nil {
		missing = append(missing, "thousand_separator")
	}
	if c.CurrencySymbol == nil {
		missing = append(missing, "currency_symbol")
	}
	if c.CurrencyPosition == nil {
		missing = append(missing, "currency_position")
	}
	if len(missing) > 0 {
		return format.PriceFormat{}, &fault.Error{
			Kind:    fault.KindPrecondition,
			Status:  400,
			Message: "shop configuration not initialized: missing " + strings.Join(missing, ", "),
		}
	}
	return format.PriceFormat{
		Decimals:          *c.PriceDecimals,
		DecimalSeparator:  *c.DecimalSeparator,
		ThousandSeparator: *c.ThousandSeparator,
		Symbol:            *c.CurrencySymbol,
		Position:          *c.CurrencyPosition,
	}, nil
}

// AddItem describes a product to put in the cart. A zero Quantity means one.
type AddItem struct {
	ProductID   int64
	Quantity    int
	VariationID int64
	Variation   map[string]string
	Meta        map[string]any
}

// ItemUpdate changes an existing line. Nil fields keep their current value.
type ItemUpdate struct {
	Quantity    *int
	VariationID *int64
	Variation   map[string]string
}
