package actionserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/Olympe-Studio/ferndev/internal/cart"
)

// noticeError is a shopper-facing failure. It is reported inside a 200
// response, the way storefront notices are.
type noticeError struct {
	msg string
}

func (e *noticeError) Error() string { return e.msg }

func notice(format string, args ...any) error {
	return &noticeError{msg: fmt.Sprintf(format, args...)}
}

type line struct {
	key         string
	productID   int64
	variationID int64
	variation   map[string]string
	meta        map[string]any
	quantity    int
}

// serverCart is the authoritative cart of one session.
type serverCart struct {
	lines   []*line
	coupons []string
}

func (c *serverCart) find(key string) (*line, int) {
	for i, l := range c.lines {
		if l.key == key {
			return l, i
		}
	}
	return nil, -1
}

func (c *serverCart) quantityOf(productID int64) int {
	n := 0
	for _, l := range c.lines {
		if l.productID == productID {
			n += l.quantity
		}
	}
	return n
}

// add merges into an existing line with the same product, variation and meta.
func (c *serverCart) add(catalog *Catalog, in lineInput) (string, error) {
	p, ok := catalog.Product(in.productID)
	if !ok {
		return "", notice("Product %d does not exist.", in.productID)
	}
	if in.quantity <= 0 {
		return "", notice("Please enter a quantity greater than 0.")
	}
	variation, err := resolveVariation(p, in.variationID, in.variation)
	if err != nil {
		return "", err
	}
	if err := checkStock(p, c.quantityOf(p.ID)+in.quantity); err != nil {
		return "", err
	}

	for _, l := range c.lines {
		if l.productID == p.ID && l.variationID == in.variationID &&
			reflect.DeepEqual(l.variation, variation) && sameMeta(l.meta, in.meta) {
			l.quantity += in.quantity
			return l.key, nil
		}
	}
	l := &line{
		key:         ulid.Make().String(),
		productID:   p.ID,
		variationID: in.variationID,
		variation:   variation,
		meta:        in.meta,
		quantity:    in.quantity,
	}
	c.lines = append(c.lines, l)
	return l.key, nil
}

func (c *serverCart) setQuantity(catalog *Catalog, key string, quantity int) error {
	l, i := c.find(key)
	if l == nil {
		return notice("Cart item %s was not found.", key)
	}
	if quantity <= 0 {
		c.lines = append(c.lines[:i], c.lines[i+1:]...)
		return nil
	}
	p, ok := catalog.Product(l.productID)
	if !ok {
		return notice("Product %d does not exist.", l.productID)
	}
	if err := checkStock(p, c.quantityOf(p.ID)-l.quantity+quantity); err != nil {
		return err
	}
	l.quantity = quantity
	return nil
}

func (c *serverCart) update(catalog *Catalog, key string, in lineInput) error {
	l, _ := c.find(key)
	if l == nil {
		return notice("Cart item %s was not found.", key)
	}
	p, ok := catalog.Product(l.productID)
	if !ok {
		return notice("Product %d does not exist.", l.productID)
	}
	variation, err := resolveVariation(p, in.variationID, in.variation)
	if err != nil {
		return err
	}
	if err := c.setQuantity(catalog, key, in.quantity); err != nil {
		return err
	}
	if in.quantity > 0 {
		l.variationID = in.variationID
		l.variation = variation
	}
	return nil
}

func (c *serverCart) remove(key string) error {
	l, i := c.find(key)
	if l == nil {
		return notice("Cart item %s was not found.", key)
	}
	c.lines = append(c.lines[:i], c.lines[i+1:]...)
	return nil
}

func (c *serverCart) clear() {
	c.lines = nil
	c.coupons = nil
}

func (c *serverCart) applyCoupon(shop Shop, code string) error {
	if _, ok := shop.Coupons[code]; !ok {
		return notice("Coupon &quot;%s&quot; does not exist!", code)
	}
	for _, applied := range c.coupons {
		if applied == code {
			return notice("Coupon code already applied!")
		}
	}
	if len(c.lines) == 0 {
		return notice("Your cart is empty; add items before applying a coupon.")
	}
	c.coupons = append(c.coupons, code)
	return nil
}

func (c *serverCart) removeCoupon(code string) error {
	for i, applied := range c.coupons {
		if applied == code {
			c.coupons = append(c.coupons[:i], c.coupons[i+1:]...)
			return nil
		}
	}
	return notice("Coupon &quot;%s&quot; is not applied.", code)
}

// view renders the cart in wire shape with server-side totals.
func (c *serverCart) view(catalog *Catalog, shop Shop) cart.Cart {
	out := cart.DefaultCart()
	out.Currency = shop.Currency.String()

	subtotal := decimal.Zero
	for _, l := range c.lines {
		p, ok := catalog.Product(l.productID)
		if !ok {
			continue
		}
		unit := p.unitPrice()
		lineTotal := unit.Mul(decimal.NewFromInt(int64(l.quantity)))
		subtotal = subtotal.Add(lineTotal)
		out.ItemCount += l.quantity
		if !p.Virtual {
			out.NeedsShipping = true
		}

		sale := cart.Amount("")
		if p.onSale() {
			sale = shop.amount(p.SalePrice)
		}
		item := cart.Item{
			Key:         l.key,
			ProductID:   p.ID,
			VariationID: l.variationID,
			Quantity:    l.quantity,
			Name:        p.Name,
			Price: cart.Price{
				Regular:  shop.amount(p.RegularPrice),
				Sale:     sale,
				Price:    shop.amount(unit),
				OnSale:   p.onSale(),
				Currency: out.Currency,
			},
			Subtotal: shop.amount(lineTotal),
			Total:    shop.amount(lineTotal),
			Meta:     cloneAnyMap(l.meta),
		}
		if len(l.variation) > 0 {
			item.Variation = make(map[string]any, len(l.variation))
			for k, v := range l.variation {
				item.Variation[k] = v
			}
		}
		out.Items = append(out.Items, item)
	}

	discount := decimal.Zero
	for _, code := range c.coupons {
		pct := shop.Coupons[code]
		d := subtotal.Mul(pct).Div(decimal.NewFromInt(100)).Round(shop.decimals())
		if remaining := subtotal.Sub(discount); d.GreaterThan(remaining) {
			d = remaining
		}
		discount = discount.Add(d)
		out.Coupons = append(out.Coupons, cart.Coupon{Code: code, Discount: shop.amount(d)})
	}

	shipping := decimal.Zero
	if out.NeedsShipping {
		shipping = shop.FlatShipping
	}
	taxable := subtotal.Sub(discount).Add(shipping)
	if taxable.IsNegative() {
		taxable = decimal.Zero
	}
	tax := taxable.Mul(shop.TaxRate).Round(shop.decimals())

	out.Subtotal = shop.amount(subtotal)
	out.DiscountTotal = shop.amount(discount)
	out.ShippingTotal = shop.amount(shipping)
	out.TaxTotal = shop.amount(tax)
	out.Total = shop.amount(taxable.Add(tax))
	return out
}

type lineInput struct {
	productID   int64
	quantity    int
	variationID int64
	variation   map[string]string
	meta        map[string]any
}

func resolveVariation(p Product, variationID int64, variation map[string]string) (map[string]string, error) {
	if len(p.Variations) == 0 {
		if variationID != 0 {
			return nil, notice("%s has no variations.", p.Name)
		}
		if len(variation) == 0 {
			return nil, nil
		}
		return variation, nil
	}
	if variationID == 0 {
		return nil, notice("Please choose product options for <strong>%s</strong>.", p.Name)
	}
	attrs, ok := p.Variations[variationID]
	if !ok {
		return nil, notice("Variation %d of %s does not exist.", variationID, p.Name)
	}
	merged := make(map[string]string, len(attrs)+len(variation))
	for k, v := range variation {
		merged[k] = v
	}
	for k, v := range attrs {
		merged[k] = v
	}
	return merged, nil
}

func checkStock(p Product, wanted int) error {
	if p.Stock == Unlimited || wanted <= p.Stock {
		return nil
	}
	if p.Stock == 0 {
		return notice("Sorry, <strong>%s</strong> is out of stock.", p.Name)
	}
	return notice("You cannot add that amount of <strong>%s</strong> to the cart: only %d in stock.", p.Name, p.Stock)
}

func sameMeta(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ra) == string(rb)
}

func cloneAnyMap(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func isNotice(err error) (*noticeError, bool) {
	var n *noticeError
	ok := errors.As(err, &n)
	return n, ok
}
