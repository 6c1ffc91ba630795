package actionserver

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Unlimited marks a product without stock tracking.
const Unlimited = -1

// Product is a sellable catalog entry.
type Product struct {
	ID           int64
	Name         string
	RegularPrice decimal.Decimal
	// SalePrice is ignored when zero.
	SalePrice  decimal.Decimal
	Stock      int
	Virtual    bool
	Variations map[int64]map[string]string
}

func (p Product) unitPrice() decimal.Decimal {
	if p.onSale() {
		return p.SalePrice
	}
	return p.RegularPrice
}

func (p Product) onSale() bool {
	return p.SalePrice.IsPositive() && p.SalePrice.LessThan(p.RegularPrice)
}

// Catalog is an immutable product lookup.
type Catalog struct {
	products map[int64]Product
}

// NewCatalog indexes products by ID. Later duplicates win.
func NewCatalog(products ...Product) *Catalog {
	c := &Catalog{products: make(map[int64]Product, len(products))}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

// Product returns the product with id.
func (c *Catalog) Product(id int64) (Product, bool) {
	p, ok := c.products[id]
	return p, ok
}

// Products lists the catalog ordered by ID.
func (c *Catalog) Products() []Product {
	out := make([]Product, 0, len(c.products))
	for _, p := range c.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DefaultCatalog is a small seal shop used by the dev server and tests.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		Product{
			ID:           101,
			Name:         "Classic Round Seal",
			RegularPrice: decimal.RequireFromString("24.00"),
			Stock:        Unlimited,
		},
		Product{
			ID:           102,
			Name:         "Square Seal",
			RegularPrice: decimal.RequireFromString("32.00"),
			SalePrice:    decimal.RequireFromString("28.50"),
			Stock:        Unlimited,
			Variations: map[int64]map[string]string{
				1021: {"size": "S"},
				1022: {"size": "M"},
				1023: {"size": "L"},
			},
		},
		Product{
			ID:           103,
			Name:         "Engraving Gift Card",
			RegularPrice: decimal.RequireFromString("50.00"),
			Stock:        Unlimited,
			Virtual:      true,
		},
		Product{
			ID:           104,
			Name:         "Limited Jade Seal",
			RegularPrice: decimal.RequireFromString("1200.00"),
			Stock:        2,
		},
		Product{
			ID:           105,
			Name:         "Retired Brass Seal",
			RegularPrice: decimal.RequireFromString("18.00"),
			Stock:        0,
		},
	)
}
