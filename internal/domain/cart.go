package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Cart struct {
	ID              string     `bson:"_id,omitempty" json:"id"`
	UserID          string     `bson:"user_id" json:"userId"`
	Items           []CartItem `bson:"items" json:"items"`
	Subtotal        float64    `bson:"subtotal" json:"subtotal"`
	DiscountedTotal *float64   `bson:"discounted_total,omitempty" json:"discountedTotal,omitempty"`
	Version         int64      `bson:"version" json:"version"`
	CreatedAt       time.Time  `bson:"created_at" json:"createdAt"`
	UpdatedAt       time.Time  `bson:"updated_at" json:"updatedAt"`
}

// CartItem is one line of a cart. UnitPrice is the product price captured when
// the line was first added; it only changes when reconciliation corrects it.
type CartItem struct {
	ID        string  `bson:"_id" json:"id"`
	ProductID string  `bson:"product_id" json:"productId"`
	Color     string  `bson:"color" json:"color,omitempty"`
	Quantity  int     `bson:"quantity" json:"quantity"`
	UnitPrice float64 `bson:"unit_price" json:"unitPrice"`
}

// Total is the amount payable for the cart: the discounted total when a coupon
// is applied, the subtotal otherwise.
func (c *Cart) Total() float64 {
	if c.DiscountedTotal != nil {
		return *c.DiscountedTotal
	}
	return c.Subtotal
}

func (c *Cart) FindItem(itemID string) (CartItem, bool) {
	for _, it := range c.Items {
		if it.ID == itemID {
			return it, true
		}
	}
	return CartItem{}, false
}

// ProductIDs returns the distinct product ids referenced by the cart, in line order.
func (c *Cart) ProductIDs() []string {
	seen := make(map[string]struct{}, len(c.Items))
	ids := make([]string, 0, len(c.Items))
	for _, it := range c.Items {
		if _, ok := seen[it.ProductID]; ok {
			continue
		}
		seen[it.ProductID] = struct{}{}
		ids = append(ids, it.ProductID)
	}
	return ids
}

// Clone returns a deep copy of the cart.
func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Items = append([]CartItem(nil), c.Items...)
	if c.DiscountedTotal != nil {
		v := *c.DiscountedTotal
		cp.DiscountedTotal = &v
	}
	return &cp
}

// CalcSubtotal sums unitPrice*quantity over the items, rounded to 2 decimal places.
func CalcSubtotal(items []CartItem) float64 {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(decimal.NewFromFloat(it.UnitPrice).Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return sum.Round(2).InexactFloat64()
}
