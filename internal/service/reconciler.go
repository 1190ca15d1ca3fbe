package service

import "github.com/fjod/cartcheckout/internal/domain"

const (
	MsgAvailabilityChanged = "Some products are no longer available or are in less than the required quantity."
	MsgPriceChanged        = "There are some changes happened to product prices in the cart. Please reconfirm the order"
)

type ItemStatus string

const (
	ItemUnavailable  ItemStatus = "unavailable"
	ItemShortage     ItemStatus = "shortage"
	ItemPriceChanged ItemStatus = "priceChanged"
)

// ItemAnnotation explains why one cart line blocks checkout.
type ItemAnnotation struct {
	ItemID            string     `json:"itemId"`
	ProductID         string     `json:"productId"`
	Color             string     `json:"color,omitempty"`
	Status            ItemStatus `json:"status"`
	Exists            bool       `json:"exists"`
	QuantityInCart    int        `json:"quantityInCart"`
	AvailableQuantity int        `json:"availableQuantity"`
	OldPrice          float64    `json:"oldPrice,omitempty"`
	NewPrice          float64    `json:"newPrice,omitempty"`
}

// Reconciliation is the outcome of comparing a cart with live catalog data.
type Reconciliation struct {
	Changed     bool
	Annotations []ItemAnnotation
	// Corrected is the cart with live prices. It is set only when prices
	// drifted and every line is still available; that is the only case in
	// which the correction is persisted.
	Corrected *domain.Cart
}

// AvailabilityChanged reports whether any line is unavailable or short.
func (r *Reconciliation) AvailabilityChanged() bool {
	for _, a := range r.Annotations {
		if a.Status != ItemPriceChanged {
			return true
		}
	}
	return false
}

func (r *Reconciliation) Message() string {
	switch {
	case !r.Changed:
		return ""
	case r.AvailabilityChanged():
		return MsgAvailabilityChanged
	default:
		return MsgPriceChanged
	}
}

// Reconcile compares every line with its live product. Missing products (or a
// color the product no longer offers) make the line unavailable; stock below
// what the whole cart draws from the same counter makes it short; otherwise a
// differing live price is recorded as drift. It has no side effects.
func Reconcile(cart *domain.Cart, products map[string]*domain.Product) *Reconciliation {
	res := &Reconciliation{}
	corrected := cart.Clone()
	priceDrift := false
	demand := cartDemand(cart, products)

	for i, item := range cart.Items {
		p, ok := products[item.ProductID]
		var available int
		if ok {
			available, ok = demand.remaining(p, item)
		}
		switch {
		case !ok:
			res.Annotations = append(res.Annotations, ItemAnnotation{
				ItemID:         item.ID,
				ProductID:      item.ProductID,
				Color:          item.Color,
				Status:         ItemUnavailable,
				QuantityInCart: item.Quantity,
			})
		case available < item.Quantity:
			res.Annotations = append(res.Annotations, ItemAnnotation{
				ItemID:            item.ID,
				ProductID:         item.ProductID,
				Color:             item.Color,
				Status:            ItemShortage,
				Exists:            true,
				QuantityInCart:    item.Quantity,
				AvailableQuantity: available,
			})
		case p.Price != item.UnitPrice:
			res.Annotations = append(res.Annotations, ItemAnnotation{
				ItemID:            item.ID,
				ProductID:         item.ProductID,
				Color:             item.Color,
				Status:            ItemPriceChanged,
				Exists:            true,
				QuantityInCart:    item.Quantity,
				AvailableQuantity: available,
				OldPrice:          item.UnitPrice,
				NewPrice:          p.Price,
			})
			corrected.Items[i].UnitPrice = p.Price
			priceDrift = true
		}
	}

	res.Changed = len(res.Annotations) > 0
	if priceDrift && !res.AvailabilityChanged() {
		corrected.Subtotal = domain.CalcSubtotal(corrected.Items)
		corrected.DiscountedTotal = nil
		res.Corrected = corrected
	}
	return res
}

type stockCounter struct {
	productID string
	color     string
}

// stockDemand totals cart quantities per stock counter. Every line draws on
// its product's flat quantity and variant lines also draw on their color,
// which is how DecrementStock applies them.
type stockDemand map[stockCounter]int

func cartDemand(cart *domain.Cart, products map[string]*domain.Product) stockDemand {
	d := stockDemand{}
	for _, item := range cart.Items {
		p, ok := products[item.ProductID]
		if !ok {
			continue
		}
		d[stockCounter{productID: item.ProductID}] += item.Quantity
		if p.UsesVariant(item.Color) {
			d[stockCounter{productID: item.ProductID, color: item.Color}] += item.Quantity
		}
	}
	return d
}

// remaining is the stock left for item once the other lines sharing its
// counters are served. ok is false when the product no longer offers the color.
func (d stockDemand) remaining(p *domain.Product, item domain.CartItem) (int, bool) {
	if _, ok := p.Available(item.Color); !ok {
		return 0, false
	}
	left := p.Quantity - (d[stockCounter{productID: item.ProductID}] - item.Quantity)
	if p.UsesVariant(item.Color) {
		for _, v := range p.Variants {
			if v.Color == item.Color {
				left = min(left, v.Quantity-(d[stockCounter{productID: item.ProductID, color: item.Color}]-item.Quantity))
				break
			}
		}
	}
	return max(left, 0), true
}
