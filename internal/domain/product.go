package domain

// Product is the catalog's view of a sellable item. The engine reads it live and
// decrements stock during checkout; the catalog itself is managed elsewhere.
type Product struct {
	ID         string    `bson:"_id" json:"id"`
	Name       string    `bson:"name" json:"name"`
	ImageCover string    `bson:"image_cover,omitempty" json:"imageCover,omitempty"`
	Price      float64   `bson:"price" json:"price"`
	Quantity   int       `bson:"quantity" json:"quantity"`
	Sold       int       `bson:"sold" json:"sold"`
	Variants   []Variant `bson:"variants,omitempty" json:"variants,omitempty"`
}

type Variant struct {
	Color    string `bson:"color" json:"color"`
	Quantity int    `bson:"quantity" json:"quantity"`
}

// Available reports the stock that applies to a cart line with the given color.
// Products with variants count per color; a color the product does not offer
// yields ok=false. Lines without a color, and products without variants, use
// the flat quantity.
func (p *Product) Available(color string) (int, bool) {
	if color == "" || len(p.Variants) == 0 {
		return p.Quantity, true
	}
	for _, v := range p.Variants {
		if v.Color == color {
			return min(v.Quantity, p.Quantity), true
		}
	}
	return 0, false
}

// UsesVariant reports whether stock for color is tracked on a variant.
func (p *Product) UsesVariant(color string) bool {
	return color != "" && len(p.Variants) > 0
}

// StockLine is one conditional stock decrement applied at checkout.
type StockLine struct {
	ProductID string
	Color     string
	Variant   bool
	Quantity  int
}
