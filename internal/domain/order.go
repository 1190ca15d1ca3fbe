package domain

import "time"

type PaymentMethod string

const (
	PaymentMethodCash PaymentMethod = "cash"
	PaymentMethodCard PaymentMethod = "card"
)

type OrderItem struct {
	ProductID  string  `bson:"product_id" json:"productId"`
	Name       string  `bson:"name" json:"name"`
	ImageCover string  `bson:"image_cover,omitempty" json:"imageCover,omitempty"`
	Price      float64 `bson:"price" json:"price"`
	Quantity   int     `bson:"quantity" json:"quantity"`
	Color      string  `bson:"color,omitempty" json:"color,omitempty"`
}

type ShippingAddress struct {
	Details    string `bson:"details,omitempty" json:"details,omitempty"`
	Phone      string `bson:"phone,omitempty" json:"phone,omitempty"`
	City       string `bson:"city,omitempty" json:"city,omitempty"`
	PostalCode string `bson:"postal_code,omitempty" json:"postalCode,omitempty"`
}

// Order is immutable after creation except for the paid and delivered flags.
type Order struct {
	ID              string           `bson:"_id" json:"id"`
	UserID          string           `bson:"user_id" json:"userId"`
	CheckoutRef     string           `bson:"checkout_ref" json:"checkoutRef"`
	PaymentRef      string           `bson:"payment_ref,omitempty" json:"paymentRef,omitempty"`
	Items           []OrderItem      `bson:"items" json:"items"`
	ShippingAddress *ShippingAddress `bson:"shipping_address,omitempty" json:"shippingAddress,omitempty"`
	TaxPrice        float64          `bson:"tax_price" json:"taxPrice"`
	ShippingPrice   float64          `bson:"shipping_price" json:"shippingPrice"`
	TotalPrice      float64          `bson:"total_price" json:"totalPrice"`
	PaymentMethod   PaymentMethod    `bson:"payment_method" json:"paymentMethod"`
	IsPaid          bool             `bson:"is_paid" json:"isPaid"`
	PaidAt          *time.Time       `bson:"paid_at,omitempty" json:"paidAt,omitempty"`
	IsDelivered     bool             `bson:"is_delivered" json:"isDelivered"`
	DeliveredAt     *time.Time       `bson:"delivered_at,omitempty" json:"deliveredAt,omitempty"`
	CreatedAt       time.Time        `bson:"created_at" json:"createdAt"`
}

// Cancellable reports whether the order may still be cancelled by its owner:
// only unpaid cash orders qualify.
func (o *Order) Cancellable() bool {
	return o.PaymentMethod == PaymentMethodCash && !o.IsPaid
}

// StatusUpdate carries the admin-settable order flags. Nil fields are left as is.
type StatusUpdate struct {
	IsPaid      *bool `json:"isPaid,omitempty"`
	IsDelivered *bool `json:"isDelivered,omitempty"`
}
