package domain

import "time"

type Coupon struct {
	ID       string    `bson:"_id,omitempty" json:"id"`
	Name     string    `bson:"name" json:"name"`
	Discount float64   `bson:"discount" json:"discount"`
	ExpireAt time.Time `bson:"expire_at" json:"expireAt"`
}

func (c *Coupon) IsActive(now time.Time) bool {
	return c.ExpireAt.After(now)
}
