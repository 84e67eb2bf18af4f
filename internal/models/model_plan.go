package models

import "time"

// Plan is a purchasable access tier for a channel. Plan administration is
// handled elsewhere; the engine only reads validity and pricing.
type Plan struct {
	ID              string `gorm:"column:id;type:uuid;primary_key" json:"id"`
	ChannelID       string `gorm:"column:channel_id;type:uuid;not null;index" json:"channel_id"`
	Name            string `gorm:"column:name;type:varchar(128);not null" json:"name"`
	ValidityDays    int    `gorm:"column:validity_days;not null" json:"validity_days"`
	Price           int64  `gorm:"column:price;type:bigint;not null" json:"price"`
	DiscountedPrice *int64 `gorm:"column:discounted_price;type:bigint;default:null" json:"discounted_price"`
	Currency        string `gorm:"column:currency;type:varchar(8);not null;default:'INR'" json:"currency"`
	IsActive        bool   `gorm:"column:is_active;not null;default:true;index" json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Plan) TableName() string { return "plan" }

// Duration returns the plan validity as a duration.
func (p *Plan) Duration() time.Duration {
	return time.Duration(p.ValidityDays) * 24 * time.Hour
}
