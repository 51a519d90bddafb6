package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog entry. Price is the current reference price; the
// price a customer actually paid lives on OrderItem.UnitPrice.
type Product struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	Name        string          `gorm:"size:255;not null" json:"name"`
	Price       decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
	Description string          `gorm:"size:255;not null;default:''" json:"description"`
	ImgURL      string          `gorm:"column:img_url;size:1024;not null;default:''" json:"img_url"`
	CategoryID  uint            `gorm:"not null;index" json:"category_id"`
	Category    *Category       `gorm:"foreignKey:CategoryID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"category,omitempty"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
