package model

import "time"

// StockEntry is the per-product local stock cache. CachedStock is what the
// product grid shows and is decremented optimistically at checkout;
// AuthoritativeStock is the last value the server reported and replaces the
// cached view wholesale on every refresh. PendingDecrementTotal is the sum of
// quantities reserved by orders that have not reached SYNCED yet.
type StockEntry struct {
	ProductID             string    `gorm:"primarykey;size:64" json:"product_id"`
	CachedStock           int64     `gorm:"not null;default:0" json:"cached_stock"`
	AuthoritativeStock    int64     `gorm:"not null;default:0" json:"authoritative_stock"`
	PendingDecrementTotal int64     `gorm:"not null;default:0" json:"pending_decrement_total"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func (StockEntry) TableName() string { return "stock_entries" }
