package model

import (
	"fmt"
	"time"
)

// LineItem is one sold product line inside an OrderRecord.
type LineItem struct {
	ProductID      string `json:"product_id"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

// OrderRecord is the durable unit of a single checkout. Rows are append-only:
// a record is never deleted, a refund is a new record pointing back via
// RefundOf. TempID is generated on this terminal and doubles as the
// idempotency key for the remote push.
type OrderRecord struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	CreatedAt time.Time `gorm:"index;not null" json:"created_at"` // client clock, assigned once at checkout
	UpdatedAt time.Time `json:"updated_at"`

	TempID   string `gorm:"size:64;uniqueIndex;not null" json:"temp_id"`
	ServerID string `gorm:"size:64;index" json:"server_id,omitempty"`

	Items          []LineItem        `gorm:"serializer:json;not null" json:"items"`
	SubtotalCents  int64             `gorm:"not null" json:"subtotal_cents"`
	DiscountCents  int64             `gorm:"not null;default:0" json:"discount_cents"`
	TaxCents       int64             `gorm:"not null;default:0" json:"tax_cents"`
	TotalCents     int64             `gorm:"not null" json:"total_cents"`
	PaymentMethod  string            `gorm:"size:32;not null" json:"payment_method"`
	PaymentDetails map[string]string `gorm:"serializer:json" json:"payment_details,omitempty"`

	StaffID     string `gorm:"size:64;index" json:"staff_id,omitempty"`
	BranchID    string `gorm:"size:64;index" json:"branch_id,omitempty"`
	CustomerRef string `gorm:"size:128" json:"customer_ref,omitempty"`
	RefundOf    string `gorm:"size:64;index" json:"refund_of,omitempty"`

	Status     Status     `gorm:"size:16;not null;index" json:"status"`
	RetryCount int        `gorm:"not null;default:0" json:"retry_count"`
	LastError  string     `gorm:"size:255" json:"last_error,omitempty"`
	SyncedAt   *time.Time `json:"synced_at,omitempty"`

	// Coordinator scheduling and operator flags.
	NextAttemptAt    time.Time `gorm:"index" json:"next_attempt_at"`
	RetryRequested   bool      `gorm:"not null;default:false" json:"retry_requested"`
	OversellConflict bool      `gorm:"not null;default:false;index" json:"oversell_conflict"`
}

func (OrderRecord) TableName() string { return "order_records" }

// TotalQty sums quantities across all line items.
func (o *OrderRecord) TotalQty() int64 {
	var n int64
	for _, it := range o.Items {
		n += int64(it.Qty)
	}
	return n
}

// ValidateTotals checks the arithmetic handed over by the cart. Amounts are
// integer cents, so the total equation is checked exactly.
func (o *OrderRecord) ValidateTotals() error {
	if len(o.Items) == 0 {
		return fmt.Errorf("order has no items")
	}
	for _, it := range o.Items {
		if it.ProductID == "" {
			return fmt.Errorf("line item missing product_id")
		}
		if it.Qty <= 0 {
			return fmt.Errorf("invalid qty %d for product %s", it.Qty, it.ProductID)
		}
		if it.UnitPriceCents < 0 {
			return fmt.Errorf("negative unit price for product %s", it.ProductID)
		}
	}
	if o.SubtotalCents-o.DiscountCents+o.TaxCents != o.TotalCents {
		return fmt.Errorf("totals do not add up: subtotal=%d discount=%d tax=%d total=%d",
			o.SubtotalCents, o.DiscountCents, o.TaxCents, o.TotalCents)
	}
	return nil
}
