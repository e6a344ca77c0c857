package engine

import (
	"errors"
	"fmt"
	"time"

	"pos_sync/internal/model"
	"pos_sync/internal/stock"
	"pos_sync/internal/store"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CheckoutPayload is the finished checkout handed over by the cart UI: items,
// totals, discounts and taxes are already computed, payment is already
// selected. The engine validates the arithmetic but never recomputes it.
type CheckoutPayload struct {
	Items          []model.LineItem  `json:"items" binding:"required"`
	SubtotalCents  int64             `json:"subtotal_cents"`
	DiscountCents  int64             `json:"discount_cents"`
	TaxCents       int64             `json:"tax_cents"`
	TotalCents     int64             `json:"total_cents"`
	PaymentMethod  string            `json:"payment_method" binding:"required"`
	PaymentDetails map[string]string `json:"payment_details"`
	StaffID        string            `json:"staff_id"`
	BranchID       string            `json:"branch_id"`
	CustomerRef    string            `json:"customer_ref"`
	RefundOf       string            `json:"refund_of"`
}

// Engine is the checkout entry point. One call per sale: it durably appends
// the order and reserves stock in a single transaction, then returns without
// touching the network.
type Engine struct {
	db         *gorm.DB
	store      *store.Store
	reconciler *stock.Reconciler
	hooks      []func()
}

func New(db *gorm.DB, st *store.Store, rc *stock.Reconciler) *Engine {
	return &Engine{db: db, store: st, reconciler: rc}
}

// OnCheckout registers a hook fired after a sale committed (sync wakeup,
// projection refresh). Hooks must not block.
func (e *Engine) OnCheckout(fn func()) { e.hooks = append(e.hooks, fn) }

// Checkout records one sale. The only blocking failure is a local storage
// fault (DurabilityError); everything downstream degrades to "will sync
// later".
func (e *Engine) Checkout(p CheckoutPayload) (*model.OrderRecord, error) {
	now := time.Now()
	rec := &model.OrderRecord{
		TempID:         uuid.NewString(),
		CreatedAt:      now,
		NextAttemptAt:  now,
		Items:          p.Items,
		SubtotalCents:  p.SubtotalCents,
		DiscountCents:  p.DiscountCents,
		TaxCents:       p.TaxCents,
		TotalCents:     p.TotalCents,
		PaymentMethod:  p.PaymentMethod,
		PaymentDetails: p.PaymentDetails,
		StaffID:        p.StaffID,
		BranchID:       p.BranchID,
		CustomerRef:    p.CustomerRef,
		RefundOf:       p.RefundOf,
		Status:         model.StatusPending,
	}
	if err := validate(rec, p); err != nil {
		return nil, err
	}

	err := e.db.Transaction(func(tx *gorm.DB) error {
		if err := e.store.Append(tx, rec); err != nil {
			return err
		}
		return e.reconciler.Reserve(tx, rec.Items)
	})
	if err != nil {
		var d *store.DurabilityError
		if errors.As(err, &d) {
			return nil, err
		}
		return nil, &store.DurabilityError{Op: "checkout", Err: err}
	}

	for _, fn := range e.hooks {
		fn()
	}
	return rec, nil
}

func validate(rec *model.OrderRecord, p CheckoutPayload) error {
	if p.PaymentMethod == "" {
		return fmt.Errorf("payment_method is required")
	}
	if err := rec.ValidateTotals(); err != nil {
		return err
	}
	return nil
}
