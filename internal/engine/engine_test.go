package engine

import (
	"path/filepath"
	"testing"

	"pos_sync/internal/model"
	"pos_sync/internal/stock"
	"pos_sync/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setup(t *testing.T) (*Engine, *store.Store, *stock.Reconciler) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.OrderRecord{}, &model.StockEntry{}))
	st := store.New(db)
	rc := stock.NewReconciler(db, st)
	return New(db, st, rc), st, rc
}

func payload() CheckoutPayload {
	return CheckoutPayload{
		Items: []model.LineItem{
			{ProductID: "WM-001", Qty: 2, UnitPriceCents: 2500},
			{ProductID: "ESP-009", Qty: 1, UnitPriceCents: 1200},
		},
		SubtotalCents: 6200,
		DiscountCents: 200,
		TaxCents:      480,
		TotalCents:    6480,
		PaymentMethod: "card",
		StaffID:       "staff-7",
		BranchID:      "branch-2",
	}
}

func TestCheckoutPersistsOrderAndReservation(t *testing.T) {
	e, st, rc := setup(t)

	rec, err := e.Checkout(payload())
	require.NoError(t, err)
	assert.NotEmpty(t, rec.TempID)
	assert.Equal(t, model.StatusPending, rec.Status)

	got, err := st.Get(rec.TempID)
	require.NoError(t, err)
	assert.Equal(t, int64(6480), got.TotalCents)
	assert.Len(t, got.Items, 2)
	assert.Equal(t, "card", got.PaymentMethod)

	entry, err := rc.Entry("WM-001")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(-2), entry.CachedStock)
	assert.Equal(t, int64(2), entry.PendingDecrementTotal)
}

func TestCheckoutGeneratesUniqueTempIDs(t *testing.T) {
	e, _, _ := setup(t)
	a, err := e.Checkout(payload())
	require.NoError(t, err)
	b, err := e.Checkout(payload())
	require.NoError(t, err)
	assert.NotEqual(t, a.TempID, b.TempID)
}

func TestCheckoutRejectsBadTotals(t *testing.T) {
	e, st, _ := setup(t)

	p := payload()
	p.TotalCents = 9999
	_, err := e.Checkout(p)
	require.Error(t, err)

	p = payload()
	p.Items = nil
	_, err = e.Checkout(p)
	require.Error(t, err)

	p = payload()
	p.Items[0].Qty = 0
	_, err = e.Checkout(p)
	require.Error(t, err)

	p = payload()
	p.PaymentMethod = ""
	_, err = e.Checkout(p)
	require.Error(t, err)

	// Nothing leaked into the queue.
	out, err := st.List(store.Filter{})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCheckoutFiresHooks(t *testing.T) {
	e, _, _ := setup(t)
	var fired int
	e.OnCheckout(func() { fired++ })
	e.OnCheckout(func() { fired++ })

	_, err := e.Checkout(payload())
	require.NoError(t, err)
	assert.Equal(t, 2, fired)

	// Rejected checkouts never fire hooks.
	p := payload()
	p.TotalCents = 1
	_, _ = e.Checkout(p)
	assert.Equal(t, 2, fired)
}
