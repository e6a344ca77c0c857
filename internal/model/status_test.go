package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusSyncing, true},
		{StatusSyncing, StatusSynced, true},
		{StatusSyncing, StatusFailed, true},
		{StatusSyncing, StatusPending, true}, // transient bounce / crash recovery
		{StatusFailed, StatusSyncing, true},  // operator resubmit
		{StatusPending, StatusSynced, false},
		{StatusPending, StatusFailed, false},
		{StatusSynced, StatusSyncing, false},
		{StatusSynced, StatusPending, false},
		{StatusFailed, StatusSynced, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestValidateTotals(t *testing.T) {
	ok := OrderRecord{
		Items:         []LineItem{{ProductID: "WM-001", Qty: 2, UnitPriceCents: 2500}},
		SubtotalCents: 5000,
		DiscountCents: 500,
		TaxCents:      360,
		TotalCents:    4860,
	}
	assert.NoError(t, ok.ValidateTotals())

	bad := ok
	bad.TotalCents = 4859
	assert.Error(t, bad.ValidateTotals())

	empty := OrderRecord{SubtotalCents: 0, TotalCents: 0}
	assert.Error(t, empty.ValidateTotals())
}

func TestTotalQty(t *testing.T) {
	rec := OrderRecord{Items: []LineItem{
		{ProductID: "a", Qty: 2},
		{ProductID: "b", Qty: 3},
	}}
	assert.Equal(t, int64(5), rec.TotalQty())
}
