package stock

import (
	"errors"
	"os"

	"pos_sync/internal/model"
	"pos_sync/internal/store"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "stock").Logger()

// Snapshot is one product's authoritative count as reported by the server.
type Snapshot struct {
	ProductID string `json:"product_id"`
	Stock     int64  `json:"stock"`
}

// Reconciler keeps the optimistic local stock view and the authoritative
// server view in one place. The server aggregates sales across all terminals
// and branches, so its snapshot always replaces the cached counts wholesale;
// still-unsynced local reservations are re-applied on top so the product grid
// keeps oversell-protecting offline sales.
type Reconciler struct {
	db    *gorm.DB
	store *store.Store
}

func NewReconciler(db *gorm.DB, st *store.Store) *Reconciler {
	return &Reconciler{db: db, store: st}
}

// Reserve applies the optimistic decrement for a checkout. It runs inside the
// same transaction as the order append so a crash can never separate the two.
// Unknown products get a row on first sight; their cached count may go
// negative until the next authoritative refresh.
func (r *Reconciler) Reserve(tx *gorm.DB, items []model.LineItem) error {
	for _, it := range items {
		entry := model.StockEntry{ProductID: it.ProductID}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.StockEntry{}).
			Where("product_id = ?", it.ProductID).
			Updates(map[string]any{
				"cached_stock":            gorm.Expr("cached_stock - ?", it.Qty),
				"pending_decrement_total": gorm.Expr("pending_decrement_total + ?", it.Qty),
			}).Error; err != nil {
			return err
		}
	}
	return nil
}

// Settle releases the reservation once the server acknowledged the order. The
// decrement is server truth from now on and must not be counted again when
// the next authoritative snapshot lands.
func (r *Reconciler) Settle(tx *gorm.DB, items []model.LineItem) error {
	for _, it := range items {
		if err := tx.Model(&model.StockEntry{}).
			Where("product_id = ?", it.ProductID).
			Update("pending_decrement_total",
				gorm.Expr("MAX(pending_decrement_total - ?, 0)", it.Qty)).Error; err != nil {
			return err
		}
	}
	return nil
}

// Absorb applies an authoritative stock snapshot: server value wins, pending
// local decrements are recomputed from the queue and subtracted from the
// cached view. When a product's implied remainder goes negative, the unsynced
// orders that no longer fit are flagged for operator review; the engine never
// auto-cancels them.
func (r *Reconciler) Absorb(snaps []Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	var conflicted []string
	err := r.db.Transaction(func(tx *gorm.DB) error {
		totals, refs, err := pendingByProduct(tx)
		if err != nil {
			return err
		}
		for _, sn := range snaps {
			p := totals[sn.ProductID]
			entry := model.StockEntry{
				ProductID:             sn.ProductID,
				AuthoritativeStock:    sn.Stock,
				CachedStock:           sn.Stock - p,
				PendingDecrementTotal: p,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "product_id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"authoritative_stock", "cached_stock", "pending_decrement_total", "updated_at",
				}),
			}).Create(&entry).Error; err != nil {
				return err
			}
			if sn.Stock-p >= 0 {
				continue
			}
			// Oldest reservations keep their claim; everything past the point
			// where the cumulative quantity exceeds server stock is flagged.
			var cum int64
			for _, ref := range refs[sn.ProductID] {
				cum += ref.qty
				if cum > sn.Stock && ref.status != model.StatusSyncing {
					conflicted = append(conflicted, ref.tempID)
				}
			}
		}
		if len(conflicted) > 0 {
			conflicted = dedupe(conflicted)
			return r.store.FlagOversell(tx, conflicted)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(conflicted) > 0 {
		logger.Warn().Strs("temp_ids", conflicted).Msg("oversell conflict flagged, operator attention required")
	}
	return nil
}

// Entries returns the full local stock view for the product grid.
func (r *Reconciler) Entries() ([]model.StockEntry, error) {
	var out []model.StockEntry
	return out, r.db.Order("product_id ASC").Find(&out).Error
}

// Entry returns one product's stock view, or nil when unknown.
func (r *Reconciler) Entry(productID string) (*model.StockEntry, error) {
	var e model.StockEntry
	err := r.db.Where("product_id = ?", productID).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

type pendingRef struct {
	tempID string
	qty    int64
	status model.Status
}

// pendingByProduct walks the not-yet-synced queue oldest-first and returns the
// reserved quantity per product, both as totals and as ordered per-record
// references for conflict attribution.
func pendingByProduct(tx *gorm.DB) (map[string]int64, map[string][]pendingRef, error) {
	var recs []model.OrderRecord
	err := tx.
		Where("status IN ?", []model.Status{model.StatusPending, model.StatusSyncing, model.StatusFailed}).
		Order("created_at ASC, id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, nil, err
	}
	totals := map[string]int64{}
	refs := map[string][]pendingRef{}
	for _, rec := range recs {
		for _, it := range rec.Items {
			totals[it.ProductID] += int64(it.Qty)
			refs[it.ProductID] = append(refs[it.ProductID], pendingRef{
				tempID: rec.TempID,
				qty:    int64(it.Qty),
				status: rec.Status,
			})
		}
	}
	return totals, refs, nil
}

func dedupe(ids []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
