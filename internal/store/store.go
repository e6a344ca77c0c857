package store

import (
	"errors"
	"fmt"
	"time"

	"pos_sync/internal/model"

	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("order not found")
	// ErrNotRetryable is returned when an operator tries to resubmit a record
	// that is not in FAILED.
	ErrNotRetryable = errors.New("only failed orders can be resubmitted")
)

// DurabilityError marks a failed local write. This is the one error class that
// blocks a sale and must reach the cashier instead of degrading silently.
type DurabilityError struct {
	Op  string
	Err error
}

func (e *DurabilityError) Error() string { return fmt.Sprintf("durable %s failed: %v", e.Op, e.Err) }
func (e *DurabilityError) Unwrap() error { return e.Err }

// InvalidTransitionError reports a status change the transition table forbids.
type InvalidTransitionError struct {
	TempID string
	From   model.Status
	To     model.Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s: invalid transition %s -> %s", e.TempID, e.From, e.To)
}

// Transition carries the optional fields written together with a status change.
type Transition struct {
	ServerID    string    // set on SYNCED
	Error       string    // set on FAILED and on a transient bounce to PENDING
	NextAttempt time.Time // due time for the next attempt on a transient bounce
}

// Store is the durable order queue and stock cache, one sqlite file per
// terminal. All writes are transactional; none of them touch the network.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store { return &Store{db: db} }

// DB exposes the handle for callers that need to span store and stock writes
// in a single transaction.
func (s *Store) DB() *gorm.DB { return s.db }

// Append durably writes a new record as PENDING. It runs inside the checkout
// transaction so the stock reservation commits together with the order.
func (s *Store) Append(tx *gorm.DB, rec *model.OrderRecord) error {
	rec.Status = model.StatusPending
	if rec.NextAttemptAt.IsZero() {
		rec.NextAttemptAt = rec.CreatedAt
	}
	if err := tx.Create(rec).Error; err != nil {
		return &DurabilityError{Op: "append", Err: err}
	}
	return nil
}

// UpdateStatus applies one status transition in its own transaction.
func (s *Store) UpdateStatus(tempID string, next model.Status, tr Transition) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return s.UpdateStatusTx(tx, tempID, next, tr)
	})
}

// UpdateStatusTx is UpdateStatus inside a caller-owned transaction. It
// enforces the transition table and writes the per-status side fields.
func (s *Store) UpdateStatusTx(tx *gorm.DB, tempID string, next model.Status, tr Transition) error {
	var rec model.OrderRecord
	if err := tx.Where("temp_id = ?", tempID).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return &DurabilityError{Op: "load", Err: err}
	}
	if !model.CanTransition(rec.Status, next) {
		return &InvalidTransitionError{TempID: tempID, From: rec.Status, To: next}
	}

	updates := map[string]any{"status": next}
	switch next {
	case model.StatusSyncing:
		updates["retry_requested"] = false
	case model.StatusSynced:
		now := time.Now()
		updates["server_id"] = tr.ServerID
		updates["synced_at"] = &now
		updates["last_error"] = ""
	case model.StatusPending:
		// Transient bounce: count the attempt and schedule the next one.
		updates["retry_count"] = rec.RetryCount + 1
		updates["last_error"] = tr.Error
		updates["next_attempt_at"] = tr.NextAttempt
	case model.StatusFailed:
		updates["last_error"] = tr.Error
		updates["retry_requested"] = false
	}

	if err := tx.Model(&model.OrderRecord{}).Where("temp_id = ?", tempID).Updates(updates).Error; err != nil {
		return &DurabilityError{Op: "update", Err: err}
	}
	return nil
}

// Filter narrows List results.
type Filter struct {
	Status []model.Status
	Limit  int
	Offset int
}

// List returns records newest-first. Offset/Limit make the sequence
// restartable for pagination.
func (s *Store) List(f Filter) ([]model.OrderRecord, error) {
	q := s.db.Model(&model.OrderRecord{}).Order("created_at DESC, id DESC")
	if len(f.Status) > 0 {
		q = q.Where("status IN ?", f.Status)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	var out []model.OrderRecord
	return out, q.Find(&out).Error
}

// Get returns one record by tempId.
func (s *Store) Get(tempID string) (*model.OrderRecord, error) {
	var rec model.OrderRecord
	if err := s.db.Where("temp_id = ?", tempID).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// DueForSync returns dispatchable records oldest-createdAt-first: due PENDING
// rows plus FAILED rows an operator asked to resubmit. Conflicted rows are
// held until an operator releases them.
func (s *Store) DueForSync(limit int, now time.Time) ([]model.OrderRecord, error) {
	var out []model.OrderRecord
	err := s.db.
		Where("oversell_conflict = ?", false).
		Where(
			s.db.Where("status = ? AND next_attempt_at <= ?", model.StatusPending, now).
				Or("status = ? AND retry_requested = ?", model.StatusFailed, true),
		).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// RecoverOnBoot resets every record a crash left in SYNCING back to PENDING.
// SYNCING is only valid for the lifetime of an in-flight HTTP call, so any
// such row on disk at boot is an interrupted attempt. Must run before any
// other component reads the store.
func (s *Store) RecoverOnBoot() (int64, error) {
	res := s.db.Model(&model.OrderRecord{}).
		Where("status = ?", model.StatusSyncing).
		Updates(map[string]any{"status": model.StatusPending, "next_attempt_at": time.Now()})
	if res.Error != nil {
		return 0, &DurabilityError{Op: "recover", Err: res.Error}
	}
	return res.RowsAffected, nil
}

// RequestRetry marks a FAILED record for resubmission. The actual
// FAILED->SYNCING transition happens when a worker picks it up.
func (s *Store) RequestRetry(tempID string) error {
	var rec model.OrderRecord
	if err := s.db.Where("temp_id = ?", tempID).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	if rec.Status != model.StatusFailed {
		return ErrNotRetryable
	}
	return s.db.Model(&model.OrderRecord{}).
		Where("temp_id = ?", tempID).
		Updates(map[string]any{"retry_requested": true, "next_attempt_at": time.Now()}).Error
}

// FlagOversell marks records whose reservation contradicts authoritative
// stock. Runs inside the snapshot-absorb transaction.
func (s *Store) FlagOversell(tx *gorm.DB, tempIDs []string) error {
	if len(tempIDs) == 0 {
		return nil
	}
	return tx.Model(&model.OrderRecord{}).
		Where("temp_id IN ?", tempIDs).
		Update("oversell_conflict", true).Error
}

// ReleaseOversell clears the conflict flag after an operator decision; the
// record becomes dispatchable again.
func (s *Store) ReleaseOversell(tempID string) error {
	res := s.db.Model(&model.OrderRecord{}).
		Where("temp_id = ? AND oversell_conflict = ?", tempID, true).
		Updates(map[string]any{"oversell_conflict": false, "next_attempt_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// NeedsAttention lists records requiring an operator: permanent failures and
// oversell conflicts.
func (s *Store) NeedsAttention() ([]model.OrderRecord, error) {
	var out []model.OrderRecord
	err := s.db.
		Where("status = ? OR oversell_conflict = ?", model.StatusFailed, true).
		Order("created_at DESC, id DESC").
		Find(&out).Error
	return out, err
}

// Counts summarizes the queue for the sync indicator.
type Counts struct {
	Pending    int64 `json:"pending"`
	Syncing    int64 `json:"syncing"`
	Synced     int64 `json:"synced"`
	Failed     int64 `json:"failed"`
	Conflicted int64 `json:"conflicted"`
}

func (s *Store) Counts() (Counts, error) {
	var c Counts
	type row struct {
		Status model.Status
		N      int64
	}
	var rows []row
	if err := s.db.Model(&model.OrderRecord{}).
		Select("status, COUNT(*) AS n").Group("status").Scan(&rows).Error; err != nil {
		return c, err
	}
	for _, r := range rows {
		switch r.Status {
		case model.StatusPending:
			c.Pending = r.N
		case model.StatusSyncing:
			c.Syncing = r.N
		case model.StatusSynced:
			c.Synced = r.N
		case model.StatusFailed:
			c.Failed = r.N
		}
	}
	err := s.db.Model(&model.OrderRecord{}).
		Where("oversell_conflict = ?", true).Count(&c.Conflicted).Error
	return c, err
}
