package history

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"pos_sync/internal/connectivity"
	"pos_sync/internal/model"
	"pos_sync/internal/remote"
	"pos_sync/internal/store"

	"github.com/rs/zerolog"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "history").Logger()

// Entry is one row of the merged order history projection.
type Entry struct {
	TempID           string           `json:"temp_id,omitempty"`
	ServerID         string           `json:"server_id,omitempty"`
	Status           model.Status     `json:"status"`
	Items            []model.LineItem `json:"items,omitempty"`
	TotalCents       int64            `json:"total_cents"`
	StaffID          string           `json:"staff_id,omitempty"`
	BranchID         string           `json:"branch_id,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	RetryCount       int              `json:"retry_count,omitempty"`
	LastError        string           `json:"last_error,omitempty"`
	OversellConflict bool             `json:"oversell_conflict,omitempty"`
	Source           string           `json:"source"` // local | remote | merged
}

// View is the continuously updated projection merging local records with the
// backend's order history feed. Merge key is serverId when present, tempId
// otherwise; the local tempId<->serverId mapping is authoritative, so a sale
// made on this terminal never shows up twice when its server copy appears in
// a remote page. Sorted createdAt descending.
type View struct {
	store        *store.Store
	client       *remote.Client
	monitor      *connectivity.Monitor
	pageSize     int
	pullInterval time.Duration

	mu       sync.RWMutex
	cursor   string
	remotes  map[string]remote.RemoteOrder // keyed by serverId
	snapshot []Entry
	subs     []chan []Entry

	refresh chan struct{}
}

func New(st *store.Store, cl *remote.Client, mon *connectivity.Monitor, pageSize int, pullInterval time.Duration) *View {
	if pageSize < 1 {
		pageSize = 50
	}
	if pullInterval <= 0 {
		pullInterval = 30 * time.Second
	}
	return &View{
		store:        st,
		client:       cl,
		monitor:      mon,
		pageSize:     pageSize,
		pullInterval: pullInterval,
		remotes:      make(map[string]remote.RemoteOrder),
		refresh:      make(chan struct{}, 1),
	}
}

// Refresh schedules a rebuild from local state. Never blocks.
func (v *View) Refresh() {
	select {
	case v.refresh <- struct{}{}:
	default:
	}
}

// Run rebuilds on local changes and pulls remote pages on a timer while
// online, until ctx is done.
func (v *View) Run(ctx context.Context) {
	t := time.NewTicker(v.pullInterval)
	defer t.Stop()
	v.rebuild()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			v.pullRemote(ctx)
			v.rebuild()
		case <-v.refresh:
			v.rebuild()
		}
	}
}

// pullRemote pages through GET /orders from the last cursor and folds the
// rows into the remote set.
func (v *View) pullRemote(ctx context.Context) {
	if !v.monitor.Online() {
		return
	}
	for {
		v.mu.RLock()
		cursor := v.cursor
		v.mu.RUnlock()

		page, err := v.client.FetchOrders(ctx, cursor, v.pageSize)
		if err != nil {
			logger.Warn().Err(err).Msg("remote history pull")
			return
		}
		v.mu.Lock()
		for _, ro := range page.Orders {
			v.remotes[ro.ServerID] = ro
		}
		if page.Next != "" {
			v.cursor = page.Next
		}
		v.mu.Unlock()
		if page.Next == "" || len(page.Orders) == 0 {
			return
		}
	}
}

func (v *View) rebuild() {
	locals, err := v.store.List(store.Filter{})
	if err != nil {
		logger.Error().Err(err).Msg("load local records")
		return
	}

	v.mu.Lock()
	seenServer := make(map[string]bool, len(locals))
	seenTemp := make(map[string]bool, len(locals))
	entries := make([]Entry, 0, len(locals)+len(v.remotes))

	for _, rec := range locals {
		e := Entry{
			TempID:           rec.TempID,
			ServerID:         rec.ServerID,
			Status:           rec.Status,
			Items:            rec.Items,
			TotalCents:       rec.TotalCents,
			StaffID:          rec.StaffID,
			BranchID:         rec.BranchID,
			CreatedAt:        rec.CreatedAt,
			RetryCount:       rec.RetryCount,
			LastError:        rec.LastError,
			OversellConflict: rec.OversellConflict,
			Source:           "local",
		}
		seenTemp[rec.TempID] = true
		if rec.ServerID != "" {
			seenServer[rec.ServerID] = true
			if _, ok := v.remotes[rec.ServerID]; ok {
				e.Source = "merged"
			}
		}
		entries = append(entries, e)
	}

	for sid, ro := range v.remotes {
		if seenServer[sid] {
			continue
		}
		if ro.TempID != "" && seenTemp[ro.TempID] {
			// The server echoes our tempId before the ack landed locally;
			// the local record stays the single source of identity.
			continue
		}
		entries = append(entries, Entry{
			TempID:     ro.TempID,
			ServerID:   sid,
			Status:     model.StatusSynced,
			Items:      ro.Items,
			TotalCents: ro.TotalCents,
			StaffID:    ro.StaffID,
			BranchID:   ro.BranchID,
			CreatedAt:  ro.CreatedAt,
			Source:     "remote",
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return entries[i].TempID+entries[i].ServerID > entries[j].TempID+entries[j].ServerID
	})

	v.snapshot = entries
	subs := append([]chan []Entry(nil), v.subs...)
	v.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- entries:
		default:
		}
	}
}

// Snapshot returns a copy of the current projection, newest first.
func (v *View) Snapshot(limit int) []Entry {
	v.mu.RLock()
	defer v.mu.RUnlock()
	n := len(v.snapshot)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, n)
	copy(out, v.snapshot[:n])
	return out
}

// Subscribe returns a channel receiving full snapshots on every rebuild.
// Buffered; a slow subscriber misses intermediate snapshots, never stale
// ones.
func (v *View) Subscribe() <-chan []Entry {
	ch := make(chan []Entry, 1)
	v.mu.Lock()
	v.subs = append(v.subs, ch)
	v.mu.Unlock()
	return ch
}
