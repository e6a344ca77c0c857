package syncer

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"pos_sync/internal/connectivity"
	"pos_sync/internal/model"
	"pos_sync/internal/remote"
	"pos_sync/internal/stock"
	"pos_sync/internal/store"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "syncer").Logger()

// Options tunes the coordinator; zero values fall back to defaults.
type Options struct {
	Workers           int
	BatchSize         int
	RetryInterval     time.Duration
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	StockPullInterval time.Duration
}

func (o *Options) withDefaults() {
	if o.Workers < 1 {
		o.Workers = 2
	}
	if o.BatchSize < 1 {
		o.BatchSize = 32
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 5 * time.Second
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 2 * time.Second
	}
	if o.BackoffCap < o.BackoffBase {
		o.BackoffCap = 5 * time.Minute
	}
	if o.StockPullInterval <= 0 {
		o.StockPullInterval = time.Minute
	}
}

// Coordinator drains the pending order queue to the remote backend. Run
// exactly one per terminal process: attempts on the same tempId are strictly
// serialized through the in-flight set, while distinct records sync in
// parallel up to the worker pool size. Dispatch is oldest-createdAt-first;
// acknowledgments may still complete out of order.
type Coordinator struct {
	store      *store.Store
	client     *remote.Client
	reconciler *stock.Reconciler
	monitor    *connectivity.Monitor
	opts       Options

	notify chan struct{}

	mu       sync.Mutex
	inflight map[string]bool

	onChange func()

	wg sync.WaitGroup
}

func New(st *store.Store, cl *remote.Client, rc *stock.Reconciler, mon *connectivity.Monitor, opts Options) *Coordinator {
	opts.withDefaults()
	return &Coordinator{
		store:      st,
		client:     cl,
		reconciler: rc,
		monitor:    mon,
		opts:       opts,
		notify:     make(chan struct{}, 1),
		inflight:   make(map[string]bool),
	}
}

// Notify wakes the dispatcher after a new record lands. Never blocks; the
// checkout path must return immediately.
func (c *Coordinator) Notify() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// OnChange registers a hook invoked after any record changed state, e.g. to
// refresh the history projection.
func (c *Coordinator) OnChange(fn func()) { c.onChange = fn }

// Run blocks until ctx is done and all workers drained.
func (c *Coordinator) Run(ctx context.Context) {
	jobs := make(chan model.OrderRecord)
	for i := 0; i < c.opts.Workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, jobs)
	}

	transitions := c.monitor.Subscribe()
	retry := time.NewTicker(c.opts.RetryInterval)
	defer retry.Stop()
	stockPull := time.NewTicker(c.opts.StockPullInterval)
	defer stockPull.Stop()

	for {
		select {
		case <-ctx.Done():
			close(jobs)
			c.wg.Wait()
			return
		case st := <-transitions:
			if st == connectivity.Online {
				logger.Info().Msg("back online, draining pending orders")
				c.pullStock(ctx)
				c.dispatch(ctx, jobs)
			}
		case <-c.notify:
			c.dispatch(ctx, jobs)
		case <-retry.C:
			c.dispatch(ctx, jobs)
		case <-stockPull.C:
			c.pullStock(ctx)
		}
	}
}

// dispatch feeds due records to the pool in createdAt order. Records already
// in flight are skipped; they will be picked up again by the retry ticker if
// their attempt bounces.
func (c *Coordinator) dispatch(ctx context.Context, jobs chan<- model.OrderRecord) {
	if !c.monitor.Online() {
		return
	}
	recs, err := c.store.DueForSync(c.opts.BatchSize, time.Now())
	if err != nil {
		logger.Error().Err(err).Msg("load due records")
		return
	}
	for _, rec := range recs {
		if !c.claim(rec.TempID) {
			continue
		}
		select {
		case jobs <- rec:
		case <-ctx.Done():
			c.release(rec.TempID)
			return
		}
	}
}

func (c *Coordinator) claim(tempID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[tempID] {
		return false
	}
	c.inflight[tempID] = true
	return true
}

func (c *Coordinator) release(tempID string) {
	c.mu.Lock()
	delete(c.inflight, tempID)
	c.mu.Unlock()
}

func (c *Coordinator) worker(ctx context.Context, jobs <-chan model.OrderRecord) {
	defer c.wg.Done()
	for rec := range jobs {
		c.attempt(ctx, rec)
		c.release(rec.TempID)
		if c.onChange != nil {
			c.onChange()
		}
	}
}

// attempt runs one full push: durable SYNCING mark, POST, terminal write.
func (c *Coordinator) attempt(ctx context.Context, rec model.OrderRecord) {
	if err := c.store.UpdateStatus(rec.TempID, model.StatusSyncing, store.Transition{}); err != nil {
		// Lost a race with another state change (operator action, recovery);
		// the record will be re-evaluated on the next dispatch.
		logger.Warn().Err(err).Str("temp_id", rec.TempID).Msg("skip: cannot mark syncing")
		return
	}

	res, err := c.client.PushOrder(ctx, &rec)
	if err == nil {
		if err := c.finishSynced(rec, res); err != nil {
			logger.Error().Err(err).Str("temp_id", rec.TempID).Msg("persist synced state")
			return
		}
		ev := logger.Info().Str("temp_id", rec.TempID).Str("server_id", res.ServerID)
		if res.Duplicate {
			ev = ev.Bool("duplicate", true)
		}
		ev.Msg("order synced")
		if len(res.Stock) > 0 {
			if aerr := c.reconciler.Absorb(res.Stock); aerr != nil {
				logger.Error().Err(aerr).Msg("absorb stock from push response")
			}
		}
		return
	}

	var perm *remote.PermanentError
	if errors.As(err, &perm) {
		if uerr := c.store.UpdateStatus(rec.TempID, model.StatusFailed, store.Transition{Error: err.Error()}); uerr != nil {
			logger.Error().Err(uerr).Str("temp_id", rec.TempID).Msg("persist failed state")
			return
		}
		logger.Error().Err(err).Str("temp_id", rec.TempID).Msg("order rejected, needs attention")
		return
	}

	// Transient: bounce back to PENDING and schedule the next attempt.
	delay := backoffDelay(rec.RetryCount+1, c.opts.BackoffBase, c.opts.BackoffCap)
	if uerr := c.store.UpdateStatus(rec.TempID, model.StatusPending, store.Transition{
		Error:       err.Error(),
		NextAttempt: time.Now().Add(delay),
	}); uerr != nil {
		logger.Error().Err(uerr).Str("temp_id", rec.TempID).Msg("persist retry state")
		return
	}
	logger.Warn().Err(err).
		Str("temp_id", rec.TempID).
		Int("retry_count", rec.RetryCount+1).
		Dur("retry_in", delay).
		Msg("transient sync failure")
}

// finishSynced commits the acknowledgment and the reservation release
// together, so a crash between them cannot double-count the decrement.
func (c *Coordinator) finishSynced(rec model.OrderRecord, res *remote.PushResult) error {
	return c.store.DB().Transaction(func(tx *gorm.DB) error {
		if err := c.store.UpdateStatusTx(tx, rec.TempID, model.StatusSynced, store.Transition{ServerID: res.ServerID}); err != nil {
			return err
		}
		return c.reconciler.Settle(tx, rec.Items)
	})
}

func (c *Coordinator) pullStock(ctx context.Context) {
	if !c.monitor.Online() {
		return
	}
	snaps, err := c.client.FetchStock(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("authoritative stock pull")
		return
	}
	if err := c.reconciler.Absorb(snaps); err != nil {
		logger.Error().Err(err).Msg("absorb stock snapshot")
	}
}
