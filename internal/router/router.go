package router

import (
	"errors"
	"net/http"
	"strconv"

	"pos_sync/internal/connectivity"
	"pos_sync/internal/engine"
	"pos_sync/internal/history"
	"pos_sync/internal/stock"
	"pos_sync/internal/store"

	"github.com/gin-gonic/gin"
)

// Deps carries everything the handlers close over.
type Deps struct {
	Engine  *engine.Engine
	Store   *store.Store
	History *history.View
	Stock   *stock.Reconciler
	Monitor *connectivity.Monitor
	Notify  func() // wakes the sync coordinator after operator actions
}

// Setup registers all terminal-facing HTTP routes.
func Setup(r *gin.Engine, d Deps) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})
	// Checkout
	r.POST("/api/checkout", checkout(d.Engine))
	// Orders
	r.GET("/api/orders", listOrders(d.History))
	r.GET("/api/orders/needs_attention", needsAttention(d.Store))
	r.GET("/api/orders/:temp_id", getOrder(d.Store))
	r.POST("/api/orders/:temp_id/retry", retryOrder(d.Store, d.Notify))
	r.POST("/api/conflicts/:temp_id/release", releaseConflict(d.Store, d.Notify))
	// Stock
	r.GET("/api/stock", listStock(d.Stock))
	r.GET("/api/stock/:product_id", getStock(d.Stock))
	// Sync
	r.GET("/api/sync/status", syncStatus(d.Store, d.Monitor))
}

// checkout records a sale. It succeeds regardless of connectivity; the only
// hard failure is local storage.
func checkout(e *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req engine.CheckoutPayload
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		rec, err := e.Checkout(req)
		if err != nil {
			var d *store.DurabilityError
			if errors.As(err, &d) {
				c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": "sale blocked: " + err.Error()})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"code": 0,
			"data": gin.H{
				"temp_id":     rec.TempID,
				"status":      rec.Status,
				"total_cents": rec.TotalCents,
			},
		})
	}
}

// listOrders serves the merged local+remote history projection, newest first.
func listOrders(v *history.View) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "limit must be a positive integer"})
				return
			}
			limit = n
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": v.Snapshot(limit)})
	}
}

// needsAttention lists FAILED and oversell-flagged records for the operator
// screen.
func needsAttention(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		recs, err := st.NeedsAttention()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": recs})
	}
}

func getOrder(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := st.Get(c.Param("temp_id"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "order not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": rec})
	}
}

// retryOrder requeues a FAILED record after the operator reviewed it.
func retryOrder(st *store.Store, notify func()) gin.HandlerFunc {
	return func(c *gin.Context) {
		tempID := c.Param("temp_id")
		if err := st.RequestRetry(tempID); err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "order not found"})
			case errors.Is(err, store.ErrNotRetryable):
				c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "only failed orders can be retried"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			}
			return
		}
		if notify != nil {
			notify()
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"temp_id": tempID, "status": "queued"}})
	}
}

// releaseConflict clears the oversell flag so the record re-enters the sync
// queue. The operator has already decided the sale stands.
func releaseConflict(st *store.Store, notify func()) gin.HandlerFunc {
	return func(c *gin.Context) {
		tempID := c.Param("temp_id")
		if err := st.ReleaseOversell(tempID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "order not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if notify != nil {
			notify()
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"temp_id": tempID, "status": "released"}})
	}
}

func listStock(rc *stock.Reconciler) gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := rc.Entries()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": entries})
	}
}

func getStock(rc *stock.Reconciler) gin.HandlerFunc {
	return func(c *gin.Context) {
		entry, err := rc.Entry(c.Param("product_id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if entry == nil {
			c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "product not tracked"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": entry})
	}
}

// syncStatus reports queue depth per status plus the connectivity state.
func syncStatus(st *store.Store, mon *connectivity.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		counts, err := st.Counts()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"code": 0,
			"data": gin.H{
				"connectivity": mon.State(),
				"pending":      counts.Pending,
				"syncing":      counts.Syncing,
				"synced":       counts.Synced,
				"failed":       counts.Failed,
				"conflicted":   counts.Conflicted,
			},
		})
	}
}
