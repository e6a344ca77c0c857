package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"pos_sync/internal/connectivity"
	"pos_sync/internal/engine"
	"pos_sync/internal/history"
	"pos_sync/internal/model"
	"pos_sync/internal/remote"
	"pos_sync/internal/stock"
	"pos_sync/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type env struct {
	router *gin.Engine
	store  *store.Store
	rec    *stock.Reconciler
}

func setup(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.OrderRecord{}, &model.StockEntry{}))

	st := store.New(db)
	rc := stock.NewReconciler(db, st)
	client := remote.NewClient("http://127.0.0.1:0", time.Second)
	mon := connectivity.NewMonitor(client, time.Hour, 1)
	view := history.New(st, client, mon, 50, time.Hour)
	eng := engine.New(db, st, rc)
	eng.OnCheckout(view.Refresh)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go view.Run(ctx)

	r := gin.New()
	Setup(r, Deps{
		Engine:  eng,
		Store:   st,
		History: view,
		Stock:   rc,
		Monitor: mon,
		Notify:  func() {},
	})
	return &env{router: r, store: st, rec: rc}
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func checkoutBody() map[string]any {
	return map[string]any{
		"items":          []map[string]any{{"product_id": "WM-001", "qty": 1, "unit_price_cents": 2500}},
		"subtotal_cents": 2500,
		"total_cents":    2500,
		"payment_method": "cash",
	}
}

func tempIDFrom(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Data struct {
			TempID string `json:"temp_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.TempID)
	return resp.Data.TempID
}

func TestCheckoutEndpoint(t *testing.T) {
	e := setup(t)

	w := e.do(t, http.MethodPost, "/api/checkout", checkoutBody())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	tempID := tempIDFrom(t, w)

	rec, err := e.store.Get(tempID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, rec.Status)
}

func TestCheckoutValidation(t *testing.T) {
	e := setup(t)

	body := checkoutBody()
	body["total_cents"] = 999
	w := e.do(t, http.MethodPost, "/api/checkout", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/checkout", map[string]any{"payment_method": "cash"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOrdersListing(t *testing.T) {
	e := setup(t)
	e.do(t, http.MethodPost, "/api/checkout", checkoutBody())
	e.do(t, http.MethodPost, "/api/checkout", checkoutBody())

	require.Eventually(t, func() bool {
		w := e.do(t, http.MethodGet, "/api/orders", nil)
		var resp struct {
			Data []history.Entry `json:"data"`
		}
		return w.Code == http.StatusOK &&
			json.Unmarshal(w.Body.Bytes(), &resp) == nil &&
			len(resp.Data) == 2
	}, 2*time.Second, 10*time.Millisecond)

	w := e.do(t, http.MethodGet, "/api/orders?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetOrder(t *testing.T) {
	e := setup(t)
	w := e.do(t, http.MethodPost, "/api/checkout", checkoutBody())
	tempID := tempIDFrom(t, w)

	w = e.do(t, http.MethodGet, "/api/orders/"+tempID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/api/orders/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRetryEndpoint(t *testing.T) {
	e := setup(t)
	w := e.do(t, http.MethodPost, "/api/checkout", checkoutBody())
	tempID := tempIDFrom(t, w)

	// Not failed yet.
	w = e.do(t, http.MethodPost, "/api/orders/"+tempID+"/retry", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.NoError(t, e.store.UpdateStatus(tempID, model.StatusSyncing, store.Transition{}))
	require.NoError(t, e.store.UpdateStatus(tempID, model.StatusFailed, store.Transition{Error: "rejected"}))

	w = e.do(t, http.MethodPost, "/api/orders/"+tempID+"/retry", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodPost, "/api/orders/missing/retry", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConflictRelease(t *testing.T) {
	e := setup(t)
	w := e.do(t, http.MethodPost, "/api/checkout", checkoutBody())
	tempID := tempIDFrom(t, w)
	require.NoError(t, e.store.FlagOversell(e.store.DB(), []string{tempID}))

	w = e.do(t, http.MethodGet, "/api/orders/needs_attention", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var attention struct {
		Data []model.OrderRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &attention))
	require.Len(t, attention.Data, 1)

	w = e.do(t, http.MethodPost, "/api/conflicts/"+tempID+"/release", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Already released.
	w = e.do(t, http.MethodPost, "/api/conflicts/"+tempID+"/release", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStockEndpoints(t *testing.T) {
	e := setup(t)
	require.NoError(t, e.rec.Absorb([]stock.Snapshot{{ProductID: "WM-001", Stock: 5}}))

	w := e.do(t, http.MethodGet, "/api/stock", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Data []model.StockEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, int64(5), list.Data[0].CachedStock)

	w = e.do(t, http.MethodGet, "/api/stock/WM-001", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/api/stock/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSyncStatus(t *testing.T) {
	e := setup(t)
	for i := 0; i < 3; i++ {
		e.do(t, http.MethodPost, "/api/checkout", checkoutBody())
	}

	w := e.do(t, http.MethodGet, "/api/sync/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			Connectivity string `json:"connectivity"`
			Pending      int64  `json:"pending"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "offline", resp.Data.Connectivity)
	assert.Equal(t, int64(3), resp.Data.Pending)
}
