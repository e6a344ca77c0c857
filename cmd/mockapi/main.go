// mockapi is a throwaway in-memory stand-in for the store backend: enough of
// the order and stock API to exercise a terminal end to end, plus optional
// fault injection for watching the retry path.
//
//	MOCK_ADDR=:9090 MOCK_SEED="WM-001=5,ESP-009=12" MOCK_FAIL_FIRST=3 go run ./cmd/mockapi
package main

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "mockapi").Logger()

type lineItem struct {
	ProductID      string `json:"product_id"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type serverOrder struct {
	ServerID   string     `json:"server_id"`
	TempID     string     `json:"temp_id"`
	Items      []lineItem `json:"items"`
	TotalCents int64      `json:"total_cents"`
	StaffID    string     `json:"staff_id"`
	BranchID   string     `json:"branch_id"`
	CreatedAt  time.Time  `json:"created_at"`
}

type backend struct {
	mu        sync.Mutex
	byTemp    map[string]string // tempId -> serverId
	orders    []serverOrder
	stock     map[string]int
	failsLeft int
}

func (b *backend) snapshot() []gin.H {
	out := make([]gin.H, 0, len(b.stock))
	for id, n := range b.stock {
		out = append(out, gin.H{"product_id": id, "stock": n})
	}
	return out
}

func main() {
	b := &backend{
		byTemp: make(map[string]string),
		stock:  make(map[string]int),
	}
	for _, pair := range strings.Split(os.Getenv("MOCK_SEED"), ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) != 2 {
			continue
		}
		n, err := strconv.Atoi(kv[1])
		if err != nil {
			continue
		}
		b.stock[kv[0]] = n
	}
	if raw := os.Getenv("MOCK_FAIL_FIRST"); raw != "" {
		b.failsLeft, _ = strconv.Atoi(raw)
	}

	r := gin.Default()

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "ok"})
	})

	r.POST("/orders", func(c *gin.Context) {
		var req struct {
			TempID     string     `json:"temp_id"`
			Items      []lineItem `json:"items"`
			TotalCents int64      `json:"total_cents"`
			StaffID    string     `json:"staff_id"`
			BranchID   string     `json:"branch_id"`
			CreatedAt  time.Time  `json:"created_at"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": err.Error()})
			return
		}
		if req.TempID == "" {
			req.TempID = c.GetHeader("Idempotency-Key")
		}
		if req.TempID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "temp_id required"})
			return
		}

		b.mu.Lock()
		defer b.mu.Unlock()

		if b.failsLeft > 0 {
			b.failsLeft--
			c.JSON(http.StatusServiceUnavailable, gin.H{"msg": "injected fault"})
			return
		}

		if sid, ok := b.byTemp[req.TempID]; ok {
			c.JSON(http.StatusConflict, gin.H{
				"server_id": sid,
				"duplicate": true,
				"stock":     b.snapshot(),
			})
			return
		}

		sid := "ord_" + uuid.NewString()
		b.byTemp[req.TempID] = sid
		b.orders = append(b.orders, serverOrder{
			ServerID:   sid,
			TempID:     req.TempID,
			Items:      req.Items,
			TotalCents: req.TotalCents,
			StaffID:    req.StaffID,
			BranchID:   req.BranchID,
			CreatedAt:  req.CreatedAt,
		})
		for _, it := range req.Items {
			b.stock[it.ProductID] -= it.Qty
		}
		logger.Info().Str("temp_id", req.TempID).Str("server_id", sid).Msg("order accepted")
		c.JSON(http.StatusCreated, gin.H{
			"server_id": sid,
			"stock":     b.snapshot(),
		})
	})

	// Cursor is the integer offset into the accepted-order log.
	r.GET("/orders", func(c *gin.Context) {
		offset := 0
		if raw := c.Query("since"); raw != "" {
			offset, _ = strconv.Atoi(raw)
		}
		limit := 50
		if raw := c.Query("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}

		b.mu.Lock()
		defer b.mu.Unlock()
		if offset < 0 || offset > len(b.orders) {
			offset = len(b.orders)
		}
		end := offset + limit
		if end > len(b.orders) {
			end = len(b.orders)
		}
		next := ""
		if end < len(b.orders) {
			next = strconv.Itoa(end)
		}
		c.JSON(http.StatusOK, gin.H{"orders": b.orders[offset:end], "next": next})
	})

	r.GET("/products", func(c *gin.Context) {
		b.mu.Lock()
		defer b.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"products": b.snapshot()})
	})

	addr := os.Getenv("MOCK_ADDR")
	if addr == "" {
		addr = ":9090"
	}
	logger.Info().Str("addr", addr).Msg("mock backend listening")
	if err := r.Run(addr); err != nil {
		logger.Fatal().Err(err).Msg("http server")
	}
}
