package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pos_sync/internal/model"
	"pos_sync/internal/stock"
)

// TransientError covers network faults, timeouts and 5xx responses. The
// coordinator retries these with backoff; the cashier only ever sees a
// "syncing" indicator.
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError covers 4xx validation rejections other than the duplicate
// replay case. These are never retried automatically; they land on the
// needs-attention list.
type PermanentError struct {
	StatusCode int
	Body       string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: status %d: %s", e.StatusCode, e.Body)
}

// Client talks to the remote order backend.
type Client struct {
	base string
	http *http.Client
}

func NewClient(base string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// pushRequest mirrors the POST /orders body.
type pushRequest struct {
	TempID         string            `json:"temp_id"`
	Items          []model.LineItem  `json:"items"`
	SubtotalCents  int64             `json:"subtotal_cents"`
	DiscountCents  int64             `json:"discount_cents"`
	TaxCents       int64             `json:"tax_cents"`
	TotalCents     int64             `json:"total_cents"`
	PaymentMethod  string            `json:"payment_method"`
	PaymentDetails map[string]string `json:"payment_details,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	StaffID        string            `json:"staff_id,omitempty"`
	BranchID       string            `json:"branch_id,omitempty"`
	RefundOf       string            `json:"refund_of,omitempty"`
}

type pushResponse struct {
	ServerID  string           `json:"server_id"`
	Duplicate bool             `json:"duplicate,omitempty"`
	Stock     []stock.Snapshot `json:"stock,omitempty"`
}

// PushResult is the outcome of an accepted (or replayed) push.
type PushResult struct {
	ServerID  string
	Duplicate bool
	Stock     []stock.Snapshot
}

// PushOrder submits one order. The tempId doubles as the idempotency key so a
// retried push after a dropped ack resolves to the same server-side order; a
// 409 duplicate reply is success.
func (c *Client) PushOrder(ctx context.Context, rec *model.OrderRecord) (*PushResult, error) {
	body := pushRequest{
		TempID:         rec.TempID,
		Items:          rec.Items,
		SubtotalCents:  rec.SubtotalCents,
		DiscountCents:  rec.DiscountCents,
		TaxCents:       rec.TaxCents,
		TotalCents:     rec.TotalCents,
		PaymentMethod:  rec.PaymentMethod,
		PaymentDetails: rec.PaymentDetails,
		CreatedAt:      rec.CreatedAt,
		StaffID:        rec.StaffID,
		BranchID:       rec.BranchID,
		RefundOf:       rec.RefundOf,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, &PermanentError{Body: fmt.Sprintf("encode order: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/orders", bytes.NewReader(b))
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", rec.TempID)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusCreated ||
		resp.StatusCode == http.StatusOK ||
		resp.StatusCode == http.StatusConflict:
		var out pushResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, &TransientError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode push response: %w", err)}
		}
		if out.ServerID == "" {
			return nil, &TransientError{StatusCode: resp.StatusCode, Err: fmt.Errorf("push response missing server_id")}
		}
		return &PushResult{
			ServerID:  out.ServerID,
			Duplicate: out.Duplicate || resp.StatusCode == http.StatusConflict,
			Stock:     out.Stock,
		}, nil
	case resp.StatusCode >= 500:
		return nil, &TransientError{StatusCode: resp.StatusCode, Err: fmt.Errorf("server error: %s", truncate(raw))}
	default:
		return nil, &PermanentError{StatusCode: resp.StatusCode, Body: truncate(raw)}
	}
}

// RemoteOrder is one row of the backend's order history feed.
type RemoteOrder struct {
	ServerID   string           `json:"server_id"`
	TempID     string           `json:"temp_id,omitempty"`
	Items      []model.LineItem `json:"items,omitempty"`
	TotalCents int64            `json:"total_cents"`
	Status     string           `json:"status,omitempty"`
	StaffID    string           `json:"staff_id,omitempty"`
	BranchID   string           `json:"branch_id,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// OrdersPage is one page of GET /orders. Next is an opaque cursor; empty
// means the feed is exhausted.
type OrdersPage struct {
	Orders []RemoteOrder `json:"orders"`
	Next   string        `json:"next,omitempty"`
}

func (c *Client) FetchOrders(ctx context.Context, since string, limit int) (*OrdersPage, error) {
	u := fmt.Sprintf("%s/orders?since=%s&limit=%d", c.base, url.QueryEscape(since), limit)
	var page OrdersPage
	if err := c.getJSON(ctx, u, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// FetchStock pulls the authoritative stock snapshot.
func (c *Client) FetchStock(ctx context.Context) ([]stock.Snapshot, error) {
	var out struct {
		Products []stock.Snapshot `json:"products"`
	}
	if err := c.getJSON(ctx, c.base+"/products", &out); err != nil {
		return nil, err
	}
	return out.Products, nil
}

// Ping probes reachability for the connectivity monitor.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 500 {
		return fmt.Errorf("healthz returned %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &TransientError{Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := json.Unmarshal(raw, out); err != nil {
			return &TransientError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
		}
		return nil
	case resp.StatusCode >= 500:
		return &TransientError{StatusCode: resp.StatusCode, Err: fmt.Errorf("server error: %s", truncate(raw))}
	default:
		return &PermanentError{StatusCode: resp.StatusCode, Body: truncate(raw)}
	}
}

func truncate(b []byte) string {
	const max = 200
	s := string(b)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
