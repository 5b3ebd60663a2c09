// Package razorpay creates checkout orders and checks payment signatures
// against the Razorpay API.
package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"codereview/internal/domain"
)

const DefaultBaseURL = "https://api.razorpay.com/v1"

// MaxReceiptLen is the longest receipt Razorpay accepts.
const MaxReceiptLen = 40

type Client struct {
	KeyID      string
	KeySecret  string
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient returns a client for the given key pair.
func NewClient(keyID, keySecret, baseURL string) (*Client, error) {
	if keyID == "" || keySecret == "" {
		return nil, errors.New("razorpay key id and secret are required")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		KeyID:      keyID,
		KeySecret:  keySecret,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// OrderRequest is the body of POST /orders. Amount is in minor units.
type OrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

// APIError is a non-2xx response from Razorpay.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("razorpay error (status %d): %s", e.StatusCode, e.Body)
}

// Receipt builds the order receipt: the first 16 characters of the task id
// and the creation time in unix milliseconds, capped at MaxReceiptLen.
func Receipt(taskID string, at time.Time) string {
	short := taskID
	if len(short) > 16 {
		short = short[:16]
	}
	r := fmt.Sprintf("t_%s_%d", short, at.UnixMilli())
	if len(r) > MaxReceiptLen {
		r = r[:MaxReceiptLen]
	}
	return r
}

// CreateOrder opens an order the hosted checkout can pay.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (domain.PaymentOrder, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return domain.PaymentOrder{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/orders", bytes.NewReader(payload))
	if err != nil {
		return domain.PaymentOrder{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.KeyID, c.KeySecret)

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(httpReq)
	if err != nil {
		return domain.PaymentOrder{}, fmt.Errorf("create order: %w", err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return domain.PaymentOrder{}, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return domain.PaymentOrder{}, &APIError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	var order domain.PaymentOrder
	if err := json.Unmarshal(body, &order); err != nil {
		return domain.PaymentOrder{}, fmt.Errorf("decode order: %w", err)
	}
	if order.ID == "" {
		return domain.PaymentOrder{}, errors.New("create order: response has no id")
	}
	return order, nil
}
