package codereviewsdk

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
)

// Client is a minimal Code Review HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  90 * time.Second,
	}
}

// Review is the result of an evaluation.
type Review struct {
	Score        float64  `json:"score"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
}

// Task represents the API task model.
type Task struct {
	ID               string   `json:"id"`
	UserID           string   `json:"user_id"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Code             string   `json:"code"`
	Status           string   `json:"status"`
	AIScore          *float64 `json:"ai_score,omitempty"`
	IsReportUnlocked bool     `json:"is_report_unlocked"`
	CreatedAt        string   `json:"created_at"`
	UpdatedAt        string   `json:"updated_at"`
}

// TaskSummary is the listing projection used for reports.
type TaskSummary struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Status           string   `json:"status"`
	AIScore          *float64 `json:"ai_score,omitempty"`
	IsReportUnlocked bool     `json:"is_report_unlocked"`
	CreatedAt        string   `json:"created_at"`
}

type FencedItem struct {
	Before string  `json:"before"`
	Code   *string `json:"code,omitempty"`
	After  string  `json:"after,omitempty"`
}

type ReportSection struct {
	Category string       `json:"category"`
	Title    string       `json:"title"`
	Items    []FencedItem `json:"items"`
}

type Price struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	DisplayName string `json:"display_name"`
}

// Report is the gated review report. Strengths and Sections are empty
// until the report is unlocked.
type Report struct {
	Task      TaskSummary     `json:"task"`
	Evaluated bool            `json:"evaluated"`
	State     string          `json:"state"`
	Score     *float64        `json:"score,omitempty"`
	Strengths []string        `json:"strengths,omitempty"`
	Sections  []ReportSection `json:"sections,omitempty"`
	Price     Price           `json:"price"`
}

// Order is a provider order for the hosted checkout.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// Payment carries the provider callback fields for an unlock.
type Payment struct {
	OrderID   string
	PaymentID string
	Signature string
}

type UnlockResult struct {
	Success bool   `json:"success"`
	Outcome string `json:"outcome"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses. Code and Message are filled when the
// body is the standard error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedTasks wraps list responses with cursors.
type PaginatedTasks struct {
	Items      []Task `json:"items"`
	NextCursor string `json:"next_cursor"`
}

type PaginatedSummaries struct {
	Items      []TaskSummary `json:"items"`
	NextCursor string        `json:"next_cursor"`
}

type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Evaluate reviews code without storing a task.
func (c *Client) Evaluate(ctx context.Context, title, description, code string) (Review, error) {
	body := map[string]any{"title": title, "description": description, "code": code}
	var resp Review
	err := c.do(ctx, http.MethodPost, "evaluate", body, &resp)
	return resp, err
}

// SubmitTask stores a pending task.
func (c *Client) SubmitTask(ctx context.Context, title, description, code string) (Task, error) {
	body := map[string]any{"title": title, "description": description, "code": code}
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", body, &resp)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListTasks returns one page of the caller's tasks.
func (c *Client) ListTasks(ctx context.Context, limit int, cursor string) (PaginatedTasks, error) {
	var resp PaginatedTasks
	err := c.do(ctx, http.MethodGet, withPage("tasks", limit, cursor), nil, &resp)
	return resp, err
}

// EvaluateTask reviews a stored task and saves the result.
func (c *Client) EvaluateTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(id)+"/evaluate", nil, &resp)
	return resp, err
}

func (c *Client) Report(ctx context.Context, id string) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id)+"/report", nil, &resp)
	return resp, err
}

func (c *Client) TaskEvents(ctx context.Context, id string, limit int, cursor string) (PaginatedEvents, error) {
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withPage("tasks/"+url.PathEscape(id)+"/events", limit, cursor), nil, &resp)
	return resp, err
}

// CreateOrder opens a payment order for unlocking a task's report.
func (c *Client) CreateOrder(ctx context.Context, taskID string) (Order, error) {
	var resp struct {
		Order Order `json:"order"`
	}
	err := c.do(ctx, http.MethodPost, "payments/orders", map[string]any{"taskId": taskID}, &resp)
	return resp.Order, err
}

// Unlock reports a completed payment for userID's task.
func (c *Client) Unlock(ctx context.Context, taskID, userID string, p Payment) (UnlockResult, error) {
	body := map[string]any{"taskId": taskID, "userId": userID}
	if p.OrderID != "" {
		body["razorpay_order_id"] = p.OrderID
	}
	if p.PaymentID != "" {
		body["razorpay_payment_id"] = p.PaymentID
	}
	if p.Signature != "" {
		body["razorpay_signature"] = p.Signature
	}
	var resp UnlockResult
	err := c.do(ctx, http.MethodPost, "unlock", body, &resp)
	return resp, err
}

// Reports lists the caller's unlocked reports.
func (c *Client) Reports(ctx context.Context, limit int, cursor string) (PaginatedSummaries, error) {
	var resp PaginatedSummaries
	err := c.do(ctx, http.MethodGet, withPage("reports", limit, cursor), nil, &resp)
	return resp, err
}

func withPage(endpoint string, limit int, cursor string) string {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
