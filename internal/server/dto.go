package server

import (
	"codereview/internal/domain"
	"codereview/internal/engine"
	"codereview/internal/review"
)

// Request payloads

type EvaluateRequest struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Code        string `json:"code,omitempty"`
}

type SubmitTaskRequest struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Code        string `json:"code,omitempty"`
}

// UnlockRequest mirrors the checkout callback payload.
type UnlockRequest struct {
	TaskID            string `json:"taskId,omitempty"`
	UserID            string `json:"userId,omitempty"`
	RazorpayOrderID   string `json:"razorpay_order_id,omitempty"`
	RazorpayPaymentID string `json:"razorpay_payment_id,omitempty"`
	RazorpaySignature string `json:"razorpay_signature,omitempty"`
}

type CreateOrderRequest struct {
	TaskID string `json:"taskId,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	UserID string `json:"user_id"`
}

// Response payloads

type ReviewResponse struct {
	Score        float64  `json:"score"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
}

type TaskResponse struct {
	ID               string   `json:"id"`
	UserID           string   `json:"user_id"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Code             string   `json:"code"`
	Status           string   `json:"status" enum:"pending,evaluated"`
	AIScore          *float64 `json:"ai_score,omitempty"`
	IsReportUnlocked bool     `json:"is_report_unlocked"`
	CreatedAt        string   `json:"created_at" format:"date-time"`
	UpdatedAt        string   `json:"updated_at" format:"date-time"`
}

type paginatedTasks struct {
	Items      []TaskResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type paginatedSummaries struct {
	Items      []domain.TaskSummary `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type UnlockResponse struct {
	Success bool   `json:"success"`
	Outcome string `json:"outcome"`
}

type OrderResponse struct {
	Order domain.PaymentOrder `json:"order"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type WhoAmIResponse struct {
	UserID string `json:"user_id"`
	Source string `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type ReportResponse = engine.Report

func reviewResponse(r review.Review) ReviewResponse {
	return ReviewResponse{
		Score:        r.Score(),
		Strengths:    r.Strengths(),
		Improvements: r.Improvements(),
	}
}

// taskResponse omits the raw review columns; the gated report is served by
// the report route.
func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:               t.ID,
		UserID:           t.UserID,
		Title:            t.Title,
		Description:      t.Description,
		Code:             t.Code,
		Status:           t.Status,
		AIScore:          t.AIScore,
		IsReportUnlocked: t.IsReportUnlocked,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

func mapSummaries(items []domain.Task) []domain.TaskSummary {
	res := make([]domain.TaskSummary, 0, len(items))
	for _, t := range items {
		res = append(res, t.Summary())
	}
	return res
}

func apiKeyResponse(k domain.APIKey, plaintext string) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, Name: k.Name, Key: plaintext, CreatedAt: k.CreatedAt}
}
