package domain

import (
	"encoding/json"
	"time"
)

const (
	TaskStatusPending   = "pending"
	TaskStatusEvaluated = "evaluated"

	PaymentStatusSuccess = "success"
)

type Task struct {
	ID               string   `json:"id"`
	UserID           string   `json:"user_id"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Code             string   `json:"code"`
	Status           string   `json:"status" enum:"pending,evaluated"`
	AIScore          *float64 `json:"ai_score,omitempty"`
	AIStrengths      *string  `json:"ai_strengths,omitempty"`
	AIImprovements   *string  `json:"ai_improvements,omitempty"`
	IsReportUnlocked bool     `json:"is_report_unlocked"`
	CreatedAt        string   `json:"created_at" format:"date-time"`
	UpdatedAt        string   `json:"updated_at" format:"date-time"`
}

// Evaluation is the decoded form of the three ai_* columns.
type Evaluation struct {
	Score        float64  `json:"score"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
}

// Evaluation decodes the stored review fields. A task whose fields are
// missing or fail to decode reports no evaluation rather than an error.
func (t Task) Evaluation() (Evaluation, bool) {
	if t.AIScore == nil || t.AIStrengths == nil || t.AIImprovements == nil {
		return Evaluation{}, false
	}
	var strengths, improvements []string
	if err := json.Unmarshal([]byte(*t.AIStrengths), &strengths); err != nil {
		return Evaluation{}, false
	}
	if err := json.Unmarshal([]byte(*t.AIImprovements), &improvements); err != nil {
		return Evaluation{}, false
	}
	if strengths == nil {
		strengths = []string{}
	}
	if improvements == nil {
		improvements = []string{}
	}
	return Evaluation{Score: *t.AIScore, Strengths: strengths, Improvements: improvements}, true
}

// TaskSummary is the listing projection used by dashboards and report lists.
type TaskSummary struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Status           string   `json:"status"`
	AIScore          *float64 `json:"ai_score,omitempty"`
	IsReportUnlocked bool     `json:"is_report_unlocked"`
	CreatedAt        string   `json:"created_at" format:"date-time"`
}

func (t Task) Summary() TaskSummary {
	return TaskSummary{
		ID:               t.ID,
		Title:            t.Title,
		Status:           t.Status,
		AIScore:          t.AIScore,
		IsReportUnlocked: t.IsReportUnlocked,
		CreatedAt:        t.CreatedAt,
	}
}

type PaymentAttempt struct {
	ID                string `json:"id"`
	UserID            string `json:"user_id"`
	TaskID            string `json:"task_id"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	Status            string `json:"status"`
	ProviderOrderID   string `json:"provider_order_id,omitempty"`
	ProviderPaymentID string `json:"provider_payment_id,omitempty"`
	CreatedAt         string `json:"created_at" format:"date-time"`
}

// PaymentOrder is an order created at the payment provider, handed to the
// hosted checkout. It is not persisted.
type PaymentOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// TimeLayout is a fixed-width UTC timestamp so stored values sort
// lexically in time order.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}
