package repo

import (
	"context"
	"errors"

	"codereview/internal/domain"
)

var ErrNotFound = errors.New("not found")

// Store is the persistence contract shared by the SQLite Repo and the
// Postgres store. Every mutation runs in one transaction together with the
// event that records it.
type Store interface {
	CreateTask(ctx context.Context, t domain.Task) error
	GetTask(ctx context.Context, id string) (domain.Task, error)
	ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error)
	SaveEvaluation(ctx context.Context, u EvaluationUpdate) error
	UnlockTask(ctx context.Context, u UnlockUpdate) (bool, error)
	ListPayments(ctx context.Context, taskID string) ([]domain.PaymentAttempt, error)

	InsertAPIKey(ctx context.Context, key domain.APIKey) error
	GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error)
	ListAPIKeys(ctx context.Context, userID string) ([]domain.APIKey, error)
	DeleteAPIKey(ctx context.Context, userID, id string) error

	ListEvents(ctx context.Context, f EventFilters) ([]domain.Event, error)
	EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error)
	LatestEventID(ctx context.Context) (int64, error)

	Close() error
}

// TaskFilters selects tasks newest first. Unlocked nil means either state.
type TaskFilters struct {
	UserID          string
	Status          string
	Unlocked        *bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

// EvaluationUpdate is a validated review ready to be stored. Strengths and
// Improvements are JSON array text.
type EvaluationUpdate struct {
	TaskID       string
	UserID       string
	Score        float64
	Strengths    string
	Improvements string
	Strategy     string
	UpdatedAt    string
}

// UnlockUpdate flips a task's report to unlocked and records the payment
// that paid for it.
type UnlockUpdate struct {
	TaskID  string
	UserID  string
	Payment domain.PaymentAttempt
	At      string
}

type EventFilters struct {
	Type       string
	EntityKind string
	EntityID   string
	Limit      int
	Cursor     int64
}
