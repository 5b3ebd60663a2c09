package pgstore

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"codereview/internal/domain"
	"codereview/internal/repo"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres integration test")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	store := New(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	t.Cleanup(func() {
		bg := context.Background()
		_, _ = pool.Exec(bg, "DELETE FROM payments WHERE user_id LIKE 'test-%'")
		_, _ = pool.Exec(bg, "DELETE FROM tasks WHERE user_id LIKE 'test-%'")
		_, _ = pool.Exec(bg, "DELETE FROM events WHERE actor_id LIKE 'test-%'")
	})
	return store
}

func TestStore_EnsureSchemaIdempotent(t *testing.T) {
	store := setupTestStore(t)
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("second EnsureSchema: %v", err)
	}
}

func TestStore_EvaluateAndUnlockOnce(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	user := "test-" + uuid.NewString()
	now := domain.FormatTime(time.Now())
	task := domain.Task{ID: uuid.NewString(), UserID: user, Title: "t", Description: "d", Code: "c", Status: domain.TaskStatusPending, CreatedAt: now, UpdatedAt: now}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.SaveEvaluation(ctx, repo.EvaluationUpdate{TaskID: task.ID, UserID: "test-other", Strengths: "[]", Improvements: "[]", UpdatedAt: now}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("non-owner evaluation should miss, got %v", err)
	}
	if err := store.SaveEvaluation(ctx, repo.EvaluationUpdate{TaskID: task.ID, UserID: user, Score: 88, Strengths: `["a"]`, Improvements: `[]`, UpdatedAt: now}); err != nil {
		t.Fatalf("save evaluation: %v", err)
	}

	var wg sync.WaitGroup
	applied := make(chan bool, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.UnlockTask(ctx, repo.UnlockUpdate{
				TaskID: task.ID,
				UserID: user,
				At:     now,
				Payment: domain.PaymentAttempt{
					ID: uuid.NewString(), UserID: user, TaskID: task.ID, Amount: 9900,
					Currency: "INR", Status: domain.PaymentStatusSuccess, CreatedAt: now,
				},
			})
			if err != nil {
				t.Errorf("unlock: %v", err)
				return
			}
			applied <- ok
		}()
	}
	wg.Wait()
	close(applied)
	count := 0
	for ok := range applied {
		if ok {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected one applied unlock, got %d", count)
	}
	got, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.IsReportUnlocked || got.AIScore == nil || *got.AIScore != 88 {
		t.Fatalf("unexpected task %+v", got)
	}
	payments, err := store.ListPayments(ctx, task.ID)
	if err != nil || len(payments) != 1 {
		t.Fatalf("expected one payment, got %d (%v)", len(payments), err)
	}
}
