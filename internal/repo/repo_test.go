package repo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"codereview/internal/db"
	"codereview/internal/domain"
	"codereview/internal/migrate"
)

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if _, err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return Repo{DB: conn}
}

func seedTask(t *testing.T, r Repo, id, userID string, at time.Time) domain.Task {
	t.Helper()
	ts := domain.FormatTime(at)
	task := domain.Task{
		ID:          id,
		UserID:      userID,
		Title:       "title " + id,
		Description: "desc",
		Code:        "print(1)",
		Status:      domain.TaskStatusPending,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	if err := r.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func payment(id, userID, taskID string) domain.PaymentAttempt {
	return domain.PaymentAttempt{
		ID:                id,
		UserID:            userID,
		TaskID:            taskID,
		Amount:            9900,
		Currency:          "INR",
		Status:            domain.PaymentStatusSuccess,
		ProviderOrderID:   "order_1",
		ProviderPaymentID: "pay_1",
		CreatedAt:         domain.FormatTime(time.Now()),
	}
}

func TestCreateAndGetTask(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedTask(t, r, "t1", "u1", time.Now())

	got, err := r.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UserID != "u1" || got.Status != domain.TaskStatusPending || got.IsReportUnlocked {
		t.Fatalf("unexpected task %+v", got)
	}
	if got.AIScore != nil || got.AIStrengths != nil || got.AIImprovements != nil {
		t.Fatalf("pending task should carry no review fields")
	}
	if _, ok := got.Evaluation(); ok {
		t.Fatalf("pending task should have no evaluation")
	}
	if _, err := r.GetTask(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	evts, err := r.ListEvents(ctx, EventFilters{EntityID: "t1"})
	if err != nil || len(evts) != 1 || evts[0].Type != "task.submitted" {
		t.Fatalf("expected task.submitted event, got %+v (%v)", evts, err)
	}
}

func TestSaveEvaluation(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedTask(t, r, "t1", "u1", time.Now())

	upd := EvaluationUpdate{
		TaskID:       "t1",
		UserID:       "u1",
		Score:        72.5,
		Strengths:    `["clear"]`,
		Improvements: `["Bug Fix: a","Refactor: b"]`,
		Strategy:     "direct",
		UpdatedAt:    domain.FormatTime(time.Now()),
	}
	if err := r.SaveEvaluation(ctx, EvaluationUpdate{TaskID: "t1", UserID: "u2", Strengths: "[]", Improvements: "[]"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("non-owner update should match nothing, got %v", err)
	}
	if err := r.SaveEvaluation(ctx, upd); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := r.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.TaskStatusEvaluated {
		t.Fatalf("expected evaluated, got %s", got.Status)
	}
	ev, ok := got.Evaluation()
	if !ok {
		t.Fatalf("expected stored evaluation")
	}
	if ev.Score != 72.5 || len(ev.Strengths) != 1 || len(ev.Improvements) != 2 || ev.Improvements[1] != "Refactor: b" {
		t.Fatalf("unexpected evaluation %+v", ev)
	}
	evts, err := r.ListEvents(ctx, EventFilters{Type: "task.evaluated"})
	if err != nil || len(evts) != 1 {
		t.Fatalf("expected one task.evaluated event, got %d (%v)", len(evts), err)
	}
}

func TestListTasksNewestFirstWithFilters(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		seedTask(t, r, fmt.Sprintf("t%d", i), "u1", base.Add(time.Duration(i)*time.Minute))
	}
	seedTask(t, r, "other", "u2", base.Add(time.Hour))

	tasks, err := r.ListTasks(ctx, TaskFilters{UserID: "u1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 4 || tasks[0].ID != "t3" || tasks[3].ID != "t0" {
		t.Fatalf("unexpected order: %v", ids(tasks))
	}

	page, err := r.ListTasks(ctx, TaskFilters{UserID: "u1", Limit: 2, CursorCreatedAt: tasks[1].CreatedAt, CursorID: tasks[1].ID})
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(page) != 2 || page[0].ID != "t1" {
		t.Fatalf("unexpected page: %v", ids(page))
	}

	if _, err := r.UnlockTask(ctx, UnlockUpdate{TaskID: "t2", UserID: "u1", Payment: payment("p1", "u1", "t2"), At: domain.FormatTime(base)}); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	unlocked := true
	only, err := r.ListTasks(ctx, TaskFilters{UserID: "u1", Unlocked: &unlocked})
	if err != nil || len(only) != 1 || only[0].ID != "t2" {
		t.Fatalf("unlocked filter: %v (%v)", ids(only), err)
	}
}

func TestUnlockTaskIsConditional(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedTask(t, r, "t1", "u1", time.Now())
	now := domain.FormatTime(time.Now())

	changed, err := r.UnlockTask(ctx, UnlockUpdate{TaskID: "t1", UserID: "intruder", Payment: payment("px", "intruder", "t1"), At: now})
	if err != nil || changed {
		t.Fatalf("non-owner unlock should not change anything: %v %v", changed, err)
	}
	changed, err = r.UnlockTask(ctx, UnlockUpdate{TaskID: "t1", UserID: "u1", Payment: payment("p1", "u1", "t1"), At: now})
	if err != nil || !changed {
		t.Fatalf("owner unlock should apply: %v %v", changed, err)
	}
	changed, err = r.UnlockTask(ctx, UnlockUpdate{TaskID: "t1", UserID: "u1", Payment: payment("p2", "u1", "t1"), At: now})
	if err != nil || changed {
		t.Fatalf("second unlock should be a no-op: %v %v", changed, err)
	}
	got, _ := r.GetTask(ctx, "t1")
	if !got.IsReportUnlocked {
		t.Fatalf("task should be unlocked")
	}
	payments, err := r.ListPayments(ctx, "t1")
	if err != nil {
		t.Fatalf("payments: %v", err)
	}
	if len(payments) != 1 || payments[0].ID != "p1" || payments[0].Amount != 9900 {
		t.Fatalf("expected exactly the first payment, got %+v", payments)
	}
}

func TestConcurrentUnlockRecordsOnePayment(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedTask(t, r, "t1", "u1", time.Now())

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan bool, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			changed, err := r.UnlockTask(ctx, UnlockUpdate{
				TaskID:  "t1",
				UserID:  "u1",
				Payment: payment(fmt.Sprintf("p%d", i), "u1", "t1"),
				At:      domain.FormatTime(time.Now()),
			})
			if err != nil {
				errs <- err
				return
			}
			results <- changed
		}(i)
	}
	wg.Wait()
	close(results)
	close(errs)
	for err := range errs {
		t.Fatalf("unlock error: %v", err)
	}
	applied := 0
	for changed := range results {
		if changed {
			applied++
		}
	}
	if applied != 1 {
		t.Fatalf("expected exactly one applied unlock, got %d", applied)
	}
	payments, _ := r.ListPayments(ctx, "t1")
	if len(payments) != 1 {
		t.Fatalf("expected one payment attempt, got %d", len(payments))
	}
	evts, _ := r.ListEvents(ctx, EventFilters{Type: "report.unlocked"})
	if len(evts) != 1 {
		t.Fatalf("expected one report.unlocked event, got %d", len(evts))
	}
}

func TestEventsAfter(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedTask(t, r, "t1", "u1", time.Now())
	seedTask(t, r, "t2", "u1", time.Now())

	latest, err := r.LatestEventID(ctx)
	if err != nil || latest != 2 {
		t.Fatalf("latest event id = %d (%v)", latest, err)
	}
	after, err := r.EventsAfter(ctx, 10, 1)
	if err != nil || len(after) != 1 || after[0].EntityID != "t2" {
		t.Fatalf("events after 1: %+v (%v)", after, err)
	}
}

func TestAPIKeys(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	hash := HashAPIKey(" secret ")
	if hash != HashAPIKey("secret") {
		t.Fatalf("hash should ignore surrounding whitespace")
	}
	if err := r.InsertAPIKey(ctx, domain.APIKey{ID: "k1", UserID: "u1", Name: "cli", KeyHash: hash}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := r.InsertAPIKey(ctx, domain.APIKey{ID: "k2", KeyHash: "x"}); err == nil {
		t.Fatalf("expected user_id validation error")
	}
	key, err := r.GetAPIKeyByHash(ctx, hash)
	if err != nil || key.UserID != "u1" || key.Name != "cli" {
		t.Fatalf("lookup: %+v (%v)", key, err)
	}
	if _, err := r.GetAPIKeyByHash(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	keys, err := r.ListAPIKeys(ctx, "u1")
	if err != nil || len(keys) != 1 {
		t.Fatalf("list: %v (%v)", keys, err)
	}
	if err := r.DeleteAPIKey(ctx, "u2", "k1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other user's delete should miss, got %v", err)
	}
	if err := r.DeleteAPIKey(ctx, "u1", "k1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func ids(tasks []domain.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}
