package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"codereview/internal/domain"
	"codereview/internal/events"
)

// Repo is the SQLite store. All statements run inside an explicit
// transaction because the pool is capped at one connection.
type Repo struct {
	DB     *sql.DB
	Events events.Writer
}

var _ Store = Repo{}

const taskColumns = `id,user_id,title,description,code,status,ai_score,ai_strengths,ai_improvements,is_report_unlocked,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var score sql.NullFloat64
	var strengths, improvements sql.NullString
	var unlocked int
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Code, &t.Status,
		&score, &strengths, &improvements, &unlocked, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if score.Valid {
		t.AIScore = &score.Float64
	}
	if strengths.Valid {
		t.AIStrengths = &strengths.String
	}
	if improvements.Valid {
		t.AIImprovements = &improvements.String
	}
	t.IsReportUnlocked = unlocked != 0
	return t, nil
}

// inTx runs fn in a transaction and commits when it returns nil.
func (r Repo) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) CreateTask(ctx context.Context, t domain.Task) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,user_id,title,description,code,status,is_report_unlocked,created_at,updated_at) VALUES (?,?,?,?,?,?,0,?,?)`,
			t.ID, t.UserID, t.Title, t.Description, t.Code, t.Status, t.CreatedAt, t.UpdatedAt); err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		return r.Events.Append(ctx, tx, events.TaskSubmitted, "task", t.ID, t.UserID, events.EventPayload{"title": t.Title})
	})
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var t domain.Task
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		t, err = getTaskTx(ctx, tx, id)
		return err
	})
	return t, err
}

func getTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Unlocked != nil {
		clauses = append(clauses, "is_report_unlocked=?")
		args = append(args, boolInt(*f.Unlocked))
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	var res []domain.Task
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			t, err := scanTask(rows)
			if err != nil {
				return err
			}
			res = append(res, t)
		}
		return rows.Err()
	})
	return res, err
}

// SaveEvaluation writes all review fields and the evaluated status in one
// conditional update. ErrNotFound means no task with that id belongs to the
// user.
func (r Repo) SaveEvaluation(ctx context.Context, u EvaluationUpdate) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE tasks SET status=?, ai_score=?, ai_strengths=?, ai_improvements=?, updated_at=? WHERE id=? AND user_id=?`,
			domain.TaskStatusEvaluated, u.Score, u.Strengths, u.Improvements, u.UpdatedAt, u.TaskID, u.UserID)
		if err != nil {
			return fmt.Errorf("update task evaluation: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return r.Events.Append(ctx, tx, events.TaskEvaluated, "task", u.TaskID, u.UserID, events.EventPayload{
			"score":    u.Score,
			"strategy": u.Strategy,
		})
	})
}

// UnlockTask flips is_report_unlocked from 0 to 1 for the owner's task and,
// only when that update matched, records the payment attempt and events.
// It reports false when nothing changed: the task is missing, owned by
// someone else, or already unlocked.
func (r Repo) UnlockTask(ctx context.Context, u UnlockUpdate) (bool, error) {
	var unlocked bool
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE tasks SET is_report_unlocked=1, updated_at=? WHERE id=? AND user_id=? AND is_report_unlocked=0`,
			u.At, u.TaskID, u.UserID)
		if err != nil {
			return fmt.Errorf("unlock task: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		p := u.Payment
		if _, err := tx.ExecContext(ctx, `INSERT INTO payments(id,user_id,task_id,amount,currency,status,provider_order_id,provider_payment_id,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
			p.ID, p.UserID, p.TaskID, p.Amount, p.Currency, p.Status, nullable(p.ProviderOrderID), nullable(p.ProviderPaymentID), p.CreatedAt); err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
		if err := r.Events.Append(ctx, tx, events.PaymentRecorded, "payment", p.ID, u.UserID, events.EventPayload{
			"task_id":  p.TaskID,
			"amount":   p.Amount,
			"currency": p.Currency,
			"order_id": p.ProviderOrderID,
		}); err != nil {
			return err
		}
		if err := r.Events.Append(ctx, tx, events.ReportUnlocked, "task", u.TaskID, u.UserID, events.EventPayload{"payment_id": p.ID}); err != nil {
			return err
		}
		unlocked = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return unlocked, nil
}

func (r Repo) ListPayments(ctx context.Context, taskID string) ([]domain.PaymentAttempt, error) {
	var res []domain.PaymentAttempt
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id,user_id,task_id,amount,currency,status,COALESCE(provider_order_id,''),COALESCE(provider_payment_id,''),created_at FROM payments WHERE task_id=? ORDER BY created_at ASC, id ASC`, taskID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var p domain.PaymentAttempt
			if err := rows.Scan(&p.ID, &p.UserID, &p.TaskID, &p.Amount, &p.Currency, &p.Status, &p.ProviderOrderID, &p.ProviderPaymentID, &p.CreatedAt); err != nil {
				return err
			}
			res = append(res, p)
		}
		return rows.Err()
	})
	return res, err
}

func (r Repo) ListEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	var res []domain.Event
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var e domain.Event
			if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
				return err
			}
			res = append(res, e)
		}
		return rows.Err()
	})
	return res, err
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	})
	return id, err
}

func (r Repo) Close() error {
	return r.DB.Close()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
