// Package pgstore is the Postgres implementation of repo.Store, used when a
// database URL is configured instead of the workspace SQLite file.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"codereview/internal/domain"
	"codereview/internal/events"
	"codereview/internal/repo"
)

// Store persists tasks, payments, events and API keys in Postgres.
type Store struct {
	pool   *pgxpool.Pool
	events events.Writer
}

var _ repo.Store = (*Store)(nil)

// Open connects to url and ensures the schema exists.
func Open(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := New(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT NOT NULL,
    code TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    ai_score DOUBLE PRECISION,
    ai_strengths TEXT,
    ai_improvements TEXT,
    is_report_unlocked BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_user_created ON tasks (user_id, created_at DESC, id DESC);`,
		`CREATE TABLE IF NOT EXISTS payments (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    task_id TEXT NOT NULL REFERENCES tasks(id),
    amount BIGINT NOT NULL,
    currency TEXT NOT NULL,
    status TEXT NOT NULL,
    provider_order_id TEXT NOT NULL DEFAULT '',
    provider_payment_id TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_payments_task ON payments (task_id);`,
		`CREATE TABLE IF NOT EXISTS events (
    id BIGSERIAL PRIMARY KEY,
    ts TEXT NOT NULL,
    type TEXT NOT NULL,
    entity_kind TEXT NOT NULL,
    entity_id TEXT NOT NULL DEFAULT '',
    actor_id TEXT NOT NULL,
    payload_json TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_events_entity ON events (entity_kind, entity_id);`,
		`CREATE TABLE IF NOT EXISTS api_keys (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    key_hash TEXT NOT NULL UNIQUE,
    created_at TEXT NOT NULL
);`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) appendEvent(ctx context.Context, tx pgx.Tx, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error {
	ts, data, err := s.events.Encode(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `INSERT INTO events (ts, type, entity_kind, entity_id, actor_id, payload_json) VALUES ($1, $2, $3, $4, $5, $6)`,
		ts, evtType, entityKind, entityID, actorID, data)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

const taskColumns = `id, user_id, title, description, code, status, ai_score, ai_strengths, ai_improvements, is_report_unlocked, created_at, updated_at`

func scanTask(row pgx.Row) (domain.Task, error) {
	var t domain.Task
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Code, &t.Status,
		&t.AIScore, &t.AIStrengths, &t.AIImprovements, &t.IsReportUnlocked, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Task{}, repo.ErrNotFound
	}
	return t, err
}

func (s *Store) CreateTask(ctx context.Context, t domain.Task) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO tasks (id, user_id, title, description, code, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			t.ID, t.UserID, t.Title, t.Description, t.Code, t.Status, t.CreatedAt, t.UpdatedAt); err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		return s.appendEvent(ctx, tx, events.TaskSubmitted, "task", t.ID, t.UserID, events.EventPayload{"title": t.Title})
	})
}

func (s *Store) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
}

func (s *Store) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.UserID != "" {
		clauses = append(clauses, "user_id = "+arg(f.UserID))
	}
	if f.Status != "" {
		clauses = append(clauses, "status = "+arg(f.Status))
	}
	if f.Unlocked != nil {
		clauses = append(clauses, "is_report_unlocked = "+arg(*f.Unlocked))
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		at := arg(f.CursorCreatedAt)
		clauses = append(clauses, fmt.Sprintf("(created_at < %s OR (created_at = %s AND id < %s))", at, at, arg(f.CursorID)))
	}
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (s *Store) SaveEvaluation(ctx context.Context, u repo.EvaluationUpdate) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE tasks SET status = $1, ai_score = $2, ai_strengths = $3, ai_improvements = $4, updated_at = $5 WHERE id = $6 AND user_id = $7`,
			domain.TaskStatusEvaluated, u.Score, u.Strengths, u.Improvements, u.UpdatedAt, u.TaskID, u.UserID)
		if err != nil {
			return fmt.Errorf("update task evaluation: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return repo.ErrNotFound
		}
		return s.appendEvent(ctx, tx, events.TaskEvaluated, "task", u.TaskID, u.UserID, events.EventPayload{
			"score":    u.Score,
			"strategy": u.Strategy,
		})
	})
}

func (s *Store) UnlockTask(ctx context.Context, u repo.UnlockUpdate) (bool, error) {
	var unlocked bool
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE tasks SET is_report_unlocked = TRUE, updated_at = $1 WHERE id = $2 AND user_id = $3 AND is_report_unlocked = FALSE`,
			u.At, u.TaskID, u.UserID)
		if err != nil {
			return fmt.Errorf("unlock task: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		p := u.Payment
		if _, err := tx.Exec(ctx, `INSERT INTO payments (id, user_id, task_id, amount, currency, status, provider_order_id, provider_payment_id, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			p.ID, p.UserID, p.TaskID, p.Amount, p.Currency, p.Status, p.ProviderOrderID, p.ProviderPaymentID, p.CreatedAt); err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
		if err := s.appendEvent(ctx, tx, events.PaymentRecorded, "payment", p.ID, u.UserID, events.EventPayload{
			"task_id":  p.TaskID,
			"amount":   p.Amount,
			"currency": p.Currency,
			"order_id": p.ProviderOrderID,
		}); err != nil {
			return err
		}
		if err := s.appendEvent(ctx, tx, events.ReportUnlocked, "task", u.TaskID, u.UserID, events.EventPayload{"payment_id": p.ID}); err != nil {
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

func (s *Store) ListPayments(ctx context.Context, taskID string) ([]domain.PaymentAttempt, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, user_id, task_id, amount, currency, status, provider_order_id, provider_payment_id, created_at FROM payments WHERE task_id = $1 ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()
	var res []domain.PaymentAttempt
	for rows.Next() {
		var p domain.PaymentAttempt
		if err := rows.Scan(&p.ID, &p.UserID, &p.TaskID, &p.Amount, &p.Currency, &p.Status, &p.ProviderOrderID, &p.ProviderPaymentID, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (s *Store) InsertAPIKey(ctx context.Context, key domain.APIKey) error {
	if key.ID == "" || key.UserID == "" || key.KeyHash == "" {
		return errors.New("id, user_id and key_hash required")
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO api_keys (id, user_id, name, key_hash, created_at) VALUES ($1, $2, $3, $4, $5)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.CreatedAt)
	return err
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	var key domain.APIKey
	err := s.pool.QueryRow(ctx, `SELECT id, user_id, name, key_hash, created_at FROM api_keys WHERE key_hash = $1`, hash).
		Scan(&key.ID, &key.UserID, &key.Name, &key.KeyHash, &key.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.APIKey{}, repo.ErrNotFound
	}
	return key, err
}

func (s *Store) ListAPIKeys(ctx context.Context, userID string) ([]domain.APIKey, error) {
	query := `SELECT id, user_id, name, key_hash, created_at FROM api_keys`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = $1`
		args = append(args, userID)
	}
	rows, err := s.pool.Query(ctx, query+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []domain.APIKey
	for rows.Next() {
		var key domain.APIKey
		if err := rows.Scan(&key.ID, &key.UserID, &key.Name, &key.KeyHash, &key.CreatedAt); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *Store) DeleteAPIKey(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM api_keys WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	clauses := []string{"TRUE"}
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Type != "" {
		clauses = append(clauses, "type = "+arg(f.Type))
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind = "+arg(f.EntityKind))
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id = "+arg(f.EntityID))
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id < "+arg(f.Cursor))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, ts, type, entity_kind, entity_id, actor_id, payload_json FROM events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY id DESC LIMIT ` + arg(limit)
	return s.queryEvents(ctx, query, args...)
}

func (s *Store) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryEvents(ctx, `SELECT id, ts, type, entity_kind, entity_id, actor_id, payload_json FROM events WHERE id > $1 ORDER BY id ASC LIMIT $2`, cursor, limit)
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (s *Store) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM events`).Scan(&id)
	return id, err
}
