package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	TaskSubmitted   = "task.submitted"
	TaskEvaluated   = "task.evaluated"
	ReportUnlocked  = "report.unlocked"
	PaymentRecorded = "payment.recorded"
)

// Execer is satisfied by *sql.Tx; events are only written inside the
// transaction of the mutation they describe.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx Execer, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	ts, data, err := w.encode(payload)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, data)
	return err
}

// Encode renders the timestamp and payload columns for stores that write the
// row themselves.
func (w Writer) Encode(payload EventPayload) (string, string, error) {
	return w.encode(payload)
}

func (w Writer) encode(payload EventPayload) (string, string, error) {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", "", fmt.Errorf("marshal event payload: %w", err)
	}
	return now().UTC().Format(time.RFC3339Nano), string(data), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
