// Package entitlement decides whether a task's full report may be shown and
// performs the one-way unlock after payment.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"codereview/internal/domain"
	"codereview/internal/engine/auth"
	"codereview/internal/metrics"
	"codereview/internal/repo"
)

// State is the entitlement state of one task's report.
type State string

const (
	StateLocked   State = "locked"
	StateUnlocked State = "unlocked"
)

// StateOf reads the entitlement state from a task.
func StateOf(t domain.Task) State {
	if t.IsReportUnlocked {
		return StateUnlocked
	}
	return StateLocked
}

// Outcome describes a successful Unlock call.
type Outcome string

const (
	OutcomeUnlocked        Outcome = "unlocked"
	OutcomeAlreadyUnlocked Outcome = "already_unlocked"
)

// PaymentProof is what the checkout reports back after a payment.
type PaymentProof struct {
	OrderID   string
	PaymentID string
	Signature string
}

// RejectedError means the proof did not satisfy the verifier.
type RejectedError struct {
	Err error
}

func (e *RejectedError) Error() string { return "payment not accepted: " + e.Err.Error() }
func (e *RejectedError) Unwrap() error { return e.Err }

// Store is the persistence the gate needs.
type Store interface {
	auth.TaskGetter
	UnlockTask(ctx context.Context, u repo.UnlockUpdate) (bool, error)
}

// Gate runs the locked to unlocked transition.
type Gate struct {
	Store    Store
	Verifier ProofVerifier
	Amount   int64
	Currency string
	Now      func() time.Time
	NewID    func() string
	Logger   *slog.Logger
}

func (g Gate) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g Gate) newID() string {
	if g.NewID != nil {
		return g.NewID()
	}
	return uuid.NewString()
}

func (g Gate) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

func (g Gate) verifier() ProofVerifier {
	if g.Verifier != nil {
		return g.Verifier
	}
	return ClientCallback{}
}

// Unlock grants the full report of taskID to actorID after an accepted
// payment. Only the owner may unlock. Unlocking an unlocked task succeeds
// with OutcomeAlreadyUnlocked and records nothing.
func (g Gate) Unlock(ctx context.Context, actorID, taskID string, proof PaymentProof) (Outcome, error) {
	outcome, err := g.unlock(ctx, actorID, taskID, proof)
	metrics.Unlocks.WithLabelValues(outcomeLabel(outcome, err)).Inc()
	return outcome, err
}

func (g Gate) unlock(ctx context.Context, actorID, taskID string, proof PaymentProof) (Outcome, error) {
	log := g.logger().With("task_id", taskID, "actor_id", actorID)

	t, err := auth.LoadOwned(ctx, g.Store, actorID, taskID, "unlock")
	if err != nil {
		log.Warn("unlock refused", "error", err)
		return "", err
	}
	if StateOf(t) == StateUnlocked {
		return OutcomeAlreadyUnlocked, nil
	}
	if err := g.verifier().Verify(ctx, taskID, proof); err != nil {
		log.Warn("payment proof rejected", "order_id", proof.OrderID, "payment_id", proof.PaymentID, "error", err)
		return "", &RejectedError{Err: err}
	}

	at := domain.FormatTime(g.now())
	changed, err := g.Store.UnlockTask(ctx, repo.UnlockUpdate{
		TaskID: taskID,
		UserID: actorID,
		At:     at,
		Payment: domain.PaymentAttempt{
			ID:                g.newID(),
			UserID:            actorID,
			TaskID:            taskID,
			Amount:            g.Amount,
			Currency:          g.Currency,
			Status:            domain.PaymentStatusSuccess,
			ProviderOrderID:   proof.OrderID,
			ProviderPaymentID: proof.PaymentID,
			CreatedAt:         at,
		},
	})
	if err != nil {
		log.Error("unlock write failed", "error", err)
		return "", fmt.Errorf("unlock report: %w", err)
	}
	if changed {
		log.Info("report unlocked", "order_id", proof.OrderID, "payment_id", proof.PaymentID)
		return OutcomeUnlocked, nil
	}

	// Lost a race or the task changed hands; re-read to tell which.
	t, err = auth.LoadOwned(ctx, g.Store, actorID, taskID, "unlock")
	if err != nil {
		return "", err
	}
	if StateOf(t) == StateUnlocked {
		return OutcomeAlreadyUnlocked, nil
	}
	return "", fmt.Errorf("unlock report: task %s did not change", taskID)
}

func outcomeLabel(o Outcome, err error) string {
	var forbidden auth.ForbiddenError
	var rejected *RejectedError
	switch {
	case err == nil:
		return string(o)
	case errors.As(err, &forbidden), errors.Is(err, auth.ErrUnauthenticated):
		return "forbidden"
	case errors.As(err, &rejected):
		return "rejected"
	default:
		return "error"
	}
}
