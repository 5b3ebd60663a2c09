package entitlement

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codereview/internal/db"
	"codereview/internal/domain"
	"codereview/internal/engine/auth"
	"codereview/internal/migrate"
	"codereview/internal/payments/razorpay"
	"codereview/internal/repo"
)

func newTestGate(t *testing.T) (Gate, repo.Repo) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)

	store := repo.Repo{DB: conn}
	var seq int64
	gate := Gate{
		Store:    store,
		Amount:   9900,
		Currency: "INR",
		Now:      func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) },
		NewID:    func() string { return fmt.Sprintf("pay-%d", atomic.AddInt64(&seq, 1)) },
	}
	return gate, store
}

func seed(t *testing.T, store repo.Repo, id, owner string) {
	t.Helper()
	now := domain.FormatTime(time.Now())
	require.NoError(t, store.CreateTask(context.Background(), domain.Task{
		ID: id, UserID: owner, Title: "t", Description: "d", Code: "c",
		Status: domain.TaskStatusPending, CreatedAt: now, UpdatedAt: now,
	}))
}

func TestUnlock_OwnerUnlocksOnce(t *testing.T) {
	gate, store := newTestGate(t)
	ctx := context.Background()
	seed(t, store, "t1", "alice")

	task, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StateLocked, StateOf(task))

	outcome, err := gate.Unlock(ctx, "alice", "t1", PaymentProof{OrderID: "order_1", PaymentID: "pay_1"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnlocked, outcome)

	outcome, err = gate.Unlock(ctx, "alice", "t1", PaymentProof{OrderID: "order_2", PaymentID: "pay_2"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyUnlocked, outcome)

	task, err = store.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StateUnlocked, StateOf(task))

	payments, err := store.ListPayments(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "order_1", payments[0].ProviderOrderID)
	assert.Equal(t, "pay_1", payments[0].ProviderPaymentID)
	assert.Equal(t, int64(9900), payments[0].Amount)
	assert.Equal(t, domain.PaymentStatusSuccess, payments[0].Status)
}

func TestUnlock_NonOwnerIsForbidden(t *testing.T) {
	gate, store := newTestGate(t)
	ctx := context.Background()
	seed(t, store, "t1", "alice")

	_, err := gate.Unlock(ctx, "mallory", "t1", PaymentProof{})
	var forbidden auth.ForbiddenError
	require.ErrorAs(t, err, &forbidden)

	_, missingErr := gate.Unlock(ctx, "mallory", "no-such-task", PaymentProof{})
	require.ErrorAs(t, missingErr, &forbidden)
	assert.Equal(t, err.Error(), missingErr.Error())

	task, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, task.IsReportUnlocked)
	payments, err := store.ListPayments(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestUnlock_RequiresActor(t *testing.T) {
	gate, store := newTestGate(t)
	seed(t, store, "t1", "alice")
	_, err := gate.Unlock(context.Background(), "", "t1", PaymentProof{})
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestUnlock_ConcurrentCallsRecordOnePayment(t *testing.T) {
	gate, store := newTestGate(t)
	ctx := context.Background()
	seed(t, store, "t1", "alice")

	const workers = 6
	var wg sync.WaitGroup
	var unlocked, already int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := gate.Unlock(ctx, "alice", "t1", PaymentProof{OrderID: "o", PaymentID: "p"})
			if !assert.NoError(t, err) {
				return
			}
			switch outcome {
			case OutcomeUnlocked:
				atomic.AddInt32(&unlocked, 1)
			case OutcomeAlreadyUnlocked:
				atomic.AddInt32(&already, 1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, unlocked)
	assert.EqualValues(t, workers-1, already)

	payments, err := store.ListPayments(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

func TestUnlock_SignatureVerifier(t *testing.T) {
	gate, store := newTestGate(t)
	gate.Verifier = SignatureVerifier{Secret: "shh"}
	ctx := context.Background()
	seed(t, store, "t1", "alice")

	_, err := gate.Unlock(ctx, "alice", "t1", PaymentProof{OrderID: "o1", PaymentID: "p1", Signature: "bogus"})
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.ErrorIs(t, err, razorpay.ErrInvalidSignature)

	task, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, task.IsReportUnlocked)

	sig := razorpay.Sign("shh", "o1", "p1")
	outcome, err := gate.Unlock(ctx, "alice", "t1", PaymentProof{OrderID: "o1", PaymentID: "p1", Signature: sig})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnlocked, outcome)
}

func TestClientCallbackAcceptsAnything(t *testing.T) {
	assert.NoError(t, ClientCallback{}.Verify(context.Background(), "t", PaymentProof{}))
	assert.Error(t, SignatureVerifier{}.Verify(context.Background(), "t", PaymentProof{}))
}
