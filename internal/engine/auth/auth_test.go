package auth

import (
	"context"
	"errors"
	"testing"

	"codereview/internal/domain"
	"codereview/internal/repo"
)

type stubGetter map[string]domain.Task

func (s stubGetter) GetTask(_ context.Context, id string) (domain.Task, error) {
	t, ok := s[id]
	if !ok {
		return domain.Task{}, repo.ErrNotFound
	}
	return t, nil
}

func TestLoadOwned(t *testing.T) {
	store := stubGetter{"t1": {ID: "t1", UserID: "alice"}}
	ctx := context.Background()

	if _, err := LoadOwned(ctx, store, "alice", "t1", "read"); err != nil {
		t.Fatalf("owner should load task: %v", err)
	}
	_, errOther := LoadOwned(ctx, store, "bob", "t1", "read")
	_, errMissing := LoadOwned(ctx, store, "bob", "nope", "read")
	var forbidden ForbiddenError
	if !errors.As(errOther, &forbidden) || !errors.As(errMissing, &forbidden) {
		t.Fatalf("expected ForbiddenError for both, got %v / %v", errOther, errMissing)
	}
	if errOther.Error() != errMissing.Error() {
		t.Fatalf("messages must not reveal existence: %q vs %q", errOther, errMissing)
	}
	if _, err := LoadOwned(ctx, store, "", "t1", "read"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}
