package auth

import (
	"context"
	"errors"

	"codereview/internal/domain"
	"codereview/internal/repo"
)

// ErrUnauthenticated is returned when an operation runs without an actor.
var ErrUnauthenticated = errors.New("authentication required")

// ForbiddenError indicates the actor may not touch the task. The message is
// the same whether the task is missing or owned by someone else.
type ForbiddenError struct {
	Action string
	TaskID string
}

func (e ForbiddenError) Error() string {
	return "forbidden"
}

// TaskGetter is the read side needed for ownership checks.
type TaskGetter interface {
	GetTask(ctx context.Context, id string) (domain.Task, error)
}

// Owns reports whether actorID owns t.
func Owns(t domain.Task, actorID string) bool {
	return actorID != "" && t.UserID == actorID
}

// LoadOwned fetches the task and checks that actorID owns it. A missing task
// is reported as ForbiddenError too.
func LoadOwned(ctx context.Context, store TaskGetter, actorID, taskID, action string) (domain.Task, error) {
	if actorID == "" {
		return domain.Task{}, ErrUnauthenticated
	}
	t, err := store.GetTask(ctx, taskID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Task{}, ForbiddenError{Action: action, TaskID: taskID}
	}
	if err != nil {
		return domain.Task{}, err
	}
	if !Owns(t, actorID) {
		return domain.Task{}, ForbiddenError{Action: action, TaskID: taskID}
	}
	return t, nil
}
