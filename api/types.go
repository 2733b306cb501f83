package api

import (
	"context"
	"time"

	"tasksync/domain"
)

// Storage is the persistence surface the handlers depend on.
type Storage interface {
	GetTodo(ctx context.Context, todoID string) (*domain.Todo, error)
	UpdateTodo(ctx context.Context, todo domain.Todo) error
	UpdateTodoStatus(ctx context.Context, todoID string, status domain.Status, now time.Time) error
	FetchTasks(ctx context.Context, todoID string) ([]domain.Task, error)
	InsertTask(ctx context.Context, task domain.Task) error
	UpdateTask(ctx context.Context, todoID string, edit domain.TaskEdit, now time.Time) (*domain.Task, error)
	BulkUpdateTasks(ctx context.Context, todoID string, edits []domain.TaskEdit, now time.Time) ([]domain.Task, error)
	DeleteTask(ctx context.Context, todoID, taskID string) (*domain.Task, int, error)
}

// Authenticator resolves the calling user from an Authorization header.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Publisher fans a live update out to every subscriber of a document topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, ev domain.Event) error
}
