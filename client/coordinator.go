package client

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"tasksync/domain"
)

// Backend is the server surface the coordinator mutates against.
type Backend interface {
	FetchTodo(ctx context.Context, todoID string) (*domain.TodoWithTasks, error)
	CreateTask(ctx context.Context, todoID string, create TaskCreate) (*domain.Task, error)
	EditTask(ctx context.Context, todoID, taskID string, patch TaskPatch) ([]domain.Task, error)
	BulkEditTasks(ctx context.Context, todoID string, edits []domain.TaskEdit) ([]domain.Task, error)
	DeleteTask(ctx context.Context, todoID, taskID string) (*domain.Task, error)
}

// TaskCreate describes a new task.
type TaskCreate struct {
	Name         string `json:"name"`
	ParentTaskID string `json:"parentTaskId,omitempty"`
}

// TaskPatch is a partial edit of one task.
type TaskPatch struct {
	Name         *string `json:"name,omitempty"`
	Completed    *bool   `json:"completed,omitempty"`
	ParentTaskID *string `json:"parentTaskId,omitempty"`
}

type refetch struct {
	cancel context.CancelFunc
}

// Coordinator runs optimistic mutations against the snapshot store. Every
// mutation cancels the document's in-flight refetch (so a stale response
// cannot clobber the optimistic state), applies the predicted result
// locally, calls the backend, rolls the snapshot back on failure, and
// always ends by invalidating so the next snapshot is authoritative.
// Between concurrent mutations of one document the last write wins.
type Coordinator struct {
	backend Backend
	store   *Store
	logger  *log.Logger

	mu       sync.Mutex
	inflight map[string]*refetch
	stale    map[string]bool
}

func NewCoordinator(backend Backend, store *Store, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.New()
	}
	return &Coordinator{
		backend:  backend,
		store:    store,
		logger:   logger,
		inflight: make(map[string]*refetch),
		stale:    make(map[string]bool),
	}
}

// Get returns the document, fetching synchronously when the cached
// snapshot is missing or marked stale.
func (c *Coordinator) Get(ctx context.Context, todoID string) (*domain.TodoWithTasks, error) {
	c.mu.Lock()
	isStale := c.stale[todoID]
	c.mu.Unlock()

	if doc, ok := c.store.Get(todoID); ok && !isStale {
		return doc, nil
	}

	doc, err := c.backend.FetchTodo(ctx, todoID)
	if err != nil {
		return nil, err
	}
	if doc != nil {
		c.store.Set(todoID, doc)
		c.mu.Lock()
		delete(c.stale, todoID)
		c.mu.Unlock()
	}
	return doc, nil
}

// Invalidate marks the document stale and starts a background refetch.
// A newer invalidation or mutation cancels the refetch, so an outdated
// response can never overwrite fresher local state.
func (c *Coordinator) Invalidate(todoID string) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &refetch{cancel: cancel}

	c.mu.Lock()
	c.stale[todoID] = true
	if prev, ok := c.inflight[todoID]; ok {
		prev.cancel()
	}
	c.inflight[todoID] = r
	c.mu.Unlock()

	go func() {
		doc, err := c.backend.FetchTodo(ctx, todoID)

		c.mu.Lock()
		defer c.mu.Unlock()
		if ctx.Err() != nil || c.inflight[todoID] != r {
			return
		}
		delete(c.inflight, todoID)
		if err != nil {
			c.logger.WithError(err).Warn("background refetch failed")
			return
		}
		if doc != nil {
			c.store.Set(todoID, doc)
			delete(c.stale, todoID)
		}
	}()
}

func (c *Coordinator) cancelRefetch(todoID string) {
	c.mu.Lock()
	if r, ok := c.inflight[todoID]; ok {
		r.cancel()
		delete(c.inflight, todoID)
	}
	c.mu.Unlock()
}

// snapshot returns the current doc for rollback purposes.
func (c *Coordinator) snapshot(todoID string) (*domain.TodoWithTasks, bool) {
	return c.store.Get(todoID)
}

func (c *Coordinator) rollback(todoID string, prev *domain.TodoWithTasks, had bool) {
	if had {
		c.store.Set(todoID, prev)
	} else {
		c.store.Remove(todoID)
	}
}

// CreateTask optimistically inserts the task under its parent with a
// temporary id, then reconciles with the server-assigned row.
func (c *Coordinator) CreateTask(ctx context.Context, todoID string, create TaskCreate) (*domain.Task, error) {
	c.cancelRefetch(todoID)
	prev, had := c.snapshot(todoID)

	if had {
		now := time.Now().UTC()
		temp := domain.Task{
			ID:           uuid.NewString(),
			Name:         create.Name,
			ParentTaskID: create.ParentTaskID,
			TodoListID:   todoID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		c.store.Set(todoID, InsertTask(prev, temp))
	}

	task, err := c.backend.CreateTask(ctx, todoID, create)
	if err != nil {
		c.rollback(todoID, prev, had)
		c.Invalidate(todoID)
		return nil, err
	}
	c.Invalidate(todoID)
	return task, nil
}

// EditTask optimistically applies the edit. Completion toggles run the
// same cascade the server applies, so checked-off subtrees and completed
// ancestors appear instantly.
func (c *Coordinator) EditTask(ctx context.Context, todoID, taskID string, patch TaskPatch) ([]domain.Task, error) {
	c.cancelRefetch(todoID)
	prev, had := c.snapshot(todoID)

	if had {
		c.store.Set(todoID, applyPatchLocally(prev, taskID, patch))
	}

	updated, err := c.backend.EditTask(ctx, todoID, taskID, patch)
	if err != nil {
		c.rollback(todoID, prev, had)
		c.Invalidate(todoID)
		return nil, err
	}
	c.Invalidate(todoID)
	return updated, nil
}

func applyPatchLocally(doc *domain.TodoWithTasks, taskID string, patch TaskPatch) *domain.TodoWithTasks {
	if patch.Completed != nil {
		batch := domain.ExpandCompletion(doc.Tasks, taskID, *patch.Completed)
		edits := make([]domain.TaskEdit, len(batch))
		for i := range batch {
			edits[i] = domain.TaskEdit{ID: batch[i].ID, Completed: &batch[i].Completed}
		}
		if len(edits) > 0 {
			edits[0].Name = patch.Name
			edits[0].ParentTaskID = patch.ParentTaskID
		}
		return BulkUpdateTasks(doc, edits)
	}
	return UpdateTask(doc, taskID, func(t domain.Task) domain.Task {
		if patch.Name != nil {
			t.Name = *patch.Name
		}
		if patch.ParentTaskID != nil {
			t.ParentTaskID = *patch.ParentTaskID
		}
		return t
	})
}

// BulkEditTasks optimistically applies the whole batch in one snapshot swap.
func (c *Coordinator) BulkEditTasks(ctx context.Context, todoID string, edits []domain.TaskEdit) ([]domain.Task, error) {
	c.cancelRefetch(todoID)
	prev, had := c.snapshot(todoID)

	if had {
		c.store.Set(todoID, BulkUpdateTasks(prev, edits))
	}

	updated, err := c.backend.BulkEditTasks(ctx, todoID, edits)
	if err != nil {
		c.rollback(todoID, prev, had)
		c.Invalidate(todoID)
		return nil, err
	}
	c.Invalidate(todoID)
	return updated, nil
}

// DeleteTask optimistically drops the task's subtree.
func (c *Coordinator) DeleteTask(ctx context.Context, todoID, taskID string) (*domain.Task, error) {
	c.cancelRefetch(todoID)
	prev, had := c.snapshot(todoID)

	if had {
		c.store.Set(todoID, RemoveTask(prev, taskID))
	}

	task, err := c.backend.DeleteTask(ctx, todoID, taskID)
	if err != nil {
		c.rollback(todoID, prev, had)
		c.Invalidate(todoID)
		return nil, err
	}
	c.Invalidate(todoID)
	return task, nil
}
