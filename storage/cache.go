package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"tasksync/domain"
)

type backend interface {
	GetTodo(ctx context.Context, todoID string) (*domain.Todo, error)
	UpdateTodo(ctx context.Context, todo domain.Todo) error
	UpdateTodoStatus(ctx context.Context, todoID string, status domain.Status, now time.Time) error
	FetchTasks(ctx context.Context, todoID string) ([]domain.Task, error)
	InsertTask(ctx context.Context, task domain.Task) error
	UpdateTask(ctx context.Context, todoID string, edit domain.TaskEdit, now time.Time) (*domain.Task, error)
	BulkUpdateTasks(ctx context.Context, todoID string, edits []domain.TaskEdit, now time.Time) ([]domain.Task, error)
	DeleteTask(ctx context.Context, todoID, taskID string) (*domain.Task, int, error)
}

// Cache wraps a Storage instance with Redis-backed caching for read
// operations. Every write to a document evicts that document's keys so
// collaborators never read a tree older than the last acknowledged write.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{
		base:  base,
		redis: client,
		ttl:   ttl,
	}
}

func (c *Cache) GetTodo(ctx context.Context, todoID string) (*domain.Todo, error) {
	if todo, ok := c.loadTodoFromCache(ctx, todoID); ok {
		return todo, nil
	}

	todo, err := c.base.GetTodo(ctx, todoID)
	if err != nil {
		return nil, err
	}

	if todo != nil {
		c.storeTodo(ctx, todoID, *todo)
	}
	return todo, nil
}

func (c *Cache) FetchTasks(ctx context.Context, todoID string) ([]domain.Task, error) {
	if tasks, ok := c.loadTasksFromCache(ctx, todoID); ok {
		return tasks, nil
	}

	tasks, err := c.base.FetchTasks(ctx, todoID)
	if err != nil {
		return nil, err
	}

	c.storeTasks(ctx, todoID, tasks)
	return tasks, nil
}

func (c *Cache) UpdateTodo(ctx context.Context, todo domain.Todo) error {
	if err := c.base.UpdateTodo(ctx, todo); err != nil {
		return err
	}
	c.evict(ctx, todo.ID)
	return nil
}

func (c *Cache) UpdateTodoStatus(ctx context.Context, todoID string, status domain.Status, now time.Time) error {
	if err := c.base.UpdateTodoStatus(ctx, todoID, status, now); err != nil {
		return err
	}
	c.evict(ctx, todoID)
	return nil
}

func (c *Cache) InsertTask(ctx context.Context, task domain.Task) error {
	if err := c.base.InsertTask(ctx, task); err != nil {
		return err
	}
	c.evict(ctx, task.TodoListID)
	return nil
}

func (c *Cache) UpdateTask(ctx context.Context, todoID string, edit domain.TaskEdit, now time.Time) (*domain.Task, error) {
	task, err := c.base.UpdateTask(ctx, todoID, edit, now)
	if err != nil {
		return nil, err
	}
	c.evict(ctx, todoID)
	return task, nil
}

func (c *Cache) BulkUpdateTasks(ctx context.Context, todoID string, edits []domain.TaskEdit, now time.Time) ([]domain.Task, error) {
	tasks, err := c.base.BulkUpdateTasks(ctx, todoID, edits, now)
	if err != nil {
		return nil, err
	}
	c.evict(ctx, todoID)
	return tasks, nil
}

func (c *Cache) DeleteTask(ctx context.Context, todoID, taskID string) (*domain.Task, int, error) {
	task, remaining, err := c.base.DeleteTask(ctx, todoID, taskID)
	if err != nil {
		return nil, 0, err
	}
	c.evict(ctx, todoID)
	return task, remaining, nil
}

func (c *Cache) loadTodoFromCache(ctx context.Context, todoID string) (*domain.Todo, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, todoCacheKey(todoID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, todoCacheKey(todoID)).Err()
		}
		return nil, false
	}
	var todo domain.Todo
	if err := json.Unmarshal(data, &todo); err != nil {
		_ = c.redis.Del(ctx, todoCacheKey(todoID)).Err()
		return nil, false
	}
	return &todo, true
}

func (c *Cache) loadTasksFromCache(ctx context.Context, todoID string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey(todoID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			_ = c.redis.Del(ctx, tasksCacheKey(todoID)).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey(todoID)).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) storeTodo(ctx context.Context, todoID string, todo domain.Todo) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(todo)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, todoCacheKey(todoID), data, c.ttl).Err()
}

func (c *Cache) storeTasks(ctx context.Context, todoID string, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, tasksCacheKey(todoID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, todoID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, todoCacheKey(todoID), tasksCacheKey(todoID)).Result()
}

func todoCacheKey(todoID string) string {
	return "todo:" + todoID
}

func tasksCacheKey(todoID string) string {
	return "tasks:" + todoID
}
