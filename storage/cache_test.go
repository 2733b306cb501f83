package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"tasksync/domain"
)

type stubBackend struct {
	getTodoFn     func(ctx context.Context, todoID string) (*domain.Todo, error)
	fetchTasksFn  func(ctx context.Context, todoID string) ([]domain.Task, error)
	insertTaskFn  func(ctx context.Context, task domain.Task) error
	updateTaskFn  func(ctx context.Context, todoID string, edit domain.TaskEdit, now time.Time) (*domain.Task, error)
	bulkUpdateFn  func(ctx context.Context, todoID string, edits []domain.TaskEdit, now time.Time) ([]domain.Task, error)
	deleteTaskFn  func(ctx context.Context, todoID, taskID string) (*domain.Task, int, error)
	updateTodoFn  func(ctx context.Context, todo domain.Todo) error
	updateStatFn  func(ctx context.Context, todoID string, status domain.Status, now time.Time) error
}

func (s *stubBackend) GetTodo(ctx context.Context, todoID string) (*domain.Todo, error) {
	if s.getTodoFn == nil {
		return nil, errors.New("unexpected GetTodo call")
	}
	return s.getTodoFn(ctx, todoID)
}

func (s *stubBackend) FetchTasks(ctx context.Context, todoID string) ([]domain.Task, error) {
	if s.fetchTasksFn == nil {
		return nil, errors.New("unexpected FetchTasks call")
	}
	return s.fetchTasksFn(ctx, todoID)
}

func (s *stubBackend) InsertTask(ctx context.Context, task domain.Task) error {
	if s.insertTaskFn == nil {
		return errors.New("unexpected InsertTask call")
	}
	return s.insertTaskFn(ctx, task)
}

func (s *stubBackend) UpdateTask(ctx context.Context, todoID string, edit domain.TaskEdit, now time.Time) (*domain.Task, error) {
	if s.updateTaskFn == nil {
		return nil, errors.New("unexpected UpdateTask call")
	}
	return s.updateTaskFn(ctx, todoID, edit, now)
}

func (s *stubBackend) BulkUpdateTasks(ctx context.Context, todoID string, edits []domain.TaskEdit, now time.Time) ([]domain.Task, error) {
	if s.bulkUpdateFn == nil {
		return nil, errors.New("unexpected BulkUpdateTasks call")
	}
	return s.bulkUpdateFn(ctx, todoID, edits, now)
}

func (s *stubBackend) DeleteTask(ctx context.Context, todoID, taskID string) (*domain.Task, int, error) {
	if s.deleteTaskFn == nil {
		return nil, 0, errors.New("unexpected DeleteTask call")
	}
	return s.deleteTaskFn(ctx, todoID, taskID)
}

func (s *stubBackend) UpdateTodo(ctx context.Context, todo domain.Todo) error {
	if s.updateTodoFn == nil {
		return errors.New("unexpected UpdateTodo call")
	}
	return s.updateTodoFn(ctx, todo)
}

func (s *stubBackend) UpdateTodoStatus(ctx context.Context, todoID string, status domain.Status, now time.Time) error {
	if s.updateStatFn == nil {
		return errors.New("unexpected UpdateTodoStatus call")
	}
	return s.updateStatFn(ctx, todoID, status, now)
}

func newCacheRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCacheFetchTasksMissThenHit(t *testing.T) {
	mr, client := newCacheRedis(t)

	ctx := context.Background()
	todoID := "doc-1"
	expected := []domain.Task{{ID: "t1", Name: "Write code", TodoListID: todoID}}

	var calls int
	cache := NewCache(&stubBackend{
		fetchTasksFn: func(ctx context.Context, id string) ([]domain.Task, error) {
			calls++
			if id != todoID {
				t.Fatalf("unexpected todo id: %s", id)
			}
			return append([]domain.Task(nil), expected...), nil
		},
	}, client, time.Minute)

	tasks, err := cache.FetchTasks(ctx, todoID)
	if err != nil {
		t.Fatalf("fetch tasks: %v", err)
	}
	if !reflect.DeepEqual(tasks, expected) {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call to backend, got %d", calls)
	}
	if ttl := mr.TTL(tasksCacheKey(todoID)); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}

	cached, err := cache.FetchTasks(ctx, todoID)
	if err != nil {
		t.Fatalf("fetch cached tasks: %v", err)
	}
	if !reflect.DeepEqual(cached, expected) {
		t.Fatalf("unexpected cached tasks: %#v", cached)
	}
	if calls != 1 {
		t.Fatalf("expected cached fetch to avoid backend, calls=%d", calls)
	}
}

func TestCacheGetTodoMissThenHit(t *testing.T) {
	mr, client := newCacheRedis(t)

	ctx := context.Background()
	todoID := "doc-todo"
	expected := domain.Todo{ID: todoID, Name: "Groceries", Status: domain.StatusInProgress}

	var calls int
	cache := NewCache(&stubBackend{
		getTodoFn: func(ctx context.Context, id string) (*domain.Todo, error) {
			calls++
			td := expected
			return &td, nil
		},
	}, client, time.Minute)

	todo, err := cache.GetTodo(ctx, todoID)
	if err != nil {
		t.Fatalf("get todo: %v", err)
	}
	if todo == nil || todo.Name != expected.Name {
		t.Fatalf("unexpected todo: %#v", todo)
	}
	if !mr.Exists(todoCacheKey(todoID)) {
		t.Fatal("expected todo cached after fetch")
	}

	if _, err := cache.GetTodo(ctx, todoID); err != nil {
		t.Fatalf("cached get: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected cached fetch to avoid backend, calls=%d", calls)
	}
}

func TestCacheGetTodoMissingNotCached(t *testing.T) {
	mr, client := newCacheRedis(t)

	cache := NewCache(&stubBackend{
		getTodoFn: func(context.Context, string) (*domain.Todo, error) { return nil, nil },
	}, client, time.Minute)

	todo, err := cache.GetTodo(context.Background(), "gone")
	if err != nil {
		t.Fatalf("get todo: %v", err)
	}
	if todo != nil {
		t.Fatalf("expected nil todo, got %#v", todo)
	}
	if mr.Exists(todoCacheKey("gone")) {
		t.Fatal("missing todo must not be cached")
	}
}

func TestCacheMutationsEvictDocumentKeys(t *testing.T) {
	mr, client := newCacheRedis(t)

	ctx := context.Background()
	todoID := "evict-doc"
	seed := func() {
		if err := client.Set(ctx, todoCacheKey(todoID), []byte("{}"), time.Hour).Err(); err != nil {
			t.Fatalf("seed todo cache: %v", err)
		}
		if err := client.Set(ctx, tasksCacheKey(todoID), []byte("[]"), time.Hour).Err(); err != nil {
			t.Fatalf("seed tasks cache: %v", err)
		}
	}
	assertEvicted := func(op string) {
		t.Helper()
		if mr.Exists(todoCacheKey(todoID)) || mr.Exists(tasksCacheKey(todoID)) {
			t.Fatalf("%s should evict document keys", op)
		}
	}

	task := &domain.Task{ID: "t1", TodoListID: todoID}
	cache := NewCache(&stubBackend{
		insertTaskFn: func(context.Context, domain.Task) error { return nil },
		updateTaskFn: func(context.Context, string, domain.TaskEdit, time.Time) (*domain.Task, error) {
			return task, nil
		},
		bulkUpdateFn: func(context.Context, string, []domain.TaskEdit, time.Time) ([]domain.Task, error) {
			return []domain.Task{*task}, nil
		},
		deleteTaskFn: func(context.Context, string, string) (*domain.Task, int, error) {
			return task, 0, nil
		},
		updateTodoFn: func(context.Context, domain.Todo) error { return nil },
		updateStatFn: func(context.Context, string, domain.Status, time.Time) error { return nil },
	}, client, time.Minute)

	seed()
	if err := cache.InsertTask(ctx, *task); err != nil {
		t.Fatalf("insert: %v", err)
	}
	assertEvicted("InsertTask")

	seed()
	if _, err := cache.UpdateTask(ctx, todoID, domain.TaskEdit{ID: "t1"}, time.Now()); err != nil {
		t.Fatalf("update: %v", err)
	}
	assertEvicted("UpdateTask")

	seed()
	if _, err := cache.BulkUpdateTasks(ctx, todoID, []domain.TaskEdit{{ID: "t1"}}, time.Now()); err != nil {
		t.Fatalf("bulk update: %v", err)
	}
	assertEvicted("BulkUpdateTasks")

	seed()
	if _, _, err := cache.DeleteTask(ctx, todoID, "t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	assertEvicted("DeleteTask")

	seed()
	if err := cache.UpdateTodo(ctx, domain.Todo{ID: todoID}); err != nil {
		t.Fatalf("update todo: %v", err)
	}
	assertEvicted("UpdateTodo")

	seed()
	if err := cache.UpdateTodoStatus(ctx, todoID, domain.StatusDone, time.Now()); err != nil {
		t.Fatalf("update status: %v", err)
	}
	assertEvicted("UpdateTodoStatus")
}

func TestCacheMutationErrorPreservesCache(t *testing.T) {
	mr, client := newCacheRedis(t)

	ctx := context.Background()
	todoID := "error-doc"
	if err := client.Set(ctx, tasksCacheKey(todoID), []byte("[]"), time.Hour).Err(); err != nil {
		t.Fatalf("seed tasks cache: %v", err)
	}

	cache := NewCache(&stubBackend{
		insertTaskFn: func(context.Context, domain.Task) error { return errors.New("boom") },
	}, client, time.Minute)

	if err := cache.InsertTask(ctx, domain.Task{ID: "t1", TodoListID: todoID}); err == nil {
		t.Fatal("expected insert error")
	}
	if !mr.Exists(tasksCacheKey(todoID)) {
		t.Fatal("cache should remain on error")
	}
}

func TestCacheCorruptEntryFallsThrough(t *testing.T) {
	mr, client := newCacheRedis(t)

	ctx := context.Background()
	todoID := "corrupt-doc"
	if err := client.Set(ctx, tasksCacheKey(todoID), []byte("not json"), time.Hour).Err(); err != nil {
		t.Fatalf("seed corrupt cache: %v", err)
	}

	expected := []domain.Task{{ID: "t1", TodoListID: todoID}}
	cache := NewCache(&stubBackend{
		fetchTasksFn: func(context.Context, string) ([]domain.Task, error) {
			return append([]domain.Task(nil), expected...), nil
		},
	}, client, time.Minute)

	tasks, err := cache.FetchTasks(ctx, todoID)
	if err != nil {
		t.Fatalf("fetch tasks: %v", err)
	}
	if !reflect.DeepEqual(tasks, expected) {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
	if got, _ := mr.Get(tasksCacheKey(todoID)); got == "not json" {
		t.Fatal("corrupt entry should have been replaced")
	}
}

func TestCacheNilRedisPassesThrough(t *testing.T) {
	expected := []domain.Task{{ID: "t1"}}
	var calls int
	cache := NewCache(&stubBackend{
		fetchTasksFn: func(context.Context, string) ([]domain.Task, error) {
			calls++
			return append([]domain.Task(nil), expected...), nil
		},
	}, nil, time.Minute)

	for i := 0; i < 2; i++ {
		tasks, err := cache.FetchTasks(context.Background(), "doc")
		if err != nil {
			t.Fatalf("fetch tasks: %v", err)
		}
		if !reflect.DeepEqual(tasks, expected) {
			t.Fatalf("unexpected tasks: %#v", tasks)
		}
	}
	if calls != 2 {
		t.Fatalf("expected every fetch to hit backend, calls=%d", calls)
	}
}
