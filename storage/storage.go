package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"tasksync/domain"
)

// Azure table transactions accept at most 100 actions per batch.
const maxBatchSize = 100

// ErrBatchTooLarge is returned when a bulk edit or cascade delete exceeds
// the table transaction limit.
var ErrBatchTooLarge = errors.New("storage: batch exceeds transaction limit")

// Storage persists todos and tasks in Azure Table Storage. Tasks are
// partitioned by their todo list id so every bulk mutation of one document
// fits a single transactional batch.
type Storage struct {
	todoTable *aztables.Client
	taskTable *aztables.Client
}

// New creates a Storage instance from the given connection string.
func New(connStr, todosTable, tasksTable string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{
		todoTable: svc.NewClient(todosTable),
		taskTable: svc.NewClient(tasksTable),
	}, nil
}

type todoEntity struct {
	aztables.Entity
	Name                   string `json:"Name"`
	Description            string `json:"Description"`
	Status                 string `json:"Status"`
	CollaboratorPermission string `json:"CollaboratorPermission"`
	OwnerID                string `json:"OwnerId"`
	CreatedAt              int64  `json:"CreatedAt"`
	UpdatedAt              int64  `json:"UpdatedAt"`
}

type taskEntity struct {
	aztables.Entity
	Name         string `json:"Name"`
	Completed    bool   `json:"Completed"`
	ParentTaskID string `json:"ParentTaskId"`
	CreatedAt    int64  `json:"CreatedAt"`
	UpdatedAt    int64  `json:"UpdatedAt"`
}

func (e todoEntity) toDomain() domain.Todo {
	return domain.Todo{
		ID:                     e.RowKey,
		Name:                   e.Name,
		Description:            e.Description,
		Status:                 domain.Status(e.Status),
		CollaboratorPermission: domain.Permission(e.CollaboratorPermission),
		OwnerID:                e.OwnerID,
		CreatedAt:              time.UnixMilli(e.CreatedAt).UTC(),
		UpdatedAt:              time.UnixMilli(e.UpdatedAt).UTC(),
	}
}

func (e taskEntity) toDomain() domain.Task {
	return domain.Task{
		ID:           e.RowKey,
		Name:         e.Name,
		Completed:    e.Completed,
		ParentTaskID: e.ParentTaskID,
		TodoListID:   e.PartitionKey,
		CreatedAt:    time.UnixMilli(e.CreatedAt).UTC(),
		UpdatedAt:    time.UnixMilli(e.UpdatedAt).UTC(),
	}
}

func taskToEntity(t domain.Task) taskEntity {
	return taskEntity{
		Entity:       aztables.Entity{PartitionKey: t.TodoListID, RowKey: t.ID},
		Name:         t.Name,
		Completed:    t.Completed,
		ParentTaskID: t.ParentTaskID,
		CreatedAt:    t.CreatedAt.UnixMilli(),
		UpdatedAt:    t.UpdatedAt.UnixMilli(),
	}
}

// GetTodo retrieves a todo list if present; a missing row yields (nil, nil).
func (s *Storage) GetTodo(ctx context.Context, todoID string) (*domain.Todo, error) {
	ent, err := s.todoTable.GetEntity(ctx, todoID, todoID, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return nil, nil
		}
		return nil, err
	}
	var te todoEntity
	if err := json.Unmarshal(ent.Value, &te); err != nil {
		return nil, err
	}
	todo := te.toDomain()
	return &todo, nil
}

// UpdateTodo merges the todo's editable fields into its row.
func (s *Storage) UpdateTodo(ctx context.Context, todo domain.Todo) error {
	ent := todoEntity{
		Entity:                 aztables.Entity{PartitionKey: todo.ID, RowKey: todo.ID},
		Name:                   todo.Name,
		Description:            todo.Description,
		Status:                 string(todo.Status),
		CollaboratorPermission: string(todo.CollaboratorPermission),
		OwnerID:                todo.OwnerID,
		CreatedAt:              todo.CreatedAt.UnixMilli(),
		UpdatedAt:              todo.UpdatedAt.UnixMilli(),
	}
	payload, err := json.Marshal(ent)
	if err == nil {
		et := azcore.ETagAny
		_, err = s.todoTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	}
	return err
}

// UpdateTodoStatus writes the derived status of a todo list.
func (s *Storage) UpdateTodoStatus(ctx context.Context, todoID string, status domain.Status, now time.Time) error {
	ent := map[string]any{
		"PartitionKey": todoID,
		"RowKey":       todoID,
		"Status":       string(status),
		"UpdatedAt":    now.UnixMilli(),
	}
	payload, err := json.Marshal(ent)
	if err == nil {
		et := azcore.ETagAny
		_, err = s.todoTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	}
	return err
}

// FetchTasks retrieves the flat task set of one todo list in insertion
// order (creation time, then id, since table listing is keyed by RowKey).
func (s *Storage) FetchTasks(ctx context.Context, todoID string) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + todoID + "'"
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			tasks = append(tasks, ent.toDomain())
		}
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
	return tasks, nil
}

// InsertTask adds a new task row.
func (s *Storage) InsertTask(ctx context.Context, task domain.Task) error {
	payload, err := json.Marshal(taskToEntity(task))
	if err == nil {
		_, err = s.taskTable.AddEntity(ctx, payload, nil)
	}
	return err
}

// UpdateTask merges one partial edit into a task row and returns the
// updated task; a missing row yields (nil, nil).
func (s *Storage) UpdateTask(ctx context.Context, todoID string, edit domain.TaskEdit, now time.Time) (*domain.Task, error) {
	ent, err := s.taskTable.GetEntity(ctx, todoID, edit.ID, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return nil, nil
		}
		return nil, err
	}
	var te taskEntity
	if err := json.Unmarshal(ent.Value, &te); err != nil {
		return nil, err
	}
	applyEdit(&te, edit, now)

	payload, err := json.Marshal(te)
	if err != nil {
		return nil, err
	}
	et := azcore.ETagAny
	if _, err := s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge}); err != nil {
		return nil, err
	}
	task := te.toDomain()
	return &task, nil
}

// BulkUpdateTasks applies every edit whose id resolves to an existing task
// of the document in one transactional batch and returns the updated tasks
// in edit order. Edits referencing unknown tasks are skipped, matching the
// per-row behavior of UpdateTask.
func (s *Storage) BulkUpdateTasks(ctx context.Context, todoID string, edits []domain.TaskEdit, now time.Time) ([]domain.Task, error) {
	if len(edits) > maxBatchSize {
		return nil, fmt.Errorf("%w: %d edits", ErrBatchTooLarge, len(edits))
	}

	existing, err := s.FetchTasks(ctx, todoID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Task, len(existing))
	for _, t := range existing {
		byID[t.ID] = t
	}

	updated := make([]domain.Task, 0, len(edits))
	actions := make([]aztables.TransactionAction, 0, len(edits))
	et := azcore.ETagAny
	for _, edit := range edits {
		task, ok := byID[edit.ID]
		if !ok {
			continue
		}
		te := taskToEntity(task)
		applyEdit(&te, edit, now)

		payload, err := json.Marshal(te)
		if err != nil {
			return nil, err
		}
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeUpdateMerge,
			Entity:     payload,
			IfMatch:    &et,
		})
		updated = append(updated, te.toDomain())
	}
	if len(actions) == 0 {
		return updated, nil
	}
	if _, err := s.taskTable.SubmitTransaction(ctx, actions, nil); err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteTask removes a task and all of its descendants in one transactional
// batch. It returns the deleted task and the number of tasks remaining in
// the document; a missing task yields (nil, 0, nil).
func (s *Storage) DeleteTask(ctx context.Context, todoID, taskID string) (*domain.Task, int, error) {
	tasks, err := s.FetchTasks(ctx, todoID)
	if err != nil {
		return nil, 0, err
	}

	var target *domain.Task
	children := make(map[string][]string, len(tasks))
	for i := range tasks {
		if tasks[i].ID == taskID {
			target = &tasks[i]
		}
		if p := tasks[i].ParentTaskID; p != "" {
			children[p] = append(children[p], tasks[i].ID)
		}
	}
	if target == nil {
		return nil, 0, nil
	}

	doomed := []string{taskID}
	for i := 0; i < len(doomed); i++ {
		doomed = append(doomed, children[doomed[i]]...)
	}
	if len(doomed) > maxBatchSize {
		return nil, 0, fmt.Errorf("%w: %d rows", ErrBatchTooLarge, len(doomed))
	}

	et := azcore.ETagAny
	actions := make([]aztables.TransactionAction, 0, len(doomed))
	for _, id := range doomed {
		payload, err := json.Marshal(aztables.Entity{PartitionKey: todoID, RowKey: id})
		if err != nil {
			return nil, 0, err
		}
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeDelete,
			Entity:     payload,
			IfMatch:    &et,
		})
	}
	if _, err := s.taskTable.SubmitTransaction(ctx, actions, nil); err != nil {
		return nil, 0, err
	}
	return target, len(tasks) - len(doomed), nil
}

func applyEdit(te *taskEntity, edit domain.TaskEdit, now time.Time) {
	if edit.Name != nil {
		te.Name = *edit.Name
	}
	if edit.Completed != nil {
		te.Completed = *edit.Completed
	}
	if edit.ParentTaskID != nil {
		te.ParentTaskID = *edit.ParentTaskID
	}
	te.UpdatedAt = now.UnixMilli()
}
