package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"tasksync/domain"
)

const (
	requestBodyMaxSize = 64 << 10
	maxBulkEditSize    = 100
)

var (
	errUnknownParent = errors.New("unknown parent task")
	errInvalidParent = errors.New("parent would create a cycle")
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, auth Authenticator, pub Publisher, logger *log.Logger) {
	e.GET("/api/todos/:todoId/tasks", getTodoTree(store, auth, logger))
	e.PUT("/api/todos/:todoId", updateTodo(store, auth, pub))
	e.POST("/api/todos/:todoId/tasks", createTask(store, auth, pub))
	e.PUT("/api/todos/:todoId/tasks/bulk-edit", bulkEditTasks(store, auth, pub))
	e.PUT("/api/todos/:todoId/tasks/:taskId", editTask(store, auth, pub))
	e.DELETE("/api/todos/:todoId/tasks/:taskId", deleteTask(store, auth, pub))
	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func canRead(todo *domain.Todo, userID string) bool {
	if todo.OwnerID == userID {
		return true
	}
	return todo.CollaboratorPermission == domain.PermissionRead ||
		todo.CollaboratorPermission == domain.PermissionWrite
}

func canWrite(todo *domain.Todo, userID string) bool {
	return todo.OwnerID == userID || todo.CollaboratorPermission == domain.PermissionWrite
}

type requestScope struct {
	userID string
	todo   *domain.Todo
}

// resolveScope authenticates the caller and loads the addressed todo,
// enforcing the permission model. A nil scope means the response has
// already been written.
func resolveScope(c echo.Context, store Storage, auth Authenticator, needWrite bool) (*requestScope, error) {
	userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
	if err != nil {
		return nil, c.String(http.StatusUnauthorized, err.Error())
	}
	todo, err := store.GetTodo(c.Request().Context(), c.Param("todoId"))
	if err != nil {
		c.Logger().Error(err)
		return nil, c.String(http.StatusInternalServerError, err.Error())
	}
	if todo == nil {
		return nil, c.String(http.StatusNotFound, "todo not found")
	}
	if needWrite {
		if !canWrite(todo, userID) {
			return nil, c.String(http.StatusForbidden, "write access denied")
		}
	} else if !canRead(todo, userID) {
		return nil, c.String(http.StatusForbidden, "read access denied")
	}
	return &requestScope{userID: userID, todo: todo}, nil
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, requestBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func publishEvent(c echo.Context, pub Publisher, todoID, eventType string, data any) {
	ev, err := domain.NewEvent(eventType, data)
	if err != nil {
		c.Logger().Errorf("encode %s event: %v", eventType, err)
		return
	}
	if err := pub.Publish(c.Request().Context(), domain.Topic(todoID), ev); err != nil {
		c.Logger().Errorf("publish %s: %v", eventType, err)
	}
}

// syncTodoStatus re-derives the document status from its task set after a
// mutation and persists + announces the change when it differs.
func syncTodoStatus(c echo.Context, store Storage, pub Publisher, todo *domain.Todo, now time.Time) {
	if todo.Status == domain.StatusArchived {
		return
	}
	tasks, err := store.FetchTasks(c.Request().Context(), todo.ID)
	if err != nil {
		c.Logger().Errorf("status recompute fetch: %v", err)
		return
	}
	applyTodoStatus(c, store, pub, todo, domain.NextStatus(tasks), now)
}

// applyTodoStatus persists + announces a derived status change. Archived
// documents keep their status until a user changes it explicitly.
func applyTodoStatus(c echo.Context, store Storage, pub Publisher, todo *domain.Todo, next domain.Status, now time.Time) {
	if todo.Status == domain.StatusArchived || next == todo.Status {
		return
	}
	if err := store.UpdateTodoStatus(c.Request().Context(), todo.ID, next, now); err != nil {
		c.Logger().Errorf("status update: %v", err)
		return
	}
	todo.Status = next
	todo.UpdatedAt = now
	publishEvent(c, pub, todo.ID, domain.EventTodoUpdated, todo)
}

func getTodoTree(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newTreeRequestMetrics(ctx, logger)
		if spanCtx != nil {
			req := c.Request().WithContext(spanCtx)
			c.SetRequest(req)
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		userID, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		fetchStart := time.Now()
		todo, fetchErr := store.GetTodo(ctx, c.Param("todoId"))
		if fetchErr != nil {
			metrics.ObserveFetch(time.Since(fetchStart))
			metrics.SetErrorStage("storage")
			c.Logger().Error(fetchErr)
			err = c.String(http.StatusInternalServerError, fetchErr.Error())
			return err
		}
		if todo == nil {
			metrics.ObserveFetch(time.Since(fetchStart))
			metrics.SetErrorStage("not_found")
			err = c.String(http.StatusNotFound, "todo not found")
			return err
		}
		if !canRead(todo, userID) {
			metrics.ObserveFetch(time.Since(fetchStart))
			metrics.SetErrorStage("forbidden")
			err = c.String(http.StatusForbidden, "read access denied")
			return err
		}

		tasks, fetchErr := store.FetchTasks(ctx, todo.ID)
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(fetchErr)
			err = c.String(http.StatusInternalServerError, fetchErr.Error())
			return err
		}
		metrics.SetTaskCount(len(tasks))

		buildStart := time.Now()
		forest := domain.BuildTaskTree(tasks)
		metrics.ObserveBuild(time.Since(buildStart))

		err = c.JSON(http.StatusOK, domain.TodoWithTasks{Todo: *todo, Tasks: forest})
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

type todoPatch struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
}

var validStatuses = map[domain.Status]struct{}{
	domain.StatusTodo:       {},
	domain.StatusInProgress: {},
	domain.StatusDone:       {},
	domain.StatusArchived:   {},
}

func updateTodo(store Storage, auth Authenticator, pub Publisher) echo.HandlerFunc {
	return func(c echo.Context) error {
		scope, err := resolveScope(c, store, auth, true)
		if scope == nil {
			return err
		}

		var patch todoPatch
		if err := decodeBody(c, &patch); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if patch.Name == nil && patch.Description == nil && patch.Status == nil {
			return c.String(http.StatusBadRequest, "empty update")
		}

		todo := *scope.todo
		if patch.Name != nil {
			todo.Name = *patch.Name
		}
		if patch.Description != nil {
			todo.Description = *patch.Description
		}
		if patch.Status != nil {
			status := domain.Status(*patch.Status)
			if _, ok := validStatuses[status]; !ok {
				return c.String(http.StatusBadRequest, "invalid status")
			}
			todo.Status = status
		}
		todo.UpdatedAt = time.Now().UTC()

		if err := store.UpdateTodo(c.Request().Context(), todo); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		publishEvent(c, pub, todo.ID, domain.EventTodoUpdated, todo)
		return c.JSON(http.StatusOK, todo)
	}
}

type taskCreateRequest struct {
	Name         string `json:"name"`
	ParentTaskID string `json:"parentTaskId"`
}

func createTask(store Storage, auth Authenticator, pub Publisher) echo.HandlerFunc {
	return func(c echo.Context) error {
		scope, err := resolveScope(c, store, auth, true)
		if scope == nil {
			return err
		}
		ctx := c.Request().Context()

		var req taskCreateRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if req.Name == "" {
			return c.String(http.StatusBadRequest, "name is required")
		}

		if req.ParentTaskID != "" {
			tasks, err := store.FetchTasks(ctx, scope.todo.ID)
			if err != nil {
				c.Logger().Error(err)
				return c.String(http.StatusInternalServerError, err.Error())
			}
			if !taskExists(tasks, req.ParentTaskID) {
				return c.String(http.StatusBadRequest, "unknown parent task")
			}
		}

		now := time.Now().UTC()
		task := domain.Task{
			ID:           uuid.NewString(),
			Name:         req.Name,
			ParentTaskID: req.ParentTaskID,
			TodoListID:   scope.todo.ID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := store.InsertTask(ctx, task); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		publishEvent(c, pub, scope.todo.ID, domain.EventTaskCreated, task)
		syncTodoStatus(c, store, pub, scope.todo, now)
		return c.JSON(http.StatusCreated, task)
	}
}

type taskEditRequest struct {
	Name         *string `json:"name"`
	Completed    *bool   `json:"completed"`
	ParentTaskID *string `json:"parentTaskId"`
}

func editTask(store Storage, auth Authenticator, pub Publisher) echo.HandlerFunc {
	return func(c echo.Context) error {
		scope, err := resolveScope(c, store, auth, true)
		if scope == nil {
			return err
		}
		ctx := c.Request().Context()
		taskID := c.Param("taskId")

		var req taskEditRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if req.Name == nil && req.Completed == nil && req.ParentTaskID == nil {
			return c.String(http.StatusBadRequest, "empty edit")
		}

		var tasks []domain.Task
		if req.Completed != nil || (req.ParentTaskID != nil && *req.ParentTaskID != "") {
			tasks, err = store.FetchTasks(ctx, scope.todo.ID)
			if err != nil {
				c.Logger().Error(err)
				return c.String(http.StatusInternalServerError, err.Error())
			}
		}
		if req.ParentTaskID != nil && *req.ParentTaskID != "" {
			if err := validateParent(tasks, taskID, *req.ParentTaskID); err != nil {
				return c.String(http.StatusBadRequest, err.Error())
			}
		}

		now := time.Now().UTC()
		if req.Completed != nil {
			batch := domain.ExpandCompletion(domain.BuildTaskTree(tasks), taskID, *req.Completed)
			if batch == nil {
				return c.String(http.StatusNotFound, "task not found")
			}
			edits := make([]domain.TaskEdit, len(batch))
			for i := range batch {
				edits[i] = domain.TaskEdit{ID: batch[i].ID, Completed: &batch[i].Completed}
			}
			edits[0].Name = req.Name
			edits[0].ParentTaskID = req.ParentTaskID

			updated, err := store.BulkUpdateTasks(ctx, scope.todo.ID, edits, now)
			if err != nil {
				c.Logger().Error(err)
				return c.String(http.StatusInternalServerError, err.Error())
			}
			if len(updated) == 1 {
				publishEvent(c, pub, scope.todo.ID, domain.EventTaskUpdated, updated[0])
			} else {
				publishEvent(c, pub, scope.todo.ID, domain.EventTaskBulkUpdated, updated)
			}
			syncTodoStatus(c, store, pub, scope.todo, now)
			return c.JSON(http.StatusOK, updated)
		}

		edit := domain.TaskEdit{ID: taskID, Name: req.Name, ParentTaskID: req.ParentTaskID}
		task, err := store.UpdateTask(ctx, scope.todo.ID, edit, now)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		if task == nil {
			return c.String(http.StatusNotFound, "task not found")
		}
		publishEvent(c, pub, scope.todo.ID, domain.EventTaskUpdated, *task)
		return c.JSON(http.StatusOK, []domain.Task{*task})
	}
}

type bulkEditEntry struct {
	ID           string  `json:"id"`
	Name         *string `json:"name"`
	Completed    *bool   `json:"completed"`
	ParentTaskID *string `json:"parentTaskId"`
}

func bulkEditTasks(store Storage, auth Authenticator, pub Publisher) echo.HandlerFunc {
	return func(c echo.Context) error {
		scope, err := resolveScope(c, store, auth, true)
		if scope == nil {
			return err
		}

		entries := make([]bulkEditEntry, 0, 4)
		if err := decodeBody(c, &entries); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if len(entries) == 0 {
			return c.String(http.StatusBadRequest, "empty batch")
		}
		if len(entries) > maxBulkEditSize {
			return c.String(http.StatusBadRequest, "batch too large")
		}

		edits := make([]domain.TaskEdit, len(entries))
		seen := make(map[string]struct{}, len(entries))
		for i, entry := range entries {
			// One malformed entry rejects the whole batch so a partial apply
			// can never masquerade as success. Duplicate ids would put two
			// actions on the same row in the storage transaction.
			if entry.ID == "" {
				return c.String(http.StatusBadRequest, "every edit needs an id")
			}
			if _, dup := seen[entry.ID]; dup {
				return c.String(http.StatusBadRequest, "duplicate task id")
			}
			seen[entry.ID] = struct{}{}
			edits[i] = domain.TaskEdit{
				ID:           entry.ID,
				Name:         entry.Name,
				Completed:    entry.Completed,
				ParentTaskID: entry.ParentTaskID,
			}
		}

		now := time.Now().UTC()
		updated, err := store.BulkUpdateTasks(c.Request().Context(), scope.todo.ID, edits, now)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		publishEvent(c, pub, scope.todo.ID, domain.EventTaskBulkUpdated, updated)
		syncTodoStatus(c, store, pub, scope.todo, now)
		return c.JSON(http.StatusOK, updated)
	}
}

func deleteTask(store Storage, auth Authenticator, pub Publisher) echo.HandlerFunc {
	return func(c echo.Context) error {
		scope, err := resolveScope(c, store, auth, true)
		if scope == nil {
			return err
		}

		task, remaining, err := store.DeleteTask(c.Request().Context(), scope.todo.ID, c.Param("taskId"))
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		if task == nil {
			return c.String(http.StatusNotFound, "task not found")
		}
		publishEvent(c, pub, scope.todo.ID, domain.EventTaskDeleted, *task)
		now := time.Now().UTC()
		if remaining == 0 {
			// The delete already told us the list emptied, no refetch needed.
			applyTodoStatus(c, store, pub, scope.todo, domain.StatusTodo, now)
		} else {
			syncTodoStatus(c, store, pub, scope.todo, now)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func taskExists(tasks []domain.Task, id string) bool {
	for i := range tasks {
		if tasks[i].ID == id {
			return true
		}
	}
	return false
}

// validateParent rejects reparenting onto a missing task or into the task's
// own subtree, which would detach the chain from every root.
func validateParent(tasks []domain.Task, taskID, parentID string) error {
	if parentID == taskID {
		return errInvalidParent
	}
	if !taskExists(tasks, parentID) {
		return errUnknownParent
	}
	children := make(map[string][]string, len(tasks))
	for i := range tasks {
		if p := tasks[i].ParentTaskID; p != "" {
			children[p] = append(children[p], tasks[i].ID)
		}
	}
	subtree := []string{taskID}
	for i := 0; i < len(subtree); i++ {
		for _, child := range children[subtree[i]] {
			if child == parentID {
				return errInvalidParent
			}
			subtree = append(subtree, child)
		}
	}
	return nil
}
