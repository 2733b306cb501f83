package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"tasksync/domain"
)

// APIError carries a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.StatusCode, e.Message)
}

// HTTPBackend implements Backend against the task API.
type HTTPBackend struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPBackend creates a backend for the API at baseURL authenticating
// with the given bearer token. A nil client falls back to
// http.DefaultClient.
func NewHTTPBackend(baseURL, token string, client *http.Client) *HTTPBackend {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

func (b *HTTPBackend) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := sonic.ConfigStd.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+b.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	return sonic.ConfigStd.NewDecoder(resp.Body).Decode(out)
}

func (b *HTTPBackend) FetchTodo(ctx context.Context, todoID string) (*domain.TodoWithTasks, error) {
	var doc domain.TodoWithTasks
	if err := b.do(ctx, http.MethodGet, "/api/todos/"+todoID+"/tasks", nil, &doc); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &doc, nil
}

func (b *HTTPBackend) CreateTask(ctx context.Context, todoID string, create TaskCreate) (*domain.Task, error) {
	var task domain.Task
	if err := b.do(ctx, http.MethodPost, "/api/todos/"+todoID+"/tasks", create, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (b *HTTPBackend) EditTask(ctx context.Context, todoID, taskID string, patch TaskPatch) ([]domain.Task, error) {
	var updated []domain.Task
	if err := b.do(ctx, http.MethodPut, "/api/todos/"+todoID+"/tasks/"+taskID, patch, &updated); err != nil {
		return nil, err
	}
	return updated, nil
}

func (b *HTTPBackend) BulkEditTasks(ctx context.Context, todoID string, edits []domain.TaskEdit) ([]domain.Task, error) {
	var updated []domain.Task
	if err := b.do(ctx, http.MethodPut, "/api/todos/"+todoID+"/tasks/bulk-edit", edits, &updated); err != nil {
		return nil, err
	}
	return updated, nil
}

func (b *HTTPBackend) DeleteTask(ctx context.Context, todoID, taskID string) (*domain.Task, error) {
	var task domain.Task
	if err := b.do(ctx, http.MethodDelete, "/api/todos/"+todoID+"/tasks/"+taskID, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}
