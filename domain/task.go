package domain

import "time"

// Status is the derived lifecycle of a todo list. It is denormalized from
// the completion state of the list's tasks, never edited independently by
// the sync engine.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
	StatusArchived   Status = "archived"
)

// Permission controls what collaborators may do with a shared todo list.
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
)

// Task is one actionable item, possibly nested under another task of the
// same list via ParentTaskID.
type Task struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Completed    bool      `json:"completed"`
	ParentTaskID string    `json:"parentTaskId,omitempty"`
	TodoListID   string    `json:"todoListId"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// TaskEdit is one partial patch of a bulk edit request. Nil fields are left
// untouched.
type TaskEdit struct {
	ID           string  `json:"id"`
	Name         *string `json:"name,omitempty"`
	Completed    *bool   `json:"completed,omitempty"`
	ParentTaskID *string `json:"parentTaskId,omitempty"`
}

// Node is a task together with its reconstructed children. The nested form
// is derived at read time; the flat record set stays the source of truth.
type Node struct {
	Task
	Children []*Node `json:"children"`
}

// Todo is a named task list and the unit of collaboration.
type Todo struct {
	ID                     string     `json:"id"`
	Name                   string     `json:"name"`
	Description            string     `json:"description,omitempty"`
	Status                 Status     `json:"status"`
	CollaboratorPermission Permission `json:"collaboratorPermission"`
	OwnerID                string     `json:"userId"`
	CreatedAt              time.Time  `json:"createdAt"`
	UpdatedAt              time.Time  `json:"updatedAt"`
}

// TodoWithTasks is the document value served to clients: the todo row plus
// its task forest.
type TodoWithTasks struct {
	Todo
	Tasks []*Node `json:"tasks"`
}
