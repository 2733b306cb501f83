package client

import (
	"sync"

	"tasksync/domain"
)

// Store caches one immutable document snapshot per todo list. Mutations
// never modify a snapshot in place: they build a new forest by copying only
// the spine from the changed node up to its root, so untouched subtrees
// keep pointer identity across versions and consumers can diff by pointer.
type Store struct {
	mu   sync.RWMutex
	docs map[string]*domain.TodoWithTasks
}

func NewStore() *Store {
	return &Store{docs: make(map[string]*domain.TodoWithTasks)}
}

// Get returns the current snapshot of a document, if cached.
func (s *Store) Get(todoID string) (*domain.TodoWithTasks, bool) {
	s.mu.RLock()
	doc, ok := s.docs[todoID]
	s.mu.RUnlock()
	return doc, ok
}

// Set replaces the document snapshot.
func (s *Store) Set(todoID string, doc *domain.TodoWithTasks) {
	s.mu.Lock()
	s.docs[todoID] = doc
	s.mu.Unlock()
}

// Remove drops the document from the cache.
func (s *Store) Remove(todoID string) {
	s.mu.Lock()
	delete(s.docs, todoID)
	s.mu.Unlock()
}

// Update atomically swaps the snapshot through fn. It reports false when
// the document is not cached; fn returning nil leaves the snapshot as is.
func (s *Store) Update(todoID string, fn func(*domain.TodoWithTasks) *domain.TodoWithTasks) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[todoID]
	if !ok {
		return false
	}
	if next := fn(doc); next != nil {
		s.docs[todoID] = next
	}
	return true
}

func withTasks(doc *domain.TodoWithTasks, tasks []*domain.Node) *domain.TodoWithTasks {
	next := *doc
	next.Tasks = tasks
	return &next
}

// InsertTask returns a snapshot with the task attached under its parent.
// A task whose parent is not in the forest surfaces as a new root.
func InsertTask(doc *domain.TodoWithTasks, task domain.Task) *domain.TodoWithTasks {
	node := &domain.Node{Task: task}
	if task.ParentTaskID != "" {
		if tasks, ok := insertUnder(doc.Tasks, task.ParentTaskID, node); ok {
			return withTasks(doc, tasks)
		}
	}
	tasks := append(append([]*domain.Node{}, doc.Tasks...), node)
	return withTasks(doc, tasks)
}

// UpdateTask returns a snapshot with patch applied to one task. The
// original snapshot is returned untouched when the task is absent.
func UpdateTask(doc *domain.TodoWithTasks, taskID string, patch func(domain.Task) domain.Task) *domain.TodoWithTasks {
	tasks, ok := updateAt(doc.Tasks, taskID, patch)
	if !ok {
		return doc
	}
	return withTasks(doc, tasks)
}

// BulkUpdateTasks returns a snapshot with every edit applied in one walk,
// whatever depth the targets live at. Subtrees without an edited task are
// shared with the previous snapshot.
func BulkUpdateTasks(doc *domain.TodoWithTasks, edits []domain.TaskEdit) *domain.TodoWithTasks {
	byID := make(map[string]domain.TaskEdit, len(edits))
	for _, e := range edits {
		byID[e.ID] = e
	}
	tasks, changed := bulkApply(doc.Tasks, byID)
	if !changed {
		return doc
	}
	return withTasks(doc, tasks)
}

// RemoveTask returns a snapshot without the task and its whole subtree.
func RemoveTask(doc *domain.TodoWithTasks, taskID string) *domain.TodoWithTasks {
	tasks, ok := removeAt(doc.Tasks, taskID)
	if !ok {
		return doc
	}
	return withTasks(doc, tasks)
}

func insertUnder(nodes []*domain.Node, parentID string, child *domain.Node) ([]*domain.Node, bool) {
	for i, n := range nodes {
		if n.ID == parentID {
			next := *n
			next.Children = append(append([]*domain.Node{}, n.Children...), child)
			out := append([]*domain.Node{}, nodes...)
			out[i] = &next
			return out, true
		}
		if kids, ok := insertUnder(n.Children, parentID, child); ok {
			next := *n
			next.Children = kids
			out := append([]*domain.Node{}, nodes...)
			out[i] = &next
			return out, true
		}
	}
	return nodes, false
}

func updateAt(nodes []*domain.Node, taskID string, patch func(domain.Task) domain.Task) ([]*domain.Node, bool) {
	for i, n := range nodes {
		if n.ID == taskID {
			next := *n
			next.Task = patch(n.Task)
			out := append([]*domain.Node{}, nodes...)
			out[i] = &next
			return out, true
		}
		if kids, ok := updateAt(n.Children, taskID, patch); ok {
			next := *n
			next.Children = kids
			out := append([]*domain.Node{}, nodes...)
			out[i] = &next
			return out, true
		}
	}
	return nodes, false
}

func bulkApply(nodes []*domain.Node, edits map[string]domain.TaskEdit) ([]*domain.Node, bool) {
	changed := false
	out := nodes
	for i, n := range nodes {
		kids, kidsChanged := bulkApply(n.Children, edits)
		edit, selfChanged := edits[n.ID]
		if !kidsChanged && !selfChanged {
			continue
		}
		if !changed {
			out = append([]*domain.Node{}, nodes...)
			changed = true
		}
		next := *n
		next.Children = kids
		if selfChanged {
			applyTaskEdit(&next.Task, edit)
		}
		out[i] = &next
	}
	return out, changed
}

func removeAt(nodes []*domain.Node, taskID string) ([]*domain.Node, bool) {
	for i, n := range nodes {
		if n.ID == taskID {
			out := append([]*domain.Node{}, nodes[:i]...)
			return append(out, nodes[i+1:]...), true
		}
		if kids, ok := removeAt(n.Children, taskID); ok {
			next := *n
			next.Children = kids
			out := append([]*domain.Node{}, nodes...)
			out[i] = &next
			return out, true
		}
	}
	return nodes, false
}

func applyTaskEdit(t *domain.Task, edit domain.TaskEdit) {
	if edit.Name != nil {
		t.Name = *edit.Name
	}
	if edit.Completed != nil {
		t.Completed = *edit.Completed
	}
	if edit.ParentTaskID != nil {
		t.ParentTaskID = *edit.ParentTaskID
	}
}
