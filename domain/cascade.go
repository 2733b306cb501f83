package domain

// CompletionEdit is one entry of an expanded completion change.
type CompletionEdit struct {
	ID        string
	Completed bool
}

// ExpandCompletion turns a single checkbox toggle into the batch of
// completion edits implied by the task hierarchy:
//
//   - checking a task checks its whole subtree, and additionally checks an
//     ancestor when every one of that ancestor's other descendants is already
//     complete or is being completed in the same batch;
//   - unchecking a task unchecks the task, its whole subtree and all of its
//     ancestors, since a list item cannot count as complete while a
//     descendant is explicitly open.
//
// This is the optimistic client-side mirror of the server's status rule; the
// server recomputes authoritative state independently and the client
// reconciles on refetch, so the two may disagree for a moment.
// The target appears first in the returned batch, then its descendants in
// tree order, then affected ancestors bottom-up. An unknown taskID yields a
// nil batch.
func ExpandCompletion(forest []*Node, taskID string, completed bool) []CompletionEdit {
	nodes := make(map[string]*Node)
	parents := make(map[string]string)
	var index func(ns []*Node, parentID string)
	index = func(ns []*Node, parentID string) {
		for _, n := range ns {
			nodes[n.ID] = n
			parents[n.ID] = parentID
			index(n.Children, n.ID)
		}
	}
	index(forest, "")

	target, ok := nodes[taskID]
	if !ok {
		return nil
	}

	var batch []CompletionEdit
	marked := make(map[string]bool)
	add := func(id string, done bool) {
		if _, dup := marked[id]; dup {
			return
		}
		marked[id] = done
		batch = append(batch, CompletionEdit{ID: id, Completed: done})
	}

	var markSubtree func(n *Node, done bool)
	markSubtree = func(n *Node, done bool) {
		add(n.ID, done)
		for _, c := range n.Children {
			markSubtree(c, done)
		}
	}

	if !completed {
		markSubtree(target, false)
		for pid := parents[taskID]; pid != ""; pid = parents[pid] {
			add(pid, false)
		}
		return batch
	}

	markSubtree(target, true)

	for pid := parents[taskID]; pid != ""; pid = parents[pid] {
		if !descendantsComplete(nodes[pid], marked) {
			break
		}
		add(pid, true)
	}
	return batch
}

// descendantsComplete reports whether every descendant of n is complete once
// the pending batch values in marked are applied.
func descendantsComplete(n *Node, marked map[string]bool) bool {
	for _, c := range n.Children {
		done, pending := marked[c.ID]
		if pending && !done {
			return false
		}
		if !pending && !c.Completed {
			return false
		}
		if !descendantsComplete(c, marked) {
			return false
		}
	}
	return true
}
