package domain

// BuildTaskTree reconstructs the nested forest from a flat task list.
//
// A task whose ParentTaskID resolves to another task in the input becomes a
// child of that task; everything else becomes a root, including tasks whose
// declared parent is absent from the input (the parent may have been deleted
// or the caller may hold a partial set). Sibling order at every level is the
// input order. The function never mutates its input and is deterministic:
// identical input yields a structurally identical forest.
//
// Cyclic parent chains are not detected; each task only ever looks up its
// direct parent, so a cycle cannot loop the builder, but the members of a
// genuine cycle are unreachable from the returned roots. Cycles are rejected
// at write time instead (see the task handlers).
func BuildTaskTree(tasks []Task) []*Node {
	nodes := make(map[string]*Node, len(tasks))
	for _, t := range tasks {
		nodes[t.ID] = &Node{Task: t, Children: []*Node{}}
	}

	roots := []*Node{}
	for _, t := range tasks {
		current := nodes[t.ID]
		if t.ParentTaskID != "" {
			if parent, ok := nodes[t.ParentTaskID]; ok {
				parent.Children = append(parent.Children, current)
				continue
			}
		}
		roots = append(roots, current)
	}
	return roots
}

// Flatten returns the forest's tasks in depth-first order: each task before
// its children, siblings in tree order. Rebuilding the result reproduces the
// forest.
func Flatten(forest []*Node) []Task {
	out := make([]Task, 0, Count(forest))
	var walk func(nodes []*Node)
	walk = func(nodes []*Node) {
		for _, n := range nodes {
			out = append(out, n.Task)
			walk(n.Children)
		}
	}
	walk(forest)
	return out
}

// Count reports the total number of tasks in the forest across all depths.
func Count(forest []*Node) int {
	total := 0
	for _, n := range forest {
		total += 1 + Count(n.Children)
	}
	return total
}
