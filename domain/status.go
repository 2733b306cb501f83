package domain

// NextStatus derives a todo list's status from its flat task set after a
// mutation: an empty list is back to "todo", a fully completed list is
// "done", anything in between is "in-progress".
func NextStatus(tasks []Task) Status {
	if len(tasks) == 0 {
		return StatusTodo
	}
	for _, t := range tasks {
		if !t.Completed {
			return StatusInProgress
		}
	}
	return StatusDone
}
