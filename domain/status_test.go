package domain

import "testing"

func TestNextStatus(t *testing.T) {
	done := Task{ID: "a", Completed: true}
	open := Task{ID: "b"}

	cases := []struct {
		name  string
		tasks []Task
		want  Status
	}{
		{"empty list reverts to todo", nil, StatusTodo},
		{"all complete is done", []Task{done, {ID: "c", Completed: true}}, StatusDone},
		{"partially complete is in progress", []Task{done, open}, StatusInProgress},
		{"single open task is in progress", []Task{open}, StatusInProgress},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NextStatus(tc.tasks); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}
