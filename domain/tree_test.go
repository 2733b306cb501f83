package domain

import (
	"reflect"
	"testing"
)

func flat(id, parent string) Task {
	return Task{ID: id, Name: "task " + id, ParentTaskID: parent, TodoListID: "list"}
}

func TestBuildTaskTreeNestsResolvedParents(t *testing.T) {
	forest := BuildTaskTree([]Task{
		flat("A", ""),
		flat("B", "A"),
		flat("C", "Z"),
	})

	if len(forest) != 2 {
		t.Fatalf("expected 2 roots, got %d", len(forest))
	}
	if forest[0].ID != "A" || forest[1].ID != "C" {
		t.Fatalf("unexpected roots: %s, %s", forest[0].ID, forest[1].ID)
	}
	if len(forest[0].Children) != 1 || forest[0].Children[0].ID != "B" {
		t.Fatalf("expected B under A, got %#v", forest[0].Children)
	}
	if len(forest[1].Children) != 0 {
		t.Fatalf("orphan root C should have no children, got %d", len(forest[1].Children))
	}
}

func TestBuildTaskTreePreservesInputOrderPerLevel(t *testing.T) {
	forest := BuildTaskTree([]Task{
		flat("r2", ""),
		flat("c3", "r1"),
		flat("r1", ""),
		flat("c1", "r1"),
		flat("c2", "r1"),
	})

	if len(forest) != 2 || forest[0].ID != "r2" || forest[1].ID != "r1" {
		t.Fatalf("root order should match input order, got %#v", forest)
	}
	kids := forest[1].Children
	if len(kids) != 3 || kids[0].ID != "c3" || kids[1].ID != "c1" || kids[2].ID != "c2" {
		t.Fatalf("child order should match input order, got %#v", kids)
	}
}

func TestBuildTaskTreeNodeCountMatchesInput(t *testing.T) {
	inputs := [][]Task{
		nil,
		{flat("a", "")},
		{flat("a", ""), flat("b", "a"), flat("c", "b"), flat("d", "a")},
		{flat("a", "missing"), flat("b", "missing"), flat("c", "")},
	}
	for _, in := range inputs {
		forest := BuildTaskTree(in)
		if got := Count(forest); got != len(in) {
			t.Fatalf("expected %d nodes, got %d for input %#v", len(in), got, in)
		}
	}
}

func TestBuildTaskTreeIsPureAndDeterministic(t *testing.T) {
	input := []Task{flat("a", ""), flat("b", "a"), flat("c", "a")}
	snapshot := make([]Task, len(input))
	copy(snapshot, input)

	first := BuildTaskTree(input)
	second := BuildTaskTree(input)

	if !reflect.DeepEqual(input, snapshot) {
		t.Fatal("builder mutated its input")
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("repeated builds are not structurally identical")
	}
}

func TestFlattenRebuildRoundTrip(t *testing.T) {
	forest := BuildTaskTree([]Task{
		flat("a", ""),
		flat("b", "a"),
		flat("c", "b"),
		flat("d", ""),
		flat("e", "d"),
		flat("orphan", "gone"),
	})

	rebuilt := BuildTaskTree(Flatten(forest))
	if !reflect.DeepEqual(forest, rebuilt) {
		t.Fatalf("flatten/rebuild changed the forest:\n%#v\nvs\n%#v", forest, rebuilt)
	}
}

func TestBuildTaskTreeCycleDoesNotLoop(t *testing.T) {
	// A and B reference each other; neither can surface as a root, but the
	// builder must still terminate and keep unrelated tasks intact.
	forest := BuildTaskTree([]Task{
		flat("a", "b"),
		flat("b", "a"),
		flat("c", ""),
	})

	if len(forest) != 1 || forest[0].ID != "c" {
		t.Fatalf("expected only c as root, got %#v", forest)
	}
}
