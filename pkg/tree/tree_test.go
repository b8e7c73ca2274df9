package tree

import "testing"

func TestComputeRootSingleNode(t *testing.T) {
	o := Compute(0, 1, 4)
	if !o.IsRoot() {
		t.Fatal("rank 0 must be root")
	}
	if !o.IsLeaf() {
		t.Fatal("single-node step must degenerate to a leaf root")
	}
	if o.MaxDepth != 0 {
		t.Fatalf("MaxDepth = %d, want 0", o.MaxDepth)
	}
}

func TestComputeFanout(t *testing.T) {
	// 10 nodes, fanout 3: rank 0 has children 1,2,3.
	root := Compute(0, 10, 3)
	if len(root.Children) != 3 {
		t.Fatalf("root children = %v, want 3 entries", root.Children)
	}
	for i, want := range []int{1, 2, 3} {
		if root.Children[i] != want {
			t.Fatalf("root.Children[%d] = %d, want %d", i, root.Children[i], want)
		}
	}

	child := Compute(1, 10, 3)
	if child.ParentRank != 0 {
		t.Fatalf("child.ParentRank = %d, want 0", child.ParentRank)
	}
	if child.Depth != 1 {
		t.Fatalf("child.Depth = %d, want 1", child.Depth)
	}
}

func TestComputeLeafHasNoChildren(t *testing.T) {
	leaf := Compute(9, 10, 3)
	if !leaf.IsLeaf() {
		t.Fatalf("rank 9 of 10 nodes (fanout 3) should be a leaf, got children %v", leaf.Children)
	}
}
