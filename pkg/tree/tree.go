// Package tree implements the reverse-tree overlay used to aggregate
// step-complete messages from a step's participating nodes up to the
// controller (§4.3), instead of every node fan-in-reporting directly.
package tree

// DefaultFanout is the default number of direct children per overlay
// node. Chosen as a modest fixed width; nothing in the credential or
// launch path depends on a specific value, so it is configurable per
// Overlay.
const DefaultFanout = 16

// Overlay describes one node's position within the reverse-tree computed
// for a step's participant count. Rank 0 is always the subtree root that
// speaks to the controller.
type Overlay struct {
	Rank       int
	ParentRank int // -1 for the root
	Children   []int
	Depth      int // distance from the root
	MaxDepth   int // height of the subtree rooted at this rank
	fanout     int
	nodeCount  int
}

// Compute builds the Overlay for the node at the given rank, out of
// nodeCount total participants arranged in a fanout-ary tree in rank
// order (rank 0 is the root, ranks 1..fanout are its children, and so
// on level by level).
func Compute(rank, nodeCount, fanout int) Overlay {
	if fanout <= 0 {
		fanout = DefaultFanout
	}

	parent := -1
	if rank > 0 {
		parent = (rank - 1) / fanout
	}

	var children []int
	first := rank*fanout + 1
	for c := first; c < first+fanout && c < nodeCount; c++ {
		children = append(children, c)
	}

	depth := 0
	for r := rank; r > 0; r = (r - 1) / fanout {
		depth++
	}

	return Overlay{
		Rank:       rank,
		ParentRank: parent,
		Children:   children,
		Depth:      depth,
		MaxDepth:   subtreeHeight(rank, nodeCount, fanout),
		fanout:     fanout,
		nodeCount:  nodeCount,
	}
}

func subtreeHeight(rank, nodeCount, fanout int) int {
	first := rank*fanout + 1
	if first >= nodeCount {
		return 0
	}
	maxChildHeight := 0
	for c := first; c < first+fanout && c < nodeCount; c++ {
		h := subtreeHeight(c, nodeCount, fanout)
		if h > maxChildHeight {
			maxChildHeight = h
		}
	}
	return maxChildHeight + 1
}

// IsRoot reports whether this overlay position is the subtree root that
// speaks directly to the controller.
func (o Overlay) IsRoot() bool { return o.ParentRank < 0 }

// IsLeaf reports whether this overlay position has no children.
func (o Overlay) IsLeaf() bool { return len(o.Children) == 0 }
