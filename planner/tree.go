// Package planner implements a best-first kinodynamic tree search producing
// drivable waypoint sequences. The search itself knows nothing about the map
// representation; all terrain and kinematics queries go through the Domain
// oracle set.
package planner

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/spatialmath"
)

// heuristicSlack absorbs floating point noise in the consistency audit.
const heuristicSlack = 1e-9

// Node is a single pose candidate in the search tree.
type Node struct {
	// The orientation of the pose and the direction may differ because of
	// the kinematic constraints of the robot.
	pose      spatialmath.Pose
	direction float64
	depth     int
	cost      float64
	heuristic float64

	positionTolerance float64
	headingTolerance  float64

	parent   *Node
	children []*Node
}

// NewNode returns a node at the given pose reached by driving towards the
// given direction.
func NewNode(pose spatialmath.Pose, direction float64) *Node {
	return &Node{pose: pose, direction: direction}
}

// Pose returns the pose of the node.
func (n *Node) Pose() spatialmath.Pose { return n.pose }

// Direction returns the heading chosen on the edge leading into this node,
// in radians.
func (n *Node) Direction() float64 { return n.direction }

// Depth returns the number of edges between the node and the root.
func (n *Node) Depth() int { return n.depth }

// IsRoot reports whether the node has no parent.
func (n *Node) IsRoot() bool { return n.parent == nil }

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return len(n.children) == 0 }

// Parent returns the parent node, nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// Cost returns the accumulated cost from the root to this node.
func (n *Node) Cost() float64 { return n.cost }

// SetCost sets the accumulated cost from the root to this node.
func (n *Node) SetCost(value float64) { n.cost = value }

// Heuristic returns the estimated remaining cost from this node to the goal.
func (n *Node) Heuristic() float64 { return n.heuristic }

// SetHeuristic sets the estimated remaining cost to the goal.
func (n *Node) SetHeuristic(value float64) { n.heuristic = value }

// HeuristicCost returns cost plus heuristic, the best-first ordering key.
func (n *Node) HeuristicCost() float64 { return n.cost + n.heuristic }

// PositionTolerance returns how far the robot may deviate from the node
// position, in meters.
func (n *Node) PositionTolerance() float64 { return n.positionTolerance }

// SetPositionTolerance sets the position tolerance in meters.
func (n *Node) SetPositionTolerance(tol float64) { n.positionTolerance = tol }

// HeadingTolerance returns how far the robot may deviate from the node
// heading, in radians.
func (n *Node) HeadingTolerance() float64 { return n.headingTolerance }

// SetHeadingTolerance sets the heading tolerance in radians.
func (n *Node) SetHeadingTolerance(tol float64) { n.headingTolerance = tol }

// Tree owns the nodes produced during one search run. Nodes hold non-owning
// parent links; removing a node reclaims its whole subtree.
type Tree struct {
	root *Node
	// A tree might get quite big, in which case recounting the nodes is
	// really not efficient. Since it is trivial to keep the size up to
	// date, just do it.
	size int
}

// NewTree returns an empty tree.
func NewTree() *Tree { return &Tree{} }

// Root returns the root node, nil for an empty tree.
func (t *Tree) Root() *Node { return t.root }

// Size returns the number of live nodes.
func (t *Tree) Size() int { return t.size }

// SetRoot clears the tree and installs a new root node.
func (t *Tree) SetRoot(root *Node) {
	t.root = root
	t.size = 0
	if root != nil {
		root.parent = nil
		root.depth = 0
		t.size = 1
	}
}

// Clear drops every node.
func (t *Tree) Clear() {
	t.root = nil
	t.size = 0
}

// AddChild attaches child below parent.
func (t *Tree) AddChild(parent, child *Node) {
	child.parent = parent
	child.depth = parent.depth + 1
	parent.children = append(parent.children, child)
	t.size++
}

// RemoveChild detaches child from parent and reclaims the entire subtree
// rooted at child.
func (t *Tree) RemoveChild(parent, child *Node) {
	for i, c := range parent.children {
		if c == child {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			t.size -= subtreeSize(child)
			child.parent = nil
			return
		}
	}
}

func subtreeSize(n *Node) int {
	size := 1
	for _, c := range n.children {
		size += subtreeSize(c)
	}
	return size
}

// Nodes returns every live node in depth-first order starting at the root.
func (t *Tree) Nodes() []*Node {
	if t.root == nil {
		return nil
	}
	nodes := make([]*Node, 0, t.size)
	var walk func(*Node)
	walk = func(n *Node) {
		nodes = append(nodes, n)
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(t.root)
	return nodes
}

// Waypoint is a single step of a planned trajectory.
type Waypoint struct {
	Position          r3.Vector
	Heading           float64
	PositionTolerance float64
	HeadingTolerance  float64
}

// BuildTrajectoryTo walks the parent links from the given leaf back to the
// root and returns the corresponding waypoint sequence, root first.
func (t *Tree) BuildTrajectoryTo(leaf *Node) []Waypoint {
	var reversed []Waypoint
	for n := leaf; n != nil; n = n.parent {
		reversed = append(reversed, Waypoint{
			Position:          n.pose.Point(),
			Heading:           headingOf(n.pose),
			PositionTolerance: n.positionTolerance,
			HeadingTolerance:  n.headingTolerance,
		})
	}
	waypoints := make([]Waypoint, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		waypoints = append(waypoints, reversed[i])
	}
	return waypoints
}

// VerifyHeuristicConsistency audits the ancestor chain of the given node for
// heuristic consistency: h(parent) <= c(parent, child) + h(child) must hold
// on every edge, with the edge cost recovered from the accumulated node
// costs. A violation means the user-supplied heuristic or cost oracle is
// broken; it is reported, not recovered.
func (t *Tree) VerifyHeuristicConsistency(from *Node) error {
	var err error
	for n := from; n.parent != nil; n = n.parent {
		edgeCost := n.cost - n.parent.cost
		if n.parent.heuristic > edgeCost+n.heuristic+heuristicSlack {
			err = multierr.Append(err, errors.Errorf(
				"inconsistent heuristic on edge into depth %d: h(parent)=%f > edge=%f + h(child)=%f",
				n.depth, n.parent.heuristic, edgeCost, n.heuristic))
		}
	}
	return err
}

func headingOf(pose spatialmath.Pose) float64 {
	return pose.Orientation().EulerAngles().Yaw
}
